package model

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// StepPhase identifies which phase of a leg a shell step belongs to.
// Every leg runs its install phase to completion before the script phase
// starts; a failure in either phase stops the leg.
type StepPhase string

const (
	// PhaseInstall covers dependency installation steps. A non-zero exit
	// here marks the leg as errored rather than failed, mirroring the
	// usual CI distinction between broken setup and broken tests.
	PhaseInstall StepPhase = "install"

	// PhaseScript covers the test/script steps that run after install.
	// A non-zero exit here marks the leg as failed.
	PhaseScript StepPhase = "script"
)

// String returns the string representation of StepPhase.
func (p StepPhase) String() string {
	return string(p)
}

// IsValid checks whether the StepPhase value is one of the defined phases.
func (p StepPhase) IsValid() bool {
	switch p {
	case PhaseInstall, PhaseScript:
		return true
	default:
		return false
	}
}

// LegStatus represents the terminal state of a single matrix leg.
// The state transitions are:
//
//	[Scheduled] → Passed | Failed | Errored
//	[Scheduled] → Skipped (run aborted before the leg started)
type LegStatus string

const (
	// LegPassed indicates every install and script step exited zero.
	LegPassed LegStatus = "passed"

	// LegFailed indicates a script step exited non-zero. Remaining steps
	// in the leg are skipped; there are no retries.
	LegFailed LegStatus = "failed"

	// LegErrored indicates an install step exited non-zero, or the leg
	// could not be executed at all (missing image, backend failure).
	LegErrored LegStatus = "errored"

	// LegSkipped indicates the leg never ran, either because the run was
	// cancelled by an earlier failure or because a selector excluded it.
	LegSkipped LegStatus = "skipped"
)

// String returns the string representation of LegStatus.
func (s LegStatus) String() string {
	return string(s)
}

// IsValid checks whether the LegStatus value is one of the defined states.
func (s LegStatus) IsValid() bool {
	switch s {
	case LegPassed, LegFailed, LegErrored, LegSkipped:
		return true
	default:
		return false
	}
}

// ParseLegStatus converts a string to a LegStatus.
// Returns an error if the string does not match any valid status.
func ParseLegStatus(s string) (LegStatus, error) {
	status := LegStatus(strings.ToLower(s))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid leg status: %q (valid: passed, failed, errored, skipped)", s)
	}
	return status, nil
}

// RunStatus represents the aggregate outcome of one `cibox run` invocation.
type RunStatus string

const (
	// RunPassed indicates every counted leg passed. Legs flagged
	// allow-failure are excluded from the verdict.
	RunPassed RunStatus = "passed"

	// RunFailed indicates at least one counted leg failed.
	RunFailed RunStatus = "failed"

	// RunErrored indicates at least one counted leg errored. Errored
	// outranks failed when both occur.
	RunErrored RunStatus = "errored"

	// RunSkipped indicates no leg executed, typically because the branch
	// allow-list vetoed the build.
	RunSkipped RunStatus = "skipped"
)

// String returns the string representation of RunStatus.
func (s RunStatus) String() string {
	return string(s)
}

// IsValid checks whether the RunStatus value is one of the defined states.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunPassed, RunFailed, RunErrored, RunSkipped:
		return true
	default:
		return false
	}
}

// ParseRunStatus converts a string to a RunStatus.
// Returns an error if the string does not match any valid status.
func ParseRunStatus(s string) (RunStatus, error) {
	status := RunStatus(strings.ToLower(s))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid run status: %q (valid: passed, failed, errored, skipped)", s)
	}
	return status, nil
}

// ExecBackend selects how matrix legs are executed.
type ExecBackend string

const (
	// BackendShell runs steps directly on the host via `sh -c`.
	BackendShell ExecBackend = "shell"

	// BackendDocker runs each leg inside its own container, using the
	// image resolved for the leg's language/version/dist.
	BackendDocker ExecBackend = "docker"
)

// String returns the string representation of ExecBackend.
func (b ExecBackend) String() string {
	return string(b)
}

// IsValid checks whether the ExecBackend value is one of the defined backends.
func (b ExecBackend) IsValid() bool {
	switch b {
	case BackendShell, BackendDocker:
		return true
	default:
		return false
	}
}

// ParseExecBackend converts a string to an ExecBackend.
// Returns an error if the string does not match any valid backend.
func ParseExecBackend(s string) (ExecBackend, error) {
	backend := ExecBackend(strings.ToLower(s))
	if !backend.IsValid() {
		return "", fmt.Errorf("invalid backend: %q (valid: shell, docker)", s)
	}
	return backend, nil
}

// EnvVar is a single KEY=VALUE environment variable carried by a leg.
// Env vars are kept as an ordered slice rather than a map so leg identity
// and output stay deterministic across runs.
type EnvVar struct {
	// Key is the variable name. Must be a valid shell identifier.
	Key string `json:"key"`

	// Value is the raw value, with surrounding quotes already stripped.
	Value string `json:"value"`
}

// String returns the KEY=VALUE form of the variable.
func (v EnvVar) String() string {
	return v.Key + "=" + v.Value
}

// envKeyRegex validates environment variable names: letters, digits and
// underscores, not starting with a digit.
var envKeyRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateEnvKey checks whether name is a well-formed environment variable
// name. The empty string is rejected.
func ValidateEnvKey(name string) error {
	if name == "" {
		return fmt.Errorf("environment variable name must not be empty")
	}
	if !envKeyRegex.MatchString(name) {
		return fmt.Errorf("invalid environment variable name %q: must match %s", name, envKeyRegex.String())
	}
	return nil
}

// ParseEnvVar splits a KEY=VALUE string into an EnvVar, stripping one level
// of matching single or double quotes from the value. Entries without "="
// or with an invalid key are rejected.
func ParseEnvVar(s string) (EnvVar, error) {
	key, value, found := strings.Cut(s, "=")
	if !found {
		return EnvVar{}, fmt.Errorf("invalid environment entry %q: expected KEY=VALUE", s)
	}
	if err := ValidateEnvKey(key); err != nil {
		return EnvVar{}, fmt.Errorf("invalid environment entry %q: %w", s, err)
	}
	return EnvVar{Key: key, Value: unquote(value)}, nil
}

// unquote strips one level of matching single or double quotes.
// A lone quote or mismatched pair is returned unchanged.
func unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '\'' || first == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// MergeEnv combines ordered env var slices. Later slices win on key
// collision; first-seen order of surviving keys is preserved so that leg
// names and output stay stable.
func MergeEnv(sets ...[]EnvVar) []EnvVar {
	index := make(map[string]int)
	var merged []EnvVar

	for _, set := range sets {
		for _, v := range set {
			if i, ok := index[v.Key]; ok {
				merged[i].Value = v.Value
				continue
			}
			index[v.Key] = len(merged)
			merged = append(merged, v)
		}
	}

	return merged
}

// EnvStrings renders env vars as KEY=VALUE strings in order, the form both
// exec.Cmd.Env and the Docker API expect.
func EnvStrings(vars []EnvVar) []string {
	out := make([]string, 0, len(vars))
	for _, v := range vars {
		out = append(out, v.String())
	}
	return out
}

// SnapAddon describes one entry of an `addons.snaps` list. cibox records
// the request on the leg and surfaces it in output; installing snaps is the
// leg's own install steps' business.
type SnapAddon struct {
	// Name is the snap package name.
	Name string `json:"name"`

	// Classic requests classic confinement (`--classic`).
	Classic bool `json:"classic,omitempty"`

	// Confinement is an explicit confinement mode ("classic", "devmode").
	// At most one of Classic and Confinement may be set.
	Confinement string `json:"confinement,omitempty"`
}

// Leg is one concrete job produced by matrix expansion: a single
// language/version/env combination with fully resolved step sequences.
//
// Every leg resolves to exactly one install sequence and one script
// sequence. Include legs that declare their own install or script replace
// the shared defaults entirely; they never merge.
type Leg struct {
	// Index is the position of the leg in expansion order, starting at 1.
	// Axis-product legs come first in declaration order, then include legs
	// in file order.
	Index int `json:"index"`

	// Name is the human-readable leg identifier, derived from language,
	// version and the leg's own env entry. Never configured directly.
	Name string `json:"name"`

	// Language is the leg's language, inherited from the top level unless
	// the include leg overrides it.
	Language string `json:"language"`

	// Version is the interpreter version for this leg ("3.6", "3.8-dev",
	// "pypy3"). Empty for legs of versionless languages.
	Version string `json:"version,omitempty"`

	// Dist is the execution image hint ("xenial", "focal"). Empty means
	// the runtime default.
	Dist string `json:"dist,omitempty"`

	// Env is the merged, ordered environment for the leg: global env first,
	// then the leg's axis or include entry, later keys winning.
	Env []EnvVar `json:"env,omitempty"`

	// Install is the resolved install phase, one shell command per entry.
	Install []string `json:"install"`

	// Script is the resolved script phase, one shell command per entry.
	Script []string `json:"script"`

	// Snaps carries the leg's addons.snaps requests, if any.
	Snaps []SnapAddon `json:"snaps,omitempty"`

	// AllowFailure marks legs whose failure does not fail the run.
	AllowFailure bool `json:"allowFailure,omitempty"`
}

// Identity returns a stable string identifying the leg's matrix coordinates
// (language, version, dist, env). Two legs with equal identity are
// duplicates; exclude patterns match against these coordinates.
func (l *Leg) Identity() string {
	parts := []string{"language=" + l.Language}
	if l.Version != "" {
		parts = append(parts, "version="+l.Version)
	}
	if l.Dist != "" {
		parts = append(parts, "dist="+l.Dist)
	}
	if len(l.Env) > 0 {
		// Env order does not change identity; sort a copy for stability.
		env := EnvStrings(l.Env)
		sort.Strings(env)
		parts = append(parts, "env="+strings.Join(env, ","))
	}
	return strings.Join(parts, " ")
}

// StepResult records the outcome of a single shell step within a leg.
type StepResult struct {
	// Phase is the phase the step belongs to.
	Phase StepPhase `json:"phase"`

	// Command is the shell command that was run.
	Command string `json:"command"`

	// ExitCode is the process exit code. Zero means success. The value is
	// meaningless when Skipped is true.
	ExitCode int `json:"exitCode"`

	// Skipped is true for steps that never ran because an earlier step in
	// the same leg failed.
	Skipped bool `json:"skipped,omitempty"`

	// Duration is the wall-clock time the step took.
	Duration time.Duration `json:"duration"`
}

// LegResult records the outcome of one executed (or skipped) leg.
type LegResult struct {
	// Leg is the leg this result belongs to.
	Leg Leg `json:"leg"`

	// Status is the terminal state of the leg.
	Status LegStatus `json:"status"`

	// Steps holds per-step results in execution order, including entries
	// for steps skipped after the first failure.
	Steps []StepResult `json:"steps,omitempty"`

	// Duration is the wall-clock time for the whole leg.
	Duration time.Duration `json:"duration"`

	// Err carries an infrastructure error (image resolution, backend
	// failure) for errored legs that never produced step results.
	Err error `json:"-"`
}

// FirstFailure returns the first non-skipped step with a non-zero exit
// code, or nil if every executed step passed.
func (r *LegResult) FirstFailure() *StepResult {
	for i := range r.Steps {
		if !r.Steps[i].Skipped && r.Steps[i].ExitCode != 0 {
			return &r.Steps[i]
		}
	}
	return nil
}

// AggregateRunStatus reduces leg results to the run verdict. Legs flagged
// allow-failure never influence the verdict; errored outranks failed.
// An empty result set aggregates to RunSkipped.
func AggregateRunStatus(results []LegResult) RunStatus {
	if len(results) == 0 {
		return RunSkipped
	}

	status := RunPassed
	for _, r := range results {
		if r.Leg.AllowFailure {
			continue
		}
		switch r.Status {
		case LegErrored:
			return RunErrored
		case LegFailed:
			status = RunFailed
		}
	}
	return status
}

// RunRecord is the persisted summary of one `cibox run` invocation,
// stored by internal/history.
type RunRecord struct {
	// ID is the run's UUID.
	ID string `json:"id"`

	// PipelinePath is the definition file the run executed.
	PipelinePath string `json:"pipelinePath"`

	// Branch is the branch name the run was gated on. Empty if the gate
	// was not consulted.
	Branch string `json:"branch,omitempty"`

	// Backend is the execution backend used.
	Backend ExecBackend `json:"backend"`

	// Status is the aggregate run verdict.
	Status RunStatus `json:"status"`

	// StartedAt and FinishedAt bound the run in UTC.
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	// Legs holds the per-leg summaries, in leg index order.
	Legs []LegRecord `json:"legs,omitempty"`
}

// LegRecord is the persisted summary of one leg within a RunRecord.
type LegRecord struct {
	// Index is the leg's matrix index within the run.
	Index int `json:"index"`

	// Name is the leg's display name at the time of the run.
	Name string `json:"name"`

	// Status is the leg's terminal state.
	Status LegStatus `json:"status"`

	// ExitCode is the exit code of the first failing step, or zero.
	ExitCode int `json:"exitCode"`

	// AllowFailure records whether the leg was excluded from the verdict.
	AllowFailure bool `json:"allowFailure,omitempty"`

	// Duration is the wall-clock time the leg took.
	Duration time.Duration `json:"duration"`
}

// ExitCode defines the CLI process exit codes. Scripts and outer CI systems
// use these to distinguish outcomes without parsing output.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitPipelineNotFound indicates no pipeline definition file was found
	// at the given or probed locations.
	ExitPipelineNotFound ExitCode = 2

	// ExitDockerNotRunning indicates the Docker daemon is not accessible
	// while the docker backend (or clean command) requires it.
	ExitDockerNotRunning ExitCode = 3

	// ExitValidationFailed indicates the pipeline definition failed lint
	// checks.
	ExitValidationFailed ExitCode = 4

	// ExitGitError indicates a git invocation failed (branch detection).
	ExitGitError ExitCode = 5

	// ExitRunFailed indicates at least one counted leg failed or errored.
	ExitRunFailed ExitCode = 6

	// ExitBranchSkipped indicates the branch allow-list vetoed the build,
	// so no leg was executed.
	ExitBranchSkipped ExitCode = 7
)

// CLIError is an error that carries an exit code. The CLI layer translates
// domain errors into process exit codes through this type.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
