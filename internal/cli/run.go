// Package cli — run.go implements the "cibox run" command.
//
// The run command is the primary user-facing operation. It orchestrates
// the full workflow of executing a pipeline definition locally with
// provider-default semantics: legs run as independent parallel jobs,
// steps within a leg run sequentially, and the first non-zero exit fails
// the leg.
//
// Orchestration steps:
//  1. Load and lint the pipeline definition
//  2. Expand the build matrix into concrete legs
//  3. Apply --leg selectors and --env extras
//  4. Evaluate the branch allow-list gate
//  5. Build the execution backend (shell or docker)
//  6. Execute the legs with bounded parallelism
//  7. Record the run in the history journal
//  8. Output results (text or JSON) and map the verdict to an exit code
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Releck/cibox/internal/history"
	"github.com/Releck/cibox/internal/matrix"
	"github.com/Releck/cibox/internal/model"
	"github.com/Releck/cibox/internal/pipeline"
	"github.com/Releck/cibox/internal/runner"
	"github.com/Releck/cibox/internal/runtimes"
)

// runFlags holds the flag values for the run command.
// These are bound to cobra flags in NewRunCommand.
type runFlags struct {
	backend        string   // --backend: shell or docker
	jobs           int      // --jobs: concurrent leg limit
	legs           []string // --leg: leg selectors (index or name)
	branch         string   // --branch: branch for the allow-list gate
	noBranchGate   bool     // --no-branch-gate: skip the allow-list
	env            []string // --env: extra KEY=VALUE vars for every leg
	workdir        string   // --workdir: step working directory override
	keepContainers bool     // --keep-containers: leave leg containers up
	fastFinish     bool     // --fast-finish: cancel legs on first failure
	noHistory      bool     // --no-history: skip the run journal
}

// NewRunCommand creates the "run" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewRunCommand() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Execute the pipeline's matrix legs locally",
		Long: `Execute the pipeline definition's matrix legs locally.

Legs run as independent jobs, in parallel up to --jobs. Within a leg the
install phase runs to completion before the script phase; the first
non-zero exit fails the leg and skips its remaining steps. Legs matched
by matrix.allow_failures do not count toward the run verdict.

The branch allow-list is evaluated first, against --branch or the current
git branch. A vetoed branch skips execution and exits with code 7.

Examples:
  cibox run
  cibox run --backend docker --jobs 4
  cibox run --leg 3 --leg "python 3.7"
  cibox run --branch v1.2.3 --env GALLERYDL_TESTS=core`,

		Args: cobra.MaximumNArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), args, flags)
		},
	}

	cmd.Flags().StringVar(&flags.backend, "backend", envDefault("BACKEND", "shell"),
		"Execution backend: shell, docker (default: shell, or CIBOX_BACKEND)")
	cmd.Flags().IntVar(&flags.jobs, "jobs", envDefaultInt("JOBS", 0),
		"Maximum legs running concurrently (default: one per CPU, or CIBOX_JOBS)")
	cmd.Flags().StringArrayVar(&flags.legs, "leg", nil,
		"Run only matching legs; selector is a leg index or (partial) name, repeatable")
	cmd.Flags().StringVar(&flags.branch, "branch", "",
		"Branch for the allow-list gate (default: current git branch)")
	cmd.Flags().BoolVar(&flags.noBranchGate, "no-branch-gate", false,
		"Run regardless of the branch allow-list")
	cmd.Flags().StringArrayVar(&flags.env, "env", nil,
		"Extra KEY=VALUE environment variable for every leg, repeatable")
	cmd.Flags().StringVar(&flags.workdir, "workdir", "",
		"Working directory for steps (default: the definition's directory)")
	cmd.Flags().BoolVar(&flags.keepContainers, "keep-containers", false,
		"Leave leg containers in place for inspection (docker backend)")
	cmd.Flags().BoolVar(&flags.fastFinish, "fast-finish", false,
		"Cancel remaining legs once a counted leg fails")
	cmd.Flags().BoolVar(&flags.noHistory, "no-history", false,
		"Do not record the run in the history journal")

	return cmd
}

// runRun is the main logic function for the run command.
func runRun(ctx context.Context, args []string, flags *runFlags) error {
	// Step 1: Load the definition and refuse to run a broken one.
	def, projectDir, err := resolveDefinition(args)
	if err != nil {
		return err
	}
	if findings := pipeline.Validate(def); pipeline.HasErrors(findings) {
		printLintResult(def, findings)
		return model.NewCLIError(model.ExitValidationFailed,
			fmt.Sprintf("pipeline definition %s failed validation", def.Path))
	}

	// Validate the backend choice before anything is journaled or run,
	// so a bogus --backend never reaches the history record.
	backendKind, err := model.ParseExecBackend(flags.backend)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "invalid --backend value", err)
	}

	// Step 2: Expand the matrix.
	legs, err := matrix.Expand(def)
	if err != nil {
		return model.WrapCLIError(model.ExitValidationFailed,
			"failed to expand build matrix", err)
	}
	VerboseLog("Matrix expanded to %d legs", len(legs))

	// Step 3: Narrow to selected legs and fold in extra env vars.
	if len(flags.legs) > 0 {
		legs, err = SelectLegs(legs, flags.legs)
		if err != nil {
			return model.WrapCLIError(model.ExitGeneralError, "invalid --leg selector", err)
		}
		VerboseLog("Selected %d legs", len(legs))
	}
	if err := applyExtraEnv(legs, flags.env); err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "invalid --env value", err)
	}

	// Step 4: Branch gate. Only consulted when the definition has a
	// branches block and the gate was not disabled.
	branch := flags.branch
	if !flags.noBranchGate && def.Branches != nil {
		if branch == "" {
			branch, err = currentGitBranch()
			if err != nil {
				return model.WrapCLIError(model.ExitGitError,
					"branch gate needs a branch; pass --branch or --no-branch-gate", err)
			}
		}

		decision, err := decideBranch(def.Branches, branch)
		if err != nil {
			return model.WrapCLIError(model.ExitValidationFailed, "invalid branch rule", err)
		}
		if !decision.Allowed {
			recordSkippedRun(ctx, flags, backendKind, def, projectDir, branch)
			fmt.Printf("Skipping run: %s\n", decision.Reason)
			return model.NewCLIError(model.ExitBranchSkipped, decision.Reason)
		}
		VerboseLog("Branch gate passed: %s", decision.Reason)
	}

	// Step 5: Build the backend.
	backend, cleanup, err := buildBackend(ctx, flags, backendKind, projectDir)
	if err != nil {
		return err
	}
	defer cleanup()

	// Step 6: Execute. Leg output goes to stdout normally; in JSON mode
	// it moves to stderr so stdout stays a single JSON document.
	var output io.Writer = os.Stdout
	if IsJSONOutput() {
		output = os.Stderr
	}

	r := runner.New(runner.Options{
		Backend:    backend,
		Jobs:       flags.jobs,
		FastFinish: flags.fastFinish || def.Matrix.FastFinish,
		Output:     output,
	})

	report, runErr := r.Run(ctx, legs)

	// Step 7: Record the run, even a cancelled one. Journal problems are
	// reported but never mask the run outcome.
	if !flags.noHistory {
		record := buildRunRecord(report, def, backend.Name(), branch)
		if err := recordRun(ctx, projectDir, record); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to record run history: %v\n", err)
		}
	}

	// Step 8: Report and map the verdict to an exit code.
	printRunResult(report)

	if runErr != nil {
		return model.WrapCLIError(model.ExitGeneralError, "run aborted", runErr)
	}
	switch report.Status {
	case model.RunFailed, model.RunErrored:
		return model.NewCLIError(model.ExitRunFailed,
			fmt.Sprintf("run %s %s", report.ID, report.Status))
	default:
		return nil
	}
}

// SelectLegs filters legs by --leg selectors. A selector that parses as
// an integer matches the leg with that matrix index; anything else
// matches legs whose name contains it. A selector matching no leg is an
// error, since silently running nothing would read as success.
//
// This function is exported for testing purposes (tested in run_test.go).
func SelectLegs(legs []model.Leg, selectors []string) ([]model.Leg, error) {
	picked := make(map[int]bool)
	var selected []model.Leg

	for _, selector := range selectors {
		matched := false
		index, indexErr := strconv.Atoi(selector)

		for _, leg := range legs {
			var match bool
			if indexErr == nil {
				match = leg.Index == index
			} else {
				match = strings.Contains(leg.Name, selector)
			}
			if match && !picked[leg.Index] {
				picked[leg.Index] = true
				selected = append(selected, leg)
			}
			matched = matched || match
		}

		if !matched {
			return nil, fmt.Errorf("selector %q matches no leg", selector)
		}
	}

	// Restore matrix order regardless of selector order.
	for i := 1; i < len(selected); i++ {
		for j := i; j > 0 && selected[j-1].Index > selected[j].Index; j-- {
			selected[j-1], selected[j] = selected[j], selected[j-1]
		}
	}

	return selected, nil
}

// applyExtraEnv merges --env extras into every leg, extras winning over
// the leg's own variables.
func applyExtraEnv(legs []model.Leg, extras []string) error {
	if len(extras) == 0 {
		return nil
	}

	vars := make([]model.EnvVar, 0, len(extras))
	for _, raw := range extras {
		v, err := model.ParseEnvVar(raw)
		if err != nil {
			return err
		}
		vars = append(vars, v)
	}

	for i := range legs {
		legs[i].Env = model.MergeEnv(legs[i].Env, vars)
	}
	return nil
}

// buildBackend constructs the execution backend the flags selected. The
// returned cleanup closes backend resources and is safe to call always.
func buildBackend(ctx context.Context, flags *runFlags, backendKind model.ExecBackend, projectDir string) (runner.Backend, func(), error) {
	workdir := flags.workdir
	if workdir == "" {
		workdir = projectDir
	}

	switch backendKind {
	case model.BackendDocker:
		client, err := runner.NewClient(ctx)
		if err != nil {
			return nil, nil, model.WrapCLIError(model.ExitDockerNotRunning,
				"docker backend requires a running daemon", err)
		}

		images, err := runtimes.Load(projectDir)
		if err != nil {
			client.Close()
			return nil, nil, model.WrapCLIError(model.ExitGeneralError,
				"failed to load runtime image mapping", err)
		}

		VerboseLog("Using docker backend, project dir %s", workdir)
		backend := &runner.DockerBackend{
			Client:         client,
			Images:         images,
			ProjectDir:     workdir,
			KeepContainers: flags.keepContainers,
		}
		return backend, func() { _ = client.Close() }, nil

	default:
		VerboseLog("Using shell backend, work dir %s", workdir)
		return &runner.ShellBackend{Dir: workdir}, func() {}, nil
	}
}

// buildRunRecord converts a run report into the persisted summary form.
func buildRunRecord(report *runner.RunReport, def *pipeline.Definition, backend model.ExecBackend, branch string) model.RunRecord {
	record := model.RunRecord{
		ID:           report.ID,
		PipelinePath: def.Path,
		Branch:       branch,
		Backend:      backend,
		Status:       report.Status,
		StartedAt:    report.StartedAt,
		FinishedAt:   report.FinishedAt,
		Legs:         make([]model.LegRecord, 0, len(report.Results)),
	}

	for _, result := range report.Results {
		exitCode := 0
		if failure := result.FirstFailure(); failure != nil {
			exitCode = failure.ExitCode
		}
		record.Legs = append(record.Legs, model.LegRecord{
			Index:        result.Leg.Index,
			Name:         result.Leg.Name,
			Status:       result.Status,
			ExitCode:     exitCode,
			AllowFailure: result.Leg.AllowFailure,
			Duration:     result.Duration,
		})
	}

	return record
}

// recordSkippedRun journals a branch-vetoed run so `cibox history` shows
// the veto. Best effort only. The backend is the already-validated kind,
// never the raw flag text.
func recordSkippedRun(ctx context.Context, flags *runFlags, backend model.ExecBackend, def *pipeline.Definition, projectDir, branch string) {
	if flags.noHistory {
		return
	}

	now := time.Now().UTC()
	record := model.RunRecord{
		ID:           uuid.NewString(),
		PipelinePath: def.Path,
		Branch:       branch,
		Backend:      backend,
		Status:       model.RunSkipped,
		StartedAt:    now,
		FinishedAt:   now,
	}
	if err := recordRun(ctx, projectDir, record); err != nil {
		VerboseLog("Failed to record skipped run: %v", err)
	}
}

// recordRun opens the project's history journal and inserts one record.
func recordRun(ctx context.Context, projectDir string, record model.RunRecord) error {
	store, db, err := history.Open(projectDir)
	if err != nil {
		return err
	}
	defer db.Close()

	return store.RecordRun(ctx, record)
}

// printRunResult outputs the run report in text or JSON format, depending
// on the global --json flag.
func printRunResult(report *runner.RunReport) {
	if IsJSONOutput() {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Printf("\nRun %s: %s in %s\n", report.ID, report.Status, report.Duration().Round(time.Millisecond))
	fmt.Printf("%-4s %-44s %-10s %-6s %s\n", "IDX", "NAME", "STATUS", "ALLOW", "DURATION")
	for _, result := range report.Results {
		fmt.Printf("%-4d %-44s %-10s %-6s %s\n",
			result.Leg.Index,
			result.Leg.Name,
			result.Status,
			FormatAllowFailure(result.Leg.AllowFailure),
			result.Duration.Round(time.Millisecond),
		)
	}
}
