package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/Releck/cibox/internal/model"
)

// ShellBackend runs leg steps directly on the host through `sh -c`. Every
// leg sees the same working directory; isolation is the docker backend's
// job.
type ShellBackend struct {
	// Dir is the working directory for all steps, normally the directory
	// containing the pipeline definition.
	Dir string
}

var _ Backend = (*ShellBackend)(nil)

// Name identifies the backend.
func (b *ShellBackend) Name() model.ExecBackend {
	return model.BackendShell
}

// RunLeg executes the leg's phases on the host. The run ID plays no role
// here; nothing outlives the step processes.
func (b *ShellBackend) RunLeg(ctx context.Context, _ string, leg model.Leg, out io.Writer) model.LegResult {
	return runSteps(ctx, b, leg, out)
}

// execStep runs one command with the host environment plus the leg's
// variables and the cibox marker variables.
func (b *ShellBackend) execStep(ctx context.Context, leg model.Leg, command string, out io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = b.Dir
	cmd.Env = stepEnv(leg)
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}

	return 0, fmt.Errorf("failed to run command: %w", err)
}

// stepEnv builds the environment for a step: the host environment, then
// the marker variables, then the leg's own variables winning last.
func stepEnv(leg model.Leg) []string {
	env := os.Environ()
	env = append(env, markerEnv(leg)...)
	env = append(env, model.EnvStrings(leg.Env)...)
	return env
}

// markerEnv returns the variables cibox sets for every step, mirroring
// what hosted CI systems expose about the current job.
func markerEnv(leg model.Leg) []string {
	return []string{
		"CI=true",
		"CIBOX=true",
		"CIBOX_LEG_INDEX=" + strconv.Itoa(leg.Index),
		"CIBOX_LEG_NAME=" + leg.Name,
	}
}
