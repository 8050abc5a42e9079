package runner

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Releck/cibox/internal/model"
)

// Backend executes one leg at a time. Implementations are safe for
// concurrent use; the Runner calls RunLeg from multiple goroutines.
type Backend interface {
	// Name identifies the backend in reports and history.
	Name() model.ExecBackend

	// RunLeg executes every step of the leg, streaming combined output
	// to out. runID identifies the surrounding run; the docker backend
	// stamps it onto the containers it creates. Failures are reported
	// through the result, never through a panic; a leg that could not
	// run at all comes back errored with Err set.
	RunLeg(ctx context.Context, runID string, leg model.Leg, out io.Writer) model.LegResult
}

// stepExecutor runs a single shell command for a leg and reports its exit
// code. A non-nil error means the command could not be run at all.
type stepExecutor interface {
	execStep(ctx context.Context, leg model.Leg, command string, out io.Writer) (int, error)
}

// runSteps drives a leg's install and script phases through a step
// executor. Steps run in order; the first failure or executor error stops
// the leg and marks the remaining steps skipped. An install failure means
// errored, a script failure means failed.
func runSteps(ctx context.Context, executor stepExecutor, leg model.Leg, out io.Writer) model.LegResult {
	start := time.Now()
	result := model.LegResult{Leg: leg, Status: model.LegPassed}

	if len(leg.Snaps) > 0 {
		fmt.Fprintf(out, "snaps requested: %s\n", formatSnaps(leg.Snaps))
	}

	stopped := false
	executed := 0
	cancelled := 0

	phases := []struct {
		phase    model.StepPhase
		commands []string
	}{
		{model.PhaseInstall, leg.Install},
		{model.PhaseScript, leg.Script},
	}

	for _, p := range phases {
		for _, command := range p.commands {
			step := model.StepResult{Phase: p.phase, Command: command}

			if stopped || ctx.Err() != nil {
				if !stopped {
					cancelled++
				}
				step.Skipped = true
				result.Steps = append(result.Steps, step)
				continue
			}

			fmt.Fprintf(out, "$ %s\n", command)
			stepStart := time.Now()
			code, err := executor.execStep(ctx, leg, command, out)
			step.Duration = time.Since(stepStart)

			if err != nil {
				fmt.Fprintf(out, "step could not run: %v\n", err)
				step.ExitCode = -1
				result.Status = model.LegErrored
				result.Err = err
				stopped = true
			} else {
				step.ExitCode = code
				executed++
				if code != 0 {
					fmt.Fprintf(out, "command exited with %d\n", code)
					if p.phase == model.PhaseInstall {
						result.Status = model.LegErrored
					} else {
						result.Status = model.LegFailed
					}
					stopped = true
				}
			}

			result.Steps = append(result.Steps, step)
		}
	}

	// A cancellation that cut the leg short is not a pass.
	if cancelled > 0 && result.Status == model.LegPassed {
		if executed == 0 {
			result.Status = model.LegSkipped
		} else {
			result.Status = model.LegErrored
			result.Err = ctx.Err()
		}
	}

	result.Duration = time.Since(start)
	return result
}

// formatSnaps renders snap addon requests for leg output, e.g.
// "snapcraft (classic), lxd".
func formatSnaps(snaps []model.SnapAddon) string {
	parts := make([]string, 0, len(snaps))
	for _, s := range snaps {
		switch {
		case s.Classic || s.Confinement == "classic":
			parts = append(parts, s.Name+" (classic)")
		case s.Confinement != "":
			parts = append(parts, fmt.Sprintf("%s (%s)", s.Name, s.Confinement))
		default:
			parts = append(parts, s.Name)
		}
	}
	return strings.Join(parts, ", ")
}
