package runner

import (
	"context"
	"fmt"
	"io"

	"github.com/Releck/cibox/internal/model"
	"github.com/Releck/cibox/internal/runtimes"
)

// DockerBackend runs every leg in its own container. The leg's image comes
// from the runtimes mapping, the project directory is bind-mounted into
// the container, and each step runs as a separate exec.
type DockerBackend struct {
	// Client is the daemon connection, shared by all legs.
	Client *Client

	// Images resolves legs to container images.
	Images runtimes.Mapping

	// ProjectDir is the host directory mounted into leg containers.
	ProjectDir string

	// KeepContainers leaves leg containers in place after the run, for
	// post-mortem inspection. `cibox clean` removes them later.
	KeepContainers bool
}

var _ Backend = (*DockerBackend)(nil)

// Name identifies the backend.
func (b *DockerBackend) Name() model.ExecBackend {
	return model.BackendDocker
}

// RunLeg resolves the leg's image, creates its container and drives the
// step phases through execs in it.
func (b *DockerBackend) RunLeg(ctx context.Context, runID string, leg model.Leg, out io.Writer) model.LegResult {
	imageRef, err := b.Images.Resolve(leg)
	if err != nil {
		return erroredLeg(leg, err, out)
	}

	if err := b.Client.EnsureImage(ctx, imageRef, out); err != nil {
		return erroredLeg(leg, err, out)
	}

	containerID, err := b.Client.CreateLegContainer(ctx, runID, leg, imageRef, b.ProjectDir)
	if err != nil {
		return erroredLeg(leg, err, out)
	}

	if !b.KeepContainers {
		// Cleanup must survive run cancellation.
		defer b.Client.RemoveLegContainer(context.WithoutCancel(ctx), containerID)
	}

	return runSteps(ctx, &containerExec{client: b.Client, containerID: containerID}, leg, out)
}

// containerExec adapts one leg container to the step executor contract.
type containerExec struct {
	client      *Client
	containerID string
}

func (e *containerExec) execStep(ctx context.Context, leg model.Leg, command string, out io.Writer) (int, error) {
	env := append(markerEnv(leg), model.EnvStrings(leg.Env)...)
	return e.client.ExecStep(ctx, e.containerID, command, env, out)
}

// erroredLeg builds the result for a leg that never got to run a step.
func erroredLeg(leg model.Leg, err error, out io.Writer) model.LegResult {
	fmt.Fprintf(out, "leg could not start: %v\n", err)
	return model.LegResult{Leg: leg, Status: model.LegErrored, Err: err}
}
