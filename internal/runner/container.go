package runner

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/Releck/cibox/internal/model"
)

// containerWorkDir is where the project directory is mounted inside a leg
// container. Steps run with this as their working directory.
const containerWorkDir = "/ci"

// LegContainer describes one cibox-managed container found on the daemon.
type LegContainer struct {
	ID      string
	Name    string
	State   string
	Created time.Time
	Meta    ContainerMeta
}

// EnsureImage makes sure the image is available locally, pulling it when
// missing. Pull progress is not streamed; a single line on out records
// that a pull happened.
func (c *Client) EnsureImage(ctx context.Context, ref string, out io.Writer) error {
	list, err := c.inner.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", ref)),
	})
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}
	if len(list) > 0 {
		return nil
	}

	fmt.Fprintf(out, "pulling image %s\n", ref)
	rc, err := c.inner.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer rc.Close()

	// Drain the progress stream; the pull only completes once it ends.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}

	return nil
}

// CreateLegContainer creates and starts a keep-alive container for a leg.
// The project directory is bind-mounted at the container work dir, the
// leg's environment baked into the container config, and the cibox labels
// attached for later discovery.
func (c *Client) CreateLegContainer(ctx context.Context, runID string, leg model.Leg, imageRef, projectDir string) (string, error) {
	config := &container.Config{
		Image:      imageRef,
		Cmd:        []string{"sleep", "infinity"},
		WorkingDir: containerWorkDir,
		Env:        model.EnvStrings(leg.Env),
		Labels:     BuildLabels(runID, leg),
	}
	hostConfig := &container.HostConfig{
		Binds: []string{projectDir + ":" + containerWorkDir},
	}

	resp, err := c.inner.ContainerCreate(ctx, config, hostConfig, nil, nil, ContainerName(runID, leg))
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	if err := c.inner.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		c.RemoveLegContainer(context.WithoutCancel(ctx), resp.ID)
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	return resp.ID, nil
}

// ExecStep runs one shell command inside a leg container and returns its
// exit code. Stdout and stderr are demultiplexed onto out.
func (c *Client) ExecStep(ctx context.Context, containerID, command string, env []string, out io.Writer) (int, error) {
	exec, err := c.inner.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          []string{"sh", "-c", command},
		Env:          env,
		WorkingDir:   containerWorkDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create exec: %w", err)
	}

	attach, err := c.inner.ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attach.Close()

	if _, err := stdcopy.StdCopy(out, out, attach.Reader); err != nil {
		return 0, fmt.Errorf("failed to stream exec output: %w", err)
	}

	inspect, err := c.inner.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect exec: %w", err)
	}

	return inspect.ExitCode, nil
}

// RemoveLegContainer force-removes a container, running or not.
func (c *Client) RemoveLegContainer(ctx context.Context, containerID string) error {
	err := c.inner.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// ListLegContainers returns every cibox-managed container on the daemon,
// running or stopped. Containers whose labels fail to parse are skipped.
func (c *Client) ListLegContainers(ctx context.Context) ([]LegContainer, error) {
	containers, err := c.inner.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelManaged+"=true")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	result := make([]LegContainer, 0, len(containers))
	for _, ctr := range containers {
		meta, err := ParseLabels(ctr.Labels)
		if err != nil {
			continue
		}

		name := ""
		if len(ctr.Names) > 0 {
			// The API reports names with a leading slash.
			name = strings.TrimPrefix(ctr.Names[0], "/")
		}

		result = append(result, LegContainer{
			ID:      ctr.ID,
			Name:    name,
			State:   ctr.State,
			Created: time.Unix(ctr.Created, 0),
			Meta:    meta,
		})
	}

	return result, nil
}

// RemoveAllLegContainers removes every cibox-managed container and
// returns how many were removed.
func (c *Client) RemoveAllLegContainers(ctx context.Context) (int, error) {
	containers, err := c.ListLegContainers(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, ctr := range containers {
		if err := c.RemoveLegContainer(ctx, ctr.ID); err != nil {
			return removed, err
		}
		removed++
	}

	return removed, nil
}
