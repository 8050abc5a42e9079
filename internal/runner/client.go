package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/docker/docker/client"
)

// pingTimeout bounds the daemon reachability check in NewClient.
const pingTimeout = 5 * time.Second

// Client wraps the Docker SDK client used by the docker backend and the
// clean command.
type Client struct {
	inner *client.Client
}

// NewClient creates a Docker client and verifies the daemon is reachable.
// The host is taken from DOCKER_HOST when set, otherwise from the
// platform's default socket locations.
func NewClient(ctx context.Context) (*Client, error) {
	host := os.Getenv("DOCKER_HOST")
	if host == "" {
		host = detectDockerHost()
	}

	inner, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if _, err := inner.Ping(pingCtx); err != nil {
		inner.Close()
		return nil, fmt.Errorf("docker daemon is not accessible: %w", err)
	}

	return &Client{inner: inner}, nil
}

// detectDockerHost returns the default daemon address for the platform.
// On macOS, Docker Desktop exposes a per-user socket that newer installs
// use instead of /var/run/docker.sock.
func detectDockerHost() string {
	switch runtime.GOOS {
	case "darwin":
		if home, err := os.UserHomeDir(); err == nil {
			userSocket := filepath.Join(home, ".docker", "run", "docker.sock")
			if _, err := os.Stat(userSocket); err == nil {
				return "unix://" + userSocket
			}
		}
		return "unix:///var/run/docker.sock"
	case "windows":
		return "npipe:////./pipe/docker_engine"
	default:
		return "unix:///var/run/docker.sock"
	}
}

// Close releases the underlying client.
func (c *Client) Close() error {
	return c.inner.Close()
}

// Inner exposes the SDK client for operations not wrapped here.
func (c *Client) Inner() *client.Client {
	return c.inner
}
