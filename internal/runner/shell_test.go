package runner

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Releck/cibox/internal/model"
)

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not installed")
	}
}

func TestShellBackend_RunLeg(t *testing.T) {
	requireSh(t)

	t.Run("passing leg", func(t *testing.T) {
		backend := &ShellBackend{Dir: t.TempDir()}
		leg := model.Leg{
			Index:   1,
			Name:    "minimal",
			Install: []string{"echo installing"},
			Script:  []string{"echo testing"},
		}

		var out bytes.Buffer
		result := backend.RunLeg(context.Background(), "run-id", leg, &out)

		assert.Equal(t, model.LegPassed, result.Status)
		assert.Contains(t, out.String(), "installing\n")
		assert.Contains(t, out.String(), "testing\n")
	})

	t.Run("script exit code recorded", func(t *testing.T) {
		backend := &ShellBackend{Dir: t.TempDir()}
		leg := model.Leg{
			Index:  1,
			Name:   "minimal",
			Script: []string{"exit 3", "echo never"},
		}

		var out bytes.Buffer
		result := backend.RunLeg(context.Background(), "run-id", leg, &out)

		assert.Equal(t, model.LegFailed, result.Status)
		require.Len(t, result.Steps, 2)
		assert.Equal(t, 3, result.Steps[0].ExitCode)
		assert.True(t, result.Steps[1].Skipped)
		assert.NotContains(t, out.String(), "never")
	})

	t.Run("install failure errors the leg", func(t *testing.T) {
		backend := &ShellBackend{Dir: t.TempDir()}
		leg := model.Leg{
			Index:   1,
			Name:    "minimal",
			Install: []string{"false"},
			Script:  []string{"echo never"},
		}

		result := backend.RunLeg(context.Background(), "run-id", leg, io.Discard)
		assert.Equal(t, model.LegErrored, result.Status)
	})

	t.Run("leg env and marker env visible to steps", func(t *testing.T) {
		backend := &ShellBackend{Dir: t.TempDir()}
		leg := model.Leg{
			Index: 4,
			Name:  "python 3.8 GALLERYDL_TESTS=core",
			Env:   []model.EnvVar{{Key: "GALLERYDL_TESTS", Value: "core"}},
			Script: []string{
				"echo tests=$GALLERYDL_TESTS",
				"echo leg=$CIBOX_LEG_INDEX ci=$CI",
			},
		}

		var out bytes.Buffer
		result := backend.RunLeg(context.Background(), "run-id", leg, &out)

		assert.Equal(t, model.LegPassed, result.Status)
		assert.Contains(t, out.String(), "tests=core\n")
		assert.Contains(t, out.String(), "leg=4 ci=true\n")
	})

	t.Run("leg env wins over host env", func(t *testing.T) {
		t.Setenv("GALLERYDL_TESTS", "host-value")

		backend := &ShellBackend{Dir: t.TempDir()}
		leg := model.Leg{
			Index:  1,
			Name:   "minimal",
			Env:    []model.EnvVar{{Key: "GALLERYDL_TESTS", Value: "leg-value"}},
			Script: []string{"echo got=$GALLERYDL_TESTS"},
		}

		var out bytes.Buffer
		backend.RunLeg(context.Background(), "run-id", leg, &out)

		assert.Contains(t, out.String(), "got=leg-value\n")
	})

	t.Run("steps run in the configured directory", func(t *testing.T) {
		dir := t.TempDir()
		backend := &ShellBackend{Dir: dir}
		leg := model.Leg{
			Index:  1,
			Name:   "minimal",
			Script: []string{"touch marker"},
		}

		result := backend.RunLeg(context.Background(), "run-id", leg, io.Discard)
		require.Equal(t, model.LegPassed, result.Status)
		assert.FileExists(t, dir+"/marker")
	})
}

func TestShellBackend_Name(t *testing.T) {
	assert.Equal(t, model.BackendShell, (&ShellBackend{}).Name())
}
