package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Releck/cibox/internal/model"
)

// fakeExecutor scripts exit codes per command and records call order.
type fakeExecutor struct {
	codes  map[string]int
	errs   map[string]error
	calls  []string
	cancel context.CancelFunc
}

func (f *fakeExecutor) execStep(_ context.Context, _ model.Leg, command string, out io.Writer) (int, error) {
	f.calls = append(f.calls, command)
	if f.cancel != nil {
		f.cancel()
	}
	if err := f.errs[command]; err != nil {
		return 0, err
	}
	fmt.Fprintf(out, "ran %s\n", command)
	return f.codes[command], nil
}

func testLeg() model.Leg {
	return model.Leg{
		Index:    1,
		Name:     "python 3.8 GALLERYDL_TESTS=core",
		Language: "python",
		Version:  "3.8",
		Install:  []string{"pip install -r requirements.txt", "pip install flake8"},
		Script:   []string{"make test", "make lint"},
	}
}

func TestRunSteps_AllPass(t *testing.T) {
	executor := &fakeExecutor{}
	var out bytes.Buffer

	result := runSteps(context.Background(), executor, testLeg(), &out)

	assert.Equal(t, model.LegPassed, result.Status)
	require.Len(t, result.Steps, 4)
	assert.Equal(t, model.PhaseInstall, result.Steps[0].Phase)
	assert.Equal(t, model.PhaseInstall, result.Steps[1].Phase)
	assert.Equal(t, model.PhaseScript, result.Steps[2].Phase)
	assert.Equal(t, model.PhaseScript, result.Steps[3].Phase)

	t.Run("install runs before script", func(t *testing.T) {
		assert.Equal(t, []string{
			"pip install -r requirements.txt",
			"pip install flake8",
			"make test",
			"make lint",
		}, executor.calls)
	})

	t.Run("output carries step banners", func(t *testing.T) {
		assert.Contains(t, out.String(), "$ make test\n")
		assert.Contains(t, out.String(), "ran make test\n")
	})
}

func TestRunSteps_InstallFailureErrorsLeg(t *testing.T) {
	executor := &fakeExecutor{codes: map[string]int{"pip install -r requirements.txt": 1}}
	var out bytes.Buffer

	result := runSteps(context.Background(), executor, testLeg(), &out)

	assert.Equal(t, model.LegErrored, result.Status)
	require.Len(t, result.Steps, 4)
	assert.Equal(t, 1, result.Steps[0].ExitCode)
	assert.False(t, result.Steps[0].Skipped)
	for _, step := range result.Steps[1:] {
		assert.True(t, step.Skipped, step.Command)
	}

	t.Run("only the failing step ran", func(t *testing.T) {
		assert.Equal(t, []string{"pip install -r requirements.txt"}, executor.calls)
	})

	t.Run("failure noted in output", func(t *testing.T) {
		assert.Contains(t, out.String(), "command exited with 1")
	})
}

func TestRunSteps_ScriptFailureFailsLeg(t *testing.T) {
	executor := &fakeExecutor{codes: map[string]int{"make test": 2}}

	result := runSteps(context.Background(), executor, testLeg(), io.Discard)

	assert.Equal(t, model.LegFailed, result.Status)
	require.Len(t, result.Steps, 4)

	failure := result.FirstFailure()
	require.NotNil(t, failure)
	assert.Equal(t, "make test", failure.Command)
	assert.Equal(t, 2, failure.ExitCode)

	t.Run("no retry and no further script steps", func(t *testing.T) {
		assert.Equal(t, []string{
			"pip install -r requirements.txt",
			"pip install flake8",
			"make test",
		}, executor.calls)
		assert.True(t, result.Steps[3].Skipped)
	})
}

func TestRunSteps_ExecutorErrorErrorsLeg(t *testing.T) {
	boom := errors.New("daemon went away")
	executor := &fakeExecutor{errs: map[string]error{"make test": boom}}
	var out bytes.Buffer

	result := runSteps(context.Background(), executor, testLeg(), &out)

	assert.Equal(t, model.LegErrored, result.Status)
	assert.ErrorIs(t, result.Err, boom)
	assert.Equal(t, -1, result.Steps[2].ExitCode)
	assert.True(t, result.Steps[3].Skipped)
	assert.Contains(t, out.String(), "step could not run")
}

func TestRunSteps_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	executor := &fakeExecutor{}
	result := runSteps(ctx, executor, testLeg(), io.Discard)

	assert.Equal(t, model.LegSkipped, result.Status)
	assert.Empty(t, executor.calls)
	for _, step := range result.Steps {
		assert.True(t, step.Skipped)
	}
}

func TestRunSteps_CancelledMidLeg(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	executor := &fakeExecutor{cancel: cancel}

	result := runSteps(ctx, executor, testLeg(), io.Discard)

	assert.Equal(t, model.LegErrored, result.Status)
	assert.ErrorIs(t, result.Err, context.Canceled)
	assert.Equal(t, []string{"pip install -r requirements.txt"}, executor.calls)
}

func TestRunSteps_SnapBanner(t *testing.T) {
	leg := testLeg()
	leg.Snaps = []model.SnapAddon{
		{Name: "snapcraft", Confinement: "classic"},
		{Name: "lxd"},
	}

	var out bytes.Buffer
	runSteps(context.Background(), &fakeExecutor{}, leg, &out)

	assert.Contains(t, out.String(), "snaps requested: snapcraft (classic), lxd\n")
}

func TestFormatSnaps(t *testing.T) {
	snaps := []model.SnapAddon{
		{Name: "snapcraft", Classic: true},
		{Name: "multipass", Confinement: "devmode"},
		{Name: "lxd"},
	}

	assert.Equal(t, "snapcraft (classic), multipass (devmode), lxd", formatSnaps(snaps))
}
