package gitrepo

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo creates a throwaway repository with one commit on master and
// returns its path. Tests are skipped when git is not installed.
func initRepo(t *testing.T) string {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	git(t, dir, "init")
	git(t, dir, "symbolic-ref", "HEAD", "refs/heads/master")
	git(t, dir, "commit", "--allow-empty", "-m", "initial")
	return dir
}

func git(t *testing.T, dir string, args ...string) {
	t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test",
		"GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test",
		"GIT_COMMITTER_EMAIL=test@example.com",
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

func TestOpen(t *testing.T) {
	t.Run("finds top level from subdirectory", func(t *testing.T) {
		dir := initRepo(t)
		sub := filepath.Join(dir, "internal", "deep")
		require.NoError(t, os.MkdirAll(sub, 0o755))

		repo, err := Open(sub)
		require.NoError(t, err)

		// TempDir may sit behind a symlink; resolve both sides.
		wantRoot, err := filepath.EvalSymlinks(dir)
		require.NoError(t, err)
		gotRoot, err := filepath.EvalSymlinks(repo.Root())
		require.NoError(t, err)
		assert.Equal(t, wantRoot, gotRoot)
	})

	t.Run("fails outside a repository", func(t *testing.T) {
		if _, err := exec.LookPath("git"); err != nil {
			t.Skip("git not installed")
		}

		_, err := Open(t.TempDir())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not inside a git repository")
	})
}

func TestRepo_CurrentBranch(t *testing.T) {
	t.Run("returns checked out branch", func(t *testing.T) {
		dir := initRepo(t)
		repo, err := Open(dir)
		require.NoError(t, err)

		branch, err := repo.CurrentBranch()
		require.NoError(t, err)
		assert.Equal(t, "master", branch)
	})

	t.Run("follows branch switches", func(t *testing.T) {
		dir := initRepo(t)
		git(t, dir, "checkout", "-b", "test-downloader")

		repo, err := Open(dir)
		require.NoError(t, err)

		branch, err := repo.CurrentBranch()
		require.NoError(t, err)
		assert.Equal(t, "test-downloader", branch)
	})

	t.Run("detached head is an error", func(t *testing.T) {
		dir := initRepo(t)
		git(t, dir, "checkout", "--detach")

		repo, err := Open(dir)
		require.NoError(t, err)

		_, err = repo.CurrentBranch()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "detached")
	})
}
