// Package gitrepo answers the two questions cibox has about the
// surrounding git repository: where is its top level, and which branch is
// checked out. It shells out to the git CLI rather than linking a git
// implementation; the answers feed the branch allow-list gate.
package gitrepo

import (
	"fmt"
	"os/exec"
	"strings"
)

// Repo is an open git repository.
type Repo struct {
	root string
}

// Open locates the repository containing dir.
func Open(dir string) (*Repo, error) {
	out, err := runGit(dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("not inside a git repository: %w", err)
	}
	return &Repo{root: strings.TrimSpace(out)}, nil
}

// Root returns the repository's top-level directory.
func (r *Repo) Root() string {
	return r.root
}

// CurrentBranch returns the checked-out branch name. A detached HEAD is an
// error; callers that need a branch name in that state must supply one
// explicitly.
func (r *Repo) CurrentBranch() (string, error) {
	out, err := runGit(r.root, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve current branch: %w", err)
	}

	branch := strings.TrimSpace(out)
	if branch == "HEAD" {
		return "", fmt.Errorf("HEAD is detached; no branch name to evaluate")
	}
	return branch, nil
}

// runGit executes a git command in dir and returns its combined output.
// The output is folded into the error on failure, since git writes its
// diagnostics to stderr.
func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s failed: %w\noutput: %s",
			strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}

	return string(output), nil
}
