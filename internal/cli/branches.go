// Package cli — branches.go implements the "cibox branches" command.
//
// The branches command evaluates branch names against the definition's
// allow-list: `only` entries are applied first (no match blocks), then
// `except` entries (a match vetoes). Entries wrapped in slashes are
// regular expressions; all other entries match exactly. Without
// arguments, the current git branch is evaluated.
package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Releck/cibox/internal/branchrule"
	"github.com/Releck/cibox/internal/gitrepo"
	"github.com/Releck/cibox/internal/model"
	"github.com/Releck/cibox/internal/pipeline"
)

// branchesFlags holds the flag values for the branches command.
type branchesFlags struct {
	// file is the pipeline definition path. Empty means probe the
	// working directory for the standard names.
	file string
}

// NewBranchesCommand creates the "branches" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewBranchesCommand() *cobra.Command {
	flags := &branchesFlags{}

	cmd := &cobra.Command{
		Use:   "branches [branch...]",
		Short: "Evaluate branch names against the allow-list",
		Long: `Evaluate branch names against the definition's branch allow-list.

Without arguments, the current git branch is evaluated. When exactly one
branch is queried, the exit code reflects the decision: 0 when the branch
would build, 7 when the allow-list blocks it.

Examples:
  cibox branches
  cibox branches master v1.2.3 v1.2
  cibox branches --file .travis.yml feature/parser`,

		Args: cobra.ArbitraryArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runBranches(args, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.file, "file", "f", "",
		"Pipeline definition file (default: probe the working directory)")

	return cmd
}

// runBranches is the main logic function for the branches command.
func runBranches(args []string, flags *branchesFlags) error {
	var fileArgs []string
	if flags.file != "" {
		fileArgs = []string{flags.file}
	}

	def, _, err := resolveDefinition(fileArgs)
	if err != nil {
		return err
	}

	branches := args
	if len(branches) == 0 {
		branch, err := currentGitBranch()
		if err != nil {
			return err
		}
		VerboseLog("Using current git branch %q", branch)
		branches = []string{branch}
	}

	decisions := make([]branchrule.Decision, 0, len(branches))
	for _, branch := range branches {
		decision, err := decideBranch(def.Branches, branch)
		if err != nil {
			return model.WrapCLIError(model.ExitValidationFailed,
				"invalid branch rule", err)
		}
		decisions = append(decisions, decision)
	}

	printBranchesResult(branches, decisions)

	// A single blocked query is reported through the exit code, so shell
	// conditionals can gate on `cibox branches "$BRANCH"` directly.
	if len(decisions) == 1 && !decisions[0].Allowed {
		return model.NewCLIError(model.ExitBranchSkipped, decisions[0].Reason)
	}
	return nil
}

// decideBranch evaluates one branch against the definition's allow-list.
// A definition without a branches block permits every branch.
func decideBranch(branches *pipeline.Branches, branch string) (branchrule.Decision, error) {
	if branches == nil {
		return branchrule.Decide(nil, nil, branch)
	}
	return branchrule.Decide(branches.Only, branches.Except, branch)
}

// currentGitBranch resolves the checked-out branch of the repository
// containing the working directory.
func currentGitBranch() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", model.WrapCLIError(model.ExitGeneralError,
			"failed to determine working directory", err)
	}

	repo, err := gitrepo.Open(cwd)
	if err != nil {
		return "", model.WrapCLIError(model.ExitGitError,
			"failed to locate git repository", err)
	}

	branch, err := repo.CurrentBranch()
	if err != nil {
		return "", model.WrapCLIError(model.ExitGitError,
			"failed to resolve current branch", err)
	}
	return branch, nil
}

// printBranchesResult outputs the decisions in text or JSON format,
// depending on the global --json flag.
func printBranchesResult(branches []string, decisions []branchrule.Decision) {
	if IsJSONOutput() {
		// decisionJSON pairs a queried branch with its decision.
		type decisionJSON struct {
			Branch  string `json:"branch"`
			Allowed bool   `json:"allowed"`
			Rule    string `json:"rule,omitempty"`
			Reason  string `json:"reason"`
		}
		type resultJSON struct {
			Branches []decisionJSON `json:"branches"`
		}

		result := resultJSON{Branches: make([]decisionJSON, 0, len(branches))}
		for i, branch := range branches {
			result.Branches = append(result.Branches, decisionJSON{
				Branch:  branch,
				Allowed: decisions[i].Allowed,
				Rule:    decisions[i].Rule,
				Reason:  decisions[i].Reason,
			})
		}

		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Printf("%-30s %-8s %s\n", "BRANCH", "BUILD", "REASON")
	for i, branch := range branches {
		verdict := "yes"
		if !decisions[i].Allowed {
			verdict = "no"
		}
		fmt.Printf("%-30s %-8s %s\n", branch, verdict, decisions[i].Reason)
	}
}
