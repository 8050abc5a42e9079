// Package cli — history.go implements the "cibox history" command.
//
// The history command lists recent runs from the project's run journal,
// a SQLite database at .cibox/history.db next to the pipeline definition.
// Runs are shown newest first with their aggregate verdict and leg counts.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Releck/cibox/internal/history"
	"github.com/Releck/cibox/internal/model"
	"github.com/Releck/cibox/internal/pipeline"
)

// historyFlags holds the flag values for the history command.
type historyFlags struct {
	// limit caps how many runs are listed, newest first.
	limit int

	// legs includes per-leg rows under each run in text output.
	legs bool
}

// NewHistoryCommand creates the "history" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewHistoryCommand() *cobra.Command {
	flags := &historyFlags{}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent runs from the run journal",
		Long: `List recent runs recorded by "cibox run", newest first.

With a run ID argument, show that single run with its per-leg outcomes.
The journal lives at .cibox/history.db in the directory containing the
pipeline definition.

Examples:
  cibox history
  cibox history --limit 5 --legs
  cibox history 7b6f6b9e-0d5e-4a63-9adf-1c1b30f6a3f2
  cibox history --json`,

		Args: cobra.MaximumNArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), args, flags)
		},
	}

	cmd.Flags().IntVar(&flags.limit, "limit", 10, "Maximum number of runs to list")
	cmd.Flags().BoolVar(&flags.legs, "legs", false, "Show per-leg rows under each run")

	return cmd
}

// runHistory is the main logic function for the history command.
func runHistory(ctx context.Context, args []string, flags *historyFlags) error {
	projectDir, err := historyProjectDir()
	if err != nil {
		return err
	}

	if len(args) > 0 {
		run, err := LookupRun(ctx, projectDir, args[0])
		if err != nil {
			return err
		}
		printRunDetail(run)
		return nil
	}

	// A project that never ran has no journal; that is an empty listing,
	// not an error, and no database file is created for it.
	dbPath := history.DefaultPath(projectDir)
	if _, err := os.Stat(dbPath); err != nil {
		printHistoryResult(nil, flags)
		return nil
	}

	store, db, err := history.Open(projectDir)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to open run journal", err)
	}
	defer db.Close()

	runs, err := store.ListRuns(ctx, flags.limit)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to list runs", err)
	}

	printHistoryResult(runs, flags)
	return nil
}

// LookupRun fetches one run from the project's journal by ID. An unknown
// ID (or a project without a journal) reports run-not-found.
//
// This function is exported for testing purposes (tested in history_test.go).
func LookupRun(ctx context.Context, projectDir, runID string) (*model.RunRecord, error) {
	dbPath := history.DefaultPath(projectDir)
	if _, err := os.Stat(dbPath); err != nil {
		return nil, model.NewCLIError(model.ExitGeneralError,
			fmt.Sprintf("run %s not found: no journal at %s", runID, dbPath))
	}

	store, db, err := history.Open(projectDir)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError, "failed to open run journal", err)
	}
	defer db.Close()

	run, err := store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, history.ErrRunNotFound) {
			return nil, model.NewCLIError(model.ExitGeneralError,
				fmt.Sprintf("run %s not found", runID))
		}
		return nil, model.WrapCLIError(model.ExitGeneralError, "failed to load run", err)
	}

	return run, nil
}

// printRunDetail outputs one run with its per-leg outcomes, in text or
// JSON format depending on the global --json flag.
func printRunDetail(run *model.RunRecord) {
	if IsJSONOutput() {
		data, _ := json.MarshalIndent(run, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Printf("Run %s\n", run.ID)
	fmt.Printf("  pipeline: %s\n", run.PipelinePath)
	fmt.Printf("  branch:   %s\n", valueOrDash(run.Branch))
	fmt.Printf("  backend:  %s\n", run.Backend)
	fmt.Printf("  status:   %s\n", run.Status)
	fmt.Printf("  started:  %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("  duration: %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))

	if len(run.Legs) == 0 {
		return
	}
	fmt.Printf("\n%-4s %-44s %-9s %-6s %s\n", "IDX", "NAME", "STATUS", "ALLOW", "DURATION")
	for _, leg := range run.Legs {
		fmt.Printf("%-4d %-44s %-9s %-6s %s\n",
			leg.Index, leg.Name, leg.Status,
			FormatAllowFailure(leg.AllowFailure),
			leg.Duration.Round(time.Millisecond))
	}
}

// historyProjectDir anchors the journal the same way run does: the
// directory of the pipeline definition when one is findable, otherwise
// the working directory.
func historyProjectDir() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", model.WrapCLIError(model.ExitGeneralError,
			"failed to determine working directory", err)
	}

	if path, err := pipeline.Find(cwd); err == nil {
		return filepath.Dir(path), nil
	}
	return cwd, nil
}

// printHistoryResult outputs the run list in text or JSON format,
// depending on the global --json flag.
func printHistoryResult(runs []model.RunRecord, flags *historyFlags) {
	if IsJSONOutput() {
		type resultJSON struct {
			Runs []model.RunRecord `json:"runs"`
		}

		result := resultJSON{Runs: make([]model.RunRecord, 0, len(runs))}
		result.Runs = append(result.Runs, runs...)

		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return
	}

	fmt.Printf("%-36s %-20s %-20s %-8s %-9s %s\n",
		"RUN", "STARTED", "BRANCH", "BACKEND", "STATUS", "LEGS")
	for _, run := range runs {
		fmt.Printf("%-36s %-20s %-20s %-8s %-9s %s\n",
			run.ID,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			valueOrDash(run.Branch),
			run.Backend,
			run.Status,
			FormatLegCounts(run.Legs),
		)

		if flags.legs {
			for _, leg := range run.Legs {
				fmt.Printf("    %-4d %-44s %-9s %s\n",
					leg.Index, leg.Name, leg.Status,
					leg.Duration.Round(time.Millisecond))
			}
		}
	}
}

// FormatLegCounts summarizes a run's legs as "passed/total", e.g. "5/6".
// Runs without recorded legs (branch-vetoed) render as "-".
//
// This function is exported for testing purposes (tested in history_test.go).
func FormatLegCounts(legs []model.LegRecord) string {
	if len(legs) == 0 {
		return "-"
	}

	passed := 0
	for _, leg := range legs {
		if leg.Status == model.LegPassed {
			passed++
		}
	}
	return fmt.Sprintf("%d/%d", passed, len(legs))
}

// valueOrDash substitutes "-" for empty table cells.
func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
