// Package cli — clean.go implements the "cibox clean" command.
//
// The clean command removes leftover leg containers. The docker backend
// labels every container it creates (cibox.managed and the run/leg
// metadata); clean discovers containers by that label and force-removes
// them, covering interrupted runs and --keep-containers sessions.
package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Releck/cibox/internal/model"
	"github.com/Releck/cibox/internal/runner"
)

// cleanFlags holds the flag values for the clean command.
type cleanFlags struct {
	// dryRun lists what would be removed without removing anything.
	dryRun bool
}

// NewCleanCommand creates the "clean" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewCleanCommand() *cobra.Command {
	flags := &cleanFlags{}

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove leftover cibox leg containers",
		Long: `Remove every container the docker backend left behind.

Containers are discovered by the cibox.managed label, so only containers
created by cibox are touched. Running containers are force-removed.

Examples:
  cibox clean
  cibox clean --dry-run`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runClean(cmd.Context(), flags)
		},
	}

	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false,
		"List containers without removing them")

	return cmd
}

// runClean is the main logic function for the clean command.
func runClean(ctx context.Context, flags *cleanFlags) error {
	client, err := runner.NewClient(ctx)
	if err != nil {
		return model.WrapCLIError(model.ExitDockerNotRunning,
			"clean requires a running docker daemon", err)
	}
	defer client.Close()

	containers, err := client.ListLegContainers(ctx)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError,
			"failed to list cibox containers", err)
	}
	VerboseLog("Found %d cibox containers", len(containers))

	removed := 0
	if !flags.dryRun {
		for _, ctr := range containers {
			if err := client.RemoveLegContainer(ctx, ctr.ID); err != nil {
				return model.WrapCLIError(model.ExitGeneralError,
					fmt.Sprintf("failed to remove container %s", ctr.Name), err)
			}
			removed++
		}
	}

	printCleanResult(containers, removed, flags)
	return nil
}

// printCleanResult outputs the clean summary in text or JSON format,
// depending on the global --json flag.
func printCleanResult(containers []runner.LegContainer, removed int, flags *cleanFlags) {
	if IsJSONOutput() {
		// containerJSON is the JSON output structure for one container.
		type containerJSON struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			State   string `json:"state"`
			RunID   string `json:"runId"`
			LegName string `json:"legName"`
		}
		type resultJSON struct {
			DryRun     bool            `json:"dryRun"`
			Removed    int             `json:"removed"`
			Containers []containerJSON `json:"containers"`
		}

		result := resultJSON{
			DryRun:     flags.dryRun,
			Removed:    removed,
			Containers: make([]containerJSON, 0, len(containers)),
		}
		for _, ctr := range containers {
			result.Containers = append(result.Containers, containerJSON{
				ID:      ctr.ID,
				Name:    ctr.Name,
				State:   ctr.State,
				RunID:   ctr.Meta.RunID,
				LegName: ctr.Meta.LegName,
			})
		}

		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(containers) == 0 {
		fmt.Println("No cibox containers found.")
		return
	}

	fmt.Printf("%-28s %-10s %-36s %s\n", "NAME", "STATE", "RUN", "LEG")
	for _, ctr := range containers {
		fmt.Printf("%-28s %-10s %-36s %s\n",
			ctr.Name, ctr.State, ctr.Meta.RunID, ctr.Meta.LegName)
	}

	if flags.dryRun {
		fmt.Printf("Would remove %d container(s).\n", len(containers))
	} else {
		fmt.Printf("Removed %d container(s).\n", removed)
	}
}
