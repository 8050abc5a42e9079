// Package cli — legs.go implements the "cibox legs" command.
//
// The legs command expands the pipeline definition's build matrix and
// shows the resulting concrete legs: the axis product first, then include
// legs, minus exclusions. Output is a text table by default, a JSON
// document with --json, or the normalized leg list as YAML with --yaml.
package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Releck/cibox/internal/matrix"
	"github.com/Releck/cibox/internal/model"
)

// legsFlags holds the flag values for the legs command.
type legsFlags struct {
	// yamlOutput prints the expanded legs as a normalized YAML document
	// instead of the table. Useful for diffing the resolved matrix.
	yamlOutput bool
}

// NewLegsCommand creates the "legs" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewLegsCommand() *cobra.Command {
	flags := &legsFlags{}

	cmd := &cobra.Command{
		Use:   "legs [file]",
		Short: "Show the expanded build matrix",
		Long: `Expand the pipeline definition's build matrix and show the concrete legs.

Each leg is listed with its index, name, language, version, merged
environment, and resolved step counts. Legs whose failure does not fail
the run are marked in the ALLOW column.

Examples:
  cibox legs
  cibox legs .travis.yml
  cibox legs --yaml
  cibox legs --json`,

		Args: cobra.MaximumNArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			return runLegs(args, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.yamlOutput, "yaml", false,
		"Output the expanded legs as a normalized YAML document")

	return cmd
}

// runLegs is the main logic function for the legs command.
func runLegs(args []string, flags *legsFlags) error {
	def, _, err := resolveDefinition(args)
	if err != nil {
		return err
	}

	legs, err := matrix.Expand(def)
	if err != nil {
		return model.WrapCLIError(model.ExitValidationFailed,
			"failed to expand build matrix", err)
	}
	VerboseLog("Expanded %d legs", len(legs))

	return printLegsResult(legs, flags)
}

// printLegsResult outputs the leg list in the format the flags selected.
// --yaml wins over --json; the table is the default.
func printLegsResult(legs []model.Leg, flags *legsFlags) error {
	switch {
	case flags.yamlOutput:
		return printLegsYAML(legs)
	case IsJSONOutput():
		printLegsJSON(legs)
		return nil
	default:
		printLegsTable(legs)
		return nil
	}
}

// legYAML is the normalized per-leg document emitted by --yaml. Field
// order follows the definition file's conventional key order.
type legYAML struct {
	Index        int               `yaml:"index"`
	Name         string            `yaml:"name"`
	Language     string            `yaml:"language"`
	Version      string            `yaml:"version,omitempty"`
	Dist         string            `yaml:"dist,omitempty"`
	Env          []string          `yaml:"env,omitempty"`
	Install      []string          `yaml:"install"`
	Script       []string          `yaml:"script"`
	Snaps        []model.SnapAddon `yaml:"snaps,omitempty"`
	AllowFailure bool              `yaml:"allow_failure,omitempty"`
}

// printLegsYAML emits the fully resolved legs as one YAML document. Every
// inheritance and override is already applied, so the output is what the
// runner will execute, key for key.
func printLegsYAML(legs []model.Leg) error {
	docs := make([]legYAML, 0, len(legs))
	for _, leg := range legs {
		docs = append(docs, legYAML{
			Index:        leg.Index,
			Name:         leg.Name,
			Language:     leg.Language,
			Version:      leg.Version,
			Dist:         leg.Dist,
			Env:          model.EnvStrings(leg.Env),
			Install:      leg.Install,
			Script:       leg.Script,
			Snaps:        leg.Snaps,
			AllowFailure: leg.AllowFailure,
		})
	}

	data, err := yaml.Marshal(map[string][]legYAML{"legs": docs})
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to marshal legs", err)
	}
	fmt.Print(string(data))
	return nil
}

// printLegsJSON outputs the leg list as structured JSON. The top-level
// key is "legs" containing an array of fully resolved leg objects.
func printLegsJSON(legs []model.Leg) {
	type resultJSON struct {
		Legs []model.Leg `json:"legs"`
	}

	result := resultJSON{
		// Empty slice instead of nil so JSON output shows [] instead of
		// null when the matrix expands to nothing.
		Legs: make([]model.Leg, 0, len(legs)),
	}
	result.Legs = append(result.Legs, legs...)

	data, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(data))
}

// printLegsTable outputs the leg list as a human-readable text table
// with aligned columns.
//
// The table format is:
//
//	IDX  NAME                                   STEPS  ALLOW  ENV
//	1    python 3.4 GALLERYDL_TESTS=core        1+1    -      GALLERYDL_TESTS=core
//	5    python 3.7 GALLERYDL_TESTS=snap        3+2    -      GALLERYDL_TESTS=snap
func printLegsTable(legs []model.Leg) {
	if len(legs) == 0 {
		fmt.Println("The matrix expands to no legs.")
		return
	}

	fmt.Printf("%-4s %-44s %-6s %-6s %s\n", "IDX", "NAME", "STEPS", "ALLOW", "ENV")
	for _, leg := range legs {
		fmt.Printf("%-4d %-44s %-6s %-6s %s\n",
			leg.Index,
			leg.Name,
			FormatStepCounts(leg),
			FormatAllowFailure(leg.AllowFailure),
			FormatEnvSummary(leg.Env, 48),
		)
	}
}

// FormatStepCounts renders a leg's phase sizes as "install+script", e.g.
// "2+1" for two install steps and one script step.
//
// This function is exported for testing purposes (tested in legs_test.go).
func FormatStepCounts(leg model.Leg) string {
	return fmt.Sprintf("%d+%d", len(leg.Install), len(leg.Script))
}

// FormatAllowFailure renders the ALLOW column: "yes" for legs excluded
// from the run verdict, "-" otherwise.
func FormatAllowFailure(allow bool) string {
	if allow {
		return "yes"
	}
	return "-"
}

// FormatEnvSummary joins a leg's merged environment for display, with
// values longer than the budget elided. Returns "-" for an empty
// environment.
func FormatEnvSummary(vars []model.EnvVar, max int) string {
	if len(vars) == 0 {
		return "-"
	}
	joined := strings.Join(model.EnvStrings(vars), " ")
	if max > 3 && len(joined) > max {
		joined = joined[:max-3] + "..."
	}
	return joined
}
