// Package cli — lint.go implements the "cibox lint" command.
//
// The lint command checks the structural properties of a pipeline
// definition: every expanded leg must resolve to exactly one non-empty
// install and script sequence, env entries must be well-formed KEY=VALUE
// pairs, branch rules must compile, matrix selectors must reference axis
// values that exist, and duplicate legs are flagged. Findings are printed
// as a text list or JSON array; any finding fails the command.
package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Releck/cibox/internal/model"
	"github.com/Releck/cibox/internal/pipeline"
)

// NewLintCommand creates the "lint" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewLintCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lint [file]",
		Short: "Check a pipeline definition for structural problems",
		Long: `Check a pipeline definition for structural problems.

Without an argument, the working directory is probed for .cibox.yml,
.cibox.yaml, and .travis.yml in that order.

Examples:
  cibox lint
  cibox lint .travis.yml
  cibox lint --json`,

		Args: cobra.MaximumNArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			return runLint(args)
		},
	}
}

// runLint is the main logic function for the lint command.
func runLint(args []string) error {
	def, _, err := resolveDefinition(args)
	if err != nil {
		return err
	}

	findings := pipeline.Validate(def)
	printLintResult(def, findings)

	if pipeline.HasErrors(findings) {
		return model.NewCLIError(model.ExitValidationFailed,
			fmt.Sprintf("%d problem(s) found in %s", len(findings), def.Path))
	}
	return nil
}

// printLintResult outputs the findings in text or JSON format, depending
// on the global --json flag. Unknown top-level keys are reported as
// informational notes; they never fail the lint.
func printLintResult(def *pipeline.Definition, findings []pipeline.ValidationError) {
	if IsJSONOutput() {
		// findingJSON is the JSON output structure for one lint finding.
		type findingJSON struct {
			Field   string `json:"field"`
			Message string `json:"message"`
			Warning bool   `json:"warning,omitempty"`
		}
		type resultJSON struct {
			File        string        `json:"file"`
			Valid       bool          `json:"valid"`
			Findings    []findingJSON `json:"findings"`
			UnknownKeys []string      `json:"unknownKeys,omitempty"`
		}

		result := resultJSON{
			File:  def.Path,
			Valid: !pipeline.HasErrors(findings),
			// Empty slice instead of nil so JSON output shows [] for a
			// clean file instead of null.
			Findings:    make([]findingJSON, 0, len(findings)),
			UnknownKeys: def.UnknownKeys,
		}
		for _, f := range findings {
			result.Findings = append(result.Findings, findingJSON{
				Field:   f.Field,
				Message: f.Message,
				Warning: f.Warning,
			})
		}

		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
		return
	}

	for _, key := range def.UnknownKeys {
		fmt.Printf("note: unknown top-level key %q is ignored\n", key)
	}

	if len(findings) == 0 {
		fmt.Printf("%s: no problems found\n", def.Path)
		return
	}

	for _, finding := range findings {
		severity := "error"
		if finding.Warning {
			severity = "warning"
		}
		fmt.Printf("%s: %s: %s: %s\n", def.Path, severity, finding.Field, finding.Message)
	}
}
