// Package cli — init.go implements the "cibox init" command.
//
// The init command writes a commented starter pipeline definition to
// .cibox.yml in the working directory, and optionally a runtime image
// override file. Existing files are never overwritten unless --force is
// given.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Releck/cibox/internal/model"
	"github.com/Releck/cibox/internal/pipeline"
	"github.com/Releck/cibox/internal/runtimes"
)

// initFlags holds the flag values for the init command.
type initFlags struct {
	language string // --language: language for the starter file
	force    bool   // --force: overwrite existing files
	runtimes bool   // --runtimes: also write .cibox/runtimes.json
}

// NewInitCommand creates the "init" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewInitCommand() *cobra.Command {
	flags := &initFlags{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter pipeline definition",
		Long: `Write a commented starter .cibox.yml to the working directory.

The starter shows the common shapes: a version axis, an env axis, shared
install/script phases, an include leg that replaces them, and a branch
allow-list. With --runtimes, a commented .cibox/runtimes.json override
for the docker backend is written as well.

Examples:
  cibox init
  cibox init --language go
  cibox init --runtimes`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(flags)
		},
	}

	cmd.Flags().StringVar(&flags.language, "language", "python",
		"Language for the starter definition")
	cmd.Flags().BoolVar(&flags.force, "force", false,
		"Overwrite existing files")
	cmd.Flags().BoolVar(&flags.runtimes, "runtimes", false,
		"Also write a .cibox/runtimes.json image override file")

	return cmd
}

// runInit is the main logic function for the init command.
func runInit(flags *initFlags) error {
	target := ".cibox.yml"
	if err := writeStarterFile(target, StarterPipeline(flags.language), flags.force); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", target)

	if flags.runtimes {
		overridePath := filepath.FromSlash(runtimes.FileRelPath)
		if err := os.MkdirAll(filepath.Dir(overridePath), 0o755); err != nil {
			return model.WrapCLIError(model.ExitGeneralError,
				"failed to create .cibox directory", err)
		}
		if err := writeStarterFile(overridePath, runtimes.StarterContent(flags.language), flags.force); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", overridePath)
	}

	return nil
}

// writeStarterFile writes content to path, refusing to clobber an
// existing file unless force is set.
func writeStarterFile(path string, content []byte, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return model.NewCLIError(model.ExitGeneralError,
				fmt.Sprintf("%s already exists (use --force to overwrite)", path))
		}
	}

	if err := os.WriteFile(path, content, 0o644); err != nil {
		return model.WrapCLIError(model.ExitGeneralError,
			fmt.Sprintf("failed to write %s", path), err)
	}
	return nil
}

// StarterPipeline returns the commented starter definition for a
// language. The file parses and lints clean as written.
//
// This function is exported for testing purposes (tested in init_test.go).
func StarterPipeline(language string) []byte {
	versionAxis := "3.12"
	switch language {
	case "go":
		versionAxis = "1.25"
	case "node_js":
		versionAxis = "22"
	case "ruby":
		versionAxis = "3.3"
	}

	content := `language: ` + language + `

# The version axis. Every version is combined with every env.jobs entry.
` + axisKeyForStarter(language) + `:
  - "` + versionAxis + `"

env:
  # global entries apply to every leg.
  global:
    - CI_PROJECT=example
  # jobs entries form an axis: one leg per entry per version.
  jobs:
    - TEST_SUITE=core
    - TEST_SUITE=results

# Shared phases, inherited by every leg that does not declare its own.
install:
  - echo "install dependencies here"
script:
  - echo "run the test suite here"

matrix:
  include:
    # An include leg with its own install/script replaces the shared
    # phases entirely; it never merges with them.
    - ` + axisKeyForStarter(language) + `: "` + versionAxis + `"
      env: TEST_SUITE=package
      install:
        - echo "install packaging tools here"
      script:
        - echo "build and smoke-test the package here"

branches:
  only:
    - master
    # Entries wrapped in slashes are regular expressions.
    - /^v\d+\.\d+\.\d+(-\S*)?$/
    - /^test(-\w+)+$/
`
	return []byte(content)
}

// axisKeyForStarter maps a language to its version axis key, falling
// back to the language name itself so unknown languages still produce a
// parseable (if lint-flagged) starter.
func axisKeyForStarter(language string) string {
	if key := pipeline.AxisKeyFor(language); key != "" {
		return key
	}
	return language
}
