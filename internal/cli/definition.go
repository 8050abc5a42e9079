// Package cli — definition.go holds the pipeline definition resolution
// shared by the subcommands.
//
// Every definition-consuming command accepts an optional positional file
// argument. When absent, the working directory is probed for the standard
// file names (.cibox.yml, .cibox.yaml, .travis.yml). Errors surface as
// CLIError values so the root command maps them to exit codes.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Releck/cibox/internal/model"
	"github.com/Releck/cibox/internal/pipeline"
)

// resolveDefinition loads the pipeline definition named by args (one
// optional positional path) or found in the working directory. It returns
// the definition and the project directory: the absolute directory
// containing the file, which anchors step execution, runtime overrides
// and the history database.
func resolveDefinition(args []string) (*pipeline.Definition, string, error) {
	path, err := definitionPath(args)
	if err != nil {
		return nil, "", err
	}

	def, err := pipeline.Load(path)
	if err != nil {
		return nil, "", model.WrapCLIError(model.ExitValidationFailed,
			fmt.Sprintf("failed to load pipeline definition %s", path), err)
	}

	projectDir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, "", model.WrapCLIError(model.ExitGeneralError,
			"failed to resolve project directory", err)
	}

	VerboseLog("Loaded pipeline definition %s", path)
	return def, projectDir, nil
}

// definitionPath picks the definition file: the explicit argument when
// given, otherwise the first standard name present in the working
// directory.
func definitionPath(args []string) (string, error) {
	if len(args) > 0 {
		path := args[0]
		if _, err := os.Stat(path); err != nil {
			return "", model.WrapCLIError(model.ExitPipelineNotFound,
				fmt.Sprintf("pipeline definition %s not found", path), err)
		}
		return path, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", model.WrapCLIError(model.ExitGeneralError,
			"failed to determine working directory", err)
	}

	path, err := pipeline.Find(cwd)
	if err != nil {
		return "", model.WrapCLIError(model.ExitPipelineNotFound,
			fmt.Sprintf("no pipeline definition found in %s (tried %s)",
				cwd, strings.Join(pipeline.DefaultFileNames, ", ")), nil)
	}
	return path, nil
}
