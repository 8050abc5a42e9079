package pipeline

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Releck/cibox/internal/model"
)

// EnvEntry is one env declaration as written in the definition file. A
// single entry may define several variables ("A=1 B=2"); the whole entry
// still counts as one matrix axis value.
type EnvEntry struct {
	// Raw is the entry text exactly as written, used for leg naming and
	// for matrix exclude/allow_failures matching.
	Raw string

	// Vars holds the parsed variables in declaration order.
	Vars []model.EnvVar
}

// EnvSection is the normalized form of the `env` key, which YAML allows in
// three shapes:
//
//	env: GALLERYDL_TESTS=core            # single axis entry
//	env:                                 # list of axis entries
//	  - GALLERYDL_TESTS=core
//	  - GALLERYDL_TESTS=results
//	env:                                 # split form
//	  global:
//	    - PIP_DISABLE_PIP_VERSION_CHECK=1
//	  jobs:
//	    - GALLERYDL_TESTS=core
//
// Global entries apply to every leg and never multiply the matrix. Jobs
// entries form the env axis. The key `matrix` is accepted as an alias for
// `jobs` inside the split form.
type EnvSection struct {
	Global []EnvEntry
	Jobs   []EnvEntry
}

// GlobalVars flattens the global entries into one ordered variable list.
func (s EnvSection) GlobalVars() []model.EnvVar {
	var vars []model.EnvVar
	for _, e := range s.Global {
		vars = append(vars, e.Vars...)
	}
	return vars
}

// UnmarshalYAML accepts the three env shapes described on EnvSection.
func (s *EnvSection) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		entry, err := parseEnvEntryNode(value)
		if err != nil {
			return err
		}
		s.Jobs = []EnvEntry{entry}
		return nil

	case yaml.SequenceNode:
		entries, err := parseEnvEntryList(value)
		if err != nil {
			return err
		}
		s.Jobs = entries
		return nil

	case yaml.MappingNode:
		return s.unmarshalSplitForm(value)

	default:
		return fmt.Errorf("line %d: env must be a string, a list, or a global/jobs mapping", value.Line)
	}
}

// unmarshalSplitForm handles the mapping shape with global/jobs keys.
func (s *EnvSection) unmarshalSplitForm(value *yaml.Node) error {
	for i := 0; i+1 < len(value.Content); i += 2 {
		keyNode := value.Content[i]
		valNode := value.Content[i+1]

		switch keyNode.Value {
		case "global":
			entries, err := parseEnvEntryListOrScalar(valNode)
			if err != nil {
				return err
			}
			s.Global = entries
		case "jobs", "matrix":
			entries, err := parseEnvEntryListOrScalar(valNode)
			if err != nil {
				return err
			}
			s.Jobs = entries
		default:
			return fmt.Errorf("line %d: unknown env key %q (expected global, jobs)", keyNode.Line, keyNode.Value)
		}
	}
	return nil
}

// parseEnvEntryListOrScalar accepts either one entry or a sequence of them.
func parseEnvEntryListOrScalar(node *yaml.Node) ([]EnvEntry, error) {
	if node.Kind == yaml.ScalarNode {
		entry, err := parseEnvEntryNode(node)
		if err != nil {
			return nil, err
		}
		return []EnvEntry{entry}, nil
	}
	return parseEnvEntryList(node)
}

// parseEnvEntryList parses a sequence node of env entries.
func parseEnvEntryList(node *yaml.Node) ([]EnvEntry, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: expected a list of env entries", node.Line)
	}
	entries := make([]EnvEntry, 0, len(node.Content))
	for _, item := range node.Content {
		entry, err := parseEnvEntryNode(item)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// parseEnvEntryNode parses a single scalar env entry node.
func parseEnvEntryNode(node *yaml.Node) (EnvEntry, error) {
	if node.Kind != yaml.ScalarNode {
		return EnvEntry{}, fmt.Errorf("line %d: env entries must be KEY=VALUE strings", node.Line)
	}
	entry, err := ParseEnvEntry(node.Value)
	if err != nil {
		return EnvEntry{}, fmt.Errorf("line %d: %w", node.Line, err)
	}
	return entry, nil
}

// ParseEnvEntry parses one env entry string into its variables. Variables
// are separated by unquoted whitespace; quoted values may contain spaces.
func ParseEnvEntry(raw string) (EnvEntry, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return EnvEntry{}, fmt.Errorf("env entry must not be empty")
	}

	tokens := splitEnvTokens(trimmed)
	vars := make([]model.EnvVar, 0, len(tokens))
	for _, tok := range tokens {
		v, err := model.ParseEnvVar(tok)
		if err != nil {
			return EnvEntry{}, err
		}
		vars = append(vars, v)
	}

	return EnvEntry{Raw: trimmed, Vars: vars}, nil
}

// splitEnvTokens splits an env entry on whitespace, keeping quoted spans
// (single or double quotes) intact, quotes included.
func splitEnvTokens(s string) []string {
	var tokens []string
	var current strings.Builder
	var quote rune

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, r := range s {
		switch {
		case quote != 0:
			current.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
			current.WriteRune(r)
		case r == ' ' || r == '\t':
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()

	return tokens
}
