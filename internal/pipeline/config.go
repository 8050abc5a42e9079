// Package pipeline loads and validates CI pipeline definition files.
//
// A definition file is a Travis-style YAML document declaring a language,
// one version axis, shared env/install/script keys, an optional matrix
// section with include/exclude/allow_failures, optional snap addons and an
// optional branch allow-list. Parsing normalizes YAML's flexible shapes
// (scalar or list, string or mapping) into one canonical Definition that
// the matrix expander and the lint checks consume.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Releck/cibox/internal/model"
)

// DefaultFileNames are the definition file names probed by Find, in order.
var DefaultFileNames = []string{".cibox.yml", ".cibox.yaml", ".travis.yml"}

// axisKeys maps a language to its version axis key in the definition file.
// Languages without an entry ("minimal", "generic") carry no version axis.
var axisKeys = map[string]string{
	"python":  "python",
	"go":      "go",
	"node_js": "node_js",
	"ruby":    "ruby",
	"php":     "php",
}

// knownTopLevelKeys are the definition keys cibox understands. Other keys
// parse without error and are reported as lint warnings.
var knownTopLevelKeys = map[string]bool{
	"language": true,
	"python":   true,
	"go":       true,
	"node_js":  true,
	"ruby":     true,
	"php":      true,
	"dist":     true,
	"env":      true,
	"install":  true,
	"script":   true,
	"addons":   true,
	"matrix":   true,
	"jobs":     true,
	"branches": true,
}

// StringList is a YAML value that may be written as a single scalar or as
// a sequence of scalars. Scalars keep their literal text, so unquoted
// version numbers like 3.10 survive without float truncation.
type StringList []string

// UnmarshalYAML accepts a scalar or a sequence of scalars.
func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*l = StringList{value.Value}
		return nil
	case yaml.SequenceNode:
		items := make([]string, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: expected a string", item.Line)
			}
			items = append(items, item.Value)
		}
		*l = StringList(items)
		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", value.Line)
	}
}

// snapEntry is one `addons.snaps` item: either a bare snap name or a
// mapping with name/classic/confinement keys.
type snapEntry struct {
	Name        string `yaml:"name"`
	Classic     bool   `yaml:"classic"`
	Confinement string `yaml:"confinement"`
}

func (s *snapEntry) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		s.Name = value.Value
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: snap entry must be a name or a mapping", value.Line)
	}
	type plain snapEntry
	return value.Decode((*plain)(s))
}

// rawAddons mirrors the `addons` mapping. Only snaps are interpreted.
type rawAddons struct {
	Snaps []snapEntry `yaml:"snaps"`
}

// rawInclude mirrors one `matrix.include` entry before normalization.
type rawInclude struct {
	Name     string      `yaml:"name"`
	Language string      `yaml:"language"`
	Python   StringList  `yaml:"python"`
	Go       StringList  `yaml:"go"`
	NodeJS   StringList  `yaml:"node_js"`
	Ruby     StringList  `yaml:"ruby"`
	PHP      StringList  `yaml:"php"`
	Dist     string      `yaml:"dist"`
	Env      *StringList `yaml:"env"`
	Install  *StringList `yaml:"install"`
	Script   *StringList `yaml:"script"`
	Addons   *rawAddons  `yaml:"addons"`

	line int
}

// UnmarshalYAML decodes the entry and records its source line for lint
// messages.
func (r *rawInclude) UnmarshalYAML(value *yaml.Node) error {
	type plain rawInclude
	if err := value.Decode((*plain)(r)); err != nil {
		return err
	}
	r.line = value.Line
	return nil
}

// rawMatch mirrors one `matrix.exclude` or `matrix.allow_failures` entry.
type rawMatch struct {
	Language string     `yaml:"language"`
	Python   StringList `yaml:"python"`
	Go       StringList `yaml:"go"`
	NodeJS   StringList `yaml:"node_js"`
	Ruby     StringList `yaml:"ruby"`
	PHP      StringList `yaml:"php"`
	Dist     string     `yaml:"dist"`
	Env      string     `yaml:"env"`
}

// rawMatrix mirrors the `matrix` (or `jobs`) mapping.
type rawMatrix struct {
	Include       []rawInclude `yaml:"include"`
	Exclude       []rawMatch   `yaml:"exclude"`
	AllowFailures []rawMatch   `yaml:"allow_failures"`
	FastFinish    bool         `yaml:"fast_finish"`
}

// rawBranches mirrors the `branches` mapping.
type rawBranches struct {
	Only   StringList `yaml:"only"`
	Except StringList `yaml:"except"`
}

// rawDefinition is the direct YAML image of a definition file. Normalization
// into Definition happens after decoding so that all shape flexibility is
// resolved in one place.
type rawDefinition struct {
	Language string       `yaml:"language"`
	Python   StringList   `yaml:"python"`
	Go       StringList   `yaml:"go"`
	NodeJS   StringList   `yaml:"node_js"`
	Ruby     StringList   `yaml:"ruby"`
	PHP      StringList   `yaml:"php"`
	Dist     string       `yaml:"dist"`
	Env      EnvSection   `yaml:"env"`
	Install  StringList   `yaml:"install"`
	Script   StringList   `yaml:"script"`
	Addons   *rawAddons   `yaml:"addons"`
	Matrix   *rawMatrix   `yaml:"matrix"`
	Jobs     *rawMatrix   `yaml:"jobs"`
	Branches *rawBranches `yaml:"branches"`
}

// IncludeEntry is one normalized `matrix.include` leg declaration.
type IncludeEntry struct {
	// Name is the optional explicit job name. Empty means the name is
	// derived from language, version and env.
	Name string

	// Language overrides the top-level language when non-empty.
	Language string

	// Version is the entry's version, taken from its language axis key.
	// VersionKey records which axis key supplied it, for lint checks.
	Version    string
	VersionKey string

	// Dist overrides the top-level dist when non-empty.
	Dist string

	// Env holds the entry's env declarations. All entries apply to this
	// one leg. EnvSet distinguishes an absent env key from an empty one.
	Env    []EnvEntry
	EnvSet bool

	// Install and Script replace the shared phases entirely when set.
	// When unset the leg inherits the shared phase.
	Install    []string
	InstallSet bool
	Script     []string
	ScriptSet  bool

	// Snaps holds the entry's addons.snaps requests.
	Snaps []model.SnapAddon

	// Line is the entry's line in the source file, for lint messages.
	Line int
}

// MatchEntry is one normalized `matrix.exclude` or `matrix.allow_failures`
// selector. Only the fields written in the file are set; a leg matches
// when every set field equals the leg's corresponding coordinate.
type MatchEntry struct {
	Language string
	Version  string
	Dist     string

	// Env matches the leg's own env axis entry text, not the merged
	// environment.
	Env string
}

// Matrix is the normalized matrix section.
type Matrix struct {
	Include       []IncludeEntry
	Exclude       []MatchEntry
	AllowFailures []MatchEntry

	// FastFinish cancels remaining legs once a counted leg fails.
	FastFinish bool
}

// Branches is the branch allow-list. Entries wrapped in slashes are
// regular expressions; all other entries match exactly.
type Branches struct {
	Only   []string
	Except []string
}

// Definition is a fully normalized pipeline definition.
type Definition struct {
	// Path is the file the definition was loaded from. Empty for
	// definitions parsed from memory.
	Path string

	// Language is the top-level language key, verbatim.
	Language string

	// Dist is the top-level execution image hint.
	Dist string

	// Axes holds every version axis present in the file, keyed by axis
	// key. Lint reports axes that do not belong to Language.
	Axes map[string][]string

	// Env is the normalized env section.
	Env EnvSection

	// Install and Script are the shared phases inherited by every axis
	// leg and by include legs that do not declare their own.
	Install []string
	Script  []string

	// Snaps holds top-level addons.snaps requests, inherited by axis legs.
	Snaps []model.SnapAddon

	// Matrix is the normalized matrix section. The zero value means no
	// include/exclude entries.
	Matrix Matrix

	// Branches is the branch allow-list. Nil when the file has none,
	// which permits every branch.
	Branches *Branches

	// UnknownKeys lists top-level keys cibox does not interpret, in file
	// order.
	UnknownKeys []string
}

// AxisKey returns the version axis key for the definition's language, or
// the empty string for languages without a version axis.
func (d *Definition) AxisKey() string {
	return axisKeys[d.Language]
}

// Versions returns the version axis for the definition's language. A
// definition without versions expands to a single leg with an empty
// version.
func (d *Definition) Versions() []string {
	key := d.AxisKey()
	if key == "" {
		return nil
	}
	return d.Axes[key]
}

// Load reads and parses the definition file at path.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline definition: %w", err)
	}

	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	def.Path = path
	return def, nil
}

// Find probes dir for a definition file, trying DefaultFileNames in order.
// Returns the path of the first file that exists.
func Find(dir string) (string, error) {
	for _, name := range DefaultFileNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("no pipeline definition found in %s (tried %v)", dir, DefaultFileNames)
}

// Parse decodes a definition document and normalizes it.
func Parse(data []byte) (*Definition, error) {
	var raw rawDefinition
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	def := &Definition{
		Language: raw.Language,
		Dist:     raw.Dist,
		Env:      raw.Env,
		Install:  []string(raw.Install),
		Script:   []string(raw.Script),
		Axes:     collectAxes(raw.Python, raw.Go, raw.NodeJS, raw.Ruby, raw.PHP),
		Snaps:    normalizeSnaps(raw.Addons),
	}

	matrix := raw.Matrix
	if matrix == nil {
		matrix = raw.Jobs
	} else if raw.Jobs != nil {
		return nil, fmt.Errorf("matrix and jobs are aliases, declare only one")
	}
	if matrix != nil {
		def.Matrix = normalizeMatrix(matrix)
	}

	if raw.Branches != nil {
		def.Branches = &Branches{
			Only:   []string(raw.Branches.Only),
			Except: []string(raw.Branches.Except),
		}
	}

	def.UnknownKeys = collectUnknownKeys(data)

	return def, nil
}

// collectAxes gathers the non-empty version axes keyed by axis key.
func collectAxes(python, goVers, nodeJS, ruby, php StringList) map[string][]string {
	axes := make(map[string][]string)
	for key, list := range map[string]StringList{
		"python":  python,
		"go":      goVers,
		"node_js": nodeJS,
		"ruby":    ruby,
		"php":     php,
	} {
		if len(list) > 0 {
			axes[key] = []string(list)
		}
	}
	return axes
}

// normalizeSnaps converts raw snap entries to model addons.
func normalizeSnaps(addons *rawAddons) []model.SnapAddon {
	if addons == nil || len(addons.Snaps) == 0 {
		return nil
	}
	snaps := make([]model.SnapAddon, 0, len(addons.Snaps))
	for _, s := range addons.Snaps {
		snaps = append(snaps, model.SnapAddon{
			Name:        s.Name,
			Classic:     s.Classic,
			Confinement: s.Confinement,
		})
	}
	return snaps
}

// normalizeMatrix converts the raw matrix section.
func normalizeMatrix(raw *rawMatrix) Matrix {
	m := Matrix{FastFinish: raw.FastFinish}

	for _, inc := range raw.Include {
		m.Include = append(m.Include, normalizeInclude(inc))
	}
	for _, ex := range raw.Exclude {
		m.Exclude = append(m.Exclude, normalizeMatch(ex))
	}
	for _, af := range raw.AllowFailures {
		m.AllowFailures = append(m.AllowFailures, normalizeMatch(af))
	}

	return m
}

// normalizeInclude converts one raw include entry. Env entries that fail to
// parse are kept raw so lint can report them with context; expansion
// re-parses and surfaces the same error.
func normalizeInclude(raw rawInclude) IncludeEntry {
	key, version := firstVersion(raw.Python, raw.Go, raw.NodeJS, raw.Ruby, raw.PHP)
	entry := IncludeEntry{
		Name:       raw.Name,
		Language:   raw.Language,
		Version:    version,
		VersionKey: key,
		Dist:       raw.Dist,
		Snaps:      normalizeSnaps(raw.Addons),
		Line:       raw.line,
	}

	if raw.Env != nil {
		entry.EnvSet = true
		for _, e := range *raw.Env {
			parsed, err := ParseEnvEntry(e)
			if err != nil {
				parsed = EnvEntry{Raw: e}
			}
			entry.Env = append(entry.Env, parsed)
		}
	}
	if raw.Install != nil {
		entry.InstallSet = true
		entry.Install = []string(*raw.Install)
	}
	if raw.Script != nil {
		entry.ScriptSet = true
		entry.Script = []string(*raw.Script)
	}

	return entry
}

// normalizeMatch converts one raw exclude/allow_failures selector.
func normalizeMatch(raw rawMatch) MatchEntry {
	_, version := firstVersion(raw.Python, raw.Go, raw.NodeJS, raw.Ruby, raw.PHP)
	return MatchEntry{
		Language: raw.Language,
		Version:  version,
		Dist:     raw.Dist,
		Env:      raw.Env,
	}
}

// firstVersion returns the first axis key carrying a version, with its
// first value. Matrix entries declare at most one axis key with one value;
// lint enforces that.
func firstVersion(python, goVers, nodeJS, ruby, php StringList) (string, string) {
	for _, axis := range []struct {
		key  string
		list StringList
	}{
		{"python", python},
		{"go", goVers},
		{"node_js", nodeJS},
		{"ruby", ruby},
		{"php", php},
	} {
		if len(axis.list) > 0 {
			return axis.key, axis.list[0]
		}
	}
	return "", ""
}

// collectUnknownKeys walks the document's top-level mapping and returns
// keys outside knownTopLevelKeys, in file order.
func collectUnknownKeys(data []byte) []string {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil || len(doc.Content) == 0 {
		return nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil
	}

	var unknown []string
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		if !knownTopLevelKeys[key] {
			unknown = append(unknown, key)
		}
	}
	return unknown
}
