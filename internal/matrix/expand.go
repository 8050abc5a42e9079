package matrix

import (
	"fmt"
	"strings"

	"github.com/Releck/cibox/internal/model"
	"github.com/Releck/cibox/internal/pipeline"
)

// candidate is a leg under construction, before allow_failures matching
// and index assignment.
type candidate struct {
	language string
	version  string
	dist     string

	// envRaws holds the leg's own env declarations as written, axis
	// entry or include entries. Selector matching and naming use these.
	envRaws []string

	// envVars holds the parsed form of envRaws, in order.
	envVars []model.EnvVar

	install []string
	script  []string
	snaps   []model.SnapAddon

	// name is an explicit job name from the include entry, if any.
	name string

	fromInclude  bool
	allowFailure bool
}

// Expand turns a parsed definition into its ordered leg list.
func Expand(def *pipeline.Definition) ([]model.Leg, error) {
	candidates := axisCandidates(def)

	for i, inc := range def.Matrix.Include {
		c, err := includeCandidate(def, inc)
		if err != nil {
			return nil, fmt.Errorf("matrix.include[%d]: %w", i, err)
		}
		candidates = append(candidates, c)
	}

	for i := range candidates {
		for _, sel := range def.Matrix.AllowFailures {
			if matchesSelector(candidates[i], sel) {
				candidates[i].allowFailure = true
				break
			}
		}
	}

	globals := def.Env.GlobalVars()
	legs := make([]model.Leg, 0, len(candidates))
	for _, c := range candidates {
		legs = append(legs, buildLeg(c, globals, len(legs)+1))
	}

	return legs, nil
}

// axisCandidates builds the version × env product, minus excluded legs.
// When both axes are empty the product is a single default leg, except
// that include entries fully replace an otherwise empty matrix.
func axisCandidates(def *pipeline.Definition) []candidate {
	versions := def.Versions()
	envJobs := def.Env.Jobs

	if len(versions) == 0 && len(envJobs) == 0 && len(def.Matrix.Include) > 0 {
		return nil
	}
	if len(versions) == 0 {
		versions = []string{""}
	}
	entries := envJobs
	if len(entries) == 0 {
		entries = []pipeline.EnvEntry{{}}
	}

	var candidates []candidate
	for _, version := range versions {
		for _, entry := range entries {
			c := candidate{
				language: def.Language,
				version:  version,
				dist:     def.Dist,
				install:  def.Install,
				script:   def.Script,
				snaps:    def.Snaps,
			}
			if entry.Raw != "" {
				c.envRaws = []string{entry.Raw}
				c.envVars = entry.Vars
			}
			if excluded(c, def.Matrix.Exclude) {
				continue
			}
			candidates = append(candidates, c)
		}
	}

	return candidates
}

// includeCandidate builds one leg from a matrix.include entry. Declared
// keys replace the shared value entirely; absent keys inherit it.
func includeCandidate(def *pipeline.Definition, inc pipeline.IncludeEntry) (candidate, error) {
	c := candidate{
		language:    inc.EffectiveLanguage(def.Language),
		version:     inc.Version,
		dist:        def.Dist,
		install:     def.Install,
		script:      def.Script,
		snaps:       def.Snaps,
		name:        inc.Name,
		fromInclude: true,
	}

	if inc.Dist != "" {
		c.dist = inc.Dist
	}
	if inc.InstallSet {
		c.install = inc.Install
	}
	if inc.ScriptSet {
		c.script = inc.Script
	}
	if len(inc.Snaps) > 0 {
		c.snaps = inc.Snaps
	}

	if inc.EnvSet {
		for _, entry := range inc.Env {
			if len(entry.Vars) == 0 && entry.Raw != "" {
				// Normalization kept the unparsable entry raw; surface
				// the parse error here.
				if _, err := pipeline.ParseEnvEntry(entry.Raw); err != nil {
					return candidate{}, fmt.Errorf("env: %w", err)
				}
			}
			c.envRaws = append(c.envRaws, entry.Raw)
			c.envVars = append(c.envVars, entry.Vars...)
		}
	}

	return c, nil
}

// excluded reports whether any selector matches the candidate.
func excluded(c candidate, selectors []pipeline.MatchEntry) bool {
	for _, sel := range selectors {
		if matchesSelector(c, sel) {
			return true
		}
	}
	return false
}

// matchesSelector reports whether every field the selector sets equals the
// candidate's coordinate. An empty selector matches nothing.
func matchesSelector(c candidate, sel pipeline.MatchEntry) bool {
	if sel == (pipeline.MatchEntry{}) {
		return false
	}
	if sel.Language != "" && sel.Language != c.language {
		return false
	}
	if sel.Version != "" && sel.Version != c.version {
		return false
	}
	if sel.Dist != "" && sel.Dist != c.dist {
		return false
	}
	if sel.Env != "" && !matchesEnv(c, sel.Env) {
		return false
	}
	return true
}

// matchesEnv compares the selector's env text against the candidate's own
// env declarations: the joined form first, then each entry on its own.
func matchesEnv(c candidate, env string) bool {
	if strings.Join(c.envRaws, " ") == env {
		return true
	}
	for _, raw := range c.envRaws {
		if raw == env {
			return true
		}
	}
	return false
}

// buildLeg finalizes a candidate into a model.Leg with merged env and a
// derived name.
func buildLeg(c candidate, globals []model.EnvVar, index int) model.Leg {
	name := c.name
	if name == "" {
		name = legName(c)
	}

	return model.Leg{
		Index:        index,
		Name:         name,
		Language:     c.language,
		Version:      c.version,
		Dist:         c.dist,
		Env:          model.MergeEnv(globals, c.envVars),
		Install:      c.install,
		Script:       c.script,
		Snaps:        c.snaps,
		AllowFailure: c.allowFailure,
	}
}

// legName derives the display name from the leg's coordinates:
// "<language> <version> <env entry>", skipping empty parts.
func legName(c candidate) string {
	parts := []string{c.language}
	if c.version != "" {
		parts = append(parts, c.version)
	}
	if len(c.envRaws) > 0 {
		parts = append(parts, strings.Join(c.envRaws, " "))
	}
	return strings.Join(parts, " ")
}
