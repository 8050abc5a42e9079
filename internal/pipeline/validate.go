package pipeline

import (
	"fmt"
	"strings"

	"github.com/Releck/cibox/internal/branchrule"
	"github.com/Releck/cibox/internal/model"
)

// ValidationError describes one lint finding in a pipeline definition.
// Findings with Warning set do not fail validation; they flag constructs
// that parse but will surprise (unknown keys, empty selectors).
type ValidationError struct {
	// Field identifies the offending key, in dotted path form
	// ("matrix.include[1].env").
	Field string

	// Message describes the problem.
	Message string

	// Warning marks non-fatal findings.
	Warning bool
}

// Error satisfies the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// HasErrors reports whether any finding is fatal.
func HasErrors(findings []ValidationError) bool {
	for _, f := range findings {
		if !f.Warning {
			return true
		}
	}
	return false
}

// AxisKeyFor returns the version axis key for a language, or the empty
// string for languages without a version axis.
func AxisKeyFor(language string) string {
	return axisKeys[language]
}

// EffectiveLanguage returns the language an include entry runs under: its
// own language key when set, otherwise the definition's.
func (e IncludeEntry) EffectiveLanguage(base string) string {
	if e.Language != "" {
		return e.Language
	}
	return base
}

// Validate lint-checks a parsed definition. It returns every finding,
// fatal ones first within each area, in file order where possible.
func Validate(def *Definition) []ValidationError {
	var findings []ValidationError

	findings = append(findings, validateLanguage(def)...)
	findings = append(findings, validateAxes(def)...)
	findings = append(findings, validatePhases(def)...)
	findings = append(findings, validateSnapAddons("addons.snaps", def.Snaps)...)
	findings = append(findings, validateMatrix(def)...)
	findings = append(findings, validateDuplicateLegs(def)...)
	findings = append(findings, validateBranches(def.Branches)...)

	for _, key := range def.UnknownKeys {
		findings = append(findings, ValidationError{
			Field:   key,
			Message: "key is not interpreted and will be ignored",
			Warning: true,
		})
	}

	return findings
}

func validateLanguage(def *Definition) []ValidationError {
	if def.Language == "" {
		return []ValidationError{{Field: "language", Message: "required"}}
	}
	if AxisKeyFor(def.Language) == "" && def.Language != "minimal" && def.Language != "generic" {
		return []ValidationError{{
			Field:   "language",
			Message: fmt.Sprintf("%q has no builtin runtime mapping; the docker backend needs a runtimes file entry", def.Language),
			Warning: true,
		}}
	}
	return nil
}

// validateAxes rejects version axes that do not belong to the declared
// language, and empty version values.
func validateAxes(def *Definition) []ValidationError {
	var findings []ValidationError

	own := AxisKeyFor(def.Language)
	for key, versions := range def.Axes {
		if key != own {
			findings = append(findings, ValidationError{
				Field:   key,
				Message: fmt.Sprintf("version axis does not apply to language %q", def.Language),
			})
			continue
		}
		for i, v := range versions {
			if v == "" {
				findings = append(findings, ValidationError{
					Field:   fmt.Sprintf("%s[%d]", key, i),
					Message: "version must not be empty",
				})
			}
		}
	}

	return findings
}

// validatePhases checks that every leg resolves to a non-empty script
// phase and that no phase contains empty commands.
func validatePhases(def *Definition) []ValidationError {
	var findings []ValidationError

	findings = append(findings, validateCommands("install", def.Install)...)
	findings = append(findings, validateCommands("script", def.Script)...)

	if len(def.Script) == 0 {
		if hasAxisLegs(def) {
			findings = append(findings, ValidationError{
				Field:   "script",
				Message: "required (axis legs inherit the shared script)",
			})
		}
		for i, inc := range def.Matrix.Include {
			if !inc.ScriptSet {
				findings = append(findings, ValidationError{
					Field:   fmt.Sprintf("matrix.include[%d].script", i),
					Message: "required (no shared script to inherit)",
				})
			}
		}
	}

	for i, inc := range def.Matrix.Include {
		prefix := fmt.Sprintf("matrix.include[%d]", i)
		if inc.ScriptSet && len(inc.Script) == 0 {
			findings = append(findings, ValidationError{
				Field:   prefix + ".script",
				Message: "must not be empty when declared",
			})
		}
		findings = append(findings, validateCommands(prefix+".install", inc.Install)...)
		findings = append(findings, validateCommands(prefix+".script", inc.Script)...)
	}

	return findings
}

func validateCommands(field string, commands []string) []ValidationError {
	var findings []ValidationError
	for i, cmd := range commands {
		if cmd == "" {
			findings = append(findings, ValidationError{
				Field:   fmt.Sprintf("%s[%d]", field, i),
				Message: "empty command",
			})
		}
	}
	return findings
}

// hasAxisLegs reports whether the definition produces legs outside
// matrix.include. Mirrors the expansion rule: the axis product is empty
// only when both axes are empty and at least one include entry exists.
func hasAxisLegs(def *Definition) bool {
	if len(def.Versions()) > 0 || len(def.Env.Jobs) > 0 {
		return true
	}
	return len(def.Matrix.Include) == 0
}

func validateSnapAddons(field string, snaps []model.SnapAddon) []ValidationError {
	var findings []ValidationError
	for i, snap := range snaps {
		prefix := fmt.Sprintf("%s[%d]", field, i)
		if snap.Name == "" {
			findings = append(findings, ValidationError{
				Field:   prefix + ".name",
				Message: "required",
			})
		}
		if snap.Classic && snap.Confinement != "" {
			findings = append(findings, ValidationError{
				Field:   prefix,
				Message: "classic and confinement are mutually exclusive",
			})
		}
		if snap.Confinement != "" && snap.Confinement != "classic" && snap.Confinement != "devmode" {
			findings = append(findings, ValidationError{
				Field:   prefix + ".confinement",
				Message: fmt.Sprintf("invalid confinement %q (valid: classic, devmode)", snap.Confinement),
			})
		}
	}
	return findings
}

func validateMatrix(def *Definition) []ValidationError {
	var findings []ValidationError

	for i, inc := range def.Matrix.Include {
		prefix := fmt.Sprintf("matrix.include[%d]", i)
		lang := inc.EffectiveLanguage(def.Language)

		if inc.VersionKey != "" && inc.VersionKey != AxisKeyFor(lang) {
			findings = append(findings, ValidationError{
				Field:   prefix + "." + inc.VersionKey,
				Message: fmt.Sprintf("version axis does not apply to language %q", lang),
			})
		}

		for j, e := range inc.Env {
			if len(e.Vars) == 0 && e.Raw != "" {
				if _, err := ParseEnvEntry(e.Raw); err != nil {
					findings = append(findings, ValidationError{
						Field:   fmt.Sprintf("%s.env[%d]", prefix, j),
						Message: err.Error(),
					})
				}
			}
		}

		findings = append(findings, validateSnapAddons(prefix+".snaps", inc.Snaps)...)
	}

	findings = append(findings, validateSelectors(def, "matrix.exclude", def.Matrix.Exclude)...)
	findings = append(findings, validateSelectors(def, "matrix.allow_failures", def.Matrix.AllowFailures)...)

	return findings
}

// validateSelectors warns about selectors that cannot match any leg: the
// empty selector, and selectors whose language/version/dist/env value
// appears nowhere in the definition. Such a selector is a typo that
// silently excludes (or allows) nothing.
func validateSelectors(def *Definition, field string, selectors []MatchEntry) []ValidationError {
	var findings []ValidationError
	for i, sel := range selectors {
		prefix := fmt.Sprintf("%s[%d]", field, i)

		if sel == (MatchEntry{}) {
			findings = append(findings, ValidationError{
				Field:   prefix,
				Message: "empty selector matches no leg",
				Warning: true,
			})
			continue
		}

		if sel.Language != "" && !selectorLanguageExists(def, sel.Language) {
			findings = append(findings, ValidationError{
				Field:   prefix + ".language",
				Message: fmt.Sprintf("language %q appears nowhere in the definition", sel.Language),
				Warning: true,
			})
		}
		if sel.Version != "" && !selectorVersionExists(def, sel.Version) {
			findings = append(findings, ValidationError{
				Field:   prefix,
				Message: fmt.Sprintf("version %q is not on any axis or include entry", sel.Version),
				Warning: true,
			})
		}
		if sel.Dist != "" && !selectorDistExists(def, sel.Dist) {
			findings = append(findings, ValidationError{
				Field:   prefix + ".dist",
				Message: fmt.Sprintf("dist %q appears nowhere in the definition", sel.Dist),
				Warning: true,
			})
		}
		if sel.Env != "" && !selectorEnvExists(def, sel.Env) {
			findings = append(findings, ValidationError{
				Field:   prefix + ".env",
				Message: fmt.Sprintf("env entry %q matches no env.jobs or include entry", sel.Env),
				Warning: true,
			})
		}
	}
	return findings
}

func selectorLanguageExists(def *Definition, language string) bool {
	if language == def.Language {
		return true
	}
	for _, inc := range def.Matrix.Include {
		if inc.Language == language {
			return true
		}
	}
	return false
}

func selectorVersionExists(def *Definition, version string) bool {
	for _, versions := range def.Axes {
		for _, v := range versions {
			if v == version {
				return true
			}
		}
	}
	for _, inc := range def.Matrix.Include {
		if inc.Version == version {
			return true
		}
	}
	return false
}

func selectorDistExists(def *Definition, dist string) bool {
	if dist == def.Dist {
		return true
	}
	for _, inc := range def.Matrix.Include {
		if inc.Dist == dist {
			return true
		}
	}
	return false
}

// selectorEnvExists mirrors the expander's env matching: the selector
// text is compared against each axis entry, and against an include
// entry's individual raws as well as their joined form.
func selectorEnvExists(def *Definition, env string) bool {
	for _, entry := range def.Env.Jobs {
		if entry.Raw == env {
			return true
		}
	}
	for _, inc := range def.Matrix.Include {
		raws := make([]string, 0, len(inc.Env))
		for _, e := range inc.Env {
			if e.Raw == env {
				return true
			}
			raws = append(raws, e.Raw)
		}
		if len(raws) > 1 && strings.Join(raws, " ") == env {
			return true
		}
	}
	return false
}

// validateDuplicateLegs flags legs with identical matrix coordinates.
// The candidate set mirrors the expansion rule (axis product, then
// include entries); exclusion is ignored because a selector matches
// coordinate-equal duplicates symmetrically and can never split a pair.
// Global env is uniform across legs and likewise cannot distinguish them.
func validateDuplicateLegs(def *Definition) []ValidationError {
	var findings []ValidationError
	seen := make(map[string]string)

	record := func(source string, leg model.Leg) {
		id := leg.Identity()
		first, ok := seen[id]
		if !ok {
			seen[id] = source
			return
		}
		findings = append(findings, ValidationError{
			Field:   source,
			Message: fmt.Sprintf("duplicate leg: same coordinates as %s", first),
			Warning: true,
		})
	}

	if hasAxisLegs(def) {
		versions := def.Versions()
		if len(versions) == 0 {
			versions = []string{""}
		}
		entries := def.Env.Jobs
		if len(entries) == 0 {
			entries = []EnvEntry{{}}
		}

		axisKey := def.AxisKey()
		for vi, version := range versions {
			for ei, entry := range entries {
				source := "axis product"
				if axisKey != "" {
					source = fmt.Sprintf("%s[%d]", axisKey, vi)
				}
				if len(def.Env.Jobs) > 0 {
					source = fmt.Sprintf("%s + env.jobs[%d]", source, ei)
				}
				record(source, model.Leg{
					Language: def.Language,
					Version:  version,
					Dist:     def.Dist,
					Env:      entry.Vars,
				})
			}
		}
	}

	for i, inc := range def.Matrix.Include {
		leg := model.Leg{
			Language: inc.EffectiveLanguage(def.Language),
			Version:  inc.Version,
			Dist:     def.Dist,
		}
		if inc.Dist != "" {
			leg.Dist = inc.Dist
		}
		if inc.EnvSet {
			for _, e := range inc.Env {
				leg.Env = append(leg.Env, e.Vars...)
			}
		}
		record(fmt.Sprintf("matrix.include[%d]", i), leg)
	}

	return findings
}

func validateBranches(branches *Branches) []ValidationError {
	if branches == nil {
		return nil
	}

	var findings []ValidationError
	for i, entry := range branches.Only {
		if _, err := branchrule.ParseRule(entry); err != nil {
			findings = append(findings, ValidationError{
				Field:   fmt.Sprintf("branches.only[%d]", i),
				Message: err.Error(),
			})
		}
	}
	for i, entry := range branches.Except {
		if _, err := branchrule.ParseRule(entry); err != nil {
			findings = append(findings, ValidationError{
				Field:   fmt.Sprintf("branches.except[%d]", i),
				Message: err.Error(),
			})
		}
	}
	return findings
}
