// Package runtimes resolves matrix legs to container images.
//
// The builtin mapping covers the stock languages (python, go, node_js,
// ruby, php) through image templates and a handful of special-cased
// versions, plus dist-based Ubuntu images for versionless languages. A
// project can override or extend the mapping with a .cibox/runtimes.json
// file. The file is JSONC: comments and trailing commas are allowed, same
// as devcontainer-style configuration files.
package runtimes

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/Releck/cibox/internal/model"
)

// FileRelPath is the project-relative location of the override file.
const FileRelPath = ".cibox/runtimes.json"

// LanguageImages maps one language's versions to images.
type LanguageImages struct {
	// Template is a printf-style pattern with one %s for the version,
	// e.g. "python:%s". Used when Versions has no exact entry.
	Template string `json:"template,omitempty"`

	// Versions maps exact version strings to images, overriding Template.
	Versions map[string]string `json:"versions,omitempty"`

	// Default is the image for legs of this language without a version.
	Default string `json:"default,omitempty"`
}

// Mapping resolves legs to images. The zero value resolves nothing; start
// from Builtin and merge overrides into it.
type Mapping struct {
	// Languages maps language names to their image rules.
	Languages map[string]LanguageImages `json:"languages,omitempty"`

	// Dists maps dist names to images, used for legs whose language has
	// no mapping of its own ("minimal", "generic").
	Dists map[string]string `json:"dists,omitempty"`

	// Default is the image of last resort.
	Default string `json:"default,omitempty"`
}

// Builtin returns the stock mapping.
func Builtin() Mapping {
	return Mapping{
		Languages: map[string]LanguageImages{
			"python": {
				Template: "python:%s",
				Versions: map[string]string{
					"nightly": "python:rc",
					"pypy3":   "pypy:3",
					"3.8-dev": "python:3.8-rc",
				},
				Default: "python:3",
			},
			"go":      {Template: "golang:%s", Default: "golang:latest"},
			"node_js": {Template: "node:%s", Default: "node:lts"},
			"ruby":    {Template: "ruby:%s", Default: "ruby:latest"},
			"php":     {Template: "php:%s", Default: "php:cli"},
		},
		Dists: map[string]string{
			"trusty": "ubuntu:14.04",
			"xenial": "ubuntu:16.04",
			"bionic": "ubuntu:18.04",
			"focal":  "ubuntu:20.04",
			"jammy":  "ubuntu:22.04",
		},
		Default: "ubuntu:20.04",
	}
}

// Load returns the builtin mapping with the project override file merged
// in, when dir contains one. A missing file is not an error.
func Load(dir string) (Mapping, error) {
	mapping := Builtin()

	path := filepath.Join(dir, filepath.FromSlash(FileRelPath))
	override, err := LoadFile(path)
	if os.IsNotExist(err) {
		return mapping, nil
	}
	if err != nil {
		return Mapping{}, err
	}

	return mapping.Merge(override), nil
}

// LoadFile reads one runtimes override file. The file may contain JSONC
// comments and trailing commas.
func LoadFile(path string) (Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Mapping{}, err
	}

	var mapping Mapping
	if err := json.Unmarshal(jsonc.ToJSON(data), &mapping); err != nil {
		return Mapping{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return mapping, nil
}

// Merge overlays override onto the mapping. Override languages merge at
// the version level; override dists and defaults win wholesale.
func (m Mapping) Merge(override Mapping) Mapping {
	merged := Mapping{
		Languages: make(map[string]LanguageImages, len(m.Languages)),
		Dists:     make(map[string]string, len(m.Dists)),
		Default:   m.Default,
	}

	for lang, images := range m.Languages {
		merged.Languages[lang] = images
	}
	for lang, images := range override.Languages {
		merged.Languages[lang] = mergeLanguage(merged.Languages[lang], images)
	}

	for dist, image := range m.Dists {
		merged.Dists[dist] = image
	}
	for dist, image := range override.Dists {
		merged.Dists[dist] = image
	}

	if override.Default != "" {
		merged.Default = override.Default
	}

	return merged
}

func mergeLanguage(base, override LanguageImages) LanguageImages {
	merged := base
	if override.Template != "" {
		merged.Template = override.Template
	}
	if override.Default != "" {
		merged.Default = override.Default
	}
	if len(override.Versions) > 0 {
		versions := make(map[string]string, len(base.Versions)+len(override.Versions))
		for v, img := range base.Versions {
			versions[v] = img
		}
		for v, img := range override.Versions {
			versions[v] = img
		}
		merged.Versions = versions
	}
	return merged
}

// Resolve returns the image for a leg. Lookup order: the language's exact
// version entry, then its template, then its default, then the leg's dist,
// then the mapping default.
func (m Mapping) Resolve(leg model.Leg) (string, error) {
	if images, ok := m.Languages[leg.Language]; ok {
		if image, ok := images.Versions[leg.Version]; ok && leg.Version != "" {
			return image, nil
		}
		if leg.Version != "" && images.Template != "" {
			return fmt.Sprintf(images.Template, leg.Version), nil
		}
		if leg.Version == "" && images.Default != "" {
			return images.Default, nil
		}
		if leg.Version != "" {
			return "", fmt.Errorf("no image for %s %s: language mapping has no template or version entry", leg.Language, leg.Version)
		}
	}

	if leg.Dist != "" {
		if image, ok := m.Dists[leg.Dist]; ok {
			return image, nil
		}
		return "", fmt.Errorf("no image for dist %q", leg.Dist)
	}

	if m.Default != "" {
		return m.Default, nil
	}

	return "", fmt.Errorf("no image for language %q", leg.Language)
}

// StarterContent is the commented override file written by `cibox init`.
// It parses as JSONC and documents the override syntax in place.
func StarterContent(language string) []byte {
	var b strings.Builder
	b.WriteString("{\n")
	b.WriteString("  // Override or extend the builtin image mapping.\n")
	b.WriteString("  // Exact version entries win over the template.\n")
	b.WriteString("  \"languages\": {\n")
	fmt.Fprintf(&b, "    %q: {\n", language)
	b.WriteString("      // \"template\": \"python:%s\",\n")
	b.WriteString("      \"versions\": {\n")
	b.WriteString("        // \"nightly\": \"python:rc\",\n")
	b.WriteString("      },\n")
	b.WriteString("    },\n")
	b.WriteString("  },\n")
	b.WriteString("  // Images for versionless legs, selected by dist.\n")
	b.WriteString("  \"dists\": {\n")
	b.WriteString("    // \"xenial\": \"ubuntu:16.04\",\n")
	b.WriteString("  },\n")
	b.WriteString("}\n")
	return []byte(b.String())
}
