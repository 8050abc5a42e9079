package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Releck/cibox/internal/model"
	"github.com/Releck/cibox/internal/pipeline"
)

// releaseStyleDefinition mirrors a typical interpreter test matrix: a
// version axis with one env entry, one extra include leg on a pinned
// version, and a self-contained packaging leg that replaces both phases.
const releaseStyleDefinition = `
language: python
python:
  - "3.4"
  - "3.5"
  - "3.6"
  - "3.7"
  - "3.8"
  - "3.8-dev"
  - "nightly"
  - "pypy3"
env:
  - GALLERYDL_TESTS=core
install:
  - pip install -r requirements.txt
script:
  - make test
matrix:
  include:
    - python: "3.8"
      env: GALLERYDL_TESTS=results
    - language: minimal
      env: GALLERYDL_TESTS=snap
      addons:
        snaps:
          - name: snapcraft
            confinement: classic
          - name: lxd
      install:
        - sudo apt polish
        - sudo snap set lxd waitready
      script:
        - snapcraft --use-lxd
`

func mustParse(t *testing.T, source string) *pipeline.Definition {
	t.Helper()
	def, err := pipeline.Parse([]byte(source))
	require.NoError(t, err)
	return def
}

func TestExpand_AxisProductPlusIncludes(t *testing.T) {
	def := mustParse(t, releaseStyleDefinition)

	legs, err := Expand(def)
	require.NoError(t, err)
	require.Len(t, legs, 10)

	t.Run("axis legs come first in declaration order", func(t *testing.T) {
		assert.Equal(t, "python 3.4 GALLERYDL_TESTS=core", legs[0].Name)
		assert.Equal(t, "python pypy3 GALLERYDL_TESTS=core", legs[7].Name)
		for i, leg := range legs[:8] {
			assert.Equal(t, i+1, leg.Index)
			assert.Equal(t, "python", leg.Language)
			assert.Equal(t, []model.EnvVar{{Key: "GALLERYDL_TESTS", Value: "core"}}, leg.Env)
		}
	})

	t.Run("axis legs share install and script", func(t *testing.T) {
		for _, leg := range legs[:8] {
			assert.Equal(t, []string{"pip install -r requirements.txt"}, leg.Install)
			assert.Equal(t, []string{"make test"}, leg.Script)
		}
	})

	t.Run("include leg inherits shared phases when silent", func(t *testing.T) {
		results := legs[8]
		assert.Equal(t, "python 3.8 GALLERYDL_TESTS=results", results.Name)
		assert.Equal(t, "3.8", results.Version)
		assert.Equal(t, []string{"pip install -r requirements.txt"}, results.Install)
		assert.Equal(t, []string{"make test"}, results.Script)
		assert.Equal(t, []model.EnvVar{{Key: "GALLERYDL_TESTS", Value: "results"}}, results.Env)
	})

	t.Run("include leg replaces phases it declares", func(t *testing.T) {
		snap := legs[9]
		assert.Equal(t, "minimal GALLERYDL_TESTS=snap", snap.Name)
		assert.Equal(t, "minimal", snap.Language)
		assert.Empty(t, snap.Version)
		assert.Equal(t, []string{"sudo apt polish", "sudo snap set lxd waitready"}, snap.Install)
		assert.Equal(t, []string{"snapcraft --use-lxd"}, snap.Script)
		assert.NotContains(t, snap.Install, "pip install -r requirements.txt")
		assert.NotContains(t, snap.Script, "make test")
	})

	t.Run("include leg carries its snap addons", func(t *testing.T) {
		snap := legs[9]
		require.Len(t, snap.Snaps, 2)
		assert.Equal(t, model.SnapAddon{Name: "snapcraft", Confinement: "classic"}, snap.Snaps[0])
		assert.Equal(t, model.SnapAddon{Name: "lxd"}, snap.Snaps[1])
	})

	t.Run("indexes are sequential across the whole matrix", func(t *testing.T) {
		for i, leg := range legs {
			assert.Equal(t, i+1, leg.Index)
		}
	})
}

func TestExpand_EnvAxisMultipliesVersions(t *testing.T) {
	def := mustParse(t, `
language: python
python: ["3.7", "3.8"]
env:
  - MODE=fast
  - MODE=full
script: [make test]
`)

	legs, err := Expand(def)
	require.NoError(t, err)
	require.Len(t, legs, 4)

	assert.Equal(t, "python 3.7 MODE=fast", legs[0].Name)
	assert.Equal(t, "python 3.7 MODE=full", legs[1].Name)
	assert.Equal(t, "python 3.8 MODE=fast", legs[2].Name)
	assert.Equal(t, "python 3.8 MODE=full", legs[3].Name)
}

func TestExpand_GlobalEnvMergesIntoEveryLeg(t *testing.T) {
	def := mustParse(t, `
language: python
python: ["3.8"]
env:
  global:
    - PIP_DISABLE_PIP_VERSION_CHECK=1
  jobs:
    - MODE=fast
    - MODE=full PIP_DISABLE_PIP_VERSION_CHECK=0
script: [make test]
`)

	legs, err := Expand(def)
	require.NoError(t, err)
	require.Len(t, legs, 2)

	assert.Equal(t, []model.EnvVar{
		{Key: "PIP_DISABLE_PIP_VERSION_CHECK", Value: "1"},
		{Key: "MODE", Value: "fast"},
	}, legs[0].Env)

	// The axis entry overrides the global at the global's position.
	assert.Equal(t, []model.EnvVar{
		{Key: "PIP_DISABLE_PIP_VERSION_CHECK", Value: "0"},
		{Key: "MODE", Value: "full"},
	}, legs[1].Env)
}

func TestExpand_ExcludeDropsAxisLegs(t *testing.T) {
	def := mustParse(t, `
language: python
python: ["3.7", "3.8"]
env:
  - MODE=fast
  - MODE=full
script: [make test]
matrix:
  exclude:
    - python: "3.7"
      env: MODE=full
`)

	legs, err := Expand(def)
	require.NoError(t, err)
	require.Len(t, legs, 3)

	names := make([]string, 0, len(legs))
	for _, leg := range legs {
		names = append(names, leg.Name)
	}
	assert.NotContains(t, names, "python 3.7 MODE=full")

	t.Run("indexes stay sequential after exclusion", func(t *testing.T) {
		for i, leg := range legs {
			assert.Equal(t, i+1, leg.Index)
		}
	})
}

func TestExpand_ExcludeDoesNotTouchIncludeLegs(t *testing.T) {
	def := mustParse(t, `
language: python
python: ["3.8"]
script: [make test]
matrix:
  include:
    - python: "3.8"
      env: MODE=extra
  exclude:
    - python: "3.8"
`)

	legs, err := Expand(def)
	require.NoError(t, err)
	require.Len(t, legs, 1)
	assert.Equal(t, "python 3.8 MODE=extra", legs[0].Name)
}

func TestExpand_AllowFailuresMarksLegs(t *testing.T) {
	def := mustParse(t, `
language: python
python: ["3.8", "nightly"]
env: [MODE=fast]
script: [make test]
matrix:
  include:
    - language: minimal
      env: MODE=snap
      script: [snapcraft]
  allow_failures:
    - python: nightly
    - env: MODE=snap
`)

	legs, err := Expand(def)
	require.NoError(t, err)
	require.Len(t, legs, 3)

	assert.False(t, legs[0].AllowFailure, legs[0].Name)
	assert.True(t, legs[1].AllowFailure, legs[1].Name)
	assert.True(t, legs[2].AllowFailure, legs[2].Name)
}

func TestExpand_IncludesOnlyMatrixHasNoBaseLeg(t *testing.T) {
	def := mustParse(t, `
language: minimal
matrix:
  include:
    - env: STAGE=one
      script: [run one]
    - env: STAGE=two
      script: [run two]
`)

	legs, err := Expand(def)
	require.NoError(t, err)
	require.Len(t, legs, 2)
	assert.Equal(t, "minimal STAGE=one", legs[0].Name)
	assert.Equal(t, "minimal STAGE=two", legs[1].Name)
}

func TestExpand_BareDefinitionYieldsOneLeg(t *testing.T) {
	def := mustParse(t, `
language: minimal
script: [make check]
`)

	legs, err := Expand(def)
	require.NoError(t, err)
	require.Len(t, legs, 1)
	assert.Equal(t, "minimal", legs[0].Name)
	assert.Empty(t, legs[0].Version)
	assert.Empty(t, legs[0].Env)
}

func TestExpand_ExplicitIncludeNameWins(t *testing.T) {
	def := mustParse(t, `
language: python
script: [make test]
matrix:
  include:
    - name: packaging
      env: STAGE=pack
`)

	legs, err := Expand(def)
	require.NoError(t, err)
	require.Len(t, legs, 1)
	assert.Equal(t, "packaging", legs[0].Name)
}

func TestExpand_DistInheritance(t *testing.T) {
	def := mustParse(t, `
language: python
python: ["3.8"]
dist: xenial
script: [make test]
matrix:
  include:
    - python: "3.8"
      dist: focal
      env: MODE=new
`)

	legs, err := Expand(def)
	require.NoError(t, err)
	require.Len(t, legs, 2)
	assert.Equal(t, "xenial", legs[0].Dist)
	assert.Equal(t, "focal", legs[1].Dist)
}

func TestExpand_TopLevelSnapsInheritedByAxisLegs(t *testing.T) {
	def := mustParse(t, `
language: minimal
addons:
  snaps:
    - lxd
script: [make check]
`)

	legs, err := Expand(def)
	require.NoError(t, err)
	require.Len(t, legs, 1)
	require.Len(t, legs[0].Snaps, 1)
	assert.Equal(t, "lxd", legs[0].Snaps[0].Name)
}
