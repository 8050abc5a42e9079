package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Releck/cibox/internal/matrix"
	"github.com/Releck/cibox/internal/pipeline"
)

func TestStarterPipelineParsesAndLintsClean(t *testing.T) {
	for _, language := range []string{"python", "go", "node_js", "ruby"} {
		t.Run(language, func(t *testing.T) {
			def, err := pipeline.Parse(StarterPipeline(language))
			require.NoError(t, err)

			assert.Equal(t, language, def.Language)
			assert.False(t, pipeline.HasErrors(pipeline.Validate(def)),
				"starter must lint clean")
		})
	}
}

func TestStarterPipelineExpandsWithReplacedPhases(t *testing.T) {
	def, err := pipeline.Parse(StarterPipeline("python"))
	require.NoError(t, err)

	legs, err := matrix.Expand(def)
	require.NoError(t, err)

	// One version times two env.jobs entries, plus the include leg.
	require.Len(t, legs, 3)

	include := legs[2]
	assert.Contains(t, include.Name, "TEST_SUITE=package")
	// The include leg's own phases replace the shared ones entirely.
	assert.NotEqual(t, def.Install, include.Install)
	assert.NotEqual(t, def.Script, include.Script)
}

func TestStarterPipelineBranchRules(t *testing.T) {
	def, err := pipeline.Parse(StarterPipeline("python"))
	require.NoError(t, err)
	require.NotNil(t, def.Branches)
	assert.Len(t, def.Branches.Only, 3)
}
