package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Releck/cibox/internal/model"
)

func TestBuildLabels(t *testing.T) {
	leg := model.Leg{Index: 3, Name: "python 3.8 GALLERYDL_TESTS=results"}
	labels := BuildLabels("0195c7a4-9d2e-7c33-b1f0-8a61f2d9c501", leg)

	assert.Equal(t, "true", labels[LabelManaged])
	assert.Equal(t, "0195c7a4-9d2e-7c33-b1f0-8a61f2d9c501", labels[LabelRunID])
	assert.Equal(t, "3", labels[LabelLegIndex])
	assert.Equal(t, "python 3.8 GALLERYDL_TESTS=results", labels[LabelLegName])
}

func TestParseLabels(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		leg := model.Leg{Index: 7, Name: "minimal GALLERYDL_TESTS=snap"}
		labels := BuildLabels("run-id", leg)

		meta, err := ParseLabels(labels)
		require.NoError(t, err)
		assert.Equal(t, "run-id", meta.RunID)
		assert.Equal(t, 7, meta.LegIndex)
		assert.Equal(t, "minimal GALLERYDL_TESTS=snap", meta.LegName)
	})

	t.Run("missing label rejected", func(t *testing.T) {
		labels := BuildLabels("run-id", model.Leg{Index: 1, Name: "x"})
		delete(labels, LabelLegIndex)

		_, err := ParseLabels(labels)
		require.Error(t, err)
		assert.Contains(t, err.Error(), LabelLegIndex)
	})

	t.Run("foreign container rejected", func(t *testing.T) {
		_, err := ParseLabels(map[string]string{"com.docker.compose.project": "x"})
		require.Error(t, err)
	})

	t.Run("non numeric index rejected", func(t *testing.T) {
		labels := BuildLabels("run-id", model.Leg{Index: 1, Name: "x"})
		labels[LabelLegIndex] = "first"

		_, err := ParseLabels(labels)
		require.Error(t, err)
	})
}

func TestContainerName(t *testing.T) {
	leg := model.Leg{Index: 4, Name: "python 3.7 GALLERYDL_TESTS=core"}

	name := ContainerName("0195c7a4-9d2e-7c33-b1f0-8a61f2d9c501", leg)
	assert.Equal(t, "cibox-0195c7a4-leg-4", name)

	t.Run("short run id used as is", func(t *testing.T) {
		assert.Equal(t, "cibox-abc-leg-4", ContainerName("abc", leg))
	})
}
