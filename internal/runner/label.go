package runner

import (
	"fmt"
	"strconv"

	"github.com/Releck/cibox/internal/model"
)

// Label keys for containers created by the docker backend. All state
// needed to recognize and clean up a leg container lives in its labels;
// there is no separate state file.
const (
	// LabelManaged marks containers created by cibox. Always "true".
	LabelManaged = "cibox.managed"

	// LabelRunID is the UUID of the run that created the container.
	LabelRunID = "cibox.run-id"

	// LabelLegIndex is the leg's matrix index within the run.
	LabelLegIndex = "cibox.leg-index"

	// LabelLegName is the leg's display name.
	LabelLegName = "cibox.leg-name"
)

// ContainerMeta is the cibox metadata parsed back out of container labels.
type ContainerMeta struct {
	RunID    string
	LegIndex int
	LegName  string
}

// BuildLabels returns the label set for a leg container.
func BuildLabels(runID string, leg model.Leg) map[string]string {
	return map[string]string{
		LabelManaged:  "true",
		LabelRunID:    runID,
		LabelLegIndex: strconv.Itoa(leg.Index),
		LabelLegName:  leg.Name,
	}
}

// ParseLabels reconstructs ContainerMeta from a container's labels.
// Containers without the full cibox label set are rejected.
func ParseLabels(labels map[string]string) (ContainerMeta, error) {
	for _, key := range []string{LabelManaged, LabelRunID, LabelLegIndex, LabelLegName} {
		if _, ok := labels[key]; !ok {
			return ContainerMeta{}, fmt.Errorf("missing required label: %s", key)
		}
	}

	index, err := strconv.Atoi(labels[LabelLegIndex])
	if err != nil {
		return ContainerMeta{}, fmt.Errorf("invalid %s label: %w", LabelLegIndex, err)
	}

	return ContainerMeta{
		RunID:    labels[LabelRunID],
		LegIndex: index,
		LegName:  labels[LabelLegName],
	}, nil
}

// ContainerName derives the container name for a leg: the run ID's first
// eight characters plus the leg index keep names unique across runs while
// staying readable in `docker ps`.
func ContainerName(runID string, leg model.Leg) string {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("cibox-%s-leg-%d", short, leg.Index)
}
