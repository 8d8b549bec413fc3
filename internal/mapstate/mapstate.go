// Package mapstate assembles the system message the agentic loop persists
// at the start of every new user turn: a markdown description of the
// current map snapshot plus an optional selected-feature JSON block.
// Ported in semantics from
// original_source/src/dependencies/map_state.py's DefaultMapStateProvider.
package mapstate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mundiai/agent-runtime/internal/models"
)

// SelectedFeature is a client-reported feature the user clicked/selected
// before sending their message, scoped to one layer.
type SelectedFeature struct {
	LayerID    string         `json:"layer_id"`
	Attributes map[string]any `json:"attributes"`
}

// Describe renders a map snapshot and its layers into the markdown
// description embedded in the system message.
func Describe(m *models.Map, layers []*models.Layer) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", nonEmpty(m.Title, "Untitled map"))
	if m.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", m.Description)
	}

	if len(layers) == 0 {
		b.WriteString("This map has no layers yet.\n")
		return b.String()
	}

	b.WriteString("## Layers\n\n")
	for _, l := range layers {
		fmt.Fprintf(&b, "- **%s** (`%s`, kind: %s", nonEmpty(l.Name, l.ID), l.ID, l.Kind)
		if l.GeometryKind != "" {
			fmt.Fprintf(&b, ", geometry: %s", l.GeometryKind)
		}
		fmt.Fprintf(&b, ", features: %d)\n", l.FeatureCount)
	}
	return b.String()
}

// SystemMessage wraps a map description (and optional selected feature)
// in the <MapState>/<SelectedFeature> tags the LLM prompt is built around,
// unchanged from the original provider's tagging scheme.
func SystemMessage(description string, selected *SelectedFeature) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "<MapState>\n%s\n</MapState>", description)

	if selected != nil {
		data, err := json.Marshal(selected)
		if err != nil {
			return "", fmt.Errorf("mapstate: marshaling selected feature: %w", err)
		}
		fmt.Fprintf(&b, "\n<SelectedFeature>\n%s\n</SelectedFeature>", string(data))
	} else {
		b.WriteString("\n<NoSelectedFeature />")
	}
	return b.String(), nil
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
