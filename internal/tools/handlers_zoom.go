package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mundiai/agent-runtime/internal/ephemeral"
)

type zoomToBoundsArgs struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// zoomToBounds is a pure UI intent: it never mutates persisted state. Its
// entire effect is the ephemeral broadcast the client reacts to, per
// spec.md §4.7.
func zoomToBounds(ctx context.Context, rc *RequestContext, raw json.RawMessage) (any, error) {
	var args zoomToBoundsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("parsing arguments: %w", err)
	}
	if args.West >= args.East {
		return nil, fmt.Errorf("west (%v) must be less than east (%v)", args.West, args.East)
	}
	if args.South >= args.North {
		return nil, fmt.Errorf("south (%v) must be less than north (%v)", args.South, args.North)
	}

	scope, err := ephemeral.Begin(ctx, rc.Publisher, rc.ConversationID, "Zooming to bounds...",
		ephemeral.WithBounds([4]float64{args.West, args.South, args.East, args.North}))
	if err != nil {
		return nil, fmt.Errorf("publishing zoom action: %w", err)
	}
	// Give the client a moment to apply the viewport change before the
	// action is marked completed.
	time.Sleep(150 * time.Millisecond)
	scope.Close(ctx, false)

	return map[string]any{"status": "ok"}, nil
}

// NewZoomToBoundsTool constructs the zoom_to_bounds tool entry.
func NewZoomToBoundsTool() *Tool {
	return &Tool{
		Name:        "zoom_to_bounds",
		Description: "Pan and zoom the client map to a WGS84 bounding box.",
		Schema:      json.RawMessage(zoomToBoundsSchema),
		Handler:     zoomToBounds,
	}
}
