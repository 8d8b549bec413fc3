package metrics

import "testing"

func TestHandlerIsNotNil(t *testing.T) {
	if Handler() == nil {
		t.Fatal("expected a non-nil /metrics handler")
	}
}

func TestGaugesAndCountersAreUsable(t *testing.T) {
	ActiveLoops.Inc()
	ActiveLoops.Dec()
	LoopIterationsTotal.WithLabelValues("concluded").Inc()
	ToolCallsTotal.WithLabelValues("zoom_to_bounds", "ok").Inc()
	BusSubscribers.Set(3)
	BusMissBufferSize.Set(7)
}
