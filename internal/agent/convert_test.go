package agent

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mundiai/agent-runtime/internal/llm"
	"github.com/mundiai/agent-runtime/internal/models"
)

func TestToLLMMessagesPreservesToolCallsAndLinkage(t *testing.T) {
	history := []*models.Message{
		{Role: models.RoleSystem, Content: "system context"},
		{Role: models.RoleUser, Content: "add a buffer"},
		{
			Role: models.RoleAssistant,
			ToolCalls: []models.ToolCall{
				{ID: "call_1", Name: "native_buffer", Arguments: `{"distance": 10}`},
			},
		},
		{Role: models.RoleTool, ToolCallID: "call_1", ToolResult: []byte(`{"status":"ok"}`)},
	}

	out := toLLMMessages(history)
	require.Len(t, out, 4)
	require.Equal(t, "call_1", out[2].ToolCalls[0].ID)
	require.Equal(t, "native_buffer", out[2].ToolCalls[0].Name)
	require.Equal(t, "call_1", out[3].ToolCallID)
	require.JSONEq(t, `{"status":"ok"}`, out[3].Content)
}

func TestToolCallsFromResponseEmptyWhenNoCalls(t *testing.T) {
	require.Nil(t, toolCallsFromResponse(&llm.Response{}))
}

func TestToolCallsFromResponseConvertsEachCall(t *testing.T) {
	resp := &llm.Response{ToolCalls: []llm.ToolCall{{ID: "a", Name: "zoom_to_bounds", Arguments: "{}"}}}
	out := toolCallsFromResponse(resp)
	require.Len(t, out, 1)
	require.Equal(t, "zoom_to_bounds", out[0].Name)
}

func TestMarshalToolResultFallsBackOnUnserializable(t *testing.T) {
	data := marshalToolResult(make(chan int))
	require.Contains(t, string(data), "error")
}
