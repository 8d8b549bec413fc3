package agent

import (
	"encoding/json"

	"github.com/mundiai/agent-runtime/internal/llm"
	"github.com/mundiai/agent-runtime/internal/models"
)

// toLLMMessages converts a stored transcript into the provider-agnostic
// shape internal/llm consumes, preserving role, content, tool calls, and
// tool-call-id linkage exactly as persisted.
func toLLMMessages(messages []*models.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		lm := llm.Message{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			lm.ToolCalls = append(lm.ToolCalls, llm.ToolCall{
				ID:        tc.ID,
				Name:      tc.Name,
				Arguments: tc.Arguments,
			})
		}
		if m.Role == models.RoleTool && len(m.ToolResult) > 0 && lm.Content == "" {
			lm.Content = string(m.ToolResult)
		}
		out = append(out, lm)
	}
	return out
}

// toolCallsFromResponse converts the LLM response's tool call list into the
// persisted model shape.
func toolCallsFromResponse(resp *llm.Response) []models.ToolCall {
	if len(resp.ToolCalls) == 0 {
		return nil
	}
	out := make([]models.ToolCall, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		out = append(out, models.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
	}
	return out
}

// marshalToolResult serializes a tool handler's result (success payload or
// *tools.ToolError) for persistence as a message's tool_result column.
func marshalToolResult(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"status": "error", "error": "failed to serialize tool result"})
	}
	return data
}
