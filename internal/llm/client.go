// Package llm wraps the OpenAI chat completions API behind a narrow
// interface, translating to/from the runtime's own message and tool-call
// shapes. Grounded on the teacher's pkg/agent.LLMClient seam (a thin Go-side
// interface in front of a remote model) and on goadesign-goa-ai's
// features/model/openai adapter for the request/response translation shape;
// the transport is github.com/openai/openai-go rather than a gRPC sidecar,
// since spec.md's deployment targets OpenAI-compatible chat completions
// directly.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Message is the runtime's provider-agnostic chat message shape.
type Message struct {
	Role       string // "system", "user", "assistant", "tool"
	Content    string
	ToolCalls  []ToolCall // set on assistant messages that requested tools
	ToolCallID string     // set on tool-result messages
}

// ToolCall is one function-call request or response pairing.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// ToolDefinition describes one callable tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Usage reports token consumption for one completion call.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// Response is the normalized result of one completion call.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// ErrContextLengthExceeded is returned when the provider reports the
// conversation exceeded the model's context window, per spec.md §4.6's
// context_length_exceeded branch.
var ErrContextLengthExceeded = errors.New("llm: context length exceeded")

// Client calls a single configured OpenAI-compatible chat model.
type Client struct {
	client openai.Client
	model  string
}

// NewClient builds a Client against baseURL (empty uses the default OpenAI
// endpoint) using apiKey and model.
func NewClient(apiKey, baseURL, model string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{client: openai.NewClient(opts...), model: model}
}

// Generate sends the full transcript plus tool definitions to the model and
// returns its single-choice response.
func (c *Client) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: encodeMessages(messages),
	}
	if len(tools) > 0 {
		encoded, err := encodeTools(tools)
		if err != nil {
			return nil, err
		}
		params.Tools = encoded
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifyError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("llm: completion returned no choices")
	}

	choice := completion.Choices[0]
	resp := &Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
			TotalTokens:      completion.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return resp, nil
}

func encodeMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "user":
			out = append(out, openai.UserMessage(m.Content))
		case "assistant":
			out = append(out, encodeAssistantMessage(m))
		case "tool":
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return out
}

func encodeAssistantMessage(m Message) openai.ChatCompletionMessageParamUnion {
	asst := openai.ChatCompletionAssistantMessageParam{}
	if m.Content != "" {
		asst.Content.OfString = openai.String(m.Content)
	}
	for _, tc := range m.ToolCalls {
		asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   tc.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
}

func encodeTools(defs []ToolDefinition) ([]openai.ChatCompletionToolUnionParam, error) {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(defs))
	for _, d := range defs {
		var params openai.FunctionParameters
		if err := json.Unmarshal(d.Schema, &params); err != nil {
			return nil, fmt.Errorf("llm: unmarshaling schema for tool %s: %w", d.Name, err)
		}
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        d.Name,
			Description: openai.String(d.Description),
			Parameters:  params,
		}))
	}
	return out, nil
}

func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == "context_length_exceeded" {
			return fmt.Errorf("%w: %s", ErrContextLengthExceeded, apiErr.Message)
		}
	}
	return fmt.Errorf("llm: completion request: %w", err)
}
