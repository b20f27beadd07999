// Package types defines core data structures for LLM chat completion
// requests and responses. All types are compatible with OpenAI's Chat
// Completion API wire format, which is the contract exposed at the
// broker's client-facing RPC boundary.
package types //nolint:revive // package name is intentional

import "github.com/goccy/go-json"

// ChatRequest represents an OpenAI-compatible chat completion request.
// It is the unified shape accepted at POST /v1/chat/completions and the
// shape translated into a completion_request session message.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Tools       []Tool        `json:"tools,omitempty"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"`

	// Tags are request-level tags the dispatcher does not currently use
	// for routing, but carries through to observability.
	Tags []string `json:"tags,omitempty"`

	// Timeout overrides T_req for this request, in seconds. Zero means
	// the broker default applies. Clamped to the hard cap by the dispatcher.
	Timeout int `json:"timeout,omitempty"`
}

// ChatMessage represents a single message in the conversation.
type ChatMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// Tool represents a function that the model can call.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction describes a callable function.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall represents a function call made by the model.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction contains the function name and arguments.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Reset clears the ChatRequest for reuse from a sync.Pool.
func (r *ChatRequest) Reset() {
	r.Model = ""
	r.Messages = r.Messages[:0]
	r.Stream = false
	r.MaxTokens = 0
	r.Temperature = nil
	r.TopP = nil
	r.Tools = r.Tools[:0]
	r.ToolChoice = nil
	r.Tags = nil
	r.Timeout = 0
}
