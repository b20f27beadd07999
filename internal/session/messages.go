package session

import "github.com/llmule/broker/pkg/types"

// Op identifies a session-layer message kind.
type Op string

const (
	OpRegister           Op = "register"
	OpRegistered         Op = "registered"
	OpPing               Op = "ping"
	OpPong               Op = "pong"
	OpCompletionRequest  Op = "completion_request"
	OpCompletionResponse Op = "completion_response"
	OpError              Op = "error"
)

// RegisterMessage is the provider's mandatory first message on a new
// connection: its credential and advertised model list.
type RegisterMessage struct {
	Op     Op       `json:"op"`
	APIKey string   `json:"api_key"`
	Models []string `json:"models"`
}

// RegisteredMessage acknowledges a successful registration.
type RegisteredMessage struct {
	Op Op `json:"op"`
}

// ErrorMessage closes a connection that failed handshake or sent
// malformed input.
type ErrorMessage struct {
	Op    Op     `json:"op"`
	Error string `json:"error"`
}

// PingMessage / PongMessage implement the application-level keepalive,
// distinct from the transport's own ping/pong frames, so that a silent
// but technically-open connection is still detected.
type PingMessage struct {
	Op Op `json:"op"`
}

type PongMessage struct {
	Op Op `json:"op"`
}

// CompletionRequestMessage is forwarded broker -> provider for one
// dispatched request.
type CompletionRequestMessage struct {
	Op          Op                  `json:"op"`
	ID          string              `json:"id"`
	Model       string              `json:"model"`
	Messages    []types.ChatMessage `json:"messages"`
	Temperature *float64            `json:"temperature,omitempty"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
}

// CompletionResponseMessage is returned provider -> broker, correlated by
// ID to the originating CompletionRequestMessage.
type CompletionResponseMessage struct {
	Op       Op                `json:"op"`
	ID       string            `json:"id"`
	Response *types.ChatResponse `json:"response"`
	Error    string            `json:"error,omitempty"`
}

// Envelope is the minimal shape needed to read a message's op and
// correlation id before decoding the rest of the payload.
type Envelope struct {
	Op Op     `json:"op"`
	ID string `json:"id"`
}
