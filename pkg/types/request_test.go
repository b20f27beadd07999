package types //nolint:revive // package name is intentional

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatRequestUnmarshal_Basic(t *testing.T) {
	data := []byte(`{
		"model": "gpt-4",
		"messages": [{"role": "user", "content": "hi"}],
		"temperature": 0.5,
		"max_tokens": 256
	}`)

	var req ChatRequest
	err := json.Unmarshal(data, &req)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4", req.Model)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.5, *req.Temperature)
	assert.Equal(t, 256, req.MaxTokens)
}

func TestChatRequestUnmarshal_DefaultsStreamFalse(t *testing.T) {
	data := []byte(`{"model": "gpt-4", "messages": [{"role": "user", "content": "hi"}]}`)

	var req ChatRequest
	err := json.Unmarshal(data, &req)
	require.NoError(t, err)
	assert.False(t, req.Stream)
}

func TestChatRequestReset(t *testing.T) {
	temp := 0.7
	req := ChatRequest{
		Model:       "gpt-4",
		Messages:    []ChatMessage{{Role: "user"}},
		Stream:      true,
		MaxTokens:   128,
		Temperature: &temp,
		Tools:       []Tool{{Type: "function"}},
		Tags:        []string{"a"},
		Timeout:     30,
	}

	req.Reset()

	assert.Empty(t, req.Model)
	assert.Empty(t, req.Messages)
	assert.False(t, req.Stream)
	assert.Zero(t, req.MaxTokens)
	assert.Nil(t, req.Temperature)
	assert.Empty(t, req.Tools)
	assert.Nil(t, req.Tags)
	assert.Zero(t, req.Timeout)
}
