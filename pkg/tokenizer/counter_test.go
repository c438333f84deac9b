package tokenizer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenledger/quota-proxy/pkg/tokenizer"
)

func TestCount(t *testing.T) {
	tests := []struct {
		name  string
		model string
	}{
		{"o200k model", "gpt-4o"},
		{"o200k mini", "gpt-5-mini"},
		{"cl100k fallback", "gpt-3.5-turbo"},
		{"unknown model falls back", "davinci-002"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, err := tokenizer.Count("Hello, how are you today?", tt.model)
			require.NoError(t, err)
			assert.Positive(t, count)
		})
	}
}

func TestCount_Empty(t *testing.T) {
	count, err := tokenizer.Count("", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestEstimateChat(t *testing.T) {
	messages := []tokenizer.Message{
		{Role: "system", Content: "You are a helpful assistant."},
		{Role: "user", Content: "Hello"},
	}

	total, err := tokenizer.EstimateChat(messages, "gpt-4o")
	require.NoError(t, err)

	// Two messages of overhead (4 each) plus reply priming (2) plus content.
	assert.Greater(t, total, int64(10))

	// Deterministic for the same input.
	again, err := tokenizer.EstimateChat(messages, "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, total, again)
}
