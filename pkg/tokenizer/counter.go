package tokenizer

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// o200kPrefixes lists model-name prefixes that use the o200k_base encoding.
// Everything else falls back to cl100k_base.
var o200kPrefixes = []string{"gpt-5", "gpt-4.1", "gpt-4o", "o1", "o3", "o4", "chatgpt-4o"}

// Count returns the token count for the given text and model using tiktoken.
func Count(text, model string) (int64, error) {
	enc, err := encodingFor(model)
	if err != nil {
		return 0, err
	}

	ids, _, err := enc.Encode(text)
	if err != nil {
		return 0, fmt.Errorf("encode text: %w", err)
	}
	return int64(len(ids)), nil
}

// EstimateChat estimates prompt tokens for a chat completion request.
// Each message carries roughly 4 tokens of role/formatting overhead, plus
// 2 tokens priming the assistant reply. Used for streaming requests whose
// responses never report usage; the estimate is informational only and is
// never written to the ledger.
func EstimateChat(messages []Message, model string) (int64, error) {
	var total int64
	for _, msg := range messages {
		total += 4
		count, err := Count(msg.Content, model)
		if err != nil {
			return 0, err
		}
		total += count
	}
	total += 2
	return total, nil
}

// Message is one chat message's text content.
type Message struct {
	Role    string
	Content string
}

func encodingFor(model string) (tokenizer.Codec, error) {
	name := strings.ToLower(strings.TrimSpace(model))
	for _, p := range o200kPrefixes {
		if strings.HasPrefix(name, p) {
			enc, err := tokenizer.Get(tokenizer.O200kBase)
			if err != nil {
				return nil, fmt.Errorf("load o200k_base encoding: %w", err)
			}
			return enc, nil
		}
	}

	enc, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load cl100k_base encoding: %w", err)
	}
	return enc, nil
}
