package proxy

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tokenledger/quota-proxy/pkg/model"
	"github.com/tokenledger/quota-proxy/pkg/tokenizer"
)

// ErrMissingModel reports an inbound payload without a usable model field.
// This is a client input error, raised before classification is attempted.
var ErrMissingModel = errors.New("missing model field")

// RequestInfo holds what the pipeline needs from an inbound completion request.
type RequestInfo struct {
	Model    string
	Stream   bool
	Messages []tokenizer.Message
}

// ParseRequest extracts the model name, the streaming flag, and the chat
// messages from an inbound request body.
func ParseRequest(body []byte) (*RequestInfo, error) {
	var req completionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("parse request body: %w", err)
	}
	if req.Model == "" {
		return nil, ErrMissingModel
	}

	info := &RequestInfo{Model: req.Model, Stream: req.Stream}
	for _, msg := range req.Messages {
		// Content may be a plain string or a multimodal part array; only
		// string content feeds the token estimate.
		var text string
		if err := json.Unmarshal(msg.Content, &text); err == nil {
			info.Messages = append(info.Messages, tokenizer.Message{Role: msg.Role, Content: text})
		}
	}
	return info, nil
}

// ExtractUsage pulls the usage triple from a completion response body.
// A missing or unparseable usage object returns nil: that means nothing
// billable, not an error.
func ExtractUsage(body []byte) *model.TokenUsage {
	var resp completionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil
	}
	if resp.Usage == nil || resp.Usage.TotalTokens <= 0 {
		return nil
	}
	return resp.Usage
}

type completionRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
}

type completionResponse struct {
	Model string            `json:"model"`
	Usage *model.TokenUsage `json:"usage"`
}
