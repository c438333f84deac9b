package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/google/uuid"

	"github.com/tokenledger/quota-proxy/pkg/model"
	"github.com/tokenledger/quota-proxy/pkg/quota"
	"github.com/tokenledger/quota-proxy/pkg/tokenizer"
)

// Handler is the admission + forward + accounting pipeline for /v1/* calls.
type Handler struct {
	admission   *quota.Controller
	accountant  *quota.Accountant
	upstream    *url.URL
	apiKey      string
	maxBodySize int64
	logger      *slog.Logger
}

// NewHandler creates the proxy pipeline. When apiKey is non-empty it
// replaces the client's Authorization header on forwarded requests.
func NewHandler(admission *quota.Controller, accountant *quota.Accountant, upstreamBaseURL, apiKey string, maxBodySize int64, logger *slog.Logger) (*Handler, error) {
	upstream, err := url.Parse(upstreamBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base url: %w", err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("upstream base url %q has no scheme or host", upstreamBaseURL)
	}

	return &Handler{
		admission:   admission,
		accountant:  accountant,
		upstream:    upstream,
		apiKey:      apiKey,
		maxBodySize: maxBodySize,
		logger:      logger,
	}, nil
}

// ServeHTTP handles one proxied completion request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodySize+1))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "failed to read request body")
		return
	}
	if int64(len(body)) > h.maxBodySize {
		writeError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body too large")
		return
	}

	info, err := ParseRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	decision, err := h.admission.Admit(r.Context(), info.Model)
	if err != nil {
		h.logger.Error("admission check failed", "request_id", requestID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "admission check failed")
		return
	}

	if !decision.Allowed {
		writeError(w, http.StatusTooManyRequests, "quota_exceeded", decision.Reason)
		return
	}

	if info.Stream {
		if est, estErr := tokenizer.EstimateChat(info.Messages, info.Model); estErr == nil {
			h.logger.Debug("forwarding streaming request, usage will be repaired by reconciliation",
				"request_id", requestID,
				"model", info.Model,
				"tier", decision.Tier,
				"estimated_prompt_tokens", est,
			)
		}
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))

	proxy := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = h.upstream.Scheme
			req.URL.Host = h.upstream.Host
			req.Host = h.upstream.Host
			if h.apiKey != "" {
				req.Header.Set("Authorization", "Bearer "+h.apiKey)
			}
		},
		// Streamed bodies must not be buffered; let chunks flush through.
		FlushInterval: -1,
		ModifyResponse: func(resp *http.Response) error {
			return h.captureResponse(resp, info, decision, r.URL.Path, requestID)
		},
		ErrorHandler: func(w http.ResponseWriter, _ *http.Request, err error) {
			h.logger.Error("upstream forward failed",
				"request_id", requestID, "model", info.Model, "error", err)
			writeError(w, http.StatusBadGateway, "upstream_error", "failed to reach upstream provider")
		},
	}

	proxy.ServeHTTP(w, r)
}

// captureResponse applies accounting for a forwarded request. It runs on a
// background context: if the response was fully received the upstream has
// already billed the tokens, and a client that hung up must not suppress
// the accounting.
func (h *Handler) captureResponse(resp *http.Response, info *RequestInfo, decision *model.Decision, path, requestID string) error {
	outcome := quota.Outcome{
		Model:     info.Model,
		Tier:      decision.Tier,
		Path:      path,
		Status:    resp.StatusCode,
		Streaming: info.Stream,
	}

	if !info.Stream {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read upstream response body: %w", err)
		}
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(body))
		resp.ContentLength = int64(len(body))

		outcome.Usage = ExtractUsage(body)
	}

	if err := h.accountant.Apply(context.Background(), outcome); err != nil {
		var inconsistency *quota.InconsistencyError
		if errors.As(err, &inconsistency) {
			h.logger.Error("accounting inconsistency",
				"request_id", requestID, "error", inconsistency)
		} else {
			h.logger.Error("accounting failed",
				"request_id", requestID, "model", info.Model, "error", err)
		}
	}
	// Accounting problems are operator concerns; the client's request
	// already succeeded and its response passes through untouched.
	return nil
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"type":    errType,
			"message": message,
		},
	})
}
