package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tokenledger/quota-proxy/pkg/history"
	"github.com/tokenledger/quota-proxy/pkg/ledger"
	"github.com/tokenledger/quota-proxy/pkg/model"
)

// Outcome describes the result of one forwarded request, as seen by the
// accountant.
type Outcome struct {
	Model     string
	Tier      model.Tier
	Path      string
	Status    int
	Streaming bool
	Usage     *model.TokenUsage
}

// InconsistencyError reports that the ledger increment succeeded but the
// history append failed. The caller's request already succeeded, so this
// must never surface as a request failure; it exists so operators can see
// that the ledger total and the history log have diverged.
type InconsistencyError struct {
	Entry model.HistoryEntry
	Err   error
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("accounting inconsistency: usage of %d tokens applied to %s tier but history append failed: %v",
		e.Entry.TotalTokens, e.Entry.Tier, e.Err)
}

func (e *InconsistencyError) Unwrap() error { return e.Err }

// Accountant applies token usage from completed requests to the ledger and
// the history log.
type Accountant struct {
	ledger  *ledger.Ledger
	history *history.Log
	watcher *ThresholdWatcher
	logger  *slog.Logger
}

// NewAccountant creates an accountant. The watcher may be nil when no alert
// notifiers are configured.
func NewAccountant(l *ledger.Ledger, h *history.Log, w *ThresholdWatcher, logger *slog.Logger) *Accountant {
	return &Accountant{ledger: l, history: h, watcher: w, logger: logger}
}

// Apply records the outcome of a forwarded request.
//
// Streaming responses are skipped entirely: their usage is not available
// without buffering the stream, and reconciliation later repairs the gap.
// Non-streaming responses without a positive usage total are treated as
// nothing billable, not as errors.
func (a *Accountant) Apply(ctx context.Context, out Outcome) error {
	if out.Streaming {
		a.logger.Debug("skipping accounting for streaming response",
			"model", out.Model, "tier", out.Tier, "path", out.Path)
		return nil
	}

	if out.Usage == nil || out.Usage.TotalTokens <= 0 {
		a.logger.Debug("no billable usage in response",
			"model", out.Model, "tier", out.Tier, "status", out.Status)
		return nil
	}

	rec, err := a.ledger.Increment(ctx, out.Tier, out.Usage.TotalTokens)
	if err != nil {
		return fmt.Errorf("account usage for %s tier: %w", out.Tier, err)
	}

	entry := model.HistoryEntry{
		Timestamp:        time.Now().UTC(),
		Model:            out.Model,
		Tier:             out.Tier,
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
		TotalTokens:      out.Usage.TotalTokens,
		Path:             out.Path,
		Status:           out.Status,
	}
	if err := a.history.Append(ctx, &entry); err != nil {
		return &InconsistencyError{Entry: entry, Err: err}
	}

	a.logger.Info("usage recorded",
		"model", out.Model,
		"tier", out.Tier,
		"prompt_tokens", out.Usage.PromptTokens,
		"completion_tokens", out.Usage.CompletionTokens,
		"total_tokens", out.Usage.TotalTokens,
		"tier_tokens_used", rec.TokensUsed,
	)

	if a.watcher != nil {
		a.watcher.Observe(ctx, rec)
	}
	return nil
}
