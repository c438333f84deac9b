package quota

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tokenledger/quota-proxy/pkg/alerts"
	"github.com/tokenledger/quota-proxy/pkg/model"
)

// ThresholdWatcher dispatches quota alerts when a tier's daily usage crosses
// 80% (warning), 95% (critical), or 100% (exceeded) of its limit. Each level
// fires at most once per tier per ledger day.
type ThresholdWatcher struct {
	notifiers []alerts.Notifier
	logger    *slog.Logger

	mu    sync.Mutex
	fired map[string]alerts.AlertLevel // "date|tier" -> highest level already sent
}

// NewThresholdWatcher creates a watcher over the given notifiers.
func NewThresholdWatcher(notifiers []alerts.Notifier, logger *slog.Logger) *ThresholdWatcher {
	return &ThresholdWatcher{
		notifiers: notifiers,
		logger:    logger,
		fired:     make(map[string]alerts.AlertLevel),
	}
}

// Observe evaluates a tier's updated counter and sends alerts for any newly
// crossed threshold. Notifier failures are logged, never propagated; alerting
// must not affect the request path.
func (w *ThresholdWatcher) Observe(ctx context.Context, rec *model.UsageRecord) {
	if rec.Limit <= 0 {
		return
	}

	pct := float64(rec.TokensUsed) / float64(rec.Limit) * 100

	var level alerts.AlertLevel
	var threshold float64
	switch {
	case pct >= 100:
		level, threshold = alerts.AlertExceeded, 100
	case pct >= 95:
		level, threshold = alerts.AlertCritical, 95
	case pct >= 80:
		level, threshold = alerts.AlertWarning, 80
	default:
		return
	}

	key := rec.Date + "|" + string(rec.Tier)

	w.mu.Lock()
	if levelRank(w.fired[key]) >= levelRank(level) {
		w.mu.Unlock()
		return
	}
	w.fired[key] = level
	w.mu.Unlock()

	alert := alerts.Alert{
		Level:        level,
		Tier:         string(rec.Tier),
		Date:         rec.Date,
		TokensUsed:   rec.TokensUsed,
		Limit:        rec.Limit,
		ThresholdPct: threshold,
		Message: fmt.Sprintf("%s tier at %.1f%% of daily token limit (%d / %d)",
			rec.Tier, pct, rec.TokensUsed, rec.Limit),
	}

	w.logger.Warn("quota threshold crossed",
		"tier", rec.Tier,
		"level", level,
		"pct", pct,
		"tokens_used", rec.TokensUsed,
		"limit", rec.Limit,
	)

	for _, notifier := range w.notifiers {
		if err := notifier.Send(ctx, alert); err != nil {
			w.logger.Error("send quota alert failed",
				"notifier", notifier.Name(),
				"tier", rec.Tier,
				"error", err,
			)
		}
	}
}

func levelRank(level alerts.AlertLevel) int {
	switch level {
	case alerts.AlertWarning:
		return 1
	case alerts.AlertCritical:
		return 2
	case alerts.AlertExceeded:
		return 3
	default:
		return 0
	}
}
