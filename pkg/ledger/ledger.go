package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tokenledger/quota-proxy/pkg/model"
	"github.com/tokenledger/quota-proxy/pkg/storage"
)

// ErrNotInitialized is returned when the ledger is used before Init.
var ErrNotInitialized = errors.New("ledger not initialized")

// dateLayout is the UTC calendar day format used for the ledger date.
const dateLayout = "2006-01-02"

// Ledger owns the current day's per-tier token counters. All writers
// (accounting, reconciliation, the daily rollover) go through it.
//
// A single mutex serializes counter writes and the rollover so an increment
// for the previous day can never land in a freshly reset counter. Critical
// sections only cover store access, never upstream network calls. The limit
// is not enforced here: admission checks the limit before forwarding, and
// usage must always be recorded even when a counter overshoots.
type Ledger struct {
	store  storage.Store
	limits map[model.Tier]int64
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	initialized bool
	date        string
}

// New creates a ledger over the given store with per-tier daily limits.
func New(store storage.Store, limits map[model.Tier]int64, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		limits: limits,
		logger: logger,
		now:    time.Now,
	}
}

// Init loads or seeds the ledger date and per-tier usage records.
// On first startup every counter begins at zero for the current UTC day.
// Configured limits are re-applied on every start so limit changes take
// effect without touching the counters.
func (l *Ledger) Init(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	today := l.today()

	date, err := l.store.GetConfigValue(ctx, storage.ConfigKeyLedgerDate)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if err := l.store.SetConfigValue(ctx, storage.ConfigKeyLedgerDate, today); err != nil {
			return fmt.Errorf("seed ledger date: %w", err)
		}
		date = today
	case err != nil:
		return fmt.Errorf("load ledger date: %w", err)
	}

	for _, tier := range model.AllTiers() {
		limit, ok := l.limits[tier]
		if !ok || limit <= 0 {
			return fmt.Errorf("no daily limit configured for tier %q", tier)
		}
		if err := l.store.EnsureTierUsage(ctx, tier, date, limit); err != nil {
			return fmt.Errorf("seed tier %q: %w", tier, err)
		}
	}

	l.date = date
	l.initialized = true
	l.logger.Info("ledger initialized", "date", date)
	return nil
}

// CheckAndRollover compares the ledger date against the current UTC day and,
// if the day has changed, resets every tier counter to zero and advances the
// date. It returns true when a rollover occurred. Safe to call redundantly;
// within a given UTC day it is a no-op, which also makes it self-healing
// after the process slept or was down across midnight.
func (l *Ledger) CheckAndRollover(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rolloverLocked(ctx)
}

func (l *Ledger) rolloverLocked(ctx context.Context) (bool, error) {
	if !l.initialized {
		return false, ErrNotInitialized
	}

	today := l.today()
	if l.date == today {
		return false, nil
	}

	if err := l.store.ResetAllTierUsage(ctx, today); err != nil {
		return false, fmt.Errorf("daily rollover: %w", err)
	}

	l.logger.Info("daily quota rollover", "previous_date", l.date, "date", today)
	l.date = today
	return true, nil
}

// Get returns a snapshot of the tier's live usage record.
func (l *Ledger) Get(ctx context.Context, tier model.Tier) (*model.UsageRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getLocked(ctx, tier)
}

func (l *Ledger) getLocked(ctx context.Context, tier model.Tier) (*model.UsageRecord, error) {
	if !l.initialized {
		return nil, ErrNotInitialized
	}
	if !tier.Valid() {
		return nil, fmt.Errorf("unknown tier %q", tier)
	}
	return l.store.GetTierUsage(ctx, tier)
}

// Increment adds tokens to the tier's counter and returns the updated record.
// There is no upper clamp: a counter may exceed its limit transiently due to
// concurrent overshoot or reconciliation corrections.
func (l *Ledger) Increment(ctx context.Context, tier model.Tier, tokens int64) (*model.UsageRecord, error) {
	if tokens < 0 {
		return nil, fmt.Errorf("negative token increment %d for tier %q", tokens, tier)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.initialized {
		return nil, ErrNotInitialized
	}
	if !tier.Valid() {
		return nil, fmt.Errorf("unknown tier %q", tier)
	}

	if err := l.store.IncrementTierUsage(ctx, tier, tokens); err != nil {
		return nil, fmt.Errorf("increment tier %q: %w", tier, err)
	}
	return l.store.GetTierUsage(ctx, tier)
}

// Percentage returns tokens_used/limit as a percentage, unclamped.
func (l *Ledger) Percentage(ctx context.Context, tier model.Tier) (float64, error) {
	rec, err := l.Get(ctx, tier)
	if err != nil {
		return 0, err
	}
	return float64(rec.TokensUsed) / float64(rec.Limit) * 100, nil
}

// Snapshot runs the rollover check and returns the current usage for every
// tier. A stats read must trigger the rollover just like an admission check
// does, so a dashboard polled across midnight shows the reset counters.
func (l *Ledger) Snapshot(ctx context.Context) (*model.UsageStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.rolloverLocked(ctx); err != nil {
		return nil, err
	}

	stats := &model.UsageStats{
		Date:  l.date,
		Tiers: make(map[model.Tier]model.TierStats, len(model.AllTiers())),
	}
	for _, tier := range model.AllTiers() {
		rec, err := l.getLocked(ctx, tier)
		if err != nil {
			return nil, err
		}
		stats.Tiers[tier] = model.TierStats{
			Used:       rec.TokensUsed,
			Limit:      rec.Limit,
			Percentage: float64(rec.TokensUsed) / float64(rec.Limit) * 100,
		}
	}
	return stats, nil
}

// Date returns the UTC calendar day the counters currently apply to.
func (l *Ledger) Date() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.date
}

func (l *Ledger) today() string {
	return l.now().UTC().Format(dateLayout)
}
