package storage

import (
	"context"
	"errors"

	"github.com/tokenledger/quota-proxy/pkg/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence layer for tier counters, request history,
// and the small key/value config table.
type Store interface {
	// GetTierUsage retrieves the live usage record for a tier.
	GetTierUsage(ctx context.Context, tier model.Tier) (*model.UsageRecord, error)

	// EnsureTierUsage creates the tier's usage record if it does not exist,
	// starting at zero tokens for the given date. If the record already
	// exists only its limit is updated; the counter and date are untouched.
	EnsureTierUsage(ctx context.Context, tier model.Tier, date string, limit int64) error

	// IncrementTierUsage atomically adds tokens to a tier's counter.
	IncrementTierUsage(ctx context.Context, tier model.Tier, tokens int64) error

	// ResetAllTierUsage zeroes every tier counter, stamps each record with
	// the new date, and records the date as the current ledger date, all in
	// one transaction.
	ResetAllTierUsage(ctx context.Context, date string) error

	// AppendHistory persists a history entry and assigns its ID.
	AppendHistory(ctx context.Context, entry *model.HistoryEntry) error

	// QueryHistory returns entries ordered newest first, plus the total count.
	QueryHistory(ctx context.Context, limit, offset int) ([]model.HistoryEntry, int64, error)

	// GetConfigValue reads a value from the config table.
	GetConfigValue(ctx context.Context, key string) (string, error)

	// SetConfigValue upserts a value into the config table.
	SetConfigValue(ctx context.Context, key, value string) error

	// Close releases resources.
	Close() error
}

// ConfigKeyLedgerDate is the config-table key holding the UTC calendar day
// the tier counters currently apply to.
const ConfigKeyLedgerDate = "ledger_date"
