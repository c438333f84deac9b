package history

import (
	"context"
	"fmt"

	"github.com/tokenledger/quota-proxy/pkg/model"
	"github.com/tokenledger/quota-proxy/pkg/storage"
)

const (
	// DefaultLimit is the page size used when the caller does not ask for one.
	DefaultLimit = 50
	// MaxLimit caps a single history page.
	MaxLimit = 500
)

// Log is the append-only record of completed request outcomes. Entries are
// never mutated or deleted here; retention is a store-level concern.
type Log struct {
	store storage.Store
}

// NewLog creates a history log over the given store.
func NewLog(store storage.Store) *Log {
	return &Log{store: store}
}

// Append persists one entry and assigns its ID from the store.
func (l *Log) Append(ctx context.Context, entry *model.HistoryEntry) error {
	if err := l.store.AppendHistory(ctx, entry); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// List returns one page of entries, newest first. The limit is clamped to
// [1, MaxLimit] (defaulting when unset) and a negative offset is treated
// as zero.
func (l *Log) List(ctx context.Context, limit, offset int) (*model.HistoryPage, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}

	entries, total, err := l.store.QueryHistory(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	if entries == nil {
		entries = []model.HistoryEntry{}
	}

	return &model.HistoryPage{
		Entries: entries,
		Pagination: model.Pagination{
			Limit:   limit,
			Offset:  offset,
			Total:   total,
			HasMore: int64(offset+len(entries)) < total,
		},
	}, nil
}
