package history_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenledger/quota-proxy/pkg/history"
	"github.com/tokenledger/quota-proxy/pkg/model"
	"github.com/tokenledger/quota-proxy/pkg/storage"
)

func newTestLog(t *testing.T) *history.Log {
	t.Helper()
	store, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return history.NewLog(store)
}

func seedEntries(t *testing.T, log *history.Log, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		entry := &model.HistoryEntry{
			Model:            "gpt-4o",
			Tier:             model.TierPremium,
			PromptTokens:     100,
			CompletionTokens: 50,
			TotalTokens:      150,
			Path:             "/v1/chat/completions",
			Status:           200,
		}
		require.NoError(t, log.Append(context.Background(), entry))
	}
}

func TestLog_AppendAssignsMonotonicIDs(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	first := &model.HistoryEntry{Model: "gpt-4o", Tier: model.TierPremium, TotalTokens: 150, Status: 200}
	second := &model.HistoryEntry{Model: "gpt-4o-mini", Tier: model.TierMini, TotalTokens: 20, Status: 200}

	require.NoError(t, log.Append(ctx, first))
	require.NoError(t, log.Append(ctx, second))
	assert.Greater(t, second.ID, first.ID)
}

func TestLog_List(t *testing.T) {
	log := newTestLog(t)
	seedEntries(t, log, 7)

	page, err := log.List(context.Background(), 3, 0)
	require.NoError(t, err)
	assert.Len(t, page.Entries, 3)
	assert.Equal(t, int64(7), page.Pagination.Total)
	assert.True(t, page.Pagination.HasMore)

	page, err = log.List(context.Background(), 3, 6)
	require.NoError(t, err)
	assert.Len(t, page.Entries, 1)
	assert.False(t, page.Pagination.HasMore)
}

func TestLog_ListClamping(t *testing.T) {
	log := newTestLog(t)
	seedEntries(t, log, 2)

	// Zero limit defaults; oversized limit clamps; negative offset zeroes.
	page, err := log.List(context.Background(), 0, -5)
	require.NoError(t, err)
	assert.Equal(t, history.DefaultLimit, page.Pagination.Limit)
	assert.Equal(t, 0, page.Pagination.Offset)

	page, err = log.List(context.Background(), 10_000, 0)
	require.NoError(t, err)
	assert.Equal(t, history.MaxLimit, page.Pagination.Limit)
}

func TestLog_ListEmpty(t *testing.T) {
	log := newTestLog(t)

	page, err := log.List(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.NotNil(t, page.Entries)
	assert.Empty(t, page.Entries)
	assert.Equal(t, int64(0), page.Pagination.Total)
	assert.False(t, page.Pagination.HasMore)
}
