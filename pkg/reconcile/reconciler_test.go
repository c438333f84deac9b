package reconcile_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenledger/quota-proxy/pkg/ledger"
	"github.com/tokenledger/quota-proxy/pkg/model"
	"github.com/tokenledger/quota-proxy/pkg/reconcile"
	"github.com/tokenledger/quota-proxy/pkg/storage"
	"github.com/tokenledger/quota-proxy/pkg/tier"
)

var testLimits = map[model.Tier]int64{
	model.TierPremium: 1_000_000,
	model.TierMini:    5_000_000,
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeFetcher serves a fixed sequence of pages and can fail on a given page.
type fakeFetcher struct {
	pages      []reconcile.UsagePage
	failAtPage int // 1-based; 0 means never fail
	calls      int
	cursors    []string
}

func (f *fakeFetcher) FetchUsagePage(_ context.Context, _, _ int64, page string) (*reconcile.UsagePage, error) {
	f.calls++
	f.cursors = append(f.cursors, page)
	if f.failAtPage != 0 && f.calls == f.failAtPage {
		return nil, errors.New("upstream unavailable")
	}
	if f.calls > len(f.pages) {
		return &reconcile.UsagePage{}, nil
	}
	p := f.pages[f.calls-1]
	return &p, nil
}

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	store, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	l := ledger.New(store, testLimits, testLogger())
	require.NoError(t, l.Init(context.Background()))
	return l
}

func newTestReconciler(t *testing.T, l *ledger.Ledger, f reconcile.UsageFetcher) *reconcile.Reconciler {
	t.Helper()
	classifier := tier.NewClassifier(tier.DefaultDefinitions(), testLogger())
	return reconcile.New(l, classifier, f, testLogger())
}

func TestReconcile_AddsShortfall(t *testing.T) {
	l := newTestLedger(t)
	fetcher := &fakeFetcher{pages: []reconcile.UsagePage{{
		Rows: []reconcile.ModelUsage{
			{Model: "gpt-4o", InputTokens: 600, OutputTokens: 400, NumRequests: 3},
		},
	}}}
	r := newTestReconciler(t, l, fetcher)

	result, err := r.Reconcile(context.Background(), "")
	require.NoError(t, err)

	premium := result.Tiers[model.TierPremium]
	assert.Equal(t, int64(0), premium.Before)
	assert.Equal(t, int64(1000), premium.Added)
	assert.Equal(t, int64(1000), premium.After)
	assert.Equal(t, int64(1000), premium.Upstream)

	mini := result.Tiers[model.TierMini]
	assert.Equal(t, int64(0), mini.Added)
	assert.Equal(t, int64(0), mini.After)

	rec, err := l.Get(context.Background(), model.TierPremium)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), rec.TokensUsed)
}

func TestReconcile_IdempotentWhenReportUnchanged(t *testing.T) {
	l := newTestLedger(t)
	page := reconcile.UsagePage{Rows: []reconcile.ModelUsage{
		{Model: "gpt-4o", InputTokens: 600, OutputTokens: 400, NumRequests: 3},
	}}

	r := newTestReconciler(t, l, &fakeFetcher{pages: []reconcile.UsagePage{page}})
	_, err := r.Reconcile(context.Background(), "")
	require.NoError(t, err)

	// Second run with identical upstream data adds nothing.
	r2 := newTestReconciler(t, l, &fakeFetcher{pages: []reconcile.UsagePage{page}})
	result, err := r2.Reconcile(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Tiers[model.TierPremium].Added)
	assert.Equal(t, int64(0), result.Tiers[model.TierMini].Added)
	assert.Equal(t, int64(1000), result.Tiers[model.TierPremium].After)
}

func TestReconcile_NeverDecreasesCounter(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Increment(ctx, model.TierPremium, 500)
	require.NoError(t, err)

	fetcher := &fakeFetcher{pages: []reconcile.UsagePage{{
		Rows: []reconcile.ModelUsage{
			{Model: "gpt-4o", InputTokens: 200, OutputTokens: 100, NumRequests: 2},
		},
	}}}
	r := newTestReconciler(t, l, fetcher)

	result, err := r.Reconcile(ctx, "")
	require.NoError(t, err)

	premium := result.Tiers[model.TierPremium]
	assert.Equal(t, int64(500), premium.Before)
	assert.Equal(t, int64(0), premium.Added)
	assert.Equal(t, int64(500), premium.After)
	assert.Equal(t, int64(300), premium.Upstream)
}

func TestReconcile_FollowsPaginationToCompletion(t *testing.T) {
	l := newTestLedger(t)
	fetcher := &fakeFetcher{pages: []reconcile.UsagePage{
		{
			Rows:     []reconcile.ModelUsage{{Model: "gpt-4o", InputTokens: 100, OutputTokens: 50}},
			HasMore:  true,
			NextPage: "page_2",
		},
		{
			Rows: []reconcile.ModelUsage{{Model: "gpt-4o", InputTokens: 200, OutputTokens: 150}},
		},
	}}
	r := newTestReconciler(t, l, fetcher)

	result, err := r.Reconcile(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 2, fetcher.calls)
	assert.Equal(t, []string{"", "page_2"}, fetcher.cursors)
	assert.Equal(t, int64(500), result.Tiers[model.TierPremium].Added)
}

func TestReconcile_PageFailureAbortsWithNoMutation(t *testing.T) {
	l := newTestLedger(t)
	fetcher := &fakeFetcher{
		pages: []reconcile.UsagePage{
			{
				Rows:     []reconcile.ModelUsage{{Model: "gpt-4o", InputTokens: 100, OutputTokens: 50}},
				HasMore:  true,
				NextPage: "page_2",
			},
		},
		failAtPage: 2,
	}
	r := newTestReconciler(t, l, fetcher)

	_, err := r.Reconcile(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page 2")

	// Nothing from page 1 was applied.
	rec, err := l.Get(context.Background(), model.TierPremium)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.TokensUsed)
}

func TestReconcile_ClassifiesPerTier(t *testing.T) {
	l := newTestLedger(t)
	fetcher := &fakeFetcher{pages: []reconcile.UsagePage{{
		Rows: []reconcile.ModelUsage{
			{Model: "gpt-4o", InputTokens: 100, OutputTokens: 100, NumRequests: 1},
			{Model: "gpt-4o-mini", InputTokens: 1000, OutputTokens: 500, NumRequests: 10},
			{Model: "o3-mini", InputTokens: 200, OutputTokens: 300, NumRequests: 2},
		},
	}}}
	r := newTestReconciler(t, l, fetcher)

	result, err := r.Reconcile(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, int64(200), result.Tiers[model.TierPremium].Added)
	assert.Equal(t, int64(2000), result.Tiers[model.TierMini].Added)

	require.Len(t, result.Details, 3)
	// Sorted by model name.
	assert.Equal(t, "gpt-4o", result.Details[0].Model)
	assert.Equal(t, model.TierPremium, result.Details[0].Tier)
	assert.Equal(t, "gpt-4o-mini", result.Details[1].Model)
	assert.Equal(t, model.TierMini, result.Details[1].Tier)
	assert.Equal(t, "o3-mini", result.Details[2].Model)
	assert.Equal(t, int64(2), result.Details[2].Requests)
}

func TestReconcile_ExplicitDate(t *testing.T) {
	l := newTestLedger(t)
	fetcher := &fakeFetcher{pages: []reconcile.UsagePage{{}}}
	r := newTestReconciler(t, l, fetcher)

	result, err := r.Reconcile(context.Background(), "2025-01-14")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-14", result.Date)
	assert.Empty(t, result.Details)
}

func TestReconcile_InvalidDate(t *testing.T) {
	l := newTestLedger(t)
	r := newTestReconciler(t, l, &fakeFetcher{})

	_, err := r.Reconcile(context.Background(), "14-01-2025")
	assert.Error(t, err)
}
