package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/tokenledger/quota-proxy/pkg/ledger"
	"github.com/tokenledger/quota-proxy/pkg/model"
	"github.com/tokenledger/quota-proxy/pkg/tier"
)

const dateLayout = "2006-01-02"

// Reconciler repairs undercounted local usage against the provider's
// authoritative usage report. Streaming responses are never accounted
// locally, so the local counter can only under-report; reconciliation adds
// the positive shortfall per tier and never decreases a counter. A local
// counter higher than the report is left for an operator to investigate.
type Reconciler struct {
	ledger     *ledger.Ledger
	classifier *tier.Classifier
	fetcher    UsageFetcher
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a reconciler.
func New(l *ledger.Ledger, c *tier.Classifier, f UsageFetcher, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		ledger:     l,
		classifier: c,
		fetcher:    f,
		logger:     logger,
		now:        time.Now,
	}
}

// Reconcile fetches the full usage report for the given UTC day (current day
// when date is empty), aggregates it per tier, and applies the positive
// shortfall to the ledger. The fetch runs to completion before any ledger
// mutation: a failure on any page aborts the run with nothing applied.
func (r *Reconciler) Reconcile(ctx context.Context, date string) (*model.ReconciliationResult, error) {
	if date == "" {
		date = r.now().UTC().Format(dateLayout)
	}
	day, err := time.ParseInLocation(dateLayout, date, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid reconciliation date %q: %w", date, err)
	}
	start := day.Unix()
	end := day.Add(24 * time.Hour).Unix()

	rows, err := r.fetchAll(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", date, err)
	}

	upstream := make(map[model.Tier]int64)
	perModel := make(map[string]*model.ModelDetail)
	for _, row := range rows {
		t := r.classifier.Classify(row.Model)
		upstream[t] += row.InputTokens + row.OutputTokens

		d, ok := perModel[row.Model]
		if !ok {
			d = &model.ModelDetail{Model: row.Model, Tier: t}
			perModel[row.Model] = d
		}
		d.InputTokens += row.InputTokens
		d.OutputTokens += row.OutputTokens
		d.Requests += row.NumRequests
	}

	if ledgerDate := r.ledger.Date(); ledgerDate != date {
		r.logger.Warn("reconciling a day the ledger is not currently tracking",
			"reconcile_date", date, "ledger_date", ledgerDate)
	}

	result := &model.ReconciliationResult{
		Date:  date,
		Tiers: make(map[model.Tier]model.TierCorrection, len(model.AllTiers())),
	}

	for _, t := range model.AllTiers() {
		before, err := r.ledger.Get(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("read %s tier before correction: %w", t, err)
		}

		diff := upstream[t] - before.TokensUsed
		if diff < 0 {
			diff = 0
		}

		after := before
		if diff > 0 {
			after, err = r.ledger.Increment(ctx, t, diff)
			if err != nil {
				return nil, fmt.Errorf("apply %s tier correction: %w", t, err)
			}
			r.logger.Info("reconciliation correction applied",
				"tier", t,
				"date", date,
				"before", before.TokensUsed,
				"upstream", upstream[t],
				"added", diff,
			)
		}

		result.Tiers[t] = model.TierCorrection{
			Before:   before.TokensUsed,
			After:    after.TokensUsed,
			Added:    diff,
			Upstream: upstream[t],
		}
	}

	result.Details = make([]model.ModelDetail, 0, len(perModel))
	for _, d := range perModel {
		result.Details = append(result.Details, *d)
	}
	sort.Slice(result.Details, func(i, j int) bool {
		return result.Details[i].Model < result.Details[j].Model
	})

	return result, nil
}

// fetchAll follows pagination to completion. Stopping early would silently
// undercount, so every page must succeed before anything is applied.
func (r *Reconciler) fetchAll(ctx context.Context, start, end int64) ([]ModelUsage, error) {
	var rows []ModelUsage
	page := ""
	for pageNum := 1; ; pageNum++ {
		p, err := r.fetcher.FetchUsagePage(ctx, start, end, page)
		if err != nil {
			return nil, fmt.Errorf("fetch usage page %d: %w", pageNum, err)
		}
		rows = append(rows, p.Rows...)

		if !p.HasMore || p.NextPage == "" {
			return rows, nil
		}
		page = p.NextPage
	}
}
