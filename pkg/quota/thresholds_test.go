package quota_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tokenledger/quota-proxy/pkg/alerts"
	"github.com/tokenledger/quota-proxy/pkg/model"
	"github.com/tokenledger/quota-proxy/pkg/quota"
)

type captureNotifier struct {
	mu   sync.Mutex
	sent []alerts.Alert
}

func (c *captureNotifier) Name() string { return "capture" }

func (c *captureNotifier) Send(_ context.Context, alert alerts.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, alert)
	return nil
}

func (c *captureNotifier) alerts() []alerts.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]alerts.Alert(nil), c.sent...)
}

func usageAt(tokens int64) *model.UsageRecord {
	return &model.UsageRecord{
		Tier:       model.TierPremium,
		Date:       "2025-01-14",
		TokensUsed: tokens,
		Limit:      1_000_000,
	}
}

func TestThresholdWatcher_FiresOncePerLevel(t *testing.T) {
	capture := &captureNotifier{}
	w := quota.NewThresholdWatcher([]alerts.Notifier{capture}, testLogger())
	ctx := context.Background()

	w.Observe(ctx, usageAt(100_000)) // 10%: nothing
	assert.Empty(t, capture.alerts())

	w.Observe(ctx, usageAt(820_000)) // 82%: warning
	w.Observe(ctx, usageAt(850_000)) // still warning, no duplicate
	got := capture.alerts()
	assert.Len(t, got, 1)
	assert.Equal(t, alerts.AlertWarning, got[0].Level)
	assert.Equal(t, "premium", got[0].Tier)

	w.Observe(ctx, usageAt(960_000)) // 96%: critical
	w.Observe(ctx, usageAt(1_200_000)) // 120%: exceeded
	got = capture.alerts()
	assert.Len(t, got, 3)
	assert.Equal(t, alerts.AlertCritical, got[1].Level)
	assert.Equal(t, alerts.AlertExceeded, got[2].Level)
}

func TestThresholdWatcher_ResetsAcrossDays(t *testing.T) {
	capture := &captureNotifier{}
	w := quota.NewThresholdWatcher([]alerts.Notifier{capture}, testLogger())
	ctx := context.Background()

	w.Observe(ctx, usageAt(900_000))
	assert.Len(t, capture.alerts(), 1)

	// Same usage level on a new ledger date fires again.
	next := usageAt(900_000)
	next.Date = "2025-01-15"
	w.Observe(ctx, next)
	assert.Len(t, capture.alerts(), 2)
}

func TestThresholdWatcher_TiersTrackedSeparately(t *testing.T) {
	capture := &captureNotifier{}
	w := quota.NewThresholdWatcher([]alerts.Notifier{capture}, testLogger())
	ctx := context.Background()

	w.Observe(ctx, usageAt(850_000))

	mini := &model.UsageRecord{
		Tier:       model.TierMini,
		Date:       "2025-01-14",
		TokensUsed: 4_500_000,
		Limit:      5_000_000,
	}
	w.Observe(ctx, mini)

	got := capture.alerts()
	assert.Len(t, got, 2)
	assert.Equal(t, "premium", got[0].Tier)
	assert.Equal(t, "mini", got[1].Tier)
}
