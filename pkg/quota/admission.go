package quota

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tokenledger/quota-proxy/pkg/ledger"
	"github.com/tokenledger/quota-proxy/pkg/model"
	"github.com/tokenledger/quota-proxy/pkg/tier"
)

// Controller makes the allow/deny decision for an incoming request before
// it is forwarded upstream.
//
// The decision is advisory at admission time only: a request admitted just
// under the limit may still push the counter over once its own usage is
// accounted. The system accepts that slight overshoot rather than holding a
// lock across the upstream call.
type Controller struct {
	ledger     *ledger.Ledger
	classifier *tier.Classifier
	logger     *slog.Logger
}

// NewController creates an admission controller.
func NewController(l *ledger.Ledger, c *tier.Classifier, logger *slog.Logger) *Controller {
	return &Controller{ledger: l, classifier: c, logger: logger}
}

// Admit runs the rollover check, classifies the model, and compares the
// tier's counter against its daily limit. The returned decision always
// carries the resolved tier; accounting downstream needs it. An error means
// the check itself could not run, not that the request was denied.
func (c *Controller) Admit(ctx context.Context, modelName string) (*model.Decision, error) {
	if _, err := c.ledger.CheckAndRollover(ctx); err != nil {
		return nil, fmt.Errorf("admission rollover check: %w", err)
	}

	t := c.classifier.Classify(modelName)

	rec, err := c.ledger.Get(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("read %s tier usage: %w", t, err)
	}

	if rec.TokensUsed >= rec.Limit {
		c.logger.Warn("request denied, daily quota exceeded",
			"model", modelName,
			"tier", t,
			"tokens_used", rec.TokensUsed,
			"limit", rec.Limit,
		)
		return &model.Decision{
			Allowed:    false,
			Tier:       t,
			TokensUsed: rec.TokensUsed,
			Limit:      rec.Limit,
			Reason: fmt.Sprintf("daily token quota exceeded for %s tier: %d of %d tokens used; quota resets at 00:00 UTC",
				t, rec.TokensUsed, rec.Limit),
		}, nil
	}

	return &model.Decision{
		Allowed:    true,
		Tier:       t,
		TokensUsed: rec.TokensUsed,
		Limit:      rec.Limit,
	}, nil
}
