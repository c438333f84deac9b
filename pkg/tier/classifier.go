package tier

import (
	"log/slog"
	"strings"

	"github.com/tokenledger/quota-proxy/pkg/model"
)

// Classifier maps a model identifier to its quota tier by prefix match.
//
// The mini list is always checked before the premium list: mini model names
// frequently start with a premium prefix ("gpt-5-mini" vs "gpt-5"), and the
// more specific list must win. Classification is total; an unrecognized model
// falls back to the premium tier so that unknown usage counts against the
// stricter budget.
type Classifier struct {
	miniPrefixes    []string
	premiumPrefixes []string
	logger          *slog.Logger
}

// NewClassifier creates a classifier from the given tier definitions.
func NewClassifier(defs *Definitions, logger *slog.Logger) *Classifier {
	return &Classifier{
		miniPrefixes:    normalizeAll(defs.Mini.Prefixes),
		premiumPrefixes: normalizeAll(defs.Premium.Prefixes),
		logger:          logger,
	}
}

// Classify returns the quota tier for the given model name. It never fails;
// a model matching neither prefix list classifies as premium and logs a
// warning so operators can extend the tier definitions.
func (c *Classifier) Classify(modelName string) model.Tier {
	name := normalize(modelName)

	for _, p := range c.miniPrefixes {
		if strings.HasPrefix(name, p) {
			return model.TierMini
		}
	}
	for _, p := range c.premiumPrefixes {
		if strings.HasPrefix(name, p) {
			return model.TierPremium
		}
	}

	c.logger.Warn("unknown model, defaulting to premium tier", "model", modelName)
	return model.TierPremium
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func normalizeAll(prefixes []string) []string {
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		out = append(out, normalize(p))
	}
	return out
}
