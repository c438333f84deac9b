package alerts

import "context"

// AlertLevel indicates the severity of a quota alert.
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"  // Approaching the daily token limit
	AlertCritical AlertLevel = "critical" // At or near the daily token limit
	AlertExceeded AlertLevel = "exceeded" // Daily token limit exceeded
)

// Alert represents a quota threshold notification for one tier.
type Alert struct {
	Level        AlertLevel `json:"level"`
	Tier         string     `json:"tier"`
	Date         string     `json:"date"`
	TokensUsed   int64      `json:"tokens_used"`
	Limit        int64      `json:"limit"`
	ThresholdPct float64    `json:"threshold_pct"`
	Message      string     `json:"message"`
}

// Notifier sends alerts to external systems.
type Notifier interface {
	// Name returns the notifier identifier.
	Name() string

	// Send delivers an alert. Implementations must be safe for concurrent use.
	Send(ctx context.Context, alert Alert) error
}
