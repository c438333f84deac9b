package model

import "time"

// Tier is a quota bucket with its own daily token limit.
type Tier string

const (
	TierPremium Tier = "premium"
	TierMini    Tier = "mini"
)

// AllTiers returns every tier the ledger accounts for, in stable order.
func AllTiers() []Tier {
	return []Tier{TierPremium, TierMini}
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierPremium || t == TierMini
}

// UsageRecord is the current-day token counter for one tier.
// At most one live record exists per tier; Date is the UTC calendar
// day the counter applies to.
type UsageRecord struct {
	Tier       Tier   `json:"tier" db:"tier"`
	Date       string `json:"date" db:"date"`
	TokensUsed int64  `json:"tokens_used" db:"tokens_used"`
	Limit      int64  `json:"limit" db:"token_limit"`
}

// TokenUsage is the usage triple reported by a completion response.
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// HistoryEntry records one successfully accounted, non-streaming request.
// Entries are append-only; the store assigns the monotonic ID.
type HistoryEntry struct {
	ID               int64     `json:"id" db:"id"`
	Timestamp        time.Time `json:"timestamp" db:"timestamp"`
	Model            string    `json:"model" db:"model"`
	Tier             Tier      `json:"tier" db:"tier"`
	PromptTokens     int64     `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens" db:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens" db:"total_tokens"`
	Path             string    `json:"request_path" db:"request_path"`
	Status           int       `json:"status" db:"status"`
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool   `json:"allowed"`
	Tier       Tier   `json:"tier"`
	Reason     string `json:"reason,omitempty"`
	TokensUsed int64  `json:"tokens_used"`
	Limit      int64  `json:"limit"`
}

// TierStats is the per-tier view returned by the stats endpoint.
type TierStats struct {
	Used       int64   `json:"used"`
	Limit      int64   `json:"limit"`
	Percentage float64 `json:"percentage"`
}

// UsageStats is the full usage snapshot for the current ledger day.
type UsageStats struct {
	Date  string             `json:"date"`
	Tiers map[Tier]TierStats `json:"tiers"`
}

// Pagination describes one page of a history listing.
type Pagination struct {
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	Total   int64 `json:"total"`
	HasMore bool  `json:"has_more"`
}

// HistoryPage is one page of history entries plus its pagination envelope.
type HistoryPage struct {
	Entries    []HistoryEntry `json:"entries"`
	Pagination Pagination     `json:"pagination"`
}

// TierCorrection describes what reconciliation did to one tier's counter.
type TierCorrection struct {
	Before   int64 `json:"before"`
	After    int64 `json:"after"`
	Added    int64 `json:"added"`
	Upstream int64 `json:"upstream"`
}

// ModelDetail is the per-model breakdown included in a reconciliation result.
type ModelDetail struct {
	Model        string `json:"model"`
	Tier         Tier   `json:"tier"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	Requests     int64  `json:"num_requests"`
}

// ReconciliationResult summarizes one reconciliation run.
type ReconciliationResult struct {
	Date    string                  `json:"date"`
	Tiers   map[Tier]TierCorrection `json:"tiers"`
	Details []ModelDetail           `json:"details"`
}
