package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tokenledger/quota-proxy/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLite implements the Store interface using an SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens or creates an SQLite database at the given path.
func NewSQLite(dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) GetTierUsage(ctx context.Context, tier model.Tier) (*model.UsageRecord, error) {
	var r model.UsageRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT tier, date, tokens_used, token_limit FROM tier_usage WHERE tier = ?`, string(tier),
	).Scan(&r.Tier, &r.Date, &r.TokensUsed, &r.Limit)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tier usage %q: %w", tier, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get tier usage: %w", err)
	}
	return &r, nil
}

func (s *SQLite) EnsureTierUsage(ctx context.Context, tier model.Tier, date string, limit int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tier_usage (tier, date, tokens_used, token_limit)
		 VALUES (?, ?, 0, ?)
		 ON CONFLICT(tier) DO UPDATE SET token_limit = excluded.token_limit`,
		string(tier), date, limit,
	)
	if err != nil {
		return fmt.Errorf("ensure tier usage: %w", err)
	}
	return nil
}

func (s *SQLite) IncrementTierUsage(ctx context.Context, tier model.Tier, tokens int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tier_usage SET tokens_used = tokens_used + ? WHERE tier = ?`,
		tokens, string(tier),
	)
	if err != nil {
		return fmt.Errorf("increment tier usage: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("tier usage %q: %w", tier, ErrNotFound)
	}
	return nil
}

func (s *SQLite) ResetAllTierUsage(ctx context.Context, date string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rollover: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tier_usage SET tokens_used = 0, date = ?`, date,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("reset tier counters: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO app_config (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		ConfigKeyLedgerDate, date,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("advance ledger date: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rollover: %w", err)
	}
	return nil
}

func (s *SQLite) AppendHistory(ctx context.Context, entry *model.HistoryEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO history (timestamp, model, tier, prompt_tokens, completion_tokens, total_tokens, request_path, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp, entry.Model, string(entry.Tier),
		entry.PromptTokens, entry.CompletionTokens, entry.TotalTokens,
		entry.Path, entry.Status,
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("read history id: %w", err)
	}
	entry.ID = id
	return nil
}

func (s *SQLite) QueryHistory(ctx context.Context, limit, offset int) ([]model.HistoryEntry, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count history: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, model, tier, prompt_tokens, completion_tokens, total_tokens, request_path, status
		 FROM history ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Model, &e.Tier,
			&e.PromptTokens, &e.CompletionTokens, &e.TotalTokens,
			&e.Path, &e.Status); err != nil {
			return nil, 0, fmt.Errorf("scan history row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

func (s *SQLite) GetConfigValue(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM app_config WHERE key = ?`, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("config key %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get config value: %w", err)
	}
	return value, nil
}

func (s *SQLite) SetConfigValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO app_config (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set config value: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
