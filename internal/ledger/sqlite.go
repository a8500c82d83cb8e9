package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"signalhub/internal/domain"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS model_usage (
	id             TEXT PRIMARY KEY,
	timestamp      INTEGER NOT NULL,
	model          TEXT NOT NULL,
	input_tokens   INTEGER NOT NULL,
	output_tokens  INTEGER NOT NULL,
	cost_usd       REAL NOT NULL,
	savings_usd    REAL NOT NULL,
	routing_reason TEXT NOT NULL DEFAULT '',
	cache_hit      INTEGER NOT NULL DEFAULT 0,
	latency_ms     INTEGER NOT NULL DEFAULT 0,
	tool_name      TEXT NOT NULL DEFAULT '',
	user_id        TEXT NOT NULL DEFAULT '',
	metadata       TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_model_usage_timestamp ON model_usage (timestamp);
CREATE INDEX IF NOT EXISTS idx_model_usage_user_id ON model_usage (user_id);
`

// SQLiteStore is a file-backed Store using the pure-Go sqlite driver.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the ledger database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger db: %w", err)
	}
	// A single writer keeps the append path free of SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing ledger schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, rec *domain.ModelUsage) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("%w: encoding metadata: %v", domain.ErrInvalidInput, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO model_usage
			(id, timestamp, model, input_tokens, output_tokens, cost_usd, savings_usd,
			 routing_reason, cache_hit, latency_ms, tool_name, user_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UnixMilli(), string(rec.Model),
		rec.InputTokens, rec.OutputTokens, rec.CostUSD, rec.SavingsUSD,
		rec.RoutingReason, rec.CacheHit, rec.LatencyMs, rec.ToolName, rec.UserID, string(meta))
	if err != nil {
		return fmt.Errorf("%w: appending usage record: %v", domain.ErrTransient, err)
	}
	return nil
}

func (s *SQLiteStore) Range(ctx context.Context, start, end time.Time, userID string) ([]*domain.ModelUsage, error) {
	q := `SELECT id, timestamp, model, input_tokens, output_tokens, cost_usd, savings_usd,
		routing_reason, cache_hit, latency_ms, tool_name, user_id, metadata
		FROM model_usage WHERE timestamp >= ? AND timestamp < ?`
	args := []any{start.UnixMilli(), end.UnixMilli()}
	if userID != "" {
		q += ` AND user_id = ?`
		args = append(args, userID)
	}
	q += ` ORDER BY timestamp ASC`
	return s.query(ctx, q, args...)
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int, userID string) ([]*domain.ModelUsage, error) {
	q := `SELECT id, timestamp, model, input_tokens, output_tokens, cost_usd, savings_usd,
		routing_reason, cache_hit, latency_ms, tool_name, user_id, metadata
		FROM model_usage`
	var args []any
	if userID != "" {
		q += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	q += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)
	return s.query(ctx, q, args...)
}

func (s *SQLiteStore) TotalCost(ctx context.Context, start, end time.Time) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM model_usage WHERE timestamp >= ? AND timestamp < ?`,
		start.UnixMilli(), end.UnixMilli()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("%w: summing cost: %v", domain.ErrTransient, err)
	}
	return total, nil
}

func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM model_usage WHERE timestamp < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("%w: pruning ledger: %v", domain.ErrTransient, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]*domain.ModelUsage, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying ledger: %v", domain.ErrTransient, err)
	}
	defer rows.Close()

	var out []*domain.ModelUsage
	for rows.Next() {
		var (
			rec   domain.ModelUsage
			ts    int64
			model string
			meta  string
		)
		if err := rows.Scan(&rec.ID, &ts, &model, &rec.InputTokens, &rec.OutputTokens,
			&rec.CostUSD, &rec.SavingsUSD, &rec.RoutingReason, &rec.CacheHit,
			&rec.LatencyMs, &rec.ToolName, &rec.UserID, &meta); err != nil {
			return nil, fmt.Errorf("%w: scanning usage row: %v", domain.ErrTransient, err)
		}
		rec.Timestamp = time.UnixMilli(ts).UTC()
		rec.Model = domain.ModelTier(model)
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
				rec.Metadata = nil
			}
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
