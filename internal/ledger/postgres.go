package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"signalhub/internal/domain"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS model_usage (
	id             UUID PRIMARY KEY,
	timestamp      TIMESTAMPTZ NOT NULL,
	model          TEXT NOT NULL,
	input_tokens   INTEGER NOT NULL,
	output_tokens  INTEGER NOT NULL,
	cost_usd       DOUBLE PRECISION NOT NULL,
	savings_usd    DOUBLE PRECISION NOT NULL,
	routing_reason TEXT NOT NULL DEFAULT '',
	cache_hit      BOOLEAN NOT NULL DEFAULT FALSE,
	latency_ms     INTEGER NOT NULL DEFAULT 0,
	tool_name      TEXT NOT NULL DEFAULT '',
	user_id        TEXT NOT NULL DEFAULT '',
	metadata       JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_model_usage_timestamp ON model_usage (timestamp);
CREATE INDEX IF NOT EXISTS idx_model_usage_user_id ON model_usage (user_id);
`

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects, applies the schema, and returns the store.
func NewPostgresStore(dsn string, maxConns int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening ledger db: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging ledger db: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing ledger schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Append(ctx context.Context, rec *domain.ModelUsage) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("%w: encoding metadata: %v", domain.ErrInvalidInput, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO model_usage
			(id, timestamp, model, input_tokens, output_tokens, cost_usd, savings_usd,
			 routing_reason, cache_hit, latency_ms, tool_name, user_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.Timestamp, string(rec.Model),
		rec.InputTokens, rec.OutputTokens, rec.CostUSD, rec.SavingsUSD,
		rec.RoutingReason, rec.CacheHit, rec.LatencyMs, rec.ToolName, rec.UserID, meta)
	if err != nil {
		return fmt.Errorf("%w: appending usage record: %v", domain.ErrTransient, err)
	}
	return nil
}

func (s *PostgresStore) Range(ctx context.Context, start, end time.Time, userID string) ([]*domain.ModelUsage, error) {
	q := `SELECT id, timestamp, model, input_tokens, output_tokens, cost_usd, savings_usd,
		routing_reason, cache_hit, latency_ms, tool_name, user_id, metadata
		FROM model_usage WHERE timestamp >= $1 AND timestamp < $2`
	args := []any{start, end}
	if userID != "" {
		q += ` AND user_id = $3`
		args = append(args, userID)
	}
	q += ` ORDER BY timestamp ASC`
	return s.query(ctx, q, args...)
}

func (s *PostgresStore) Recent(ctx context.Context, limit int, userID string) ([]*domain.ModelUsage, error) {
	var (
		q    string
		args []any
	)
	if userID != "" {
		q = `SELECT id, timestamp, model, input_tokens, output_tokens, cost_usd, savings_usd,
			routing_reason, cache_hit, latency_ms, tool_name, user_id, metadata
			FROM model_usage WHERE user_id = $1 ORDER BY timestamp DESC LIMIT $2`
		args = []any{userID, limit}
	} else {
		q = `SELECT id, timestamp, model, input_tokens, output_tokens, cost_usd, savings_usd,
			routing_reason, cache_hit, latency_ms, tool_name, user_id, metadata
			FROM model_usage ORDER BY timestamp DESC LIMIT $1`
		args = []any{limit}
	}
	return s.query(ctx, q, args...)
}

func (s *PostgresStore) TotalCost(ctx context.Context, start, end time.Time) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM model_usage WHERE timestamp >= $1 AND timestamp < $2`,
		start, end).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("%w: summing cost: %v", domain.ErrTransient, err)
	}
	return total, nil
}

func (s *PostgresStore) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM model_usage WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("%w: pruning ledger: %v", domain.ErrTransient, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*domain.ModelUsage, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying ledger: %v", domain.ErrTransient, err)
	}
	defer rows.Close()

	var out []*domain.ModelUsage
	for rows.Next() {
		var (
			rec   domain.ModelUsage
			model string
			meta  []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &model, &rec.InputTokens, &rec.OutputTokens,
			&rec.CostUSD, &rec.SavingsUSD, &rec.RoutingReason, &rec.CacheHit,
			&rec.LatencyMs, &rec.ToolName, &rec.UserID, &meta); err != nil {
			return nil, fmt.Errorf("%w: scanning usage row: %v", domain.ErrTransient, err)
		}
		rec.Model = domain.ModelTier(model)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
				rec.Metadata = nil
			}
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
