package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"signalhub/internal/domain"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

const cacheSchema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS cache_entries (
	id            UUID PRIMARY KEY,
	query_text    TEXT NOT NULL,
	embedding     vector NOT NULL,
	response      BYTEA NOT NULL,
	model         TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	ttl_seconds   INTEGER NOT NULL,
	hit_count     INTEGER NOT NULL DEFAULT 0,
	last_accessed TIMESTAMPTZ,
	context       JSONB NOT NULL DEFAULT '{}',
	status        TEXT NOT NULL DEFAULT 'ACTIVE'
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_created_at ON cache_entries (created_at);
CREATE INDEX IF NOT EXISTS idx_cache_entries_status ON cache_entries (status);
`

// searchOverscan is how many candidates beyond the caller's limit the SQL
// query returns, leaving room for context filtering in Go.
const searchOverscan = 8

// PostgresStore persists cache entries in PostgreSQL with pgvector search.
type PostgresStore struct {
	db       *sql.DB
	capacity int
}

// NewPostgresStore connects, applies the schema, and returns the store.
func NewPostgresStore(dsn string, capacity, maxConns int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging cache db: %w", err)
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing cache schema: %w", err)
	}
	return &PostgresStore{db: db, capacity: capacity}, nil
}

func (p *PostgresStore) Add(ctx context.Context, entry *domain.CachedResponse) (bool, error) {
	if entry.ID == "" {
		return false, fmt.Errorf("%w: cache entry without id", domain.ErrInvalidInput)
	}
	size, err := p.Size(ctx)
	if err != nil {
		return false, err
	}
	if size >= p.capacity {
		return false, nil
	}
	ctxJSON, err := json.Marshal(entry.Context)
	if err != nil {
		return false, fmt.Errorf("%w: encoding context: %v", domain.ErrInvalidInput, err)
	}
	var lastAccessed any
	if !entry.LastAccessed.IsZero() {
		lastAccessed = entry.LastAccessed
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO cache_entries
			(id, query_text, embedding, response, model, created_at, ttl_seconds,
			 hit_count, last_accessed, context, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			response = EXCLUDED.response,
			hit_count = EXCLUDED.hit_count,
			last_accessed = EXCLUDED.last_accessed,
			status = EXCLUDED.status`,
		entry.ID, entry.QueryText, pgvector.NewVector(entry.Embedding), entry.Response,
		string(entry.Model), entry.CreatedAt, entry.TTLSeconds,
		entry.HitCount, lastAccessed, ctxJSON, string(entry.Status))
	if err != nil {
		return false, fmt.Errorf("%w: inserting cache entry: %v", domain.ErrTransient, err)
	}
	return true, nil
}

func (p *PostgresStore) Search(ctx context.Context, embedding []float32, threshold float64, limit int, ctxFilter map[string]string) ([]*domain.CacheSearchResult, error) {
	// <=> is cosine distance, so 1 - distance is the raw cosine similarity.
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, query_text, embedding, response, model, created_at, ttl_seconds,
		       hit_count, last_accessed, context, status,
		       1 - (embedding <=> $1) AS similarity
		FROM cache_entries
		WHERE status = 'ACTIVE'
		  AND created_at + make_interval(secs => ttl_seconds) > now()
		ORDER BY embedding <=> $1
		LIMIT $2`,
		pgvector.NewVector(embedding), limit+searchOverscan)
	if err != nil {
		return nil, fmt.Errorf("%w: searching cache: %v", domain.ErrTransient, err)
	}
	defer rows.Close()

	var results []*domain.CacheSearchResult
	for rows.Next() {
		entry, rawSim, err := scanEntryWithSim(rows)
		if err != nil {
			return nil, err
		}
		sim := (clamp(rawSim) + 1) / 2
		if sim < threshold {
			continue
		}
		if len(ctxFilter) > 0 && !entry.ContextCompatible(ctxFilter) {
			continue
		}
		results = append(results, &domain.CacheSearchResult{Entry: entry, Similarity: sim})
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, rows.Err()
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*domain.CachedResponse, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, query_text, embedding, response, model, created_at, ttl_seconds,
		       hit_count, last_accessed, context, status
		FROM cache_entries WHERE id = $1`, id)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: cache entry %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading cache entry: %v", domain.ErrTransient, err)
	}
	return entry, nil
}

func (p *PostgresStore) Update(ctx context.Context, entry *domain.CachedResponse) error {
	var lastAccessed any
	if !entry.LastAccessed.IsZero() {
		lastAccessed = entry.LastAccessed
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE cache_entries
		SET response = $2, hit_count = $3, last_accessed = $4, status = $5
		WHERE id = $1`,
		entry.ID, entry.Response, entry.HitCount, lastAccessed, string(entry.Status))
	if err != nil {
		return fmt.Errorf("%w: updating cache entry: %v", domain.ErrTransient, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: cache entry %s", domain.ErrNotFound, entry.ID)
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE id = $1`, id); err != nil {
		return fmt.Errorf("%w: deleting cache entry: %v", domain.ErrTransient, err)
	}
	return nil
}

func (p *PostgresStore) All(ctx context.Context) ([]*domain.CachedResponse, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, query_text, embedding, response, model, created_at, ttl_seconds,
		       hit_count, last_accessed, context, status
		FROM cache_entries`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing cache entries: %v", domain.ErrTransient, err)
	}
	defer rows.Close()

	var out []*domain.CachedResponse
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning cache entry: %v", domain.ErrTransient, err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx, `
		DELETE FROM cache_entries
		WHERE created_at + make_interval(secs => ttl_seconds) <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%w: cleaning up cache: %v", domain.ErrTransient, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (p *PostgresStore) Clear(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `TRUNCATE cache_entries`); err != nil {
		return fmt.Errorf("%w: clearing cache: %v", domain.ErrTransient, err)
	}
	return nil
}

func (p *PostgresStore) Size(ctx context.Context) (int, error) {
	var n int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: counting cache entries: %v", domain.ErrTransient, err)
	}
	return n, nil
}

func (p *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	s := &Stats{Capacity: p.capacity}
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'ACTIVE' AND created_at + make_interval(secs => ttl_seconds) > now()),
		       COUNT(*) FILTER (WHERE created_at + make_interval(secs => ttl_seconds) <= now())
		FROM cache_entries`).Scan(&s.Size, &s.ActiveCount, &s.ExpiredCount)
	if err != nil {
		return nil, fmt.Errorf("%w: reading cache stats: %v", domain.ErrTransient, err)
	}
	if p.capacity > 0 {
		s.Utilization = float64(s.Size) / float64(p.capacity) * 100
	}
	return s, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*domain.CachedResponse, error) {
	var (
		entry        domain.CachedResponse
		vec          pgvector.Vector
		model        string
		status       string
		lastAccessed sql.NullTime
		ctxJSON      []byte
	)
	err := row.Scan(&entry.ID, &entry.QueryText, &vec, &entry.Response, &model,
		&entry.CreatedAt, &entry.TTLSeconds, &entry.HitCount, &lastAccessed, &ctxJSON, &status)
	if err != nil {
		return nil, err
	}
	entry.Embedding = vec.Slice()
	entry.Model = domain.ModelTier(model)
	entry.Status = domain.EntryStatus(status)
	if lastAccessed.Valid {
		entry.LastAccessed = lastAccessed.Time
	}
	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &entry.Context); err != nil {
			entry.Context = nil
		}
	}
	return &entry, nil
}

func scanEntryWithSim(rows *sql.Rows) (*domain.CachedResponse, float64, error) {
	var (
		entry        domain.CachedResponse
		vec          pgvector.Vector
		model        string
		status       string
		lastAccessed sql.NullTime
		ctxJSON      []byte
		sim          float64
	)
	err := rows.Scan(&entry.ID, &entry.QueryText, &vec, &entry.Response, &model,
		&entry.CreatedAt, &entry.TTLSeconds, &entry.HitCount, &lastAccessed, &ctxJSON, &status, &sim)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: scanning search row: %v", domain.ErrTransient, err)
	}
	entry.Embedding = vec.Slice()
	entry.Model = domain.ModelTier(model)
	entry.Status = domain.EntryStatus(status)
	if lastAccessed.Valid {
		entry.LastAccessed = lastAccessed.Time
	}
	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &entry.Context); err != nil {
			entry.Context = nil
		}
	}
	return &entry, sim, nil
}

func clamp(sim float64) float64 {
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}
