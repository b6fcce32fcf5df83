// Package history is an optional Postgres-backed archive of finalized
// analyses. When a DSN is configured, every insight is stored with a vector
// embedding of its summary so past screen activity can be searched by
// similarity ("when did I last see this build error?"). The pipeline is
// fully functional without it.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/glimpsehq/glimpse/internal/models"
)

// SearchResult is one similarity match from the archive.
type SearchResult struct {
	InsightID  int64
	Summary    string
	App        string
	RawText    string
	CapturedAt time.Time
	Similarity float64
}

// Store archives analyses per watch session.
type Store struct {
	pool      *pgxpool.Pool
	embedder  Embedder
	sessionID int64
}

// Open connects, ensures the schema, and begins a new session named name.
func Open(ctx context.Context, dsn, name string, embedder Embedder) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect history database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}

	s := &Store{pool: pool, embedder: embedder}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := pool.QueryRow(ctx,
		"INSERT INTO sessions (name, started_at) VALUES ($1, $2) RETURNING id",
		name, time.Now()).Scan(&s.sessionID); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS sessions (
			id         BIGSERIAL PRIMARY KEY,
			name       VARCHAR(255) NOT NULL,
			started_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS insights (
			id          BIGSERIAL PRIMARY KEY,
			session_id  BIGINT REFERENCES sessions(id) ON DELETE CASCADE,
			summary     TEXT NOT NULL,
			app         VARCHAR(255),
			raw_text    TEXT NOT NULL,
			embedding   vector(768),
			captured_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_insights_session_id ON insights(session_id);
	`)
	if err != nil {
		return fmt.Errorf("create history schema: %w", err)
	}
	return nil
}

// Save archives one analysis. Embedding failures are tolerated; the row is
// stored without a vector and excluded from similarity search.
func (s *Store) Save(ctx context.Context, a *models.Analysis) error {
	var vec any
	if s.embedder != nil {
		if emb, err := s.embedder.Embed(ctx, a.Summary+"\n"+a.RawResponseText); err == nil {
			vec = pgvector.NewVector(emb)
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO insights (session_id, summary, app, raw_text, embedding, captured_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.sessionID, a.Summary, a.ApplicationName, a.RawResponseText, vec, time.Now())
	if err != nil {
		return fmt.Errorf("store insight: %w", err)
	}
	return nil
}

// SearchSimilar returns the archived insights closest to the query text.
func (s *Store) SearchSimilar(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("similarity search requires an embedder")
	}
	emb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, summary, app, raw_text, captured_at, 1 - (embedding <=> $1) AS similarity
		 FROM insights
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		pgvector.NewVector(emb), limit)
	if err != nil {
		return nil, fmt.Errorf("search insights: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.InsightID, &r.Summary, &r.App, &r.RawText, &r.CapturedAt, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentInsights lists the latest archived insights for the session.
func (s *Store) RecentInsights(ctx context.Context, limit int) ([]SearchResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, summary, app, raw_text, captured_at, 0
		 FROM insights WHERE session_id = $1
		 ORDER BY captured_at DESC LIMIT $2`,
		s.sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent insights: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.InsightID, &r.Summary, &r.App, &r.RawText, &r.CapturedAt, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
