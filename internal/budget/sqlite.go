package budget

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const usageSchema = `
CREATE TABLE IF NOT EXISTS usage_records (
	date             TEXT PRIMARY KEY,
	total_cost       REAL NOT NULL DEFAULT 0,
	analysis_count   INTEGER NOT NULL DEFAULT 0,
	cached_hit_count INTEGER NOT NULL DEFAULT 0,
	high_count       INTEGER NOT NULL DEFAULT 0,
	medium_count     INTEGER NOT NULL DEFAULT 0,
	low_count        INTEGER NOT NULL DEFAULT 0
);
`

// SQLiteStore persists the rolling usage ledger in a local SQLite file, so
// the budget survives restarts without any external service.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the usage database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create usage db directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(usageSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create usage schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(date string) (*UsageRecord, error) {
	row := s.db.QueryRow(
		`SELECT date, total_cost, analysis_count, cached_hit_count, high_count, medium_count, low_count
		 FROM usage_records WHERE date = ?`, date)

	var rec UsageRecord
	err := row.Scan(&rec.Date, &rec.TotalCost, &rec.AnalysisCount, &rec.CachedHitCount,
		&rec.Priorities.High, &rec.Priorities.Medium, &rec.Priorities.Low)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load usage record %s: %w", date, err)
	}
	return &rec, nil
}

func (s *SQLiteStore) Save(rec *UsageRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO usage_records (date, total_cost, analysis_count, cached_hit_count, high_count, medium_count, low_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(date) DO UPDATE SET
			total_cost = excluded.total_cost,
			analysis_count = excluded.analysis_count,
			cached_hit_count = excluded.cached_hit_count,
			high_count = excluded.high_count,
			medium_count = excluded.medium_count,
			low_count = excluded.low_count`,
		rec.Date, rec.TotalCost, rec.AnalysisCount, rec.CachedHitCount,
		rec.Priorities.High, rec.Priorities.Medium, rec.Priorities.Low)
	if err != nil {
		return fmt.Errorf("save usage record %s: %w", rec.Date, err)
	}
	return nil
}

func (s *SQLiteStore) History(limit int) ([]UsageRecord, error) {
	if limit <= 0 {
		limit = retentionDays
	}
	rows, err := s.db.Query(
		`SELECT date, total_cost, analysis_count, cached_hit_count, high_count, medium_count, low_count
		 FROM usage_records ORDER BY date DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query usage history: %w", err)
	}
	defer rows.Close()

	var out []UsageRecord
	for rows.Next() {
		var rec UsageRecord
		if err := rows.Scan(&rec.Date, &rec.TotalCost, &rec.AnalysisCount, &rec.CachedHitCount,
			&rec.Priorities.High, &rec.Priorities.Medium, &rec.Priorities.Low); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PruneBefore(cutoff string) error {
	if _, err := s.db.Exec(`DELETE FROM usage_records WHERE date < ?`, cutoff); err != nil {
		return fmt.Errorf("prune usage records: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
