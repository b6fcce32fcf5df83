package budget

import "sync"

// retentionDays bounds the rolling usage history kept by stores.
const retentionDays = 90

// UsageStore persists per-day usage records.
type UsageStore interface {
	// Load returns the record for the given date (YYYY-MM-DD) or nil if the
	// day has not been seen.
	Load(date string) (*UsageRecord, error)
	// Save upserts the record for its date.
	Save(rec *UsageRecord) error
	// History returns up to limit records, most recent first.
	History(limit int) ([]UsageRecord, error)
	// PruneBefore deletes records older than the cutoff date.
	PruneBefore(cutoff string) error
}

// MemoryStore is an in-memory UsageStore for tests and ephemeral runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]UsageRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]UsageRecord)}
}

func (s *MemoryStore) Load(date string) (*UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[date]; ok {
		copied := rec
		return &copied, nil
	}
	return nil, nil
}

func (s *MemoryStore) Save(rec *UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Date] = *rec
	return nil
}

func (s *MemoryStore) History(limit int) ([]UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UsageRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	// Most recent first; dates sort lexically.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Date > out[i].Date {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) PruneBefore(cutoff string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for date := range s.records {
		if date < cutoff {
			delete(s.records, date)
		}
	}
	return nil
}
