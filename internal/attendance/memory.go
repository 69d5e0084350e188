package attendance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"campusattend/internal/apperr"
)

// MemoryRepository is an in-process Repository for dev and tests.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]Record
	now     func() time.Time
	loc     *time.Location
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repository using now as the commit clock.
func NewMemoryRepository(now func() time.Time, loc *time.Location) *MemoryRepository {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return &MemoryRepository{records: make(map[string]Record), now: now, loc: loc}
}

// CreateIfAbsent inserts rec unless its key exists.
func (m *MemoryRepository) CreateIfAbsent(ctx context.Context, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, fmt.Errorf("insert attendance record: %w: %v", apperr.ErrStoreUnavailable, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.Key]; ok {
		return Record{}, fmt.Errorf("record %s: %w", rec.Key, apperr.ErrAlreadyMarked)
	}
	rec = detach(rec)
	rec.CreatedAt = m.now().In(m.loc)
	rec.Time = rec.CreatedAt.Format("15:04:05")
	m.records[rec.Key] = rec
	return detach(rec), nil
}

// Get returns the record stored under key.
func (m *MemoryRepository) Get(_ context.Context, key string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return Record{}, fmt.Errorf("record %s: %w", key, apperr.ErrNotFound)
	}
	return detach(rec), nil
}

// Query returns matching records ordered like the Postgres implementation.
func (m *MemoryRepository) Query(_ context.Context, f Filter) ([]Record, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	var out []Record
	for _, rec := range m.records {
		if f.Matches(rec) {
			out = append(out, detach(rec))
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].ClassID != out[j].ClassID {
			return out[i].ClassID < out[j].ClassID
		}
		return out[i].StudentID < out[j].StudentID
	})
	return out, nil
}

// detach copies the location so stored records share no memory with callers.
func detach(rec Record) Record {
	if rec.Location != nil {
		p := *rec.Location
		rec.Location = &p
	}
	return rec
}

// Len returns the number of stored records.
func (m *MemoryRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
