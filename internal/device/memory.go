package device

import (
	"context"
	"sync"
)

// MemoryRepository implements Repository with an in-process map. It is
// interchangeable with SQLiteRepository: same filter, sort and delete
// semantics, no durability. Used by tests and by deployments that do not
// want a history file on disk.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]*Record)}
}

// GetByIdentity retrieves a record by identity.
func (r *MemoryRepository) GetByIdentity(_ context.Context, identity string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[identity]
	if !ok {
		return nil, ErrRecordNotFound
	}
	// Clone so callers cannot mutate the stored record.
	return rec.Clone(), nil
}

// Fetch retrieves records matching the filter, sorted and capped.
func (r *MemoryRepository) Fetch(_ context.Context, f Filter, order SortOrder, limit int) ([]Record, error) {
	r.mu.RLock()
	var matched []Record
	for _, rec := range r.records {
		if f.Match(rec) {
			matched = append(matched, *rec.Clone())
		}
	}
	r.mu.RUnlock()

	sortRecords(matched, order)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Save inserts or replaces a record.
func (r *MemoryRepository) Save(_ context.Context, rec *Record) error {
	if rec.Identity == "" {
		return ErrEmptyIdentity
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.Identity] = rec.Clone()
	return nil
}

// Delete removes a record by identity. Idempotent.
func (r *MemoryRepository) Delete(_ context.Context, identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, identity)
	return nil
}

// DeleteWhere removes all records matching the filter and returns the
// removed identities.
func (r *MemoryRepository) DeleteWhere(_ context.Context, f Filter) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var identities []string
	for identity, rec := range r.records {
		if f.Match(rec) {
			identities = append(identities, identity)
			delete(r.records, identity)
		}
	}
	return identities, nil
}
