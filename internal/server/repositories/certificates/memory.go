package certificates

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dmitrijs2005/gophsafe/internal/common"
)

// MemoryRepository keeps everything in memory, for development servers and
// tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	org     *Organization
	records []Record
	hashes  map[string]struct{}
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{hashes: map[string]struct{}{}}
}

func (r *MemoryRepository) GetOrganization(ctx context.Context) (*Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.org == nil {
		return nil, common.ErrorNotFound
	}
	org := *r.org
	return &org, nil
}

func (r *MemoryRepository) Bootstrap(ctx context.Context, org Organization, records []Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.org != nil {
		return ErrAlreadyBootstrapped
	}
	if err := r.insert(records); err != nil {
		return err
	}
	r.org = &org
	return nil
}

func (r *MemoryRepository) Insert(ctx context.Context, records []Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insert(records)
}

func (r *MemoryRepository) insert(records []Record) error {
	seen := map[string]struct{}{}
	for _, rec := range records {
		_, stored := r.hashes[rec.Hash]
		_, dup := seen[rec.Hash]
		if stored || dup {
			return fmt.Errorf("%w: %s", ErrDuplicate, rec.Hash)
		}
		seen[rec.Hash] = struct{}{}
	}
	for _, rec := range records {
		r.hashes[rec.Hash] = struct{}{}
		r.records = append(r.records, rec)
	}
	return nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.records), nil
}
