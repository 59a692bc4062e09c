package certstore

import (
	"context"
	"slices"
	"sync"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
)

// Changes is what one write transaction persists. When Reset is set the
// backend drops every stored certificate before appending.
type Changes struct {
	Reset    bool
	Universe certificates.Universe
	Append   []Record
}

// Backend persists the certificate log. Commit must be atomic.
type Backend interface {
	// Load returns the stored universe (empty for a fresh store) and the
	// records in the order they were appended.
	Load(ctx context.Context) (certificates.Universe, []Record, error)
	Commit(ctx context.Context, changes Changes) error
	Close() error
}

// MemoryBackend keeps the log in memory. It backs servers rebuilding their
// view from a database, and tests.
type MemoryBackend struct {
	mu       sync.Mutex
	universe certificates.Universe
	records  []Record
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Load(ctx context.Context) (certificates.Universe, []Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.universe, slices.Clone(m.records), nil
}

func (m *MemoryBackend) Commit(ctx context.Context, changes Changes) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if changes.Reset {
		m.records = nil
	}
	m.universe = changes.Universe
	m.records = append(m.records, changes.Append...)
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
