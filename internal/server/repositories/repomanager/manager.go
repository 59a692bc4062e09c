package repomanager

import (
	"context"

	"github.com/dmitrijs2005/gophsafe/internal/server/repositories/certificates"
)

// RepositoryManager vends the repositories of one storage backend.
type RepositoryManager interface {
	RunMigrations(context.Context) error
	Certificates() certificates.Repository
	Close() error
}

// MemoryRepositoryManager keeps everything in process memory.
type MemoryRepositoryManager struct {
	certs *certificates.MemoryRepository
}

func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{certs: certificates.NewMemoryRepository()}
}

func (m *MemoryRepositoryManager) RunMigrations(context.Context) error { return nil }

func (m *MemoryRepositoryManager) Certificates() certificates.Repository { return m.certs }

func (m *MemoryRepositoryManager) Close() error { return nil }

var _ RepositoryManager = (*MemoryRepositoryManager)(nil)
var _ RepositoryManager = (*PostgresRepositoryManager)(nil)

