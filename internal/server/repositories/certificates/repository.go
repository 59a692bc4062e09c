// Package certificates persists the certificate log of the organization
// served by the server.
package certificates

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
)

var (
	ErrAlreadyBootstrapped = errors.New("organization already bootstrapped")
	ErrDuplicate           = errors.New("certificate already stored")
)

// Organization holds what the server learns at bootstrap.
type Organization struct {
	RootVerifyKey  []byte
	Sequestered    bool
	BootstrappedAt time.Time
}

// Record is one accepted certificate. Redacted is the variant served to
// outsiders, nil when the certificate has none.
type Record struct {
	Topic     string
	Kind      certificates.Kind
	Timestamp time.Time
	Hash      string
	Signed    []byte
	Redacted  []byte
}

type Repository interface {
	// GetOrganization returns common.ErrorNotFound before bootstrap.
	GetOrganization(ctx context.Context) (*Organization, error)
	// Bootstrap stores the organization and its first certificates
	// atomically. It fails with ErrAlreadyBootstrapped the second time.
	Bootstrap(ctx context.Context, org Organization, records []Record) error
	// Insert appends records atomically, in order. A record whose hash is
	// already stored fails the whole call with ErrDuplicate.
	Insert(ctx context.Context, records []Record) error
	// List returns every record in insertion order.
	List(ctx context.Context) ([]Record, error)
}
