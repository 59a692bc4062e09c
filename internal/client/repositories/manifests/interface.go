// Package manifests persists the encrypted local manifests of the device.
package manifests

import (
	"context"
)

type Kind string

const (
	KindUser   Kind = "user"
	KindFolder Kind = "folder"
	KindFile   Kind = "file"
)

// Record is one stored manifest. Ciphertext is opaque to the repository.
type Record struct {
	ID          string
	Kind        Kind
	BaseVersion uint64
	NeedSync    bool
	Ciphertext  []byte
	Nonce       []byte
}

type Repository interface {
	// Get returns common.ErrorNotFound when no manifest has the id.
	Get(ctx context.Context, id string) (*Record, error)
	Put(ctx context.Context, rec Record) error
	// ListNeedSync returns the manifests of a kind with local changes.
	ListNeedSync(ctx context.Context, kind Kind) ([]Record, error)
	Delete(ctx context.Context, id string) error
}
