package certstore

import (
	"time"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
)

// Entry is a validated certificate together with the signed bytes it was
// loaded from.
type Entry struct {
	Certificate certificates.Certificate
	Signed      []byte
	Hash        string
}

func NewEntry(c certificates.Certificate, signed []byte) Entry {
	return Entry{Certificate: c, Signed: signed, Hash: certificates.ContentHash(signed)}
}

func (e Entry) record() Record {
	b := e.Certificate.Base()
	return Record{
		Topic:     e.Certificate.Topic().Key(),
		Kind:      e.Certificate.Kind(),
		Timestamp: b.Timestamp,
		Hash:      e.Hash,
		Signed:    e.Signed,
	}
}

// Record is the persisted form of an Entry.
type Record struct {
	Topic     string
	Kind      certificates.Kind
	Timestamp time.Time
	Hash      string
	Signed    []byte
}
