// Package id generates and parses ledger record ids. Ids are UUIDv7, so a row
// created later carries a greater id.
package id

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// ID identifies lots, catalog items, products and movements.
type ID = uuid.UUID

// New returns a fresh UUIDv7, falling back to a random v4 when the clock
// source fails.
func New() ID {
	if v, err := uuid.NewV7(); err == nil {
		return v
	}
	return uuid.New()
}

// Parse reads the canonical text form.
func Parse(s string) (ID, error) {
	v, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse id %q: %w", s, err)
	}
	return v, nil
}

// IsNil reports the zero id.
func IsNil(v ID) bool {
	return v == uuid.Nil
}

// Less orders ids bytewise, which for UUIDv7 is creation order.
func Less(a, b ID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}
