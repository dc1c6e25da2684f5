// Package id generates the identifiers used for runs, documents and
// operators. UUIDv7 keeps them time-sortable, so run listings and import
// log rows order naturally without an extra timestamp index.
package id

import "github.com/google/uuid"

// ID identifies an entity.
type ID = uuid.UUID

// New returns a fresh UUIDv7.
func New() ID {
	v7, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does; fall back to v4
		// rather than propagate an error nobody can handle.
		return uuid.New()
	}
	return v7
}

// Parse parses and validates an id string.
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}

// MustParse parses an id string, panicking on error. For tests and
// fixtures only.
func MustParse(s string) ID {
	return uuid.MustParse(s)
}

// Nil is the zero id.
func Nil() ID {
	return uuid.Nil
}

// IsNil reports whether id is the zero id.
func IsNil(id ID) bool {
	return id == uuid.Nil
}
