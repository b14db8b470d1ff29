package util

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewID returns a random UUIDv4 string.
func NewID() string {
	return uuid.NewString()
}

// NewSortableID returns a ULID, which sorts by creation time.
func NewSortableID() string {
	return ulid.Make().String()
}

// ValidID reports whether raw is a well-formed UUID.
func ValidID(raw string) bool {
	return uuid.Validate(raw) == nil
}
