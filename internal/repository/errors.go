package repository

import (
	"errors"
	"strings"
)

// ErrNotFound is returned when a lookup matches no rows.
var ErrNotFound = errors.New("repository: not found")

// ErrTerminalTransition is returned when an audit row is asked to move out
// of a terminal status.
var ErrTerminalTransition = errors.New("repository: audit status already terminal")

// IsDuplicateKey reports whether err is a unique-constraint violation from
// PostgREST. Duplicates during upsert are benign and skipped, not surfaced.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "duplicate key value")
}
