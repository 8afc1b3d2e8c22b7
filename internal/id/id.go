// Package id mints identifiers for render jobs.
package id

import "github.com/google/uuid"

// New returns a random UUIDv4 string.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s looks like an identifier minted by New.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}
