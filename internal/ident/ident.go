// Package ident generates identifiers for analysis runs.
package ident

import "github.com/google/uuid"

// Generator produces opaque identifiers that are unique across runs
type Generator interface {
	Next() string
}

// UUIDGenerator issues random (version 4) UUIDs, 122 bits of randomness each
type UUIDGenerator struct{}

// Next returns a new random UUID string
func (UUIDGenerator) Next() string {
	return uuid.NewString()
}

// New returns the default Generator
func New() Generator {
	return UUIDGenerator{}
}
