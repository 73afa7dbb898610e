// Package uuid re-exports google/uuid under the module's common import path so
// that domain packages depend on an internal seam rather than the third-party
// package directly.
package uuid

import "github.com/google/uuid"

// UUID is the identifier type used throughout the domain model.
type UUID = uuid.UUID

// Nil is the zero-value UUID.
var Nil = uuid.Nil

// New returns a random (version 4) UUID.
func New() UUID { return uuid.New() }

// NewString returns a random UUID as its canonical string form.
func NewString() string { return uuid.NewString() }

// Parse decodes s into a UUID, accepting the canonical string forms.
func Parse(s string) (UUID, error) { return uuid.Parse(s) }

// MustParse is like Parse but panics on error. Only safe for literals known
// to be valid at compile time (tests, constants).
func MustParse(s string) UUID { return uuid.MustParse(s) }
