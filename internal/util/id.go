// Package util holds small helpers shared across obsmesh packages. It lives in
// internal to avoid committing to public API stability prematurely.
package util

import "github.com/google/uuid"

// NewID returns a random UUID string used for action and observation ids.
func NewID() string { return uuid.NewString() }
