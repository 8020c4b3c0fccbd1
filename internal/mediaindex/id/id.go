// Package id provides unique identifier generation for index entries.
package id

import (
	"github.com/google/uuid"
)

// Generate creates a new unique entry ID.
// IDs are time-ordered UUIDv7 strings so entries sort by creation.
// Example: 0190c9a4-6f2b-7c3e-9d41-3b2f5a1e8c07
func Generate() string {
	u, err := uuid.NewV7()
	if err != nil {
		// Fallback to a random UUID if the clock sequence cannot be read
		return uuid.NewString()
	}
	return u.String()
}
