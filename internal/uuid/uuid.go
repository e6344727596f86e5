// Package uuid wraps github.com/google/uuid so callers get plain strings.
package uuid

import "github.com/google/uuid"

// New returns a random (version 4) UUID in canonical string form.
func New() string {
	return uuid.NewString()
}

// NewOrdered returns a version 7 UUID. Its string form sorts by creation
// time, which makes it usable as a key prefix for time-ordered records.
func NewOrdered() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
