// Package uuid generates job and record identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator hands out time-ordered UUIDv7 strings so records sort by
// creation time.
type Generator struct{}

// New returns a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewRequestID returns a random UUIDv4 string for correlating HTTP requests.
func (Generator) NewRequestID() string {
	return uuid.NewString()
}
