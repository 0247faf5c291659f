package domain

import (
	"github.com/google/uuid"
)

// NewID generates a UUIDv7 string. UUIDv7 sorts by creation time, which keeps
// audit and connection identifiers roughly ordered.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
