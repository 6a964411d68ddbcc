package utils

import (
	"github.com/google/uuid"
)

// GenerateUUID returns a new random UUID string. Designs and their
// files are keyed by these; collisions are not a practical concern.
func GenerateUUID() string {
	return uuid.New().String()
}
