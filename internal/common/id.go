package common

import (
	"github.com/google/uuid"
)

// NewID generates a prefixed unique identifier.
// Format: <prefix>_<uuid>, e.g. "dec_6f1c..."
func NewID(prefix string) string {
	if prefix == "" {
		return uuid.New().String()
	}
	return prefix + "_" + uuid.New().String()
}
