package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random request identifier.
func NewID() string {
	return uuid.NewString()
}

// ShortID returns the first block of a request identifier for log lines.
func ShortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
