// internal/session/id.go
package session

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

const maxIDLen = 128

// idPattern allows alphanumeric, hyphen, underscore. It is also a valid
// NATS KV key and log field value.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateID checks that id can be used as a session key by every backend.
func ValidateID(id string) error {
	if id == "" {
		return ErrEmptySessionID
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%w: exceeds max length %d", ErrInvalidSessionID, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q (must be alphanumeric, hyphen, underscore)", ErrInvalidSessionID, id)
	}
	return nil
}

// NewID returns a fresh random session id.
func NewID() string {
	return uuid.NewString()
}
