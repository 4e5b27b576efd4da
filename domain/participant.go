// Package domain contains core concepts of the chat system.
// This file defines Participant identities and sessions.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"chat-sync/errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Identity is an already-authenticated participant. Authentication happens upstream.
type Identity string

// SessionID identifies one live transport session. An identity may own several.
type SessionID string

func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

const maxIdentityLength = 128

// ValidateIdentity rejects identities that cannot be used as storage key segments.
func ValidateIdentity(id Identity) error {
	s := string(id)
	switch {
	case s == "":
		return fmt.Errorf("%w: empty", errors.ErrInvalidIdentity)
	case len(s) > maxIdentityLength:
		return fmt.Errorf("%w: longer than %d bytes", errors.ErrInvalidIdentity, maxIdentityLength)
	case strings.ContainsAny(s, ": \t\n"):
		return fmt.Errorf("%w: %q contains a separator", errors.ErrInvalidIdentity, s)
	}
	return nil
}
