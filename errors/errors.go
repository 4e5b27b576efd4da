package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrEmptyWords  = fmt.Errorf("no words have been found")

	ErrInvalidCommand       = fmt.Errorf("invalid command")
	ErrInvalidIdentity      = fmt.Errorf("invalid identity")
	ErrUnauthenticated      = fmt.Errorf("unauthenticated")
	ErrConversationNotFound = fmt.Errorf("conversation not found")
	ErrNotParticipant       = fmt.Errorf("identity is not a participant of the conversation")
	ErrMembershipImmutable  = fmt.Errorf("direct conversation membership is immutable")
	ErrUnknownFrame         = fmt.Errorf("unknown frame type")

	ErrTransientTransport   = fmt.Errorf("transient transport error")
	ErrPersistenceFailure   = fmt.Errorf("persistence failure")
	ErrPresenceDesync       = fmt.Errorf("presence desync")
	ErrNotificationDispatch = fmt.Errorf("notification dispatch failure")
)

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

// Code is the short machine-readable reason sent in websocket error frames.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case Is(err, ErrInvalidCommand), Is(err, ErrInvalidIdentity):
		return "invalid_command"
	case Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case Is(err, ErrConversationNotFound):
		return "conversation_not_found"
	case Is(err, ErrNotParticipant):
		return "not_participant"
	case Is(err, ErrMembershipImmutable):
		return "membership_immutable"
	case Is(err, ErrUnknownFrame):
		return "unknown_frame"
	case Is(err, ErrPersistenceFailure):
		return "persistence_failure"
	default:
		return "internal"
	}
}

// MapToHTTPStatus translates domain errors into HTTP status codes for the REST surface.
func MapToHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case Is(err, ErrInvalidCommand), Is(err, ErrInvalidIdentity), Is(err, ErrMembershipImmutable):
		return http.StatusBadRequest
	case Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case Is(err, ErrNotParticipant):
		return http.StatusForbidden
	case Is(err, ErrConversationNotFound):
		return http.StatusNotFound
	case Is(err, ErrPersistenceFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
