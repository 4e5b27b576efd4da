package sink

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"chat-sync/observability"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	_ contract.EventSink = (*SessionSink)(nil)
	_ contract.OfferSink = (*SessionSink)(nil)
)

// SessionSink is the bounded outbound queue of one connection.
// Ephemeral events (typing, presence deltas) are dropped when the queue is full.
// Durable events wait up to deliveryTimeout, after which the session is flagged as
// overflowed: the gateway closes it and the client recovers through reconciliation.
type SessionSink struct {
	sessionID       domain.SessionID
	identity        domain.Identity
	log             *slog.Logger
	monitoring      *observability.MonitoringManager
	events          chan event.DomainEvent
	overflow        chan struct{}
	once            sync.Once
	deliveryTimeout time.Duration
}

func NewSessionSink(
	sessionID domain.SessionID,
	identity domain.Identity,
	log *slog.Logger,
	monitoring *observability.MonitoringManager,
	bufferSize int,
	deliveryTimeout time.Duration,
) *SessionSink {
	return &SessionSink{
		sessionID:       sessionID,
		identity:        identity,
		log:             log,
		monitoring:      monitoring,
		events:          make(chan event.DomainEvent, bufferSize),
		overflow:        make(chan struct{}),
		deliveryTimeout: deliveryTimeout,
	}
}

func (s *SessionSink) Consume(ctx context.Context, e event.DomainEvent) error {
	select {
	case <-s.overflow:
		return fmt.Errorf("%w: session %s already overflowed", errors.ErrTransientTransport, s.sessionID)
	default:
	}

	if !e.Durable() {
		select {
		case s.events <- e:
			return nil
		default:
			s.monitoring.IncrEphemeralDrop()
			s.log.Debug("Ephemeral event dropped, session queue full",
				"session_id", s.sessionID, "kind", e.Kind())
			return nil
		}
	}

	timer := time.NewTimer(s.deliveryTimeout)
	defer timer.Stop()
	select {
	case s.events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.overflow:
		return fmt.Errorf("%w: session %s overflowed", errors.ErrTransientTransport, s.sessionID)
	case <-timer.C:
		s.markOverflow()
		return fmt.Errorf("%w: session %s did not drain within %s",
			errors.ErrTransientTransport, s.sessionID, s.deliveryTimeout)
	}
}

// Offer queues e without waiting. A durable event that finds the queue full
// overflows the session right away, as a timed out Consume would.
func (s *SessionSink) Offer(e event.DomainEvent) error {
	select {
	case <-s.overflow:
		return fmt.Errorf("%w: session %s already overflowed", errors.ErrTransientTransport, s.sessionID)
	case s.events <- e:
		return nil
	default:
	}
	if !e.Durable() {
		s.monitoring.IncrEphemeralDrop()
		return nil
	}
	s.markOverflow()
	return fmt.Errorf("%w: session %s queue full", errors.ErrTransientTransport, s.sessionID)
}

func (s *SessionSink) markOverflow() {
	s.once.Do(func() {
		s.monitoring.IncrOverflow()
		s.log.Warn("Session queue overflow, closing connection",
			"session_id", s.sessionID, "identity", s.identity)
		close(s.overflow)
	})
}

// Events is drained by the gateway write pump.
func (s *SessionSink) Events() <-chan event.DomainEvent { return s.events }

// Overflow is closed when a durable event could not be queued in time.
func (s *SessionSink) Overflow() <-chan struct{} { return s.overflow }

func (s *SessionSink) SessionID() domain.SessionID { return s.sessionID }

func (s *SessionSink) Identity() domain.Identity { return s.identity }
