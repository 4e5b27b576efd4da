package sink

import (
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"chat-sync/observability"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newSink(size int, timeout time.Duration) (*SessionSink, *observability.MonitoringManager) {
	monitoring := observability.NewMonitoringManager(slog.Default())
	return NewSessionSink(domain.NewSessionID(), "alice", slog.Default(), monitoring, size, timeout), monitoring
}

func TestSessionSink_Drops_Ephemeral_When_Full(t *testing.T) {
	req := require.New(t)
	s, monitoring := newSink(1, 50*time.Millisecond)
	ctx := context.Background()

	// Given a queue already holding one event
	req.NoError(s.Consume(ctx, event.TypingUpdate{Identity: "bob"}))

	// When another typing update arrives
	err := s.Consume(ctx, event.TypingUpdate{Identity: "bob"})

	// Then it is silently dropped and the session stays alive
	req.NoError(err)
	req.Len(s.Events(), 1)
	req.Equal(uint64(1), monitoring.GetLatest().EphemeralDropped)
	select {
	case <-s.Overflow():
		req.Fail("ephemeral drop must not overflow the session")
	default:
	}
}

func TestSessionSink_Durable_Timeout_Overflows(t *testing.T) {
	req := require.New(t)
	s, monitoring := newSink(1, 20*time.Millisecond)
	ctx := context.Background()
	req.NoError(s.Consume(ctx, event.MessagePosted{CanonicalID: 1}))

	// When a durable event cannot be queued in time
	err := s.Consume(ctx, event.MessagePosted{CanonicalID: 2})

	// Then the session is flagged and later events are refused
	req.ErrorIs(err, errors.ErrTransientTransport)
	<-s.Overflow()
	req.Equal(uint64(1), monitoring.GetLatest().SessionOverflows)
	req.ErrorIs(s.Consume(ctx, event.TypingUpdate{}), errors.ErrTransientTransport)
}

func TestSessionSink_Durable_Waits_For_Room(t *testing.T) {
	req := require.New(t)
	s, _ := newSink(1, time.Second)
	ctx := context.Background()
	req.NoError(s.Consume(ctx, event.MessagePosted{CanonicalID: 1}))

	// Given the writer drains shortly after
	go func() {
		time.Sleep(20 * time.Millisecond)
		<-s.Events()
	}()

	// Then the durable event is queued rather than lost
	req.NoError(s.Consume(ctx, event.MessagePosted{CanonicalID: 2}))
	e := <-s.Events()
	req.Equal(uint64(2), e.(event.MessagePosted).CanonicalID)
}

func TestSessionSink_Offer_Never_Waits(t *testing.T) {
	req := require.New(t)
	s, monitoring := newSink(1, time.Second)

	req.NoError(s.Offer(event.PresenceSnapshot{}))

	// A full queue drops an ephemeral event
	req.NoError(s.Offer(event.TypingUpdate{Identity: "bob"}))
	req.Equal(uint64(1), monitoring.GetLatest().EphemeralDropped)

	// And overflows on a durable one, without the delivery timeout
	start := time.Now()
	err := s.Offer(event.PresenceSnapshot{})
	req.ErrorIs(err, errors.ErrTransientTransport)
	req.Less(time.Since(start), 100*time.Millisecond)
	<-s.Overflow()
}
