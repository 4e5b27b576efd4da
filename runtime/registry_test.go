package runtime

import (
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/mocks"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type Sink struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func (s *Sink) Consume(_ context.Context, e event.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *Sink) Events() []event.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.DomainEvent(nil), s.events...)
}

func TestRegistry_Subscribe_One_Conversation_One_Session(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(logs.GetLoggerFromLevel(slog.LevelDebug))
	sessionID := domain.NewSessionID()
	conversationID := domain.ConversationID("c1")

	// Given no session is connected
	req.Empty(registry.channels)
	req.Empty(registry.sessions)

	// When a session subscribes a conversation twice
	req.True(registry.Subscribe(conversationID, sessionID, &Sink{}))
	req.False(registry.Subscribe(conversationID, sessionID, &Sink{}))

	// Then it is registered once
	req.Equal(1, registry.Subscribers(conversationID))
	req.Equal(1, registry.SessionCount())
}

func TestRegistry_Unsubscribe_Cleans_Empty_Sets(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default())
	sessionID := domain.NewSessionID()

	registry.Subscribe("c1", sessionID, &Sink{})
	registry.Subscribe("c2", sessionID, &Sink{})

	req.True(registry.Unsubscribe("c1", sessionID))
	req.False(registry.Unsubscribe("c1", sessionID))
	req.Equal(0, registry.Subscribers("c1"))
	req.Equal(1, registry.SessionCount())

	left := registry.UnsubscribeAll(sessionID)
	req.Equal([]domain.ConversationID{"c2"}, left)
	req.Empty(registry.channels)
	req.Empty(registry.sessions)
}

func TestRegistry_Broadcast_Skips_Excluded_Session(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default())
	a, b, c := domain.NewSessionID(), domain.NewSessionID(), domain.NewSessionID()
	sinkA, sinkB, sinkC := &Sink{}, &Sink{}, &Sink{}
	registry.Subscribe("c1", a, sinkA)
	registry.Subscribe("c1", b, sinkB)
	registry.Subscribe("c2", c, sinkC)

	// When a message is broadcast from session A
	delivered := registry.Broadcast(context.Background(), "c1", event.MessagePosted{CanonicalID: 1}, a)

	// Then only B, subscribed to the same conversation, receives it
	req.Equal(1, delivered)
	req.Empty(sinkA.Events())
	req.Len(sinkB.Events(), 1)
	req.Empty(sinkC.Events())
}

func TestRegistry_Broadcast_Failing_Sink_Does_Not_Affect_Others(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	registry := NewRegistry(slog.Default())
	failing := mocks.NewMockEventSink(ctrl)
	healthy := &Sink{}
	registry.Subscribe("c1", domain.NewSessionID(), failing)
	registry.Subscribe("c1", domain.NewSessionID(), healthy)

	// Given one sink refuses the event
	failing.EXPECT().Consume(gomock.Any(), gomock.Any()).Return(fmt.Errorf("queue full")).Times(1)

	// When the event is broadcast
	delivered := registry.Broadcast(context.Background(), "c1", event.ReadUpdate{ConversationID: "c1"}, "")

	// Then the other one still gets it
	req.Equal(1, delivered)
	req.Len(healthy.Events(), 1)
}
