package runtime

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"context"
	"log/slog"
	"sync"
)

var _ contract.IRegistry = (*Registry)(nil)

type Set map[domain.ConversationID]struct{}

// Registry is the channel registry: which sessions currently listen to which conversation.
// Membership here is independent of the participant list. A participant that did not
// subscribe gets nothing live and relies on reconciliation or notifications.
type Registry struct {
	mu       sync.RWMutex
	log      *slog.Logger
	channels map[domain.ConversationID]map[domain.SessionID]contract.EventSink
	sessions map[domain.SessionID]Set
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:      log,
		channels: make(map[domain.ConversationID]map[domain.SessionID]contract.EventSink),
		sessions: make(map[domain.SessionID]Set),
	}
}

// Subscribe returns false when the session was already subscribed to the conversation.
func (r *Registry) Subscribe(conversationID domain.ConversationID, sessionID domain.SessionID, sink contract.EventSink) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.channels[conversationID]
	if !ok {
		members = make(map[domain.SessionID]contract.EventSink)
		r.channels[conversationID] = members
	}
	if _, exists := members[sessionID]; exists {
		return false
	}
	members[sessionID] = sink

	if _, ok := r.sessions[sessionID]; !ok {
		r.sessions[sessionID] = make(Set)
	}
	r.sessions[sessionID][conversationID] = struct{}{}
	return true
}

// Unsubscribe removes one subscription. Empty sets are removed to prevent memory leaks over time.
func (r *Registry) Unsubscribe(conversationID domain.ConversationID, sessionID domain.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unsubscribe(conversationID, sessionID)
}

// UnsubscribeAll drops every subscription of a session and returns the conversations it left.
func (r *Registry) UnsubscribeAll(sessionID domain.SessionID) []domain.ConversationID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []domain.ConversationID
	for conversationID := range r.sessions[sessionID] {
		if r.unsubscribe(conversationID, sessionID) {
			left = append(left, conversationID)
		}
	}
	return left
}

func (r *Registry) unsubscribe(conversationID domain.ConversationID, sessionID domain.SessionID) bool {
	members, ok := r.channels[conversationID]
	if !ok {
		return false
	}
	if _, exists := members[sessionID]; !exists {
		return false
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(r.channels, conversationID)
	}
	if subscriptions, ok := r.sessions[sessionID]; ok {
		delete(subscriptions, conversationID)
		if len(subscriptions) == 0 {
			delete(r.sessions, sessionID)
		}
	}
	return true
}

// Broadcast delivers the event to every subscribed session but except, in parallel.
// Sinks decide what to do under pressure: durable events wait for room, ephemeral
// ones are dropped. A failing sink never affects the others.
func (r *Registry) Broadcast(ctx context.Context, conversationID domain.ConversationID, e event.DomainEvent, except domain.SessionID) int {
	targets := r.sinksFor(conversationID, except)
	if len(targets) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	delivered := 0
	for sessionID, sink := range targets {
		wg.Add(1)
		go func(sessionID domain.SessionID, sink contract.EventSink) {
			defer wg.Done()
			if err := sink.Consume(ctx, e); err != nil {
				r.log.Debug("Fan-out to session failed",
					"conversation_id", conversationID,
					"session_id", sessionID,
					"kind", e.Kind(),
					"error", err)
				return
			}
			mu.Lock()
			delivered++
			mu.Unlock()
		}(sessionID, sink)
	}
	wg.Wait()
	return delivered
}

func (r *Registry) sinksFor(conversationID domain.ConversationID, except domain.SessionID) map[domain.SessionID]contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.channels[conversationID]
	res := make(map[domain.SessionID]contract.EventSink, len(members))
	for sessionID, sink := range members {
		if sessionID != except {
			res[sessionID] = sink
		}
	}
	return res
}

func (r *Registry) Subscribers(conversationID domain.ConversationID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[conversationID])
}

func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
