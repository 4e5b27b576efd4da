package presence

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"chat-sync/observability"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var _ contract.IPresence = (*Tracker)(nil)

type entry struct {
	connections   int
	announced     bool // peers were told this identity is online
	lastHeartbeat time.Time
	lastSeen      time.Time // last time connections dropped to zero
	leave         *time.Timer
	generation    uint64
}

// Tracker counts connections per (scope, identity) and turns the counts into deltas.
// Only the 0->1 transition announces "online". The 1->0 transition waits for the grace
// window: a reconnect inside it cancels the leave and peers see nothing.
//
// Registry subscription and presence accounting happen under the same lock, so a
// subscriber always receives the scope snapshot before any delta of that scope.
// The snapshot never waits for room: a session too full to take it is overflowed.
type Tracker struct {
	mu         sync.Mutex
	log        *slog.Logger
	monitoring *observability.MonitoringManager
	registry   contract.IRegistry
	observers  []contract.PresenceObserver
	records    map[domain.Scope]map[domain.Identity]*entry
	grace      time.Duration
	retention  time.Duration
	now        func() time.Time
}

func NewTracker(
	log *slog.Logger,
	monitoring *observability.MonitoringManager,
	registry contract.IRegistry,
	grace time.Duration,
	retention time.Duration,
) *Tracker {
	return &Tracker{
		log:        log,
		monitoring: monitoring,
		registry:   registry,
		records:    make(map[domain.Scope]map[domain.Identity]*entry),
		grace:      grace,
		retention:  retention,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Observe registers an observer called on every announced transition.
// Observers run under the tracker lock and must not block.
func (t *Tracker) Observe(observer contract.PresenceObserver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, observer)
}

// Join subscribes the session to the scope channel and counts one more connection.
// It returns false, and changes nothing, when the session was already subscribed.
func (t *Tracker) Join(ctx context.Context, scope domain.Scope, identity domain.Identity, sessionID domain.SessionID, sink contract.EventSink) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.registry.Subscribe(scope.Channel(), sessionID, sink) {
		return false, nil
	}

	e := t.entry(scope, identity)
	e.connections++
	e.lastHeartbeat = t.now()

	announce := false
	if e.connections == 1 {
		if e.leave != nil {
			// Reconnect inside the grace window: peers never saw the leave
			e.leave.Stop()
			e.leave = nil
			e.generation++
			t.log.Debug("Presence flap suppressed", "scope", scope, "identity", identity)
		} else if !e.announced {
			e.announced = true
			announce = true
		}
	}

	snapshot := event.PresenceSnapshot{ConversationID: scope.Conversation, Identities: t.online(scope)}
	if err := deliver(ctx, sink, snapshot); err != nil {
		t.log.Debug("Presence snapshot not delivered", "scope", scope, "session_id", sessionID, "error", err)
	}

	if announce {
		t.publish(ctx, scope, identity, true, sessionID)
	}
	return true, nil
}

// deliver runs under the tracker lock: it must not wait on a slow session.
func deliver(ctx context.Context, sink contract.EventSink, e event.DomainEvent) error {
	if offer, ok := sink.(contract.OfferSink); ok {
		return offer.Offer(e)
	}
	return sink.Consume(ctx, e)
}

// Leave unsubscribes the session from the scope channel and releases its connection.
func (t *Tracker) Leave(ctx context.Context, scope domain.Scope, identity domain.Identity, sessionID domain.SessionID) error {
	t.mu.Lock()
	if !t.registry.Unsubscribe(scope.Channel(), sessionID) {
		t.mu.Unlock()
		return nil
	}
	err := t.release(scope, identity)
	t.mu.Unlock()

	if err != nil {
		t.resync(ctx, scope)
	}
	return err
}

// LeaveAll drops every subscription of a closing session, global scope included.
func (t *Tracker) LeaveAll(ctx context.Context, identity domain.Identity, sessionID domain.SessionID) error {
	t.mu.Lock()
	left := t.registry.UnsubscribeAll(sessionID)
	var desynced []domain.Scope
	for _, channel := range left {
		scope := domain.ConversationScope(channel)
		if channel == domain.Lobby {
			scope = domain.GlobalScope
		}
		if err := t.release(scope, identity); err != nil {
			desynced = append(desynced, scope)
		}
	}
	t.mu.Unlock()

	for _, scope := range desynced {
		t.resync(ctx, scope)
	}
	if len(desynced) > 0 {
		return fmt.Errorf("%w: %d scope(s) for %s", errors.ErrPresenceDesync, len(desynced), identity)
	}
	return nil
}

// release must be called with the lock held.
func (t *Tracker) release(scope domain.Scope, identity domain.Identity) error {
	e := t.entry(scope, identity)
	e.connections--
	if e.connections < 0 {
		e.connections = 0
		t.monitoring.IncrPresenceDesync()
		t.log.Error("Presence count went negative, resyncing scope", "scope", scope, "identity", identity)
		return fmt.Errorf("%w: %s in %s", errors.ErrPresenceDesync, identity, scope)
	}
	if e.connections > 0 {
		return nil
	}

	e.lastSeen = t.now()
	e.generation++
	generation := e.generation
	e.leave = time.AfterFunc(t.grace, func() {
		t.expire(scope, identity, generation)
	})
	return nil
}

func (t *Tracker) expire(scope domain.Scope, identity domain.Identity, generation uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.records[scope][identity]
	if !ok || e.generation != generation || e.connections > 0 {
		return
	}
	e.leave = nil
	if !e.announced {
		return
	}
	e.announced = false
	t.publish(context.Background(), scope, identity, false, "")
}

// publish must be called with the lock held. Deltas are ephemeral so the broadcast never waits.
func (t *Tracker) publish(ctx context.Context, scope domain.Scope, identity domain.Identity, online bool, except domain.SessionID) {
	t.registry.Broadcast(ctx, scope.Channel(), event.PresenceDelta{
		Identity:       identity,
		Online:         online,
		ConversationID: scope.Conversation,
	}, except)
	delta := domain.PresenceDelta{Scope: scope, Identity: identity, Online: online}
	for _, observer := range t.observers {
		observer.OnPresence(delta)
	}
}

// resync pushes an authoritative snapshot so clients overwrite whatever deltas they applied.
func (t *Tracker) resync(ctx context.Context, scope domain.Scope) {
	snapshot := event.PresenceSnapshot{ConversationID: scope.Conversation, Identities: t.Snapshot(scope)}
	t.registry.Broadcast(ctx, scope.Channel(), snapshot, "")
}

// Touch records a heartbeat for every scope the identity is connected in.
func (t *Tracker) Touch(identity domain.Identity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for _, identities := range t.records {
		if e, ok := identities[identity]; ok && e.connections > 0 {
			e.lastHeartbeat = now
		}
	}
}

func (t *Tracker) IsOnline(scope domain.Scope, identity domain.Identity) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.records[scope][identity]
	return ok && e.announced
}

func (t *Tracker) OnlineDuring(scope domain.Scope, identity domain.Identity, since time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.records[scope][identity]
	if !ok {
		return false
	}
	return e.connections > 0 || !e.lastSeen.Before(since)
}

// Snapshot lists the identities currently announced online in scope, sorted.
func (t *Tracker) Snapshot(scope domain.Scope) []domain.Identity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online(scope)
}

func (t *Tracker) Record(scope domain.Scope, identity domain.Identity) domain.PresenceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	record := domain.PresenceRecord{Identity: identity, Scope: scope}
	if e, ok := t.records[scope][identity]; ok {
		record.Connections = e.connections
		record.LastHeartbeat = e.lastHeartbeat
	}
	return record
}

func (t *Tracker) online(scope domain.Scope) []domain.Identity {
	res := make([]domain.Identity, 0, len(t.records[scope]))
	for identity, e := range t.records[scope] {
		if e.announced {
			res = append(res, identity)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

func (t *Tracker) entry(scope domain.Scope, identity domain.Identity) *entry {
	identities, ok := t.records[scope]
	if !ok {
		identities = make(map[domain.Identity]*entry)
		t.records[scope] = identities
	}
	e, ok := identities[identity]
	if !ok {
		e = &entry{}
		identities[identity] = e
	}
	return e
}

// Prune forgets identities offline since before the cutoff. Notification scheduling
// only ever asks about a recent window so older entries carry no information.
func (t *Tracker) Prune(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	pruned := 0
	for scope, identities := range t.records {
		for identity, e := range identities {
			if e.connections == 0 && e.leave == nil && e.lastSeen.Before(cutoff) {
				delete(identities, identity)
				pruned++
			}
		}
		if len(identities) == 0 {
			delete(t.records, scope)
		}
	}
	return pruned
}

// Run is the pruning janitor.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.retention)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			t.log.Debug("Context done, stopping presence janitor")
			return nil
		case <-ticker.C:
			if pruned := t.Prune(t.now().Add(-t.retention)); pruned > 0 {
				t.log.Debug("Presence entries pruned", "count", pruned)
			}
		}
	}
}
