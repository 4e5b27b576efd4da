// Package runtime wires the engine components together and runs their background workers.
// It orchestrates the system without containing business logic or domain rules.
package runtime

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"chat-sync/ingest"
	"chat-sync/moderation"
	"chat-sync/notification"
	"chat-sync/observability"
	"chat-sync/presence"
	"chat-sync/repositories"
	"chat-sync/runtime/workers"
	"chat-sync/signals"
	"chat-sync/sink"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config carries the engine tunables, cmd maps them from the environment.
type Config struct {
	PresenceGrace           time.Duration
	PresenceRetention       time.Duration
	NotificationGrace       time.Duration
	TypingTTL               time.Duration
	DeliveryTimeout         time.Duration
	HealthInterval          time.Duration
	PersistMaxAttempts      int
	NotificationMaxAttempts int
	NotificationWorkers     int
	NotificationQueueSize   int
	ConnectionBufferSize    int
	ReconcileLimit          int
	MaxTextLength           int
	CharReplacement         rune
	DeepLinkBase            string
}

type Orchestrator struct {
	mu            sync.Mutex
	log           *slog.Logger
	config        Config
	monitoring    *observability.MonitoringManager
	supervisor    *workers.Supervisor
	registry      *Registry
	tracker       *presence.Tracker
	pipeline      *ingest.Pipeline
	propagator    *signals.Propagator
	dispatcher    *notification.Dispatcher
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	reads         repositories.ReadStateRepository
	jobs          repositories.NotificationRepository
	extraWorkers  []contract.Worker
	started       bool
	now           func() time.Time
}

// NewOrchestrator builds every component on top of one Badger database.
// The moderation dictionaries are loaded and compiled here, before anything runs.
func NewOrchestrator(log *slog.Logger, db *badger.DB, notifier contract.INotifier, config Config) (*Orchestrator, error) {
	monitoring := observability.NewMonitoringManager(log)
	registry := NewRegistry(log)

	conversations := repositories.NewConversationRepository(db, log)
	messages := repositories.NewMessageRepository(db, log, config.ReconcileLimit)
	reads := repositories.NewReadStateRepository(db, log)
	jobs := repositories.NewNotificationRepository(db, log)

	moderator, err := prepareModeration(log, config.CharReplacement)
	if err != nil {
		return nil, err
	}

	tracker := presence.NewTracker(log, monitoring, registry, config.PresenceGrace, config.PresenceRetention)
	dispatcher := notification.NewDispatcher(log, monitoring, tracker, jobs, notifier,
		config.NotificationGrace, config.NotificationMaxAttempts, config.NotificationQueueSize, config.DeepLinkBase)
	pipeline := ingest.NewPipeline(log, monitoring, conversations, messages, registry, dispatcher, moderator,
		config.PersistMaxAttempts, config.MaxTextLength)
	propagator := signals.NewPropagator(log, registry, conversations, reads, config.TypingTTL)

	return &Orchestrator{
		log:           log,
		config:        config,
		monitoring:    monitoring,
		supervisor:    workers.NewSupervisor(log, monitoring),
		registry:      registry,
		tracker:       tracker,
		pipeline:      pipeline,
		propagator:    propagator,
		dispatcher:    dispatcher,
		conversations: conversations,
		messages:      messages,
		reads:         reads,
		jobs:          jobs,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// prepareModeration loads censored words and builds the Aho-Corasick automaton.
func prepareModeration(log *slog.Logger, charReplacement rune) (*moderation.Moderator, error) {
	data, err := moderation.NewCensoredLoader(moderation.Censored).LoadAll("censored")
	if err != nil {
		return nil, err
	}
	log.Info(fmt.Sprintf("%d censored files loaded [%s]",
		len(data.Languages), strings.Join(data.Languages, ",")))
	log.Info(fmt.Sprintf("%d unique censored words loaded", len(data.Words)))
	return moderation.NewModerator(data.Words, charReplacement, log)
}

// WithRedisMirror publishes announced presence to Redis as well.
func (o *Orchestrator) WithRedisMirror(mirror *presence.RedisMirror) {
	o.tracker.Observe(mirror)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.extraWorkers = append(o.extraWorkers, mirror)
}

// Start requeues notification jobs left by a previous run and launches the supervised workers.
// It returns immediately, Stop or ctx cancellation ends the workers.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return nil
	}

	if err := o.dispatcher.Recover(); err != nil {
		return fmt.Errorf("notification recovery: %w", err)
	}

	o.supervisor.Add(o.tracker, o.propagator)
	o.supervisor.Add(o.dispatcher.Workers(o.config.NotificationWorkers)...)
	if o.config.HealthInterval > 0 {
		o.supervisor.Add(workers.NewHealthMonitoringWorker(o.log, o.monitoring, o.config.HealthInterval, o.registry.SessionCount))
	}
	o.supervisor.Add(o.extraWorkers...)
	o.started = true

	o.log.Info("Starting orchestrator and all supervised workers")
	go o.supervisor.Run(ctx)
	return nil
}

// Stop initiates a graceful shutdown of the supervised workers. Notification
// decisions not taken yet are left Deferred in storage.
func (o *Orchestrator) Stop() {
	o.log.Info("Requesting orchestrator shutdown")
	o.dispatcher.Stop()
	o.supervisor.Stop()
}

// NewSessionSink allocates the outbound queue of a new connection.
func (o *Orchestrator) NewSessionSink(identity domain.Identity) *sink.SessionSink {
	return sink.NewSessionSink(domain.NewSessionID(), identity, o.log, o.monitoring,
		o.config.ConnectionBufferSize, o.config.DeliveryTimeout)
}

// OpenSession counts the connection in global presence. The session receives the
// global snapshot first, then the deltas of every other identity.
func (o *Orchestrator) OpenSession(ctx context.Context, identity domain.Identity, session *sink.SessionSink) error {
	if err := domain.ValidateIdentity(identity); err != nil {
		return err
	}
	if _, err := o.tracker.Join(ctx, domain.GlobalScope, identity, session.SessionID(), session); err != nil {
		return err
	}
	o.monitoring.SessionOpened()
	o.log.Debug("Session opened", "identity", identity, "session_id", session.SessionID())
	return nil
}

// CloseSession cancels every subscription of the session. In-flight sends keep going.
func (o *Orchestrator) CloseSession(ctx context.Context, identity domain.Identity, sessionID domain.SessionID) {
	if err := o.tracker.LeaveAll(ctx, identity, sessionID); err != nil {
		o.log.Warn("Presence resynced on session close", "identity", identity, "error", err)
	}
	o.monitoring.SessionClosed()
	o.log.Debug("Session closed", "identity", identity, "session_id", sessionID)
}

// Subscribe starts live delivery of a conversation to the session. It returns false when already subscribed.
func (o *Orchestrator) Subscribe(ctx context.Context, identity domain.Identity, session *sink.SessionSink, id domain.ConversationID) (bool, error) {
	if _, err := o.participantOf(id, identity); err != nil {
		return false, err
	}
	return o.tracker.Join(ctx, domain.ConversationScope(id), identity, session.SessionID(), session)
}

func (o *Orchestrator) Unsubscribe(ctx context.Context, identity domain.Identity, sessionID domain.SessionID, id domain.ConversationID) error {
	return o.tracker.Leave(ctx, domain.ConversationScope(id), identity, sessionID)
}

func (o *Orchestrator) SendMessage(ctx context.Context, cmd domain.SendMessageCommand, session *sink.SessionSink) (event.MessageAck, error) {
	return o.pipeline.Submit(ctx, cmd, session, session.SessionID())
}

func (o *Orchestrator) Typing(ctx context.Context, cmd domain.TypingCommand, sessionID domain.SessionID) error {
	return o.propagator.Typing(ctx, cmd, sessionID)
}

func (o *Orchestrator) Read(ctx context.Context, cmd domain.ReadCommand, sessionID domain.SessionID) (domain.ReadState, bool, error) {
	return o.propagator.Read(ctx, cmd, sessionID)
}

// Reconcile reads from the store, never from the registry: what it returns is exactly
// what live fan-out delivered or would have delivered after the watermark.
func (o *Orchestrator) Reconcile(cmd domain.ReconcileCommand) (event.ReconcileResult, error) {
	if err := domain.Validate(cmd); err != nil {
		return event.ReconcileResult{}, err
	}
	if _, err := o.participantOf(cmd.ConversationID, cmd.Requester); err != nil {
		return event.ReconcileResult{}, err
	}
	messages, hasMore, err := o.messages.GetMessagesSince(cmd.ConversationID, cmd.SinceID, cmd.Limit)
	if err != nil {
		return event.ReconcileResult{}, err
	}
	return event.ReconcileResult{
		ConversationID: cmd.ConversationID,
		SinceID:        cmd.SinceID,
		Messages:       event.FromMessages(messages),
		HasMore:        hasMore,
	}, nil
}

func (o *Orchestrator) OpenDirect(a, b domain.Identity) (domain.Conversation, bool, error) {
	if err := validateIdentities(a, b); err != nil {
		return domain.Conversation{}, false, err
	}
	if a == b {
		return domain.Conversation{}, false, fmt.Errorf("%w: direct conversation with oneself", errors.ErrInvalidCommand)
	}
	return o.conversations.OpenDirect(a, b)
}

func (o *Orchestrator) CreateGroup(creator domain.Identity, title string, participants []domain.Identity) (domain.Conversation, error) {
	if err := validateIdentities(append([]domain.Identity{creator}, participants...)...); err != nil {
		return domain.Conversation{}, err
	}
	conv := domain.NewGroupConversation(creator, title, participants, o.now())
	if len(conv.Participants) < 2 {
		return domain.Conversation{}, fmt.Errorf("%w: a group needs at least two participants", errors.ErrInvalidCommand)
	}
	if err := o.conversations.CreateGroup(conv); err != nil {
		return domain.Conversation{}, err
	}
	o.log.Debug("Group conversation created", "conversation_id", conv.ID, "participants", len(conv.Participants))
	return conv, nil
}

// AddParticipant lets any member of a group add someone. Direct conversations refuse it.
func (o *Orchestrator) AddParticipant(actor domain.Identity, id domain.ConversationID, identity domain.Identity) (domain.Conversation, error) {
	if err := domain.ValidateIdentity(identity); err != nil {
		return domain.Conversation{}, err
	}
	if _, err := o.participantOf(id, actor); err != nil {
		return domain.Conversation{}, err
	}
	return o.conversations.AddParticipant(id, identity)
}

func (o *Orchestrator) Hide(id domain.ConversationID, identity domain.Identity) error {
	return o.conversations.Hide(id, identity)
}

func (o *Orchestrator) ListConversations(identity domain.Identity) ([]domain.Conversation, error) {
	return o.conversations.ListFor(identity)
}

func (o *Orchestrator) ReadState(id domain.ConversationID, reader domain.Identity) (domain.ReadState, error) {
	return o.reads.Get(id, reader)
}

func (o *Orchestrator) NotificationJobs() ([]domain.NotificationJob, error) {
	return o.jobs.ListJobs()
}

func (o *Orchestrator) Presence(scope domain.Scope) []domain.Identity {
	return o.tracker.Snapshot(scope)
}

func (o *Orchestrator) Heartbeat(identity domain.Identity) {
	o.tracker.Touch(identity)
}

func (o *Orchestrator) Stats() observability.Stats {
	return o.monitoring.GetLatest()
}

func (o *Orchestrator) participantOf(id domain.ConversationID, identity domain.Identity) (domain.Conversation, error) {
	conv, err := o.conversations.Get(id)
	if err != nil {
		return domain.Conversation{}, err
	}
	if !conv.HasParticipant(identity) {
		return domain.Conversation{}, fmt.Errorf("%w: %s in %s", errors.ErrNotParticipant, identity, id)
	}
	return conv, nil
}

func validateIdentities(identities ...domain.Identity) error {
	for _, identity := range identities {
		if err := domain.ValidateIdentity(identity); err != nil {
			return err
		}
	}
	return nil
}
