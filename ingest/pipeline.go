package ingest

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"chat-sync/observability"
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
)

const (
	initialPersistDelay = 50 * time.Millisecond
	maxPersistDelay     = time.Second
)

// Pipeline turns a send command into a persisted message, then fans it out.
//
// For one conversation the order is always: persist, ack to the sender's session,
// broadcast to every other subscribed session, schedule notifications. Sends to the
// same conversation are serialized so every subscriber observes canonical order.
type Pipeline struct {
	log           *slog.Logger
	monitoring    *observability.MonitoringManager
	conversations contract.IConversationRepository
	messages      contract.IMessageRepository
	broadcaster   contract.IBroadcaster
	scheduler     contract.IScheduler
	filter        contract.IContentFilter
	locks         *KeyedMutex
	maxAttempts   int
	maxTextLength int
	now           func() time.Time
}

func NewPipeline(
	log *slog.Logger,
	monitoring *observability.MonitoringManager,
	conversations contract.IConversationRepository,
	messages contract.IMessageRepository,
	broadcaster contract.IBroadcaster,
	scheduler contract.IScheduler,
	filter contract.IContentFilter,
	maxAttempts int,
	maxTextLength int,
) *Pipeline {
	return &Pipeline{
		log:           log,
		monitoring:    monitoring,
		conversations: conversations,
		messages:      messages,
		broadcaster:   broadcaster,
		scheduler:     scheduler,
		filter:        filter,
		locks:         NewKeyedMutex(),
		maxAttempts:   max(maxAttempts, 1),
		maxTextLength: maxTextLength,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Submit persists the message and returns the acknowledgement also sent to origin.
// A retried temp id yields the original ack and nothing is broadcast again.
// Once validated, the send runs to completion even if ctx is cancelled: the
// client may reconnect and reconcile, the message must not be half applied.
func (p *Pipeline) Submit(ctx context.Context, cmd domain.SendMessageCommand, origin contract.EventSink, originSession domain.SessionID) (event.MessageAck, error) {
	if err := domain.Validate(cmd); err != nil {
		return event.MessageAck{}, err
	}
	if p.maxTextLength > 0 && utf8.RuneCountInString(cmd.Text) > p.maxTextLength {
		return event.MessageAck{}, fmt.Errorf("%w: text longer than %d characters", errors.ErrInvalidCommand, p.maxTextLength)
	}

	conv, err := p.conversations.Get(cmd.ConversationID)
	if err != nil {
		return event.MessageAck{}, err
	}
	if !conv.HasParticipant(cmd.SenderID) {
		return event.MessageAck{}, fmt.Errorf("%w: %s in %s", errors.ErrNotParticipant, cmd.SenderID, conv.ID)
	}

	ctx = context.WithoutCancel(ctx)
	unlock := p.locks.Lock(conv.ID)
	defer unlock()

	draft := cmd.Draft()
	if p.filter != nil && draft.Text != "" {
		draft.Text, draft.Lang = p.filter.Filter(draft.Text)
	}

	message, duplicate, err := p.persist(draft)
	if err != nil {
		p.monitoring.IncrPersistFailure()
		p.log.Error("Message not persisted, giving up",
			"conversation_id", conv.ID, "temp_id", cmd.TempID, "error", err)
		failed := event.MessageFailed{TempID: cmd.TempID, ConversationID: conv.ID, Reason: errors.Code(errors.ErrPersistenceFailure)}
		if err := origin.Consume(ctx, failed); err != nil {
			p.log.Debug("Failure notice not delivered", "temp_id", cmd.TempID, "error", err)
		}
		return event.MessageAck{}, fmt.Errorf("%w: %v", errors.ErrPersistenceFailure, err)
	}

	ack := event.AckFor(message, duplicate)
	if err := origin.Consume(ctx, ack); err != nil {
		// The message is stored: a retry with the same temp id recovers the ack
		p.log.Debug("Ack not delivered", "temp_id", cmd.TempID, "error", err)
	}

	if duplicate {
		p.monitoring.IncrDuplicate()
		p.log.Debug("Duplicate send acknowledged", "conversation_id", conv.ID, "canonical_id", message.ID)
		return ack, nil
	}

	p.monitoring.IncrPersisted()
	delivered := p.broadcaster.Broadcast(ctx, conv.ID, event.FromMessage(message), originSession)
	p.log.Debug("Message fanned out",
		"conversation_id", conv.ID, "canonical_id", message.ID, "sessions", delivered)

	if recipients := conv.Recipients(cmd.SenderID); len(recipients) > 0 && p.scheduler != nil {
		p.scheduler.Schedule(message, recipients)
	}
	return ack, nil
}

// persist retries transient storage failures with exponential delays.
func (p *Pipeline) persist(draft domain.MessageDraft) (domain.Message, bool, error) {
	var message domain.Message
	var duplicate bool
	operation := func() error {
		var err error
		message, duplicate, err = p.messages.AppendMessage(draft, p.now())
		if errors.Is(err, errors.ErrConversationNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(initialPersistDelay),
		backoff.WithMaxInterval(maxPersistDelay),
	), uint64(p.maxAttempts-1))

	err := backoff.RetryNotify(operation, policy, func(err error, delay time.Duration) {
		p.log.Warn("Append failed, retrying",
			"conversation_id", draft.ConversationID, "temp_id", draft.TempID, "delay", delay, "error", err)
	})
	return message, duplicate, err
}
