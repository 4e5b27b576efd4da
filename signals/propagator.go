package signals

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
)

type typingState struct {
	expiresAt time.Time
	sentAt    time.Time
}

// Propagator carries the best-effort signals: typing indicators and read receipts.
// Typing lives in memory only and silently expires after ttl, there is no "stop".
// Read receipts are monotonic: a stale "read up to" never reaches other participants.
type Propagator struct {
	mu            sync.Mutex
	log           *slog.Logger
	broadcaster   contract.IBroadcaster
	conversations contract.IConversationRepository
	reads         contract.IReadStateRepository
	typing        map[domain.TypingKey]typingState
	ttl           time.Duration
	now           func() time.Time
}

func NewPropagator(
	log *slog.Logger,
	broadcaster contract.IBroadcaster,
	conversations contract.IConversationRepository,
	reads contract.IReadStateRepository,
	ttl time.Duration,
) *Propagator {
	return &Propagator{
		log:           log,
		broadcaster:   broadcaster,
		conversations: conversations,
		reads:         reads,
		typing:        make(map[domain.TypingKey]typingState),
		ttl:           ttl,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Typing refreshes the expiry. Refreshes within half a ttl of the last broadcast are
// absorbed so a fast typist does not flood the conversation.
func (p *Propagator) Typing(ctx context.Context, cmd domain.TypingCommand, except domain.SessionID) error {
	if err := domain.Validate(cmd); err != nil {
		return err
	}
	if err := p.checkParticipant(cmd.ConversationID, cmd.Identity); err != nil {
		return err
	}

	now := p.now()
	key := domain.TypingKey{ConversationID: cmd.ConversationID, Identity: cmd.Identity}
	p.mu.Lock()
	state, known := p.typing[key]
	active := known && now.Before(state.expiresAt)
	state.expiresAt = now.Add(p.ttl)
	throttled := active && now.Sub(state.sentAt) < p.ttl/2
	if !throttled {
		state.sentAt = now
	}
	p.typing[key] = state
	p.mu.Unlock()

	if throttled {
		return nil
	}
	p.broadcaster.Broadcast(ctx, cmd.ConversationID, event.TypingUpdate{
		ConversationID: cmd.ConversationID,
		Identity:       cmd.Identity,
		ExpiresAt:      state.expiresAt,
	}, except)
	return nil
}

func (p *Propagator) IsTyping(conversationID domain.ConversationID, identity domain.Identity) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.typing[domain.TypingKey{ConversationID: conversationID, Identity: identity}]
	return ok && p.now().Before(state.expiresAt)
}

// TypingIn lists who is currently typing in a conversation.
func (p *Propagator) TypingIn(conversationID domain.ConversationID) []domain.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	keys := lo.Filter(lo.Keys(p.typing), func(k domain.TypingKey, _ int) bool {
		return k.ConversationID == conversationID && now.Before(p.typing[k].expiresAt)
	})
	return lo.Map(keys, func(k domain.TypingKey, _ int) domain.Identity { return k.Identity })
}

// Read applies a "read up to" receipt. Accepted receipts go to every other session of the
// conversation, the sender's other devices included. Stale ones are dropped quietly.
func (p *Propagator) Read(ctx context.Context, cmd domain.ReadCommand, except domain.SessionID) (domain.ReadState, bool, error) {
	if err := domain.Validate(cmd); err != nil {
		return domain.ReadState{}, false, err
	}
	if err := p.checkParticipant(cmd.ConversationID, cmd.Reader); err != nil {
		return domain.ReadState{}, false, err
	}

	state, advanced, err := p.reads.Advance(cmd.ConversationID, cmd.Reader, cmd.UptoID, p.now())
	if err != nil {
		return domain.ReadState{}, false, err
	}
	if !advanced {
		p.log.Debug("Stale read receipt dropped",
			"conversation_id", cmd.ConversationID, "reader", cmd.Reader, "upto", cmd.UptoID, "stored", state.UptoID)
		return state, false, nil
	}

	p.broadcaster.Broadcast(ctx, cmd.ConversationID, event.ReadUpdate{
		ConversationID: cmd.ConversationID,
		ReaderID:       cmd.Reader,
		UptoID:         state.UptoID,
	}, except)
	return state, true, nil
}

func (p *Propagator) checkParticipant(id domain.ConversationID, identity domain.Identity) error {
	conv, err := p.conversations.Get(id)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(identity) {
		return fmt.Errorf("%w: %s in %s", errors.ErrNotParticipant, identity, id)
	}
	return nil
}

// Sweep forgets expired typing entries and returns how many were removed.
func (p *Propagator) Sweep() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	removed := 0
	for key, state := range p.typing {
		if !now.Before(state.expiresAt) {
			delete(p.typing, key)
			removed++
		}
	}
	return removed
}

// Run is the janitor keeping the typing map bounded.
func (p *Propagator) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.log.Debug("Context done, stopping typing janitor")
			return nil
		case <-ticker.C:
			p.Sweep()
		}
	}
}
