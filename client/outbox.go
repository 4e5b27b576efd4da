// Package client holds what a chat client needs to talk to the gateway: the
// websocket connection and the optimistic outbox of one conversation.
package client

import (
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Entry is one line of the conversation timeline as the client shows it.
// CanonicalID is zero while the message is only a local placeholder.
type Entry struct {
	TempID         string
	CanonicalID    uint64
	ConversationID domain.ConversationID
	SenderID       domain.Identity
	Text           string
	AttachmentRef  string
	State          domain.MessageState
	CreatedAt      time.Time
}

func (e Entry) Confirmed() bool { return e.CanonicalID > 0 }

// Outbox keeps the optimistic timeline of one conversation. Confirmed entries
// are ordered by canonical id and placeholders follow in draft order. An ack
// swaps a placeholder for its canonical entry, never producing a duplicate.
type Outbox struct {
	mu             sync.Mutex
	conversationID domain.ConversationID
	self           domain.Identity
	confirmed      []Entry
	pending        []Entry
	seen           map[uint64]struct{}
	since          uint64
	watermark      uint64
	newTempID      func() string
	now            func() time.Time
}

// NewOutbox starts a timeline whose messages up to since are already known.
func NewOutbox(conversationID domain.ConversationID, self domain.Identity, since uint64) *Outbox {
	return &Outbox{
		conversationID: conversationID,
		self:           self,
		seen:           make(map[uint64]struct{}),
		since:          since,
		watermark:      since,
		newTempID:      uuid.NewString,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Draft adds a pending placeholder and returns it, ready to be sent.
func (o *Outbox) Draft(text, attachmentRef string) Entry {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry := Entry{
		TempID:         o.newTempID(),
		ConversationID: o.conversationID,
		SenderID:       o.self,
		Text:           text,
		AttachmentRef:  attachmentRef,
		State:          domain.Pending,
		CreatedAt:      o.now(),
	}
	o.pending = append(o.pending, entry)
	return entry
}

// Ack swaps the placeholder for its canonical entry. It returns false for an unknown temp id,
// which happens when the ack of a previous run arrives late.
func (o *Outbox) Ack(ack event.MessageAck) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	_, index, found := lo.FindIndexOf(o.pending, func(e Entry) bool { return e.TempID == ack.TempID })
	if !found {
		return false
	}
	entry := o.pending[index]
	o.pending = append(o.pending[:index], o.pending[index+1:]...)

	if _, known := o.seen[ack.CanonicalID]; known {
		// Reconciliation delivered it first
		o.markState(ack.CanonicalID, domain.Persisted, ack.TempID)
		return true
	}
	entry.CanonicalID = ack.CanonicalID
	entry.State = domain.Persisted
	entry.CreatedAt = ack.CreatedAt
	o.insert(entry)
	return true
}

// Receive adds a broadcast message. Already known canonical ids are ignored.
func (o *Outbox) Receive(m event.MessagePosted) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.receive(m)
}

// Merge applies a reconciliation page and returns how many messages were new.
func (o *Outbox) Merge(result event.ReconcileResult) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	added := 0
	for _, m := range result.Messages {
		if o.receive(m) {
			added++
		}
	}
	return added
}

// Fail flags a placeholder whose persistence was exhausted on the server.
func (o *Outbox) Fail(failed event.MessageFailed) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i := range o.pending {
		if o.pending[i].TempID == failed.TempID {
			o.pending[i].State = domain.FailedPending
			return true
		}
	}
	return false
}

// Resend puts a failed placeholder back to pending under a fresh temp id.
func (o *Outbox) Resend(tempID string) (Entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i := range o.pending {
		if o.pending[i].TempID != tempID {
			continue
		}
		if o.pending[i].State != domain.FailedPending {
			return Entry{}, fmt.Errorf("%w: message %s has not failed", errors.ErrInvalidCommand, tempID)
		}
		o.pending[i].TempID = o.newTempID()
		o.pending[i].State = domain.Pending
		return o.pending[i], nil
	}
	return Entry{}, fmt.Errorf("%w: unknown message %s", errors.ErrInvalidCommand, tempID)
}

// Unacked lists placeholders to submit again after a reconnect, with the same temp ids.
func (o *Outbox) Unacked() []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return lo.Filter(o.pending, func(e Entry, _ int) bool { return e.State == domain.Pending })
}

// MarkRead moves own messages up to uptoID to Read once a peer acknowledged them.
func (o *Outbox) MarkRead(update event.ReadUpdate) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if update.ReaderID == o.self {
		return
	}
	for i := range o.confirmed {
		e := &o.confirmed[i]
		if e.SenderID == o.self && e.CanonicalID <= update.UptoID {
			e.State = domain.Read
		}
	}
}

// Watermark is the highest canonical id below which nothing is missing: the sinceId to reconcile from.
func (o *Outbox) Watermark() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.watermark
}

// Entries returns the timeline: confirmed messages first, then placeholders.
func (o *Outbox) Entries() []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()

	res := make([]Entry, 0, len(o.confirmed)+len(o.pending))
	res = append(res, o.confirmed...)
	return append(res, o.pending...)
}

func (o *Outbox) receive(m event.MessagePosted) bool {
	if m.ConversationID != o.conversationID || m.CanonicalID <= o.since || o.has(m.CanonicalID) {
		return false
	}
	o.insert(Entry{
		CanonicalID:    m.CanonicalID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Text:           m.Text,
		AttachmentRef:  m.AttachmentRef,
		State:          domain.Delivered,
		CreatedAt:      m.CreatedAt,
	})
	return true
}

func (o *Outbox) has(id uint64) bool {
	_, ok := o.seen[id]
	return ok
}

func (o *Outbox) insert(entry Entry) {
	o.seen[entry.CanonicalID] = struct{}{}
	index := sort.Search(len(o.confirmed), func(i int) bool { return o.confirmed[i].CanonicalID > entry.CanonicalID })
	o.confirmed = append(o.confirmed, Entry{})
	copy(o.confirmed[index+1:], o.confirmed[index:])
	o.confirmed[index] = entry
	for o.has(o.watermark + 1) {
		o.watermark++
	}
}

func (o *Outbox) markState(id uint64, state domain.MessageState, tempID string) {
	for i := range o.confirmed {
		if o.confirmed[i].CanonicalID == id {
			o.confirmed[i].State = state
			o.confirmed[i].TempID = tempID
			return
		}
	}
}
