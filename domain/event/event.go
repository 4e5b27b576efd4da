// Package event defines the server-to-client events produced by the engine.
// An event is either durable (must reach every subscribed session at least once)
// or ephemeral (may be dropped under backpressure).
package event

import (
	"chat-sync/domain"
	"time"

	"github.com/samber/lo"
)

type Kind string

const (
	MessageAckKind       Kind = "message_ack"
	MessageKind          Kind = "message"
	MessageFailedKind    Kind = "message_failed"
	PresenceDeltaKind    Kind = "presence_delta"
	PresenceSnapshotKind Kind = "presence_snapshot"
	ReadUpdateKind       Kind = "read_update"
	TypingUpdateKind     Kind = "typing_update"
	ReconcileResultKind  Kind = "reconcile_result"
	ErrorKind            Kind = "error"
	PongKind             Kind = "pong"
)

type DomainEvent interface {
	Kind() Kind
	Durable() bool
}

// MessageAck is sent only to the originating session. It is the one place a temp id travels back.
type MessageAck struct {
	TempID         string                `json:"tempId"`
	ConversationID domain.ConversationID `json:"conversationId"`
	CanonicalID    uint64                `json:"canonicalId"`
	Sequence       uint64                `json:"sequence"`
	CreatedAt      time.Time             `json:"createdAt"`
	Duplicate      bool                  `json:"duplicate,omitempty"`
}

func (MessageAck) Kind() Kind    { return MessageAckKind }
func (MessageAck) Durable() bool { return true }

// MessagePosted never carries the sender's temp id.
type MessagePosted struct {
	CanonicalID    uint64                `json:"canonicalId"`
	ConversationID domain.ConversationID `json:"conversationId"`
	SenderID       domain.Identity       `json:"senderId"`
	Text           string                `json:"text"`
	AttachmentRef  string                `json:"attachmentRef,omitempty"`
	Sequence       uint64                `json:"sequence"`
	CreatedAt      time.Time             `json:"createdAt"`
}

func (MessagePosted) Kind() Kind    { return MessageKind }
func (MessagePosted) Durable() bool { return true }

// MessageFailed tells the sender persistence was exhausted; a manual resend needs a fresh temp id.
type MessageFailed struct {
	TempID         string                `json:"tempId"`
	ConversationID domain.ConversationID `json:"conversationId"`
	Reason         string                `json:"reason"`
}

func (MessageFailed) Kind() Kind    { return MessageFailedKind }
func (MessageFailed) Durable() bool { return true }

type PresenceDelta struct {
	Identity       domain.Identity       `json:"identity"`
	Online         bool                  `json:"online"`
	ConversationID domain.ConversationID `json:"conversationId,omitempty"`
}

func (PresenceDelta) Kind() Kind    { return PresenceDeltaKind }
func (PresenceDelta) Durable() bool { return false }

// PresenceSnapshot is handed to a session before any delta of the same scope.
type PresenceSnapshot struct {
	Identities     []domain.Identity     `json:"identities"`
	ConversationID domain.ConversationID `json:"conversationId,omitempty"`
}

func (PresenceSnapshot) Kind() Kind    { return PresenceSnapshotKind }
func (PresenceSnapshot) Durable() bool { return true }

type ReadUpdate struct {
	ConversationID domain.ConversationID `json:"conversationId"`
	ReaderID       domain.Identity       `json:"readerId"`
	UptoID         uint64                `json:"uptoId"`
}

func (ReadUpdate) Kind() Kind    { return ReadUpdateKind }
func (ReadUpdate) Durable() bool { return true }

type TypingUpdate struct {
	ConversationID domain.ConversationID `json:"conversationId"`
	Identity       domain.Identity       `json:"identity"`
	ExpiresAt      time.Time             `json:"expiresAt"`
}

func (TypingUpdate) Kind() Kind    { return TypingUpdateKind }
func (TypingUpdate) Durable() bool { return false }

type ReconcileResult struct {
	ConversationID domain.ConversationID `json:"conversationId"`
	SinceID        uint64                `json:"sinceId"`
	Messages       []MessagePosted       `json:"messages"`
	HasMore        bool                  `json:"hasMore"`
}

func (ReconcileResult) Kind() Kind    { return ReconcileResultKind }
func (ReconcileResult) Durable() bool { return true }

type Error struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
	Ref    string `json:"ref,omitempty"`
}

func (Error) Kind() Kind    { return ErrorKind }
func (Error) Durable() bool { return true }

type Pong struct {
	At time.Time `json:"at"`
}

func (Pong) Kind() Kind    { return PongKind }
func (Pong) Durable() bool { return false }

func FromMessage(m domain.Message) MessagePosted {
	return MessagePosted{
		CanonicalID:    m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Text:           m.Text,
		AttachmentRef:  m.AttachmentRef,
		Sequence:       m.Sequence(),
		CreatedAt:      m.CreatedAt,
	}
}

func FromMessages(messages []domain.Message) []MessagePosted {
	return lo.Map(messages, func(item domain.Message, _ int) MessagePosted {
		return FromMessage(item)
	})
}

func AckFor(m domain.Message, duplicate bool) MessageAck {
	return MessageAck{
		TempID:         m.TempID,
		ConversationID: m.ConversationID,
		CanonicalID:    m.ID,
		Sequence:       m.Sequence(),
		CreatedAt:      m.CreatedAt,
		Duplicate:      duplicate,
	}
}
