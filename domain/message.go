// Package domain contains core concepts of the chat system.
// This file defines Message events and related rules.
// Messages are immutable once persisted.
package domain

import (
	"time"
)

// MessageState follows a message from the client outbox to the reader.
type MessageState int

const (
	Draft MessageState = iota
	Pending
	Persisted
	Delivered
	Read
	FailedPending
)

func (s MessageState) String() string {
	switch s {
	case Draft:
		return "draft"
	case Pending:
		return "pending"
	case Persisted:
		return "persisted"
	case Delivered:
		return "delivered"
	case Read:
		return "read"
	case FailedPending:
		return "failed_pending"
	default:
		return "unknown"
	}
}

// MessageDraft is what the gateway received. TempID is the idempotency key.
type MessageDraft struct {
	ConversationID ConversationID
	SenderID       Identity
	TempID         string
	Text           string
	AttachmentRef  string
	Lang           string
}

// Message is a persisted message. ID is the canonical id: it equals the
// conversation sequence at acceptance, so ids are gap-free per conversation.
type Message struct {
	ID             uint64         `json:"id"`
	ConversationID ConversationID `json:"conversationId"`
	SenderID       Identity       `json:"senderId"`
	TempID         string         `json:"tempId"`
	Text           string         `json:"text"`
	AttachmentRef  string         `json:"attachmentRef,omitempty"`
	Lang           string         `json:"lang,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

func (m Message) Sequence() uint64 { return m.ID }
