package domain

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus int

const (
	JobPending JobStatus = iota
	JobSent
	JobFailed
	// JobDeferred waits for the grace window decision, which may still drop it
	JobDeferred
)

func (s JobStatus) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobSent:
		return "sent"
	case JobFailed:
		return "failed"
	case JobDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

func (s JobStatus) Terminal() bool { return s == JobSent || s == JobFailed }

// NotificationJob asks the external sender to reach an absent recipient.
type NotificationJob struct {
	ID             uuid.UUID      `json:"id"`
	ConversationID ConversationID `json:"conversationId"`
	MessageID      uint64         `json:"messageId"`
	Target         Identity       `json:"target"`
	Preview        string         `json:"preview"`
	DeepLink       string         `json:"deepLink"`
	Attempts       int            `json:"attempts"`
	Status         JobStatus      `json:"status"`
	DueAt          time.Time      `json:"dueAt,omitempty"`
	LastError      string         `json:"lastError,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

func NewNotificationJob(msg Message, target Identity, preview, deepLink string, at time.Time) NotificationJob {
	return NotificationJob{
		ID:             uuid.New(),
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Target:         target,
		Preview:        preview,
		DeepLink:       deepLink,
		Status:         JobPending,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}
