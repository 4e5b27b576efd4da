//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-sync/domain"
	"chat-sync/domain/event"
	"context"
	"reflect"
	"time"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink is the outbound side of one session.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// OfferSink is implemented by sinks able to refuse an event instead of waiting for room.
// Callers holding a shared lock deliver through Offer.
type OfferSink interface {
	Offer(e event.DomainEvent) error
}

type IBroadcaster interface {
	// Broadcast delivers e to every session subscribed to the conversation except one,
	// and returns the number of sessions that accepted it.
	Broadcast(ctx context.Context, conversationID domain.ConversationID, e event.DomainEvent, except domain.SessionID) int
}

type IRegistry interface {
	IBroadcaster
	Subscribe(conversationID domain.ConversationID, sessionID domain.SessionID, sink EventSink) bool
	Unsubscribe(conversationID domain.ConversationID, sessionID domain.SessionID) bool
	UnsubscribeAll(sessionID domain.SessionID) []domain.ConversationID
	SessionCount() int
}

type IConversationRepository interface {
	Get(id domain.ConversationID) (domain.Conversation, error)
	OpenDirect(a, b domain.Identity) (domain.Conversation, bool, error)
	CreateGroup(conversation domain.Conversation) error
	AddParticipant(id domain.ConversationID, identity domain.Identity) (domain.Conversation, error)
	Hide(id domain.ConversationID, identity domain.Identity) error
	ListFor(identity domain.Identity) ([]domain.Conversation, error)
}

type IMessageRepository interface {
	// AppendMessage assigns the next sequence atomically. Replaying the same
	// (conversation, temp id) returns the stored message and duplicate=true.
	AppendMessage(draft domain.MessageDraft, at time.Time) (domain.Message, bool, error)
	GetMessagesSince(conversationID domain.ConversationID, sinceID uint64, limit int) ([]domain.Message, bool, error)
}

type IReadStateRepository interface {
	Get(conversationID domain.ConversationID, reader domain.Identity) (domain.ReadState, error)
	Advance(conversationID domain.ConversationID, reader domain.Identity, uptoID uint64, at time.Time) (domain.ReadState, bool, error)
}

type INotificationRepository interface {
	SaveJob(job domain.NotificationJob) error
	DeleteJob(job domain.NotificationJob) error
	ListJobs() ([]domain.NotificationJob, error)
}

// INotifier is the external email/SMS sender.
type INotifier interface {
	Notify(ctx context.Context, target domain.Identity, preview, deepLink string) error
}

type IPresence interface {
	IsOnline(scope domain.Scope, identity domain.Identity) bool
	// OnlineDuring reports whether identity had at least one connection in scope at any time since.
	OnlineDuring(scope domain.Scope, identity domain.Identity, since time.Time) bool
}

type IScheduler interface {
	Schedule(message domain.Message, recipients []domain.Identity)
}

type IContentFilter interface {
	Filter(text string) (sanitized string, lang string)
}

type PresenceObserver interface {
	OnPresence(delta domain.PresenceDelta)
}
