package services

import (
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/observability"
	"chat-sync/runtime"
	"chat-sync/sink"
	"context"
)

// IChatService is everything a transport needs from the engine.
type IChatService interface {
	NewSession(identity domain.Identity) *sink.SessionSink
	OpenSession(ctx context.Context, session *sink.SessionSink) error
	CloseSession(ctx context.Context, session *sink.SessionSink)
	Subscribe(ctx context.Context, session *sink.SessionSink, id domain.ConversationID) (bool, error)
	Unsubscribe(ctx context.Context, session *sink.SessionSink, id domain.ConversationID) error
	SendMessage(ctx context.Context, session *sink.SessionSink, cmd domain.SendMessageCommand) (event.MessageAck, error)
	Typing(ctx context.Context, session *sink.SessionSink, id domain.ConversationID) error
	Read(ctx context.Context, session *sink.SessionSink, id domain.ConversationID, uptoID uint64) error
	Reconcile(identity domain.Identity, id domain.ConversationID, sinceID uint64, limit int) (event.ReconcileResult, error)
	Heartbeat(identity domain.Identity)

	OpenDirect(identity, peer domain.Identity) (domain.Conversation, bool, error)
	CreateGroup(creator domain.Identity, title string, participants []domain.Identity) (domain.Conversation, error)
	AddParticipant(actor domain.Identity, id domain.ConversationID, identity domain.Identity) (domain.Conversation, error)
	Hide(identity domain.Identity, id domain.ConversationID) error
	ListConversations(identity domain.Identity) ([]domain.Conversation, error)
	Stats() observability.Stats
}

type ChatService struct {
	orchestrator *runtime.Orchestrator
}

func NewChatService(o *runtime.Orchestrator) *ChatService {
	return &ChatService{orchestrator: o}
}

func (s *ChatService) NewSession(identity domain.Identity) *sink.SessionSink {
	return s.orchestrator.NewSessionSink(identity)
}

func (s *ChatService) OpenSession(ctx context.Context, session *sink.SessionSink) error {
	return s.orchestrator.OpenSession(ctx, session.Identity(), session)
}

func (s *ChatService) CloseSession(ctx context.Context, session *sink.SessionSink) {
	s.orchestrator.CloseSession(ctx, session.Identity(), session.SessionID())
}

func (s *ChatService) Subscribe(ctx context.Context, session *sink.SessionSink, id domain.ConversationID) (bool, error) {
	return s.orchestrator.Subscribe(ctx, session.Identity(), session, id)
}

func (s *ChatService) Unsubscribe(ctx context.Context, session *sink.SessionSink, id domain.ConversationID) error {
	return s.orchestrator.Unsubscribe(ctx, session.Identity(), session.SessionID(), id)
}

// SendMessage always uses the authenticated identity as sender, whatever the client wrote.
func (s *ChatService) SendMessage(ctx context.Context, session *sink.SessionSink, cmd domain.SendMessageCommand) (event.MessageAck, error) {
	cmd.SenderID = session.Identity()
	return s.orchestrator.SendMessage(ctx, cmd, session)
}

func (s *ChatService) Typing(ctx context.Context, session *sink.SessionSink, id domain.ConversationID) error {
	return s.orchestrator.Typing(ctx, domain.TypingCommand{ConversationID: id, Identity: session.Identity()}, session.SessionID())
}

func (s *ChatService) Read(ctx context.Context, session *sink.SessionSink, id domain.ConversationID, uptoID uint64) error {
	_, _, err := s.orchestrator.Read(ctx, domain.ReadCommand{ConversationID: id, Reader: session.Identity(), UptoID: uptoID}, session.SessionID())
	return err
}

func (s *ChatService) Reconcile(identity domain.Identity, id domain.ConversationID, sinceID uint64, limit int) (event.ReconcileResult, error) {
	return s.orchestrator.Reconcile(domain.ReconcileCommand{ConversationID: id, Requester: identity, SinceID: sinceID, Limit: limit})
}

func (s *ChatService) Heartbeat(identity domain.Identity) {
	s.orchestrator.Heartbeat(identity)
}

func (s *ChatService) OpenDirect(identity, peer domain.Identity) (domain.Conversation, bool, error) {
	return s.orchestrator.OpenDirect(identity, peer)
}

func (s *ChatService) CreateGroup(creator domain.Identity, title string, participants []domain.Identity) (domain.Conversation, error) {
	return s.orchestrator.CreateGroup(creator, title, participants)
}

func (s *ChatService) AddParticipant(actor domain.Identity, id domain.ConversationID, identity domain.Identity) (domain.Conversation, error) {
	return s.orchestrator.AddParticipant(actor, id, identity)
}

func (s *ChatService) Hide(identity domain.Identity, id domain.ConversationID) error {
	return s.orchestrator.Hide(id, identity)
}

func (s *ChatService) ListConversations(identity domain.Identity) ([]domain.Conversation, error) {
	return s.orchestrator.ListConversations(identity)
}

func (s *ChatService) Stats() observability.Stats {
	return s.orchestrator.Stats()
}
