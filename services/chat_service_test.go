package services

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"chat-sync/mocks"
	"chat-sync/notification"
	"chat-sync/runtime"
	"chat-sync/sink"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func testConfig() runtime.Config {
	return runtime.Config{
		PresenceGrace:           20 * time.Millisecond,
		PresenceRetention:       time.Minute,
		NotificationGrace:       30 * time.Millisecond,
		TypingTTL:               time.Second,
		DeliveryTimeout:         500 * time.Millisecond,
		PersistMaxAttempts:      3,
		NotificationMaxAttempts: 2,
		NotificationWorkers:     1,
		NotificationQueueSize:   16,
		ConnectionBufferSize:    64,
		ReconcileLimit:          100,
		MaxTextLength:           4000,
		CharReplacement:         '*',
		DeepLinkBase:            "https://app.example",
	}
}

func newService(t *testing.T, notifier contract.INotifier) *ChatService {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	if notifier == nil {
		notifier = notification.NewLogNotifier(log)
	}
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).
		WithLoggingLevel(badger.ERROR).
		WithValueLogFileSize(16 << 20))
	require.NoError(t, err)

	orchestrator, err := runtime.NewOrchestrator(log, db, notifier, testConfig())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, orchestrator.Start(ctx))
	t.Cleanup(func() {
		cancel()
		_ = db.Close()
	})
	return NewChatService(orchestrator)
}

func connect(t *testing.T, s *ChatService, identity domain.Identity, conversations ...domain.ConversationID) *sink.SessionSink {
	t.Helper()
	session := s.NewSession(identity)
	require.NoError(t, s.OpenSession(context.Background(), session))
	for _, id := range conversations {
		subscribed, err := s.Subscribe(context.Background(), session, id)
		require.NoError(t, err)
		require.True(t, subscribed)
	}
	return session
}

// next returns the next event of the given kind, skipping the others.
func next(t *testing.T, session *sink.SessionSink, kind event.Kind) event.DomainEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-session.Events():
			if e.Kind() == kind {
				return e
			}
		case <-timeout:
			t.Fatalf("no %s event received", kind)
			return nil
		}
	}
}

func TestChatService_Send_Ack_And_Fan_Out(t *testing.T) {
	req := require.New(t)
	s := newService(t, nil)
	conv, created, err := s.OpenDirect("alice", "bob")
	req.NoError(err)
	req.True(created)
	alice := connect(t, s, "alice", conv.ID)
	bob := connect(t, s, "bob", conv.ID)

	// When alice sends, pretending to be someone else
	ack, err := s.SendMessage(context.Background(), alice, domain.SendMessageCommand{
		ConversationID: conv.ID, SenderID: "mallory", TempID: "tmp-1", Text: "hello bob",
	})
	req.NoError(err)

	// Then alice gets her ack with the temp id
	got := next(t, alice, event.MessageAckKind).(event.MessageAck)
	req.Equal("tmp-1", got.TempID)
	req.Equal(ack.CanonicalID, got.CanonicalID)

	// And bob gets the canonical message, signed by alice
	posted := next(t, bob, event.MessageKind).(event.MessagePosted)
	req.Equal(uint64(1), posted.CanonicalID)
	req.Equal(domain.Identity("alice"), posted.SenderID)
	req.Equal("hello bob", posted.Text)
}

func TestChatService_Reconcile_Matches_Live_Fan_Out(t *testing.T) {
	req := require.New(t)
	s := newService(t, nil)
	ctx := context.Background()
	conv, _, err := s.OpenDirect("alice", "bob")
	req.NoError(err)

	alice := connect(t, s, "alice", conv.ID)
	// alice's laptop stays connected the whole time
	laptop := connect(t, s, "alice", conv.ID)
	bob := connect(t, s, "bob", conv.ID)

	// Given bob read message 1 then lost his connection
	_, err = s.SendMessage(ctx, alice, domain.SendMessageCommand{ConversationID: conv.ID, TempID: "t0", Text: "first"})
	req.NoError(err)
	watermark := next(t, bob, event.MessageKind).(event.MessagePosted).CanonicalID
	next(t, laptop, event.MessageKind)
	s.CloseSession(ctx, bob)

	// When alice sends three messages meanwhile
	for i := 1; i <= 3; i++ {
		_, err := s.SendMessage(ctx, alice, domain.SendMessageCommand{ConversationID: conv.ID, TempID: fmt.Sprintf("t%d", i), Text: fmt.Sprintf("m%d", i)})
		req.NoError(err)
	}
	var live []event.MessagePosted
	for i := 0; i < 3; i++ {
		live = append(live, next(t, laptop, event.MessageKind).(event.MessagePosted))
	}

	// Then reconciling from the watermark returns exactly those three
	result, err := s.Reconcile("bob", conv.ID, watermark, 0)
	req.NoError(err)
	req.False(result.HasMore)
	req.Equal(live, result.Messages)
	req.Equal([]uint64{2, 3, 4}, []uint64{result.Messages[0].CanonicalID, result.Messages[1].CanonicalID, result.Messages[2].CanonicalID})

	// And an outsider cannot reconcile
	_, err = s.Reconcile("mallory", conv.ID, 0, 0)
	req.ErrorIs(err, errors.ErrNotParticipant)
}

func TestChatService_Presence_Snapshot_Then_Delta(t *testing.T) {
	req := require.New(t)
	s := newService(t, nil)

	alice := connect(t, s, "alice")
	snapshot := next(t, alice, event.PresenceSnapshotKind).(event.PresenceSnapshot)
	req.Equal([]domain.Identity{"alice"}, snapshot.Identities)

	// When bob connects from two devices
	bobPhone := connect(t, s, "bob")
	connect(t, s, "bob")

	// Then alice sees bob online once
	delta := next(t, alice, event.PresenceDeltaKind).(event.PresenceDelta)
	req.Equal(domain.Identity("bob"), delta.Identity)
	req.True(delta.Online)

	// And closing one device does not flip him offline
	s.CloseSession(context.Background(), bobPhone)
	time.Sleep(60 * time.Millisecond)
	select {
	case e := <-alice.Events():
		req.Failf("unexpected event", "%#v", e)
	default:
	}
}

func TestChatService_Read_Receipt_Reaches_Sender(t *testing.T) {
	req := require.New(t)
	s := newService(t, nil)
	ctx := context.Background()
	conv, _, err := s.OpenDirect("alice", "bob")
	req.NoError(err)
	alice := connect(t, s, "alice", conv.ID)
	bob := connect(t, s, "bob", conv.ID)

	for i := 1; i <= 2; i++ {
		_, err := s.SendMessage(ctx, alice, domain.SendMessageCommand{ConversationID: conv.ID, TempID: fmt.Sprintf("t%d", i), Text: "hi"})
		req.NoError(err)
	}

	req.NoError(s.Read(ctx, bob, conv.ID, 2))
	update := next(t, alice, event.ReadUpdateKind).(event.ReadUpdate)
	req.Equal(domain.Identity("bob"), update.ReaderID)
	req.Equal(uint64(2), update.UptoID)

	// A stale receipt is accepted silently
	req.NoError(s.Read(ctx, bob, conv.ID, 1))
}

func TestChatService_Typing_Reaches_Peers(t *testing.T) {
	req := require.New(t)
	s := newService(t, nil)
	conv, _, err := s.OpenDirect("alice", "bob")
	req.NoError(err)
	alice := connect(t, s, "alice", conv.ID)
	bob := connect(t, s, "bob", conv.ID)

	req.NoError(s.Typing(context.Background(), alice, conv.ID))

	typing := next(t, bob, event.TypingUpdateKind).(event.TypingUpdate)
	req.Equal(domain.Identity("alice"), typing.Identity)
}

func TestChatService_Absent_Recipient_Is_Notified(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockINotifier(ctrl)
	s := newService(t, notifier)
	conv, _, err := s.OpenDirect("alice", "bob")
	req.NoError(err)
	alice := connect(t, s, "alice", conv.ID)

	done := make(chan struct{})
	notifier.EXPECT().
		Notify(gomock.Any(), domain.Identity("bob"), "ping", fmt.Sprintf("https://app.example/conversations/%s#1", conv.ID)).
		DoAndReturn(func(context.Context, domain.Identity, string, string) error {
			close(done)
			return nil
		})

	// When alice writes to bob who never connected
	_, err = s.SendMessage(context.Background(), alice, domain.SendMessageCommand{ConversationID: conv.ID, TempID: "t1", Text: "ping"})
	req.NoError(err)

	// Then bob is notified once
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		req.Fail("notification not sent")
	}
}

func TestChatService_Group_Lifecycle(t *testing.T) {
	req := require.New(t)
	s := newService(t, nil)

	group, err := s.CreateGroup("alice", "launch", []domain.Identity{"bob"})
	req.NoError(err)
	req.Equal(domain.Group, group.Kind)

	// An outsider cannot add people, a member can
	_, err = s.AddParticipant("mallory", group.ID, "clara")
	req.ErrorIs(err, errors.ErrNotParticipant)
	updated, err := s.AddParticipant("bob", group.ID, "clara")
	req.NoError(err)
	req.True(updated.HasParticipant("clara"))

	// Direct conversations stay closed
	direct, _, err := s.OpenDirect("alice", "bob")
	req.NoError(err)
	_, err = s.AddParticipant("alice", direct.ID, "clara")
	req.ErrorIs(err, errors.ErrMembershipImmutable)

	// Hiding is per user
	req.NoError(s.Hide("clara", group.ID))
	list, err := s.ListConversations("clara")
	req.NoError(err)
	req.Empty(list)
	list, err = s.ListConversations("alice")
	req.NoError(err)
	req.Len(list, 2)

	_, err = s.CreateGroup("alice", "alone", nil)
	req.ErrorIs(err, errors.ErrInvalidCommand)
	_, _, err = s.OpenDirect("alice", "alice")
	req.ErrorIs(err, errors.ErrInvalidCommand)
}
