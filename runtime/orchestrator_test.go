package runtime

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/errors"
	"chat-sync/mocks"
	"chat-sync/notification"
	"chat-sync/repositories"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func orchestratorConfig() Config {
	return Config{
		PresenceGrace:           20 * time.Millisecond,
		PresenceRetention:       time.Minute,
		NotificationGrace:       20 * time.Millisecond,
		TypingTTL:               time.Second,
		DeliveryTimeout:         500 * time.Millisecond,
		PersistMaxAttempts:      2,
		NotificationMaxAttempts: 2,
		NotificationWorkers:     1,
		NotificationQueueSize:   8,
		ConnectionBufferSize:    16,
		ReconcileLimit:          2,
		MaxTextLength:           100,
		CharReplacement:         '*',
		DeepLinkBase:            "https://app.example",
	}
}

func openDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).
		WithLoggingLevel(badger.ERROR).
		WithValueLogFileSize(16 << 20))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newOrchestrator(t *testing.T, db *badger.DB, notifier contract.INotifier) *Orchestrator {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	if notifier == nil {
		notifier = notification.NewLogNotifier(log)
	}
	o, err := NewOrchestrator(log, db, notifier, orchestratorConfig())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, o.Start(ctx))
	return o
}

func TestOrchestrator_Start_Requeues_Pending_Jobs(t *testing.T) {
	req := require.New(t)
	db := openDB(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	// Given a job left pending by a previous process
	job := domain.NewNotificationJob(domain.Message{ID: 7, ConversationID: "c1", SenderID: "alice", Text: "hi"},
		"bob", "hi", "https://app.example/conversations/c1#7", time.Now().UTC())
	req.NoError(repositories.NewNotificationRepository(db, log).SaveJob(job))

	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockINotifier(ctrl)
	done := make(chan struct{})
	notifier.EXPECT().
		Notify(gomock.Any(), domain.Identity("bob"), "hi", job.DeepLink).
		DoAndReturn(func(context.Context, domain.Identity, string, string) error {
			close(done)
			return nil
		})

	// When the orchestrator starts
	o := newOrchestrator(t, db, notifier)

	// Then the job is delivered and marked sent
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		req.Fail("pending job not requeued")
	}
	req.Eventually(func() bool {
		jobs, err := o.NotificationJobs()
		return err == nil && len(jobs) == 1 && jobs[0].Status == domain.JobSent
	}, 2*time.Second, 10*time.Millisecond)

	// Starting twice is a no-op
	req.NoError(o.Start(context.Background()))
}

func TestOrchestrator_Reconcile_Pages_From_Store(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	o := newOrchestrator(t, openDB(t), nil)

	conv, created, err := o.OpenDirect("alice", "bob")
	req.NoError(err)
	req.True(created)
	session := o.NewSessionSink("alice")
	req.NoError(o.OpenSession(ctx, "alice", session))

	for i := 1; i <= 3; i++ {
		_, err := o.SendMessage(ctx, domain.SendMessageCommand{
			ConversationID: conv.ID, SenderID: "alice", TempID: fmt.Sprintf("t%d", i), Text: "hello",
		}, session)
		req.NoError(err)
	}

	// The configured limit caps the page
	first, err := o.Reconcile(domain.ReconcileCommand{ConversationID: conv.ID, Requester: "bob"})
	req.NoError(err)
	req.True(first.HasMore)
	req.Len(first.Messages, 2)

	last := first.Messages[len(first.Messages)-1].CanonicalID
	second, err := o.Reconcile(domain.ReconcileCommand{ConversationID: conv.ID, Requester: "bob", SinceID: last})
	req.NoError(err)
	req.False(second.HasMore)
	req.Len(second.Messages, 1)
	req.Equal(uint64(3), second.Messages[0].CanonicalID)

	_, err = o.Reconcile(domain.ReconcileCommand{ConversationID: conv.ID, Requester: "mallory"})
	req.ErrorIs(err, errors.ErrNotParticipant)
}

func TestOrchestrator_Gates_Subscriptions_And_Identities(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	o := newOrchestrator(t, openDB(t), nil)

	conv, _, err := o.OpenDirect("alice", "bob")
	req.NoError(err)

	session := o.NewSessionSink("mallory")
	req.NoError(o.OpenSession(ctx, "mallory", session))
	_, err = o.Subscribe(ctx, "mallory", session, conv.ID)
	req.ErrorIs(err, errors.ErrNotParticipant)

	_, err = o.Subscribe(ctx, "mallory", session, domain.ConversationID(uuid.NewString()))
	req.ErrorIs(err, errors.ErrConversationNotFound)

	req.Error(o.OpenSession(ctx, "", o.NewSessionSink("")))

	// Global presence counts the open session
	req.Contains(o.Presence(domain.GlobalScope), domain.Identity("mallory"))
	o.CloseSession(ctx, "mallory", session.SessionID())
	req.Eventually(func() bool {
		return len(o.Presence(domain.GlobalScope)) == 0
	}, time.Second, 10*time.Millisecond)
}
