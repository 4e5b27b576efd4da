package notification

import (
	"chat-sync/domain"
	"chat-sync/mocks"
	"chat-sync/observability"
	"chat-sync/repositories"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const grace = 20 * time.Millisecond

type fixture struct {
	dispatcher *Dispatcher
	presence   *mocks.MockIPresence
	notifier   *mocks.MockINotifier
	repository repositories.NotificationRepository
	monitoring *observability.MonitoringManager
	cancel     context.CancelFunc
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).
		WithLoggingLevel(badger.ERROR).
		WithValueLogFileSize(16 << 20))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctrl := gomock.NewController(t)
	presence := mocks.NewMockIPresence(ctrl)
	notifier := mocks.NewMockINotifier(ctrl)
	repository := repositories.NewNotificationRepository(db, log)
	monitoring := observability.NewMonitoringManager(log)
	dispatcher := NewDispatcher(log, monitoring, presence, repository, notifier, grace, 3, 16, "https://app.example")
	dispatcher.retryDelay = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	for _, worker := range dispatcher.Workers(2) {
		go func() { _ = worker.Run(ctx) }()
	}
	t.Cleanup(cancel)
	return fixture{dispatcher, presence, notifier, repository, monitoring, cancel}
}

func (f fixture) jobsWith(status domain.JobStatus) func() bool {
	return func() bool {
		jobs, err := f.repository.ListJobs()
		return err == nil && len(jobs) == 1 && jobs[0].Status == status
	}
}

func message() domain.Message {
	return domain.Message{ID: 7, ConversationID: "c1", SenderID: "alice", Text: "are you there?"}
}

func TestDispatcher_Absent_Recipient_Is_Notified(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	// Given bob never connected during the grace window
	f.presence.EXPECT().OnlineDuring(gomock.Any(), domain.Identity("bob"), gomock.Any()).Return(false).Times(2)
	f.notifier.EXPECT().Notify(gomock.Any(), domain.Identity("bob"), "are you there?", "https://app.example/conversations/c1#7").
		Return(nil).Times(1)

	// When the message is scheduled
	f.dispatcher.Schedule(message(), []domain.Identity{"bob"})

	// Then exactly one job ends Sent
	req.Eventually(f.jobsWith(domain.JobSent), time.Second, 5*time.Millisecond)
	jobs, err := f.repository.ListJobs()
	req.NoError(err)
	req.Equal(1, jobs[0].Attempts)
	req.Equal(uint64(1), f.monitoring.GetLatest().NotificationsSent)
}

func TestDispatcher_Recipient_Seen_During_Grace_Is_Skipped(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	// Given bob was connected globally inside the window
	f.presence.EXPECT().OnlineDuring(domain.ConversationScope("c1"), domain.Identity("bob"), gomock.Any()).Return(false)
	f.presence.EXPECT().OnlineDuring(domain.GlobalScope, domain.Identity("bob"), gomock.Any()).Return(true)

	f.dispatcher.Schedule(message(), []domain.Identity{"bob"})

	// Then no job is ever created
	time.Sleep(4 * grace)
	jobs, err := f.repository.ListJobs()
	req.NoError(err)
	req.Empty(jobs)
}

func TestDispatcher_Retries_Then_Succeeds(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	f.presence.EXPECT().OnlineDuring(gomock.Any(), gomock.Any(), gomock.Any()).Return(false).AnyTimes()
	gomock.InOrder(
		f.notifier.EXPECT().Notify(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(fmt.Errorf("smtp timeout")).Times(2),
		f.notifier.EXPECT().Notify(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1),
	)

	f.dispatcher.Schedule(message(), []domain.Identity{"bob"})

	req.Eventually(f.jobsWith(domain.JobSent), time.Second, 5*time.Millisecond)
	jobs, err := f.repository.ListJobs()
	req.NoError(err)
	req.Equal(3, jobs[0].Attempts)
	req.Empty(jobs[0].LastError)
}

func TestDispatcher_Max_Attempts_Marks_Failed(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	f.presence.EXPECT().OnlineDuring(gomock.Any(), gomock.Any(), gomock.Any()).Return(false).AnyTimes()
	// Then the collaborator is called exactly max attempts times
	f.notifier.EXPECT().Notify(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(fmt.Errorf("rejected")).Times(3)

	f.dispatcher.Schedule(message(), []domain.Identity{"bob"})

	req.Eventually(f.jobsWith(domain.JobFailed), time.Second, 5*time.Millisecond)
	jobs, err := f.repository.ListJobs()
	req.NoError(err)
	req.Equal(3, jobs[0].Attempts)
	req.Equal("rejected", jobs[0].LastError)
	req.Equal(uint64(1), f.monitoring.GetLatest().NotificationsFailed)
}

func TestDispatcher_Recover_Requeues_Pending(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	job := domain.NewNotificationJob(message(), "bob", "hi", "link", time.Now().UTC())
	req.NoError(f.repository.SaveJob(job))

	f.notifier.EXPECT().Notify(gomock.Any(), domain.Identity("bob"), "hi", "link").Return(nil)

	req.NoError(f.dispatcher.Recover())

	req.Eventually(f.jobsWith(domain.JobSent), time.Second, 5*time.Millisecond)
}

func TestDispatcher_Stop_Leaves_Decision_To_Recover(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	// Given a decision still inside its grace window at shutdown
	f.dispatcher.Schedule(message(), []domain.Identity{"bob"})
	f.dispatcher.Stop()

	// Then this process never takes it but keeps it stored
	time.Sleep(3 * grace)
	req.Condition(f.jobsWith(domain.JobDeferred))

	// When the next process recovers, bob still being away
	f.presence.EXPECT().OnlineDuring(gomock.Any(), domain.Identity("bob"), gomock.Any()).Return(false).Times(2)
	f.notifier.EXPECT().Notify(gomock.Any(), domain.Identity("bob"), "are you there?", gomock.Any()).Return(nil)
	next := NewDispatcher(slog.Default(), f.monitoring, f.presence, f.repository, f.notifier, grace, 3, 16, "https://app.example")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = next.Workers(1)[0].Run(ctx) }()
	req.NoError(next.Recover())

	// Then the notification goes out
	req.Eventually(f.jobsWith(domain.JobSent), time.Second, 5*time.Millisecond)
}

func TestPreview(t *testing.T) {
	req := require.New(t)

	req.Equal("[attachment]", Preview(domain.Message{AttachmentRef: "s3://x"}))
	req.Equal("short", Preview(domain.Message{Text: "short"}))
	long := Preview(domain.Message{Text: strings.Repeat("é", 200)})
	req.Equal(80, len([]rune(long)))
	req.True(strings.HasSuffix(long, "…"))
}
