package notification

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/errors"
	"chat-sync/observability"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
)

const (
	previewLength     = 80
	attachmentPreview = "[attachment]"
	defaultRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 30 * time.Second
	notifyCallTimeout = 10 * time.Second
)

var _ contract.IScheduler = (*Dispatcher)(nil)

// Dispatcher decides, once per persisted message and recipient, whether the recipient
// must be reached asynchronously. The decision waits for the grace window: anyone
// connected at some point during it, in the conversation or globally, is considered reached.
type Dispatcher struct {
	log          *slog.Logger
	monitoring   *observability.MonitoringManager
	presence     contract.IPresence
	repository   contract.INotificationRepository
	notifier     contract.INotifier
	jobs         chan domain.NotificationJob
	grace        time.Duration
	maxAttempts  int
	retryDelay   time.Duration
	deepLinkBase string
	now          func() time.Time

	mu       sync.Mutex
	timers   map[*time.Timer]struct{}
	deciding sync.WaitGroup
	stopped  bool
}

func NewDispatcher(
	log *slog.Logger,
	monitoring *observability.MonitoringManager,
	presence contract.IPresence,
	repository contract.INotificationRepository,
	notifier contract.INotifier,
	grace time.Duration,
	maxAttempts int,
	queueSize int,
	deepLinkBase string,
) *Dispatcher {
	return &Dispatcher{
		log:          log,
		monitoring:   monitoring,
		presence:     presence,
		repository:   repository,
		notifier:     notifier,
		jobs:         make(chan domain.NotificationJob, queueSize),
		grace:        grace,
		maxAttempts:  max(maxAttempts, 1),
		retryDelay:   defaultRetryDelay,
		deepLinkBase: deepLinkBase,
		now:          func() time.Time { return time.Now().UTC() },
		timers:       make(map[*time.Timer]struct{}),
	}
}

// Schedule never blocks the ingest pipeline, the decision runs after the grace window.
// Each recipient gets a Deferred job first so a decision cut short by a restart is
// taken again by Recover.
func (d *Dispatcher) Schedule(message domain.Message, recipients []domain.Identity) {
	if len(recipients) == 0 {
		return
	}
	attemptedAt := d.now()
	jobs := make([]domain.NotificationJob, 0, len(recipients))
	for _, recipient := range recipients {
		job := domain.NewNotificationJob(message, recipient, Preview(message), d.DeepLink(message), attemptedAt)
		job.Status = domain.JobDeferred
		job.DueAt = attemptedAt.Add(d.grace)
		if err := d.repository.SaveJob(job); err != nil {
			d.log.Warn("Unable to store deferred notification", "target", recipient, "canonical_id", message.ID, "error", err)
		}
		jobs = append(jobs, job)
	}
	d.after(d.grace, jobs)
}

// after arms the decision timer. Stop cancels the timers not fired yet.
func (d *Dispatcher) after(delay time.Duration, jobs []domain.NotificationJob) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.timers, timer)
		if d.stopped {
			d.mu.Unlock()
			return
		}
		d.deciding.Add(1)
		d.mu.Unlock()
		defer d.deciding.Done()
		d.decide(jobs)
	})
	d.timers[timer] = struct{}{}
}

// decide keeps the jobs of recipients absent from the conversation and from the global
// scope since the job was created, and drops the others.
func (d *Dispatcher) decide(jobs []domain.NotificationJob) {
	for _, job := range jobs {
		scope := domain.ConversationScope(job.ConversationID)
		if d.presence.OnlineDuring(scope, job.Target, job.CreatedAt) || d.presence.OnlineDuring(domain.GlobalScope, job.Target, job.CreatedAt) {
			if err := d.repository.DeleteJob(job); err != nil {
				d.log.Debug("Unable to drop deferred notification", "job_id", job.ID, "error", err)
			}
			continue
		}
		job.Status = domain.JobPending
		job.UpdatedAt = d.now()
		if err := d.repository.SaveJob(job); err != nil {
			d.log.Error("Unable to store notification job", "target", job.Target, "canonical_id", job.MessageID, "error", err)
			continue
		}
		d.enqueue(job)
	}
}

// Stop cancels the pending decisions and waits for those already running.
// Their Deferred jobs stay in storage for the next Recover.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	for timer := range d.timers {
		timer.Stop()
	}
	clear(d.timers)
	d.mu.Unlock()
	d.deciding.Wait()
}

func (d *Dispatcher) enqueue(job domain.NotificationJob) {
	select {
	case d.jobs <- job:
		d.log.Debug("Notification job queued", "job_id", job.ID, "target", job.Target)
	default:
		// Stays Pending in storage, Recover picks it up on next start
		d.log.Warn("Notification queue full, job deferred", "job_id", job.ID, "target", job.Target)
	}
}

// Recover requeues jobs left Pending by a previous process and takes again the
// decisions it left Deferred, at their original due time.
func (d *Dispatcher) Recover() error {
	jobs, err := d.repository.ListJobs()
	if err != nil {
		return err
	}
	recovered, deferred := 0, 0
	for _, job := range jobs {
		switch job.Status {
		case domain.JobPending:
			d.enqueue(job)
			recovered++
		case domain.JobDeferred:
			d.after(max(job.DueAt.Sub(d.now()), 0), []domain.NotificationJob{job})
			deferred++
		}
	}
	if recovered > 0 || deferred > 0 {
		d.log.Info("Notification jobs recovered", "requeued", recovered, "deferred", deferred)
	}
	return nil
}

// Workers returns n delivery workers sharing the queue, to be supervised.
func (d *Dispatcher) Workers(n int) []contract.Worker {
	res := make([]contract.Worker, 0, n)
	for i := 0; i < n; i++ {
		res = append(res, &DeliveryWorker{dispatcher: d})
	}
	return res
}

// deliver attempts the job with bounded retries. The outcome is only logged and
// counted, a notification failure never reaches the sender.
func (d *Dispatcher) deliver(ctx context.Context, job domain.NotificationJob) domain.NotificationJob {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(d.retryDelay),
		backoff.WithMaxInterval(maxRetryDelay),
	), uint64(max(d.maxAttempts-job.Attempts, 1)-1)), ctx)

	operation := func() error {
		job.Attempts++
		callCtx, cancel := context.WithTimeout(ctx, notifyCallTimeout)
		defer cancel()
		err := d.notifier.Notify(callCtx, job.Target, job.Preview, job.DeepLink)
		job.UpdatedAt = d.now()
		if err != nil {
			job.LastError = err.Error()
			if saveErr := d.repository.SaveJob(job); saveErr != nil {
				d.log.Debug("Unable to record attempt", "job_id", job.ID, "error", saveErr)
			}
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		if ctx.Err() != nil {
			// Shutdown: leave it Pending for recovery
			return job
		}
		job.Status = domain.JobFailed
		d.monitoring.IncrNotificationErr()
		d.log.Error("Notification abandoned",
			"job_id", job.ID, "target", job.Target, "attempts", job.Attempts,
			"error", fmt.Errorf("%w: %v", errors.ErrNotificationDispatch, err))
	} else {
		job.Status = domain.JobSent
		job.LastError = ""
		d.monitoring.IncrNotification()
		d.log.Debug("Notification sent", "job_id", job.ID, "target", job.Target, "attempts", job.Attempts)
	}
	if err := d.repository.SaveJob(job); err != nil {
		d.log.Error("Unable to store notification outcome", "job_id", job.ID, "error", err)
	}
	return job
}

// DeliveryWorker drains the shared job queue.
type DeliveryWorker struct {
	dispatcher *Dispatcher
}

func (w *DeliveryWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-w.dispatcher.jobs:
			w.dispatcher.deliver(ctx, job)
		}
	}
}

func Preview(message domain.Message) string {
	if message.Text == "" {
		return attachmentPreview
	}
	if utf8.RuneCountInString(message.Text) <= previewLength {
		return message.Text
	}
	return string([]rune(message.Text)[:previewLength-1]) + "…"
}

func (d *Dispatcher) DeepLink(message domain.Message) string {
	return fmt.Sprintf("%s/conversations/%s#%d", d.deepLinkBase, message.ConversationID, message.ID)
}
