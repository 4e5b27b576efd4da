package workers

import (
	"chat-sync/contract"
	"chat-sync/errors"
	"chat-sync/observability"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	initialRestartDelay = 200 * time.Millisecond
	maxRestartDelay     = 10 * time.Second
)

var _ contract.ISupervisor = (*Supervisor)(nil)

// Supervisor owns a context and its cancel function.
// Each worker runs in its own goroutine; panics and errors restart the worker with
// an exponential delay, a clean return stops it for good. Cancelling the parent stops everything.
type Supervisor struct {
	Cancel     context.CancelFunc
	wg         *sync.WaitGroup
	log        *slog.Logger
	monitoring *observability.MonitoringManager
	workers    []contract.Worker
}

func NewSupervisor(log *slog.Logger, monitoring *observability.MonitoringManager) *Supervisor {
	return &Supervisor{wg: &sync.WaitGroup{}, log: log, monitoring: monitoring}
}

// Run blocks until every worker returned.
// If the parent cancels, we cancel. If we call s.Cancel(), only our children cancel.
func (s *Supervisor) Run(ctx context.Context) {
	supervisedCtx, cancel := context.WithCancel(ctx)
	s.Cancel = cancel
	defer s.Cancel()

	for _, worker := range s.workers {
		s.Start(supervisedCtx, worker)
	}
	s.wg.Wait()
}

func (s *Supervisor) Add(worker ...contract.Worker) contract.ISupervisor {
	s.workers = append(s.workers, worker...)
	return s
}

// Start runs a worker under supervision.
// A failure in one worker must not stop the supervisor itself.
func (s *Supervisor) Start(ctx context.Context, worker contract.Worker) {
	s.wg.Add(1)
	workerName := contract.GetWorkerName(worker)

	go func() {
		defer s.wg.Done()

		delays := backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(initialRestartDelay),
			backoff.WithMaxInterval(maxRestartDelay),
			backoff.WithMaxElapsedTime(0),
		)

		for {
			if ctx.Err() != nil {
				s.log.Info(fmt.Sprintf("Stopping : %s", workerName))
				return
			}

			startedAt := time.Now()
			err := func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("%w: %v", errors.ErrWorkerPanic, r)
					}
				}()
				return worker.Run(ctx)
			}()

			if err == nil {
				// Terminated properly, never restart !
				s.log.Info(fmt.Sprintf("Worker finished : %s", workerName))
				return
			}

			if ctx.Err() != nil {
				s.log.Info("Worker stopped (context canceled)", "name", workerName)
				return
			}

			// A worker that stayed up for a while earns a fresh delay
			if time.Since(startedAt) > maxRestartDelay {
				delays.Reset()
			}
			delay := delays.NextBackOff()
			s.monitoring.IncrWorkerRestart()
			s.log.Warn("Worker crashed, restarting", "name", workerName, "error", err, "delay", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}()
}

// Stop cancels every worker, Run returns once they all exited
func (s *Supervisor) Stop() {
	if s.Cancel != nil {
		s.Cancel()
	}
}
