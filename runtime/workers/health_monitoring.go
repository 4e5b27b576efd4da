package workers

import (
	"chat-sync/observability"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// HealthMonitoringWorker samples the engine process and logs the counters periodically.
type HealthMonitoringWorker struct {
	log            *slog.Logger
	monitoring     *observability.MonitoringManager
	metricInterval time.Duration
	sessions       func() int
}

func NewHealthMonitoringWorker(
	log *slog.Logger,
	monitoring *observability.MonitoringManager,
	metricInterval time.Duration,
	sessions func() int,
) *HealthMonitoringWorker {
	return &HealthMonitoringWorker{
		log:            log,
		monitoring:     monitoring,
		metricInterval: metricInterval,
		sessions:       sessions,
	}
}

func (w *HealthMonitoringWorker) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping health monitoring")
			return nil
		case <-ticker.C:
			cpu, err := p.CPUPercent()
			if err != nil {
				w.log.Error("Error while finding process cpu usage", "err", err)
				continue
			}
			mem, err := p.MemoryInfo()
			if err != nil {
				w.log.Error("Error while finding process ram usage", "err", err)
				continue
			}
			w.monitoring.UpdateProcess(cpu, mem.RSS)
			stats := w.monitoring.GetLatest()
			w.log.Debug("Engine health",
				"sessions", stats.Sessions,
				"registry_sessions", w.sessions(),
				"persisted", stats.MessagesPersisted,
				"overflows", stats.SessionOverflows,
				"notifications_failed", stats.NotificationsFailed,
				"cpu", stats.ProcessCPUPercent,
				"rss_mb", stats.ProcessRSSMb,
			)
		}
	}
}
