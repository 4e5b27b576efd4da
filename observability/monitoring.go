package observability

import (
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"
)

// Stats is a point in time copy of the counters, served on /healthz and logged by the health worker
type Stats struct {
	Sessions            int64   `json:"sessions"`
	MessagesPersisted   uint64  `json:"messages_persisted"`
	DuplicateSends      uint64  `json:"duplicate_sends"`
	PersistenceFailures uint64  `json:"persistence_failures"`
	EphemeralDropped    uint64  `json:"ephemeral_dropped"`
	SessionOverflows    uint64  `json:"session_overflows"`
	PresenceDesyncs     uint64  `json:"presence_desyncs"`
	NotificationsSent   uint64  `json:"notifications_sent"`
	NotificationsFailed uint64  `json:"notifications_failed"`
	WorkerRestarts      uint64  `json:"worker_restarts"`
	AllocMemMb          uint64  `json:"alloc_mem_mb"`
	NumGC               uint32  `json:"num_gc"`
	ProcessCPUPercent   float64 `json:"process_cpu_percent"`
	ProcessRSSMb        uint64  `json:"process_rss_mb"`
	UptimeSeconds       float64 `json:"uptime_seconds"`
}

// MonitoringManager holds the engine counters. Every method is safe for concurrent use
type MonitoringManager struct {
	log       *slog.Logger
	startedAt time.Time

	sessions            atomic.Int64
	messagesPersisted   atomic.Uint64
	duplicateSends      atomic.Uint64
	persistenceFailures atomic.Uint64
	ephemeralDropped    atomic.Uint64
	sessionOverflows    atomic.Uint64
	presenceDesyncs     atomic.Uint64
	notificationsSent   atomic.Uint64
	notificationsFailed atomic.Uint64
	workerRestarts      atomic.Uint64

	// written by the health worker only
	cpuPercent atomic.Uint64
	rssMb      atomic.Uint64
}

func NewMonitoringManager(log *slog.Logger) *MonitoringManager {
	return &MonitoringManager{log: log, startedAt: time.Now()}
}

func (mm *MonitoringManager) SessionOpened() { mm.sessions.Add(1) }
func (mm *MonitoringManager) SessionClosed() { mm.sessions.Add(-1) }
func (mm *MonitoringManager) IncrPersisted() { mm.messagesPersisted.Add(1) }
func (mm *MonitoringManager) IncrDuplicate() { mm.duplicateSends.Add(1) }
func (mm *MonitoringManager) IncrPersistFailure() { mm.persistenceFailures.Add(1) }
func (mm *MonitoringManager) IncrEphemeralDrop() { mm.ephemeralDropped.Add(1) }
func (mm *MonitoringManager) IncrOverflow() { mm.sessionOverflows.Add(1) }
func (mm *MonitoringManager) IncrPresenceDesync() { mm.presenceDesyncs.Add(1) }
func (mm *MonitoringManager) IncrNotification() { mm.notificationsSent.Add(1) }
func (mm *MonitoringManager) IncrNotificationErr() { mm.notificationsFailed.Add(1) }
func (mm *MonitoringManager) IncrWorkerRestart() { mm.workerRestarts.Add(1) }

// UpdateProcess stores the last sample taken from the operating system.
// CPU is kept as hundredths of a percent so it fits an atomic integer.
func (mm *MonitoringManager) UpdateProcess(cpuPercent float64, rssBytes uint64) {
	mm.cpuPercent.Store(uint64(cpuPercent * 100))
	mm.rssMb.Store(rssBytes / 1024 / 1024)
}

func (mm *MonitoringManager) GetLatest() Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Stats{
		Sessions:            mm.sessions.Load(),
		MessagesPersisted:   mm.messagesPersisted.Load(),
		DuplicateSends:      mm.duplicateSends.Load(),
		PersistenceFailures: mm.persistenceFailures.Load(),
		EphemeralDropped:    mm.ephemeralDropped.Load(),
		SessionOverflows:    mm.sessionOverflows.Load(),
		PresenceDesyncs:     mm.presenceDesyncs.Load(),
		NotificationsSent:   mm.notificationsSent.Load(),
		NotificationsFailed: mm.notificationsFailed.Load(),
		WorkerRestarts:      mm.workerRestarts.Load(),
		AllocMemMb:          m.Alloc / 1024 / 1024,
		NumGC:               m.NumGC,
		ProcessCPUPercent:   float64(mm.cpuPercent.Load()) / 100,
		ProcessRSSMb:        mm.rssMb.Load(),
		UptimeSeconds:       time.Since(mm.startedAt).Seconds(),
	}
}
