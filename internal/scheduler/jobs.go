package scheduler

import (
	"log/slog"
)

// Default schedules for the built-in maintenance jobs.
const (
	// DefaultLexiconReloadSchedule re-reads the lexicon file hourly.
	DefaultLexiconReloadSchedule = "0 * * * *"
	// DefaultMetricsSnapshotSchedule logs an alert metrics snapshot every 15 minutes.
	DefaultMetricsSnapshotSchedule = "*/15 * * * *"
)

// LexiconReloader reloads the detection lexicon from a file.
type LexiconReloader interface {
	ReloadLexiconFile(path string) error
}

// RegisterLexiconReload schedules a periodic reload of the lexicon file. A
// failed reload keeps the current lexicon and is retried on the next tick.
func (s *Scheduler) RegisterLexiconReload(expr, path string, reloader LexiconReloader) error {
	if path == "" {
		slog.Debug("Scheduler lexicon reload disabled, no lexicon file configured")
		return nil
	}
	return s.AddJob(expr, func() {
		if err := reloader.ReloadLexiconFile(path); err != nil {
			slog.Error("Scheduler lexicon reload failed", "error", err, "path", path)
		}
	})
}

// RegisterMetricsSnapshot schedules a periodic metrics log line, giving
// operators a heartbeat of alert volume without a metrics backend.
func (s *Scheduler) RegisterMetricsSnapshot(expr string, snapshot func()) error {
	return s.AddJob(expr, snapshot)
}
