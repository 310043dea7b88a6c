package escalation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mindmesh/sentinel/internal/models"
)

// RecoverActiveAlerts re-arms escalation runners after a restart. Alerts that
// are pending or escalated lost their in-memory timers when the process died;
// each one gets a fresh runner resuming at its persisted escalation level.
// Acknowledged and in-progress alerts are in an operator's hands and get no
// runner.
func (s *Scheduler) RecoverActiveAlerts(ctx context.Context) error {
	alerts, err := s.store.ListActiveAlerts()
	if err != nil {
		return fmt.Errorf("failed to list active alerts for recovery: %w", err)
	}

	recovered := 0
	for _, alert := range alerts {
		switch alert.Status {
		case models.AlertStatusPending, models.AlertStatusEscalated:
			s.Start(ctx, alert)
			recovered++
		default:
			slog.Debug("Scheduler recovery skipping operator-held alert", "alertID", alert.ID, "status", alert.Status)
		}
	}
	slog.Info("Scheduler recovery complete", "activeAlerts", len(alerts), "recoveredRunners", recovered)
	return nil
}
