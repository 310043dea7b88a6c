package alert

import (
	"fmt"

	"github.com/mindmesh/sentinel/internal/models"
)

// Metrics computes a read-only aggregate view over all stored alerts.
func (m *Manager) Metrics() (*models.AlertMetrics, error) {
	alerts, err := m.store.ListAlerts()
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}

	metrics := &models.AlertMetrics{
		AlertsByStatus:   make(map[models.AlertStatus]int),
		AlertsBySeverity: make(map[models.AlertSeverity]int),
	}
	var ackCount int
	var ackTotalMs float64
	for _, a := range alerts {
		metrics.TotalAlerts++
		metrics.AlertsByStatus[a.Status]++
		metrics.AlertsBySeverity[a.Severity]++
		if !a.Status.IsTerminal() {
			metrics.ActiveAlerts++
		}
		if a.Context != nil && a.Context["escalation_exhausted"] == "true" {
			metrics.EscalationsExhausted++
		}
		if a.AcknowledgedAt != nil {
			ackCount++
			ackTotalMs += float64(a.AcknowledgedAt.Sub(a.CreatedAt).Milliseconds())
		}
	}
	if ackCount > 0 {
		metrics.AvgTimeToAcknowledgeMs = ackTotalMs / float64(ackCount)
	}
	return metrics, nil
}
