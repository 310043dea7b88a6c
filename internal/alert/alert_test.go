package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mindmesh/sentinel/internal/models"
	"github.com/mindmesh/sentinel/internal/store"
)

// stubController records escalation start/stop calls.
type stubController struct {
	mu      sync.Mutex
	started []string
	stopped []string
}

func (c *stubController) Start(_ context.Context, alert models.EmergencyAlert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, alert.ID)
}

func (c *stubController) Stop(alertID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = append(c.stopped, alertID)
}

func (c *stubController) stopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stopped)
}

func newTestManager(t *testing.T) (*Manager, *store.InMemoryStore, *stubController, *EventBus) {
	t.Helper()
	st := store.NewInMemoryStore()
	bus := NewEventBus()
	m := NewManager(st, bus)
	ctrl := &stubController{}
	m.SetEscalationController(ctrl)
	return m, st, ctrl, bus
}

func createPendingAlert(t *testing.T, m *Manager) *models.EmergencyAlert {
	t.Helper()
	alert, err := m.Create(context.Background(), models.CreateAlertRequest{
		UserID:      "user_1",
		Severity:    models.SeverityCritical,
		Description: "crisis language detected",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return alert
}

func TestCreateStartsEscalation(t *testing.T) {
	m, st, ctrl, bus := newTestManager(t)

	var events []models.EventType
	bus.Subscribe(func(_ context.Context, e models.Event) {
		events = append(events, e.Type)
	})

	alert := createPendingAlert(t, m)
	if alert.Status != models.AlertStatusPending {
		t.Errorf("status = %q, want pending", alert.Status)
	}
	if alert.AlertType != models.AlertTypeManual {
		t.Errorf("alert type = %q, want manual default", alert.AlertType)
	}

	stored, err := st.GetAlert(alert.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetAlert = %v, %v", stored, err)
	}

	ctrl.mu.Lock()
	started := len(ctrl.started)
	ctrl.mu.Unlock()
	if started != 1 {
		t.Errorf("escalation started %d times, want 1", started)
	}
	if len(events) != 1 || events[0] != models.EventAlertCreated {
		t.Errorf("events = %v, want [alert-created]", events)
	}
}

func TestCreateValidation(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	_, err := m.Create(context.Background(), models.CreateAlertRequest{
		Severity:    models.SeverityHigh,
		Description: "missing user",
	})
	if !errors.Is(err, models.ErrEmptyUserID) {
		t.Errorf("error = %v, want ErrEmptyUserID", err)
	}
}

func TestCreateFromDetectionSeverityMapping(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	critical, err := m.CreateFromDetection(ctx, models.CrisisDetectionResult{
		ID: "det_1", UserID: "user_1", MessageID: "msg_1",
		RiskLevel:  models.RiskLevelCritical,
		Confidence: 0.95,
		Categories: []models.CrisisCategory{models.CategorySuicide},
	})
	if err != nil {
		t.Fatalf("CreateFromDetection: %v", err)
	}
	if critical.Severity != models.SeverityCritical {
		t.Errorf("severity = %q, want critical", critical.Severity)
	}
	if critical.AlertType != models.AlertTypeCrisisDetection {
		t.Errorf("alert type = %q, want crisis_detection", critical.AlertType)
	}
	if critical.DetectionID != "det_1" {
		t.Errorf("detection id = %q, want det_1", critical.DetectionID)
	}

	high, err := m.CreateFromDetection(ctx, models.CrisisDetectionResult{
		ID: "det_2", UserID: "user_1", MessageID: "msg_2",
		RiskLevel:  models.RiskLevelHigh,
		Confidence: 0.75,
	})
	if err != nil {
		t.Fatalf("CreateFromDetection: %v", err)
	}
	if high.Severity != models.SeverityHigh {
		t.Errorf("severity = %q, want high", high.Severity)
	}
}

func TestAcknowledgeStopsEscalation(t *testing.T) {
	m, _, ctrl, _ := newTestManager(t)
	alert := createPendingAlert(t, m)

	acked, err := m.Acknowledge(context.Background(), alert.ID, models.AlertActionRequest{
		ActorID: "operator_1",
		Notes:   "calling the user now",
	})
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if acked.Status != models.AlertStatusAcknowledged {
		t.Errorf("status = %q, want acknowledged", acked.Status)
	}
	if acked.AcknowledgedBy != "operator_1" || acked.AcknowledgedAt == nil {
		t.Errorf("acknowledgement not recorded: %+v", acked)
	}
	if acked.Context["acknowledge_notes"] != "calling the user now" {
		t.Errorf("notes not recorded: %v", acked.Context)
	}
	if ctrl.stopCount() != 1 {
		t.Errorf("escalation stopped %d times, want 1", ctrl.stopCount())
	}
}

func TestFullLifecycle(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()
	alert := createPendingAlert(t, m)
	actor := models.AlertActionRequest{ActorID: "operator_1"}

	if _, err := m.Acknowledge(ctx, alert.ID, actor); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if _, err := m.StartProgress(ctx, alert.ID, actor); err != nil {
		t.Fatalf("StartProgress: %v", err)
	}
	resolved, err := m.Resolve(ctx, alert.ID, models.AlertActionRequest{
		ActorID:    "operator_1",
		Resolution: "user safe, follow-up scheduled",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Status != models.AlertStatusResolved {
		t.Errorf("status = %q, want resolved", resolved.Status)
	}
	if resolved.ResolvedAt == nil || resolved.Resolution == "" {
		t.Errorf("resolution not recorded: %+v", resolved)
	}
}

func TestAcknowledgeEscalatedAlert(t *testing.T) {
	m, _, ctrl, _ := newTestManager(t)
	ctx := context.Background()
	alert := createPendingAlert(t, m)

	if _, err := m.RecordEscalation(ctx, alert.ID, 1); err != nil {
		t.Fatalf("RecordEscalation: %v", err)
	}
	acked, err := m.Acknowledge(ctx, alert.ID, models.AlertActionRequest{ActorID: "operator_1"})
	if err != nil {
		t.Fatalf("Acknowledge escalated alert: %v", err)
	}
	if acked.Status != models.AlertStatusAcknowledged {
		t.Errorf("status = %q, want acknowledged", acked.Status)
	}
	if acked.EscalationLevel != 1 {
		t.Errorf("level = %d, want 1 preserved through acknowledgement", acked.EscalationLevel)
	}
	if ctrl.stopCount() != 1 {
		t.Errorf("escalation stopped %d times, want 1", ctrl.stopCount())
	}
}

func TestResolveAcknowledgedAlert(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()
	alert := createPendingAlert(t, m)

	if _, err := m.Acknowledge(ctx, alert.ID, models.AlertActionRequest{ActorID: "operator_1"}); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	resolved, err := m.Resolve(ctx, alert.ID, models.AlertActionRequest{
		ActorID:    "operator_1",
		Resolution: "user reached directly, no further action",
	})
	if err != nil {
		t.Fatalf("Resolve acknowledged alert: %v", err)
	}
	if resolved.Status != models.AlertStatusResolved {
		t.Errorf("status = %q, want resolved", resolved.Status)
	}
	if resolved.ResolvedAt == nil {
		t.Error("resolvedAt not recorded")
	}
}

func TestInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	actor := models.AlertActionRequest{ActorID: "operator_1", Resolution: "done"}

	tests := []struct {
		name string
		run  func(t *testing.T, m *Manager, alertID string) error
	}{
		{
			name: "resolve pending alert",
			run: func(t *testing.T, m *Manager, alertID string) error {
				_, err := m.Resolve(ctx, alertID, actor)
				return err
			},
		},
		{
			name: "start progress on pending alert",
			run: func(t *testing.T, m *Manager, alertID string) error {
				_, err := m.StartProgress(ctx, alertID, actor)
				return err
			},
		},
		{
			name: "acknowledge resolved alert",
			run: func(t *testing.T, m *Manager, alertID string) error {
				if _, err := m.Acknowledge(ctx, alertID, actor); err != nil {
					t.Fatalf("Acknowledge: %v", err)
				}
				if _, err := m.StartProgress(ctx, alertID, actor); err != nil {
					t.Fatalf("StartProgress: %v", err)
				}
				if _, err := m.Resolve(ctx, alertID, actor); err != nil {
					t.Fatalf("Resolve: %v", err)
				}
				_, err := m.Acknowledge(ctx, alertID, actor)
				return err
			},
		},
		{
			name: "cancel cancelled alert",
			run: func(t *testing.T, m *Manager, alertID string) error {
				if _, err := m.Cancel(ctx, alertID, models.AlertActionRequest{ActorID: "op", Reason: "false positive"}); err != nil {
					t.Fatalf("Cancel: %v", err)
				}
				_, err := m.Cancel(ctx, alertID, models.AlertActionRequest{ActorID: "op"})
				return err
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _, _ := newTestManager(t)
			alert := createPendingAlert(t, m)
			if err := tt.run(t, m, alert.ID); !errors.Is(err, models.ErrInvalidTransition) {
				t.Errorf("error = %v, want ErrInvalidTransition", err)
			}
		})
	}
}

func TestActionValidation(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()
	alert := createPendingAlert(t, m)

	if _, err := m.Acknowledge(ctx, alert.ID, models.AlertActionRequest{}); !errors.Is(err, models.ErrEmptyActor) {
		t.Errorf("Acknowledge without actor = %v, want ErrEmptyActor", err)
	}
	if _, err := m.Resolve(ctx, alert.ID, models.AlertActionRequest{ActorID: "op"}); !errors.Is(err, models.ErrEmptyResolution) {
		t.Errorf("Resolve without resolution = %v, want ErrEmptyResolution", err)
	}
	if _, err := m.Acknowledge(ctx, "alrt_missing", models.AlertActionRequest{ActorID: "op"}); !errors.Is(err, models.ErrAlertNotFound) {
		t.Errorf("missing alert = %v, want ErrAlertNotFound", err)
	}
}

func TestEscalationLevelOnlyIncreases(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()
	alert := createPendingAlert(t, m)

	first, err := m.RecordEscalation(ctx, alert.ID, 1)
	if err != nil {
		t.Fatalf("RecordEscalation: %v", err)
	}
	if first.Status != models.AlertStatusEscalated || first.EscalationLevel != 1 {
		t.Errorf("after level 1: status=%q level=%d", first.Status, first.EscalationLevel)
	}

	second, err := m.RecordEscalation(ctx, alert.ID, 2)
	if err != nil {
		t.Fatalf("RecordEscalation: %v", err)
	}
	if second.EscalationLevel != 2 {
		t.Errorf("level = %d, want 2", second.EscalationLevel)
	}

	// A stale tick cannot lower the level.
	stale, err := m.RecordEscalation(ctx, alert.ID, 1)
	if err != nil {
		t.Fatalf("RecordEscalation: %v", err)
	}
	if stale.EscalationLevel != 2 {
		t.Errorf("stale tick changed level to %d, want 2", stale.EscalationLevel)
	}
}

func TestMarkEscalationExhaustedFiresOnce(t *testing.T) {
	m, _, _, bus := newTestManager(t)
	ctx := context.Background()

	var exhausted int
	bus.Subscribe(func(_ context.Context, e models.Event) {
		if e.Type == models.EventEscalationExhausted {
			exhausted++
		}
	})

	// No escalation recorded first: a single-level protocol exhausts while the
	// alert is still pending, and the fail-safe must still force escalated.
	alert := createPendingAlert(t, m)
	if err := m.MarkEscalationExhausted(ctx, alert.ID); err != nil {
		t.Fatalf("MarkEscalationExhausted: %v", err)
	}
	if err := m.MarkEscalationExhausted(ctx, alert.ID); err != nil {
		t.Fatalf("MarkEscalationExhausted repeat: %v", err)
	}
	if exhausted != 1 {
		t.Errorf("exhausted events = %d, want exactly 1", exhausted)
	}

	got, err := m.Get(alert.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.AlertStatusEscalated {
		t.Errorf("status = %q, exhausted alert must be escalated for the operator", got.Status)
	}
	if got.Severity != models.SeverityEmergency {
		t.Errorf("severity = %q, want emergency after exhaustion", got.Severity)
	}
}

func TestListFilters(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	a1 := createPendingAlert(t, m)
	if _, err := m.Create(ctx, models.CreateAlertRequest{
		UserID: "user_2", Severity: models.SeverityHigh, Description: "manual check-in",
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Acknowledge(ctx, a1.ID, models.AlertActionRequest{ActorID: "op"}); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}

	all, err := m.List("", "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("List all = %d alerts, want 2", len(all))
	}

	byUser, err := m.List("user_2", "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(byUser) != 1 || byUser[0].UserID != "user_2" {
		t.Errorf("List user_2 = %+v, want one alert", byUser)
	}

	byStatus, err := m.List("", models.AlertStatusAcknowledged)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != a1.ID {
		t.Errorf("List acknowledged = %+v, want %s", byStatus, a1.ID)
	}
}

func TestMetrics(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	a1 := createPendingAlert(t, m)
	createPendingAlert(t, m)
	if _, err := m.Acknowledge(ctx, a1.ID, models.AlertActionRequest{ActorID: "op"}); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}

	metrics, err := m.Metrics()
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if metrics.TotalAlerts != 2 {
		t.Errorf("TotalAlerts = %d, want 2", metrics.TotalAlerts)
	}
	if metrics.ActiveAlerts != 2 {
		t.Errorf("ActiveAlerts = %d, want 2", metrics.ActiveAlerts)
	}
	if metrics.AlertsByStatus[models.AlertStatusAcknowledged] != 1 {
		t.Errorf("acknowledged count = %d, want 1", metrics.AlertsByStatus[models.AlertStatusAcknowledged])
	}
	if metrics.AlertsBySeverity[models.SeverityCritical] != 2 {
		t.Errorf("critical count = %d, want 2", metrics.AlertsBySeverity[models.SeverityCritical])
	}
	if metrics.AvgTimeToAcknowledgeMs < 0 {
		t.Errorf("AvgTimeToAcknowledgeMs = %v, want >= 0", metrics.AvgTimeToAcknowledgeMs)
	}
}

func TestEventBusOrderAndPanicIsolation(t *testing.T) {
	bus := NewEventBus()

	var order []string
	bus.Subscribe(func(_ context.Context, e models.Event) {
		order = append(order, "first")
	})
	bus.Subscribe(func(_ context.Context, e models.Event) {
		panic("subscriber bug")
	})
	bus.Subscribe(func(_ context.Context, e models.Event) {
		order = append(order, "third")
	})

	bus.Publish(context.Background(), models.Event{Type: models.EventAlertCreated, OccurredAt: time.Now()})

	if len(order) != 2 || order[0] != "first" || order[1] != "third" {
		t.Errorf("delivery order = %v, want [first third]", order)
	}
}
