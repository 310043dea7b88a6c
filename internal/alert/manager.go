package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mindmesh/sentinel/internal/models"
	"github.com/mindmesh/sentinel/internal/store"
	"github.com/mindmesh/sentinel/internal/util"
)

// EscalationController is the manager's hook into the escalation scheduler.
// The manager tells it when an alert needs a running escalation and when the
// alert reached a state that makes escalation moot.
type EscalationController interface {
	// Start arms the escalation timeline for an active alert.
	Start(ctx context.Context, alert models.EmergencyAlert)
	// Stop cancels any running escalation for the alert.
	Stop(alertID string)
}

// allowedTransitions is the alert status state machine. Terminal states have
// no entry.
var allowedTransitions = map[models.AlertStatus][]models.AlertStatus{
	models.AlertStatusPending:      {models.AlertStatusAcknowledged, models.AlertStatusEscalated, models.AlertStatusCancelled},
	models.AlertStatusAcknowledged: {models.AlertStatusInProgress, models.AlertStatusResolved, models.AlertStatusEscalated, models.AlertStatusCancelled},
	models.AlertStatusInProgress:   {models.AlertStatusResolved, models.AlertStatusCancelled},
	models.AlertStatusEscalated:    {models.AlertStatusAcknowledged, models.AlertStatusResolved, models.AlertStatusCancelled},
}

func transitionAllowed(from, to models.AlertStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Opts holds configuration options for the Manager.
type Opts struct {
	Now func() time.Time
}

// Option defines a configuration option for the Manager.
type Option func(*Opts)

// WithClock injects a clock for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Manager owns every alert mutation. All writes go through a per-alert lock,
// so concurrent operator actions and escalation ticks serialize per alert and
// never interleave across the read-modify-write.
type Manager struct {
	store      store.Store
	bus        *EventBus
	escalation EscalationController
	now        func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates an alert Manager over the given store and event bus.
func NewManager(st store.Store, bus *EventBus, opts ...Option) *Manager {
	cfg := Opts{Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Manager{
		store: st,
		bus:   bus,
		now:   cfg.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

// SetEscalationController wires in the escalation scheduler. The scheduler
// needs the manager to record escalations, so this is set after construction.
func (m *Manager) SetEscalationController(esc EscalationController) {
	m.escalation = esc
}

// lockFor returns the mutex serializing mutations for one alert ID.
func (m *Manager) lockFor(alertID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[alertID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[alertID] = l
	}
	return l
}

// releaseLock drops the per-alert mutex once the alert is terminal.
func (m *Manager) releaseLock(alertID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, alertID)
}

// Create opens a new alert in pending status and arms its escalation.
func (m *Manager) Create(ctx context.Context, req models.CreateAlertRequest) (*models.EmergencyAlert, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	alertType := req.AlertType
	if alertType == "" {
		alertType = models.AlertTypeManual
	}

	now := m.now()
	alert := models.EmergencyAlert{
		ID:             util.GenerateAlertID(),
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
		DetectionID:    req.DetectionID,
		AlertType:      alertType,
		Severity:       req.Severity,
		Title:          req.Title,
		Description:    req.Description,
		Context:        req.Context,
		Status:         models.AlertStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.store.SaveAlert(alert); err != nil {
		return nil, fmt.Errorf("failed to save alert: %w", err)
	}

	slog.Info("Manager.Create alert opened", "alertID", alert.ID, "userID", alert.UserID, "severity", alert.Severity, "type", alert.AlertType)
	m.publish(ctx, models.EventAlertCreated, &alert, nil)

	if m.escalation != nil {
		m.escalation.Start(ctx, alert)
	}
	return &alert, nil
}

// CreateFromDetection opens an alert for a detection whose confidence crossed
// the escalation threshold. Detection risk maps onto alert severity directly.
func (m *Manager) CreateFromDetection(ctx context.Context, det models.CrisisDetectionResult) (*models.EmergencyAlert, error) {
	severity := models.SeverityHigh
	if det.RiskLevel == models.RiskLevelCritical {
		severity = models.SeverityCritical
	}
	ctxMap := map[string]string{
		"confidence": fmt.Sprintf("%.3f", det.Confidence),
		"risk_level": string(det.RiskLevel),
	}
	description := "crisis language detected"
	if len(det.Categories) > 0 {
		description = fmt.Sprintf("crisis language detected (%s)", det.Categories[0])
	}
	return m.Create(ctx, models.CreateAlertRequest{
		UserID:         det.UserID,
		ConversationID: det.ConversationID,
		MessageID:      det.MessageID,
		DetectionID:    det.ID,
		AlertType:      models.AlertTypeCrisisDetection,
		Severity:       severity,
		Description:    description,
		Context:        ctxMap,
	})
}

// Get returns one alert with its notifications attached.
func (m *Manager) Get(alertID string) (*models.EmergencyAlert, error) {
	alert, err := m.store.GetAlert(alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to load alert: %w", err)
	}
	if alert == nil {
		return nil, models.ErrAlertNotFound
	}
	notifications, err := m.store.ListNotifications(alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to load notifications: %w", err)
	}
	alert.Notifications = notifications
	return alert, nil
}

// List returns alerts, newest first, optionally filtered by user and status.
func (m *Manager) List(userID string, status models.AlertStatus) ([]models.EmergencyAlert, error) {
	alerts, err := m.store.ListAlerts()
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	if userID == "" && status == "" {
		return alerts, nil
	}
	out := make([]models.EmergencyAlert, 0, len(alerts))
	for _, a := range alerts {
		if userID != "" && a.UserID != userID {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Acknowledge moves a pending or escalated alert to acknowledged and stops
// its escalation.
func (m *Manager) Acknowledge(ctx context.Context, alertID string, req models.AlertActionRequest) (*models.EmergencyAlert, error) {
	if req.ActorID == "" {
		return nil, models.ErrEmptyActor
	}
	return m.transition(ctx, alertID, models.AlertStatusAcknowledged, models.EventAlertAcknowledged, func(alert *models.EmergencyAlert, now time.Time) {
		alert.AcknowledgedAt = &now
		alert.AcknowledgedBy = req.ActorID
		if req.Notes != "" {
			if alert.Context == nil {
				alert.Context = make(map[string]string)
			}
			alert.Context["acknowledge_notes"] = req.Notes
		}
	})
}

// StartProgress moves an acknowledged alert to in_progress.
func (m *Manager) StartProgress(ctx context.Context, alertID string, req models.AlertActionRequest) (*models.EmergencyAlert, error) {
	if req.ActorID == "" {
		return nil, models.ErrEmptyActor
	}
	return m.transition(ctx, alertID, models.AlertStatusInProgress, models.EventAlertInProgress, nil)
}

// Resolve closes an alert with a resolution note.
func (m *Manager) Resolve(ctx context.Context, alertID string, req models.AlertActionRequest) (*models.EmergencyAlert, error) {
	if req.ActorID == "" {
		return nil, models.ErrEmptyActor
	}
	if req.Resolution == "" {
		return nil, models.ErrEmptyResolution
	}
	return m.transition(ctx, alertID, models.AlertStatusResolved, models.EventAlertResolved, func(alert *models.EmergencyAlert, now time.Time) {
		alert.ResolvedAt = &now
		alert.ResolvedBy = req.ActorID
		alert.Resolution = req.Resolution
	})
}

// Cancel closes an alert as a false positive or operator decision.
func (m *Manager) Cancel(ctx context.Context, alertID string, req models.AlertActionRequest) (*models.EmergencyAlert, error) {
	if req.ActorID == "" {
		return nil, models.ErrEmptyActor
	}
	return m.transition(ctx, alertID, models.AlertStatusCancelled, models.EventAlertCancelled, func(alert *models.EmergencyAlert, now time.Time) {
		alert.CancelReason = req.Reason
		alert.ResolvedBy = req.ActorID
	})
}

// Escalate records an operator-requested escalation.
func (m *Manager) Escalate(ctx context.Context, alertID string, req models.AlertActionRequest) (*models.EmergencyAlert, error) {
	if req.ActorID == "" {
		return nil, models.ErrEmptyActor
	}
	return m.transition(ctx, alertID, models.AlertStatusEscalated, models.EventAlertEscalated, func(alert *models.EmergencyAlert, now time.Time) {
		alert.EscalationLevel++
		if req.Reason != "" {
			if alert.Context == nil {
				alert.Context = make(map[string]string)
			}
			alert.Context["escalation_reason"] = req.Reason
		}
	})
}

// RecordEscalation is called by the escalation scheduler when a level timeout
// fires. The escalation level only ever increases.
func (m *Manager) RecordEscalation(ctx context.Context, alertID string, level int) (*models.EmergencyAlert, error) {
	return m.transition(ctx, alertID, models.AlertStatusEscalated, models.EventAlertEscalated, func(alert *models.EmergencyAlert, now time.Time) {
		if level > alert.EscalationLevel {
			alert.EscalationLevel = level
		}
	})
}

// MarkEscalationExhausted records that every escalation level ran out without
// acknowledgement. This is the fail-safe: the alert is forced into escalated
// status with emergency severity so the surrounding system engages emergency
// services directly. The exhaustion event fires at most once per alert.
func (m *Manager) MarkEscalationExhausted(ctx context.Context, alertID string) error {
	lock := m.lockFor(alertID)
	lock.Lock()
	defer lock.Unlock()

	alert, err := m.store.GetAlert(alertID)
	if err != nil {
		return fmt.Errorf("failed to load alert: %w", err)
	}
	if alert == nil {
		return models.ErrAlertNotFound
	}
	if alert.Status.IsTerminal() {
		return nil
	}
	if alert.Context != nil && alert.Context["escalation_exhausted"] == "true" {
		return nil
	}
	if alert.Context == nil {
		alert.Context = make(map[string]string)
	}
	alert.Context["escalation_exhausted"] = "true"
	alert.Status = models.AlertStatusEscalated
	alert.Severity = models.SeverityEmergency
	alert.UpdatedAt = m.now()
	if err := m.store.SaveAlert(*alert); err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	slog.Warn("Manager escalation exhausted, awaiting operator", "alertID", alertID, "userID", alert.UserID)
	m.publish(ctx, models.EventEscalationExhausted, alert, nil)
	return nil
}

// transition performs one locked read-modify-write of the alert status.
// mutate runs after the status check and before persistence.
func (m *Manager) transition(ctx context.Context, alertID string, to models.AlertStatus, eventType models.EventType, mutate func(*models.EmergencyAlert, time.Time)) (*models.EmergencyAlert, error) {
	lock := m.lockFor(alertID)
	lock.Lock()
	defer lock.Unlock()

	alert, err := m.store.GetAlert(alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to load alert: %w", err)
	}
	if alert == nil {
		return nil, models.ErrAlertNotFound
	}
	if alert.Status == to && to == models.AlertStatusEscalated {
		// Repeated escalation ticks stay in escalated and only raise the level.
	} else if !transitionAllowed(alert.Status, to) {
		slog.Warn("Manager.transition rejected", "alertID", alertID, "from", alert.Status, "to", to)
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, alert.Status, to)
	}

	now := m.now()
	from := alert.Status
	alert.Status = to
	alert.UpdatedAt = now
	if mutate != nil {
		mutate(alert, now)
	}
	if err := m.store.SaveAlert(*alert); err != nil {
		return nil, fmt.Errorf("failed to save alert: %w", err)
	}
	slog.Info("Manager.transition applied", "alertID", alertID, "from", from, "to", to, "level", alert.EscalationLevel)

	if to.IsTerminal() || to == models.AlertStatusAcknowledged {
		if m.escalation != nil {
			m.escalation.Stop(alertID)
		}
	}
	if to.IsTerminal() {
		m.releaseLock(alertID)
	}

	m.publish(ctx, eventType, alert, nil)
	return alert, nil
}

func (m *Manager) publish(ctx context.Context, eventType models.EventType, alert *models.EmergencyAlert, notification *models.EmergencyNotification) {
	if m.bus == nil {
		return
	}
	event := models.Event{
		Type:       eventType,
		OccurredAt: m.now(),
	}
	if alert != nil {
		snapshot := *alert
		event.AlertID = alert.ID
		event.UserID = alert.UserID
		event.Alert = &snapshot
	}
	if notification != nil {
		n := *notification
		event.Notification = &n
	}
	m.bus.Publish(ctx, event)
}
