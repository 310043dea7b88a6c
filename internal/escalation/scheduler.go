// Package escalation drives the timed escalation timeline of active alerts.
// Each active alert gets one runner goroutine that walks the escalation
// protocol level by level, notifying reachable contacts and advancing when a
// level's timeout passes without acknowledgement.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mindmesh/sentinel/internal/contacts"
	"github.com/mindmesh/sentinel/internal/models"
	"github.com/mindmesh/sentinel/internal/store"
)

// Dispatcher sends one notification to one contact over one channel. The
// returned notification reflects the final delivery state after retries.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert models.EmergencyAlert, contact models.EmergencyContact, channel models.NotificationChannel, level int) (*models.EmergencyNotification, error)
}

// AlertRecorder is the slice of the alert manager the scheduler needs to
// record level advances and exhaustion.
type AlertRecorder interface {
	RecordEscalation(ctx context.Context, alertID string, level int) (*models.EmergencyAlert, error)
	MarkEscalationExhausted(ctx context.Context, alertID string) error
}

// Opts holds configuration options for the Scheduler.
type Opts struct {
	Protocol models.EscalationProtocol
	Now      func() time.Time
}

// Option defines a configuration option for the Scheduler.
type Option func(*Opts)

// WithProtocol sets the escalation protocol.
func WithProtocol(p models.EscalationProtocol) Option {
	return func(o *Opts) { o.Protocol = p }
}

// WithClock injects a clock for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Scheduler owns one runner goroutine per active alert. Stop cancels the
// runner's context; the runner checks it before every side effect, so a
// cancelled escalation never sends another notification.
type Scheduler struct {
	store      store.Store
	recorder   AlertRecorder
	dispatcher Dispatcher
	protocol   models.EscalationProtocol
	now        func() time.Time

	mu      sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
	runners map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler. The protocol defaults to the built-in
// three-level protocol.
func NewScheduler(st store.Store, recorder AlertRecorder, dispatcher Dispatcher, opts ...Option) (*Scheduler, error) {
	cfg := Opts{
		Protocol: models.DefaultEscalationProtocol(),
		Now:      time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Protocol.Validate(); err != nil {
		return nil, fmt.Errorf("invalid escalation protocol: %w", err)
	}
	return &Scheduler{
		store:      st,
		recorder:   recorder,
		dispatcher: dispatcher,
		protocol:   cfg.Protocol,
		now:        cfg.Now,
		runners:    make(map[string]context.CancelFunc),
	}, nil
}

// Run anchors the scheduler to a base context. Runners started afterwards
// stop when this context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseCtx != nil {
		return
	}
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	slog.Debug("Scheduler running", "levels", len(s.protocol.Levels))
}

// Start arms the escalation timeline for an alert, beginning at its current
// escalation level. Starting an already-armed alert is a no-op.
func (s *Scheduler) Start(_ context.Context, alert models.EmergencyAlert) {
	s.mu.Lock()
	if s.baseCtx == nil {
		s.baseCtx, s.cancel = context.WithCancel(context.Background())
	}
	if _, running := s.runners[alert.ID]; running {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.runners[alert.ID] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	slog.Info("Scheduler armed escalation", "alertID", alert.ID, "userID", alert.UserID, "startLevel", alert.EscalationLevel)
	go s.run(ctx, alert)
}

// Stop cancels the runner for an alert. Safe to call for alerts that were
// never armed.
func (s *Scheduler) Stop(alertID string) {
	s.mu.Lock()
	cancel, ok := s.runners[alertID]
	if ok {
		delete(s.runners, alertID)
	}
	s.mu.Unlock()
	if ok {
		cancel()
		slog.Debug("Scheduler stopped escalation", "alertID", alertID)
	}
}

// Shutdown cancels every runner and waits for them to exit.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	cancel := s.cancel
	s.runners = make(map[string]context.CancelFunc)
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	slog.Debug("Scheduler shut down")
}

// Running reports whether an alert currently has an armed runner.
func (s *Scheduler) Running(alertID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runners[alertID]
	return ok
}

// run walks the protocol levels for one alert until acknowledgement cancels
// the context or the protocol is exhausted.
func (s *Scheduler) run(ctx context.Context, alert models.EmergencyAlert) {
	defer s.wg.Done()
	defer s.Stop(alert.ID)

	// Delivery state per contact+channel+level. Pairs are attempted one at a
	// time in priority order; failed deliveries stay eligible for one retry.
	notified := make(map[string]*deliveryState)
	totalSent := 0

	startLevel := alert.EscalationLevel
	if startLevel >= len(s.protocol.Levels) {
		startLevel = len(s.protocol.Levels) - 1
	}

	for levelIdx := startLevel; levelIdx < len(s.protocol.Levels); levelIdx++ {
		if ctx.Err() != nil {
			return
		}
		level := s.protocol.Levels[levelIdx]

		if levelIdx > alert.EscalationLevel {
			updated, err := s.recorder.RecordEscalation(ctx, alert.ID, levelIdx)
			if err != nil {
				slog.Error("Scheduler failed to record escalation", "error", err, "alertID", alert.ID, "level", levelIdx)
				return
			}
			alert = *updated
		}

		if !s.runLevel(ctx, alert, level, levelIdx, notified, &totalSent) {
			return
		}
	}

	if ctx.Err() != nil {
		return
	}
	if totalSent == 0 {
		slog.Error("Scheduler exhausted protocol with no contact reached", "alertID", alert.ID, "userID", alert.UserID)
	}
	if err := s.recorder.MarkEscalationExhausted(ctx, alert.ID); err != nil {
		slog.Error("Scheduler failed to mark exhaustion", "error", err, "alertID", alert.ID)
	}
}

// deliveryState tracks one contact+channel pair within a level.
type deliveryState struct {
	status   models.NotificationStatus
	attempts int
}

// dispatchTarget is the next contact+channel pair to notify.
type dispatchTarget struct {
	contact models.EmergencyContact
	channel models.NotificationChannel
	key     string
}

// runLevel notifies one eligible contact per tick, in priority order,
// rearming the level timeout after every dispatch so each notified contact
// gets the full window to acknowledge before the next one is pulled in. The
// level ends when no eligible contact remains. Returns false when the runner
// context was cancelled.
func (s *Scheduler) runLevel(ctx context.Context, alert models.EmergencyAlert, level models.EscalationLevel, levelIdx int, notified map[string]*deliveryState, totalSent *int) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		target := s.nextEligible(alert, level, levelIdx, notified)
		if target == nil {
			return true
		}

		state, ok := notified[target.key]
		if !ok {
			state = &deliveryState{}
			notified[target.key] = state
		}
		state.attempts++

		notification, err := s.dispatcher.Dispatch(ctx, alert, target.contact, target.channel, levelIdx)
		if err != nil {
			slog.Error("Scheduler dispatch failed", "error", err, "alertID", alert.ID, "contactID", target.contact.ID, "channel", target.channel)
			state.status = models.NotificationStatusFailed
		} else {
			state.status = notification.Status
			if notification.Status != models.NotificationStatusFailed {
				*totalSent++
			}
		}

		// A failed delivery reached nobody; move to the next contact after
		// the shorter retry pause instead of a full acknowledgment window.
		wait := level.Timeout
		if state.status == models.NotificationStatusFailed && level.RetryInterval > 0 && level.RetryInterval < level.Timeout {
			wait = level.RetryInterval
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

// nextEligible returns the highest-priority contact+channel pair that is
// reachable now and not yet notified at this level. Pairs whose delivery
// failed are retried once before the level gives up on them. Contacts come
// back from the store in escalation priority order.
func (s *Scheduler) nextEligible(alert models.EmergencyAlert, level models.EscalationLevel, levelIdx int, notified map[string]*deliveryState) *dispatchTarget {
	contactList, err := s.store.ListContacts(alert.UserID)
	if err != nil {
		slog.Error("Scheduler failed to list contacts", "error", err, "alertID", alert.ID, "userID", alert.UserID)
		return nil
	}
	if len(contactList) == 0 {
		slog.Warn("Scheduler found no emergency contacts", "alertID", alert.ID, "userID", alert.UserID)
		return nil
	}

	now := s.now()
	for _, contact := range contactList {
		if !contacts.Reachable(contact, alert.Severity, now) {
			slog.Debug("Scheduler skipping unreachable contact", "alertID", alert.ID, "contactID", contact.ID)
			continue
		}
		for _, channel := range level.Channels {
			if !contactSupportsChannel(contact, channel) {
				continue
			}
			key := fmt.Sprintf("%s|%s|%d", contact.ID, channel, levelIdx)
			state, ok := notified[key]
			if ok && (state.status != models.NotificationStatusFailed || state.attempts >= 2) {
				continue
			}
			return &dispatchTarget{contact: contact, channel: channel, key: key}
		}
	}
	return nil
}

func contactSupportsChannel(contact models.EmergencyContact, channel models.NotificationChannel) bool {
	for _, c := range contact.Channels {
		if c == channel {
			return true
		}
	}
	return false
}
