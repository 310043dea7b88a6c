package escalation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mindmesh/sentinel/internal/models"
	"github.com/mindmesh/sentinel/internal/store"
)

// fakeRecorder captures level advances and exhaustion.
type fakeRecorder struct {
	mu        sync.Mutex
	levels    []int
	exhausted int
	alert     models.EmergencyAlert
}

func (r *fakeRecorder) RecordEscalation(_ context.Context, alertID string, level int) (*models.EmergencyAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levels = append(r.levels, level)
	r.alert.EscalationLevel = level
	r.alert.Status = models.AlertStatusEscalated
	snapshot := r.alert
	return &snapshot, nil
}

func (r *fakeRecorder) MarkEscalationExhausted(_ context.Context, alertID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exhausted++
	return nil
}

func (r *fakeRecorder) snapshot() ([]int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.levels...), r.exhausted
}

// fakeDispatcher records dispatches and reports success.
type fakeDispatcher struct {
	mu    sync.Mutex
	calls []string
}

func (d *fakeDispatcher) Dispatch(_ context.Context, alert models.EmergencyAlert, contact models.EmergencyContact, channel models.NotificationChannel, level int) (*models.EmergencyNotification, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, contact.ID+"/"+string(channel))
	return &models.EmergencyNotification{
		ID: "ntf_test", AlertID: alert.ID, ContactID: contact.ID,
		Channel: channel, Level: level, Status: models.NotificationStatusSent,
	}, nil
}

func (d *fakeDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *fakeDispatcher) callLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func fastProtocol() models.EscalationProtocol {
	return models.EscalationProtocol{
		Levels: []models.EscalationLevel{
			{Timeout: 40 * time.Millisecond, Channels: []models.NotificationChannel{models.ChannelSMS}},
			{Timeout: 40 * time.Millisecond, Channels: []models.NotificationChannel{models.ChannelSMS, models.ChannelWhatsApp}},
		},
	}
}

func testAlert(id string) models.EmergencyAlert {
	return models.EmergencyAlert{
		ID:        id,
		UserID:    "user_1",
		AlertType: models.AlertTypeCrisisDetection,
		Severity:  models.SeverityCritical,
		Status:    models.AlertStatusPending,
	}
}

func seedContact(t *testing.T, st store.Store, id string, availability models.AvailabilityMode) {
	t.Helper()
	err := st.SaveContact(models.EmergencyContact{
		ID: id, UserID: "user_1", Name: "Contact " + id,
		PhoneNumber:  "+15550001",
		Channels:     []models.NotificationChannel{models.ChannelSMS, models.ChannelWhatsApp},
		Availability: availability,
		Priority:     1,
	})
	if err != nil {
		t.Fatalf("SaveContact: %v", err)
	}
}

func newTestScheduler(t *testing.T, st store.Store, recorder *fakeRecorder, dispatcher Dispatcher, protocol models.EscalationProtocol) *Scheduler {
	t.Helper()
	s, err := NewScheduler(st, recorder, dispatcher, WithProtocol(protocol))
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Run(context.Background())
	t.Cleanup(s.Shutdown)
	return s
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSchedulerWalksLevelsToExhaustion(t *testing.T) {
	st := store.NewInMemoryStore()
	seedContact(t, st, "ct_1", models.AvailabilityAlways)
	recorder := &fakeRecorder{alert: testAlert("alrt_1")}
	dispatcher := &fakeDispatcher{}
	s := newTestScheduler(t, st, recorder, dispatcher, fastProtocol())

	s.Start(context.Background(), testAlert("alrt_1"))

	waitFor(t, 2*time.Second, func() bool {
		_, exhausted := recorder.snapshot()
		return exhausted == 1
	})

	levels, exhausted := recorder.snapshot()
	if len(levels) != 1 || levels[0] != 1 {
		t.Errorf("recorded levels = %v, want [1]", levels)
	}
	if exhausted != 1 {
		t.Errorf("exhausted = %d, want exactly 1", exhausted)
	}
	// Level 0 sends SMS, level 1 sends SMS and WhatsApp.
	if dispatcher.callCount() != 3 {
		t.Errorf("dispatch calls = %d, want 3", dispatcher.callCount())
	}
	if s.Running("alrt_1") {
		t.Error("runner still armed after exhaustion")
	}
}

func TestSchedulerNotifiesContactsInPriorityOrder(t *testing.T) {
	st := store.NewInMemoryStore()
	for i, id := range []string{"ct_backup", "ct_primary"} {
		err := st.SaveContact(models.EmergencyContact{
			ID: id, UserID: "user_1", Name: "Contact " + id,
			PhoneNumber:  "+15550001",
			Channels:     []models.NotificationChannel{models.ChannelSMS},
			Availability: models.AvailabilityAlways,
			Priority:     2 - i, // ct_backup gets 2, ct_primary gets 1
		})
		if err != nil {
			t.Fatalf("SaveContact: %v", err)
		}
	}
	recorder := &fakeRecorder{alert: testAlert("alrt_1")}
	dispatcher := &fakeDispatcher{}
	protocol := models.EscalationProtocol{
		Levels: []models.EscalationLevel{
			{Timeout: 120 * time.Millisecond, Channels: []models.NotificationChannel{models.ChannelSMS}},
		},
	}
	s := newTestScheduler(t, st, recorder, dispatcher, protocol)

	s.Start(context.Background(), testAlert("alrt_1"))

	// The primary contact is notified alone first and gets the full level
	// window to acknowledge before the backup is pulled in.
	waitFor(t, time.Second, func() bool { return dispatcher.callCount() == 1 })
	if calls := dispatcher.callLog(); calls[0] != "ct_primary/sms" {
		t.Errorf("first dispatch = %q, want ct_primary/sms", calls[0])
	}
	if got := dispatcher.callCount(); got != 1 {
		t.Errorf("dispatch calls before level timeout = %d, want 1", got)
	}

	waitFor(t, time.Second, func() bool { return dispatcher.callCount() == 2 })
	if calls := dispatcher.callLog(); calls[1] != "ct_backup/sms" {
		t.Errorf("second dispatch = %q, want ct_backup/sms", calls[1])
	}
}

func TestSchedulerStopCancelsBeforeNextLevel(t *testing.T) {
	st := store.NewInMemoryStore()
	seedContact(t, st, "ct_1", models.AvailabilityAlways)
	recorder := &fakeRecorder{alert: testAlert("alrt_1")}
	dispatcher := &fakeDispatcher{}
	protocol := models.EscalationProtocol{
		Levels: []models.EscalationLevel{
			{Timeout: 500 * time.Millisecond, Channels: []models.NotificationChannel{models.ChannelSMS}},
			{Timeout: 500 * time.Millisecond, Channels: []models.NotificationChannel{models.ChannelSMS}},
		},
	}
	s := newTestScheduler(t, st, recorder, dispatcher, protocol)

	s.Start(context.Background(), testAlert("alrt_1"))
	waitFor(t, time.Second, func() bool { return dispatcher.callCount() == 1 })

	// Acknowledgement path: the manager stops the runner inside level 0.
	s.Stop("alrt_1")
	time.Sleep(700 * time.Millisecond)

	levels, exhausted := recorder.snapshot()
	if len(levels) != 0 {
		t.Errorf("levels recorded after stop = %v, want none", levels)
	}
	if exhausted != 0 {
		t.Errorf("exhausted = %d, want 0 after stop", exhausted)
	}
	if dispatcher.callCount() != 1 {
		t.Errorf("dispatch calls = %d, want 1 (no sends after cancellation)", dispatcher.callCount())
	}
}

func TestSchedulerAllContactsUnreachable(t *testing.T) {
	st := store.NewInMemoryStore()
	// Scheduled contact whose window never matches a zero-length schedule day.
	err := st.SaveContact(models.EmergencyContact{
		ID: "ct_1", UserID: "user_1", Name: "Night nurse",
		PhoneNumber:  "+15550001",
		Channels:     []models.NotificationChannel{models.ChannelSMS},
		Availability: models.AvailabilityScheduled,
		Schedule:     []models.AvailabilityWindow{{Day: time.Monday, Start: 0, End: 1}},
		Priority:     1,
	})
	if err != nil {
		t.Fatalf("SaveContact: %v", err)
	}

	recorder := &fakeRecorder{alert: testAlert("alrt_1")}
	dispatcher := &fakeDispatcher{}
	// Pin the clock outside the contact's one-minute Monday window.
	clock := func() time.Time { return time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC) } // a Tuesday
	s, err := NewScheduler(st, recorder, dispatcher, WithProtocol(fastProtocol()), WithClock(clock))
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Run(context.Background())
	defer s.Shutdown()

	s.Start(context.Background(), testAlert("alrt_1"))
	waitFor(t, 2*time.Second, func() bool {
		_, exhausted := recorder.snapshot()
		return exhausted == 1
	})

	if dispatcher.callCount() != 0 {
		t.Errorf("dispatch calls = %d, want 0 for unreachable contact", dispatcher.callCount())
	}
}

func TestSchedulerRetriesFailedDeliveries(t *testing.T) {
	st := store.NewInMemoryStore()
	seedContact(t, st, "ct_1", models.AvailabilityAlways)
	recorder := &fakeRecorder{alert: testAlert("alrt_1")}
	dispatcher := &failOnceDispatcher{}
	protocol := models.EscalationProtocol{
		Levels: []models.EscalationLevel{
			{Timeout: 200 * time.Millisecond, RetryInterval: 40 * time.Millisecond, Channels: []models.NotificationChannel{models.ChannelSMS}},
		},
	}
	s := newTestScheduler(t, st, recorder, dispatcher, protocol)

	s.Start(context.Background(), testAlert("alrt_1"))
	waitFor(t, 2*time.Second, func() bool {
		_, exhausted := recorder.snapshot()
		return exhausted == 1
	})

	if got := dispatcher.callCount(); got < 2 {
		t.Errorf("dispatch calls = %d, want a retry after the failed delivery", got)
	}
}

// failOnceDispatcher fails the first dispatch, then succeeds.
type failOnceDispatcher struct {
	mu    sync.Mutex
	calls int
}

func (d *failOnceDispatcher) Dispatch(_ context.Context, alert models.EmergencyAlert, contact models.EmergencyContact, channel models.NotificationChannel, level int) (*models.EmergencyNotification, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	status := models.NotificationStatusSent
	if d.calls == 1 {
		status = models.NotificationStatusFailed
	}
	return &models.EmergencyNotification{
		ID: "ntf_test", AlertID: alert.ID, ContactID: contact.ID,
		Channel: channel, Level: level, Status: status,
	}, nil
}

func (d *failOnceDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func TestRecoverActiveAlerts(t *testing.T) {
	st := store.NewInMemoryStore()
	seedContact(t, st, "ct_1", models.AvailabilityAlways)

	pending := testAlert("alrt_pending")
	acked := testAlert("alrt_acked")
	acked.Status = models.AlertStatusAcknowledged
	resolved := testAlert("alrt_resolved")
	resolved.Status = models.AlertStatusResolved
	for _, a := range []models.EmergencyAlert{pending, acked, resolved} {
		if err := st.SaveAlert(a); err != nil {
			t.Fatalf("SaveAlert: %v", err)
		}
	}

	recorder := &fakeRecorder{alert: pending}
	dispatcher := &fakeDispatcher{}
	protocol := models.EscalationProtocol{
		Levels: []models.EscalationLevel{
			{Timeout: time.Minute, Channels: []models.NotificationChannel{models.ChannelSMS}},
		},
	}
	s := newTestScheduler(t, st, recorder, dispatcher, protocol)

	if err := s.RecoverActiveAlerts(context.Background()); err != nil {
		t.Fatalf("RecoverActiveAlerts: %v", err)
	}
	waitFor(t, time.Second, func() bool { return dispatcher.callCount() == 1 })

	if !s.Running("alrt_pending") {
		t.Error("pending alert not re-armed")
	}
	if s.Running("alrt_acked") {
		t.Error("acknowledged alert must not be re-armed")
	}
	if s.Running("alrt_resolved") {
		t.Error("resolved alert must not be re-armed")
	}
}
