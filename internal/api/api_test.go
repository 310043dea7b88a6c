package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mindmesh/sentinel/internal/alert"
	"github.com/mindmesh/sentinel/internal/detection"
	"github.com/mindmesh/sentinel/internal/models"
	"github.com/mindmesh/sentinel/internal/notify"
	"github.com/mindmesh/sentinel/internal/store"
	"github.com/mindmesh/sentinel/internal/twiliosms"
)

func newTestServer(t *testing.T) (*Server, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	bus := alert.NewEventBus()
	manager := alert.NewManager(st, bus)

	detector, err := detection.NewDetector(st)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	pool := detection.NewPool(detector)

	registry := notify.NewRegistry()
	registry.Register(notify.NewSMSChannel(twiliosms.NewMockClient()))
	dispatcher := notify.NewDispatcher(st, registry, bus)

	return NewServer(detector, pool, manager, dispatcher, bus, st), st
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, models.APIResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var resp models.APIResponse
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, resp
}

func TestAnalyzeCreatesAlertForCriticalMessage(t *testing.T) {
	s, st := newTestServer(t)
	handler := s.Handler()

	rec, resp := doJSON(t, handler, http.MethodPost, "/analyze", models.AnalyzeRequest{
		MessageID: "msg_1",
		UserID:    "user_1",
		Content:   "I am going to kill myself tonight",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	if resp.Status != string(models.APIStatusOK) {
		t.Fatalf("response status = %q, want ok", resp.Status)
	}

	alerts, err := st.ListActiveAlerts()
	if err != nil {
		t.Fatalf("ListActiveAlerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("active alerts = %d, want 1 auto-created alert", len(alerts))
	}
	if alerts[0].Severity != models.SeverityCritical {
		t.Errorf("severity = %q, want critical", alerts[0].Severity)
	}
	if alerts[0].AlertType != models.AlertTypeCrisisDetection {
		t.Errorf("alert type = %q, want crisis_detection", alerts[0].AlertType)
	}
}

func TestAnalyzeNoDetection(t *testing.T) {
	s, st := newTestServer(t)

	rec, resp := doJSON(t, s.Handler(), http.MethodPost, "/analyze", models.AnalyzeRequest{
		MessageID: "msg_1",
		UserID:    "user_1",
		Content:   "lovely weather for a walk today",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp.Status != string(models.APIStatusNoDetection) {
		t.Errorf("response status = %q, want no_detection", resp.Status)
	}

	alerts, _ := st.ListActiveAlerts()
	if len(alerts) != 0 {
		t.Errorf("active alerts = %d, want none", len(alerts))
	}
}

func TestAnalyzeValidationAndMethod(t *testing.T) {
	s, _ := newTestServer(t)
	handler := s.Handler()

	rec, _ := doJSON(t, handler, http.MethodPost, "/analyze", models.AnalyzeRequest{UserID: "user_1"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid request status = %d, want 400", rec.Code)
	}

	rec, _ = doJSON(t, handler, http.MethodGet, "/analyze", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", rec.Code)
	}
}

func TestAlertLifecycleEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	handler := s.Handler()

	rec, resp := doJSON(t, handler, http.MethodPost, "/alerts", models.CreateAlertRequest{
		UserID:      "user_1",
		Severity:    models.SeverityHigh,
		Description: "operator-raised safety check",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d (%s)", rec.Code, rec.Body.String())
	}
	raw, _ := json.Marshal(resp.Result)
	var created models.EmergencyAlert
	if err := json.Unmarshal(raw, &created); err != nil {
		t.Fatalf("decode created alert: %v", err)
	}

	rec, _ = doJSON(t, handler, http.MethodGet, "/alerts/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get status = %d, want 200", rec.Code)
	}

	rec, _ = doJSON(t, handler, http.MethodPost, "/alerts/"+created.ID+"/acknowledge", models.AlertActionRequest{ActorID: "op_1"})
	if rec.Code != http.StatusOK {
		t.Errorf("acknowledge status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}

	rec, _ = doJSON(t, handler, http.MethodPost, "/alerts/"+created.ID+"/progress", models.AlertActionRequest{ActorID: "op_1"})
	if rec.Code != http.StatusOK {
		t.Errorf("progress status = %d, want 200", rec.Code)
	}
	rec, _ = doJSON(t, handler, http.MethodPost, "/alerts/"+created.ID+"/resolve", models.AlertActionRequest{ActorID: "op_1", Resolution: "user safe"})
	if rec.Code != http.StatusOK {
		t.Errorf("resolve status = %d, want 200", rec.Code)
	}

	// Resolving a resolved alert violates the state machine.
	rec, _ = doJSON(t, handler, http.MethodPost, "/alerts/"+created.ID+"/resolve", models.AlertActionRequest{ActorID: "op_1", Resolution: "again"})
	if rec.Code != http.StatusConflict {
		t.Errorf("invalid transition status = %d, want 409", rec.Code)
	}

	rec, _ = doJSON(t, handler, http.MethodPost, "/alerts/alrt_missing/acknowledge", models.AlertActionRequest{ActorID: "op_1"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing alert status = %d, want 404", rec.Code)
	}
}

func TestContactEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	handler := s.Handler()

	contact := models.EmergencyContact{
		UserID:       "user_1",
		Name:         "Casey",
		PhoneNumber:  "+15550001",
		Channels:     []models.NotificationChannel{models.ChannelSMS},
		Availability: models.AvailabilityAlways,
		Priority:     1,
	}
	rec, resp := doJSON(t, handler, http.MethodPost, "/contacts", contact)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d (%s)", rec.Code, rec.Body.String())
	}
	raw, _ := json.Marshal(resp.Result)
	var created models.EmergencyContact
	if err := json.Unmarshal(raw, &created); err != nil {
		t.Fatalf("decode created contact: %v", err)
	}
	if created.ID == "" {
		t.Error("contact ID not generated")
	}

	// Missing channel address is rejected.
	bad := contact
	bad.PhoneNumber = ""
	rec, _ = doJSON(t, handler, http.MethodPost, "/contacts", bad)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid contact status = %d, want 400", rec.Code)
	}

	rec, _ = doJSON(t, handler, http.MethodGet, "/contacts?user_id=user_1", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("list status = %d, want 200", rec.Code)
	}
	rec, _ = doJSON(t, handler, http.MethodGet, "/contacts", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("list without user_id status = %d, want 400", rec.Code)
	}

	created.Name = "Casey Updated"
	rec, _ = doJSON(t, handler, http.MethodPut, "/contacts/"+created.ID, created)
	if rec.Code != http.StatusOK {
		t.Errorf("update status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}

	rec, _ = doJSON(t, handler, http.MethodDelete, "/contacts/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("delete status = %d, want 200", rec.Code)
	}
	rec, _ = doJSON(t, handler, http.MethodGet, "/contacts/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get deleted status = %d, want 404", rec.Code)
	}
}

func TestConfigEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	handler := s.Handler()

	rec, resp := doJSON(t, handler, http.MethodGet, "/config", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get config status = %d", rec.Code)
	}
	raw, _ := json.Marshal(resp.Result)
	var cfg models.DetectionConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		t.Fatalf("decode config: %v", err)
	}

	cfg.EscalationThreshold = 0.8
	rec, _ = doJSON(t, handler, http.MethodPut, "/config", cfg)
	if rec.Code != http.StatusOK {
		t.Errorf("put config status = %d (%s)", rec.Code, rec.Body.String())
	}
	if got := s.detector.Config().EscalationThreshold; got != 0.8 {
		t.Errorf("escalation threshold = %v, want 0.8", got)
	}

	cfg.ConfidenceThreshold = 2
	rec, _ = doJSON(t, handler, http.MethodPut, "/config", cfg)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid config status = %d, want 400", rec.Code)
	}
}

func TestMetricsAndHealthEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	handler := s.Handler()

	for i := 0; i < 2; i++ {
		rec, _ := doJSON(t, handler, http.MethodPost, "/alerts", models.CreateAlertRequest{
			UserID:      fmt.Sprintf("user_%d", i),
			Severity:    models.SeverityHigh,
			Description: "check-in",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("create status = %d", rec.Code)
		}
	}

	rec, resp := doJSON(t, handler, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	raw, _ := json.Marshal(resp.Result)
	var metrics models.AlertMetrics
	if err := json.Unmarshal(raw, &metrics); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if metrics.TotalAlerts != 2 {
		t.Errorf("TotalAlerts = %d, want 2", metrics.TotalAlerts)
	}

	rec, _ = doJSON(t, handler, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}
