// Package api provides HTTP handlers for sentinel endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mindmesh/sentinel/internal/models"
	"github.com/mindmesh/sentinel/internal/util"
)

// timeNow is swapped out in tests.
var timeNow = time.Now

func (s *Server) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.analyzeHandler: processing analyze request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.analyzeHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	if r.URL.Query().Get("async") == "true" {
		err := s.pool.Submit(req, func(ctx context.Context, result *models.CrisisDetectionResult) {
			s.handleDetection(ctx, result)
		})
		switch {
		case errors.Is(err, models.ErrAnalysisQueueFull):
			writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Analysis queue is full"))
		case err != nil:
			writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		default:
			writeJSONResponse(w, http.StatusAccepted, models.SuccessWithMessage("Analysis queued", nil))
		}
		return
	}

	result, err := s.detector.Analyze(r.Context(), req)
	if err != nil {
		slog.Warn("Server.analyzeHandler: invalid analyze request", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if result == nil {
		writeJSONResponse(w, http.StatusOK, models.NoDetection())
		return
	}
	s.handleDetection(r.Context(), result)
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

func (s *Server) alertsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	switch r.Method {
	case http.MethodGet:
		alerts, err := s.manager.List(r.URL.Query().Get("user_id"), models.AlertStatus(r.URL.Query().Get("status")))
		if err != nil {
			slog.Error("Server.alertsHandler: failed to list alerts", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list alerts"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(alerts))
	case http.MethodPost:
		var req models.CreateAlertRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		created, err := s.manager.Create(r.Context(), req)
		if err != nil {
			slog.Warn("Server.alertsHandler: failed to create alert", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		writeJSONResponse(w, http.StatusCreated, models.Success(created))
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// alertHandler routes /alerts/{id} and /alerts/{id}/{action}.
func (s *Server) alertHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/alerts/"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	alertID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		got, err := s.manager.Get(alertID)
		if err != nil {
			s.writeAlertError(w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(got))
	case len(parts) == 2 && parts[1] == "notifications" && r.Method == http.MethodGet:
		notifications, err := s.store.ListNotifications(alertID)
		if err != nil {
			slog.Error("Server.alertHandler: failed to list notifications", "error", err, "alertID", alertID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list notifications"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(notifications))
	case len(parts) == 4 && parts[1] == "notifications" && parts[3] == "delivered" && r.Method == http.MethodPost:
		if err := s.dispatcher.ConfirmDelivery(alertID, parts[2]); err != nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Delivery confirmed", nil))
	case len(parts) == 2 && r.Method == http.MethodPost:
		s.alertActionHandler(w, r, alertID, parts[1])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) alertActionHandler(w http.ResponseWriter, r *http.Request, alertID, action string) {
	var req models.AlertActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	var (
		updated *models.EmergencyAlert
		err     error
	)
	switch action {
	case "acknowledge":
		updated, err = s.manager.Acknowledge(r.Context(), alertID, req)
	case "progress":
		updated, err = s.manager.StartProgress(r.Context(), alertID, req)
	case "resolve":
		updated, err = s.manager.Resolve(r.Context(), alertID, req)
	case "escalate":
		updated, err = s.manager.Escalate(r.Context(), alertID, req)
	case "cancel":
		updated, err = s.manager.Cancel(r.Context(), alertID, req)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Warn("Server.alertActionHandler: action failed", "error", err, "alertID", alertID, "action", action)
		s.writeAlertError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(updated))
}

// writeAlertError maps alert manager errors onto HTTP status codes.
func (s *Server) writeAlertError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrAlertNotFound):
		writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
	case errors.Is(err, models.ErrInvalidTransition):
		writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
	case errors.Is(err, models.ErrEmptyActor), errors.Is(err, models.ErrEmptyResolution):
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	default:
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
	}
}

func (s *Server) contactsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	switch r.Method {
	case http.MethodGet:
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("user_id query parameter is required"))
			return
		}
		contacts, err := s.store.ListContacts(userID)
		if err != nil {
			slog.Error("Server.contactsHandler: failed to list contacts", "error", err, "userID", userID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list contacts"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(contacts))
	case http.MethodPost:
		var contact models.EmergencyContact
		if err := json.NewDecoder(r.Body).Decode(&contact); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		if err := contact.Validate(); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		if contact.ID == "" {
			contact.ID = util.GenerateContactID()
		}
		now := timeNow()
		contact.CreatedAt = now
		contact.UpdatedAt = now
		if err := s.store.SaveContact(contact); err != nil {
			slog.Error("Server.contactsHandler: failed to save contact", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save contact"))
			return
		}
		slog.Info("Server.contactsHandler: contact created", "contactID", contact.ID, "userID", contact.UserID)
		writeJSONResponse(w, http.StatusCreated, models.Success(contact))
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// contactHandler routes /contacts/{id}.
func (s *Server) contactHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	contactID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/contacts/"), "/")
	if contactID == "" || strings.Contains(contactID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		contact, err := s.store.GetContact(contactID)
		if err != nil {
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load contact"))
			return
		}
		if contact == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error(models.ErrContactNotFound.Error()))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(contact))
	case http.MethodPut:
		existing, err := s.store.GetContact(contactID)
		if err != nil {
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load contact"))
			return
		}
		if existing == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error(models.ErrContactNotFound.Error()))
			return
		}
		var contact models.EmergencyContact
		if err := json.NewDecoder(r.Body).Decode(&contact); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		contact.ID = contactID
		contact.CreatedAt = existing.CreatedAt
		contact.UpdatedAt = timeNow()
		if err := contact.Validate(); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		if err := s.store.SaveContact(contact); err != nil {
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save contact"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(contact))
	case http.MethodDelete:
		if err := s.store.DeleteContact(contactID); err != nil {
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete contact"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Contact deleted", nil))
	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) configHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	switch r.Method {
	case http.MethodGet:
		writeJSONResponse(w, http.StatusOK, models.Success(s.detector.Config()))
	case http.MethodPut:
		var cfg models.DetectionConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		if err := s.detector.SetConfig(cfg); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Detection config updated", cfg))
	default:
		w.Header().Set("Allow", "GET, PUT")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	metrics, err := s.manager.Metrics()
	if err != nil {
		slog.Error("Server.metricsHandler: failed to compute metrics", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to compute metrics"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(metrics))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("healthy", nil))
}
