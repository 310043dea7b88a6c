// Package models defines the core data structures for the sentinel crisis engine.
//
// It includes types for crisis detection results, emergency alerts, emergency
// contacts and notifications, which are shared across modules.
package models

import (
	"errors"
	"fmt"
	"time"
)

// CrisisCategory tags a detection signal with the kind of crisis it indicates.
type CrisisCategory string

const (
	CategorySuicide          CrisisCategory = "suicide"
	CategorySelfHarm         CrisisCategory = "self_harm"
	CategoryViolence         CrisisCategory = "violence"
	CategorySubstanceAbuse   CrisisCategory = "substance_abuse"
	CategorySevereDepression CrisisCategory = "severe_depression"
	CategoryPanic            CrisisCategory = "panic"
	CategoryEatingDisorder   CrisisCategory = "eating_disorder"
	CategoryTrauma           CrisisCategory = "trauma"
)

// IsValidCrisisCategory checks if the given category is supported.
func IsValidCrisisCategory(c CrisisCategory) bool {
	switch c {
	case CategorySuicide, CategorySelfHarm, CategoryViolence, CategorySubstanceAbuse,
		CategorySevereDepression, CategoryPanic, CategoryEatingDisorder, CategoryTrauma:
		return true
	default:
		return false
	}
}

// RiskLevel is the discrete severity bucket derived from a confidence score.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// riskLevelRank orders risk levels: low < medium < high < critical.
var riskLevelRank = map[RiskLevel]int{
	RiskLevelLow:      0,
	RiskLevelMedium:   1,
	RiskLevelHigh:     2,
	RiskLevelCritical: 3,
}

// Rank returns the ordering rank of the risk level, -1 for unknown levels.
func (r RiskLevel) Rank() int {
	if rank, ok := riskLevelRank[r]; ok {
		return rank
	}
	return -1
}

// AtLeast reports whether r is at least as severe as other.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.Rank() >= other.Rank()
}

// DetectionUrgency classifies how urgently a detection should be handled.
type DetectionUrgency string

const (
	UrgencyNormal    DetectionUrgency = "normal"
	UrgencyElevated  DetectionUrgency = "elevated"
	UrgencyEmergency DetectionUrgency = "emergency"
)

// Validation constants for input validation
const (
	// MaxMessageContentLength defines the maximum message length accepted for analysis
	MaxMessageContentLength = 16384
	// MaxAlertDescriptionLength defines the maximum allowed length for alert descriptions
	MaxAlertDescriptionLength = 4096
	// MaxAlertTitleLength defines the maximum allowed length for alert titles
	MaxAlertTitleLength = 200
)

// Error variables for better error handling and testability
var (
	ErrEmptyMessageContent    = errors.New("message content cannot be empty")
	ErrMessageContentTooLong  = errors.New("message content exceeds maximum length")
	ErrEmptyUserID            = errors.New("user id cannot be empty")
	ErrEmptyMessageID         = errors.New("message id cannot be empty")
	ErrEmptyDescription       = errors.New("description is required for alerts")
	ErrDescriptionTooLong     = errors.New("alert description exceeds maximum length")
	ErrTitleTooLong           = errors.New("alert title exceeds maximum length")
	ErrInvalidSeverity        = errors.New("invalid alert severity")
	ErrInvalidTransition      = errors.New("invalid alert state transition")
	ErrAlertNotFound          = errors.New("alert not found")
	ErrContactNotFound        = errors.New("emergency contact not found")
	ErrEmptyActor             = errors.New("actor id cannot be empty")
	ErrEmptyResolution        = errors.New("resolution is required to resolve an alert")
	ErrInvalidThreshold       = errors.New("threshold must be within [0,1]")
	ErrNoLanguagesConfigured  = errors.New("at least one detection language is required")
	ErrAnalysisFailed         = errors.New("crisis analysis failed")
	ErrAnalysisQueueFull      = errors.New("analysis queue is full")
	ErrPoolStopped            = errors.New("analysis pool is stopped")
	ErrNoEscalationLevels     = errors.New("escalation protocol requires at least one level")
	ErrInvalidContactChannel  = errors.New("emergency contact has no usable channel address")
	ErrInvalidScheduleWindow  = errors.New("availability window end must be after start")
)

// SignalKind distinguishes how a risk signal was matched.
type SignalKind string

const (
	// SignalKindKeyword is an exact (word-boundary) keyword hit.
	SignalKindKeyword SignalKind = "keyword"
	// SignalKindPattern is a regex/phrase pattern hit.
	SignalKindPattern SignalKind = "pattern"
)

// RiskSignal is one weighted piece of evidence extracted from message text.
type RiskSignal struct {
	Category CrisisCategory `json:"category"`
	Kind     SignalKind     `json:"kind"`
	Weight   float64        `json:"weight"`
	Matched  string         `json:"matched"`
	Start    int            `json:"start"`
	End      int            `json:"end"`
}

// CrisisDetectionResult is the immutable record of one message analysis that
// crossed the detection threshold. History is append-only per user.
type CrisisDetectionResult struct {
	ID                string           `json:"id"`
	MessageID         string           `json:"message_id"`
	UserID            string           `json:"user_id"`
	ConversationID    string           `json:"conversation_id,omitempty"`
	Categories        []CrisisCategory `json:"categories"`
	Confidence        float64          `json:"confidence"`
	RiskLevel         RiskLevel        `json:"risk_level"`
	Urgency           DetectionUrgency `json:"urgency"`
	RequiresImmediate bool             `json:"requires_immediate"`
	Signals           []RiskSignal     `json:"signals,omitempty"`
	DetectedAt        time.Time        `json:"detected_at"`
}

// AnalyzeRequest is the inbound payload for message analysis.
type AnalyzeRequest struct {
	MessageID      string            `json:"message_id"`
	Content        string            `json:"content"`
	UserID         string            `json:"user_id"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Language       string            `json:"language,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Validate performs validation on an AnalyzeRequest.
func (r *AnalyzeRequest) Validate() error {
	if r.MessageID == "" {
		return ErrEmptyMessageID
	}
	if r.UserID == "" {
		return ErrEmptyUserID
	}
	if r.Content == "" {
		return ErrEmptyMessageContent
	}
	if len(r.Content) > MaxMessageContentLength {
		return ErrMessageContentTooLong
	}
	return nil
}

// DetectionConfig holds the hot-reloadable tuning parameters of the detection
// layer. Validated on load; thresholds must fall within [0,1].
type DetectionConfig struct {
	ConfidenceThreshold    float64  `json:"confidence_threshold"`
	EscalationThreshold    float64  `json:"escalation_threshold"`
	Languages              []string `json:"languages"`
	UserHistoryWeight      float64  `json:"user_history_weight"`
	TimeFactorWeight       float64  `json:"time_factor_weight"`
	FalsePositiveReduction bool     `json:"false_positive_reduction"`
	FalsePositiveDiscount  float64  `json:"false_positive_discount"`
	HistoryWindowHours     int      `json:"history_window_hours"`
}

// DefaultDetectionConfig returns the engine's default detection tuning.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		ConfidenceThreshold:    0.30,
		EscalationThreshold:    0.70,
		Languages:              []string{"en"},
		UserHistoryWeight:      0.15,
		TimeFactorWeight:       0.05,
		FalsePositiveReduction: true,
		FalsePositiveDiscount:  0.30,
		HistoryWindowHours:     72,
	}
}

// Validate checks that all detection thresholds and weights are sane.
func (c *DetectionConfig) Validate() error {
	for name, v := range map[string]float64{
		"confidence_threshold":    c.ConfidenceThreshold,
		"escalation_threshold":    c.EscalationThreshold,
		"user_history_weight":     c.UserHistoryWeight,
		"time_factor_weight":      c.TimeFactorWeight,
		"false_positive_discount": c.FalsePositiveDiscount,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s=%v", ErrInvalidThreshold, name, v)
		}
	}
	if len(c.Languages) == 0 {
		return ErrNoLanguagesConfigured
	}
	if c.HistoryWindowHours <= 0 {
		return fmt.Errorf("history_window_hours must be positive, got %d", c.HistoryWindowHours)
	}
	return nil
}
