// Package detection implements the crisis detection layer.
//
// This file implements the Detector, the front door that ties extraction,
// aggregation, user history and persistence together. A detection failure is
// never allowed to propagate into the message path: it is logged once and the
// message is treated as having no detection.
package detection

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mindmesh/sentinel/internal/models"
	"github.com/mindmesh/sentinel/internal/store"
	"github.com/mindmesh/sentinel/internal/util"
)

// DefaultAnalysisTimeout bounds how long one message analysis may take before
// it is abandoned as a no-detection.
const DefaultAnalysisTimeout = 2 * time.Second

// Opts holds configuration options for the Detector.
type Opts struct {
	Config          models.DetectionConfig
	Lexicon         *Lexicon
	AnalysisTimeout time.Duration
	Now             func() time.Time
}

// Option defines a configuration option for the Detector.
type Option func(*Opts)

// WithConfig sets the initial detection config.
func WithConfig(cfg models.DetectionConfig) Option {
	return func(o *Opts) { o.Config = cfg }
}

// WithLexicon sets the initial lexicon.
func WithLexicon(lex *Lexicon) Option {
	return func(o *Opts) { o.Lexicon = lex }
}

// WithAnalysisTimeout bounds the per-message analysis time.
func WithAnalysisTimeout(d time.Duration) Option {
	return func(o *Opts) { o.AnalysisTimeout = d }
}

// WithClock injects a clock for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Detector analyzes messages for crisis risk. Config and lexicon are held in
// atomic pointers so hot reloads never block in-flight analyses.
type Detector struct {
	store           store.Store
	config          atomic.Pointer[models.DetectionConfig]
	lexicon         atomic.Pointer[Lexicon]
	analysisTimeout time.Duration
	now             func() time.Time
}

// NewDetector creates a Detector backed by the given store.
func NewDetector(st store.Store, opts ...Option) (*Detector, error) {
	cfg := Opts{
		Config:          models.DefaultDetectionConfig(),
		AnalysisTimeout: DefaultAnalysisTimeout,
		Now:             time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detection config: %w", err)
	}
	if cfg.Lexicon == nil {
		cfg.Lexicon = DefaultLexicon()
	}

	d := &Detector{
		store:           st,
		analysisTimeout: cfg.AnalysisTimeout,
		now:             cfg.Now,
	}
	d.config.Store(&cfg.Config)
	d.lexicon.Store(cfg.Lexicon)
	slog.Debug("Detector created", "confidenceThreshold", cfg.Config.ConfidenceThreshold, "escalationThreshold", cfg.Config.EscalationThreshold)
	return d, nil
}

// Config returns the current detection config.
func (d *Detector) Config() models.DetectionConfig {
	return *d.config.Load()
}

// SetConfig validates and swaps in a new detection config.
func (d *Detector) SetConfig(cfg models.DetectionConfig) error {
	if err := cfg.Validate(); err != nil {
		slog.Warn("Detector.SetConfig rejected invalid config", "error", err)
		return err
	}
	d.config.Store(&cfg)
	slog.Info("Detector config reloaded", "confidenceThreshold", cfg.ConfidenceThreshold, "escalationThreshold", cfg.EscalationThreshold)
	return nil
}

// SetLexicon swaps in a new compiled lexicon.
func (d *Detector) SetLexicon(lex *Lexicon) {
	d.lexicon.Store(lex)
	slog.Info("Detector lexicon reloaded")
}

// ReloadLexiconFile loads and swaps in a lexicon from a JSON file. On any
// failure the current lexicon stays in place.
func (d *Detector) ReloadLexiconFile(path string) error {
	lex, err := LoadLexiconFile(path)
	if err != nil {
		slog.Error("Detector.ReloadLexiconFile failed, keeping current lexicon", "error", err, "path", path)
		return err
	}
	d.SetLexicon(lex)
	return nil
}

// Analyze scores one message for crisis risk. It returns nil when the message
// scores below the detection threshold. Extraction or aggregation failures
// are logged once and reported as no detection: a crisis-analysis failure
// must never block message delivery, and is never retried.
func (d *Detector) Analyze(ctx context.Context, req models.AnalyzeRequest) (*models.CrisisDetectionResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	cfg := *d.config.Load()
	now := d.now()

	agg, err := d.analyze(ctx, req, cfg, now)
	if err != nil {
		slog.Error("Detector.Analyze: analysis failed, treating as no detection",
			"error", err, "messageID", req.MessageID, "userID", req.UserID)
		return nil, nil
	}
	if agg == nil || agg.Confidence < cfg.ConfidenceThreshold {
		slog.Debug("Detector.Analyze: below detection threshold", "messageID", req.MessageID)
		return nil, nil
	}

	result := &models.CrisisDetectionResult{
		ID:                util.GenerateDetectionID(),
		MessageID:         req.MessageID,
		UserID:            req.UserID,
		ConversationID:    req.ConversationID,
		Categories:        agg.Categories,
		Confidence:        agg.Confidence,
		RiskLevel:         agg.RiskLevel,
		Urgency:           agg.Urgency,
		RequiresImmediate: agg.RiskLevel == models.RiskLevelCritical,
		Signals:           agg.Signals,
		DetectedAt:        now,
	}

	// Detection history is append-only; a failed write degrades history
	// weighting for future messages but does not void this detection.
	if err := d.store.AddDetection(*result); err != nil {
		slog.Error("Detector.Analyze: failed to persist detection", "error", err, "id", result.ID)
	}

	slog.Info("Detector.Analyze: crisis detected",
		"id", result.ID, "userID", result.UserID, "riskLevel", result.RiskLevel,
		"confidence", result.Confidence, "categories", len(result.Categories))
	return result, nil
}

// analyzeOutcome carries the aggregation plus the raw signals for the record.
type analyzeOutcome struct {
	Aggregation
	Signals []models.RiskSignal
}

// analyzeResult is the analysis goroutine's answer, handed over a channel so
// a timed-out caller never shares result slots with a still-running analysis.
type analyzeResult struct {
	outcome *analyzeOutcome
	err     error
}

// analyze runs extraction and aggregation under a timeout and panic guard.
func (d *Detector) analyze(ctx context.Context, req models.AnalyzeRequest, cfg models.DetectionConfig, now time.Time) (*analyzeOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, d.analysisTimeout)
	defer cancel()

	// Buffered so the goroutine can finish after a timeout without leaking.
	results := make(chan analyzeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- analyzeResult{err: fmt.Errorf("%w: panic: %v", models.ErrAnalysisFailed, r)}
			}
		}()

		signals := ExtractSignals(d.lexicon.Load(), req.Content, req.Language)
		if len(signals) == 0 {
			results <- analyzeResult{}
			return
		}

		priors := d.priorHighRiskCount(req.UserID, cfg, now)
		agg := Aggregate(signals, cfg, priors, now)
		results <- analyzeResult{outcome: &analyzeOutcome{Aggregation: agg, Signals: signals}}
	}()

	select {
	case res := <-results:
		return res.outcome, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", models.ErrAnalysisFailed, ctx.Err())
	}
}

// priorHighRiskCount counts the user's high/critical detections inside the
// configured history window. Store failures degrade to zero history rather
// than failing the analysis.
func (d *Detector) priorHighRiskCount(userID string, cfg models.DetectionConfig, now time.Time) int {
	since := now.Add(-time.Duration(cfg.HistoryWindowHours) * time.Hour)
	history, err := d.store.ListRecentDetections(userID, since)
	if err != nil {
		slog.Warn("Detector.priorHighRiskCount: history lookup failed, ignoring history", "error", err, "userID", userID)
		return 0
	}
	count := 0
	for _, det := range history {
		if det.RiskLevel.AtLeast(models.RiskLevelHigh) {
			count++
		}
	}
	return count
}
