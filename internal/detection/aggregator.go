// Package detection implements the crisis detection layer.
//
// This file implements the risk aggregator: it folds extracted signals into a
// single confidence score and derives the discrete risk level. Every step is
// deterministic; the same signals, history and clock always produce the same
// score.
package detection

import (
	"math"
	"time"

	"github.com/mindmesh/sentinel/internal/models"
)

// Risk level step thresholds. The escalation (high) threshold comes from the
// detection config; the others are fixed steps below and above it.
const (
	// MediumRiskThreshold is the confidence at which a detection becomes medium risk.
	MediumRiskThreshold = 0.45
	// CriticalRiskThreshold is the confidence at which a detection becomes critical.
	CriticalRiskThreshold = 0.85
)

// Category base weights scale signal contributions: explicit self-directed
// harm categories dominate, contextual distress categories contribute less.
var categoryBaseWeights = map[models.CrisisCategory]float64{
	models.CategorySuicide:          1.00,
	models.CategorySelfHarm:         0.90,
	models.CategoryViolence:         0.85,
	models.CategorySevereDepression: 0.70,
	models.CategorySubstanceAbuse:   0.65,
	models.CategoryPanic:            0.60,
	models.CategoryEatingDisorder:   0.60,
	models.CategoryTrauma:           0.55,
}

// Aggregation combines signals into a scored outcome.
type Aggregation struct {
	Confidence float64
	RiskLevel  models.RiskLevel
	Urgency    models.DetectionUrgency
	Categories []models.CrisisCategory
}

// Aggregate computes the confidence score for a set of signals.
//
// The combination rule is a noisy-or over per-signal contributions
// (baseWeight(category) x signalWeight), so each additional independent
// signal raises confidence monotonically without ever exceeding 1:
//
//	confidence = 1 - prod(1 - contribution_i)
//
// Three documented adjustments follow:
//  1. false-positive reduction: a single keyword signal with weight < 0.5 and
//     no pattern corroboration is discounted by cfg.FalsePositiveDiscount;
//  2. user history: prior high/critical detections inside the history window
//     add cfg.UserHistoryWeight x min(1, priors/3);
//  3. time of day: between 22:00 and 06:00 local time cfg.TimeFactorWeight
//     is added.
//
// The result is clamped to [0,1].
func Aggregate(signals []models.RiskSignal, cfg models.DetectionConfig, priorHighRisk int, now time.Time) Aggregation {
	var agg Aggregation
	if len(signals) == 0 {
		agg.RiskLevel = models.RiskLevelLow
		agg.Urgency = models.UrgencyNormal
		return agg
	}

	survivor := 1.0
	seen := make(map[models.CrisisCategory]bool)
	for _, sig := range signals {
		base, ok := categoryBaseWeights[sig.Category]
		if !ok {
			base = 0.5
		}
		contribution := base * sig.Weight
		survivor *= 1 - contribution
		if !seen[sig.Category] {
			seen[sig.Category] = true
			agg.Categories = append(agg.Categories, sig.Category)
		}
	}
	confidence := 1 - survivor

	if cfg.FalsePositiveReduction && isWeakIsolatedSignal(signals) {
		confidence *= 1 - cfg.FalsePositiveDiscount
	}

	if priorHighRisk > 0 {
		confidence += cfg.UserHistoryWeight * math.Min(1, float64(priorHighRisk)/3)
	}

	if hour := now.Hour(); hour >= 22 || hour < 6 {
		confidence += cfg.TimeFactorWeight
	}

	agg.Confidence = clamp01(confidence)
	agg.RiskLevel = RiskLevelForConfidence(agg.Confidence, cfg)
	agg.Urgency = urgencyForRiskLevel(agg.RiskLevel)
	return agg
}

// RiskLevelForConfidence maps a confidence score to its discrete risk level.
// It is a monotonically non-decreasing step function of confidence.
func RiskLevelForConfidence(confidence float64, cfg models.DetectionConfig) models.RiskLevel {
	switch {
	case confidence >= CriticalRiskThreshold:
		return models.RiskLevelCritical
	case confidence >= cfg.EscalationThreshold:
		return models.RiskLevelHigh
	case confidence >= MediumRiskThreshold:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}

// isWeakIsolatedSignal reports whether the extraction produced exactly one
// low-weight keyword hit with no pattern corroboration.
func isWeakIsolatedSignal(signals []models.RiskSignal) bool {
	return len(signals) == 1 &&
		signals[0].Kind == models.SignalKindKeyword &&
		signals[0].Weight < 0.5
}

func urgencyForRiskLevel(level models.RiskLevel) models.DetectionUrgency {
	switch level {
	case models.RiskLevelCritical:
		return models.UrgencyEmergency
	case models.RiskLevelHigh:
		return models.UrgencyElevated
	default:
		return models.UrgencyNormal
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
