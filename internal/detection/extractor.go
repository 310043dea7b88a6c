// Package detection implements the crisis detection layer.
//
// This file implements the signal extractor: a pure function turning message
// text into weighted risk signals. It has no side effects and is safe to call
// concurrently and unboundedly.
package detection

import (
	"github.com/mindmesh/sentinel/internal/models"
)

// ExtractSignals matches the message content against the lexicon for the
// given language and returns one signal per keyword or pattern hit, with the
// match span in byte offsets. Matching is case-insensitive; keywords match on
// word boundaries only.
func ExtractSignals(lex *Lexicon, content, language string) []models.RiskSignal {
	keywords, patterns := lex.forLanguage(language)

	var signals []models.RiskSignal
	for _, kw := range keywords {
		loc := kw.re.FindStringIndex(content)
		if loc == nil {
			continue
		}
		signals = append(signals, models.RiskSignal{
			Category: kw.Category,
			Kind:     models.SignalKindKeyword,
			Weight:   kw.Weight,
			Matched:  content[loc[0]:loc[1]],
			Start:    loc[0],
			End:      loc[1],
		})
	}
	for _, p := range patterns {
		loc := p.re.FindStringIndex(content)
		if loc == nil {
			continue
		}
		signals = append(signals, models.RiskSignal{
			Category: p.Category,
			Kind:     models.SignalKindPattern,
			Weight:   p.Weight,
			Matched:  content[loc[0]:loc[1]],
			Start:    loc[0],
			End:      loc[1],
		})
	}
	return signals
}
