// Package detection implements the crisis detection layer: a deterministic,
// explainable scoring pipeline over keyword and pattern signals. It contains
// no learned model; every score can be traced back to the lexicon entries
// that produced it.
package detection

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"

	"github.com/mindmesh/sentinel/internal/models"
)

// CrisisKeyword is a static weighted keyword definition. Keywords are matched
// case-insensitively on word boundaries.
type CrisisKeyword struct {
	Category models.CrisisCategory `json:"category"`
	Language string                `json:"language"`
	Term     string                `json:"term"`
	Weight   float64               `json:"weight"`
}

// CrisisPattern is a static weighted regular-expression definition for
// phrase-level matches that single keywords cannot express.
type CrisisPattern struct {
	Category models.CrisisCategory `json:"category"`
	Language string                `json:"language"`
	Expr     string                `json:"expr"`
	Weight   float64               `json:"weight"`
}

// lexiconFile is the on-disk JSON shape for a reloadable lexicon.
type lexiconFile struct {
	Keywords []CrisisKeyword `json:"keywords"`
	Patterns []CrisisPattern `json:"patterns"`
}

// compiledKeyword pairs a keyword with its boundary-anchored matcher.
type compiledKeyword struct {
	CrisisKeyword
	re *regexp.Regexp
}

// compiledPattern pairs a pattern with its compiled expression.
type compiledPattern struct {
	CrisisPattern
	re *regexp.Regexp
}

// Lexicon is an immutable, compiled set of keyword and pattern definitions
// grouped by language. Lexicons are never mutated after construction; reloads
// build a fresh Lexicon and swap it in atomically.
type Lexicon struct {
	keywords map[string][]compiledKeyword
	patterns map[string][]compiledPattern
}

// NewLexicon compiles keyword and pattern definitions into a Lexicon.
// Invalid weights and uncompilable patterns are rejected.
func NewLexicon(keywords []CrisisKeyword, patterns []CrisisPattern) (*Lexicon, error) {
	lex := &Lexicon{
		keywords: make(map[string][]compiledKeyword),
		patterns: make(map[string][]compiledPattern),
	}
	for _, kw := range keywords {
		if kw.Term == "" {
			return nil, fmt.Errorf("keyword with empty term in category %s", kw.Category)
		}
		if kw.Weight <= 0 || kw.Weight > 1 {
			return nil, fmt.Errorf("keyword %q weight %v out of (0,1]", kw.Term, kw.Weight)
		}
		if !models.IsValidCrisisCategory(kw.Category) {
			return nil, fmt.Errorf("keyword %q has unknown category %q", kw.Term, kw.Category)
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(kw.Term) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("failed to compile keyword %q: %w", kw.Term, err)
		}
		lang := kw.Language
		if lang == "" {
			lang = DefaultLanguage
		}
		lex.keywords[lang] = append(lex.keywords[lang], compiledKeyword{CrisisKeyword: kw, re: re})
	}
	for _, p := range patterns {
		if p.Weight <= 0 || p.Weight > 1 {
			return nil, fmt.Errorf("pattern %q weight %v out of (0,1]", p.Expr, p.Weight)
		}
		if !models.IsValidCrisisCategory(p.Category) {
			return nil, fmt.Errorf("pattern %q has unknown category %q", p.Expr, p.Category)
		}
		re, err := regexp.Compile(`(?i)` + p.Expr)
		if err != nil {
			return nil, fmt.Errorf("failed to compile pattern %q: %w", p.Expr, err)
		}
		lang := p.Language
		if lang == "" {
			lang = DefaultLanguage
		}
		lex.patterns[lang] = append(lex.patterns[lang], compiledPattern{CrisisPattern: p, re: re})
	}
	return lex, nil
}

// LoadLexiconFile reads and compiles a lexicon from a JSON file.
func LoadLexiconFile(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lexicon file: %w", err)
	}
	var file lexiconFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse lexicon file: %w", err)
	}
	lex, err := NewLexicon(file.Keywords, file.Patterns)
	if err != nil {
		return nil, err
	}
	slog.Info("Lexicon loaded from file", "path", path, "keywords", len(file.Keywords), "patterns", len(file.Patterns))
	return lex, nil
}

// DefaultLanguage is the fallback language tag for unscoped lexicon entries
// and analysis requests.
const DefaultLanguage = "en"

// DefaultLexicon returns the built-in English lexicon. It is intentionally
// conservative: high weights only for explicit first-person crisis language.
func DefaultLexicon() *Lexicon {
	keywords := []CrisisKeyword{
		{Category: models.CategorySuicide, Term: "kill myself", Weight: 0.95},
		{Category: models.CategorySuicide, Term: "end my life", Weight: 0.95},
		{Category: models.CategorySuicide, Term: "want to die", Weight: 0.90},
		{Category: models.CategorySuicide, Term: "suicide", Weight: 0.85},
		{Category: models.CategorySuicide, Term: "better off dead", Weight: 0.85},
		{Category: models.CategorySuicide, Term: "no reason to live", Weight: 0.80},

		{Category: models.CategorySelfHarm, Term: "cut myself", Weight: 0.90},
		{Category: models.CategorySelfHarm, Term: "hurt myself", Weight: 0.85},
		{Category: models.CategorySelfHarm, Term: "burn myself", Weight: 0.85},
		{Category: models.CategorySelfHarm, Term: "self harm", Weight: 0.75},

		{Category: models.CategoryViolence, Term: "kill them", Weight: 0.85},
		{Category: models.CategoryViolence, Term: "hurt someone", Weight: 0.70},
		{Category: models.CategoryViolence, Term: "make them pay", Weight: 0.50},

		{Category: models.CategorySubstanceAbuse, Term: "overdose", Weight: 0.80},
		{Category: models.CategorySubstanceAbuse, Term: "too many pills", Weight: 0.75},
		{Category: models.CategorySubstanceAbuse, Term: "drink until", Weight: 0.50},

		{Category: models.CategorySevereDepression, Term: "can't go on", Weight: 0.70},
		{Category: models.CategorySevereDepression, Term: "hopeless", Weight: 0.50},
		{Category: models.CategorySevereDepression, Term: "worthless", Weight: 0.50},
		{Category: models.CategorySevereDepression, Term: "numb inside", Weight: 0.45},

		{Category: models.CategoryPanic, Term: "panic attack", Weight: 0.60},
		{Category: models.CategoryPanic, Term: "heart is racing", Weight: 0.40},

		{Category: models.CategoryEatingDisorder, Term: "starve myself", Weight: 0.75},
		{Category: models.CategoryEatingDisorder, Term: "purging", Weight: 0.60},
		{Category: models.CategoryEatingDisorder, Term: "haven't eaten in days", Weight: 0.55},

		{Category: models.CategoryTrauma, Term: "flashbacks", Weight: 0.50},
		{Category: models.CategoryTrauma, Term: "reliving it", Weight: 0.45},
	}
	patterns := []CrisisPattern{
		{Category: models.CategorySuicide, Expr: `\b(going|plan(ning)?|ready) to (kill|end) (myself|it all)\b`, Weight: 0.95},
		{Category: models.CategorySuicide, Expr: `\bwrote (a|my) (goodbye|suicide) (note|letter)\b`, Weight: 0.90},
		{Category: models.CategorySuicide, Expr: `\bgave away (all )?(of )?my (things|belongings)\b`, Weight: 0.70},
		{Category: models.CategorySelfHarm, Expr: `\b(thinking about|urge to) (cutting|hurting) myself\b`, Weight: 0.80},
		{Category: models.CategoryPanic, Expr: `\b(can'?t|cannot) (breathe|calm down|stop shaking)\b`, Weight: 0.55},
		{Category: models.CategorySubstanceAbuse, Expr: `\btook (all|every one of) (the|my) pills\b`, Weight: 0.90},
	}
	lex, err := NewLexicon(keywords, patterns)
	if err != nil {
		// The built-in lexicon is validated by tests; failing to compile it is a programming error.
		panic(fmt.Sprintf("default lexicon failed to compile: %v", err))
	}
	return lex
}

// forLanguage returns the compiled entries for a language tag, falling back
// to the default language when the tag has no entries.
func (l *Lexicon) forLanguage(lang string) ([]compiledKeyword, []compiledPattern) {
	if lang == "" {
		lang = DefaultLanguage
	}
	kws, ok := l.keywords[lang]
	if !ok {
		kws = l.keywords[DefaultLanguage]
	}
	pats, ok := l.patterns[lang]
	if !ok {
		pats = l.patterns[DefaultLanguage]
	}
	return kws, pats
}
