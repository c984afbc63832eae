// Package safety screens symptom text before it reaches the model: it scores
// injection and abuse patterns against a rule table and rejects input with no
// medical content.
package safety

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

type Decision string

const (
	Allow      Decision = "allow"
	Block      Decision = "block"
	NonMedical Decision = "non_medical"
)

const (
	BlockThreshold         = 70
	MinIntentConfidence    = 60
	localIntentConfidence  = 90
	maxSanitizedRunes      = 300
	longInputRunes         = 200
	medicalCategoryRelief  = 20
	medicalIntentRelief    = 20
	attackKeywordWeight    = 15
	systemWithAttackWeight = 25
	systemAloneWeight      = 5
	tooShortPenalty        = 30
	tooLongPenalty         = 10
)

type Finding struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Note     string `json:"note"`
}

// Intent is a semantic verdict on whether text is a medical consultation.
type Intent struct {
	IsMedical  bool   `json:"is_medical"`
	Confidence int    `json:"confidence"`
	Reason     string `json:"reason"`
}

type IntentAssessor interface {
	AssessIntent(ctx context.Context, text string) (Intent, error)
}

type Verdict struct {
	Decision          Decision  `json:"decision"`
	Reason            string    `json:"reason,omitempty"`
	Score             int       `json:"risk_score"`
	Findings          []Finding `json:"findings,omitempty"`
	Issues            []string  `json:"issues,omitempty"`
	MedicalCategories int       `json:"medical_categories"`
	HasMedicalIntent  bool      `json:"has_medical_intent"`
	AttackKeywords    int       `json:"attack_keywords"`
	SystemKeywords    int       `json:"system_keywords"`
	Intent            *Intent   `json:"intent,omitempty"`
}

func (v Verdict) Allowed() bool { return v.Decision == Allow }

type Checker struct {
	assessor IntentAssessor
	log      *zap.Logger
}

// NewChecker builds a checker. A nil assessor means intent is judged by the
// local keyword rules only.
func NewChecker(assessor IntentAssessor, log *zap.Logger) *Checker {
	return &Checker{assessor: assessor, log: log}
}

func (c *Checker) Check(ctx context.Context, text string) Verdict {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Verdict{Decision: NonMedical, Reason: "empty"}
	}

	v := Score(trimmed)
	c.log.Info("safety analysis",
		zap.Int("risk_score", v.Score),
		zap.Strings("issues", v.Issues),
		zap.Int("medical_categories", v.MedicalCategories),
		zap.Bool("medical_intent", v.HasMedicalIntent),
	)

	if v.Score >= BlockThreshold {
		v.Decision = Block
		v.Reason = "high_risk"
		c.log.Warn("high risk input rejected", zap.Int("risk_score", v.Score))
		return v
	}

	if v.MedicalCategories == 0 && !v.HasMedicalIntent {
		v.Decision = NonMedical
		v.Reason = "non_medical"
		return v
	}

	intent := c.assessIntent(ctx, trimmed)
	v.Intent = &intent
	if !intent.IsMedical || intent.Confidence < MinIntentConfidence {
		v.Decision = NonMedical
		v.Reason = "intent_rejected"
		c.log.Warn("semantic intent check rejected input",
			zap.Bool("is_medical", intent.IsMedical),
			zap.Int("confidence", intent.Confidence),
			zap.String("reason", intent.Reason),
		)
		return v
	}

	v.Decision = Allow
	return v
}

func (c *Checker) assessIntent(ctx context.Context, text string) Intent {
	local := Intent{IsMedical: true, Confidence: localIntentConfidence, Reason: "local keyword rules"}
	if c.assessor == nil {
		return local
	}
	intent, err := c.assessor.AssessIntent(ctx, text)
	if err != nil {
		c.log.Warn("intent assessment failed, using local rules", zap.Error(err))
		return local
	}
	return intent
}

// Score computes the rule-based risk score for text. It does not decide.
func Score(text string) Verdict {
	lowered := strings.ToLower(text)
	v := Verdict{}

	hasHigh := false
	for _, rule := range ruleDB {
		if !rule.Pattern.MatchString(lowered) {
			continue
		}
		v.Findings = append(v.Findings, Finding{Rule: rule.ID, Severity: rule.Severity, Note: rule.Note})
		v.Issues = append(v.Issues, fmt.Sprintf("[%s] Pattern: %s - %s", rule.Severity, rule.ID, rule.Note))
		switch rule.Severity {
		case "HIGH":
			hasHigh = true
		default:
			v.Score += severityWeight[rule.Severity]
		}
	}
	if hasHigh {
		v.Score += severityWeight["HIGH"]
	}

	v.MedicalCategories = medicalCategoryHits(lowered)
	v.HasMedicalIntent = containsAny(lowered, medicalPhrases)
	v.AttackKeywords = countContained(lowered, attackKeywords)
	v.SystemKeywords = countContained(lowered, systemKeywords)

	v.Score += v.AttackKeywords * attackKeywordWeight
	if v.AttackKeywords > 0 {
		v.Score += v.SystemKeywords * systemWithAttackWeight
	} else {
		v.Score += v.SystemKeywords * systemAloneWeight
	}

	relief := v.MedicalCategories * medicalCategoryRelief
	if v.HasMedicalIntent {
		relief += medicalIntentRelief
	}
	v.Score -= relief
	if v.Score < 0 {
		v.Score = 0
	}

	switch n := utf8.RuneCountInString(text); {
	case n < 2:
		v.Score += tooShortPenalty
	case n > longInputRunes:
		v.Score += tooLongPenalty
	}

	if v.Score > 100 {
		v.Score = 100
	}
	return v
}

// IsMedical reports whether text carries any medical keyword or consultation
// phrase.
func IsMedical(text string) bool {
	lowered := strings.ToLower(text)
	return medicalCategoryHits(lowered) > 0 || containsAny(lowered, medicalPhrases)
}

var (
	unsafeChars = regexp.MustCompile(`[<>'"\\]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// Sanitize strips markup and quoting characters, collapses whitespace and
// truncates to 300 runes.
func Sanitize(text string) string {
	s := unsafeChars.ReplaceAllString(text, "")
	s = strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
	if utf8.RuneCountInString(s) <= maxSanitizedRunes {
		return s
	}
	r := []rune(s)
	return string(r[:maxSanitizedRunes])
}

func medicalCategoryHits(lowered string) int {
	n := 0
	for _, keywords := range medicalKeywords {
		if containsAny(lowered, keywords) {
			n++
		}
	}
	return n
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func countContained(s string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(s, w) {
			n++
		}
	}
	return n
}
