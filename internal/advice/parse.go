package advice

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidAdvice     = errors.New("invalid advice")
	ErrNoJSON            = fmt.Errorf("%w: no JSON object in model output", ErrInvalidAdvice)
	ErrMissingAssessment = fmt.Errorf("%w: assessment is empty", ErrInvalidAdvice)
	ErrNoActions         = fmt.Errorf("%w: immediate_actions is empty", ErrInvalidAdvice)
)

// Parse decodes model output into Advice. Markdown fences and surrounding
// prose are tolerated; the outermost object is used.
func Parse(text string) (Advice, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return Advice{}, err
	}

	var a Advice
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return Advice{}, fmt.Errorf("%w: decode: %v", ErrInvalidAdvice, err)
	}
	if err := a.validate(); err != nil {
		return Advice{}, err
	}
	return a.normalized(), nil
}

func (a Advice) validate() error {
	if strings.TrimSpace(a.Assessment) == "" {
		return ErrMissingAssessment
	}
	for _, act := range a.ImmediateActions {
		if strings.TrimSpace(act) != "" {
			return nil
		}
	}
	return ErrNoActions
}

func (a Advice) normalized() Advice {
	a.Assessment = strings.TrimSpace(a.Assessment)
	a.MedicalAdvice = strings.TrimSpace(a.MedicalAdvice)
	a.EmergencyHandling = strings.TrimSpace(a.EmergencyHandling)
	a.ImmediateActions = compact(a.ImmediateActions)
	a.MonitoringPoints = compact(a.MonitoringPoints)
	return a
}

func compact(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

func extractJSON(text string) (string, error) {
	s := stripFences(strings.TrimSpace(text))
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", ErrNoJSON
	}
	return s[start : end+1], nil
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the language tag line
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	return strings.TrimSuffix(s, "```")
}
