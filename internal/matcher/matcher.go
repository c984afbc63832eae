// Package matcher picks a candidate disease for a free-text symptom
// description by keyword membership.
package matcher

import (
	"sort"
	"strings"

	"github.com/Skufu/GoTriage/internal/knowledge"
)

type Candidate struct {
	DiseaseID       string   `json:"disease_id"`
	DiseaseName     string   `json:"disease_name"`
	MatchedSymptoms []string `json:"matched_symptoms"`
	MatchCount      int      `json:"match_count"`
	Confidence      float64  `json:"confidence"`

	order int
}

type Match struct {
	Found      bool        `json:"found"`
	Best       Candidate   `json:"best"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

// Find scans every disease's keyword list for substrings of text.
// Confidence is matched keywords over non-blank keywords for that disease.
// Ranking: most matches, then highest confidence, then table order.
func Find(text string, diseases []knowledge.Disease) Match {
	lowered := strings.ToLower(text)

	candidates := []Candidate{}
	for i, d := range diseases {
		var matched []string
		keywords := 0
		for _, kw := range d.RelatedSymptoms {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			keywords++
			if strings.Contains(lowered, kw) {
				matched = append(matched, kw)
			}
		}
		if len(matched) == 0 {
			continue
		}
		candidates = append(candidates, Candidate{
			DiseaseID:       d.DiseaseID,
			DiseaseName:     d.Name,
			MatchedSymptoms: matched,
			MatchCount:      len(matched),
			Confidence:      float64(len(matched)) / float64(keywords),
			order:           i,
		})
	}

	if len(candidates) == 0 {
		return Match{}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.MatchCount != b.MatchCount {
			return a.MatchCount > b.MatchCount
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.order < b.order
	})

	return Match{Found: true, Best: candidates[0], Candidates: candidates}
}

// Keywords returns the distinct keywords found in text across all diseases,
// in first-seen order.
func Keywords(text string, diseases []knowledge.Disease) []string {
	lowered := strings.ToLower(text)
	seen := map[string]bool{}
	out := []string{}
	for _, d := range diseases {
		for _, kw := range d.RelatedSymptoms {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" || seen[kw] {
				continue
			}
			if strings.Contains(lowered, kw) {
				seen[kw] = true
				out = append(out, kw)
			}
		}
	}
	return out
}
