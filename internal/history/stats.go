package history

import (
	"math"
	"sort"

	"github.com/Skufu/GoTriage/internal/domain"
)

type Counts struct {
	Normal           int `json:"normal"`
	MaliciousOrError int `json:"malicious_or_error"`
	NonMedical       int `json:"non_medical"`
	Total            int `json:"total"`
}

type Durations struct {
	Count int     `json:"count"`
	Avg   float64 `json:"avg"`
	P95   float64 `json:"p95"`
	Max   float64 `json:"max"`
}

type Stats struct {
	Counts      Counts    `json:"counts"`
	DurationsMS Durations `json:"durations_ms"`
}

// Compute aggregates outcomes. A record contributes its total duration when
// positive, otherwise its server duration.
func Compute(outcomes []Outcome) Stats {
	var s Stats
	durations := make([]float64, 0, len(outcomes))

	for _, o := range outcomes {
		switch o.Status {
		case domain.StatusSuccess:
			s.Counts.Normal++
		case domain.StatusNoMatch:
			s.Counts.NonMedical++
		case domain.StatusFailed, domain.StatusError:
			s.Counts.MaliciousOrError++
		}

		switch {
		case o.TotalDurationMS != nil && *o.TotalDurationMS > 0:
			durations = append(durations, *o.TotalDurationMS)
		case o.ServerDurationMS != nil:
			durations = append(durations, *o.ServerDurationMS)
		}
	}
	s.Counts.Total = len(outcomes)

	n := len(durations)
	s.DurationsMS.Count = n
	if n == 0 {
		return s
	}

	sort.Float64s(durations)
	var sum float64
	for _, d := range durations {
		sum += d
	}
	s.DurationsMS.Avg = round2(sum / float64(n))
	s.DurationsMS.P95 = round2(durations[int(0.95*float64(n-1))])
	s.DurationsMS.Max = round2(durations[n-1])
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
