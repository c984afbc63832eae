// Package knowledge holds the static disease table and the guideline and
// risk records keyed by disease id.
package knowledge

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("knowledge record not found")

type Urgency string

const (
	UrgencyLow       Urgency = "低"
	UrgencyMedium    Urgency = "中"
	UrgencyHigh      Urgency = "高"
	UrgencyEmergency Urgency = "紧急"
	UrgencyUnknown   Urgency = "未知"
)

type Disease struct {
	DiseaseID       string   `json:"disease_id"`
	Name            string   `json:"name"`
	RelatedSymptoms []string `json:"related_symptoms"`
	Description     string   `json:"description,omitempty"`
}

type Guideline struct {
	DiseaseID         string  `json:"disease_id"`
	Urgency           Urgency `json:"urgency"`
	RecommendedAction string  `json:"recommended_action"`
	Timeframe         string  `json:"timeframe,omitempty"`
}

type Risk struct {
	DiseaseID         string   `json:"disease_id"`
	SpecialNotes      string   `json:"special_notes"`
	RiskGroups        []string `json:"risk_groups"`
	Contraindications []string `json:"contraindications,omitempty"`
}

type DiseaseDetail struct {
	Disease
	Guideline *Guideline `json:"guideline,omitempty"`
	Risk      *Risk      `json:"risk,omitempty"`
}

type Repository interface {
	Diseases(ctx context.Context) ([]Disease, error)
	Disease(ctx context.Context, id string) (Disease, error)
	Guideline(ctx context.Context, id string) (Guideline, error)
	// Guidelines filters by urgency; an empty urgency returns every guideline.
	Guidelines(ctx context.Context, urgency Urgency) ([]Guideline, error)
	Risk(ctx context.Context, id string) (Risk, error)
}

// DefaultGuideline is used when a matched disease has no guideline record.
func DefaultGuideline(id string) Guideline {
	return Guideline{DiseaseID: id, Urgency: UrgencyUnknown, RecommendedAction: "建议就医"}
}

// DefaultRisk is used when a matched disease has no risk record.
func DefaultRisk(id string) Risk {
	return Risk{DiseaseID: id, SpecialNotes: "暂无特殊注意事项", RiskGroups: []string{"一般人群"}}
}

// Detail merges a disease with its guideline and risk records. Missing
// guideline or risk records are left nil.
func Detail(ctx context.Context, repo Repository, id string) (DiseaseDetail, error) {
	d, err := repo.Disease(ctx, id)
	if err != nil {
		return DiseaseDetail{}, err
	}
	detail := DiseaseDetail{Disease: d}

	g, err := repo.Guideline(ctx, id)
	switch {
	case err == nil:
		detail.Guideline = &g
	case !errors.Is(err, ErrNotFound):
		return DiseaseDetail{}, fmt.Errorf("guideline %s: %w", id, err)
	}

	r, err := repo.Risk(ctx, id)
	switch {
	case err == nil:
		detail.Risk = &r
	case !errors.Is(err, ErrNotFound):
		return DiseaseDetail{}, fmt.Errorf("risk %s: %w", id, err)
	}

	return detail, nil
}

// AllDetails returns every disease merged with its records, in table order.
func AllDetails(ctx context.Context, repo Repository) ([]DiseaseDetail, error) {
	diseases, err := repo.Diseases(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]DiseaseDetail, 0, len(diseases))
	for _, d := range diseases {
		detail, err := Detail(ctx, repo, d.DiseaseID)
		if err != nil {
			return nil, err
		}
		out = append(out, detail)
	}
	return out, nil
}

// SearchBySymptom returns diseases whose related symptom list contains
// symptom exactly.
func SearchBySymptom(ctx context.Context, repo Repository, symptom string) ([]Disease, error) {
	diseases, err := repo.Diseases(ctx)
	if err != nil {
		return nil, err
	}
	out := []Disease{}
	for _, d := range diseases {
		for _, s := range d.RelatedSymptoms {
			if s == symptom {
				out = append(out, d)
				break
			}
		}
	}
	return out, nil
}
