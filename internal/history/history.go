// Package history persists triage outcomes and security events and derives
// aggregate statistics from them.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Skufu/GoTriage/internal/advice"
	"github.com/Skufu/GoTriage/internal/domain"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Record struct {
	ID                string             `json:"id"`
	Timestamp         time.Time          `json:"timestamp"`
	Symptom           string             `json:"symptom"`
	PatientInfo       domain.PatientInfo `json:"patient_info"`
	Status            domain.Status      `json:"status"`
	DiseaseName       string             `json:"disease_name,omitempty"`
	Advice            *advice.Advice     `json:"advice,omitempty"`
	ErrorMessage      string             `json:"error_message,omitempty"`
	Urgency           string             `json:"urgency,omitempty"`
	SupplementaryInfo map[string]any     `json:"supplementary_info,omitempty"`
	ServerDurationMS  float64            `json:"server_duration_ms"`
	TotalDurationMS   float64            `json:"total_duration_ms"`
	Model             string             `json:"model,omitempty"`
	SourceChannel     string             `json:"source_channel"`
}

type SecurityEvent struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Symptom       string    `json:"symptom"`
	RiskScore     int       `json:"risk_score"`
	Reasons       []string  `json:"reasons"`
	ClientIP      string    `json:"client_ip,omitempty"`
	SourceChannel string    `json:"source_channel"`
}

type Page struct {
	Items    []Record `json:"items"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
	Total    int      `json:"total"`
}

// Outcome is the projection of a Record used for statistics.
type Outcome struct {
	Status           domain.Status `json:"status"`
	ServerDurationMS *float64      `json:"server_duration_ms"`
	TotalDurationMS  *float64      `json:"total_duration_ms"`
}

type Store interface {
	InsertQuery(ctx context.Context, rec Record) error
	InsertSecurityEvent(ctx context.Context, ev SecurityEvent) error
	// ListQueries returns a page of records, newest first.
	ListQueries(ctx context.Context, page, pageSize int) (Page, error)
	// RecentOutcomes returns at most limit outcomes, newest first.
	RecentOutcomes(ctx context.Context, limit int) ([]Outcome, error)
}

// NormalizePaging clamps page to >= 1 and pageSize to [1, MaxPageSize],
// substituting DefaultPageSize for non-positive sizes.
func NormalizePaging(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize < 1:
		pageSize = DefaultPageSize
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
	}
	return page, pageSize
}

func EmptyPage(page, pageSize int) Page {
	page, pageSize = NormalizePaging(page, pageSize)
	return Page{Items: []Record{}, Page: page, PageSize: pageSize}
}

// prepare fills ID and Timestamp when the caller left them unset.
func (r *Record) prepare() {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
}

func (e *SecurityEvent) prepare() {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Reasons == nil {
		e.Reasons = []string{}
	}
}

func (r Record) outcome() Outcome {
	server, total := r.ServerDurationMS, r.TotalDurationMS
	return Outcome{Status: r.Status, ServerDurationMS: &server, TotalDurationMS: &total}
}
