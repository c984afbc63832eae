package domain

import (
	"errors"
	"strings"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusNoMatch Status = "no_match"
	StatusError   Status = "error"
)

const (
	ChannelAPI        = "api"
	ChannelStructured = "api_structured"
	ChannelWeb        = "web"
)

type PatientInfo struct {
	Age               *int   `json:"age,omitempty"`
	Gender            string `json:"gender,omitempty"`
	SpecialConditions string `json:"special_conditions,omitempty"`
}

var (
	ErrAgeRequired    = errors.New("age is required")
	ErrAgeOutOfRange  = errors.New("age must be between 0 and 120")
	ErrGenderRequired = errors.New("gender is required")
)

// Validate checks ranges. When strict, age and gender must be present.
func (p PatientInfo) Validate(strict bool) error {
	var errs []error
	switch {
	case p.Age == nil && strict:
		errs = append(errs, ErrAgeRequired)
	case p.Age != nil && (*p.Age < 0 || *p.Age > 120):
		errs = append(errs, ErrAgeOutOfRange)
	}
	if strict && strings.TrimSpace(p.Gender) == "" {
		errs = append(errs, ErrGenderRequired)
	}
	return errors.Join(errs...)
}

// Map renders the patient as loggable fields.
func (p PatientInfo) Map() map[string]any {
	m := map[string]any{
		"gender":             p.Gender,
		"special_conditions": p.SpecialConditions,
	}
	if p.Age != nil {
		m["age"] = *p.Age
	}
	return m
}
