// Package advice turns a matched disease and its guideline into structured
// guidance, either from a chat-completion model or from canned responses.
package advice

import (
	"github.com/Skufu/GoTriage/internal/domain"
	"github.com/Skufu/GoTriage/internal/knowledge"
	"github.com/Skufu/GoTriage/internal/matcher"
)

type Source string

const (
	SourceLLM      Source = "llm"
	SourceRepaired Source = "repaired"
	SourceFallback Source = "fallback"
	SourceMock     Source = "mock"
)

type Advice struct {
	Assessment        string   `json:"assessment"`
	ImmediateActions  []string `json:"immediate_actions"`
	MedicalAdvice     string   `json:"medical_advice"`
	MonitoringPoints  []string `json:"monitoring_points"`
	EmergencyHandling string   `json:"emergency_handling,omitempty"`
}

type Request struct {
	Patient   domain.PatientInfo
	Symptom   matcher.Candidate
	Guideline knowledge.Guideline
	Risk      knowledge.Risk
}

type Result struct {
	Advice     Advice
	Source     Source
	Model      string
	Tokens     int
	DurationMS float64
	// Err is set when the advice came from a fallback path.
	Err string
}
