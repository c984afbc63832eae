package triage

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Skufu/GoTriage/internal/history"
	"github.com/Skufu/GoTriage/internal/safety"
)

// clientLayouts are tried in order; zone-less timestamps are read as local time.
var clientLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// totalDuration measures from the client's submit time to end. Missing,
// unparsable or future timestamps fall back to the server duration.
func totalDuration(clientStart string, end time.Time, serverMS float64) float64 {
	clientStart = strings.TrimSpace(clientStart)
	if clientStart == "" {
		return serverMS
	}

	ts, err := time.Parse(time.RFC3339Nano, clientStart)
	if err != nil {
		for _, layout := range clientLayouts {
			if ts, err = time.ParseInLocation(layout, clientStart, time.Local); err == nil {
				break
			}
		}
	}
	if err != nil {
		return serverMS
	}

	d := end.Sub(ts)
	if d < 0 {
		return serverMS
	}
	return millis(d)
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func (s *Service) persist(ctx context.Context, q Query, res Result) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	rec := history.Record{
		Symptom:           q.Symptom,
		PatientInfo:       q.PatientInfo,
		Status:            res.Status,
		DiseaseName:       res.DiseaseName,
		Advice:            res.Advice,
		ErrorMessage:      res.ErrorMessage,
		Urgency:           res.Urgency,
		SupplementaryInfo: res.SupplementaryInfo,
		ServerDurationMS:  res.ServerDurationMS,
		TotalDurationMS:   res.TotalDurationMS,
		Model:             res.Model,
		SourceChannel:     q.SourceChannel,
	}
	if err := s.store.InsertQuery(ctx, rec); err != nil {
		s.storageFailed("insert_query", err)
	}
}

func (s *Service) recordSecurityEvent(ctx context.Context, q Query, v safety.Verdict) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	ev := history.SecurityEvent{
		Symptom:       safety.Sanitize(q.Symptom),
		RiskScore:     v.Score,
		Reasons:       v.Issues,
		ClientIP:      q.ClientIP,
		SourceChannel: q.SourceChannel,
	}
	if err := s.store.InsertSecurityEvent(ctx, ev); err != nil {
		s.storageFailed("insert_security_event", err)
	}
}

func (s *Service) storageFailed(op string, err error) {
	s.log.Error("history write failed", zap.String("op", op), zap.String("backend", s.storeBackend), zap.Error(err))
	if s.metrics != nil {
		s.metrics.StorageWriteFails.WithLabelValues(s.storeBackend).Inc()
	}
}
