// Package triage runs a symptom query through safety screening, matching,
// knowledge lookups and advice generation, then records the outcome.
package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Skufu/GoTriage/internal/advice"
	"github.com/Skufu/GoTriage/internal/domain"
	"github.com/Skufu/GoTriage/internal/history"
	"github.com/Skufu/GoTriage/internal/knowledge"
	"github.com/Skufu/GoTriage/internal/logger"
	"github.com/Skufu/GoTriage/internal/matcher"
	"github.com/Skufu/GoTriage/internal/metrics"
	"github.com/Skufu/GoTriage/internal/safety"
)

const (
	MsgUnsafe     = "输入内容包含敏感信息或不符合医疗咨询要求，请重新输入"
	MsgNonMedical = "未识别到医疗相关的症状描述，请描述您的具体症状"
	MsgNoMatch    = "未能匹配到相关疾病，建议咨询专业医生"
	msgErrorFmt   = "处理查询时发生错误: %v"

	persistTimeout = 5 * time.Second
)

type Query struct {
	Symptom       string             `json:"symptom"`
	PatientInfo   domain.PatientInfo `json:"patient_info"`
	ClientStartTS string             `json:"client_start_ts,omitempty"`
	SourceChannel string             `json:"-"`
	ClientIP      string             `json:"-"`
}

type Result struct {
	Status            domain.Status  `json:"status"`
	DiseaseName       string         `json:"disease_name,omitempty"`
	Urgency           string         `json:"urgency,omitempty"`
	Advice            *advice.Advice `json:"advice,omitempty"`
	SupplementaryInfo map[string]any `json:"supplementary_info,omitempty"`
	Model             string         `json:"model,omitempty"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	ServerDurationMS  float64        `json:"server_duration_ms"`
	TotalDurationMS   float64        `json:"total_duration_ms"`
}

type SafetyChecker interface {
	Check(ctx context.Context, text string) safety.Verdict
}

type AdviceGenerator interface {
	Generate(ctx context.Context, req advice.Request) advice.Result
}

type Deps struct {
	Safety    SafetyChecker
	Knowledge knowledge.Repository
	Advisor   AdviceGenerator
	// Store may be nil, in which case nothing is persisted.
	Store        history.Store
	StoreBackend string
	Metrics      *metrics.Collector
	Logger       *zap.Logger
}

type Service struct {
	safety       SafetyChecker
	repo         knowledge.Repository
	advisor      AdviceGenerator
	store        history.Store
	storeBackend string
	metrics      *metrics.Collector
	log          *zap.Logger
	now          func() time.Time
}

func NewService(d Deps) *Service {
	return &Service{
		safety:       d.Safety,
		repo:         d.Knowledge,
		advisor:      d.Advisor,
		store:        d.Store,
		storeBackend: d.StoreBackend,
		metrics:      d.Metrics,
		log:          d.Logger,
		now:          time.Now,
	}
}

// Process never returns an error: every failure is folded into the result
// status so the caller can always render and persist it.
func (s *Service) Process(ctx context.Context, q Query) Result {
	start := s.now()
	res := s.run(ctx, q)

	end := s.now()
	res.ServerDurationMS = millis(end.Sub(start))
	res.TotalDurationMS = totalDuration(q.ClientStartTS, end, res.ServerDurationMS)

	s.log.Info("query processed",
		zap.String("status", string(res.Status)),
		zap.String("disease", res.DiseaseName),
		zap.Float64("server_duration_ms", res.ServerDurationMS),
		zap.Float64("total_duration_ms", res.TotalDurationMS),
	)
	if s.metrics != nil {
		s.metrics.QueriesTotal.WithLabelValues(string(res.Status)).Inc()
	}

	s.persist(ctx, q, res)
	return res
}

func (s *Service) run(ctx context.Context, q Query) Result {
	s.log.Info("user input",
		zap.String("step", "user_input"),
		zap.String("channel", q.SourceChannel),
		zap.String("symptom_preview", logger.Preview(q.Symptom, 100)),
		zap.Any("patient_info", logger.Redact(q.PatientInfo.Map())),
	)

	verdict := s.safety.Check(ctx, q.Symptom)
	switch verdict.Decision {
	case safety.Block:
		s.rejected(verdict.Reason)
		s.recordSecurityEvent(ctx, q, verdict)
		return Result{
			Status:       domain.StatusFailed,
			ErrorMessage: MsgUnsafe,
			SupplementaryInfo: map[string]any{
				"risk_score": verdict.Score,
				"reasons":    verdict.Issues,
			},
		}
	case safety.NonMedical:
		s.rejected(verdict.Reason)
		return Result{
			Status:            domain.StatusNoMatch,
			ErrorMessage:      MsgNonMedical,
			SupplementaryInfo: map[string]any{"reason": verdict.Reason},
		}
	}

	diseases, err := s.repo.Diseases(ctx)
	if err != nil {
		return s.failed("load diseases", err)
	}

	m := matcher.Find(q.Symptom, diseases)
	if !m.Found {
		s.log.Info("no disease matched", zap.String("step", "symptom_matching"))
		return Result{
			Status:            domain.StatusNoMatch,
			ErrorMessage:      MsgNoMatch,
			SupplementaryInfo: map[string]any{"reason": "no_match"},
		}
	}
	best := m.Best
	s.log.Info("symptom matched",
		zap.String("step", "symptom_matching"),
		zap.String("disease_id", best.DiseaseID),
		zap.Float64("confidence", best.Confidence),
		zap.Int("candidates", len(m.Candidates)),
	)

	guideline, risk, err := s.lookup(ctx, best.DiseaseID)
	if err != nil {
		return s.failed("knowledge lookup", err)
	}

	adv := s.advisor.Generate(ctx, advice.Request{
		Patient:   q.PatientInfo,
		Symptom:   best,
		Guideline: guideline,
		Risk:      risk,
	})

	return Result{
		Status:      domain.StatusSuccess,
		DiseaseName: best.DiseaseName,
		Urgency:     string(guideline.Urgency),
		Advice:      &adv.Advice,
		SupplementaryInfo: map[string]any{
			"disease_id":         best.DiseaseID,
			"confidence":         best.Confidence,
			"matched_symptoms":   best.MatchedSymptoms,
			"candidates":         m.Candidates,
			"recommended_action": guideline.RecommendedAction,
			"risk_groups":        risk.RiskGroups,
			"special_notes":      risk.SpecialNotes,
			"advice_source":      string(adv.Source),
		},
		Model: adv.Model,
	}
}

// lookup fetches the guideline and risk records concurrently, substituting
// defaults for records that do not exist.
func (s *Service) lookup(ctx context.Context, id string) (knowledge.Guideline, knowledge.Risk, error) {
	var (
		guideline knowledge.Guideline
		risk      knowledge.Risk
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := s.repo.Guideline(gctx, id)
		switch {
		case errors.Is(err, knowledge.ErrNotFound):
			s.log.Warn("guideline missing, using default", zap.String("disease_id", id))
			guideline = knowledge.DefaultGuideline(id)
		case err != nil:
			return fmt.Errorf("guideline %s: %w", id, err)
		default:
			guideline = v
		}
		return nil
	})
	g.Go(func() error {
		v, err := s.repo.Risk(gctx, id)
		switch {
		case errors.Is(err, knowledge.ErrNotFound):
			s.log.Warn("risk info missing, using default", zap.String("disease_id", id))
			risk = knowledge.DefaultRisk(id)
		case err != nil:
			return fmt.Errorf("risk %s: %w", id, err)
		default:
			risk = v
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return knowledge.Guideline{}, knowledge.Risk{}, err
	}
	return guideline, risk, nil
}

func (s *Service) failed(step string, err error) Result {
	s.log.Error("query processing failed", zap.String("step", step), zap.Error(err))
	return Result{Status: domain.StatusError, ErrorMessage: fmt.Sprintf(msgErrorFmt, err)}
}

func (s *Service) rejected(reason string) {
	if s.metrics != nil {
		s.metrics.SafetyRejections.WithLabelValues(reason).Inc()
	}
}
