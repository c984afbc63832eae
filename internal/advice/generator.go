package advice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Skufu/GoTriage/internal/logger"
	"github.com/Skufu/GoTriage/internal/metrics"
	"github.com/Skufu/GoTriage/internal/safety"
)

const (
	mockModel = "mock"

	repairTemperature = 0.1
	// zero is dropped from the request body and the provider default applies
	intentTemperature = 0.01
)

var ErrNoModel = errors.New("no completion backend configured")

type Generator struct {
	completer   Completer
	model       string
	temperature float32
	maxTokens   int
	metrics     *metrics.Collector
	log         *zap.Logger
}

type GeneratorConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// NewGenerator builds an advice generator. A nil completer puts it in mock
// mode; m may be nil.
func NewGenerator(completer Completer, cfg GeneratorConfig, m *metrics.Collector, log *zap.Logger) *Generator {
	model := cfg.Model
	if completer == nil {
		model = mockModel
	}
	return &Generator{
		completer:   completer,
		model:       model,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
		metrics:     m,
		log:         log,
	}
}

func (g *Generator) Model() string { return g.model }

func (g *Generator) MockMode() bool { return g.completer == nil }

// Generate always returns usable advice. Completion or parse failures
// degrade to canned guidance and are reported through Result.Source.
func (g *Generator) Generate(ctx context.Context, req Request) Result {
	start := time.Now()
	res := g.generate(ctx, req)
	res.DurationMS = float64(time.Since(start).Microseconds()) / 1000
	if g.metrics != nil {
		g.metrics.AdviceSource.WithLabelValues(string(res.Source)).Inc()
	}
	return res
}

func (g *Generator) generate(ctx context.Context, req Request) Result {
	prompt := BuildPrompt(req)

	if g.completer == nil {
		out := mockCompletion(req)
		a, err := Parse(out)
		if err != nil {
			// mock templates are fixed; reaching here means a template bug
			g.log.Error("mock advice did not parse", zap.Error(err))
			return Result{Advice: genericFallback(), Source: SourceFallback, Model: g.model, Err: err.Error()}
		}
		g.log.Debug("mock advice generated", zap.String("disease", req.Symptom.DiseaseName))
		return Result{Advice: a, Source: SourceMock, Model: g.model}
	}

	callStart := time.Now()
	c, err := g.completer.Complete(ctx, CompletionRequest{
		System:      systemPrompt,
		User:        prompt,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	g.observe(callStart, err)
	if err != nil {
		g.log.Error("advice completion failed, using fallback",
			zap.String("disease", req.Symptom.DiseaseName),
			zap.Error(err),
		)
		return Result{Advice: completionFallback(req), Source: SourceFallback, Model: g.model, Err: err.Error()}
	}

	g.log.Info("llm call",
		zap.String("model", c.Model),
		zap.Int("prompt_chars", len([]rune(prompt))),
		zap.Int("tokens", c.TotalTokens),
		zap.Float64("duration_ms", float64(time.Since(callStart).Milliseconds())),
		zap.String("response_preview", logger.Preview(c.Text, 200)),
	)

	a, perr := Parse(c.Text)
	if perr == nil {
		return Result{Advice: a, Source: SourceLLM, Model: c.Model, Tokens: c.TotalTokens}
	}

	g.log.Warn("advice output did not parse, attempting repair", zap.Error(perr))
	a, rerr := g.repair(ctx, c.Text, perr)
	if rerr == nil {
		return Result{Advice: a, Source: SourceRepaired, Model: c.Model, Tokens: c.TotalTokens}
	}

	g.log.Error("advice repair failed, using fallback", zap.Error(rerr))
	return Result{Advice: genericFallback(), Source: SourceFallback, Model: c.Model, Tokens: c.TotalTokens, Err: rerr.Error()}
}

func (g *Generator) repair(ctx context.Context, output string, cause error) (Advice, error) {
	callStart := time.Now()
	c, err := g.completer.Complete(ctx, CompletionRequest{
		System:      systemPrompt,
		User:        fmt.Sprintf(repairPrompt, cause, formatInstructions, output),
		Temperature: repairTemperature,
		MaxTokens:   200,
	})
	g.observe(callStart, err)
	if err != nil {
		return Advice{}, fmt.Errorf("repair completion: %w", err)
	}
	return Parse(c.Text)
}

func (g *Generator) observe(start time.Time, err error) {
	if g.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	g.metrics.LLMCallDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

type intentVerdict struct {
	IsMedical  bool   `json:"is_medical"`
	Confidence int    `json:"confidence"`
	Reason     string `json:"reason"`
}

// AssessIntent asks the model whether text is a health consultation.
func (g *Generator) AssessIntent(ctx context.Context, text string) (safety.Intent, error) {
	if g.completer == nil {
		return safety.Intent{}, ErrNoModel
	}

	callStart := time.Now()
	c, err := g.completer.Complete(ctx, CompletionRequest{
		System:      systemPrompt,
		User:        fmt.Sprintf(intentPrompt, text),
		Temperature: intentTemperature,
		MaxTokens:   100,
	})
	g.observe(callStart, err)
	if err != nil {
		return safety.Intent{}, err
	}

	raw, err := extractJSON(c.Text)
	if err != nil {
		return safety.Intent{}, err
	}
	var v intentVerdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return safety.Intent{}, fmt.Errorf("decode intent verdict: %w", err)
	}
	v.Confidence = max(0, min(100, v.Confidence))
	return safety.Intent{IsMedical: v.IsMedical, Confidence: v.Confidence, Reason: v.Reason}, nil
}

func completionFallback(req Request) Advice {
	action := req.Guideline.RecommendedAction
	if action == "" {
		action = "建议就医"
	}
	return Advice{
		Assessment:        "根据症状描述，疑似" + req.Symptom.DiseaseName,
		ImmediateActions:  []string{"保持冷静", "观察症状变化"},
		MedicalAdvice:     action,
		MonitoringPoints:  []string{"体温", "症状严重程度", "精神状态"},
		EmergencyHandling: "如症状加重或出现紧急情况，请立即就医",
	}
}

func genericFallback() Advice {
	return Advice{
		Assessment:        "系统暂时无法生成详细建议",
		ImmediateActions:  []string{"保持冷静", "观察症状变化"},
		MedicalAdvice:     "请及时就医",
		MonitoringPoints:  []string{"体温", "症状严重程度", "新出现症状"},
		EmergencyHandling: "如出现呼吸困难、意识模糊等紧急情况，立即拨打120",
	}
}

func mockCompletion(req Request) string {
	name := req.Symptom.DiseaseName
	switch {
	case strings.Contains(name, "感冒") || strings.Contains(name, "流感"):
		return `{
    "assessment": "根据症状分析，疑似上呼吸道感染（普通感冒）",
    "immediate_actions": ["多休息", "多喝水", "监测体温"],
    "medical_advice": "建议居家观察1-2天，如症状加重或持续发热请及时就医",
    "monitoring_points": ["体温变化", "咳嗽程度", "精神状态"],
    "emergency_handling": "如出现高热不退、呼吸困难、胸痛等症状，请立即就医"
}`
	case strings.Contains(name, "心脏") || strings.Contains(name, "胸痛"):
		return `{
    "assessment": "根据症状分析，疑似心血管相关疾病，需要专业评估",
    "immediate_actions": ["立即停止活动", "保持安静", "拨打120"],
    "medical_advice": "胸痛症状需要立即就医检查，不建议自行处理",
    "monitoring_points": ["胸痛程度", "是否放射至左臂", "伴随症状"],
    "emergency_handling": "胸痛是急症症状，请立即拨打120或前往最近医院急诊科"
}`
	}

	a := Advice{
		Assessment:        "根据症状分析，疑似" + name,
		ImmediateActions:  []string{"保持冷静", "观察症状变化", "记录症状发展"},
		MedicalAdvice:     req.Guideline.RecommendedAction,
		MonitoringPoints:  []string{"症状严重程度", "是否出现新症状", "精神状态"},
		EmergencyHandling: "如症状加重或出现紧急情况，请立即就医",
	}
	out, _ := json.Marshal(a)
	return string(out)
}
