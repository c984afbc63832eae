package advice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Skufu/GoTriage/internal/config"
)

var ErrEmptyCompletion = errors.New("model returned no content")

type CompletionRequest struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

type Completion struct {
	Text        string
	Model       string
	TotalTokens int
}

// Completer is the chat-completion backend used for advice, repair and
// intent checks.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

type OpenAIClient struct {
	client     *openai.Client
	model      string
	timeout    time.Duration
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[openai.ChatCompletionResponse]
	maxRetries uint64
	backoff    time.Duration
	log        *zap.Logger
}

type ClientOption func(*OpenAIClient)

// WithRetry overrides the retry budget. attempts counts the first call.
func WithRetry(attempts uint64, backoff time.Duration) ClientOption {
	return func(c *OpenAIClient) {
		if attempts > 0 {
			c.maxRetries = attempts - 1
		}
		c.backoff = backoff
	}
}

func NewOpenAIClient(cfg config.LLMConfig, log *zap.Logger, opts ...ClientOption) *OpenAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	c := &OpenAIClient{
		client:     openai.NewClientWithConfig(oc),
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: 2,
		backoff:    500 * time.Millisecond,
		log:        log,
	}
	c.breaker = gobreaker.NewCircuitBreaker[openai.ChatCompletionResponse](gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// client errors say nothing about upstream health
		IsSuccessful: func(err error) bool {
			return err == nil || !transient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *OpenAIClient) Model() string { return c.model }

func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Completion{}, fmt.Errorf("llm rate limit: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	var (
		resp    openai.ChatCompletionResponse
		attempt int
	)
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		attemptCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}

		r, err := c.breaker.Execute(func() (openai.ChatCompletionResponse, error) {
			return c.client.CreateChatCompletion(attemptCtx, chatReq)
		})
		if err != nil {
			if ctx.Err() == nil && transient(err) {
				c.log.Warn("llm call failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
				return retry.RetryableError(err)
			}
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return Completion{}, fmt.Errorf("chat completion after %d attempt(s): %w", attempt, err)
	}

	if len(resp.Choices) == 0 {
		return Completion{}, ErrEmptyCompletion
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return Completion{}, ErrEmptyCompletion
	}

	model := resp.Model
	if model == "" {
		model = c.model
	}
	return Completion{Text: text, Model: model, TotalTokens: resp.Usage.TotalTokens}, nil
}

// transient reports whether a failed call is worth repeating.
func transient(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
