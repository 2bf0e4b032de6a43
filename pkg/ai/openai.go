package ai

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	llmLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scoring",
		Subsystem: "llm",
		Name:      "latency_seconds",
		Help:      "Latency of individual LLM completion attempts",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
	}, []string{"model"})

	llmCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scoring",
		Subsystem: "llm",
		Name:      "calls_total",
		Help:      "LLM completion attempts by outcome",
	}, []string{"outcome"})
)

const (
	defaultEndpoint   = "https://api.openai.com/v1"
	defaultModel      = "gpt-4o-mini"
	maxErrorBodyRunes = 512
)

// ChatConfig defines configuration options for the chat-completion client.
type ChatConfig struct {
	APIKey         string
	Endpoint       string
	Model          string
	MaxTokens      int
	Temperature    float32
	RequestTimeout time.Duration
	RetryAttempts  int
	RetryBackoff   time.Duration
	JSONMode       bool
	HTTPClient     *http.Client
	Recorder       CallRecorder
	Logger         zerolog.Logger
}

// ChatClient implements Completer against an OpenAI-compatible chat completion API.
// It is safe for concurrent use.
type ChatClient struct {
	client    *openai.Client
	cfg       ChatConfig
	tracer    trace.Tracer
	logger    zerolog.Logger
	sanitizer *bluemonday.Policy
}

// NewChatClient builds a client. An empty API key is rejected.
func NewChatClient(cfg ChatConfig) (*ChatClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}

	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	}

	return &ChatClient{
		client:    openai.NewClientWithConfig(config),
		cfg:       cfg,
		tracer:    otel.Tracer("github.com/noah-isme/teaching-eval-scoring/pkg/ai"),
		logger:    cfg.Logger.With().Str("component", "llm_client").Logger(),
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

// Complete sends the prompt and returns the first choice's content.
// Network errors, 5xx responses and empty completions are retried with exponential
// backoff; the whole call, retries included, is bounded by the request timeout.
func (c *ChatClient) Complete(parent context.Context, prompt string, opts CompletionOptions) (string, error) {
	timeout := c.cfg.RequestTimeout
	if opts.RequestTimeout > 0 {
		timeout = opts.RequestTimeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "llm.complete", trace.WithAttributes(
		attribute.String("model", c.cfg.Model),
		attribute.String("task_id", opts.TaskID),
		attribute.Int("prompt_bytes", len(prompt)),
	))
	defer span.End()

	request := c.buildRequest(prompt, opts)
	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(timeout), uint64(c.cfg.RetryAttempts)), ctx)

	attempts := 0
	var lastOutcome string
	var lastStatus int
	content, err := backoff.RetryNotifyWithData(func() (string, error) {
		attempts++
		content, outcome, status, err := c.attempt(ctx, request, prompt, opts.TaskID, attempts)
		lastOutcome, lastStatus = outcome, status
		if err != nil && (outcome == OutcomeClientError || outcome == OutcomeTimeout) {
			return "", backoff.Permanent(err)
		}
		return content, err
	}, policy, func(err error, wait time.Duration) {
		c.logger.Warn().
			Str("task_id", opts.TaskID).
			Int("attempt", attempts).
			Int("status", lastStatus).
			Str("outcome", lastOutcome).
			Dur("wait", wait).
			Msg("llm attempt failed, retrying")
	})
	if err == nil {
		span.SetAttributes(attribute.Int("attempts", attempts))
		return content, nil
	}

	err = c.finalError(ctx, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return "", err
}

// newBackOff yields initial * 2^n waits with ±25% jitter, never past the request deadline.
func (c *ChatClient) newBackOff(timeout time.Duration) *backoff.ExponentialBackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.cfg.RetryBackoff),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0.25),
		backoff.WithMaxInterval(timeout),
		backoff.WithMaxElapsedTime(timeout),
	)
}

func (c *ChatClient) buildRequest(prompt string, opts CompletionOptions) openai.ChatCompletionRequest {
	maxTokens := c.cfg.MaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	temperature := c.cfg.Temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	// go-openai omits a zero temperature from the request body.
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if opts.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: opts.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	request := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Messages:    messages,
	}
	if c.cfg.JSONMode {
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	return request
}

// attempt performs one HTTP round trip and classifies the outcome.
func (c *ChatClient) attempt(ctx context.Context, request openai.ChatCompletionRequest, prompt, taskID string, number int) (string, string, int, error) {
	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, request)
	duration := time.Since(start)

	var (
		content string
		outcome string
		status  int
	)

	switch {
	case err == nil && (len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == ""):
		outcome = OutcomeEmptyResponse
		status = http.StatusOK
		err = ErrEmptyResponse
	case err == nil:
		outcome = OutcomeSuccess
		status = http.StatusOK
		content = resp.Choices[0].Message.Content
	default:
		outcome, status, err = c.classify(ctx, err)
	}

	llmLatency.WithLabelValues(c.cfg.Model).Observe(duration.Seconds())
	llmCalls.WithLabelValues(outcome).Inc()
	c.record(ctx, CallLog{
		Endpoint:      c.cfg.Endpoint,
		Model:         c.cfg.Model,
		TaskID:        taskID,
		Attempt:       number,
		StartedAt:     start,
		Duration:      duration,
		Outcome:       outcome,
		StatusCode:    status,
		PromptBytes:   len(prompt),
		ResponseBytes: len(content),
	})

	c.logger.Debug().
		Str("endpoint", c.cfg.Endpoint).
		Str("task_id", taskID).
		Int("attempt", number).
		Int("status", status).
		Str("outcome", outcome).
		Int("prompt_bytes", len(prompt)).
		Int("response_bytes", len(content)).
		Dur("duration", duration).
		Msg("llm call")

	return content, outcome, status, err
}

func (c *ChatClient) classify(ctx context.Context, err error) (string, int, error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return OutcomeTimeout, 0, ErrTimeout
	}
	if errors.Is(err, io.EOF) {
		return OutcomeEmptyResponse, http.StatusOK, ErrEmptyResponse
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return c.classifyStatus(apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		body := reqErr.HTTPStatus
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return c.classifyStatus(reqErr.HTTPStatusCode, body)
	}

	return OutcomeNetworkError, 0, &ClientError{Body: c.sanitize(err.Error())}
}

func (c *ChatClient) classifyStatus(status int, body string) (string, int, error) {
	clientErr := &ClientError{Status: status, Body: c.sanitize(body)}
	if status >= http.StatusInternalServerError {
		return OutcomeServerError, status, clientErr
	}
	return OutcomeClientError, status, clientErr
}

// finalError maps what the retry loop gave up with. A deadline hit while waiting between
// attempts surfaces as a timeout.
func (c *ChatClient) finalError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	if err == nil {
		return ErrEmptyResponse
	}
	return err
}

func (c *ChatClient) record(ctx context.Context, call CallLog) {
	if c.cfg.Recorder == nil {
		return
	}
	if err := c.cfg.Recorder.RecordCall(context.WithoutCancel(ctx), call); err != nil {
		c.logger.Error().Err(err).Str("task_id", call.TaskID).Msg("failed to record llm call")
	}
}

func (c *ChatClient) sanitize(body string) string {
	cleaned := strings.TrimSpace(c.sanitizer.Sanitize(body))
	if utf8.RuneCountInString(cleaned) <= maxErrorBodyRunes {
		return cleaned
	}
	runes := []rune(cleaned)
	return string(runes[:maxErrorBodyRunes]) + "..."
}
