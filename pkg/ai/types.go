package ai

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMissingAPIKey is returned when a client is constructed without credentials.
	ErrMissingAPIKey = errors.New("llm api key is required")
	// ErrTimeout indicates the request deadline expired before a usable response arrived.
	ErrTimeout = errors.New("llm request timed out")
	// ErrEmptyResponse indicates the endpoint answered without any completion content.
	ErrEmptyResponse = errors.New("llm returned an empty response")
)

// ClientError is returned for 4xx responses and for exhausted transport retries.
// Status is zero when no HTTP response was received.
type ClientError struct {
	Status int
	Body   string
}

func (e *ClientError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("llm client error: %s", e.Body)
	}
	return fmt.Sprintf("llm client error: status %d: %s", e.Status, e.Body)
}

// CompletionOptions tunes a single completion call. Zero values fall back to client defaults;
// a nil Temperature does too, so an explicit 0 can be requested.
type CompletionOptions struct {
	System         string
	MaxTokens      int
	Temperature    *float32
	RequestTimeout time.Duration
	TaskID         string
}

// Completer sends a prompt to a chat-completion endpoint and returns the raw text.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error)
}

// CallLog is one attempt against the LLM endpoint. Bodies are never recorded.
type CallLog struct {
	Endpoint      string
	Model         string
	TaskID        string
	Attempt       int
	StartedAt     time.Time
	Duration      time.Duration
	Outcome       string
	StatusCode    int
	PromptBytes   int
	ResponseBytes int
}

// CallRecorder persists the api-call log.
type CallRecorder interface {
	RecordCall(ctx context.Context, call CallLog) error
}

const (
	OutcomeSuccess       = "success"
	OutcomeClientError   = "client_error"
	OutcomeServerError   = "server_error"
	OutcomeNetworkError  = "network_error"
	OutcomeTimeout       = "timeout"
	OutcomeEmptyResponse = "empty_response"
)
