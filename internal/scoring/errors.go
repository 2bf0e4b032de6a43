package scoring

import (
	"errors"
	"fmt"
)

// ErrorKind classifies scoring failures for callers and HTTP mapping.
type ErrorKind string

const (
	KindInputUnavailable ErrorKind = "InputUnavailable"
	KindTemplateMissing  ErrorKind = "TemplateMissing"
	KindLLMTimeout       ErrorKind = "LLMTimeout"
	KindLLMClientError   ErrorKind = "LLMClientError"
	KindLLMEmptyResponse ErrorKind = "LLMEmptyResponse"
	KindInvalid          ErrorKind = "Invalid"
	KindOverloaded       ErrorKind = "Overloaded"
	KindTimeout          ErrorKind = "Timeout"
	KindUnauthorized     ErrorKind = "Unauthorized"
	KindInvalidInput     ErrorKind = "InvalidInput"
	KindCanceled         ErrorKind = "Canceled"
	KindTaskNotFound     ErrorKind = "TaskNotFound"
	KindRecordNotFound   ErrorKind = "RecordNotFound"
	KindArchiveNotFound  ErrorKind = "ArchiveNotFound"
	KindInternal         ErrorKind = "Internal"
)

var (
	// ErrInputUnavailable indicates a submitted file could not be located or parsed.
	ErrInputUnavailable = errors.New("input unavailable")
	// ErrTemplateMissing indicates no active template exists for the file type.
	ErrTemplateMissing = errors.New("scoring template missing")
	// ErrLLMTimeout indicates the LLM call exceeded its request deadline.
	ErrLLMTimeout = errors.New("llm request timed out")
	// ErrLLMClientError indicates the LLM endpoint rejected the request.
	ErrLLMClientError = errors.New("llm client error")
	// ErrLLMEmptyResponse indicates the LLM returned no content.
	ErrLLMEmptyResponse = errors.New("llm returned an empty response")
	// ErrInvalidResponse indicates the LLM response failed structural validation.
	ErrInvalidResponse = errors.New("invalid llm response")
	// ErrOverloaded indicates the scoring queue is full.
	ErrOverloaded = errors.New("scoring engine overloaded")
	// ErrTimeout indicates the task deadline expired.
	ErrTimeout = errors.New("scoring task timed out")
	// ErrUnauthorized indicates the principal may not invoke scoring operations.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidInput indicates a malformed scoring request.
	ErrInvalidInput = errors.New("invalid scoring input")
	// ErrCanceled indicates a batch task was canceled before it started.
	ErrCanceled = errors.New("scoring task canceled")
	// ErrTaskNotFound indicates the task registry has no such task.
	ErrTaskNotFound = errors.New("task not found")
	// ErrRecordNotFound indicates no scoring record exists for the task.
	ErrRecordNotFound = errors.New("scoring record not found")
	// ErrArchiveNotFound indicates the archive identifier is unknown.
	ErrArchiveNotFound = errors.New("archived score not found")
)

var kindSentinels = map[ErrorKind]error{
	KindInputUnavailable: ErrInputUnavailable,
	KindTemplateMissing:  ErrTemplateMissing,
	KindLLMTimeout:       ErrLLMTimeout,
	KindLLMClientError:   ErrLLMClientError,
	KindLLMEmptyResponse: ErrLLMEmptyResponse,
	KindInvalid:          ErrInvalidResponse,
	KindOverloaded:       ErrOverloaded,
	KindTimeout:          ErrTimeout,
	KindUnauthorized:     ErrUnauthorized,
	KindInvalidInput:     ErrInvalidInput,
	KindCanceled:         ErrCanceled,
	KindTaskNotFound:     ErrTaskNotFound,
	KindRecordNotFound:   ErrRecordNotFound,
	KindArchiveNotFound:  ErrArchiveNotFound,
}

// Error is the structured failure surfaced to callers.
type Error struct {
	Kind    ErrorKind
	TaskID  string
	Message string
	Err     error
}

// NewError builds an Error of the given kind.
func NewError(kind ErrorKind, taskID, message string, cause error) *Error {
	return &Error{Kind: kind, TaskID: taskID, Message: message, Err: cause}
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.TaskID != "" {
		prefix = fmt.Sprintf("%s [task %s]", prefix, e.TaskID)
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	default:
		return prefix
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error associated with the kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// KindOf extracts the error kind, falling back to sentinel matching and then Internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var scoringErr *Error
	if errors.As(err, &scoringErr) {
		return scoringErr.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}

// Failure converts an error into the batch FailureInfo shape.
func Failure(taskID string, err error) FailureInfo {
	info := FailureInfo{TaskID: taskID, Kind: KindOf(err), Message: err.Error()}
	var scoringErr *Error
	if errors.As(err, &scoringErr) {
		if scoringErr.TaskID != "" {
			info.TaskID = scoringErr.TaskID
		}
		if scoringErr.Message != "" {
			info.Message = scoringErr.Message
		}
	}
	return info
}

// Retryable reports whether callers may retry the same request later.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindOverloaded, KindLLMTimeout, KindTimeout, KindCanceled:
		return true
	default:
		return false
	}
}
