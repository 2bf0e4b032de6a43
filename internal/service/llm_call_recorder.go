package service

import (
	"context"

	"github.com/noah-isme/teaching-eval-scoring/internal/models"
	"github.com/noah-isme/teaching-eval-scoring/internal/repository"
	"github.com/noah-isme/teaching-eval-scoring/pkg/ai"
)

type llmCallRecorder struct {
	repo repository.LLMCallRepository
}

// NewLLMCallRecorder stores the LLM client's per-attempt log in llm_api_calls.
func NewLLMCallRecorder(repo repository.LLMCallRepository) ai.CallRecorder {
	return &llmCallRecorder{repo: repo}
}

func (r *llmCallRecorder) RecordCall(ctx context.Context, call ai.CallLog) error {
	return r.repo.Create(ctx, &models.LLMAPICall{
		TaskID:        call.TaskID,
		Endpoint:      call.Endpoint,
		Model:         call.Model,
		Attempt:       call.Attempt,
		Outcome:       call.Outcome,
		StatusCode:    call.StatusCode,
		PromptBytes:   call.PromptBytes,
		ResponseBytes: call.ResponseBytes,
		DurationMS:    call.Duration.Milliseconds(),
		StartedAt:     call.StartedAt.UTC(),
	})
}
