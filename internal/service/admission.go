package service

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/noah-isme/teaching-eval-scoring/internal/observability"
	"github.com/noah-isme/teaching-eval-scoring/internal/scoring"
)

// admission bounds concurrent LLM calls. Callers beyond the budget wait in a queue of at most
// queueDepth entries; further callers are rejected with Overloaded.
type admission struct {
	slots      *semaphore.Weighted
	queueDepth int64
	waiting    atomic.Int64
}

func newAdmission(concurrency, queueDepth int) *admission {
	if concurrency <= 0 {
		concurrency = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	return &admission{
		slots:      semaphore.NewWeighted(int64(concurrency)),
		queueDepth: int64(queueDepth),
	}
}

// acquire returns a release func once a slot is held.
func (a *admission) acquire(ctx context.Context, taskID string) (func(), error) {
	if a.slots.TryAcquire(1) {
		return a.release, nil
	}

	if a.waiting.Add(1) > a.queueDepth {
		a.waiting.Add(-1)
		return nil, scoring.NewError(scoring.KindOverloaded, taskID, "scoring queue is full, retry later", nil)
	}
	observability.ScoringQueueDepth().Inc()
	err := a.slots.Acquire(ctx, 1)
	a.waiting.Add(-1)
	observability.ScoringQueueDepth().Dec()
	if err != nil {
		return nil, err
	}
	return a.release, nil
}

func (a *admission) release() {
	a.slots.Release(1)
}
