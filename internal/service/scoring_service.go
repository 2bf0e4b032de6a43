package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/noah-isme/teaching-eval-scoring/internal/dto"
	"github.com/noah-isme/teaching-eval-scoring/internal/models"
	"github.com/noah-isme/teaching-eval-scoring/internal/observability"
	"github.com/noah-isme/teaching-eval-scoring/internal/repository"
	"github.com/noah-isme/teaching-eval-scoring/internal/scoring"
	"github.com/noah-isme/teaching-eval-scoring/pkg/ai"
)

const (
	defaultBatchConcurrency = 4
	defaultTaskTimeout      = 5 * time.Minute
	maxTaskIDLength         = 64
)

// ScoringConfig tunes the engine.
type ScoringConfig struct {
	TaskTimeout      time.Duration
	RequestTimeout   time.Duration
	MaxTokens        int
	Temperature      float32
	BatchConcurrency int
	LLMConcurrency   int
	QueueDepth       int
}

// ScoringDependencies are the collaborators owned by the engine.
type ScoringDependencies struct {
	Templates TemplateStore
	Records   repository.ScoringRecordRepository
	Registry  TaskRegistry
	Documents DocumentLoader
	LLM       ai.Completer
	Events    EventPublisher
	Validator *validator.Validate
	Logger    zerolog.Logger
}

// BatchOutcome is the per-task outcome of a batch, exactly one of Result or Failure is set.
type BatchOutcome struct {
	TaskID  string
	Result  *scoring.Result
	Failure *scoring.FailureInfo
}

// ScoringService is the scoring engine.
type ScoringService interface {
	Score(ctx context.Context, task scoring.Task, actor scoring.Principal) (scoring.Result, error)
	ScoreTask(ctx context.Context, taskID string, bonusItems []scoring.BonusItem, actor scoring.Principal) (scoring.Result, error)
	ScoreBatch(ctx context.Context, tasks []scoring.Task, actor scoring.Principal) ([]BatchOutcome, error)
	ScoreBatchByID(ctx context.Context, taskIDs []string, actor scoring.Principal) (dto.BatchScoreResponse, error)
}

type scoringService struct {
	templates TemplateStore
	records   repository.ScoringRecordRepository
	registry  TaskRegistry
	documents DocumentLoader
	llm       ai.Completer
	events    EventPublisher
	validator *validator.Validate
	admission *admission
	cfg       ScoringConfig
	logger    zerolog.Logger
	now       func() time.Time
}

// NewScoringService constructs the engine from its collaborators.
func NewScoringService(deps ScoringDependencies, cfg ScoringConfig) ScoringService {
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = defaultBatchConcurrency
	}
	if cfg.LLMConcurrency <= 0 {
		cfg.LLMConcurrency = cfg.BatchConcurrency
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}
	events := deps.Events
	if events == nil {
		events = noopEventPublisher{}
	}
	validate := deps.Validator
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}

	return &scoringService{
		templates: deps.Templates,
		records:   deps.Records,
		registry:  deps.Registry,
		documents: deps.Documents,
		llm:       deps.LLM,
		events:    events,
		validator: validate,
		admission: newAdmission(cfg.LLMConcurrency, cfg.QueueDepth),
		cfg:       cfg,
		logger:    deps.Logger.With().Str("component", "scoring_service").Logger(),
		now:       time.Now,
	}
}

func (s *scoringService) Score(ctx context.Context, task scoring.Task, actor scoring.Principal) (scoring.Result, error) {
	tracer := otel.Tracer("github.com/noah-isme/teaching-eval-scoring/internal/service/scoring")
	ctx, span := tracer.Start(ctx, "scoring.score")
	span.SetAttributes(
		attribute.String("scoring.task_id", task.TaskID),
		attribute.String("scoring.file_type", string(task.FileType)),
		attribute.String("scoring.actor", actor.UserID),
	)
	defer span.End()

	fileType := string(task.FileType)
	if !task.FileType.Valid() {
		fileType = "unknown"
	}

	started := time.Now()
	result, reused, err := s.score(ctx, task, actor)
	observability.ScoringDuration().WithLabelValues(fileType).Observe(time.Since(started).Seconds())

	if err != nil {
		kind := scoring.KindOf(err)
		observability.ScoringRequests().WithLabelValues(fileType, string(kind)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		s.logger.Warn().
			Err(err).
			Str("task_id", task.TaskID).
			Str("kind", string(kind)).
			Str("actor", actor.UserID).
			Msg("scoring failed")
		return scoring.Result{}, err
	}

	outcome := "scored"
	if reused {
		outcome = "reused"
	}
	observability.ScoringRequests().WithLabelValues(fileType, outcome).Inc()
	span.SetAttributes(
		attribute.Float64("scoring.final_score", result.FinalScore),
		attribute.String("scoring.grade", string(result.Grade)),
		attribute.Bool("scoring.reused", reused),
	)
	return result, nil
}

func (s *scoringService) score(ctx context.Context, task scoring.Task, actor scoring.Principal) (scoring.Result, bool, error) {
	if !actor.IsAdmin() {
		return scoring.Result{}, false, scoring.NewError(scoring.KindUnauthorized, task.TaskID, "only administrators may score tasks", nil)
	}
	if err := s.validateTask(task); err != nil {
		return scoring.Result{}, false, err
	}

	taskCtx, cancel := s.taskContext(ctx, task)
	defer cancel()

	docs, err := s.documents.Load(taskCtx, task.TaskID, task.FileReferences)
	if err != nil {
		return scoring.Result{}, false, s.contextFailure(ctx, taskCtx, task.TaskID, err)
	}

	tmpl, err := s.templates.Get(taskCtx, task.FileType)
	if err != nil {
		return scoring.Result{}, false, s.contextFailure(ctx, taskCtx, task.TaskID, err)
	}
	if err := scoring.CheckBonusItems(task.BonusItems, tmpl.BonusCap); err != nil {
		return scoring.Result{}, false, scoring.NewError(scoring.KindInvalidInput, task.TaskID, err.Error(), err)
	}
	effectiveTotal := task.EffectiveTotal(tmpl)
	if err := scoring.CheckEffectiveTotal(tmpl, effectiveTotal); err != nil {
		return scoring.Result{}, false, scoring.NewError(scoring.KindInvalidInput, task.TaskID, err.Error(), err)
	}

	fingerprint := scoring.Fingerprint(scoring.FingerprintInput{
		FileType:        task.FileType,
		FileHashes:      DocumentHashes(docs),
		TemplateVersion: tmpl.Version,
		CustomTotal:     task.CustomTotal,
		BonusItems:      task.BonusItems,
	})

	current, err := s.records.FindCurrent(taskCtx, task.TaskID)
	switch {
	case err == nil && current.InputFingerprint == fingerprint:
		s.logger.Debug().Str("task_id", task.TaskID).Str("fingerprint", fingerprint).Msg("input unchanged, reusing scoring record")
		return resultFromRecord(current), true, nil
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		s.logger.Warn().Err(err).Str("task_id", task.TaskID).Msg("current record lookup failed")
	}

	failed := func(raw string, cause error) error {
		s.persistFailure(taskCtx, task, tmpl, effectiveTotal, fingerprint, raw, cause, actor)
		return cause
	}

	prompt := scoring.BuildPrompt(tmpl, JoinDocuments(docs), effectiveTotal, task.BonusItems)

	release, err := s.admission.acquire(taskCtx, task.TaskID)
	if err != nil {
		if scoring.KindOf(err) == scoring.KindOverloaded {
			return scoring.Result{}, false, err
		}
		err = s.contextFailure(ctx, taskCtx, task.TaskID, err)
		if scoring.KindOf(err) == scoring.KindTimeout {
			return scoring.Result{}, false, failed("", err)
		}
		return scoring.Result{}, false, err
	}
	temperature := s.cfg.Temperature
	raw, err := s.llm.Complete(taskCtx, prompt, ai.CompletionOptions{
		System:         scoring.SystemPrompt,
		MaxTokens:      s.cfg.MaxTokens,
		Temperature:    &temperature,
		RequestTimeout: s.cfg.RequestTimeout,
		TaskID:         task.TaskID,
	})
	release()
	if err != nil {
		err = s.llmFailure(ctx, taskCtx, task.TaskID, err)
		if scoring.KindOf(err) == scoring.KindCanceled {
			return scoring.Result{}, false, err
		}
		return scoring.Result{}, false, failed("", err)
	}

	assessment, err := scoring.ValidateResponse(raw, tmpl, effectiveTotal)
	if err != nil {
		return scoring.Result{}, false, failed(raw, scoring.NewError(scoring.KindInvalid, task.TaskID, err.Error(), err))
	}

	result := scoring.Compose(task, tmpl, effectiveTotal, assessment, raw, s.now().UTC())
	result.InputFingerprint = fingerprint

	record := recordFromResult(result, task.BonusItems, actor.UserID)
	created, err := s.records.Put(context.WithoutCancel(taskCtx), record, func(txCtx context.Context) error {
		return s.registry.UpdateTaskScoring(txCtx, task.TaskID, result.FinalScore, result.Grade, result.Summary, result.ScoredAt)
	})
	if err != nil {
		if scoring.KindOf(err) == scoring.KindTaskNotFound {
			return scoring.Result{}, false, err
		}
		return scoring.Result{}, false, fmt.Errorf("persist scoring record: %w", err)
	}
	if !created {
		return resultFromRecord(*record), true, nil
	}

	if result.Audit.Clamped {
		observability.ScoringClamped().Inc()
	}
	s.events.Publish(ctx, ScoringEvent{
		Type:       EventScored,
		TaskID:     result.TaskID,
		FinalScore: result.FinalScore,
		Grade:      string(result.Grade),
		At:         result.ScoredAt,
	})
	s.logger.Info().
		Str("task_id", result.TaskID).
		Str("file_type", string(result.FileType)).
		Float64("final_score", result.FinalScore).
		Str("grade", string(result.Grade)).
		Bool("veto", result.VetoTriggered).
		Bool("repaired", result.Audit.Repaired).
		Bool("clamped", result.Audit.Clamped).
		Str("actor", actor.UserID).
		Msg("task scored")
	return result, false, nil
}

func (s *scoringService) ScoreTask(ctx context.Context, taskID string, bonusItems []scoring.BonusItem, actor scoring.Principal) (scoring.Result, error) {
	if !actor.IsAdmin() {
		return scoring.Result{}, scoring.NewError(scoring.KindUnauthorized, taskID, "only administrators may score tasks", nil)
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return scoring.Result{}, scoring.NewError(scoring.KindInvalidInput, "", "task id is required", nil)
	}

	registered, err := s.registry.GetTask(ctx, taskID)
	if err != nil {
		return scoring.Result{}, err
	}
	switch {
	case isPendingTask(registered.Status):
		return scoring.Result{}, scoring.NewError(scoring.KindInputUnavailable, taskID, "task has no submission yet", nil)
	case isArchivedTask(registered.Status):
		return scoring.Result{}, scoring.NewError(scoring.KindInvalidInput, taskID, "task is archived; delete the archive before re-scoring", nil)
	}

	task := registered.Task
	task.BonusItems = bonusItems
	return s.Score(ctx, task, actor)
}

func (s *scoringService) ScoreBatch(ctx context.Context, tasks []scoring.Task, actor scoring.Principal) ([]BatchOutcome, error) {
	if !actor.IsAdmin() {
		return nil, scoring.NewError(scoring.KindUnauthorized, "", "only administrators may score tasks", nil)
	}
	return s.runBatch(ctx, len(tasks),
		func(i int) string { return tasks[i].TaskID },
		func(ctx context.Context, i int) (scoring.Result, error) { return s.Score(ctx, tasks[i], actor) },
	), nil
}

func (s *scoringService) ScoreBatchByID(ctx context.Context, taskIDs []string, actor scoring.Principal) (dto.BatchScoreResponse, error) {
	if !actor.IsAdmin() {
		return dto.BatchScoreResponse{}, scoring.NewError(scoring.KindUnauthorized, "", "only administrators may score tasks", nil)
	}
	if len(taskIDs) == 0 {
		return dto.BatchScoreResponse{}, scoring.NewError(scoring.KindInvalidInput, "", "at least one task id is required", nil)
	}

	outcomes := s.runBatch(ctx, len(taskIDs),
		func(i int) string { return strings.TrimSpace(taskIDs[i]) },
		func(ctx context.Context, i int) (scoring.Result, error) { return s.ScoreTask(ctx, taskIDs[i], nil, actor) },
	)
	return NewBatchScoreResponse(outcomes), nil
}

// runBatch scores n tasks on a bounded pool. Output order matches input order. Once ctx is
// done, tasks that have not started are reported as Canceled; started tasks keep running
// until they finish or hit their own deadline.
func (s *scoringService) runBatch(ctx context.Context, n int, idOf func(int) string, run func(context.Context, int) (scoring.Result, error)) []BatchOutcome {
	tracer := otel.Tracer("github.com/noah-isme/teaching-eval-scoring/internal/service/scoring")
	ctx, span := tracer.Start(ctx, "scoring.batch")
	span.SetAttributes(
		attribute.Int("scoring.batch_size", n),
		attribute.Int("scoring.batch_concurrency", s.cfg.BatchConcurrency),
	)
	defer span.End()

	outcomes := make([]BatchOutcome, n)
	var group errgroup.Group
	group.SetLimit(s.cfg.BatchConcurrency)

	for i := 0; i < n; i++ {
		group.Go(func() error {
			taskID := idOf(i)
			outcomes[i].TaskID = taskID

			if err := ctx.Err(); err != nil {
				failure := scoring.Failure(taskID, scoring.NewError(scoring.KindCanceled, taskID, "batch canceled before the task started", err))
				outcomes[i].Failure = &failure
				return nil
			}

			result, err := run(context.WithoutCancel(ctx), i)
			if err != nil {
				failure := scoring.Failure(taskID, err)
				outcomes[i].Failure = &failure
				return nil
			}
			outcomes[i].Result = &result
			return nil
		})
	}
	_ = group.Wait()

	failedCount := 0
	for _, outcome := range outcomes {
		if outcome.Failure != nil {
			failedCount++
		}
	}
	span.SetAttributes(attribute.Int("scoring.batch_failed", failedCount))
	s.logger.Info().Int("total", n).Int("failed", failedCount).Msg("batch scoring finished")
	return outcomes
}

func (s *scoringService) validateTask(task scoring.Task) error {
	switch {
	case strings.TrimSpace(task.TaskID) == "":
		return scoring.NewError(scoring.KindInvalidInput, "", "task id is required", nil)
	case len(task.TaskID) > maxTaskIDLength:
		return scoring.NewError(scoring.KindInvalidInput, task.TaskID, "task id is too long", nil)
	case !task.FileType.Valid():
		return scoring.NewError(scoring.KindInvalidInput, task.TaskID, fmt.Sprintf("unknown file type %q", task.FileType), scoring.ErrUnknownFileType)
	case len(task.FileReferences) == 0:
		return scoring.NewError(scoring.KindInvalidInput, task.TaskID, "at least one file reference is required", nil)
	case task.CustomTotal != nil && *task.CustomTotal <= 0:
		return scoring.NewError(scoring.KindInvalidInput, task.TaskID, "custom total must be positive", nil)
	}
	for _, item := range task.BonusItems {
		if err := s.validator.Struct(item); err != nil {
			return scoring.NewError(scoring.KindInvalidInput, task.TaskID, "bonus item failed validation", err)
		}
	}
	return nil
}

// taskContext bounds the task by the earlier of its own deadline and the configured timeout.
func (s *scoringService) taskContext(ctx context.Context, task scoring.Task) (context.Context, context.CancelFunc) {
	deadline := s.now().Add(s.cfg.TaskTimeout)
	if !task.Deadline.IsZero() && task.Deadline.Before(deadline) {
		deadline = task.Deadline
	}
	return context.WithDeadline(ctx, deadline)
}

// contextFailure reports an expired task deadline as Timeout and a canceled caller as Canceled.
func (s *scoringService) contextFailure(parent, taskCtx context.Context, taskID string, err error) error {
	switch {
	case errors.Is(taskCtx.Err(), context.DeadlineExceeded):
		return scoring.NewError(scoring.KindTimeout, taskID, "task deadline expired", err)
	case errors.Is(parent.Err(), context.Canceled):
		return scoring.NewError(scoring.KindCanceled, taskID, "scoring call canceled", err)
	default:
		return err
	}
}

func (s *scoringService) llmFailure(parent, taskCtx context.Context, taskID string, err error) error {
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return scoring.NewError(scoring.KindCanceled, taskID, "scoring call canceled", err)
	case errors.Is(taskCtx.Err(), context.DeadlineExceeded):
		return scoring.NewError(scoring.KindTimeout, taskID, "task deadline expired during the llm call", err)
	case errors.Is(err, ai.ErrTimeout):
		return scoring.NewError(scoring.KindLLMTimeout, taskID, "llm request timed out", err)
	case errors.Is(err, ai.ErrEmptyResponse):
		return scoring.NewError(scoring.KindLLMEmptyResponse, taskID, "llm returned an empty response", err)
	}

	var clientErr *ai.ClientError
	if errors.As(err, &clientErr) {
		return scoring.NewError(scoring.KindLLMClientError, taskID, clientErr.Error(), err)
	}
	return scoring.NewError(scoring.KindLLMClientError, taskID, "llm call failed", err)
}

// persistFailure keeps a failed attempt for audit. Storage errors are logged only.
func (s *scoringService) persistFailure(ctx context.Context, task scoring.Task, tmpl scoring.Template, effectiveTotal float64, fingerprint, raw string, cause error, actor scoring.Principal) {
	failure := scoring.Failure(task.TaskID, cause)
	record := &models.ScoringRecord{
		TaskID:           task.TaskID,
		InputFingerprint: fingerprint,
		TeacherID:        task.TeacherID,
		FileType:         string(task.FileType),
		TemplateVersion:  tmpl.Version,
		Status:           models.ScoringStatusFailed,
		EffectiveTotal:   effectiveTotal,
		BonusCap:         tmpl.BonusCap,
		RawResponse:      raw,
		ErrorKind:        string(failure.Kind),
		ErrorMessage:     failure.Message,
		Actor:            actor.UserID,
		ScoredAt:         s.now().UTC(),
	}
	if _, err := s.records.Put(context.WithoutCancel(ctx), record, nil); err != nil {
		s.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("failed to persist failed scoring attempt")
	}
}
