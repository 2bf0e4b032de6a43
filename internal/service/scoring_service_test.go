package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/noah-isme/teaching-eval-scoring/internal/dto"
	"github.com/noah-isme/teaching-eval-scoring/internal/locator"
	"github.com/noah-isme/teaching-eval-scoring/internal/models"
	"github.com/noah-isme/teaching-eval-scoring/internal/repository"
	"github.com/noah-isme/teaching-eval-scoring/internal/scoring"
	"github.com/noah-isme/teaching-eval-scoring/pkg/ai"
	"github.com/noah-isme/teaching-eval-scoring/pkg/docparse"
)

var (
	adminPrincipal   = scoring.Principal{UserID: "admin-1", Role: scoring.RoleAdmin}
	teacherPrincipal = scoring.Principal{UserID: "teacher-1", Role: scoring.RoleTeacher}
)

const testSummary = "[Overall Assessment] solid plan. [Strengths] clear goals. [Issues] thin assessment. " +
	"[Suggestions for Improvement] add exit tickets. [Professional Development] observe peers."

type stubCompleter struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	respond func(ctx context.Context, call int, prompt string) (string, error)
}

func (s *stubCompleter) Complete(ctx context.Context, prompt string, opts ai.CompletionOptions) (string, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	return s.respond(ctx, call, prompt)
}

func (s *stubCompleter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func fixedResponse(raw string) func(context.Context, int, string) (string, error) {
	return func(context.Context, int, string) (string, error) { return raw, nil }
}

func llmResponse(veto bool, reason string, clarity, depth float64) string {
	return fmt.Sprintf(`Here is my evaluation:
{"veto_triggered":%t,"veto_reason":%q,"score_details":[`+
		`{"indicator":"Clarity","max_score":40,"score":%g,"reason":"objectives are explicit"},`+
		`{"indicator":"Depth","max_score":60,"score":%g,"reason":"activities build on each other"}],"summary":%q}`,
		veto, reason, clarity, depth, testSummary)
}

type scoringFixture struct {
	db        *gorm.DB
	root      string
	service   ScoringService
	records   repository.ScoringRecordRepository
	tasks     repository.EvaluationTaskRepository
	templates TemplateStore
	registry  TaskRegistry
	llm       *stubCompleter
}

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.ScoringRecord{},
		&models.ArchivedScore{},
		&models.ScoringTemplate{},
		&models.EvaluationTask{},
		&models.LLMAPICall{},
	))
	return db
}

func newScoringFixture(t *testing.T, cfg ScoringConfig, respond func(context.Context, int, string) (string, error)) *scoringFixture {
	t.Helper()
	db := setupServiceTestDB(t)
	root := t.TempDir()
	validate := validator.New(validator.WithRequiredStructEnabled())

	templates := NewTemplateStore(repository.NewScoringTemplateRepository(db), validate, zerolog.Nop())
	_, err := templates.Replace(context.Background(), scoring.FileTypeLessonPlan, dto.TemplateUpdateRequest{
		Criteria: []scoring.Criterion{
			{Name: "Clarity", MaxScore: 40},
			{Name: "Depth", MaxScore: 60},
		},
		VetoRules:    []scoring.VetoRule{{Trigger: "document blank", ReasonTemplate: "Document blank"}},
		DefaultTotal: 100,
		BonusCap:     10,
	}, "admin-1")
	require.NoError(t, err)

	tasks := repository.NewEvaluationTaskRepository(db)
	records := repository.NewScoringRecordRepository(db)
	registry := NewGormTaskRegistry(tasks)
	llm := &stubCompleter{respond: respond}
	documents := NewDocumentLoader(locator.New([]string{root}), docparse.New(0), nil, zerolog.Nop())

	svc := NewScoringService(ScoringDependencies{
		Templates: templates,
		Records:   records,
		Registry:  registry,
		Documents: documents,
		LLM:       llm,
		Validator: validate,
		Logger:    zerolog.Nop(),
	}, cfg)

	return &scoringFixture{
		db:        db,
		root:      root,
		service:   svc,
		records:   records,
		tasks:     tasks,
		templates: templates,
		registry:  registry,
		llm:       llm,
	}
}

// addTask registers a submitted task backed by one text file under the search root.
func (f *scoringFixture) addTask(t *testing.T, taskID, content string) {
	t.Helper()
	file := taskID + ".txt"
	if content != "" {
		require.NoError(t, os.WriteFile(filepath.Join(f.root, file), []byte(content), 0o600))
	}
	require.NoError(t, f.tasks.Create(context.Background(), &models.EvaluationTask{
		TaskID:         taskID,
		TeacherID:      "teacher-7",
		FileType:       string(scoring.FileTypeLessonPlan),
		FileReferences: []string{file},
		Status:         models.TaskStatusSubmitted,
	}))
}

func (f *scoringFixture) recordCount(t *testing.T, status string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&models.ScoringRecord{}).Where("status = ?", status).Count(&count).Error)
	return count
}

func TestScoreTaskHappyPath(t *testing.T) {
	f := newScoringFixture(t, ScoringConfig{}, fixedResponse(llmResponse(false, "", 30, 48)))
	f.addTask(t, "task-1", "Lesson plan: fractions for grade 4.")

	result, err := f.service.ScoreTask(context.Background(), "task-1", []scoring.BonusItem{{Label: "Innovation", Points: 5}}, adminPrincipal)
	require.NoError(t, err)
	require.Equal(t, 78.0, result.BaseScore)
	require.Equal(t, 5.0, result.BonusScore)
	require.Equal(t, 83.0, result.FinalScore)
	require.Equal(t, scoring.GradeB, result.Grade)
	require.Equal(t, "teacher-7", result.TeacherID)
	require.Equal(t, testSummary, result.Summary)
	require.NotEmpty(t, result.InputFingerprint)
	require.Len(t, result.ScoreDetails, 2)
	require.Empty(t, result.Audit.MissingSections)

	require.Equal(t, 1, f.llm.Calls())
	require.Contains(t, f.llm.prompts[0], "===== File: task-1.txt =====")
	require.Contains(t, f.llm.prompts[0], "fractions for grade 4")
	require.Contains(t, f.llm.prompts[0], "Innovation")

	stored, err := f.records.Get(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, result.InputFingerprint, stored.InputFingerprint)
	require.Equal(t, "admin-1", stored.Actor)
	require.Equal(t, []scoring.BonusItem{{Label: "Innovation", Points: 5}}, []scoring.BonusItem(stored.BonusItems))

	task, err := f.tasks.Get(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusScored, task.Status)
	require.NotNil(t, task.FinalScore)
	require.Equal(t, 83.0, *task.FinalScore)
	require.Equal(t, "B", task.Grade)
}

func TestScoreTaskVeto(t *testing.T) {
	f := newScoringFixture(t, ScoringConfig{}, fixedResponse(llmResponse(true, "Document blank", 15, 20)))
	f.addTask(t, "task-1", "   ")

	result, err := f.service.ScoreTask(context.Background(), "task-1", []scoring.BonusItem{{Label: "Innovation", Points: 5}}, adminPrincipal)
	require.NoError(t, err)
	require.True(t, result.VetoTriggered)
	require.Equal(t, "Document blank", result.VetoReason)
	require.Zero(t, result.BonusScore)
	require.Zero(t, result.FinalScore)
	require.Equal(t, scoring.GradeF, result.Grade)
	for _, detail := range result.ScoreDetails {
		require.Zero(t, detail.Score)
	}
}

func TestScoreCustomTotalRescalesRubric(t *testing.T) {
	raw := `{"veto_triggered":false,"veto_reason":"","score_details":[` +
		`{"indicator":"Clarity","max_score":20,"score":18,"reason":"ok"},` +
		`{"indicator":"Depth","max_score":30,"score":25,"reason":"ok"}],"summary":"` + testSummary + `"}`
	f := newScoringFixture(t, ScoringConfig{}, fixedResponse(raw))
	f.addTask(t, "task-1", "content")

	custom := 50.0
	result, err := f.service.Score(context.Background(), scoring.Task{
		TaskID:         "task-1",
		TeacherID:      "teacher-7",
		FileType:       scoring.FileTypeLessonPlan,
		FileReferences: []string{"task-1.txt"},
		CustomTotal:    &custom,
	}, adminPrincipal)
	require.NoError(t, err)
	require.Equal(t, 43.0, result.FinalScore)
	require.Equal(t, 50.0, result.EffectiveTotal)
	require.Equal(t, scoring.GradeB, result.Grade)
	require.Equal(t, 20.0, result.ScoreDetails[0].MaxScore)
	require.Equal(t, 30.0, result.ScoreDetails[1].MaxScore)
	require.Contains(t, f.llm.prompts[0], "Clarity (max 20 points)")
}

func TestScoreRejectsCustomTotalBelowCriterionCount(t *testing.T) {
	f := newScoringFixture(t, ScoringConfig{}, fixedResponse(llmResponse(false, "", 30, 48)))
	f.addTask(t, "task-1", "content")

	custom := 1.0
	_, err := f.service.Score(context.Background(), scoring.Task{
		TaskID:         "task-1",
		TeacherID:      "teacher-7",
		FileType:       scoring.FileTypeLessonPlan,
		FileReferences: []string{"task-1.txt"},
		CustomTotal:    &custom,
	}, adminPrincipal)
	require.ErrorIs(t, err, scoring.ErrInvalidInput)
	require.ErrorIs(t, err, scoring.ErrTotalTooSmall)
	require.Zero(t, f.llm.Calls())
}

func TestScoreTaskReusesUnchangedInput(t *testing.T) {
	f := newScoringFixture(t, ScoringConfig{}, fixedResponse(llmResponse(false, "", 30, 48)))
	f.addTask(t, "task-1", "version one")
	ctx := context.Background()

	first, err := f.service.ScoreTask(ctx, "task-1", nil, adminPrincipal)
	require.NoError(t, err)
	second, err := f.service.ScoreTask(ctx, "task-1", nil, adminPrincipal)
	require.NoError(t, err)
	require.Equal(t, first.InputFingerprint, second.InputFingerprint)
	require.Equal(t, first.FinalScore, second.FinalScore)
	require.Equal(t, 1, f.llm.Calls())
	require.EqualValues(t, 1, f.recordCount(t, models.ScoringStatusScored))

	require.NoError(t, os.WriteFile(filepath.Join(f.root, "task-1.txt"), []byte("version two, rewritten"), 0o600))
	third, err := f.service.ScoreTask(ctx, "task-1", nil, adminPrincipal)
	require.NoError(t, err)
	require.NotEqual(t, first.InputFingerprint, third.InputFingerprint)
	require.Equal(t, 2, f.llm.Calls())

	records, total, err := f.records.List(ctx, repository.ScoringRecordFilter{TaskID: "task-1", IncludeSuperseded: true})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.False(t, records[0].Superseded)
	require.True(t, records[1].Superseded)

	// Bonus items are part of the fingerprint.
	_, err = f.service.ScoreTask(ctx, "task-1", []scoring.BonusItem{{Label: "Innovation", Points: 2}}, adminPrincipal)
	require.NoError(t, err)
	require.Equal(t, 3, f.llm.Calls())
}

func TestScoreMissingFileIsInputUnavailable(t *testing.T) {
	f := newScoringFixture(t, ScoringConfig{}, fixedResponse(llmResponse(false, "", 30, 48)))
	f.addTask(t, "task-1", "")

	_, err := f.service.ScoreTask(context.Background(), "task-1", nil, adminPrincipal)
	require.ErrorIs(t, err, scoring.ErrInputUnavailable)
	require.ErrorIs(t, err, locator.ErrNotFound)
	require.Contains(t, scoring.Failure("task-1", err).Message, "task-1.txt")
	require.Zero(t, f.llm.Calls())

	var count int64
	require.NoError(t, f.db.Model(&models.ScoringRecord{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestScoreInvalidResponsePersistsFailedAttempt(t *testing.T) {
	f := newScoringFixture(t, ScoringConfig{}, fixedResponse("I cannot grade this document."))
	f.addTask(t, "task-1", "content")

	_, err := f.service.ScoreTask(context.Background(), "task-1", nil, adminPrincipal)
	require.ErrorIs(t, err, scoring.ErrInvalidResponse)
	require.Equal(t, scoring.KindInvalid, scoring.KindOf(err))

	record, err := f.records.Get(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, models.ScoringStatusFailed, record.Status)
	require.Equal(t, string(scoring.KindInvalid), record.ErrorKind)
	require.Equal(t, "I cannot grade this document.", record.RawResponse)

	task, err := f.tasks.Get(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusSubmitted, task.Status)
}

func TestScoreMapsLLMErrors(t *testing.T) {
	cases := map[string]struct {
		err  error
		kind scoring.ErrorKind
	}{
		"client error": {err: &ai.ClientError{Status: 401, Body: "invalid api key"}, kind: scoring.KindLLMClientError},
		"timeout":      {err: ai.ErrTimeout, kind: scoring.KindLLMTimeout},
		"empty":        {err: ai.ErrEmptyResponse, kind: scoring.KindLLMEmptyResponse},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newScoringFixture(t, ScoringConfig{}, func(context.Context, int, string) (string, error) { return "", tc.err })
			f.addTask(t, "task-1", "content")

			_, err := f.service.ScoreTask(context.Background(), "task-1", nil, adminPrincipal)
			require.Error(t, err)
			require.Equal(t, tc.kind, scoring.KindOf(err))
			require.EqualValues(t, 1, f.recordCount(t, models.ScoringStatusFailed))
		})
	}
}

func TestScoreTaskDeadlineReportsTimeout(t *testing.T) {
	f := newScoringFixture(t, ScoringConfig{TaskTimeout: 50 * time.Millisecond}, func(ctx context.Context, _ int, _ string) (string, error) {
		<-ctx.Done()
		return "", ai.ErrTimeout
	})
	f.addTask(t, "task-1", "content")

	_, err := f.service.ScoreTask(context.Background(), "task-1", nil, adminPrincipal)
	require.ErrorIs(t, err, scoring.ErrTimeout)
	require.EqualValues(t, 1, f.recordCount(t, models.ScoringStatusFailed))
}

func TestScoreRejectsUnauthorizedPrincipal(t *testing.T) {
	f := newScoringFixture(t, ScoringConfig{}, fixedResponse(llmResponse(false, "", 30, 48)))
	f.addTask(t, "task-1", "content")

	_, err := f.service.ScoreTask(context.Background(), "task-1", nil, teacherPrincipal)
	require.ErrorIs(t, err, scoring.ErrUnauthorized)

	_, err = f.service.ScoreBatchByID(context.Background(), []string{"task-1"}, teacherPrincipal)
	require.ErrorIs(t, err, scoring.ErrUnauthorized)
	require.Zero(t, f.llm.Calls())
}

func TestScoreRejectsBonusAboveCap(t *testing.T) {
	f := newScoringFixture(t, ScoringConfig{}, fixedResponse(llmResponse(false, "", 30, 48)))
	f.addTask(t, "task-1", "content")

	_, err := f.service.ScoreTask(context.Background(), "task-1", []scoring.BonusItem{{Label: "A", Points: 6}, {Label: "B", Points: 6}}, adminPrincipal)
	require.ErrorIs(t, err, scoring.ErrInvalidInput)
	require.ErrorIs(t, err, scoring.ErrBonusExceedsCap)

	_, err = f.service.ScoreTask(context.Background(), "task-1", []scoring.BonusItem{{Label: "", Points: 1}}, adminPrincipal)
	require.ErrorIs(t, err, scoring.ErrInvalidInput)
	require.Zero(t, f.llm.Calls())
}

func TestScoreTaskRegistryStates(t *testing.T) {
	f := newScoringFixture(t, ScoringConfig{}, fixedResponse(llmResponse(false, "", 30, 48)))
	ctx := context.Background()
	require.NoError(t, f.tasks.Create(ctx, &models.EvaluationTask{TaskID: "task-pending", TeacherID: "t", FileType: "lesson_plan", Status: models.TaskStatusPending}))

	_, err := f.service.ScoreTask(ctx, "task-pending", nil, adminPrincipal)
	require.ErrorIs(t, err, scoring.ErrInputUnavailable)

	_, err = f.service.ScoreTask(ctx, "task-unknown", nil, adminPrincipal)
	require.ErrorIs(t, err, scoring.ErrTaskNotFound)
}

func TestScoreOverloadedWhenQueueIsFull(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	f := newScoringFixture(t, ScoringConfig{LLMConcurrency: 1, QueueDepth: 0}, func(_ context.Context, call int, _ string) (string, error) {
		if call == 1 {
			close(started)
			<-unblock
		}
		return llmResponse(false, "", 30, 48), nil
	})
	f.addTask(t, "task-1", "first")
	f.addTask(t, "task-2", "second")

	done := make(chan error, 1)
	go func() {
		_, err := f.service.ScoreTask(context.Background(), "task-1", nil, adminPrincipal)
		done <- err
	}()
	<-started

	_, err := f.service.ScoreTask(context.Background(), "task-2", nil, adminPrincipal)
	require.ErrorIs(t, err, scoring.ErrOverloaded)
	require.True(t, scoring.KindOf(err).Retryable())

	close(unblock)
	require.NoError(t, <-done)

	_, err = f.service.ScoreTask(context.Background(), "task-2", nil, adminPrincipal)
	require.NoError(t, err)
}

func TestScoreBatchKeepsInputOrder(t *testing.T) {
	f := newScoringFixture(t, ScoringConfig{BatchConcurrency: 2}, func(_ context.Context, _ int, prompt string) (string, error) {
		if strings.Contains(prompt, "slow task") {
			time.Sleep(30 * time.Millisecond)
		}
		return llmResponse(false, "", 30, 48), nil
	})
	f.addTask(t, "t1", "slow task content")
	f.addTask(t, "t2", "")
	f.addTask(t, "t3", "quick task content")

	response, err := f.service.ScoreBatchByID(context.Background(), []string{"t1", "t2", "t3"}, adminPrincipal)
	require.NoError(t, err)
	require.Equal(t, 3, response.Total)
	require.Equal(t, 2, response.Success)
	require.Equal(t, 1, response.Failed)
	require.Len(t, response.Results, 3)

	require.Equal(t, "t1", response.Results[0].TaskID)
	require.NotNil(t, response.Results[0].Result)
	require.Equal(t, "t2", response.Results[1].TaskID)
	require.Nil(t, response.Results[1].Result)
	require.NotNil(t, response.Results[1].Error)
	require.Equal(t, scoring.KindInputUnavailable, response.Results[1].Error.Kind)
	require.Equal(t, "t3", response.Results[2].TaskID)
	require.NotNil(t, response.Results[2].Result)
}

func TestScoreBatchCanceledBeforeStart(t *testing.T) {
	f := newScoringFixture(t, ScoringConfig{BatchConcurrency: 1}, fixedResponse(llmResponse(false, "", 30, 48)))
	f.addTask(t, "t1", "content")
	f.addTask(t, "t2", "content")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes, err := f.service.ScoreBatch(ctx, []scoring.Task{
		{TaskID: "t1", FileType: scoring.FileTypeLessonPlan, FileReferences: []string{"t1.txt"}},
		{TaskID: "t2", FileType: scoring.FileTypeLessonPlan, FileReferences: []string{"t2.txt"}},
	}, adminPrincipal)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	for i, outcome := range outcomes {
		require.Equal(t, fmt.Sprintf("t%d", i+1), outcome.TaskID)
		require.NotNil(t, outcome.Failure)
		require.Equal(t, scoring.KindCanceled, outcome.Failure.Kind)
	}
	require.Zero(t, f.llm.Calls())
}

func TestScoreRollsBackWhenRegistryRejects(t *testing.T) {
	f := newScoringFixture(t, ScoringConfig{}, fixedResponse(llmResponse(false, "", 30, 48)))
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "orphan.txt"), []byte("content"), 0o600))

	_, err := f.service.Score(context.Background(), scoring.Task{
		TaskID:         "orphan",
		FileType:       scoring.FileTypeLessonPlan,
		FileReferences: []string{"orphan.txt"},
	}, adminPrincipal)
	require.True(t, errors.Is(err, scoring.ErrTaskNotFound))
	require.Zero(t, f.recordCount(t, models.ScoringStatusScored))
}
