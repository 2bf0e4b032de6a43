package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/teaching-eval-scoring/internal/database"
	"github.com/noah-isme/teaching-eval-scoring/internal/models"
)

const summaryResponse = `{"veto_triggered":false,"veto_reason":"","score_details":[` +
	`{"indicator":"Completeness","max_score":25,"score":22,"reason":"covers all duties"},` +
	`{"indicator":"Achievements","max_score":25,"score":20,"reason":"data supported"},` +
	`{"indicator":"Problem Analysis","max_score":25,"score":18,"reason":"candid"},` +
	`{"indicator":"Future Goals","max_score":25,"score":20,"reason":"feasible"}],` +
	`"summary":"[Overall Assessment] good. [Strengths] data. [Issues] brief. [Suggestions for Improvement] expand. [Professional Development] mentoring."}`

type cliEnv struct {
	root   string
	dbURL  string
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func setupCLI(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"choices": []map[string]interface{}{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": summaryResponse},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(server.Close)

	root := filepath.Join(dir, "uploads")
	require.NoError(t, os.MkdirAll(root, 0o755))

	env := &cliEnv{
		root:   root,
		dbURL:  "sqlite://" + filepath.Join(dir, "scoring.db"),
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
	}
	t.Setenv("SCORING_DATABASE_URL", env.dbURL)
	t.Setenv("SCORING_LLM_API_KEY", "sk-test")
	t.Setenv("SCORING_LLM_ENDPOINT", server.URL+"/v1")
	t.Setenv("SCORING_FILE_SEARCH_ROOTS", root)
	t.Setenv("SCORING_RETRY_ATTEMPTS", "0")
	return env
}

func (e *cliEnv) run(args ...string) int {
	e.stdout.Reset()
	e.stderr.Reset()
	return run(context.Background(), args, e.stdout, e.stderr)
}

func (e *cliEnv) addTask(t *testing.T, taskID string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(e.root, taskID+".md"), []byte("Term summary for "+taskID), 0o600))

	db, err := database.Connect(e.dbURL)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	require.NoError(t, db.Create(&models.EvaluationTask{
		TaskID:         taskID,
		TeacherID:      "teacher-3",
		FileType:       "teaching_summary",
		FileReferences: []string{taskID + ".md"},
		Status:         models.TaskStatusSubmitted,
	}).Error)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
}

func TestScoreArchiveAndTemplates(t *testing.T) {
	env := setupCLI(t)
	env.addTask(t, "task-1")

	require.Equal(t, exitOK, env.run("score", "task-1", "--bonus", "Open lesson=4"), env.stderr.String())
	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(env.stdout.Bytes(), &result))
	require.EqualValues(t, 80, result["base_score"])
	require.EqualValues(t, 4, result["bonus_score"])
	require.EqualValues(t, 84, result["final_score"])
	require.Equal(t, "B", result["grade"])

	require.Equal(t, exitOK, env.run("--actor", "ops-1", "archive", "task-1"), env.stderr.String())
	var archived map[string]interface{}
	require.NoError(t, json.Unmarshal(env.stdout.Bytes(), &archived))
	require.NotEmpty(t, archived["archive_id"])
	require.Equal(t, "ops-1", archived["archived_by"])

	require.Equal(t, exitOK, env.run("templates"))
	var templates []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.stdout.Bytes(), &templates))
	require.Len(t, templates, 5)
}

func TestBatchReportsFailuresInOrder(t *testing.T) {
	env := setupCLI(t)
	env.addTask(t, "t1")
	env.addTask(t, "t3")

	require.Equal(t, exitFailure, env.run("batch", "t1", "t2", "t3"))
	var response struct {
		Total   int `json:"total"`
		Failed  int `json:"failed"`
		Results []struct {
			TaskID string `json:"task_id"`
			Status string `json:"status"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(env.stdout.Bytes(), &response))
	require.Equal(t, 3, response.Total)
	require.Equal(t, 1, response.Failed)
	require.Equal(t, "t2", response.Results[1].TaskID)
	require.Equal(t, "failed", response.Results[1].Status)
	require.Equal(t, "scored", response.Results[2].Status)
	require.Contains(t, env.stderr.String(), "1 of 3 tasks failed")
}

func TestExitCodes(t *testing.T) {
	env := setupCLI(t)

	require.Equal(t, exitFailure, env.run("score", "missing"))
	require.Contains(t, env.stderr.String(), "TaskNotFound")

	require.Equal(t, exitConfig, env.run())
	require.Equal(t, exitConfig, env.run("frobnicate"))
	require.Equal(t, exitConfig, env.run("score"))
	require.Equal(t, exitConfig, env.run("score", "t1", "--bonus", "no-points"))

	t.Setenv("SCORING_LLM_API_KEY", "")
	require.Equal(t, exitConfig, env.run("templates"))
}

func TestUnreachableDependencyExitCode(t *testing.T) {
	env := setupCLI(t)
	mini, err := miniredis.Run()
	require.NoError(t, err)
	addr := mini.Addr()
	mini.Close()
	t.Setenv("SCORING_REDIS_URL", "redis://"+addr)

	require.Equal(t, exitUnreachable, env.run("templates"))
}
