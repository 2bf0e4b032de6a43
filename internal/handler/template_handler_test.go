package handler_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/teaching-eval-scoring/internal/handler"
	"github.com/noah-isme/teaching-eval-scoring/internal/middleware"
	"github.com/noah-isme/teaching-eval-scoring/internal/models"
	"github.com/noah-isme/teaching-eval-scoring/internal/repository"
	"github.com/noah-isme/teaching-eval-scoring/internal/service"
)

func newTemplateApp(t *testing.T, role string) *fiber.App {
	t.Helper()
	dsn := fmt.Sprintf("file:handler_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ScoringTemplate{}))

	store := service.NewTemplateStore(repository.NewScoringTemplateRepository(db), validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop())
	_, err = store.Seed(context.Background())
	require.NoError(t, err)

	h := handler.NewTemplateHandler(store, zerolog.Nop())
	app := fiber.New()
	h.Register(app.Group("/api/v1/scoring/templates", withPrincipal("user-1", role)), middleware.RequireRole(middleware.AuthRoleAdmin))
	return app
}

func TestTemplateReadsOpenToTeachers(t *testing.T) {
	app := newTemplateApp(t, "teacher")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/scoring/templates", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	items := decodeBody(t, resp)["data"].([]interface{})
	require.Len(t, items, 5)
	require.Equal(t, "lesson_plan", items[0].(map[string]interface{})["file_type"])

	req = httptest.NewRequest(http.MethodGet, "/api/v1/scoring/templates/Lesson-Plan", nil)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	tmpl := decodeBody(t, resp)["data"].(map[string]interface{})
	require.Equal(t, "Lesson Plan", tmpl["label"])
	require.EqualValues(t, 1, tmpl["version"])

	req = httptest.NewRequest(http.MethodGet, "/api/v1/scoring/templates/poem", nil)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestTemplateReplaceRequiresAdmin(t *testing.T) {
	body := `{"criteria":[{"name":"Clarity","max_score":50},{"name":"Depth","max_score":50}],"default_total":100,"bonus_cap":5}`

	teacherApp := newTemplateApp(t, "teacher")
	req := httptest.NewRequest(http.MethodPut, "/api/v1/scoring/templates/lesson_plan", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := teacherApp.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestTemplateReplaceBumpsVersion(t *testing.T) {
	app := newTemplateApp(t, "admin")

	body := `{"criteria":[{"name":"Clarity","max_score":50},{"name":"Depth","max_score":50}],"default_total":100,"bonus_cap":5}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/scoring/templates/lesson_plan", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	tmpl := decodeBody(t, resp)["data"].(map[string]interface{})
	require.EqualValues(t, 2, tmpl["version"])
	require.Equal(t, "user-1", tmpl["updated_by"])

	req = httptest.NewRequest(http.MethodGet, "/api/v1/scoring/templates/lesson_plan?history=true", nil)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Len(t, decodeBody(t, resp)["data"].([]interface{}), 2)

	bad := `{"criteria":[{"name":"Clarity","max_score":50}],"default_total":100}`
	req = httptest.NewRequest(http.MethodPut, "/api/v1/scoring/templates/lesson_plan", strings.NewReader(bad))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "InvalidInput", errorKind(t, decodeBody(t, resp)))
}
