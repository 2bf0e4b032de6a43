package handler_test

import (
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"
)

func withPrincipal(userID, role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("user_id", userID)
		c.Locals("user_role", role)
		return c.Next()
	}
}

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	path, err := filepath.Abs(filepath.Join("testdata", name))
	require.NoError(t, err)
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile("file://" + filepath.ToSlash(path))
	require.NoError(t, err)
	return schema
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &payload), string(raw))
	return payload
}

func requireSchema(t *testing.T, schema *jsonschema.Schema, payload map[string]interface{}) {
	t.Helper()
	require.NoError(t, schema.Validate(payload))
}

func errorKind(t *testing.T, payload map[string]interface{}) string {
	t.Helper()
	detail, ok := payload["error"].(map[string]interface{})
	require.True(t, ok, "missing error object: %v", payload)
	kind, _ := detail["kind"].(string)
	return kind
}
