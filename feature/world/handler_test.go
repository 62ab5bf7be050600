package world

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	app := fiber.New()
	svc, _ := newTestService(0)
	NewHandler(svc).RegisterRoutes(app)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHandleDeltaAndState(t *testing.T) {
	app := setupTestApp(t)

	status, body := doJSON(t, app, "POST", "/world/lobby/delta", `{"set":{"pieces":{"3":{"pos":{"x":"10","y":"20"}}}}}`)
	require.Equal(t, 200, status)
	assert.Equal(t, map[string]any{"pieces|3|pos|x": "10", "pieces|3|pos|y": "20"}, body["published"])

	status, body = doJSON(t, app, "GET", "/world/lobby", "")
	require.Equal(t, 200, status)
	assert.Equal(t, "lobby", body["session"])
	assert.Equal(t, map[string]any{"pieces|3|pos|x": "10", "pieces|3|pos|y": "20"}, body["state"])
	assert.NotContains(t, body, "world")

	status, body = doJSON(t, app, "GET", "/world/lobby?structured=true", "")
	require.Equal(t, 200, status)
	assert.Equal(t, map[string]any{
		"pieces": map[string]any{"3": map[string]any{"pos": map[string]any{"x": "10", "y": "20"}}},
	}, body["world"])

	status, body = doJSON(t, app, "GET", "/world/lobby/pieces", "")
	require.Equal(t, 200, status)
	assert.Contains(t, body["pieces"], "3")
}

func TestHandleDelta_Remove(t *testing.T) {
	app := setupTestApp(t)

	status, _ := doJSON(t, app, "POST", "/world/lobby/delta", `{"set":{"pieces":{"0":{"x":"1"}}}}`)
	require.Equal(t, 200, status)

	status, body := doJSON(t, app, "POST", "/world/lobby/delta", `{"remove":[0]}`)
	require.Equal(t, 200, status)
	assert.Equal(t, map[string]any{"pieces|0": "_NULL_"}, body["published"])

	_, body = doJSON(t, app, "GET", "/world/lobby/pieces", "")
	assert.Empty(t, body["pieces"])
}

func TestHandleReset(t *testing.T) {
	app := setupTestApp(t)

	status, _ := doJSON(t, app, "POST", "/world/lobby/delta", `{"set":{"pieces":{"0":{"x":"1"}}}}`)
	require.Equal(t, 200, status)

	status, body := doJSON(t, app, "POST", "/world/lobby/reset", `{"pieces":{"5":{"x":"1"}}}`)
	require.Equal(t, 200, status)
	assert.Equal(t, map[string]any{"__new": "token", "pieces|5|x": "1"}, body["published"])

	_, body = doJSON(t, app, "GET", "/world/lobby", "")
	assert.Equal(t, map[string]any{"__new": "token", "pieces|5|x": "1"}, body["state"])
}

func TestHandle_Errors(t *testing.T) {
	app := setupTestApp(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"Invalid JSON", "POST", "/world/lobby/delta", `{"set":`, fiber.StatusBadRequest},
		{"Empty delta", "POST", "/world/lobby/delta", `{}`, fiber.StatusBadRequest},
		{"Malformed pieces", "POST", "/world/lobby/delta", `{"set":{"pieces":[1,2]}}`, fiber.StatusBadRequest},
		{"Malformed reset", "POST", "/world/lobby/reset", `{"pieces":{"a":{}}}`, fiber.StatusBadRequest},
		{"Invalid reset body", "POST", "/world/lobby/reset", `[`, fiber.StatusBadRequest},
		{"No database", "GET", "/world", "", fiber.StatusNotImplemented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doJSON(t, app, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, status)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestHandleListSessions(t *testing.T) {
	db, mock := setupMockDB(t)
	app := fiber.New()
	svc := NewService(brokenSessions{}, newRepo(db), nil, 0)
	NewHandler(svc).RegisterRoutes(app)

	mock.ExpectQuery("SELECT DISTINCT `session` FROM `world_keys`").
		WillReturnRows(mockRows([]string{"session"}, "hall", "lobby"))

	status, body := doJSON(t, app, "GET", "/world", "")
	require.Equal(t, 200, status)
	assert.Equal(t, []any{"hall", "lobby"}, body["sessions"])
}

func TestHandleGetState_StoreDown(t *testing.T) {
	app := fiber.New()
	NewHandler(NewService(brokenSessions{}, nil, nil, 0)).RegisterRoutes(app)

	status, body := doJSON(t, app, "GET", "/world/lobby", "")
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, assertErr.Error(), body["error"])
}
