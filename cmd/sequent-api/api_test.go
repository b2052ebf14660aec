package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/persistence/memory"
	"github.com/sequentcrm/sequent/pkg/protocol"
	"github.com/sequentcrm/sequent/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp() (*fiber.App, *memory.Persistence) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	backend := memory.NewPersistence()

	reg := registry.NewRegistry(logger, backend.Steps())
	registry.RegisterBuiltins(reg, protocol.Dependencies{
		Logger:  logger,
		Senders: map[string]protocol.Sender{},
	})

	api := NewAPI("api-test", logger, backend, backend.Timers(), reg, nil)

	return api.App(), backend
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()

	var reader io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req
}

func decodeJSON(t *testing.T, resp *http.Response, target any) {
	t.Helper()

	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

func TestAPI_RootEndpoint(t *testing.T) {
	app, _ := setupTestApp()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Sequent API", string(body))
}

func TestAPI_HealthCheck(t *testing.T) {
	app, _ := setupTestApp()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/livez", nil))
	require.NoError(t, err)

	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_CreateWorkflow(t *testing.T) {
	app, _ := setupTestApp()

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/workflows", map[string]any{
		"name":  "Welcome Series",
		"owner": "growth-team",
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Workflow

	decodeJSON(t, resp, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Welcome Series", created.Name)
	assert.Equal(t, models.GoalMatchAny, created.GoalMatchMode)
}

func TestAPI_CreateWorkflow_ValidationFailure(t *testing.T) {
	app, _ := setupTestApp()

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing name", map[string]any{"owner": "growth-team"}},
		{"name too short", map[string]any{"name": "ab", "owner": "growth-team"}},
		{"bad goal match mode", map[string]any{"name": "Welcome", "owner": "x", "goal_match_mode": "most"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(jsonRequest(t, http.MethodPost, "/workflows", tt.body))
			require.NoError(t, err)

			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestAPI_GetWorkflow_NotFound(t *testing.T) {
	app, _ := setupTestApp()

	resp, err := app.Test(jsonRequest(t, http.MethodGet, "/workflows/missing", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_VersionLifecycle(t *testing.T) {
	app, _ := setupTestApp()

	// Create the workflow.
	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/workflows", map[string]any{
		"name":  "Renewal Reminder",
		"owner": "retention-team",
	}))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var workflow models.Workflow

	decodeJSON(t, resp, &workflow)

	// Open a draft.
	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/workflows/"+workflow.ID+"/versions", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var draft models.WorkflowVersion

	decodeJSON(t, resp, &draft)
	assert.Equal(t, 1, draft.Number)
	assert.Equal(t, models.VersionStatusDraft, draft.Status)
	require.NotEmpty(t, draft.LockToken)

	// Fill in the graph.
	next := "n2"
	resp, err = app.Test(jsonRequest(t, http.MethodPut, "/versions/"+draft.ID, map[string]any{
		"lock_token": draft.LockToken,
		"trigger":    map[string]any{"type": "segment.entered", "config": map[string]any{"segment_id": "seg-1"}},
		"nodes": []*models.ActionNode{
			{
				ID:      "n1",
				Kind:    "wait:delay",
				Config:  map[string]any{"amount": 1, "unit": "hours"},
				Enabled: true,
				Next:    &next,
			},
			{
				ID:       "n2",
				Kind:     "wait:delay",
				Config:   map[string]any{"amount": 2, "unit": "days"},
				Position: 1,
				Enabled:  true,
			},
		},
	}))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	decodeJSON(t, resp, &draft)
	require.Len(t, draft.Nodes, 2)

	// Publish.
	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/versions/"+draft.ID+"/publish", map[string]any{
		"lock_token": draft.LockToken,
	}))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var published models.WorkflowVersion

	decodeJSON(t, resp, &published)
	assert.Equal(t, models.VersionStatusActive, published.Status)
	assert.True(t, published.IsCurrent)

	// The published version is now the workflow's current one.
	resp, err = app.Test(jsonRequest(t, http.MethodGet, "/workflows/"+workflow.ID+"/versions/current", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var current models.WorkflowVersion

	decodeJSON(t, resp, &current)
	assert.Equal(t, published.ID, current.ID)
}

func TestAPI_PublishEmptyDraft_Rejected(t *testing.T) {
	app, _ := setupTestApp()

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/workflows", map[string]any{
		"name":  "Empty Draft",
		"owner": "growth-team",
	}))
	require.NoError(t, err)

	var workflow models.Workflow

	decodeJSON(t, resp, &workflow)

	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/workflows/"+workflow.ID+"/versions", nil))
	require.NoError(t, err)

	var draft models.WorkflowVersion

	decodeJSON(t, resp, &draft)

	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/versions/"+draft.ID+"/publish", map[string]any{
		"lock_token": draft.LockToken,
	}))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_UpdateDraft_StaleToken(t *testing.T) {
	app, _ := setupTestApp()

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/workflows", map[string]any{
		"name":  "Token Test",
		"owner": "growth-team",
	}))
	require.NoError(t, err)

	var workflow models.Workflow

	decodeJSON(t, resp, &workflow)

	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/workflows/"+workflow.ID+"/versions", nil))
	require.NoError(t, err)

	var draft models.WorkflowVersion

	decodeJSON(t, resp, &draft)

	resp, err = app.Test(jsonRequest(t, http.MethodPut, "/versions/"+draft.ID, map[string]any{
		"lock_token": "stale-token",
		"trigger":    map[string]any{"type": "segment.entered"},
		"nodes": []*models.ActionNode{
			{ID: "n1", Kind: "wait:delay", Config: map[string]any{"amount": 1, "unit": "hours"}, Enabled: true},
		},
	}))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_EnrollContact(t *testing.T) {
	app, _ := setupTestApp()

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/workflows", map[string]any{
		"name":  "Enrollment Test",
		"owner": "growth-team",
	}))
	require.NoError(t, err)

	var workflow models.Workflow

	decodeJSON(t, resp, &workflow)

	// Enrolling before any version is published fails cleanly.
	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/workflows/"+workflow.ID+"/enrollments", map[string]any{
		"contact_id": "contact-1",
	}))
	require.NoError(t, err)

	func() {
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	}()

	// Publish a one-node delay graph.
	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/workflows/"+workflow.ID+"/versions", nil))
	require.NoError(t, err)

	var draft models.WorkflowVersion

	decodeJSON(t, resp, &draft)

	resp, err = app.Test(jsonRequest(t, http.MethodPut, "/versions/"+draft.ID, map[string]any{
		"lock_token": draft.LockToken,
		"trigger":    map[string]any{"type": "segment.entered"},
		"nodes": []*models.ActionNode{
			{ID: "n1", Kind: "wait:delay", Config: map[string]any{"amount": 1, "unit": "hours"}, Enabled: true},
		},
	}))
	require.NoError(t, err)

	decodeJSON(t, resp, &draft)

	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/versions/"+draft.ID+"/publish", map[string]any{
		"lock_token": draft.LockToken,
	}))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_ = resp.Body.Close()

	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/workflows/"+workflow.ID+"/enrollments", map[string]any{
		"contact_id":   "contact-1",
		"contact_data": map[string]any{"country": "BR"},
	}))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var enrolled struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		ContactID string `json:"contact_id"`
	}

	decodeJSON(t, resp, &enrolled)
	assert.NotEmpty(t, enrolled.ID)
	assert.Equal(t, "waiting", enrolled.Status)
	assert.Equal(t, "contact-1", enrolled.ContactID)

	// A second enrollment for the same contact conflicts.
	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/workflows/"+workflow.ID+"/enrollments", map[string]any{
		"contact_id": "contact-1",
	}))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_Goals(t *testing.T) {
	app, _ := setupTestApp()

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/workflows", map[string]any{
		"name":  "Goal Test",
		"owner": "growth-team",
	}))
	require.NoError(t, err)

	var workflow models.Workflow

	decodeJSON(t, resp, &workflow)

	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/workflows/"+workflow.ID+"/goals", map[string]any{
		"type":     "purchase_made",
		"criteria": map[string]any{"min_amount": 100},
	}))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var goal models.GoalConfig

	decodeJSON(t, resp, &goal)
	assert.NotEmpty(t, goal.ID)
	assert.True(t, goal.Active)

	resp, err = app.Test(jsonRequest(t, http.MethodGet, "/workflows/"+workflow.ID+"/goals", nil))
	require.NoError(t, err)

	var listed struct {
		Goals []*models.GoalConfig `json:"goals"`
	}

	decodeJSON(t, resp, &listed)
	assert.Len(t, listed.Goals, 1)

	// Unknown goal types are rejected up front.
	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/workflows/"+workflow.ID+"/goals", map[string]any{
		"type": "coin_flip",
	}))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_CompareVersions_MissingParams(t *testing.T) {
	app, _ := setupTestApp()

	resp, err := app.Test(jsonRequest(t, http.MethodGet, "/workflows/wf-1/versions/compare?from=v-1", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_ActionKinds(t *testing.T) {
	app, _ := setupTestApp()

	resp, err := app.Test(jsonRequest(t, http.MethodGet, "/actions", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Kinds   []string                  `json:"kinds"`
		Schemas map[string]map[string]any `json:"schemas"`
	}

	decodeJSON(t, resp, &payload)
	assert.Contains(t, payload.Kinds, "email:send")
	assert.Contains(t, payload.Kinds, "wait:delay")
	assert.Contains(t, payload.Kinds, "crm:add_tag")
	assert.NotEmpty(t, payload.Schemas["email:send"])
}

func TestAPI_CORS_Headers(t *testing.T) {
	app, _ := setupTestApp()

	req := httptest.NewRequest(http.MethodOptions, "/workflows", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
