package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"taskchat/internal/config"
	"taskchat/internal/dialogue"
	"taskchat/internal/exchange"
	"taskchat/internal/logging"
	"taskchat/internal/ops"
	"taskchat/internal/resolver"
	"taskchat/internal/storage"
	"taskchat/internal/task"
)

const testOwnerHeader = "X-Taskchat-Owner"

// scriptedResolver lets HTTP tests run the chat path without a model.
type scriptedResolver struct {
	intent resolver.Intent
	err    error
}

func (s *scriptedResolver) Resolve(ctx context.Context, history []dialogue.Message, text string) (resolver.Intent, error) {
	return s.intent, s.err
}

func newTestApp(t *testing.T, res resolver.Resolver) *App {
	t.Helper()
	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tasks, err := task.NewStore(db)
	if err != nil {
		t.Fatalf("task.NewStore failed: %v", err)
	}
	dialogues, err := dialogue.NewStore(db)
	if err != nil {
		t.Fatalf("dialogue.NewStore failed: %v", err)
	}
	registry := ops.NewRegistry(tasks)
	log := logging.NewNop()

	return &App{
		Cfg: &config.Config{
			OwnerHeader:   testOwnerHeader,
			MaxMessageLen: 4000,
		},
		Log:         log,
		DB:          db,
		Tasks:       tasks,
		Dialogues:   dialogues,
		Registry:    registry,
		Coordinator: exchange.New(dialogues, registry, res, log, 50, time.Second),
	}
}

func doJSON(t *testing.T, h http.Handler, method, path, owner, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if owner != "" {
		req.Header.Set(testOwnerHeader, owner)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return m
}

// --- Owner identity ---

func TestMissingOwnerHeaderIsRejected(t *testing.T) {
	h := newTestApp(t, &scriptedResolver{}).Handler()

	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodPost, "/v1/chat"},
		{http.MethodGet, "/v1/tasks"},
		{http.MethodPost, "/v1/tasks"},
		{http.MethodDelete, "/v1/tasks/1"},
	} {
		rec := doJSON(t, h, tc.method, tc.path, "", `{}`)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without owner: status %d, want 401", tc.method, tc.path, rec.Code)
		}
	}
}

// --- Chat ---

func TestChat_Exchange(t *testing.T) {
	h := newTestApp(t, &scriptedResolver{
		intent: resolver.Intent{
			Reply: "Added it.",
			Calls: []resolver.Call{{Name: ops.OpAddTask, Args: map[string]any{"title": "buy milk"}}},
		},
	}).Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/chat", "alice",
		`{"message": "Add a task to buy milk"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["session_id"] == "" || body["session_id"] == nil {
		t.Error("response carries no session_id")
	}
	if body["reply"] != "Added it." {
		t.Errorf("reply = %v", body["reply"])
	}
	attempted, ok := body["operations_attempted"].([]any)
	if !ok || len(attempted) != 1 || attempted[0] != ops.OpAddTask {
		t.Errorf("operations_attempted = %v", body["operations_attempted"])
	}

	// Second message on the same session keeps its id.
	sid := body["session_id"].(string)
	rec = doJSON(t, h, http.MethodPost, "/v1/chat", "alice",
		`{"session_id": "`+sid+`", "message": "thanks"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("follow-up status = %d", rec.Code)
	}
	if got := decodeBody(t, rec)["session_id"]; got != sid {
		t.Errorf("session_id changed: %v", got)
	}
}

func TestChat_BadRequests(t *testing.T) {
	h := newTestApp(t, &scriptedResolver{intent: resolver.Intent{Reply: "ok"}}).Handler()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed JSON", `{"message": `, http.StatusBadRequest},
		{"empty message", `{"message": ""}`, http.StatusBadRequest},
		{"oversized message", `{"message": "` + strings.Repeat("x", 4001) + `"}`, http.StatusBadRequest},
		{"unknown session", `{"session_id": "nope", "message": "hi"}`, http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/v1/chat", "alice", tc.body)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestChat_OwnersCannotReachForeignSessions(t *testing.T) {
	h := newTestApp(t, &scriptedResolver{intent: resolver.Intent{Reply: "ok"}}).Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/chat", "alice", `{"message": "hello"}`)
	sid := decodeBody(t, rec)["session_id"].(string)

	rec = doJSON(t, h, http.MethodPost, "/v1/chat", "bob",
		`{"session_id": "`+sid+`", "message": "hello"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign session: status = %d, want 404", rec.Code)
	}
}

// --- Task CRUD ---

func TestTaskLifecycle(t *testing.T) {
	h := newTestApp(t, &scriptedResolver{}).Handler()

	// Create.
	rec := doJSON(t, h, http.MethodPost, "/v1/tasks", "alice",
		`{"title": "write report", "priority": "high", "tags": ["work"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decodeBody(t, rec)
	if created["id"] != float64(1) || created["title"] != "write report" {
		t.Errorf("created = %v", created)
	}

	// Fetch.
	rec = doJSON(t, h, http.MethodGet, "/v1/tasks/1", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}

	// Patch.
	rec = doJSON(t, h, http.MethodPatch, "/v1/tasks/1", "alice", `{"priority": "low"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: status = %d, body %s", rec.Code, rec.Body.String())
	}
	patched := decodeBody(t, rec)
	if patched["priority"] != "low" || patched["title"] != "write report" {
		t.Errorf("patched = %v", patched)
	}

	// List.
	rec = doJSON(t, h, http.MethodGet, "/v1/tasks?priority=low", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rec.Code)
	}
	if list := decodeBody(t, rec); list["count"] != float64(1) {
		t.Errorf("list = %v", list)
	}

	// Delete.
	rec = doJSON(t, h, http.MethodDelete, "/v1/tasks/1", "alice", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodDelete, "/v1/tasks/1", "alice", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", rec.Code)
	}
}

func TestCreateTask_ValidationError(t *testing.T) {
	h := newTestApp(t, &scriptedResolver{}).Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/tasks", "alice", `{"title": ""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if msg := decodeBody(t, rec)["error"]; !strings.Contains(msg.(string), "title") {
		t.Errorf("error = %v, want mention of title", msg)
	}
}

func TestCompleteTask_RecurringReportsSuccessor(t *testing.T) {
	h := newTestApp(t, &scriptedResolver{}).Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/tasks", "alice",
		`{"title": "water plants", "due_date": "2025-01-06", "recurrence": "daily"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/tasks/1/complete", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["next_task_id"] != float64(2) {
		t.Errorf("next_task_id = %v, want 2", body["next_task_id"])
	}
	completed := body["task"].(map[string]any)
	if completed["done"] != true {
		t.Errorf("task not marked done: %v", completed)
	}

	// Non-recurring completion carries no successor.
	rec = doJSON(t, h, http.MethodPost, "/v1/tasks", "alice", `{"title": "one-off"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create one-off: status = %d", rec.Code)
	}
	oneOffID := int64(decodeBody(t, rec)["id"].(float64))
	rec = doJSON(t, h, http.MethodPost, fmt.Sprintf("/v1/tasks/%d/complete", oneOffID), "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("complete one-off: status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["next_task_id"] != nil {
		t.Errorf("one-off completion reported next_task_id = %v", body["next_task_id"])
	}
}

func TestTasksAreOwnerScoped(t *testing.T) {
	h := newTestApp(t, &scriptedResolver{}).Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/tasks", "alice", `{"title": "alice's task"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/tasks/1", "bob", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign get: status = %d, want 404", rec.Code)
	}
	rec = doJSON(t, h, http.MethodDelete, "/v1/tasks/1", "bob", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign delete: status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/tasks", "bob", "")
	if body := decodeBody(t, rec); body["count"] != float64(0) {
		t.Errorf("bob's list = %v, want empty", body)
	}
}

func TestPathIDValidation(t *testing.T) {
	h := newTestApp(t, &scriptedResolver{}).Handler()

	for _, path := range []string{"/v1/tasks/abc", "/v1/tasks/0", "/v1/tasks/-1"} {
		rec := doJSON(t, h, http.MethodGet, path, "alice", "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s: status = %d, want 400", path, rec.Code)
		}
	}
}

// --- Health ---

func TestHealthz(t *testing.T) {
	h := newTestApp(t, &scriptedResolver{}).Handler()

	rec := doJSON(t, h, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}
