package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"taskchat/internal/dialogue"
	"taskchat/internal/exchange"
	"taskchat/internal/task"
)

// Handler builds the HTTP API:
//
//	POST   /v1/chat                 one conversational exchange
//	GET    /v1/tasks                list/filter/sort tasks
//	POST   /v1/tasks                create a task
//	GET    /v1/tasks/{id}           fetch one task
//	PATCH  /v1/tasks/{id}           partial update
//	DELETE /v1/tasks/{id}           hard delete
//	POST   /v1/tasks/{id}/complete  complete (recurring spawns successor)
//	GET    /healthz                 liveness/readiness probe
//
// Owner identity arrives in the configured header, set by the fronting
// auth layer; it is trusted unconditionally here.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", a.requireOwner(a.handleChat))
	mux.HandleFunc("GET /v1/tasks", a.requireOwner(a.handleListTasks))
	mux.HandleFunc("POST /v1/tasks", a.requireOwner(a.handleCreateTask))
	mux.HandleFunc("GET /v1/tasks/{id}", a.requireOwner(a.handleGetTask))
	mux.HandleFunc("PATCH /v1/tasks/{id}", a.requireOwner(a.handleUpdateTask))
	mux.HandleFunc("DELETE /v1/tasks/{id}", a.requireOwner(a.handleDeleteTask))
	mux.HandleFunc("POST /v1/tasks/{id}/complete", a.requireOwner(a.handleCompleteTask))
	mux.HandleFunc("GET /healthz", a.handleHealth)

	return a.logRequests(mux)
}

// ─── Middleware ──────────────────────────────────────────────────────────────

type ownerHandler func(w http.ResponseWriter, r *http.Request, owner string)

// requireOwner extracts the verified owner identity from the request and
// rejects requests without one. The core performs no token parsing; the
// header is the contract with the auth layer in front of us.
func (a *App) requireOwner(next ownerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get(a.Cfg.OwnerHeader)
		if owner == "" {
			writeError(w, http.StatusUnauthorized, "owner identity missing")
			return
		}
		next(w, r, owner)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (a *App) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.Log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// ─── Chat ────────────────────────────────────────────────────────────────────

type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

func (a *App) handleChat(w http.ResponseWriter, r *http.Request, owner string) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if len(req.Message) > a.Cfg.MaxMessageLen {
		writeError(w, http.StatusBadRequest, "message too long")
		return
	}

	resp, err := a.Coordinator.Exchange(r.Context(), exchange.Request{
		Owner:     owner,
		SessionID: req.SessionID,
		Message:   req.Message,
	})
	if err != nil {
		if errors.Is(err, dialogue.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		a.Log.Error("exchange failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// ─── Tasks ───────────────────────────────────────────────────────────────────

type taskDraftRequest struct {
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Priority      string   `json:"priority,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	DueDate       string   `json:"due_date,omitempty"`
	DueTime       string   `json:"due_time,omitempty"`
	Recurrence    string   `json:"recurrence,omitempty"`
	RecurrenceDay int      `json:"recurrence_day,omitempty"`
}

func (a *App) handleCreateTask(w http.ResponseWriter, r *http.Request, owner string) {
	var req taskDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	t, err := a.Tasks.Create(owner, task.Draft{
		Title:       req.Title,
		Description: req.Description,
		Priority:    task.Priority(req.Priority),
		Tags:        req.Tags,
		DueDate:     req.DueDate,
		DueTime:     req.DueTime,
		Recurrence:  task.Recurrence(req.Recurrence),
		RecurDay:    req.RecurrenceDay,
	})
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (a *App) handleListTasks(w http.ResponseWriter, r *http.Request, owner string) {
	q := r.URL.Query()

	f := task.Filter{
		Priority: task.Priority(q.Get("priority")),
		Tag:      q.Get("tag"),
		Contains: q.Get("q"),
	}
	if v := q.Get("completed"); v != "" {
		done, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "completed must be true or false")
			return
		}
		f.Done = &done
	}

	so := task.Sort{
		Field: task.SortField(q.Get("sort_by")),
		Desc:  q.Get("sort_order") == "desc",
	}

	tasks, err := a.Tasks.List(owner, f, so)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (a *App) handleGetTask(w http.ResponseWriter, r *http.Request, owner string) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	t, err := a.Tasks.Get(owner, id)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type taskPatchRequest struct {
	Title         *string  `json:"title"`
	Description   *string  `json:"description"`
	Priority      *string  `json:"priority"`
	Tags          []string `json:"tags"`
	DueDate       *string  `json:"due_date"`
	DueTime       *string  `json:"due_time"`
	Recurrence    *string  `json:"recurrence"`
	RecurrenceDay *int     `json:"recurrence_day"`
}

func (a *App) handleUpdateTask(w http.ResponseWriter, r *http.Request, owner string) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req taskPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	p := task.Patch{
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
		DueDate:     req.DueDate,
		DueTime:     req.DueTime,
		RecurDay:    req.RecurrenceDay,
	}
	if req.Priority != nil {
		pr := task.Priority(*req.Priority)
		p.Priority = &pr
	}
	if req.Recurrence != nil {
		rec := task.Recurrence(*req.Recurrence)
		p.Recurrence = &rec
	}

	t, err := a.Tasks.Update(owner, id, p)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *App) handleDeleteTask(w http.ResponseWriter, r *http.Request, owner string) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	removed, err := a.Tasks.Delete(owner, id)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleCompleteTask(w http.ResponseWriter, r *http.Request, owner string) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	t, successorID, err := a.Tasks.Complete(owner, id)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	resp := map[string]any{"task": t}
	if successorID != 0 {
		resp["next_task_id"] = successorID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.DB.Ping(); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "task id must be a positive integer")
		return 0, false
	}
	return id, true
}

// writeStoreError maps the store error taxonomy to HTTP statuses:
// validation → 400, not found → 404, anything else → 500.
func (a *App) writeStoreError(w http.ResponseWriter, err error) {
	var ve *task.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, task.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	default:
		a.Log.Error("store error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
