package task

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store is the persistent task store. It is safe for concurrent use; all
// multi-statement mutations run inside SQLite transactions.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates the task store on an opened database, running schema
// migration.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("task: migration: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tasks (
			owner        TEXT    NOT NULL,
			id           INTEGER NOT NULL,
			title        TEXT    NOT NULL,
			description  TEXT    NOT NULL DEFAULT '',
			done         INTEGER NOT NULL DEFAULT 0,
			priority     TEXT    NOT NULL DEFAULT '',
			tags_json    TEXT    NOT NULL DEFAULT '[]',
			due_date     TEXT    NOT NULL DEFAULT '',
			due_time     TEXT    NOT NULL DEFAULT '',
			recur        TEXT    NOT NULL DEFAULT 'none',
			recur_day    INTEGER NOT NULL DEFAULT 0,
			created_at   TEXT    NOT NULL,
			updated_at   TEXT    NOT NULL,
			completed_at TEXT    NOT NULL DEFAULT '',
			PRIMARY KEY (owner, id)
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_owner_done
			ON tasks(owner, done);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// --- Create ---

// Create validates the draft, assigns the next owner-scoped id and
// persists the task.
func (s *Store) Create(owner string, d Draft) (*Task, error) {
	if d.Recurrence == "" {
		d.Recurrence = RecurNone
	}

	now := s.timestamp()
	t := &Task{
		Owner:       owner,
		Title:       d.Title,
		Description: d.Description,
		Priority:    d.Priority,
		Tags:        d.Tags,
		DueDate:     d.DueDate,
		DueTime:     d.DueTime,
		Recurrence:  d.Recurrence,
		RecurDay:    d.RecurDay,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := validate(t); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("task: begin create: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(id), 0) + 1 FROM tasks WHERE owner = ?`, owner,
	).Scan(&t.ID); err != nil {
		return nil, fmt.Errorf("task: next id: %w", err)
	}

	if err := insertTask(tx, t); err != nil {
		return nil, fmt.Errorf("task: insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("task: commit create: %w", err)
	}

	return t, nil
}

func insertTask(tx *sql.Tx, t *Task) error {
	tags, err := json.Marshal(tagsOrEmpty(t.Tags))
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO tasks
			(owner, id, title, description, done, priority, tags_json,
			 due_date, due_time, recur, recur_day,
			 created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Owner, t.ID, t.Title, t.Description, boolToInt(t.Done), string(t.Priority), string(tags),
		t.DueDate, t.DueTime, string(t.Recurrence), t.RecurDay,
		t.CreatedAt, t.UpdatedAt, t.CompletedAt,
	)
	return err
}

// --- Get ---

// Get returns the task or ErrNotFound.
func (s *Store) Get(owner string, id int64) (*Task, error) {
	row := s.db.QueryRow(
		`SELECT `+taskColumns+` FROM tasks WHERE owner = ? AND id = ?`,
		owner, id,
	)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("task: get %d: %w", id, err)
	}
	return t, nil
}

// --- List ---

// Filter is a conjunction of optional criteria.
type Filter struct {
	Done     *bool
	Priority Priority // empty = any
	Tag      string   // exact tag membership
	Contains string   // case-insensitive substring on title or description
}

// SortField selects the list ordering. Ties always break by id ascending.
type SortField string

const (
	SortCreated  SortField = "created"
	SortTitle    SortField = "title"
	SortPriority SortField = "priority"
	SortDue      SortField = "due"
	SortDone     SortField = "done"
)

// Sort pairs a field with a direction.
type Sort struct {
	Field SortField
	Desc  bool
}

var sortColumns = map[SortField]string{
	SortCreated:  "created_at",
	SortTitle:    "title COLLATE NOCASE",
	SortPriority: "CASE priority WHEN 'high' THEN 3 WHEN 'medium' THEN 2 WHEN 'low' THEN 1 ELSE 0 END",
	SortDue:      "CASE WHEN due_date = '' THEN 1 ELSE 0 END, due_date || 'T' || due_time",
	SortDone:     "done",
}

// List returns the owner's tasks matching the filter in the given order.
func (s *Store) List(owner string, f Filter, so Sort) ([]Task, error) {
	where := []string{"owner = ?"}
	args := []any{owner}

	if f.Done != nil {
		where = append(where, "done = ?")
		args = append(args, boolToInt(*f.Done))
	}
	if f.Priority != "" {
		if !validPriorities[f.Priority] {
			return nil, &ValidationError{Field: "priority", Reason: "must be low, medium or high"}
		}
		where = append(where, "priority = ?")
		args = append(args, string(f.Priority))
	}
	if f.Tag != "" {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(tasks.tags_json) WHERE json_each.value = ?)")
		args = append(args, f.Tag)
	}
	if f.Contains != "" {
		where = append(where, "(LOWER(title) LIKE ? OR LOWER(description) LIKE ?)")
		needle := "%" + strings.ToLower(f.Contains) + "%"
		args = append(args, needle, needle)
	}

	order, err := orderClause(so)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY ` + order

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("task: list: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("task: scan: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task: list rows: %w", err)
	}
	return out, nil
}

func orderClause(so Sort) (string, error) {
	if so.Field == "" {
		so.Field = SortCreated
	}
	col, ok := sortColumns[so.Field]
	if !ok {
		return "", &ValidationError{Field: "sort_by", Reason: "must be created, title, priority, due or done"}
	}
	dir := "ASC"
	if so.Desc {
		dir = "DESC"
	}
	// Compound sort expressions take the direction on each component.
	parts := strings.Split(col, ", ")
	for i, p := range parts {
		parts[i] = p + " " + dir
	}
	return strings.Join(parts, ", ") + ", id ASC", nil
}

// --- Update ---

// Update merges the patch into the stored task, revalidates the result and
// persists it. Only supplied fields change.
func (s *Store) Update(owner string, id int64, p Patch) (*Task, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("task: begin update: %w", err)
	}
	defer tx.Rollback()

	t, err := getTx(tx, owner, id)
	if err != nil {
		return nil, err
	}

	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Tags != nil {
		t.Tags = p.Tags
	}
	if p.DueDate != nil {
		t.DueDate = *p.DueDate
	}
	if p.DueTime != nil {
		t.DueTime = *p.DueTime
	}
	if p.Recurrence != nil {
		t.Recurrence = *p.Recurrence
		if t.Recurrence == "" {
			t.Recurrence = RecurNone
		}
	}
	if p.RecurDay != nil {
		t.RecurDay = *p.RecurDay
	}

	if err := validate(t); err != nil {
		return nil, err
	}

	t.UpdatedAt = s.timestamp()
	if err := writeTask(tx, t); err != nil {
		return nil, fmt.Errorf("task: update %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("task: commit update: %w", err)
	}
	return t, nil
}

func writeTask(tx *sql.Tx, t *Task) error {
	tags, err := json.Marshal(tagsOrEmpty(t.Tags))
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		UPDATE tasks SET
			title = ?, description = ?, done = ?, priority = ?, tags_json = ?,
			due_date = ?, due_time = ?, recur = ?, recur_day = ?,
			updated_at = ?, completed_at = ?
		WHERE owner = ? AND id = ?`,
		t.Title, t.Description, boolToInt(t.Done), string(t.Priority), string(tags),
		t.DueDate, t.DueTime, string(t.Recurrence), t.RecurDay,
		t.UpdatedAt, t.CompletedAt,
		t.Owner, t.ID,
	)
	return err
}

// --- Complete ---

// Complete marks the task done. For a recurring task it also inserts the
// successor instance in the same transaction — both writes land or
// neither does. It returns the completed task and the successor's id
// (0 when the task does not recur). Completing an already-completed task
// is a no-op and spawns nothing.
func (s *Store) Complete(owner string, id int64) (*Task, int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, 0, fmt.Errorf("task: begin complete: %w", err)
	}
	defer tx.Rollback()

	t, err := getTx(tx, owner, id)
	if err != nil {
		return nil, 0, err
	}
	if t.Done {
		return t, 0, nil
	}

	now := s.timestamp()
	t.Done = true
	t.CompletedAt = now
	t.UpdatedAt = now
	if err := writeTask(tx, t); err != nil {
		return nil, 0, fmt.Errorf("task: complete %d: %w", id, err)
	}

	var successorID int64
	if t.Recurrence != RecurNone && t.Recurrence != "" {
		nextDue, err := NextDue(t.DueDate, t.Recurrence, t.RecurDay, s.now())
		if err != nil {
			return nil, 0, fmt.Errorf("task: successor due date: %w", err)
		}

		if err := tx.QueryRow(
			`SELECT COALESCE(MAX(id), 0) + 1 FROM tasks WHERE owner = ?`, owner,
		).Scan(&successorID); err != nil {
			return nil, 0, fmt.Errorf("task: successor id: %w", err)
		}

		successor := &Task{
			ID:          successorID,
			Owner:       owner,
			Title:       t.Title,
			Description: t.Description,
			Priority:    t.Priority,
			Tags:        t.Tags,
			DueDate:     nextDue,
			DueTime:     t.DueTime,
			Recurrence:  t.Recurrence,
			RecurDay:    t.RecurDay,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := insertTask(tx, successor); err != nil {
			return nil, 0, fmt.Errorf("task: insert successor: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("task: commit complete: %w", err)
	}
	return t, successorID, nil
}

// --- Reminder scan ---

// DueBefore returns incomplete tasks with a due date on or before the
// given date, across all owners. This is the one read that crosses owner
// partitions; it exists solely for the operational reminder scan and its
// results never leave the process.
func (s *Store) DueBefore(date string) ([]Task, error) {
	rows, err := s.db.Query(
		`SELECT `+taskColumns+` FROM tasks
		 WHERE done = 0 AND due_date != '' AND due_date <= ?
		 ORDER BY due_date ASC, owner ASC, id ASC`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("task: due before: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("task: scan: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task: due before rows: %w", err)
	}
	return out, nil
}

// --- Delete ---

// Delete removes the task. It reports whether a row was actually removed;
// deleting a missing or foreign-owned task is not an error.
func (s *Store) Delete(owner string, id int64) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE owner = ? AND id = ?`, owner, id)
	if err != nil {
		return false, fmt.Errorf("task: delete %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("task: delete %d: %w", id, err)
	}
	return n > 0, nil
}

// --- Row scanning ---

const taskColumns = `owner, id, title, description, done, priority, tags_json,
	due_date, due_time, recur, recur_day, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t        Task
		done     int
		priority string
		recur    string
		tagsJSON string
	)
	if err := row.Scan(
		&t.Owner, &t.ID, &t.Title, &t.Description, &done, &priority, &tagsJSON,
		&t.DueDate, &t.DueTime, &recur, &t.RecurDay,
		&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	); err != nil {
		return nil, err
	}
	t.Done = done != 0
	t.Priority = Priority(priority)
	t.Recurrence = Recurrence(recur)
	if err := json.Unmarshal([]byte(tagsJSON), &t.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	if len(t.Tags) == 0 {
		t.Tags = nil
	}
	return &t, nil
}

func getTx(tx *sql.Tx, owner string, id int64) (*Task, error) {
	row := tx.QueryRow(
		`SELECT `+taskColumns+` FROM tasks WHERE owner = ? AND id = ?`,
		owner, id,
	)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("task: get %d: %w", id, err)
	}
	return t, nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
