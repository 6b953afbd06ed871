// Package ops is the fixed operation catalog the intent resolver invokes
// against the task store: add_task, list_tasks, search_tasks,
// complete_task, delete_task, update_task.
//
// Dispatch is a closed switch over the known names — the set is fixed at
// compile time. Handlers never return Go errors to the caller: every
// failure, from a malformed argument to a missing task, folds into a
// structured error Result so one bad invocation can never abort the
// exchange that requested it.
package ops

import (
	"fmt"

	"github.com/spf13/cast"

	"taskchat/internal/task"
)

// Operation names.
const (
	OpAddTask      = "add_task"
	OpListTasks    = "list_tasks"
	OpSearchTasks  = "search_tasks"
	OpCompleteTask = "complete_task"
	OpDeleteTask   = "delete_task"
	OpUpdateTask   = "update_task"
)

// Result is the structured outcome of one operation.
type Result struct {
	Status string `json:"status"` // "ok" or "error"
	Data   any    `json:"data,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool { return r.Status == "ok" }

func okResult(data any) Result {
	return Result{Status: "ok", Data: data}
}

func errResult(format string, args ...any) Result {
	return Result{Status: "error", Reason: fmt.Sprintf(format, args...)}
}

// Registry executes catalog operations against the task store, always
// scoped to the requesting owner.
type Registry struct {
	tasks *task.Store
}

// NewRegistry creates a registry over the given task store.
func NewRegistry(tasks *task.Store) *Registry {
	return &Registry{tasks: tasks}
}

// Execute runs one named operation for the owner. Unknown names and all
// handler failures come back as error Results, never as Go errors.
func (r *Registry) Execute(owner, name string, args map[string]any) Result {
	if args == nil {
		args = map[string]any{}
	}
	switch name {
	case OpAddTask:
		return r.addTask(owner, args)
	case OpListTasks:
		return r.listTasks(owner, args)
	case OpSearchTasks:
		return r.searchTasks(owner, args)
	case OpCompleteTask:
		return r.completeTask(owner, args)
	case OpDeleteTask:
		return r.deleteTask(owner, args)
	case OpUpdateTask:
		return r.updateTask(owner, args)
	}
	return errResult("unknown operation %q", name)
}

// --- Handlers ---

func (r *Registry) addTask(owner string, args map[string]any) Result {
	title := cast.ToString(args["title"])
	if title == "" {
		return errResult("'title' is required")
	}

	d := task.Draft{
		Title:       title,
		Description: cast.ToString(args["description"]),
		Priority:    task.Priority(cast.ToString(args["priority"])),
		Tags:        toTags(args["tags"]),
		DueDate:     cast.ToString(args["due_date"]),
		DueTime:     cast.ToString(args["due_time"]),
		Recurrence:  task.Recurrence(cast.ToString(args["recurrence"])),
		RecurDay:    cast.ToInt(args["recurrence_day"]),
	}

	t, err := r.tasks.Create(owner, d)
	if err != nil {
		return errResult("could not add task: %v", err)
	}
	return okResult(t)
}

func (r *Registry) listTasks(owner string, args map[string]any) Result {
	f := task.Filter{
		Priority: task.Priority(cast.ToString(args["priority"])),
		Tag:      cast.ToString(args["tag"]),
	}
	if _, ok := args["completed"]; ok {
		done := cast.ToBool(args["completed"])
		f.Done = &done
	}

	so := task.Sort{
		Field: task.SortField(cast.ToString(args["sort_by"])),
		Desc:  cast.ToString(args["sort_order"]) == "desc",
	}

	tasks, err := r.tasks.List(owner, f, so)
	if err != nil {
		return errResult("could not list tasks: %v", err)
	}
	return okResult(map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (r *Registry) searchTasks(owner string, args map[string]any) Result {
	keyword := cast.ToString(args["keyword"])
	if keyword == "" {
		return errResult("'keyword' is required")
	}

	tasks, err := r.tasks.List(owner, task.Filter{Contains: keyword}, task.Sort{})
	if err != nil {
		return errResult("could not search tasks: %v", err)
	}
	return okResult(map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (r *Registry) completeTask(owner string, args map[string]any) Result {
	id, res := taskID(args)
	if !res.OK() {
		return res
	}

	t, successorID, err := r.tasks.Complete(owner, id)
	if err != nil {
		return errResult("could not complete task %d: %v", id, err)
	}

	data := map[string]any{"task": t}
	if successorID != 0 {
		// Side-channel result: the recurring successor's id, for the
		// resolver to mention if it chooses to.
		data["next_task_id"] = successorID
	}
	return okResult(data)
}

func (r *Registry) deleteTask(owner string, args map[string]any) Result {
	id, res := taskID(args)
	if !res.OK() {
		return res
	}

	removed, err := r.tasks.Delete(owner, id)
	if err != nil {
		return errResult("could not delete task %d: %v", id, err)
	}
	if !removed {
		return errResult("task %d not found", id)
	}
	return okResult(map[string]any{"deleted": id})
}

func (r *Registry) updateTask(owner string, args map[string]any) Result {
	id, res := taskID(args)
	if !res.OK() {
		return res
	}

	// Only keys present in the call change the task; absent keys keep
	// their stored value.
	p := task.Patch{}
	if v, ok := args["title"]; ok {
		s := cast.ToString(v)
		p.Title = &s
	}
	if v, ok := args["description"]; ok {
		s := cast.ToString(v)
		p.Description = &s
	}
	if v, ok := args["priority"]; ok {
		pr := task.Priority(cast.ToString(v))
		p.Priority = &pr
	}
	if v, ok := args["tags"]; ok {
		p.Tags = toTags(v)
		if p.Tags == nil {
			p.Tags = []string{}
		}
	}
	if v, ok := args["due_date"]; ok {
		s := cast.ToString(v)
		p.DueDate = &s
	}
	if v, ok := args["due_time"]; ok {
		s := cast.ToString(v)
		p.DueTime = &s
	}
	if v, ok := args["recurrence"]; ok {
		rec := task.Recurrence(cast.ToString(v))
		p.Recurrence = &rec
	}
	if v, ok := args["recurrence_day"]; ok {
		n := cast.ToInt(v)
		p.RecurDay = &n
	}

	t, err := r.tasks.Update(owner, id, p)
	if err != nil {
		return errResult("could not update task %d: %v", id, err)
	}
	return okResult(t)
}

// --- Argument coercion ---

// taskID extracts the required task_id argument. Resolvers sometimes send
// ids as strings or floats; cast handles all of them.
func taskID(args map[string]any) (int64, Result) {
	v, ok := args["task_id"]
	if !ok {
		return 0, errResult("'task_id' is required")
	}
	id, err := cast.ToInt64E(v)
	if err != nil || id <= 0 {
		return 0, errResult("'task_id' must be a positive integer")
	}
	return id, Result{Status: "ok"}
}

// toTags accepts a JSON array of strings or a single string.
func toTags(v any) []string {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		if s == "" {
			return nil
		}
		return []string{s}
	}
	tags, err := cast.ToStringSliceE(v)
	if err != nil {
		return nil
	}
	return tags
}
