package ops

// Param describes one argument of an operation.
type Param struct {
	Name        string
	Type        string // "string", "integer", "boolean", "array"
	Description string
	Required    bool
	Enum        []string
}

// Definition is the declared schema of one operation. The same catalog
// feeds the resolver's function definitions and the MCP tool surface, so
// the two can never drift apart.
type Definition struct {
	Name        string
	Description string
	Params      []Param
}

// Definitions returns the full operation catalog in a stable order.
func Definitions() []Definition {
	return []Definition{
		{
			Name:        OpAddTask,
			Description: "Add a new task to the user's todo list.",
			Params: []Param{
				{Name: "title", Type: "string", Required: true, Description: "Short task title"},
				{Name: "description", Type: "string", Description: "Longer free-text details"},
				{Name: "priority", Type: "string", Enum: []string{"low", "medium", "high"}, Description: "Task priority"},
				{Name: "tags", Type: "array", Description: "Free-text tags"},
				{Name: "due_date", Type: "string", Description: "Due date, YYYY-MM-DD"},
				{Name: "due_time", Type: "string", Description: "Due time of day, HH:MM; requires due_date"},
				{Name: "recurrence", Type: "string", Enum: []string{"none", "daily", "weekly", "monthly"}, Description: "Recurrence rule"},
				{Name: "recurrence_day", Type: "integer", Description: "Weekday 0-6 (Sunday=0) for weekly, day-of-month 1-31 for monthly"},
			},
		},
		{
			Name:        OpListTasks,
			Description: "List the user's tasks, optionally filtered and sorted.",
			Params: []Param{
				{Name: "completed", Type: "boolean", Description: "Filter by completion state"},
				{Name: "priority", Type: "string", Enum: []string{"low", "medium", "high"}, Description: "Filter by priority"},
				{Name: "tag", Type: "string", Description: "Filter by tag membership"},
				{Name: "sort_by", Type: "string", Enum: []string{"created", "title", "priority", "due", "done"}, Description: "Sort field"},
				{Name: "sort_order", Type: "string", Enum: []string{"asc", "desc"}, Description: "Sort direction, default asc"},
			},
		},
		{
			Name:        OpSearchTasks,
			Description: "Search tasks whose title or description contains a keyword.",
			Params: []Param{
				{Name: "keyword", Type: "string", Required: true, Description: "Substring to search for"},
			},
		},
		{
			Name:        OpCompleteTask,
			Description: "Mark a task as completed. Recurring tasks spawn their next instance.",
			Params: []Param{
				{Name: "task_id", Type: "integer", Required: true, Description: "Id of the task to complete"},
			},
		},
		{
			Name:        OpDeleteTask,
			Description: "Delete a task permanently.",
			Params: []Param{
				{Name: "task_id", Type: "integer", Required: true, Description: "Id of the task to delete"},
			},
		},
		{
			Name:        OpUpdateTask,
			Description: "Change fields of an existing task. Only provided fields change.",
			Params: []Param{
				{Name: "task_id", Type: "integer", Required: true, Description: "Id of the task to update"},
				{Name: "title", Type: "string", Description: "New title"},
				{Name: "description", Type: "string", Description: "New description"},
				{Name: "priority", Type: "string", Enum: []string{"low", "medium", "high"}, Description: "New priority"},
				{Name: "tags", Type: "array", Description: "Replacement tag set"},
				{Name: "due_date", Type: "string", Description: "New due date, YYYY-MM-DD; empty clears it"},
				{Name: "due_time", Type: "string", Description: "New due time, HH:MM; empty clears it"},
				{Name: "recurrence", Type: "string", Enum: []string{"none", "daily", "weekly", "monthly"}, Description: "New recurrence rule"},
				{Name: "recurrence_day", Type: "integer", Description: "Weekday or day-of-month for the recurrence rule"},
			},
		},
	}
}

// JSONSchema renders the definition's parameters as a JSON-schema object,
// the shape both OpenAI function calling and MCP expect.
func (d Definition) JSONSchema() map[string]any {
	props := map[string]any{}
	var required []string
	for _, p := range d.Params {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Type == "array" {
			prop["items"] = map[string]any{"type": "string"}
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
