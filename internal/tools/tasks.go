package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/taskchat/taskchat/internal/store"
)

const (
	maxTitleLen       = 255
	maxDescriptionLen = 2000
	defaultListLimit  = 20
	maxListLimit      = 100
)

// AddTaskInput are the model-visible arguments for add_task. The owner id is
// injected from the request context, never accepted from the model.
type AddTaskInput struct {
	Title       string `json:"title" jsonschema:"Brief title describing the task (1-255 characters)"`
	Description string `json:"description,omitempty" jsonschema:"Optional detailed description of the task"`
}

// ListTasksInput are the model-visible arguments for list_tasks.
type ListTasksInput struct {
	Completed *bool  `json:"completed,omitempty" jsonschema:"Filter by completion status; omit for all tasks"`
	Search    string `json:"search,omitempty" jsonschema:"Case-insensitive title search term"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum tasks to return (default 20, max 100)"`
	Offset    int    `json:"offset,omitempty" jsonschema:"Number of tasks to skip for pagination"`
}

// UpdateTaskInput are the model-visible arguments for update_task.
type UpdateTaskInput struct {
	TaskID      int64   `json:"task_id,omitempty" jsonschema:"Numeric id of the task to update"`
	Reference   string  `json:"reference,omitempty" jsonschema:"Free-text description of the task when the exact id is unknown"`
	Title       *string `json:"title,omitempty" jsonschema:"New task title"`
	Description *string `json:"description,omitempty" jsonschema:"New description; empty string clears it"`
}

// CompleteTaskInput are the model-visible arguments for complete_task.
type CompleteTaskInput struct {
	TaskID    int64  `json:"task_id,omitempty" jsonschema:"Numeric id of the task"`
	Reference string `json:"reference,omitempty" jsonschema:"Free-text description of the task when the exact id is unknown"`
	Completed *bool  `json:"completed,omitempty" jsonschema:"true to mark done (default), false to reopen"`
}

// DeleteTaskInput are the model-visible arguments for delete_task.
type DeleteTaskInput struct {
	TaskID    int64  `json:"task_id,omitempty" jsonschema:"Numeric id of the task to delete"`
	Reference string `json:"reference,omitempty" jsonschema:"Free-text description of the task when the exact id is unknown"`
}

// AddTaskTool creates a new task for the authenticated user.
type AddTaskTool struct {
	Tasks store.TaskStore
}

func (t *AddTaskTool) Name() string { return "add_task" }
func (t *AddTaskTool) Mutating() bool { return true }
func (t *AddTaskTool) Description() string {
	return "Create a new task on the user's todo list. Use when the user wants to add, create, or remember something to do."
}
func (t *AddTaskTool) InputSchema() (*jsonschema.Schema, error) {
	return jsonschema.For[AddTaskInput](nil)
}

func (t *AddTaskTool) Execute(ctx context.Context, argsJSON string) (string, error) {
	userID, err := UserIDFrom(ctx)
	if err != nil {
		return "", err
	}
	var args AddTaskInput
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return Failure(CodeValidationError, "arguments are not valid JSON"), nil
	}
	title := strings.TrimSpace(args.Title)
	if title == "" {
		return Failure(CodeValidationError, "Title cannot be empty."), nil
	}
	if len([]rune(title)) > maxTitleLen {
		return Failure(CodeValidationError, fmt.Sprintf("Title must be at most %d characters.", maxTitleLen)), nil
	}
	desc := strings.TrimSpace(args.Description)
	if len([]rune(desc)) > maxDescriptionLen {
		return Failure(CodeValidationError, fmt.Sprintf("Description must be at most %d characters.", maxDescriptionLen)), nil
	}

	task, err := t.Tasks.CreateTask(ctx, userID, title, desc)
	if err != nil {
		return storeFailure(err), nil
	}
	return resultJSON(TaskOutput{
		Success: true,
		Task:    payload(task),
		Message: fmt.Sprintf("Task '%s' created successfully", task.Title),
	}), nil
}

// ListTasksTool lists the authenticated user's tasks with optional filters.
type ListTasksTool struct {
	Tasks store.TaskStore
}

func (t *ListTasksTool) Name() string { return "list_tasks" }
func (t *ListTasksTool) Mutating() bool { return false }
func (t *ListTasksTool) Description() string {
	return "List the user's tasks with optional completion filter, title search, and pagination. Use when the user wants to see, check, or count tasks, or when you need a task id."
}
func (t *ListTasksTool) InputSchema() (*jsonschema.Schema, error) {
	return jsonschema.For[ListTasksInput](nil)
}

func (t *ListTasksTool) Execute(ctx context.Context, argsJSON string) (string, error) {
	userID, err := UserIDFrom(ctx)
	if err != nil {
		return "", err
	}
	var args ListTasksInput
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return Failure(CodeValidationError, "arguments are not valid JSON"), nil
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := args.Offset
	if offset < 0 {
		offset = 0
	}

	tasks, total, err := t.Tasks.ListTasks(ctx, userID, args.Completed, strings.TrimSpace(args.Search), limit, offset)
	if err != nil {
		return storeFailure(err), nil
	}

	out := ListOutput{Success: true, Tasks: []TaskPayload{}, Total: total}
	for i := range tasks {
		out.Tasks = append(out.Tasks, *payload(&tasks[i]))
	}
	status := "total"
	if args.Completed != nil {
		if *args.Completed {
			status = "completed"
		} else {
			status = "incomplete"
		}
	}
	out.Message = fmt.Sprintf("Found %d %s tasks", total, status)
	return resultJSON(out), nil
}

// UpdateTaskTool changes a task's title and/or description.
type UpdateTaskTool struct {
	Tasks store.TaskStore
}

func (t *UpdateTaskTool) Name() string { return "update_task" }
func (t *UpdateTaskTool) Mutating() bool { return true }
func (t *UpdateTaskTool) Description() string {
	return "Update an existing task's title or description. Provide task_id when known, or reference with a short description of which task to change."
}
func (t *UpdateTaskTool) InputSchema() (*jsonschema.Schema, error) {
	return jsonschema.For[UpdateTaskInput](nil)
}

func (t *UpdateTaskTool) Execute(ctx context.Context, argsJSON string) (string, error) {
	userID, err := UserIDFrom(ctx)
	if err != nil {
		return "", err
	}
	var args UpdateTaskInput
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return Failure(CodeValidationError, "arguments are not valid JSON"), nil
	}
	if args.TaskID == 0 {
		return Failure(CodeValidationError, "task_id is required; use list_tasks or the reference field to find the task first."), nil
	}
	if args.Title == nil && args.Description == nil {
		return Failure(CodeValidationError, "At least one of 'title' or 'description' must be provided."), nil
	}
	if args.Title != nil {
		trimmed := strings.TrimSpace(*args.Title)
		if trimmed == "" {
			return Failure(CodeValidationError, "Title cannot be empty."), nil
		}
		if len([]rune(trimmed)) > maxTitleLen {
			return Failure(CodeValidationError, fmt.Sprintf("Title must be at most %d characters.", maxTitleLen)), nil
		}
		args.Title = &trimmed
	}
	if args.Description != nil && len([]rune(*args.Description)) > maxDescriptionLen {
		return Failure(CodeValidationError, fmt.Sprintf("Description must be at most %d characters.", maxDescriptionLen)), nil
	}

	task, err := t.Tasks.UpdateTask(ctx, userID, args.TaskID, args.Title, args.Description)
	if err != nil {
		return storeFailure(err), nil
	}
	return resultJSON(TaskOutput{
		Success: true,
		Task:    payload(task),
		Message: fmt.Sprintf("Task %d updated successfully", task.ID),
	}), nil
}

// CompleteTaskTool marks a task done or reopens it.
type CompleteTaskTool struct {
	Tasks store.TaskStore
}

func (t *CompleteTaskTool) Name() string { return "complete_task" }
func (t *CompleteTaskTool) Mutating() bool { return true }
func (t *CompleteTaskTool) Description() string {
	return "Mark a task as completed, or as incomplete with completed=false. Provide task_id when known, or reference with a short description of which task."
}
func (t *CompleteTaskTool) InputSchema() (*jsonschema.Schema, error) {
	return jsonschema.For[CompleteTaskInput](nil)
}

func (t *CompleteTaskTool) Execute(ctx context.Context, argsJSON string) (string, error) {
	userID, err := UserIDFrom(ctx)
	if err != nil {
		return "", err
	}
	var args CompleteTaskInput
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return Failure(CodeValidationError, "arguments are not valid JSON"), nil
	}
	if args.TaskID == 0 {
		return Failure(CodeValidationError, "task_id is required; use list_tasks or the reference field to find the task first."), nil
	}
	completed := true
	if args.Completed != nil {
		completed = *args.Completed
	}

	task, err := t.Tasks.SetTaskCompleted(ctx, userID, args.TaskID, completed)
	if err != nil {
		return storeFailure(err), nil
	}
	status := "completed"
	if !completed {
		status = "marked as incomplete"
	}
	return resultJSON(TaskOutput{
		Success: true,
		Task:    payload(task),
		Message: fmt.Sprintf("Task '%s' %s", task.Title, status),
	}), nil
}

// DeleteTaskTool permanently removes a task.
type DeleteTaskTool struct {
	Tasks store.TaskStore
}

func (t *DeleteTaskTool) Name() string { return "delete_task" }
func (t *DeleteTaskTool) Mutating() bool { return true }
func (t *DeleteTaskTool) Description() string {
	return "Permanently delete a task. This cannot be undone. Provide task_id when known, or reference with a short description of which task."
}
func (t *DeleteTaskTool) InputSchema() (*jsonschema.Schema, error) {
	return jsonschema.For[DeleteTaskInput](nil)
}

func (t *DeleteTaskTool) Execute(ctx context.Context, argsJSON string) (string, error) {
	userID, err := UserIDFrom(ctx)
	if err != nil {
		return "", err
	}
	var args DeleteTaskInput
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return Failure(CodeValidationError, "arguments are not valid JSON"), nil
	}
	if args.TaskID == 0 {
		return Failure(CodeValidationError, "task_id is required; use list_tasks or the reference field to find the task first."), nil
	}

	task, err := t.Tasks.DeleteTask(ctx, userID, args.TaskID)
	if err != nil {
		return storeFailure(err), nil
	}
	return resultJSON(DeleteOutput{
		Success:     true,
		DeletedTask: &TaskSummary{ID: task.ID, Title: task.Title},
		Message:     fmt.Sprintf("Task '%s' has been deleted", task.Title),
	}), nil
}
