package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/taskchat/taskchat/internal/store"
)

// Error codes returned inside structured tool results. Tool failures are
// results, not Go errors, so the model can react to them conversationally.
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeStoreError         = "STORE_ERROR"
	CodeNoMatch            = "NO_MATCH"
	CodeAmbiguousReference = "AMBIGUOUS_REFERENCE"
)

// TaskPayload is the serialized task carried in tool results.
type TaskPayload struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TaskSummary is minimal task info for deletion results.
type TaskSummary struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// TaskOutput is the result envelope for add/update/complete.
type TaskOutput struct {
	Success bool         `json:"success"`
	Task    *TaskPayload `json:"task,omitempty"`
	Message string       `json:"message"`
	Error   string       `json:"error,omitempty"`
}

// ListOutput is the result envelope for list_tasks.
type ListOutput struct {
	Success bool          `json:"success"`
	Tasks   []TaskPayload `json:"tasks"`
	Total   int           `json:"total"`
	Message string        `json:"message"`
	Error   string        `json:"error,omitempty"`
}

// DeleteOutput is the result envelope for delete_task.
type DeleteOutput struct {
	Success     bool         `json:"success"`
	DeletedTask *TaskSummary `json:"deleted_task,omitempty"`
	Message     string       `json:"message"`
	Error       string       `json:"error,omitempty"`
}

func payload(t *store.Task) *TaskPayload {
	return &TaskPayload{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func resultJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{"success":false,"error":"STORE_ERROR","message":"failed to encode result"}`
	}
	return string(b)
}

// Failure builds a structured failure result with the given code and message.
func Failure(code, message string) string {
	return resultJSON(map[string]any{"success": false, "error": code, "message": message})
}

// storeFailure maps a store error to a structured failure result.
// Raw driver errors never reach the model or the user.
func storeFailure(err error) string {
	if errors.Is(err, store.ErrNotFound) {
		return Failure(CodeNotFound, "Task not found. It may not exist or may belong to another user.")
	}
	return Failure(CodeStoreError, "The task store is temporarily unavailable. Please try again.")
}

type ctxKey int

const userIDKey ctxKey = 0

// WithUserID stores the authenticated owner id in the context. Tools read the
// owner from here and never from model-supplied arguments.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFrom extracts the authenticated owner id from the context.
func UserIDFrom(ctx context.Context) (string, error) {
	id, _ := ctx.Value(userIDKey).(string)
	if id == "" {
		return "", fmt.Errorf("user context required")
	}
	return id, nil
}
