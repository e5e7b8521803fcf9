package core

import (
	"context"
)

// LLMClient abstracts the chat-completions API client (OpenRouter, mock, etc).
type LLMClient interface {
	ChatCompletion(ctx context.Context, messages []Message) (string, error)
	ChatCompletionWithTools(ctx context.Context, messages []Message, tools []ToolDefinition) (string, []ToolCall, error)
}

// ToolDispatcher exposes tool schemas to the model and executes calls by name.
// Dispatch returns a structured JSON result; the error return is reserved for
// internal failures that should abort the turn, not for tool-level failures.
type ToolDispatcher interface {
	Definitions() []ToolDefinition
	Mutating(name string) bool
	Dispatch(ctx context.Context, name, argsJSON string) (string, error)
}
