package middleware

import (
	"context"

	"github.com/taskchat/taskchat/internal/core"
	"github.com/taskchat/taskchat/internal/tools"
)

// TruncatingDispatcher wraps a ToolDispatcher and truncates tool output to
// maxRunes before it re-enters the model context (0 = no truncation).
type TruncatingDispatcher struct {
	next     core.ToolDispatcher
	maxRunes int
}

// NewTruncatingDispatcher returns a dispatcher that truncates results from next.
func NewTruncatingDispatcher(next core.ToolDispatcher, maxRunes int) *TruncatingDispatcher {
	return &TruncatingDispatcher{next: next, maxRunes: maxRunes}
}

// Dispatch runs the inner dispatcher and truncates the result before returning.
func (t *TruncatingDispatcher) Dispatch(ctx context.Context, name, argsJSON string) (string, error) {
	result, err := t.next.Dispatch(ctx, name, argsJSON)
	if err != nil {
		return "", err
	}
	return tools.TruncateOutput(result, t.maxRunes), nil
}

// Definitions delegates to the inner dispatcher.
func (t *TruncatingDispatcher) Definitions() []core.ToolDefinition {
	return t.next.Definitions()
}

// Mutating delegates to the inner dispatcher.
func (t *TruncatingDispatcher) Mutating(name string) bool {
	return t.next.Mutating(name)
}
