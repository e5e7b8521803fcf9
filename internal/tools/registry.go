package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/taskchat/taskchat/internal/core"
	"github.com/taskchat/taskchat/internal/store"
)

// Tool is one stateless, schema-described operation the model may invoke.
type Tool interface {
	Name() string
	Description() string
	InputSchema() (*jsonschema.Schema, error)
	// Mutating reports whether the tool changes records. The orchestrator
	// refuses to dispatch mutating tools on an unresolved task reference.
	Mutating() bool
	Execute(ctx context.Context, argsJSON string) (string, error)
}

type registryEntry struct {
	tool     Tool
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
}

// Registry is a pure lookup table of tools, assembled once at process start.
// It validates arguments against each tool's schema before dispatching; a
// schema violation never reaches the store.
type Registry struct {
	order   []string
	entries map[string]*registryEntry
}

// NewRegistry builds a registry over the given tools, resolving each input schema once.
func NewRegistry(toolset ...Tool) (*Registry, error) {
	r := &Registry{entries: make(map[string]*registryEntry)}
	for _, t := range toolset {
		schema, err := t.InputSchema()
		if err != nil {
			return nil, fmt.Errorf("input schema for %s: %w", t.Name(), err)
		}
		resolved, err := schema.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("resolving schema for %s: %w", t.Name(), err)
		}
		r.order = append(r.order, t.Name())
		r.entries[t.Name()] = &registryEntry{tool: t, schema: schema, resolved: resolved}
	}
	return r, nil
}

// NewTaskRegistry assembles the standard five task tools over the given store.
func NewTaskRegistry(tasks store.TaskStore) (*Registry, error) {
	return NewRegistry(
		&AddTaskTool{Tasks: tasks},
		&ListTasksTool{Tasks: tasks},
		&UpdateTaskTool{Tasks: tasks},
		&CompleteTaskTool{Tasks: tasks},
		&DeleteTaskTool{Tasks: tasks},
	)
}

// Definitions returns OpenAI-format tool definitions for attachment to a model call.
func (r *Registry) Definitions() []core.ToolDefinition {
	defs := make([]core.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		defs = append(defs, core.ToolDefinition{
			Type: "function",
			Function: core.FunctionSpec{
				Name:        e.tool.Name(),
				Description: e.tool.Description(),
				Parameters:  e.schema,
			},
		})
	}
	return defs
}

// Mutating reports whether the named tool changes records. Unknown tools are
// treated as mutating so the orchestrator stays conservative.
func (r *Registry) Mutating(name string) bool {
	e, ok := r.entries[name]
	if !ok {
		return true
	}
	return e.tool.Mutating()
}

// Dispatch validates the arguments against the tool's schema and executes it.
// Tool-level and validation failures come back as structured results; the
// error return is reserved for internal failures (e.g. missing user context).
func (r *Registry) Dispatch(ctx context.Context, name, argsJSON string) (string, error) {
	e, ok := r.entries[name]
	if !ok {
		return Failure(CodeValidationError, fmt.Sprintf("unknown tool %q", name)), nil
	}
	if strings.TrimSpace(argsJSON) == "" {
		argsJSON = "{}"
	}
	var args any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return Failure(CodeValidationError, "arguments are not valid JSON"), nil
	}
	if err := e.resolved.Validate(args); err != nil {
		return Failure(CodeValidationError, fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	return e.tool.Execute(ctx, argsJSON)
}

// Ensure *Registry implements core.ToolDispatcher.
var _ core.ToolDispatcher = (*Registry)(nil)
