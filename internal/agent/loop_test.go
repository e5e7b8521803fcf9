package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/taskchat/taskchat/internal/core"
	"github.com/taskchat/taskchat/internal/store"
	"github.com/taskchat/taskchat/internal/tools"
)

type llmStep struct {
	content   string
	toolCalls []core.ToolCall
	err       error
}

// scriptedLLM replays a fixed sequence of model responses. Once the script is
// exhausted it repeats the last step, which lets tests exercise the turn bound.
type scriptedLLM struct {
	steps []llmStep
	calls int
}

func (m *scriptedLLM) ChatCompletion(ctx context.Context, messages []core.Message) (string, error) {
	content, _, err := m.ChatCompletionWithTools(ctx, messages, nil)
	return content, err
}

func (m *scriptedLLM) ChatCompletionWithTools(ctx context.Context, messages []core.Message, defs []core.ToolDefinition) (string, []core.ToolCall, error) {
	i := m.calls
	if i >= len(m.steps) {
		i = len(m.steps) - 1
	}
	m.calls++
	step := m.steps[i]
	return step.content, step.toolCalls, step.err
}

// countingDispatcher records how many mutating tools were actually executed.
type countingDispatcher struct {
	core.ToolDispatcher
	mutatingDispatches int
}

func (c *countingDispatcher) Dispatch(ctx context.Context, name, argsJSON string) (string, error) {
	if c.ToolDispatcher.Mutating(name) {
		c.mutatingDispatches++
	}
	return c.ToolDispatcher.Dispatch(ctx, name, argsJSON)
}

func setupLoop(t *testing.T, llm core.LLMClient) (*Loop, *countingDispatcher, *store.DB) {
	t.Helper()
	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reg, err := tools.NewTaskRegistry(db)
	if err != nil {
		t.Fatalf("NewTaskRegistry failed: %v", err)
	}
	counter := &countingDispatcher{ToolDispatcher: reg}
	return &Loop{Client: llm, Dispatcher: counter, MaxTurns: 5}, counter, db
}

func call(id, name, args string) core.ToolCall {
	return core.ToolCall{ID: id, Type: "function", Function: core.FunctionCall{Name: name, Arguments: args}}
}

func TestRunTurnPlainReply(t *testing.T) {
	llm := &scriptedLLM{steps: []llmStep{{content: "Hi Alice!"}}}
	loop, _, _ := setupLoop(t, llm)

	result, err := loop.RunTurn(context.Background(), "alice", "Alice", nil, "hello")
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if result.Reply != "Hi Alice!" {
		t.Errorf("unexpected reply: %q", result.Reply)
	}
	if len(result.Trace) != 0 {
		t.Errorf("expected empty trace, got %+v", result.Trace)
	}
	if len(result.Transcript) != 1 || result.Transcript[0].Role != "assistant" {
		t.Errorf("expected single assistant message, got %+v", result.Transcript)
	}
}

func TestRunTurnAddTask(t *testing.T) {
	llm := &scriptedLLM{steps: []llmStep{
		{toolCalls: []core.ToolCall{call("c1", "add_task", `{"title":"Buy milk"}`)}},
		{content: "Added 'Buy milk' to your list."},
	}}
	loop, _, db := setupLoop(t, llm)

	result, err := loop.RunTurn(context.Background(), "alice", "", nil, "remind me to buy milk")
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if len(result.Trace) != 1 {
		t.Fatalf("expected 1 traced invocation, got %d", len(result.Trace))
	}
	inv := result.Trace[0]
	if inv.Tool != "add_task" || !inv.Succeeded() {
		t.Errorf("unexpected invocation: %+v", inv)
	}
	// The effective owner shows up in the traced arguments.
	if inv.Arguments["user_id"] != "alice" {
		t.Errorf("expected traced user_id 'alice', got %v", inv.Arguments["user_id"])
	}

	tasks, total, err := db.ListTasks(context.Background(), "alice", nil, "", 10, 0)
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if total != 1 || tasks[0].Title != "Buy milk" {
		t.Errorf("task not created: total=%d tasks=%+v", total, tasks)
	}

	// Transcript: assistant(tool_calls), tool result, final assistant reply.
	roles := make([]string, 0, len(result.Transcript))
	for _, m := range result.Transcript {
		roles = append(roles, m.Role)
	}
	if strings.Join(roles, ",") != "assistant,tool,assistant" {
		t.Errorf("unexpected transcript roles: %v", roles)
	}
	if result.Transcript[1].ToolCallID != "c1" {
		t.Errorf("tool message should carry the call id, got %q", result.Transcript[1].ToolCallID)
	}
}

func TestRunTurnResolvesReference(t *testing.T) {
	llm := &scriptedLLM{steps: []llmStep{
		{toolCalls: []core.ToolCall{call("c1", "complete_task", `{"reference":"dentist"}`)}},
		{content: "Done, marked the dentist appointment complete."},
	}}
	loop, _, db := setupLoop(t, llm)
	ctx := context.Background()

	if _, err := db.CreateTask(ctx, "alice", "Buy milk", ""); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	dentist, err := db.CreateTask(ctx, "alice", "Call dentist", "")
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	result, err := loop.RunTurn(ctx, "alice", "", nil, "finish the dentist one")
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}

	// Trace shows the lookup followed by the resolved mutation.
	if len(result.Trace) != 2 {
		t.Fatalf("expected 2 traced invocations, got %+v", result.Trace)
	}
	if result.Trace[0].Tool != "list_tasks" || result.Trace[1].Tool != "complete_task" {
		t.Errorf("unexpected trace order: %s, %s", result.Trace[0].Tool, result.Trace[1].Tool)
	}
	if id, _ := result.Trace[1].Arguments["task_id"].(float64); int64(id) != dentist.ID {
		t.Errorf("expected resolved task_id %d, got %v", dentist.ID, result.Trace[1].Arguments["task_id"])
	}

	got, err := db.GetTask(ctx, "alice", dentist.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if !got.Completed {
		t.Error("dentist task should be completed")
	}
}

func TestRunTurnAmbiguousReference(t *testing.T) {
	llm := &scriptedLLM{steps: []llmStep{
		{toolCalls: []core.ToolCall{call("c1", "delete_task", `{"reference":"buy"}`)}},
		{content: "There are two matching tasks. Which one do you mean?"},
	}}
	loop, counter, db := setupLoop(t, llm)
	ctx := context.Background()

	if _, err := db.CreateTask(ctx, "alice", "Buy milk", ""); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if _, err := db.CreateTask(ctx, "alice", "Buy stamps", ""); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	result, err := loop.RunTurn(ctx, "alice", "", nil, "delete the buy one")
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}

	// Only the lookup is traced; the mutation never ran.
	if len(result.Trace) != 1 || result.Trace[0].Tool != "list_tasks" {
		t.Fatalf("expected only list_tasks in trace, got %+v", result.Trace)
	}
	if counter.mutatingDispatches != 0 {
		t.Errorf("expected zero mutating dispatches, got %d", counter.mutatingDispatches)
	}

	// The model saw the ambiguity as a structured failure.
	var toolMsg *core.Message
	for i := range result.Transcript {
		if result.Transcript[i].Role == "tool" {
			toolMsg = &result.Transcript[i]
		}
	}
	if toolMsg == nil || !strings.Contains(toolMsg.Content, tools.CodeAmbiguousReference) {
		t.Errorf("expected AMBIGUOUS_REFERENCE tool result, got %+v", toolMsg)
	}

	// Nothing was deleted.
	_, total, err := db.ListTasks(ctx, "alice", nil, "", 10, 0)
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if total != 2 {
		t.Errorf("expected both tasks to survive, got %d", total)
	}
}

func TestRunTurnNoMatchReference(t *testing.T) {
	llm := &scriptedLLM{steps: []llmStep{
		{toolCalls: []core.ToolCall{call("c1", "complete_task", `{"reference":"file taxes"}`)}},
		{content: "I couldn't find a task like that."},
	}}
	loop, counter, db := setupLoop(t, llm)
	ctx := context.Background()

	if _, err := db.CreateTask(ctx, "alice", "Buy milk", ""); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	result, err := loop.RunTurn(ctx, "alice", "", nil, "complete the taxes task")
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if len(result.Trace) != 1 || result.Trace[0].Tool != "list_tasks" {
		t.Fatalf("expected only list_tasks in trace, got %+v", result.Trace)
	}
	if counter.mutatingDispatches != 0 {
		t.Errorf("expected zero mutating dispatches, got %d", counter.mutatingDispatches)
	}

	var toolContent string
	for _, m := range result.Transcript {
		if m.Role == "tool" {
			toolContent = m.Content
		}
	}
	if !strings.Contains(toolContent, tools.CodeNoMatch) {
		t.Errorf("expected NO_MATCH tool result, got %q", toolContent)
	}
}

func TestRunTurnUnknownTaskID(t *testing.T) {
	llm := &scriptedLLM{steps: []llmStep{
		{toolCalls: []core.ToolCall{call("c1", "complete_task", `{"task_id":9999}`)}},
		{content: "I couldn't find task 9999. Want me to list your tasks?"},
	}}
	loop, _, db := setupLoop(t, llm)
	ctx := context.Background()

	other, err := db.CreateTask(ctx, "alice", "Buy milk", "")
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	result, err := loop.RunTurn(ctx, "alice", "", nil, "complete task 9999")
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	// An explicit id skips resolution: the failed call itself is traced.
	if len(result.Trace) != 1 || result.Trace[0].Tool != "complete_task" {
		t.Fatalf("expected only complete_task in trace, got %+v", result.Trace)
	}
	if result.Trace[0].Succeeded() {
		t.Error("invocation should have failed")
	}
	if result.Trace[0].Result["error"] != tools.CodeNotFound {
		t.Errorf("expected TASK_NOT_FOUND, got %v", result.Trace[0].Result["error"])
	}

	// No other task was touched.
	got, err := db.GetTask(ctx, "alice", other.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Completed {
		t.Error("unrelated task must not be mutated")
	}
}

func TestRunTurnTurnBound(t *testing.T) {
	// The model keeps asking for tools forever; the loop must stop.
	llm := &scriptedLLM{steps: []llmStep{
		{toolCalls: []core.ToolCall{call("c1", "list_tasks", `{}`)}},
	}}
	loop, _, _ := setupLoop(t, llm)
	loop.MaxTurns = 3

	result, err := loop.RunTurn(context.Background(), "alice", "", nil, "loop forever")
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if llm.calls != 3 {
		t.Errorf("expected exactly 3 model calls, got %d", llm.calls)
	}
	if result.Reply != turnLimitReply {
		t.Errorf("expected turn-limit reply, got %q", result.Reply)
	}
	// The fallback reply is persisted like any other assistant message.
	last := result.Transcript[len(result.Transcript)-1]
	if last.Role != "assistant" || last.Content != turnLimitReply {
		t.Errorf("unexpected final transcript message: %+v", last)
	}
}

func TestRunTurnModelFailureAborts(t *testing.T) {
	llm := &scriptedLLM{steps: []llmStep{{err: errors.New("upstream 500")}}}
	loop, _, _ := setupLoop(t, llm)

	if _, err := loop.RunTurn(context.Background(), "alice", "", nil, "hello"); err == nil {
		t.Fatal("expected error from model failure")
	}
}

func TestRunTurnNudgesEmptyResponse(t *testing.T) {
	llm := &scriptedLLM{steps: []llmStep{
		{content: "   "},
		{content: "Hello!"},
	}}
	loop, _, _ := setupLoop(t, llm)

	result, err := loop.RunTurn(context.Background(), "alice", "", nil, "hi")
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if result.Reply != "Hello!" {
		t.Errorf("expected nudge to recover a reply, got %q", result.Reply)
	}
	if llm.calls != 2 {
		t.Errorf("expected 2 model calls, got %d", llm.calls)
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	plain := BuildSystemPrompt("")
	named := BuildSystemPrompt("Alice")
	if plain == named {
		t.Error("named prompt should differ from plain prompt")
	}
	if !strings.Contains(named, "Alice") {
		t.Error("named prompt should mention the user")
	}
	if !strings.HasPrefix(named, plain) {
		t.Error("named prompt should extend the base prompt")
	}
}
