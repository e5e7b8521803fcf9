package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/taskchat/taskchat/internal/core"
	"github.com/taskchat/taskchat/internal/store"
	"github.com/taskchat/taskchat/internal/tools"
)

const defaultMaxTurns = 10

const turnLimitReply = "I wasn't able to finish that request within my tool budget. Could you try rephrasing, or break it into smaller steps?"

// Loop runs one bounded conversation turn: it calls the model, dispatches the
// tool calls it requests, feeds results back, and repeats until the model
// produces a plain reply or the turn budget runs out. The loop itself holds no
// per-conversation state; everything it needs arrives as arguments.
type Loop struct {
	Client     core.LLMClient
	Dispatcher core.ToolDispatcher
	MaxTurns   int
	Logs       *store.LogStore // optional
}

// TurnResult is everything one turn produced.
type TurnResult struct {
	Reply      string
	Trace      []core.ToolInvocation
	Transcript []core.Message // new assistant and tool messages, in order
}

// RunTurn executes one user message against the given history. The returned
// error is reserved for transport and model failures; tool-level failures are
// fed back to the model as structured results and never abort the turn.
func (l *Loop) RunTurn(ctx context.Context, userID, userName string, history []core.Message, userMessage string) (*TurnResult, error) {
	maxTurns := l.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	ctx = tools.WithUserID(ctx, userID)

	messages := make([]core.Message, 0, len(history)+2)
	messages = append(messages, core.Message{Role: "system", Content: BuildSystemPrompt(userName)})
	messages = append(messages, history...)
	messages = append(messages, core.Message{Role: "user", Content: userMessage})

	result := &TurnResult{}
	defs := l.Dispatcher.Definitions()
	nudged := false

	for turn := 0; turn < maxTurns; turn++ {
		content, toolCalls, err := l.Client.ChatCompletionWithTools(ctx, messages, defs)
		if err != nil {
			l.logError(fmt.Sprintf("model call failed: %v", err))
			return nil, fmt.Errorf("model call: %w", err)
		}

		if len(toolCalls) == 0 {
			if strings.TrimSpace(content) == "" && !nudged {
				nudged = true
				messages = append(messages, core.Message{Role: "user", Content: "(Please reply to the user in plain text.)"})
				continue
			}
			reply := content
			if strings.TrimSpace(reply) == "" {
				reply = "I'm not sure how to respond to that. Could you rephrase?"
			}
			result.Reply = reply
			result.Transcript = append(result.Transcript, core.Message{Role: "assistant", Content: reply})
			return result, nil
		}

		assistant := core.Message{Role: "assistant", Content: content, ToolCalls: toolCalls}
		messages = append(messages, assistant)
		result.Transcript = append(result.Transcript, assistant)

		for _, tc := range toolCalls {
			name := tc.Function.Name
			argsJSON := tc.Function.Arguments

			var toolResult string
			if l.Dispatcher.Mutating(name) {
				resolved, failure, err := l.resolveReference(ctx, userID, argsJSON, result)
				if err != nil {
					return nil, err
				}
				if failure != "" {
					toolResult = failure
				} else {
					argsJSON = resolved
				}
			}
			if toolResult == "" {
				out, err := l.dispatch(ctx, userID, name, argsJSON, result)
				if err != nil {
					return nil, err
				}
				toolResult = out
			}

			toolMsg := core.Message{Role: "tool", Content: toolResult, ToolCallID: tc.ID}
			messages = append(messages, toolMsg)
			result.Transcript = append(result.Transcript, toolMsg)
		}
	}

	l.logWarn(fmt.Sprintf("turn budget of %d exhausted for user %s", maxTurns, userID))
	result.Reply = turnLimitReply
	result.Transcript = append(result.Transcript, core.Message{Role: "assistant", Content: turnLimitReply})
	return result, nil
}

// dispatch runs one tool call through the dispatcher and records it in the
// trace. The owner id is added to the traced arguments so the trace shows the
// effective call, matching the owner injected via context.
func (l *Loop) dispatch(ctx context.Context, userID, name, argsJSON string, result *TurnResult) (string, error) {
	out, err := l.Dispatcher.Dispatch(ctx, name, argsJSON)
	if err != nil {
		l.logError(fmt.Sprintf("tool %s failed internally: %v", name, err))
		return "", fmt.Errorf("dispatch %s: %w", name, err)
	}

	args := map[string]any{}
	if argsJSON != "" {
		_ = json.Unmarshal([]byte(argsJSON), &args)
	}
	args["user_id"] = userID
	res := map[string]any{}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		res = map[string]any{"success": false, "raw": out}
	}
	result.Trace = append(result.Trace, core.ToolInvocation{Tool: name, Arguments: args, Result: res})
	return out, nil
}

// resolveReference fills in task_id on a mutating call that arrived with a
// free-text reference instead. It lists the user's tasks through the
// dispatcher (so the lookup shows up in the trace) and matches the reference
// deterministically. On zero or multiple matches it returns a structured
// failure result and the mutating tool is never dispatched.
func (l *Loop) resolveReference(ctx context.Context, userID, argsJSON string, result *TurnResult) (resolved, failure string, err error) {
	args := map[string]any{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return argsJSON, "", nil // let the tool report the validation failure
		}
	}
	if id, ok := args["task_id"].(float64); ok && id != 0 {
		return argsJSON, "", nil
	}
	reference, _ := args["reference"].(string)
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return argsJSON, "", nil
	}

	listOut, err := l.dispatch(ctx, userID, "list_tasks", `{"limit":100}`, result)
	if err != nil {
		return "", "", err
	}
	var list struct {
		Success bool `json:"success"`
		Tasks   []struct {
			ID          int64  `json:"id"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(listOut), &list); err != nil || !list.Success {
		return "", tools.Failure(tools.CodeStoreError, "Could not look up tasks to resolve the reference."), nil
	}

	candidates := make([]Candidate, 0, len(list.Tasks))
	for _, t := range list.Tasks {
		candidates = append(candidates, Candidate{ID: t.ID, Title: t.Title, Description: t.Description})
	}
	matches := MatchTasks(reference, candidates)
	switch len(matches) {
	case 0:
		return "", tools.Failure(tools.CodeNoMatch, fmt.Sprintf("No task matches '%s'.", reference)), nil
	case 1:
		args["task_id"] = matches[0].ID
		delete(args, "reference")
		b, err := json.Marshal(args)
		if err != nil {
			return "", "", fmt.Errorf("encode resolved arguments: %w", err)
		}
		return string(b), "", nil
	default:
		names := make([]string, 0, len(matches))
		for _, m := range matches {
			names = append(names, fmt.Sprintf("%d: %s", m.ID, m.Title))
		}
		return "", tools.Failure(tools.CodeAmbiguousReference,
			fmt.Sprintf("Multiple tasks match '%s': %s. Ask the user which one they mean.", reference, strings.Join(names, "; "))), nil
	}
}

func (l *Loop) logError(msg string) {
	log.Printf("[AGENT] ERROR: %s", msg)
	if l.Logs != nil {
		_ = l.Logs.LogError("AGENT", msg)
	}
}

func (l *Loop) logWarn(msg string) {
	log.Printf("[AGENT] WARN: %s", msg)
	if l.Logs != nil {
		_ = l.Logs.LogWarn("AGENT", msg)
	}
}
