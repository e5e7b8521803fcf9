package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/taskchat/taskchat/internal/agent"
	"github.com/taskchat/taskchat/internal/auth"
	"github.com/taskchat/taskchat/internal/core"
	"github.com/taskchat/taskchat/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxMessageLen       = 4000
)

// Server wires the request handlers together. It holds no per-conversation
// state; each request re-reads everything it needs from the store, so any
// instance can serve any request.
type Server struct {
	Store        *store.DB
	Loop         *agent.Loop
	Verifier     auth.Verifier
	HistoryLimit int
	Logs         *store.LogStore // optional
}

// Handler builds the HTTP mux with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/chat", s.withAuth(s.handleChat))
	mux.HandleFunc("GET /api/conversations", s.withAuth(s.handleListConversations))
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.withAuth(s.handleConversationMessages))
	mux.HandleFunc("GET /api/tasks", s.withAuth(s.handleListTasks))
	mux.HandleFunc("POST /api/tasks", s.withAuth(s.handleCreateTask))
	mux.HandleFunc("PATCH /api/tasks/{id}", s.withAuth(s.handlePatchTask))
	mux.HandleFunc("DELETE /api/tasks/{id}", s.withAuth(s.handleDeleteTask))
	return mux
}

type authedHandler func(w http.ResponseWriter, r *http.Request, userID string)

// withAuth validates the bearer token and passes the owner id through. The
// owner id comes only from the verified token, never from the request body.
func (s *Server) withAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, err := s.Verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next(w, r, userID)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

type chatResponse struct {
	ConversationID string                `json:"conversation_id"`
	Reply          string                `json:"reply"`
	ToolCalls      []core.ToolInvocation `json:"tool_calls"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, userID string) {
	ctx := r.Context()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if len([]rune(message)) > maxMessageLen {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("message must be at most %d characters", maxMessageLen))
		return
	}

	user, err := s.Store.GetOrCreateUser(ctx, userID, "")
	if err != nil {
		s.storeError(w, "get or create user", err)
		return
	}

	var conv *store.Conversation
	if req.ConversationID != "" {
		conv, err = s.Store.GetConversation(ctx, req.ConversationID, userID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		if err != nil {
			s.storeError(w, "load conversation", err)
			return
		}
	} else {
		conv, err = s.Store.CreateConversation(ctx, userID)
		if err != nil {
			s.storeError(w, "create conversation", err)
			return
		}
	}

	limit := s.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	stored, err := s.Store.GetHistory(ctx, conv.ID, userID, limit)
	if err != nil {
		s.storeError(w, "load history", err)
		return
	}
	history := toWireMessages(stored)

	if _, err := s.Store.AppendMessage(ctx, conv.ID, userID, "user", message, "", ""); err != nil {
		s.storeError(w, "persist user message", err)
		return
	}

	result, err := s.Loop.RunTurn(ctx, userID, user.Name, history, message)
	if err != nil {
		log.Printf("[SERVER] ERROR: turn failed for conversation %s: %v", conv.ID, err)
		if s.Logs != nil {
			_ = s.Logs.LogError("SERVER", fmt.Sprintf("turn failed for conversation %s: %v", conv.ID, err))
		}
		writeError(w, http.StatusBadGateway, "The assistant is temporarily unavailable. Please try again.")
		return
	}

	if err := s.persistTranscript(ctx, conv.ID, userID, result.Transcript); err != nil {
		s.storeError(w, "persist transcript", err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		ConversationID: conv.ID,
		Reply:          result.Reply,
		ToolCalls:      emptyIfNil(result.Trace),
	})
}

// persistTranscript appends the turn's new messages in order. Assistant
// messages carry their tool_calls as wire-format JSON so a later request can
// replay the exchange faithfully.
func (s *Server) persistTranscript(ctx context.Context, conversationID, userID string, transcript []core.Message) error {
	for _, m := range transcript {
		toolCalls := ""
		if len(m.ToolCalls) > 0 {
			b, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("encode tool calls: %w", err)
			}
			toolCalls = string(b)
		}
		if _, err := s.Store.AppendMessage(ctx, conversationID, userID, m.Role, m.Content, toolCalls, m.ToolCallID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request, userID string) {
	convs, err := s.Store.ListConversations(r.Context(), userID)
	if err != nil {
		s.storeError(w, "list conversations", err)
		return
	}
	if convs == nil {
		convs = []store.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request, userID string) {
	id := r.PathValue("id")
	limit := queryInt(r, "limit", 100, 500)
	msgs, err := s.Store.GetHistory(r.Context(), id, userID, limit)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.storeError(w, "load messages", err)
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request, userID string) {
	var completed *bool
	if v := r.URL.Query().Get("completed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "completed must be true or false")
			return
		}
		completed = &b
	}
	search := r.URL.Query().Get("search")
	limit := queryInt(r, "limit", 20, 100)
	offset := queryInt(r, "offset", 0, 1<<30)

	tasks, total, err := s.Store.ListTasks(r.Context(), userID, completed, search, limit, offset)
	if err != nil {
		s.storeError(w, "list tasks", err)
		return
	}
	if tasks == nil {
		tasks = []store.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "total": total})
}

type taskWrite struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Completed   *bool   `json:"completed"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request, userID string) {
	var req taskWrite
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Title == nil || strings.TrimSpace(*req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	desc := ""
	if req.Description != nil {
		desc = *req.Description
	}
	task, err := s.Store.CreateTask(r.Context(), userID, strings.TrimSpace(*req.Title), strings.TrimSpace(desc))
	if err != nil {
		s.storeError(w, "create task", err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handlePatchTask(w http.ResponseWriter, r *http.Request, userID string) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	var req taskWrite
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Title == nil && req.Description == nil && req.Completed == nil {
		writeError(w, http.StatusBadRequest, "at least one of title, description, completed is required")
		return
	}

	ctx := r.Context()
	var task *store.Task
	if req.Title != nil || req.Description != nil {
		if req.Title != nil {
			trimmed := strings.TrimSpace(*req.Title)
			if trimmed == "" {
				writeError(w, http.StatusBadRequest, "title cannot be empty")
				return
			}
			req.Title = &trimmed
		}
		task, err = s.Store.UpdateTask(ctx, userID, id, req.Title, req.Description)
		if err != nil {
			s.taskError(w, err)
			return
		}
	}
	if req.Completed != nil {
		task, err = s.Store.SetTaskCompleted(ctx, userID, id, *req.Completed)
		if err != nil {
			s.taskError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request, userID string) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	task, err := s.Store.DeleteTask(r.Context(), userID, id)
	if err != nil {
		s.taskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "id": task.ID, "title": task.Title})
}

func (s *Server) taskError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.storeError(w, "task operation", err)
}

func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	log.Printf("[SERVER] ERROR: %s: %v", op, err)
	if s.Logs != nil {
		_ = s.Logs.LogError("SERVER", fmt.Sprintf("%s: %v", op, err))
	}
	writeError(w, http.StatusInternalServerError, "internal storage error")
}

// toWireMessages converts persisted messages to the model wire format,
// rehydrating assistant tool_calls JSON.
func toWireMessages(stored []store.Message) []core.Message {
	out := make([]core.Message, 0, len(stored))
	for _, m := range stored {
		wire := core.Message{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		if m.ToolCalls != "" {
			if err := json.Unmarshal([]byte(m.ToolCalls), &wire.ToolCalls); err != nil {
				log.Printf("[SERVER] WARN: dropping malformed tool_calls on message %s: %v", m.ID, err)
				wire.ToolCalls = nil
			}
		}
		out = append(out, wire)
	}
	return out
}

func emptyIfNil(trace []core.ToolInvocation) []core.ToolInvocation {
	if trace == nil {
		return []core.ToolInvocation{}
	}
	return trace
}

func queryInt(r *http.Request, key string, def, max int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[SERVER] ERROR: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
