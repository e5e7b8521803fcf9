package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/taskchat/taskchat/internal/core"
)

// DefaultBaseURL is the OpenRouter API root.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// Message represents a chat message (OpenRouter/OpenAI format).
type Message = core.Message

// ToolDefinition is a function tool for the API (OpenAI-compatible).
type ToolDefinition = core.ToolDefinition

// ToolCall is a single tool call from the model.
type ToolCall = core.ToolCall

// Client calls the OpenRouter chat completions API.
type Client struct {
	APIKey  string
	Model   string
	BaseURL string // defaults to DefaultBaseURL when empty
	HTTP    *http.Client
}

// NewClient creates a client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	return &Client{
		APIKey: apiKey,
		Model:  model,
		HTTP:   http.DefaultClient,
	}
}

var _ core.LLMClient = (*Client)(nil)

func (c *Client) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return DefaultBaseURL
}

// chatRequest is the request body for chat completions.
type chatRequest struct {
	Model      string           `json:"model"`
	Messages   []Message        `json:"messages"`
	Tools      []ToolDefinition `json:"tools,omitempty"`
	ToolChoice interface{}      `json:"tool_choice,omitempty"` // "auto" or object
}

// chatResponse is the response from chat completions.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   json.RawMessage `json:"content"`
			Role      string          `json:"role"`
			ToolCalls []ToolCall      `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// parseContent parses API content that may be string, null, or array of parts
// (e.g. [{"type":"text","text":"..."}]).
func parseContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []map[string]interface{}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		if t, ok := p["text"].(string); ok {
			b.WriteString(t)
		}
	}
	return b.String()
}

// ChatCompletion sends messages and returns the assistant reply content.
func (c *Client) ChatCompletion(ctx context.Context, messages []Message) (string, error) {
	content, _, err := c.complete(ctx, messages, nil)
	return content, err
}

// ChatCompletionWithTools sends messages and optional tools; returns content and any tool_calls.
func (c *Client) ChatCompletionWithTools(ctx context.Context, messages []Message, tools []ToolDefinition) (string, []ToolCall, error) {
	return c.complete(ctx, messages, tools)
}

// complete posts to /chat/completions with retry and exponential backoff for
// transient errors (network, 5xx, 429).
func (c *Client) complete(ctx context.Context, messages []Message, tools []ToolDefinition) (string, []ToolCall, error) {
	if c.APIKey == "" {
		return "", nil, fmt.Errorf("openrouter: API key not set")
	}
	if c.Model == "" {
		return "", nil, fmt.Errorf("openrouter: model not set")
	}
	body := chatRequest{Model: c.Model, Messages: messages, Tools: tools}
	if len(tools) > 0 {
		body.ToolChoice = "auto"
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", nil, err
	}

	const maxRetries = 3
	backoff := 1 * time.Second
	var resp *http.Response
	var lastErr error
	var bodyBytes []byte

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			log.Printf("[OPENROUTER] Retry %d/%d after %v...", attempt, maxRetries, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", nil, ctx.Err()
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/chat/completions", bytes.NewReader(raw))
		if err != nil {
			return "", nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.APIKey)

		resp, lastErr = c.HTTP.Do(req)
		if lastErr != nil {
			log.Printf("[OPENROUTER] Network error: %v", lastErr)
			continue
		}

		bodyBytes, _ = io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			log.Printf("[OPENROUTER] Retryable error: HTTP %d", resp.StatusCode)
			continue
		}
		break
	}

	if lastErr != nil {
		return "", nil, fmt.Errorf("openrouter: request failed after %d retries: %w", maxRetries, lastErr)
	}
	if resp == nil {
		return "", nil, fmt.Errorf("openrouter: request failed after %d retries", maxRetries)
	}
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("openrouter: HTTP %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var out chatResponse
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		return "", nil, fmt.Errorf("openrouter: decode: %w", err)
	}
	if out.Error != nil {
		return "", nil, fmt.Errorf("openrouter: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", nil, fmt.Errorf("openrouter: no choices in response")
	}
	msg := out.Choices[0].Message
	return parseContent(msg.Content), msg.ToolCalls, nil
}
