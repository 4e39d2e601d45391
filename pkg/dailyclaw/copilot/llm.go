package copilot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	defaultMaxTokens        = 4096

	// maxLLMRetries bounds retries of rate-limited or overloaded requests.
	maxLLMRetries = 2
)

// LLM completes a conversation, optionally asking for tool calls.
type LLM interface {
	Complete(ctx context.Context, messages []chatMessage, tools []ToolDefinition) (*LLMResponse, error)
}

// LLMClient talks to the Anthropic Messages API.
type LLMClient struct {
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewLLMClient creates a client from the API section of the config.
func NewLLMClient(cfg *Config, logger *slog.Logger) *LLMClient {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(cfg.API.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	maxTokens := cfg.API.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &LLMClient{
		baseURL:    baseURL,
		apiKey:     cfg.API.APIKey,
		model:      cfg.Model,
		maxTokens:  maxTokens,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logger.With("component", "llm"),
	}
}

// Model returns the configured model id.
func (c *LLMClient) Model() string { return c.model }

// chatMessage is the provider-neutral message the agent loop builds.
type chatMessage struct {
	Role       string     `json:"role"`
	Content    any        `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ---------- Anthropic wire types ----------

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicContent
}

type anthropicContent struct {
	Type      string          `json:"type"` // "text", "tool_use", "tool_result"
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Model      string             `json:"model"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"` // "end_turn", "tool_use", "max_tokens"
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// convertToAnthropicRequest maps the neutral message list to the Messages
// API shape: system text moves to the top-level field, tool results become
// user tool_result blocks and assistant tool calls become tool_use blocks.
func convertToAnthropicRequest(model string, maxTokens int, messages []chatMessage, tools []ToolDefinition) *anthropicRequest {
	req := &anthropicRequest{Model: model, MaxTokens: maxTokens}

	var msgs []anthropicMessage
	for _, m := range messages {
		switch {
		case m.Role == "system":
			if s, ok := m.Content.(string); ok {
				if req.System != "" {
					req.System += "\n\n"
				}
				req.System += s
			}

		case m.Role == "tool":
			result := anthropicContent{Type: "tool_result", ToolUseID: m.ToolCallID}
			if s, ok := m.Content.(string); ok {
				result.Content = s
				result.IsError = strings.Contains(s, `"status":"error"`)
			}
			msgs = append(msgs, anthropicMessage{Role: "user", Content: []anthropicContent{result}})

		case m.Role == "assistant" && len(m.ToolCalls) > 0:
			var blocks []anthropicContent
			if s, ok := m.Content.(string); ok && s != "" {
				blocks = append(blocks, anthropicContent{Type: "text", Text: s})
			}
			for _, tc := range m.ToolCalls {
				args := tc.Function.Arguments
				if args == "" {
					args = "{}"
				}
				blocks = append(blocks, anthropicContent{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: json.RawMessage(args),
				})
			}
			msgs = append(msgs, anthropicMessage{Role: "assistant", Content: blocks})

		default:
			msgs = append(msgs, anthropicMessage{Role: m.Role, Content: m.Content})
		}
	}
	req.Messages = mergeConsecutiveAnthropicMessages(msgs)

	for _, t := range tools {
		req.Tools = append(req.Tools, anthropicTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}
	return req
}

// mergeConsecutiveAnthropicMessages merges same-role neighbours; the API
// requires strictly alternating roles.
func mergeConsecutiveAnthropicMessages(msgs []anthropicMessage) []anthropicMessage {
	if len(msgs) == 0 {
		return msgs
	}
	result := []anthropicMessage{msgs[0]}
	for _, m := range msgs[1:] {
		last := &result[len(result)-1]
		if m.Role == last.Role {
			last.Content = append(toAnthropicContentBlocks(last.Content), toAnthropicContentBlocks(m.Content)...)
			continue
		}
		result = append(result, m)
	}
	return result
}

func toAnthropicContentBlocks(content any) []anthropicContent {
	switch v := content.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []anthropicContent{{Type: "text", Text: v}}
	case []anthropicContent:
		return v
	default:
		return nil
	}
}

func convertFromAnthropicResponse(resp *anthropicResponse) *LLMResponse {
	var content []string
	var toolCalls []ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content = append(content, block.Text)
		case "tool_use":
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:       block.ID,
				Type:     "function",
				Function: FunctionCall{Name: block.Name, Arguments: args},
			})
		}
	}

	finish := resp.StopReason
	switch finish {
	case "end_turn":
		finish = "stop"
	case "tool_use":
		finish = "tool_calls"
	case "max_tokens":
		finish = "length"
	}

	return &LLMResponse{
		Content:      strings.TrimSpace(strings.Join(content, "\n")),
		ToolCalls:    toolCalls,
		FinishReason: finish,
		ModelUsed:    resp.Model,
		Usage: LLMUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

// ---------- Tool Calling Types ----------

// ToolDefinition is a function-calling tool definition.
type ToolDefinition struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes a callable function exposed to the LLM.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall represents a tool invocation requested by the LLM.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall holds the function name and serialized arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// LLMResponse holds the parsed response from a completion.
type LLMResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        LLMUsage
	ModelUsed    string
}

// LLMUsage holds token usage information.
type LLMUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// apiError captures a non-200 response.
type apiError struct {
	statusCode    int
	body          string
	retryAfterSec int
}

func (e *apiError) Error() string {
	return fmt.Sprintf("API returned %d: %s", e.statusCode, truncate(e.body, 200))
}

func (e *apiError) retryable() bool {
	return e.statusCode == http.StatusTooManyRequests || e.statusCode == 529 || e.statusCode >= 500
}

// Complete sends one Messages API request, retrying rate-limit and
// overload responses with backoff.
func (c *LLMClient) Complete(ctx context.Context, messages []chatMessage, tools []ToolDefinition) (*LLMResponse, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("llm: no API key configured (set ANTHROPIC_API_KEY or run 'dailyclaw config set-key')")
	}

	backoff := time.Second
	for attempt := 0; ; attempt++ {
		resp, err := c.completeOnce(ctx, messages, tools)
		if err == nil {
			return resp, nil
		}
		apierr, ok := err.(*apiError)
		if !ok || !apierr.retryable() || attempt >= maxLLMRetries {
			return nil, err
		}
		wait := backoff
		if apierr.retryAfterSec > 0 {
			wait = time.Duration(apierr.retryAfterSec) * time.Second
		}
		c.logger.Warn("llm request failed, retrying", "status", apierr.statusCode, "attempt", attempt+1, "wait", wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
}

func (c *LLMClient) completeOnce(ctx context.Context, messages []chatMessage, tools []ToolDefinition) (*LLMResponse, error) {
	reqBody := convertToAnthropicRequest(c.model, c.maxTokens, messages, tools)
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("x-api-key", c.apiKey)

	c.logger.Debug("sending anthropic chat completion",
		"model", c.model,
		"messages", len(reqBody.Messages),
		"tools", len(reqBody.Tools),
		"system_len", len(reqBody.System),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	bodyStr := string(respBody)

	if resp.StatusCode != http.StatusOK {
		apierr := &apiError{statusCode: resp.StatusCode, body: bodyStr}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if sec, err := strconv.Atoi(ra); err == nil && sec > 0 {
				apierr.retryAfterSec = sec
			}
		}
		c.logger.Error("API error", "model", c.model, "status", resp.StatusCode, "body", truncate(bodyStr, 500))
		return nil, apierr
	}

	var anthResp anthropicResponse
	if err := json.Unmarshal(respBody, &anthResp); err != nil {
		return nil, fmt.Errorf("parsing anthropic response: %w (body: %s)", err, truncate(bodyStr, 200))
	}
	if anthResp.Error != nil {
		return nil, fmt.Errorf("API error: %s", anthResp.Error.Message)
	}

	result := convertFromAnthropicResponse(&anthResp)
	c.logger.Info("anthropic chat completion done",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", result.Usage.PromptTokens,
		"completion_tokens", result.Usage.CompletionTokens,
		"finish_reason", result.FinishReason,
		"tool_calls", len(result.ToolCalls),
	)
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
