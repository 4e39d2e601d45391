package copilot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	// DefaultMaxTurns bounds the LLM round-trips of a single run.
	DefaultMaxTurns = 8

	// DefaultTurnTimeout bounds a single LLM call.
	DefaultTurnTimeout = 90 * time.Second
)

// AgentConfig configures the agent loop.
type AgentConfig struct {
	// MaxTurns is the maximum number of LLM calls per message (0 = DefaultMaxTurns).
	MaxTurns int `yaml:"max_turns"`

	// TurnTimeoutSeconds bounds each LLM call (0 = DefaultTurnTimeout).
	TurnTimeoutSeconds int `yaml:"turn_timeout_seconds"`

	// RunTimeoutSeconds bounds a whole run, tools included (0 = no limit
	// beyond the caller's context).
	RunTimeoutSeconds int `yaml:"run_timeout_seconds"`
}

// ConversationEntry is one stored exchange, replayed as context.
type ConversationEntry struct {
	UserMessage       string
	AssistantResponse string
	Timestamp         time.Time
}

// AgentRun drives the tool-use loop: call the LLM, run the tools it asks
// for, feed results back, until it answers in plain text.
type AgentRun struct {
	llm         LLM
	executor    *ToolExecutor
	maxTurns    int
	turnTimeout time.Duration
	logger      *slog.Logger
}

// NewAgentRun creates an agent run bound to an LLM and a tool executor.
func NewAgentRun(llm LLM, executor *ToolExecutor, cfg AgentConfig, logger *slog.Logger) *AgentRun {
	if logger == nil {
		logger = slog.Default()
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	turnTimeout := DefaultTurnTimeout
	if cfg.TurnTimeoutSeconds > 0 {
		turnTimeout = time.Duration(cfg.TurnTimeoutSeconds) * time.Second
	}
	return &AgentRun{
		llm:         llm,
		executor:    executor,
		maxTurns:    maxTurns,
		turnTimeout: turnTimeout,
		logger:      logger.With("component", "agent"),
	}
}

// Run answers userMessage for chatID. Tool calls execute with chatID bound
// to their context, so every catalog operation is scoped to that chat.
func (a *AgentRun) Run(ctx context.Context, chatID, systemPrompt string, history []ConversationEntry, userMessage string) (string, *LLMUsage, error) {
	messages := a.buildMessages(systemPrompt, history, userMessage)
	tools := a.executor.Tools()
	toolCtx := ContextWithChat(ctx, chatID)

	var usage LLMUsage
	for turn := 1; turn <= a.maxTurns; turn++ {
		llmStart := time.Now()
		resp, err := a.complete(ctx, messages, tools)
		if err != nil {
			return "", &usage, fmt.Errorf("LLM call failed (turn %d): %w", turn, err)
		}
		accumulateUsage(&usage, resp)

		a.logger.Info("LLM call complete",
			"chat_id", chatID,
			"turn", turn,
			"llm_ms", time.Since(llmStart).Milliseconds(),
			"tool_calls", len(resp.ToolCalls),
		)

		if len(resp.ToolCalls) == 0 {
			return resp.Content, &usage, nil
		}

		messages = append(messages, chatMessage{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		names := make([]string, len(resp.ToolCalls))
		for i, tc := range resp.ToolCalls {
			names[i] = tc.Function.Name
		}
		a.logger.Debug("executing tool calls", "chat_id", chatID, "tools", strings.Join(names, ","))

		for _, result := range a.executor.Execute(toolCtx, resp.ToolCalls) {
			messages = append(messages, chatMessage{
				Role:       "tool",
				Content:    result.Content,
				ToolCallID: result.ToolCallID,
			})
		}
	}

	a.logger.Warn("agent reached max turns, requesting final answer", "chat_id", chatID, "max_turns", a.maxTurns)
	messages = append(messages, chatMessage{
		Role: "user",
		Content: "[System: You have used all available turns. " +
			"Reply to the user with what you have done so far.]",
	})
	resp, err := a.complete(ctx, messages, nil)
	if err != nil {
		return "", &usage, fmt.Errorf("final answer call failed: %w", err)
	}
	accumulateUsage(&usage, resp)
	return resp.Content, &usage, nil
}

func (a *AgentRun) complete(ctx context.Context, messages []chatMessage, tools []ToolDefinition) (*LLMResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.turnTimeout)
	defer cancel()
	return a.llm.Complete(callCtx, messages, tools)
}

func accumulateUsage(total *LLMUsage, resp *LLMResponse) {
	if resp == nil {
		return
	}
	total.PromptTokens += resp.Usage.PromptTokens
	total.CompletionTokens += resp.Usage.CompletionTokens
	total.TotalTokens += resp.Usage.TotalTokens
}

func (a *AgentRun) buildMessages(systemPrompt string, history []ConversationEntry, userMessage string) []chatMessage {
	messages := make([]chatMessage, 0, len(history)*2+2)
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	for _, entry := range history {
		messages = append(messages, chatMessage{Role: "user", Content: entry.UserMessage})
		if entry.AssistantResponse != "" {
			messages = append(messages, chatMessage{Role: "assistant", Content: entry.AssistantResponse})
		}
	}
	return append(messages, chatMessage{Role: "user", Content: userMessage})
}
