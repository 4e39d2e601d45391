package copilot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/store"
)

func TestAgentRunsToolsAndAnswers(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	llm := &scriptedLLM{responses: []*LLMResponse{
		{
			ToolCalls: []ToolCall{toolCall("t1", "task_add", map[string]any{"title": "buy milk", "priority": "high"})},
			Usage:     LLMUsage{PromptTokens: 100, CompletionTokens: 10, TotalTokens: 110},
		},
		{
			Content: "Added [HIGH] buy milk.",
			Usage:   LLMUsage{PromptTokens: 150, CompletionTokens: 5, TotalTokens: 155},
		},
	}}
	agent := NewAgentRun(llm, env.executor, AgentConfig{}, quietLogger())

	history := []ConversationEntry{{UserMessage: "hi", AssistantResponse: "Hello!"}}
	reply, usage, err := agent.Run(context.Background(), "telegram:1", "system prompt", history, "add buy milk, urgent")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply != "Added [HIGH] buy milk." {
		t.Errorf("reply = %q", reply)
	}
	if usage.PromptTokens != 250 || usage.TotalTokens != 265 {
		t.Errorf("usage = %+v", usage)
	}

	tasks, _ := store.Load[store.Task](env.store, "telegram:1", store.Tasks)
	if len(tasks) != 1 || tasks[0].Priority != store.PriorityHigh {
		t.Fatalf("tasks = %+v", tasks)
	}

	first := llm.calls[0]
	roles := make([]string, len(first))
	for i, m := range first {
		roles[i] = m.Role
	}
	if strings.Join(roles, ",") != "system,user,assistant,user" {
		t.Errorf("first call roles = %v", roles)
	}
	if len(llm.toolSets[0]) != len(env.executor.Tools()) {
		t.Errorf("tools offered = %d", len(llm.toolSets[0]))
	}

	second := llm.calls[1]
	last := second[len(second)-1]
	if last.Role != "tool" || last.ToolCallID != "t1" || !strings.Contains(last.Content.(string), `"status":"ok"`) {
		t.Errorf("tool result message = %+v", last)
	}
}

func TestAgentFeedsToolErrorsBack(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	llm := &scriptedLLM{responses: []*LLMResponse{
		{ToolCalls: []ToolCall{toolCall("t1", "task_complete", map[string]any{"task_id": "ffffffff"})}},
		{Content: "I couldn't find that task."},
	}}
	agent := NewAgentRun(llm, env.executor, AgentConfig{}, quietLogger())

	reply, _, err := agent.Run(context.Background(), "c", "", nil, "done with ffffffff")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply != "I couldn't find that task." {
		t.Errorf("reply = %q", reply)
	}
	msgs := llm.calls[1]
	if got := msgs[len(msgs)-1].Content.(string); !strings.Contains(got, `"status":"error"`) {
		t.Errorf("tool error not relayed: %s", got)
	}
}

func TestAgentMaxTurns(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	loop := &LLMResponse{ToolCalls: []ToolCall{toolCall("t", "task_summary", nil)}}
	llm := &scriptedLLM{responses: []*LLMResponse{loop, loop, {Content: "Here is what I did."}}}
	agent := NewAgentRun(llm, env.executor, AgentConfig{MaxTurns: 2}, quietLogger())

	reply, _, err := agent.Run(context.Background(), "c", "", nil, "loop")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply != "Here is what I did." {
		t.Errorf("reply = %q", reply)
	}
	if len(llm.calls) != 3 {
		t.Fatalf("LLM calls = %d, want 3", len(llm.calls))
	}
	if llm.toolSets[2] != nil {
		t.Error("final call offered tools")
	}
}

func TestAgentLLMError(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	boom := errors.New("overloaded")
	agent := NewAgentRun(&scriptedLLM{err: boom}, env.executor, AgentConfig{}, quietLogger())

	if _, _, err := agent.Run(context.Background(), "c", "", nil, "hi"); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}

type blockingLLM struct{}

func (blockingLLM) Complete(ctx context.Context, _ []chatMessage, _ []ToolDefinition) (*LLMResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestAgentTurnTimeout(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	agent := NewAgentRun(blockingLLM{}, env.executor, AgentConfig{}, quietLogger())
	agent.turnTimeout = 20 * time.Millisecond

	_, _, err := agent.Run(context.Background(), "c", "", nil, "hi")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}
