package copilot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/scheduler"
	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/store"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func paris(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Fatalf("loading Europe/Paris: %v", err)
	}
	return loc
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type sentMessage struct {
	ChatID string
	Text   string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (r *recordingSender) SendText(_ context.Context, chatID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, sentMessage{ChatID: chatID, Text: text})
	return nil
}

func (r *recordingSender) messages() []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentMessage(nil), r.sent...)
}

type testEnv struct {
	store     *store.Store
	sched     *scheduler.Scheduler
	clock     *fakeClock
	catalog   *Catalog
	reminders *Reminders
	sender    *recordingSender
	executor  *ToolExecutor
}

// newTestEnv wires a catalog, its scheduler and the reminder handler over
// a temporary store. The clock starts on Wednesday 2025-03-05 10:00 Paris.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	loc := paris(t)
	st, err := store.New(t.TempDir(), quietLogger())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	clock := &fakeClock{t: time.Date(2025, 3, 5, 10, 0, 0, 0, loc)}
	sender := &recordingSender{}
	rem := NewReminders(st, sender, quietLogger())
	rem.now = clock.Now

	sched := scheduler.New(rem.Fire, quietLogger(), scheduler.WithClock(clock.Now), scheduler.WithLocation(loc))
	t.Cleanup(sched.Stop)

	cat := NewCatalog(st, sched, quietLogger())
	exec := NewToolExecutor(quietLogger())
	cat.Register(exec)

	return &testEnv{
		store:     st,
		sched:     sched,
		clock:     clock,
		catalog:   cat,
		reminders: rem,
		sender:    sender,
		executor:  exec,
	}
}

// call runs a tool and decodes its JSON output.
func (e *testEnv) call(t *testing.T, chatID, tool string, args map[string]any) map[string]any {
	t.Helper()
	out, err := e.executor.Call(context.Background(), chatID, tool, args)
	if err != nil {
		t.Fatalf("%s(%v): %v", tool, args, err)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("%s output is not JSON: %q", tool, out)
	}
	return decoded
}

// scriptedLLM replays canned responses and records what it was sent.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []*LLMResponse
	err       error
	calls     [][]chatMessage
	toolSets  [][]ToolDefinition
}

func (s *scriptedLLM) Complete(_ context.Context, messages []chatMessage, tools []ToolDefinition) (*LLMResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, append([]chatMessage(nil), messages...))
	s.toolSets = append(s.toolSets, tools)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return nil, fmt.Errorf("scriptedLLM: no response left (call %d)", len(s.calls))
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func toolCall(id, name string, args map[string]any) ToolCall {
	raw, _ := json.Marshal(args)
	return ToolCall{ID: id, Type: "function", Function: FunctionCall{Name: name, Arguments: string(raw)}}
}
