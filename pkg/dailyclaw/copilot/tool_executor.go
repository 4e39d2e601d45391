package copilot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// toolNameSanitizer replaces any character not in [a-zA-Z0-9_-] with "_".
var toolNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// DefaultToolTimeout is the maximum time a single tool execution can take.
const DefaultToolTimeout = 30 * time.Second

// ToolHandlerFunc is the signature for tool execution handlers.
// The chat the call belongs to is carried by ctx (see ChatFromContext).
type ToolHandlerFunc func(ctx context.Context, args map[string]any) (any, error)

type registeredTool struct {
	Definition ToolDefinition
	Handler    ToolHandlerFunc
}

// ToolResult holds the output of a single tool execution.
type ToolResult struct {
	ToolCallID string
	Name       string
	Content    string
	Error      error
}

// ToolAuditor records tool executions.
type ToolAuditor interface {
	RecordTool(ctx context.Context, chatID, tool, args, result string, failed bool) error
}

// ToolExecutor manages tool registration and dispatches tool calls.
type ToolExecutor struct {
	tools   map[string]*registeredTool
	timeout time.Duration
	auditor ToolAuditor
	logger  *slog.Logger
	mu      sync.RWMutex
}

// NewToolExecutor creates a new empty tool executor.
func NewToolExecutor(logger *slog.Logger) *ToolExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolExecutor{
		tools:   make(map[string]*registeredTool),
		timeout: DefaultToolTimeout,
		logger:  logger.With("component", "tool_executor"),
	}
}

// SetAuditor sets the audit sink for executed tools.
func (e *ToolExecutor) SetAuditor(a ToolAuditor) {
	e.mu.Lock()
	e.auditor = a
	e.mu.Unlock()
}

// Register adds a tool with its definition and handler.
// If a tool with the same name already exists, it is overwritten.
func (e *ToolExecutor) Register(def ToolDefinition, handler ToolHandlerFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := def.Function.Name
	e.tools[name] = &registeredTool{Definition: def, Handler: handler}
	e.logger.Debug("tool registered", "name", name)
}

// Tools returns all registered tool definitions sorted by name.
func (e *ToolExecutor) Tools() []ToolDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(e.tools))
	for _, t := range e.tools {
		defs = append(defs, t.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Function.Name < defs[j].Function.Name })
	return defs
}

// ToolNames returns the sorted names of all registered tools.
func (e *ToolExecutor) ToolNames() []string {
	defs := e.Tools()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Function.Name
	}
	return names
}

// HasTool checks if a tool is registered by name.
func (e *ToolExecutor) HasTool(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.tools[name]
	return ok
}

// Execute dispatches a batch of tool calls to their registered handlers,
// sequentially and in order. Returns results in the same order as calls.
func (e *ToolExecutor) Execute(ctx context.Context, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))
	for i, call := range calls {
		results[i] = e.executeSingle(ctx, call)
	}
	return results
}

// Call runs one tool for chatID with already decoded arguments. It returns
// the handler's typed error unchanged, for callers that relay it themselves
// (CLI, MCP).
func (e *ToolExecutor) Call(ctx context.Context, chatID, name string, args map[string]any) (string, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return "", invalid("arguments", "%v", err)
	}
	res := e.executeSingle(ContextWithChat(ctx, chatID), ToolCall{
		ID:       "direct",
		Type:     "function",
		Function: FunctionCall{Name: name, Arguments: string(raw)},
	})
	if res.Error != nil {
		return "", res.Error
	}
	return res.Content, nil
}

func (e *ToolExecutor) executeSingle(ctx context.Context, call ToolCall) ToolResult {
	name := call.Function.Name
	result := ToolResult{ToolCallID: call.ID, Name: name}
	chatID := ChatFromContext(ctx)

	e.mu.RLock()
	tool, ok := e.tools[name]
	auditor := e.auditor
	e.mu.RUnlock()

	if !ok {
		result.Error = fmt.Errorf("unknown tool: %s", name)
		result.Content = errorOutput(name, result.Error)
		e.logger.Warn("unknown tool called", "name", name, "chat_id", chatID)
		return result
	}

	args, err := parseToolArgs(call.Function.Arguments)
	if err != nil {
		result.Error = &ValidationError{Field: "arguments", Reason: err.Error()}
		result.Content = errorOutput(name, result.Error)
		e.logger.Warn("tool argument parse error", "name", name, "error", err)
		return result
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	e.logger.Debug("executing tool", "name", name, "chat_id", chatID, "args_keys", mapKeys(args))

	start := time.Now()
	output, err := tool.Handler(execCtx, args)
	duration := time.Since(start)

	if err != nil {
		result.Error = err
		result.Content = errorOutput(name, err)
		e.logger.Warn("tool execution failed",
			"name", name,
			"chat_id", chatID,
			"error", err,
			"duration_ms", duration.Milliseconds(),
		)
	} else {
		result.Content = formatToolOutput(output)
		e.logger.Info("tool executed",
			"name", name,
			"chat_id", chatID,
			"duration_ms", duration.Milliseconds(),
			"output_len", len(result.Content),
		)
	}

	if auditor != nil {
		if aerr := auditor.RecordTool(ctx, chatID, name, call.Function.Arguments, result.Content, result.Error != nil); aerr != nil {
			e.logger.Warn("failed to record tool audit", "name", name, "error", aerr)
		}
	}
	return result
}

// ---------- Chat binding ----------

type chatKey struct{}

// ContextWithChat binds the chat a tool call runs for.
func ContextWithChat(ctx context.Context, chatID string) context.Context {
	return context.WithValue(ctx, chatKey{}, chatID)
}

// ChatFromContext returns the chat bound by ContextWithChat, or "".
func ChatFromContext(ctx context.Context) string {
	id, _ := ctx.Value(chatKey{}).(string)
	return id
}

// ---------- Conversion Helpers ----------

// MakeToolDefinition creates a ToolDefinition from name, description, and a
// JSON Schema parameter map. The name is sanitized.
func MakeToolDefinition(name, description string, params map[string]any) ToolDefinition {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
	if params != nil {
		schema = params
	}
	schemaJSON, _ := json.Marshal(schema)

	return ToolDefinition{
		Type: "function",
		Function: FunctionDef{
			Name:        sanitizeToolName(name),
			Description: description,
			Parameters:  schemaJSON,
		},
	}
}

func sanitizeToolName(name string) string {
	name = toolNameSanitizer.ReplaceAllString(name, "_")
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return strings.Trim(name, "_")
}

func parseToolArgs(raw string) (map[string]any, error) {
	if raw == "" || raw == "{}" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid JSON arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// formatToolOutput converts tool output to a string for the LLM.
func formatToolOutput(output any) string {
	if output == nil {
		return `{"status":"ok"}`
	}
	switch v := output.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func errorOutput(tool string, err error) string {
	b, _ := json.Marshal(map[string]string{
		"status": "error",
		"tool":   tool,
		"error":  err.Error(),
	})
	return string(b)
}

func mapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
