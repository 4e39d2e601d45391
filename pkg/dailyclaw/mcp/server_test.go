package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/copilot"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	e := copilot.NewToolExecutor(testLogger())
	e.Register(copilot.MakeToolDefinition("echo", "Echo text back", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
		"required": []string{"text"},
	}), func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"chat": copilot.ChatFromContext(ctx), "text": args["text"]}, nil
	})
	s, err := NewServer(e, "test", testLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func call(t *testing.T, s *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	tool := s.MCPServer().GetTool(name)
	if tool == nil {
		t.Fatalf("tool %q not registered", name)
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := tool.Handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("content = %v", res.Content)
	}
	tc, ok := mcp.AsTextContent(res.Content[0])
	if !ok {
		t.Fatalf("content is not text: %T", res.Content[0])
	}
	return tc.Text
}

func TestSchemaRequiresChatID(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	tool := s.MCPServer().GetTool("echo")

	var schema struct {
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	if err := json.Unmarshal(tool.Tool.RawInputSchema, &schema); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if _, ok := schema.Properties["chat_id"]; !ok {
		t.Errorf("chat_id property missing: %v", schema.Properties)
	}
	if len(schema.Required) != 2 || schema.Required[0] != "chat_id" || schema.Required[1] != "text" {
		t.Errorf("required = %v", schema.Required)
	}
}

func TestCallBindsChat(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	res := call(t, s, "echo", map[string]any{"chat_id": "telegram:1", "text": "hi"})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	if out["chat"] != "telegram:1" || out["text"] != "hi" {
		t.Errorf("output = %v", out)
	}
}

func TestCallWithoutChatID(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	res := call(t, s, "echo", map[string]any{"text": "hi"})
	if !res.IsError {
		t.Fatal("expected an error result")
	}
}

func TestCallAcceptsNumericChatID(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	for _, id := range []any{float64(123456789), json.Number("123456789"), 123456789} {
		res := call(t, s, "echo", map[string]any{"chat_id": id, "text": "hi"})
		if res.IsError {
			t.Fatalf("chat_id %#v rejected: %s", id, resultText(t, res))
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
			t.Fatalf("decoding output: %v", err)
		}
		if out["chat"] != "123456789" {
			t.Errorf("chat_id %#v bound as %v", id, out["chat"])
		}
	}
}
