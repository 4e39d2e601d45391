// Package mcp exposes the DailyClaw tool catalog as a Model Context
// Protocol server, so any MCP client can drive the same per-chat store and
// scheduler the chat assistant uses.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/copilot"
)

// ServerName is reported to MCP clients.
const ServerName = "dailyclaw"

const chatIDArg = "chat_id"

// Server wraps an MCP server whose tools dispatch to a ToolExecutor.
type Server struct {
	mcp      *server.MCPServer
	executor *copilot.ToolExecutor
	logger   *slog.Logger
}

// NewServer registers every executor tool on a new MCP server. Each tool
// schema gains a required chat_id argument.
func NewServer(executor *copilot.ToolExecutor, version string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcp:      server.NewMCPServer(ServerName, version, server.WithToolCapabilities(true)),
		executor: executor,
		logger:   logger.With("component", "mcp"),
	}
	for _, def := range executor.Tools() {
		schema, err := withChatID(def.Function.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", def.Function.Name, err)
		}
		s.mcp.AddTool(mcp.NewTool(def.Function.Name,
			mcp.WithDescription(def.Function.Description),
			mcp.WithRawInputSchema(schema),
		), s.handle(def.Function.Name))
	}
	return s, nil
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// Serve speaks MCP over in/out until ctx is cancelled or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("mcp server listening on stdio", "tools", len(s.executor.ToolNames()))
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

func (s *Server) handle(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		chatID := chatIDFrom(args)
		if chatID == "" {
			return mcp.NewToolResultError("chat_id is required"), nil
		}

		rest := make(map[string]any, len(args))
		for k, v := range args {
			if k != chatIDArg {
				rest[k] = v
			}
		}

		out, err := s.executor.Call(ctx, chatID, name, rest)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}

// chatIDFrom reads the chat_id argument. Clients that send a bare numeric
// id get it formatted the way the tools format numeric ids.
func chatIDFrom(args map[string]any) string {
	switch v := args[chatIDArg].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}

// withChatID adds the chat_id property to a JSON object schema and marks
// it required.
func withChatID(raw json.RawMessage) (json.RawMessage, error) {
	schema := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("decoding schema: %w", err)
		}
	}
	schema["type"] = "object"

	props, _ := schema["properties"].(map[string]any)
	if props == nil {
		props = map[string]any{}
	}
	props[chatIDArg] = map[string]any{
		"type":        "string",
		"description": "Chat the operation applies to, e.g. telegram:123456",
	}
	schema["properties"] = props

	required := []any{chatIDArg}
	if existing, ok := schema["required"].([]any); ok {
		for _, r := range existing {
			if r != chatIDArg {
				required = append(required, r)
			}
		}
	}
	schema["required"] = required

	return json.Marshal(schema)
}
