package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/mcp"
)

// newMCPCmd creates the `dailyclaw mcp` command group for MCP server operations.
func newMCPCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Model Context Protocol server",
		Long:  `Expose the assistant's tools as an MCP (Model Context Protocol) server.`,
	}

	cmd.AddCommand(newMCPServeCmd(version))
	return cmd
}

// newMCPServeCmd creates the `dailyclaw mcp serve` command.
func newMCPServeCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start MCP server over stdio",
		Long: `Start the MCP server using stdio transport (JSON-RPC 2.0 over stdin/stdout).
Every tool takes an extra "chat_id" argument naming the chat it acts on.
Reminders created here are delivered by a running "dailyclaw serve".

Add to your client configuration:

  {
    "mcpServers": {
      "dailyclaw": {
        "command": "dailyclaw",
        "args": ["mcp", "serve"]
      }
    }
  }`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// stdout carries the protocol.
			assistant, _, logger, err := openAssistant(cmd, os.Stderr, slog.LevelInfo, false)
			if err != nil {
				return err
			}
			defer assistant.Close()

			server, err := mcp.NewServer(assistant.Executor(), version, logger)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			logger.Info("starting MCP server on stdio")
			if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil {
				return fmt.Errorf("MCP server error: %w", err)
			}
			return nil
		},
	}
}
