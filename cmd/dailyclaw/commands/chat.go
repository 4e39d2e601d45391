package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/copilot"
)

// localChatID is the chat the terminal talks as. Its tasks, reminders and
// history are separate from every messaging chat.
const localChatID = copilot.LocalChannel + ":local"

// newChatCmd creates the `dailyclaw chat` command for terminal conversations.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the assistant from the terminal",
		Long: `Send one message to the assistant, or start an interactive session
when no message is given. Reminders set in the session are printed while it
runs.

Examples:
  dailyclaw chat "what is on my list today?"
  dailyclaw chat`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChat,
	}

	cmd.Flags().Bool("raw", false, "print replies without markdown rendering")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	assistant, cfg, _, err := openAssistant(cmd, os.Stderr, slog.LevelWarn, true)
	if err != nil {
		return err
	}
	raw, _ := cmd.Flags().GetBool("raw")
	render := func(s string) string {
		if raw {
			return s
		}
		return renderMarkdown(s)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(args) > 0 {
		defer assistant.Close()
		reply, ok := assistant.HandleEvent(ctx, copilot.Event{ChatID: localChatID, Text: args[0]})
		if !ok {
			return errors.New("empty message")
		}
		fmt.Println(render(reply))
		return nil
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          headerStyle.Render("you") + " > ",
		HistoryFile:     filepath.Join(cfg.DataDir, ".chat_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
	})
	if err != nil {
		assistant.Close()
		return fmt.Errorf("starting terminal: %w", err)
	}
	defer rl.Close()

	out := rl.Stdout()
	assistant.SetLocalSender(copilot.SenderFunc(func(_ context.Context, _, text string) error {
		_, err := fmt.Fprintln(out, panelStyle.Render(okStyle.Render(text)))
		return err
	}))

	if err := assistant.Start(ctx); err != nil {
		assistant.Stop()
		return fmt.Errorf("failed to start: %w", err)
	}
	defer assistant.Stop()

	fmt.Fprintln(out, headerStyle.Render(cfg.Name)+mutedStyle.Render(" (type /help for commands)"))

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := runSlashCommand(ctx, out, assistant, line); quit {
				return nil
			}
			continue
		}

		reply, ok := assistant.HandleEvent(ctx, copilot.Event{ChatID: localChatID, Text: line})
		if !ok {
			continue
		}
		fmt.Fprintln(out, render(reply))
		if ctx.Err() != nil {
			return nil
		}
	}
}

// runSlashCommand handles the REPL's own commands. It reports whether the
// session should end.
func runSlashCommand(ctx context.Context, out io.Writer, assistant *copilot.Assistant, line string) bool {
	switch strings.Fields(line)[0] {
	case "/quit", "/exit":
		return true
	case "/clear":
		n, err := assistant.History().Clear(ctx, localChatID)
		if err != nil {
			fmt.Fprintln(out, errorStyle.Render("clear failed: "+err.Error()))
			return false
		}
		fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("conversation cleared (%d entries)", n)))
	case "/tools":
		fmt.Fprintln(out, strings.Join(assistant.Executor().ToolNames(), "\n"))
	case "/help":
		fmt.Fprintln(out, `/clear  forget this conversation (tasks and lists are kept)
/tools  list the assistant's tools
/quit   leave`)
	default:
		fmt.Fprintln(out, errorStyle.Render("unknown command "+line+", try /help"))
	}
	return false
}
