package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/copilot"
)

// newToolCmd creates the `dailyclaw tool` command that runs one catalog
// tool without the model.
func newToolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tool [name]",
		Short: "Run an assistant tool directly",
		Long: `Run one of the assistant's tools against a chat, bypassing the model.
Without a name, lists the available tools.

Examples:
  dailyclaw tool
  dailyclaw tool task_list --chat telegram:123456
  dailyclaw tool task_add --chat cli:local --args '{"title":"pay rent","priority":"high"}'`,
		Args: cobra.MaximumNArgs(1),
		RunE: runTool,
	}

	cmd.Flags().String("chat", localChatID, "chat key the tool acts on (channel:id)")
	cmd.Flags().String("args", "{}", "tool arguments as a JSON object")
	return cmd
}

func runTool(cmd *cobra.Command, args []string) error {
	assistant, _, _, err := openAssistant(cmd, os.Stderr, slog.LevelWarn, false)
	if err != nil {
		return err
	}
	defer assistant.Close()

	if len(args) == 0 {
		fmt.Println(headerStyle.Render("Tools"))
		for _, def := range assistant.Executor().Tools() {
			fmt.Printf("  %-18s %s\n", def.Function.Name, mutedStyle.Render(firstSentence(def.Function.Description)))
		}
		return nil
	}

	chatID, _ := cmd.Flags().GetString("chat")
	rawArgs, _ := cmd.Flags().GetString("args")

	var toolArgs map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &toolArgs); err != nil {
		return fmt.Errorf("--args must be a JSON object: %w", err)
	}

	out, err := assistant.Executor().Call(context.Background(), chatID, args[0], toolArgs)
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(copilot.UserMessage(err)))
		return err
	}
	fmt.Println(out)
	return nil
}

func firstSentence(s string) string {
	if i := strings.Index(s, ". "); i >= 0 {
		return s[:i+1]
	}
	return s
}
