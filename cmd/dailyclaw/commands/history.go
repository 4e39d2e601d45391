package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// newHistoryCmd creates the `dailyclaw history` command group.
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect or clear conversation history and the tool audit log",
	}
	cmd.AddCommand(newHistoryClearCmd(), newHistoryAuditCmd())
	return cmd
}

func newHistoryClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget a chat's conversation (tasks and lists are kept)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			chatID, _ := cmd.Flags().GetString("chat")
			assistant, _, _, err := openAssistant(cmd, os.Stderr, slog.LevelWarn, false)
			if err != nil {
				return err
			}
			defer assistant.Close()

			n, err := assistant.History().Clear(context.Background(), chatID)
			if err != nil {
				return err
			}
			fmt.Println(okStyle.Render(fmt.Sprintf("Cleared %d entries for %s.", n, chatID)))
			return nil
		},
	}
	cmd.Flags().String("chat", localChatID, "chat key (channel:id)")
	return cmd
}

func newHistoryAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent tool executions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			chatID, _ := cmd.Flags().GetString("chat")
			limit, _ := cmd.Flags().GetInt("limit")
			assistant, _, _, err := openAssistant(cmd, os.Stderr, slog.LevelWarn, false)
			if err != nil {
				return err
			}
			defer assistant.Close()

			records, err := assistant.History().RecentAudit(context.Background(), chatID, limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println(mutedStyle.Render("No tool executions recorded."))
				return nil
			}
			for _, r := range records {
				status := okStyle.Render("ok  ")
				if r.Failed {
					status = errorStyle.Render("fail")
				}
				fmt.Printf("%s %s %-16s %s %s\n",
					mutedStyle.Render(r.CreatedAt.Local().Format("2006-01-02 15:04:05")),
					status, r.Tool, r.ChatID, mutedStyle.Render(r.Args))
			}
			return nil
		},
	}
	cmd.Flags().String("chat", "", "chat key (channel:id); empty shows every chat")
	cmd.Flags().Int("limit", 20, "number of records")
	return cmd
}
