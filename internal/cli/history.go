package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <user-id>",
	Short: "Show the message history with one user",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "show only the last N messages")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if err := requireAuth(); err != nil {
		return err
	}
	otherID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id %q", args[0])
	}

	ctx := context.Background()
	msgs, err := apiClient.Thread(ctx, otherID)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}

	if len(msgs) == 0 {
		fmt.Println("No messages yet.")
		return nil
	}

	if historyLimit > 0 && len(msgs) > historyLimit {
		msgs = msgs[len(msgs)-historyLimit:]
	}

	meID := session.UserID()
	for _, m := range msgs {
		who := m.SenderName
		if m.SenderID == meID {
			who = "me"
		}
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("Jan 2 15:04"), who, m.Content)
	}

	return nil
}
