package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"convs", "ls"},
	Short:   "List your conversations, most recent first",
	RunE:    runConversations,
}

func runConversations(cmd *cobra.Command, args []string) error {
	if err := requireAuth(); err != nil {
		return err
	}
	ctx := context.Background()

	convs, err := apiClient.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("fetch conversations: %w", err)
	}

	if len(convs) == 0 {
		fmt.Println("No conversations yet.")
		return nil
	}

	fmt.Printf("Conversations (%d):\n\n", len(convs))
	for _, c := range convs {
		badge := ""
		if c.UnreadCount > 0 {
			badge = fmt.Sprintf(" [%d unread]", c.UnreadCount)
		}
		direction := "from them"
		if c.IsLastMessageFromMe {
			direction = "from me"
		}
		fmt.Printf("- %s (#%d)%s\n", c.OtherUserName, c.OtherUserID, badge)
		fmt.Printf("  %s  (%s, %s)\n", c.LastMessage, direction, c.LastMessageAt.Local().Format("Jan 2 15:04"))
	}

	return nil
}
