package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var unreadCmd = &cobra.Command{
	Use:   "unread [user-id]",
	Short: "Show the unread message count, total or per user",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runUnread,
}

func runUnread(cmd *cobra.Command, args []string) error {
	if err := requireAuth(); err != nil {
		return err
	}
	ctx := context.Background()

	if len(args) == 1 {
		otherID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user id %q", args[0])
		}
		count, err := apiClient.UnreadCountFrom(ctx, otherID)
		if err != nil {
			return fmt.Errorf("fetch unread count: %w", err)
		}
		fmt.Printf("%d unread from user #%d\n", count, otherID)
		return nil
	}

	count, err := apiClient.UnreadCount(ctx)
	if err != nil {
		return fmt.Errorf("fetch unread count: %w", err)
	}
	fmt.Printf("%d unread\n", count)
	return nil
}
