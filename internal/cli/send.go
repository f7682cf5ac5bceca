package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <user-id> <message...>",
	Short: "Send a message to a user",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSend,
}

func runSend(cmd *cobra.Command, args []string) error {
	if err := requireAuth(); err != nil {
		return err
	}
	receiverID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id %q", args[0])
	}
	content := strings.TrimSpace(strings.Join(args[1:], " "))
	if content == "" {
		return fmt.Errorf("message is empty")
	}
	if receiverID == session.UserID() {
		return fmt.Errorf("cannot send a message to yourself")
	}

	ctx := context.Background()
	msg, err := apiClient.Send(ctx, receiverID, content)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	id := int64(0)
	if msg.ID != nil {
		id = *msg.ID
	}
	fmt.Printf("Sent message #%d to %s (#%d)\n", id, msg.ReceiverName, msg.ReceiverID)
	return nil
}
