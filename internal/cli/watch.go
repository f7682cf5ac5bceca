package cli

import (
	"context"
	"fmt"

	tea "charm.land/bubbletea/v2"
	"github.com/spf13/cobra"

	"github.com/mstepanenko/craftchat/internal/engine"
	"github.com/mstepanenko/craftchat/internal/models"
	"github.com/mstepanenko/craftchat/internal/socket"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Interactive conversation list with live updates",
	Long: `Watch opens an interactive view of your conversations. New messages
arrive live over the socket; unread badges and ordering update in place.
Enter opens a chat, Esc goes back (remembering your scroll position),
q quits.`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	if err := requireAuth(); err != nil {
		return err
	}

	eng := engine.New(apiClient, session, nil, logger)
	router := socket.NewRouter(logger, eng.HandleLive)
	manager := socket.NewManager(apiClient.BaseURL(), session, router, socket.Options{
		ReconnectDelay:    cfg.ReconnectDelay,
		ReconnectMaxDelay: cfg.ReconnectMaxDelay,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Logger:            logger,
	})
	eng.AttachTransport(manager)

	eng.Start(context.Background())
	defer eng.Stop()

	model := newWatchModel(eng)
	p := tea.NewProgram(model)

	// Bridge engine events into the program's update loop.
	unsubMsgs := eng.SubscribeMessages(func(m models.Message) {
		p.Send(liveMsg{message: m})
	})
	defer unsubMsgs()
	unsubUnread := eng.SubscribeUnread(func(total int) {
		p.Send(unreadMsg{total: total})
	})
	defer unsubUnread()
	unsubState := eng.SubscribeState(func(s models.ConnState) {
		p.Send(connStateMsg{state: s})
	})
	defer unsubState()

	model.notify = p.Send

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("watch UI error: %w", err)
	}
	return nil
}
