package socket

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mstepanenko/craftchat/internal/auth"
	"github.com/mstepanenko/craftchat/internal/models"
	"github.com/mstepanenko/craftchat/internal/pubsub"
)

const handshakeTimeout = 10 * time.Second

// errNotConnected is returned for writes attempted between connections.
var errNotConnected = errors.New("socket: not connected")

// Options tunes the connection lifecycle. Zero values fall back to the
// reference behavior: 3s fixed reconnect delay, 10s heartbeats.
type Options struct {
	// ReconnectDelay is the base delay before a retry.
	ReconnectDelay time.Duration

	// ReconnectMaxDelay caps exponential backoff. Equal to ReconnectDelay
	// means a fixed interval, which is the reference behavior.
	ReconnectMaxDelay time.Duration

	// HeartbeatInterval between outgoing pings. Missing pongs for three
	// intervals counts as a silent failure.
	HeartbeatInterval time.Duration

	Logger *slog.Logger
}

// Manager maintains at most one live socket per authenticated session.
// Connect never blocks; connection establishment happens in the
// background and is observed through state transitions. Any transport
// error triggers best-effort background recovery with a single pending
// reconnect timer, no retry ceiling.
type Manager struct {
	wsURL   string
	session *auth.Session
	router  *Router
	opts    Options
	logger  *slog.Logger

	states *pubsub.Bus[models.ConnState]

	mu             sync.Mutex
	state          models.ConnState
	conn           *websocket.Conn
	connDone       chan struct{}
	reconnectTimer *time.Timer
	attempts       int
	gen            uint64 // bumped by Disconnect; stale dials abandon themselves

	// writeMu serializes all writes on the active connection.
	writeMu sync.Mutex
}

// NewManager creates a manager for the socket endpoint derived from the
// API base URL.
func NewManager(baseURL string, session *auth.Session, router *Router, opts Options) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	if opts.ReconnectMaxDelay < opts.ReconnectDelay {
		opts.ReconnectMaxDelay = opts.ReconnectDelay
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		wsURL:   SocketURL(baseURL),
		session: session,
		router:  router,
		opts:    opts,
		logger:  logger,
		states:  pubsub.NewBus[models.ConnState](),
		state:   models.Disconnected,
	}
}

// SocketURL derives the ws endpoint from the API base URL: the trailing
// /api segment is stripped and the scheme switched, matching how the
// backend mounts its socket next to the REST prefix.
func SocketURL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	u = strings.TrimSuffix(u, "/api")
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/ws"
}

// State returns the current connection state.
func (m *Manager) State() models.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SubscribeState registers fn for connection-state transitions.
func (m *Manager) SubscribeState(fn func(models.ConnState)) func() {
	return m.states.Subscribe(fn)
}

// Connect starts establishing the connection in the background. It no-ops
// while connecting or connected, and when no credential is available — an
// anonymous user simply has no live channel.
func (m *Manager) Connect() {
	token := m.session.Token()
	if token == "" {
		return
	}

	m.mu.Lock()
	if m.state == models.Connecting || m.state == models.Connected {
		m.mu.Unlock()
		return
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.state = models.Connecting
	gen := m.gen
	m.mu.Unlock()
	m.states.Publish(models.Connecting)

	go m.dial(gen, token)
}

// Disconnect tears the connection down and cancels any pending reconnect.
// Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	conn := m.conn
	m.conn = nil
	m.attempts = 0
	changed := m.state != models.Disconnected
	m.state = models.Disconnected
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	m.router.Reset()
	if changed {
		m.states.Publish(models.Disconnected)
	}
}

// Rewire refreshes the identity-scoped subscription on a live connection.
// No-op while disconnected; the next connect picks the identity up anyway.
func (m *Manager) Rewire(identity int64) {
	m.mu.Lock()
	connected := m.state == models.Connected
	m.mu.Unlock()
	if !connected {
		return
	}
	if err := m.router.Rewire(identity); err != nil {
		m.logger.Warn("identity rewire failed", "error", err)
	}
}

func (m *Manager) dial(gen uint64, token string) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.Dial(m.wsURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		m.logger.Warn("socket connect failed", "url", m.wsURL, "error", err)
		m.scheduleReconnect(gen)
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		conn.Close()
		return
	}
	done := make(chan struct{})
	m.conn = conn
	m.connDone = done
	m.state = models.Connected
	m.attempts = 0
	m.mu.Unlock()
	m.states.Publish(models.Connected)
	m.logger.Info("socket connected", "url", m.wsURL)

	if err := m.router.Establish(m.writeFrame, m.session.UserID()); err != nil {
		m.logger.Warn("subscription setup failed", "error", err)
		m.dropConn(conn, gen)
		return
	}

	go m.readLoop(conn, gen)
	go m.heartbeat(conn, done, gen)
}

// writeFrame serializes all frame writes on the active connection.
func (m *Manager) writeFrame(f frame) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	return conn.WriteJSON(f)
}

func (m *Manager) readLoop(conn *websocket.Conn, gen uint64) {
	deadline := 3 * m.opts.HeartbeatInterval
	conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.logger.Debug("socket read ended", "error", err)
			m.dropConn(conn, gen)
			return
		}
		conn.SetReadDeadline(time.Now().Add(deadline))
		m.router.HandleFrame(raw)
	}
}

func (m *Manager) heartbeat(conn *websocket.Conn, done chan struct{}, gen uint64) {
	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(handshakeTimeout))
			m.writeMu.Unlock()
			if err != nil {
				m.logger.Debug("heartbeat write failed", "error", err)
				m.dropConn(conn, gen)
				return
			}
		}
	}
}

// dropConn tears down one specific connection and schedules recovery.
// Safe to call from both the read loop and the heartbeat loop; only the
// first caller for a given connection proceeds.
func (m *Manager) dropConn(conn *websocket.Conn, gen uint64) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = nil
	if m.connDone != nil {
		close(m.connDone)
		m.connDone = nil
	}
	stale := gen != m.gen
	m.mu.Unlock()

	conn.Close()
	m.router.Reset()
	if stale {
		return
	}
	m.scheduleReconnect(gen)
}

// scheduleReconnect arms the retry timer. At most one timer is pending at
// a time; rapid connect/disconnect churn cannot stack retries.
func (m *Manager) scheduleReconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.reconnectTimer != nil {
		m.mu.Unlock()
		return
	}
	delay := m.backoffDelay(m.attempts)
	m.attempts++
	m.state = models.ReconnectScheduled
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.reconnectTimer = nil
		if gen != m.gen || m.state != models.ReconnectScheduled {
			m.mu.Unlock()
			return
		}
		m.state = models.Disconnected
		m.mu.Unlock()
		m.Connect()
	})
	m.mu.Unlock()

	m.states.Publish(models.ReconnectScheduled)
	m.logger.Info("reconnect scheduled", "delay", delay)
}

// backoffDelay doubles the base delay per consecutive failure up to the
// configured ceiling. With ceiling == base this is the reference fixed
// 3s policy.
func (m *Manager) backoffDelay(attempt int) time.Duration {
	delay := m.opts.ReconnectDelay
	for i := 0; i < attempt && delay < m.opts.ReconnectMaxDelay; i++ {
		delay *= 2
	}
	if delay > m.opts.ReconnectMaxDelay {
		delay = m.opts.ReconnectMaxDelay
	}
	return delay
}
