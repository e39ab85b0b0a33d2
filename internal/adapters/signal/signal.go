package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/huddlelabs/huddle/internal/app/coord"
	"github.com/huddlelabs/huddle/internal/config"
	"github.com/huddlelabs/huddle/internal/core"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Controller serves the websocket signaling endpoint: one wsSignalConn per
// client, requests dispatched to the coordinator, replies and pushes queued
// on the send channel.
type Controller struct {
	cfg     *config.Config
	coord   *coord.Coordinator
	limiter *JoinRateLimiter
}

func NewController(cfg *config.Config, co *coord.Coordinator) *Controller {
	return &Controller{
		cfg:     cfg,
		coord:   co,
		limiter: NewJoinRateLimiter(cfg.JoinRateLimit, cfg.JoinRateInterval),
	}
}

// wsSignalConn is the per-client connection transport. Owned here; business
// logic never touches the socket directly.
type wsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// Pusher encodes coordinator pushes into wire notifications. Implements
// coord.Notifier.
type Pusher struct{}

func (Pusher) Push(conn core.SignalConnection, method string, payload any) error {
	frame, err := encodeNotification(method, payload)
	if err != nil {
		return err
	}
	return conn.TrySend(frame)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection's pumps. Each
// connection gets a fresh ConnectionID for its whole lifetime.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	connID := core.ConnectionID(uuid.NewString())
	log.Info().Str("module", "signal").Str("conn", string(connID)).Str("client_token", c.GetString("client_token")).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &wsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.cfg.SendBuffer),
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, connID, conn)
}

func (ctl *Controller) reply(conn *wsSignalConn, id uint64, data any) error {
	frame, err := encodeOK(id, data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode reply")
		return err
	}
	if err := conn.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("queue reply")
		return err
	}
	return nil
}

func (ctl *Controller) replyError(conn *wsSignalConn, id uint64, code, message string) {
	frame, err := encodeErr(id, code, message)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode error reply")
		return
	}
	if err := conn.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("queue error reply")
	}
}
