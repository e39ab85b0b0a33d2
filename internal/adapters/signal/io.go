package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/huddlelabs/huddle/internal/core"
	"github.com/huddlelabs/huddle/internal/domain"
)

const writeWait = 5 * time.Second

func (ctl *Controller) writePump(ctx context.Context, c *wsSignalConn) {
	ticker := time.NewTicker(ctl.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Info().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, connID core.ConnectionID, c *wsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(connID)).Msg("readPump closing")
		cancel()
		ctl.coord.Disconnect(connID)
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.cfg.ReadLimit)
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(connID)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("conn", string(connID)).Msg("readPump read ended")
				return
			}
			ctl.dispatch(ctx, connID, c, data)
		}
	}
}

func (ctl *Controller) dispatch(ctx context.Context, connID core.ConnectionID, c *wsSignalConn, data []byte) {
	req, err := parseRequest(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad request envelope")
		ctl.replyError(c, 0, domain.ErrorCode(err), err.Error())
		return
	}

	switch req.Type {
	case "join":
		ctl.handleJoin(ctx, connID, c, req)
	case "leave":
		ctl.handleLeave(connID, c, req)
	case "createTransport":
		ctl.handleCreateTransport(ctx, connID, c, req)
	case "connectTransport":
		ctl.handleConnectTransport(ctx, connID, c, req)
	case "produce":
		ctl.handleProduce(ctx, connID, c, req)
	case "listProducers":
		ctl.handleListProducers(connID, c, req)
	case "consume":
		ctl.handleConsume(ctx, connID, c, req)
	case "resumeConsumer":
		ctl.handleResumeConsumer(ctx, connID, c, req)
	case "ping":
		ctl.handlePing(c, req)
	default:
		log.Warn().Str("module", "signal").Str("type", req.Type).Msg("unknown request type")
		ctl.replyError(c, req.ID, "bad_request", "unknown request type: "+req.Type)
	}
}
