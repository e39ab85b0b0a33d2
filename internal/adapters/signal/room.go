package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/huddlelabs/huddle/internal/core"
	"github.com/huddlelabs/huddle/internal/domain"
)

func (ctl *Controller) handleJoin(ctx context.Context, connID core.ConnectionID, c *wsSignalConn, req Request) {
	type joinPayload struct {
		Room       string `json:"room"`
		Identity   string `json:"identity"`
		Privileged bool   `json:"privileged"`
	}
	var p joinPayload
	if err := json.Unmarshal(req.Data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.replyError(c, req.ID, "bad_request", "bad join payload")
		return
	}
	if !ctl.limiter.Allow(domain.Identity(p.Identity)) {
		log.Warn().Str("module", "signal").Str("identity", p.Identity).Msg("join rate limited")
		ctl.replyError(c, req.ID, "rate_limited", "too many join attempts")
		return
	}

	res, err := ctl.coord.Join(ctx, connID, c, p.Room, p.Identity, p.Privileged)
	if err != nil {
		ctl.replyError(c, req.ID, domain.ErrorCode(err), err.Error())
		return
	}
	if err := ctl.reply(c, req.ID, res); err != nil {
		// The join reply never made the queue, so the peer must not become
		// visible to fan-out: a notification would overtake its own reply.
		// The dying connection's read pump tears the session down.
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(connID)).Msg("join reply not queued, peer stays invisible")
		return
	}
	if !res.Duplicate {
		// Reply is queued ahead of any fan-out; only now does the peer
		// become visible to other members' topology notifications.
		ctl.coord.FinishJoin(connID)
	}
}

func (ctl *Controller) handleLeave(connID core.ConnectionID, c *wsSignalConn, req Request) {
	log.Info().Str("module", "signal").Str("conn", string(connID)).Msg("leave")
	ctl.coord.Leave(connID)
	ctl.reply(c, req.ID, map[string]bool{"left": true})
}
