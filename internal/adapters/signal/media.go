package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/huddlelabs/huddle/internal/core"
	"github.com/huddlelabs/huddle/internal/domain"
)

func (ctl *Controller) handleCreateTransport(ctx context.Context, connID core.ConnectionID, c *wsSignalConn, req Request) {
	type payload struct {
		ReceiveOnly bool `json:"receiveOnly"`
	}
	var p payload
	if err := json.Unmarshal(req.Data, &p); err != nil {
		ctl.replyError(c, req.ID, "bad_request", "bad createTransport payload")
		return
	}
	params, err := ctl.coord.CreateTransport(ctx, connID, p.ReceiveOnly)
	if err != nil {
		ctl.replyError(c, req.ID, domain.ErrorCode(err), err.Error())
		return
	}
	ctl.reply(c, req.ID, params)
}

func (ctl *Controller) handleConnectTransport(ctx context.Context, connID core.ConnectionID, c *wsSignalConn, req Request) {
	type payload struct {
		TransportID string             `json:"transportId,omitempty"`
		DTLS        core.ConnectParams `json:"dtls"`
	}
	var p payload
	if err := json.Unmarshal(req.Data, &p); err != nil {
		ctl.replyError(c, req.ID, "bad_request", "bad connectTransport payload")
		return
	}
	if err := ctl.coord.ConnectTransport(ctx, connID, p.TransportID, p.DTLS); err != nil {
		ctl.replyError(c, req.ID, domain.ErrorCode(err), err.Error())
		return
	}
	ctl.reply(c, req.ID, map[string]bool{"connected": true})
}

func (ctl *Controller) handleProduce(ctx context.Context, connID core.ConnectionID, c *wsSignalConn, req Request) {
	type payload struct {
		Kind          string             `json:"kind"`
		RTPParameters core.RTPParameters `json:"rtpParameters"`
		AppData       json.RawMessage    `json:"appData,omitempty"`
	}
	var p payload
	if err := json.Unmarshal(req.Data, &p); err != nil {
		ctl.replyError(c, req.ID, "bad_request", "bad produce payload")
		return
	}
	res, err := ctl.coord.Produce(ctx, connID, p.Kind, p.RTPParameters, p.AppData)
	if err != nil {
		ctl.replyError(c, req.ID, domain.ErrorCode(err), err.Error())
		return
	}
	ctl.reply(c, req.ID, res)
}

func (ctl *Controller) handleListProducers(connID core.ConnectionID, c *wsSignalConn, req Request) {
	infos, err := ctl.coord.ListProducers(connID)
	if err != nil {
		ctl.replyError(c, req.ID, domain.ErrorCode(err), err.Error())
		return
	}
	ctl.reply(c, req.ID, infos)
}

func (ctl *Controller) handleConsume(ctx context.Context, connID core.ConnectionID, c *wsSignalConn, req Request) {
	type payload struct {
		ProducerID      string               `json:"producerId"`
		TransportID     string               `json:"transportId"`
		RTPCapabilities core.RTPCapabilities `json:"rtpCapabilities"`
	}
	var p payload
	if err := json.Unmarshal(req.Data, &p); err != nil {
		ctl.replyError(c, req.ID, "bad_request", "bad consume payload")
		return
	}
	res, err := ctl.coord.Consume(ctx, connID, p.ProducerID, p.TransportID, p.RTPCapabilities)
	if err != nil {
		log.Info().Err(err).Str("module", "signal").Str("conn", string(connID)).Msg("consume rejected")
		ctl.replyError(c, req.ID, domain.ErrorCode(err), err.Error())
		return
	}
	ctl.reply(c, req.ID, res)
}

func (ctl *Controller) handleResumeConsumer(ctx context.Context, connID core.ConnectionID, c *wsSignalConn, req Request) {
	type payload struct {
		ConsumerID string `json:"consumerId"`
	}
	var p payload
	if err := json.Unmarshal(req.Data, &p); err != nil {
		ctl.replyError(c, req.ID, "bad_request", "bad resumeConsumer payload")
		return
	}
	if err := ctl.coord.ResumeConsumer(ctx, connID, p.ConsumerID); err != nil {
		ctl.replyError(c, req.ID, domain.ErrorCode(err), err.Error())
		return
	}
	ctl.reply(c, req.ID, map[string]bool{"resumed": true})
}
