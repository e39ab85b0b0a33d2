package coord

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/huddlelabs/huddle/internal/core"
	"github.com/huddlelabs/huddle/internal/domain"
)

// JoinResult is the reply payload for a join request.
type JoinResult struct {
	RouterCapabilities core.RTPCapabilities `json:"routerCapabilities"`
	Duplicate          bool                 `json:"duplicate"`
}

// Join registers the connection in a room. A duplicate identity is reported
// in the result and the new session is NOT registered; the existing session
// stays untouched. The peer does not receive fan-out traffic until the
// adapter confirms the join reply was queued via FinishJoin.
func (c *Coordinator) Join(ctx context.Context, connID core.ConnectionID, sig core.SignalConnection, roomRaw, identityRaw string, privileged bool) (JoinResult, error) {
	room, err := domain.NewRoomName(roomRaw)
	if err != nil {
		return JoinResult{}, err
	}
	identity, err := domain.NewIdentity(identityRaw)
	if err != nil {
		return JoinResult{}, err
	}
	if _, ok := c.store.Peers.Get(connID); ok {
		return JoinResult{}, fmt.Errorf("%w: connection already joined a room", domain.ErrValidation)
	}

	ectx, cancel := c.engineCtx(ctx)
	defer cancel()
	router, dup, err := c.store.Rooms.JoinOrCreate(ectx, room, identity, connID)
	if err != nil {
		return JoinResult{}, err
	}
	if dup {
		log.Warn().Str("module", "coord").Str("conn", string(connID)).Str("room", string(room)).Str("identity", string(identity)).Msg("duplicate identity, join rejected")
		return JoinResult{Duplicate: true}, nil
	}

	c.store.Peers.Register(connID, room, identity, privileged, sig)
	return JoinResult{RouterCapabilities: router.RTPCapabilities()}, nil
}

// FinishJoin marks the peer eligible for fan-out. The signal adapter calls
// it after queuing the join reply, which guarantees no notification is
// observed before the peer's own join reply.
func (c *Coordinator) FinishJoin(connID core.ConnectionID) {
	c.store.Peers.MarkJoined(connID)
}

// Leave tears the session's room state down while the connection stays up.
func (c *Coordinator) Leave(connID core.ConnectionID) {
	c.teardown(connID)
}

// Disconnect is the terminal transition, reachable from every state. Cleans
// every table entry the connection owns, closes every owned engine handle,
// and synthesizes remoteProducerClosed for peers the engine-level cascade
// does not reach (an abrupt socket close emits no engine event by itself).
func (c *Coordinator) Disconnect(connID core.ConnectionID) {
	c.teardown(connID)
}

func (c *Coordinator) teardown(connID core.ConnectionID) {
	peer, ok := c.store.Peers.Remove(connID)
	if !ok {
		return
	}

	// Members already consuming one of this connection's producers will be
	// notified by the consumer-side producerclose cascade when the handles
	// are closed below; collect them first so the synthesized fan-out does
	// not notify them twice.
	closedProducers := c.store.Media.ProducersOfConnection(connID)
	cascaded := make(map[string]map[core.ConnectionID]bool, len(closedProducers))
	for _, prod := range closedProducers {
		owners := make(map[core.ConnectionID]bool, len(prod.ConsumerIDs))
		for _, cid := range prod.ConsumerIDs {
			if crec, ok := c.store.Media.Consumer(cid); ok {
				owners[crec.ConnID] = true
			}
		}
		cascaded[prod.Producer.ID()] = owners
	}

	c.store.RemoveAllForConnection(connID)
	c.store.Rooms.Leave(peer.Room, connID, peer.Identity)

	for _, prod := range closedProducers {
		id := prod.Producer.ID()
		c.fanout(peer.Room, connID, cascaded[id], MethodRemoteProducerClosed, ProducerClosedPayload{ProducerID: id})
	}
	log.Info().Str("module", "coord").Str("conn", string(connID)).Str("room", string(peer.Room)).Msg("session torn down")
}
