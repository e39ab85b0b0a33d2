package coord

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/huddlelabs/huddle/internal/core"
	"github.com/huddlelabs/huddle/internal/domain"
)

// CreateTransport asks the room's router for a transport and records it.
// Replies with the parameters the client needs to finish its handshake; no
// side effect on other peers yet.
func (c *Coordinator) CreateTransport(ctx context.Context, connID core.ConnectionID, receiveOnly bool) (core.TransportParams, error) {
	peer, ok := c.store.Peers.Get(connID)
	if !ok {
		return core.TransportParams{}, fmt.Errorf("%w: connection %s has not joined a room", domain.ErrNotFound, connID)
	}
	router, ok := c.store.Rooms.Router(peer.Room)
	if !ok {
		return core.TransportParams{}, fmt.Errorf("%w: no router for room %s", domain.ErrNotFound, peer.Room)
	}
	if !receiveOnly {
		if _, err := c.store.Media.FindSendTransport(connID); err == nil {
			return core.TransportParams{}, fmt.Errorf("%w: connection %s already owns a send transport", domain.ErrValidation, connID)
		}
	}

	ectx, cancel := c.engineCtx(ctx)
	defer cancel()
	transport, err := router.CreateTransport(ectx, core.TransportOptions{ReceiveOnly: receiveOnly})
	if err != nil {
		return core.TransportParams{}, fmt.Errorf("%w: create transport: %v", domain.ErrEngineRejected, err)
	}

	rec := core.TransportRecord{ConnID: connID, Room: peer.Room, Transport: transport, ReceiveOnly: receiveOnly}
	if err := c.store.AddTransport(rec); err != nil {
		// Lost the race against a concurrent send-transport create; the
		// engine side must not leak.
		transport.Close()
		return core.TransportParams{}, err
	}
	transport.OnClosed(func() {
		// A dead receive transport takes its consumers with it; their rows
		// must not stay addressable.
		for _, crec := range c.store.Media.ConsumersOfTransport(transport.ID()) {
			c.store.DropConsumer(crec.Consumer.ID())
		}
		if trec, ok := c.store.Media.RemoveTransport(transport.ID()); ok {
			c.store.Peers.DropTransportID(trec.ConnID, transport.ID())
			log.Info().Str("module", "coord").Str("transport", transport.ID()).Msg("transport closed by engine, record purged")
		}
	})
	return transport.Params(), nil
}

// ConnectTransport applies the client's handshake answer to its send
// transport, or to a specific receive transport when transportID is set.
// Errors surface in the reply to this request only.
func (c *Coordinator) ConnectTransport(ctx context.Context, connID core.ConnectionID, transportID string, params core.ConnectParams) error {
	var rec core.TransportRecord
	var err error
	if transportID == "" {
		rec, err = c.store.Media.FindSendTransport(connID)
	} else {
		rec, err = c.store.Media.FindReceiveTransport(connID, transportID)
	}
	if err != nil {
		return c.checkInvariant(connID, err)
	}

	ectx, cancel := c.engineCtx(ctx)
	defer cancel()
	if err := rec.Transport.Connect(ectx, params); err != nil {
		return fmt.Errorf("%w: connect transport: %v", domain.ErrEngineRejected, err)
	}
	return nil
}

// ProduceResult is the reply payload for a produce request.
type ProduceResult struct {
	ProducerID string `json:"producerId"`
	// OthersExist tells the client whether remote producers already exist
	// in the room, so it knows to pull them via listProducers.
	OthersExist bool `json:"othersExist"`
}

// Produce creates a producer on the connection's send transport and
// notifies every other joined room member, regardless of the producer's
// kind; recipients decide at consume time whether they can receive it.
func (c *Coordinator) Produce(ctx context.Context, connID core.ConnectionID, kindRaw string, params core.RTPParameters, appData json.RawMessage) (ProduceResult, error) {
	kind, err := domain.NewMediaKind(kindRaw)
	if err != nil {
		return ProduceResult{}, err
	}
	peer, ok := c.store.Peers.Get(connID)
	if !ok {
		return ProduceResult{}, fmt.Errorf("%w: connection %s has not joined a room", domain.ErrNotFound, connID)
	}
	send, err := c.store.Media.FindSendTransport(connID)
	if err != nil {
		return ProduceResult{}, c.checkInvariant(connID, err)
	}

	ectx, cancel := c.engineCtx(ctx)
	defer cancel()
	producer, err := send.Transport.Produce(ectx, kind, params)
	if err != nil {
		// Nothing was recorded, nothing to roll back.
		return ProduceResult{}, fmt.Errorf("%w: produce: %v", domain.ErrEngineRejected, err)
	}

	rec := core.ProducerRecord{ConnID: connID, Room: peer.Room, Producer: producer, Kind: kind, AppData: appData}
	c.store.AddProducer(rec)
	producer.OnClosed(func() {
		c.onProducerClosed(peer.Room, connID, producer.ID())
	})

	othersExist := c.store.Media.HasOtherProducers(peer.Room, connID)
	c.fanout(peer.Room, connID, nil, MethodNewRemoteProducer, NewProducerPayload{
		ProducerID: producer.ID(),
		Identity:   peer.Identity,
		Kind:       kind,
	})
	log.Info().Str("module", "coord").Str("conn", string(connID)).Str("producer", producer.ID()).Str("kind", string(kind)).Msg("producer created")
	return ProduceResult{ProducerID: producer.ID(), OthersExist: othersExist}, nil
}

// onProducerClosed handles an engine-level producer close (e.g. its
// transport died under it). Consumer owners learn through their own
// producerclose cascade; everyone else gets a synthesized notification.
func (c *Coordinator) onProducerClosed(room domain.RoomName, owner core.ConnectionID, producerID string) {
	rec, ok := c.store.Media.RemoveProducer(producerID)
	if !ok {
		return
	}
	c.store.Peers.DropProducerID(owner, producerID)
	cascaded := make(map[core.ConnectionID]bool, len(rec.ConsumerIDs))
	for _, cid := range rec.ConsumerIDs {
		if crec, ok := c.store.Media.Consumer(cid); ok {
			cascaded[crec.ConnID] = true
		}
	}
	c.fanout(room, owner, cascaded, MethodRemoteProducerClosed, ProducerClosedPayload{ProducerID: producerID})
}

// ProducerInfo is one row of a listProducers reply.
type ProducerInfo struct {
	ProducerID string           `json:"producerId"`
	Identity   domain.Identity  `json:"identity"`
	Privileged bool             `json:"privileged"`
	Kind       domain.MediaKind `json:"kind"`
}

// ListProducers returns every producer in the requester's room other than
// its own; a freshly joined client bootstraps its consumption set with it.
func (c *Coordinator) ListProducers(connID core.ConnectionID) ([]ProducerInfo, error) {
	peer, ok := c.store.Peers.Get(connID)
	if !ok {
		return nil, fmt.Errorf("%w: connection %s has not joined a room", domain.ErrNotFound, connID)
	}
	recs := c.store.Media.ProducersInRoom(peer.Room, connID)
	out := make([]ProducerInfo, 0, len(recs))
	for _, rec := range recs {
		info := ProducerInfo{ProducerID: rec.Producer.ID(), Kind: rec.Kind}
		if owner, ok := c.store.Peers.Get(rec.ConnID); ok {
			info.Identity = owner.Identity
			info.Privileged = owner.Privileged
		}
		out = append(out, info)
	}
	return out, nil
}

// ConsumeResult is the reply payload for a consume request.
type ConsumeResult struct {
	Consumer           core.ConsumerParams `json:"consumer"`
	ProducerIdentity   domain.Identity     `json:"producerIdentity"`
	ProducerPrivileged bool                `json:"producerPrivileged"`
}

// Consume creates a paused consumer for a remote producer on the given
// receive transport. The router is asked first whether the capabilities can
// consume the producer; a refusal is an explicit error reply, not a crash.
func (c *Coordinator) Consume(ctx context.Context, connID core.ConnectionID, producerID, transportID string, caps core.RTPCapabilities) (ConsumeResult, error) {
	peer, ok := c.store.Peers.Get(connID)
	if !ok {
		return ConsumeResult{}, fmt.Errorf("%w: connection %s has not joined a room", domain.ErrNotFound, connID)
	}
	prodRec, ok := c.store.Media.Producer(producerID)
	if !ok || prodRec.Room != peer.Room {
		return ConsumeResult{}, fmt.Errorf("%w: no producer %s in room %s", domain.ErrNotFound, producerID, peer.Room)
	}
	router, ok := c.store.Rooms.Router(peer.Room)
	if !ok {
		return ConsumeResult{}, fmt.Errorf("%w: no router for room %s", domain.ErrNotFound, peer.Room)
	}
	if !router.CanConsume(producerID, caps) {
		return ConsumeResult{}, fmt.Errorf("%w: capabilities cannot consume producer %s", domain.ErrEngineRejected, producerID)
	}
	trec, err := c.store.Media.FindReceiveTransport(connID, transportID)
	if err != nil {
		return ConsumeResult{}, err
	}

	ectx, cancel := c.engineCtx(ctx)
	defer cancel()
	consumer, err := trec.Transport.Consume(ectx, producerID, caps, true)
	if err != nil {
		return ConsumeResult{}, fmt.Errorf("%w: consume: %v", domain.ErrEngineRejected, err)
	}

	rec := core.ConsumerRecord{ConnID: connID, Room: peer.Room, Consumer: consumer, ProducerID: producerID, TransportID: transportID}
	c.store.AddConsumer(rec)
	consumer.OnProducerClosed(func() {
		c.onConsumerProducerClosed(connID, consumer.ID(), producerID)
	})
	// The producer may have closed between the lookup above and the record
	// commit; its cascade ran before our callback was wired, so it never
	// reaches this consumer. Re-check and undo.
	if _, ok := c.store.Media.Producer(producerID); !ok {
		c.store.DropConsumer(consumer.ID())
		return ConsumeResult{}, fmt.Errorf("%w: producer %s closed during consume", domain.ErrNotFound, producerID)
	}

	res := ConsumeResult{Consumer: consumer.Params()}
	if owner, ok := c.store.Peers.Get(prodRec.ConnID); ok {
		res.ProducerIdentity = owner.Identity
		res.ProducerPrivileged = owner.Privileged
	}
	log.Info().Str("module", "coord").Str("conn", string(connID)).Str("consumer", consumer.ID()).Str("producer", producerID).Msg("consumer created paused")
	return res, nil
}

// onConsumerProducerClosed runs when the consumed producer disappears:
// notify the consumer's owner, then close and purge the consumer and its
// dedicated receive transport.
func (c *Coordinator) onConsumerProducerClosed(connID core.ConnectionID, consumerID, producerID string) {
	if peer, ok := c.store.Peers.Get(connID); ok {
		if err := c.notifier.Push(peer.Signal, MethodRemoteProducerClosed, ProducerClosedPayload{ProducerID: producerID}); err != nil {
			log.Warn().Str("module", "coord").Str("conn", string(connID)).Err(err).Msg("producerclose push failed")
		}
	}
	c.store.DropConsumer(consumerID)
}

// ResumeConsumer starts media flow on a consumer. This is the signal that
// the client-side renderer is attached.
func (c *Coordinator) ResumeConsumer(ctx context.Context, connID core.ConnectionID, consumerID string) error {
	rec, ok := c.store.Media.Consumer(consumerID)
	if !ok || rec.ConnID != connID {
		return fmt.Errorf("%w: no consumer %s for connection %s", domain.ErrNotFound, consumerID, connID)
	}
	if err := rec.Consumer.Resume(); err != nil {
		return fmt.Errorf("%w: resume consumer: %v", domain.ErrEngineRejected, err)
	}
	return nil
}
