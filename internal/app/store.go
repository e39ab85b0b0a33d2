package app

import (
	"github.com/rs/zerolog/log"

	"github.com/huddlelabs/huddle/internal/core"
)

// Store aggregates the session registries. Constructed once at startup and
// injected into the coordinator; nothing in this package is process-global.
type Store struct {
	Rooms *RoomRegistry
	Peers *PeerRegistry
	Media *MediaTables
}

func NewStore(engine core.MediaEngine, codecs []core.CodecCapability) *Store {
	return &Store{
		Rooms: NewRoomRegistry(engine, codecs),
		Peers: NewPeerRegistry(),
		Media: NewMediaTables(),
	}
}

// AddTransport records a transport in the flat table and the peer's id list.
func (s *Store) AddTransport(rec core.TransportRecord) error {
	if err := s.Media.AddTransport(rec); err != nil {
		return err
	}
	s.Peers.addTransportID(rec.ConnID, rec.Transport.ID())
	return nil
}

func (s *Store) AddProducer(rec core.ProducerRecord) {
	s.Media.AddProducer(rec)
	s.Peers.addProducerID(rec.ConnID, rec.Producer.ID())
}

func (s *Store) AddConsumer(rec core.ConsumerRecord) {
	s.Media.AddConsumer(rec)
	s.Peers.addConsumerID(rec.ConnID, rec.Consumer.ID())
}

// DropConsumer purges one consumer and its dedicated receive transport,
// closing both handles. Safe to call twice for the same consumer; the
// engine-emitted close callback and the disconnect path may race here.
func (s *Store) DropConsumer(consumerID string) {
	rec, ok := s.Media.RemoveConsumer(consumerID)
	if !ok {
		return
	}
	rec.Consumer.Close()
	s.Peers.DropConsumerID(rec.ConnID, consumerID)
	if trec, ok := s.Media.RemoveTransport(rec.TransportID); ok {
		trec.Transport.Close()
		s.Peers.DropTransportID(trec.ConnID, trec.Transport.ID())
	}
}

// RemoveAllForConnection closes every media-engine handle the connection
// owns and purges it from all tables. Returns the removed records so the
// caller can synthesize topology notifications.
func (s *Store) RemoveAllForConnection(connID core.ConnectionID) ([]core.TransportRecord, []core.ProducerRecord, []core.ConsumerRecord) {
	transports, producers, consumers := s.Media.takeAllForConnection(connID)
	// Handles carry close-once guards, so overlap with an engine-emitted
	// close callback is harmless.
	for _, rec := range consumers {
		rec.Consumer.Close()
	}
	for _, rec := range producers {
		rec.Producer.Close()
	}
	for _, rec := range transports {
		rec.Transport.Close()
	}
	log.Info().Str("module", "app.store").Str("conn", string(connID)).
		Int("transports", len(transports)).Int("producers", len(producers)).Int("consumers", len(consumers)).
		Msg("removed all records for connection")
	return transports, producers, consumers
}
