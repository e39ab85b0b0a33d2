package core

import (
	"encoding/json"

	"github.com/huddlelabs/huddle/internal/domain"
)

// TransportRecord is one row of the transport table. At most one record with
// ReceiveOnly=false may exist per connection.
type TransportRecord struct {
	ConnID      ConnectionID
	Room        domain.RoomName
	Transport   MediaTransport
	ReceiveOnly bool
}

// ProducerRecord is one row of the producer table. ConsumerIDs are the
// back-references used to cascade a producer close onto its consumers.
type ProducerRecord struct {
	ConnID      ConnectionID
	Room        domain.RoomName
	Producer    MediaProducer
	Kind        domain.MediaKind
	AppData     json.RawMessage
	ConsumerIDs []string
}

// ConsumerRecord is one row of the consumer table. TransportID names the
// dedicated receive transport the consumer lives on.
type ConsumerRecord struct {
	ConnID      ConnectionID
	Room        domain.RoomName
	Consumer    MediaConsumer
	ProducerID  string
	TransportID string
}
