package core

import (
	"context"

	"github.com/huddlelabs/huddle/internal/domain"
)

// CodecCapability describes a single codec a router or a client can handle.
type CodecCapability struct {
	MimeType  string `json:"mimeType"`
	ClockRate uint32 `json:"clockRate"`
	Channels  uint16 `json:"channels,omitempty"`
}

// RTPCapabilities is the set of codecs an endpoint can receive.
type RTPCapabilities struct {
	Codecs []CodecCapability `json:"codecs"`
}

// RTPParameters describes the media a client intends to produce.
type RTPParameters struct {
	MimeType  string `json:"mimeType"`
	ClockRate uint32 `json:"clockRate"`
	Channels  uint16 `json:"channels,omitempty"`
}

// TransportParams is what a client needs to complete its side of the
// transport handshake.
type TransportParams struct {
	ID         string   `json:"id"`
	OfferSDP   string   `json:"offerSdp"`
	ICEServers []string `json:"iceServers,omitempty"`
}

// ConnectParams carries the client's half of the handshake back to the
// engine. DTLS fingerprints ride inside the SDP answer.
type ConnectParams struct {
	AnswerSDP string `json:"answerSdp"`
}

// ConsumerParams is the reply payload for a successful consume request.
// OfferSDP is the renegotiated local description of the receive transport
// after the consumer's track was attached.
type ConsumerParams struct {
	ID         string           `json:"id"`
	ProducerID string           `json:"producerId"`
	Kind       domain.MediaKind `json:"kind"`
	MimeType   string           `json:"mimeType"`
	Paused     bool             `json:"paused"`
	OfferSDP   string           `json:"offerSdp"`
}

// TransportOptions controls transport creation on a router.
type TransportOptions struct {
	ReceiveOnly bool
}

// MediaEngine is the entry point into the media-routing engine. One router
// is created per room and reused for the room's lifetime.
type MediaEngine interface {
	NewRouter(ctx context.Context, codecs []CodecCapability) (MediaRouter, error)
}

// MediaRouter mixes/forwards RTP between the transports of one room.
// Owned by the room registry; Close releases every transport built on it.
type MediaRouter interface {
	ID() string
	RTPCapabilities() RTPCapabilities
	CanConsume(producerID string, caps RTPCapabilities) bool
	CreateTransport(ctx context.Context, opts TransportOptions) (MediaTransport, error)
	Close()
}

// MediaTransport is a negotiated network path between one client and the
// router. Send transports carry producers, receive transports carry
// consumers.
type MediaTransport interface {
	ID() string
	Params() TransportParams
	// Connect applies the client's handshake answer. Safe to call again
	// after a consumer renegotiation.
	Connect(ctx context.Context, params ConnectParams) error
	Produce(ctx context.Context, kind domain.MediaKind, params RTPParameters) (MediaProducer, error)
	Consume(ctx context.Context, producerID string, caps RTPCapabilities, paused bool) (MediaConsumer, error)
	Close()
	OnClosed(func())
}

// MediaProducer is a client's outbound track as known to the router.
type MediaProducer interface {
	ID() string
	Kind() domain.MediaKind
	Close()
	OnClosed(func())
}

// MediaConsumer is a client's subscription to a remote producer. Created
// paused; Resume starts media flow once the client's renderer is attached.
type MediaConsumer interface {
	ID() string
	ProducerID() string
	Params() ConsumerParams
	Resume() error
	Close()
	// OnProducerClosed fires once when the consumed producer goes away.
	OnProducerClosed(func())
}
