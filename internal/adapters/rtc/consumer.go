package rtc

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/huddlelabs/huddle/internal/core"
	"github.com/huddlelabs/huddle/internal/domain"
)

type consumerState int32

const (
	consumerPaused consumerState = iota
	consumerActive
	consumerClosed
)

// Consumer feeds one remote producer into a local out-track on a receive
// transport. Created paused; no packet is forwarded before Resume.
type Consumer struct {
	id         string
	producerID string
	transport  *Transport
	producer   *Producer
	track      *webrtc.TrackLocalStaticRTP
	sender     *webrtc.RTPSender
	params     core.ConsumerParams

	state  atomic.Int32
	closed atomic.Bool

	mu               sync.Mutex
	onProducerClosed func()
	cascaded         bool
}

func newConsumer(id string, t *Transport, prod *Producer, track *webrtc.TrackLocalStaticRTP, sender *webrtc.RTPSender, paused bool, offerSDP string) *Consumer {
	c := &Consumer{
		id:         id,
		producerID: prod.id,
		transport:  t,
		producer:   prod,
		track:      track,
		sender:     sender,
		params: core.ConsumerParams{
			ID:         id,
			ProducerID: prod.id,
			Kind:       prod.kind,
			MimeType:   prod.codec().MimeType,
			Paused:     paused,
			OfferSDP:   offerSDP,
		},
	}
	if !paused {
		c.state.Store(int32(consumerActive))
	}
	return c
}

func (c *Consumer) ID() string                  { return c.id }
func (c *Consumer) ProducerID() string          { return c.producerID }
func (c *Consumer) Params() core.ConsumerParams { return c.params }

func (c *Consumer) Kind() domain.MediaKind { return c.params.Kind }

func (c *Consumer) active() bool {
	return consumerState(c.state.Load()) == consumerActive
}

// Resume starts forwarding. A resumed consumer stays resumed; resuming a
// closed consumer is an error.
func (c *Consumer) Resume() error {
	if c.state.CompareAndSwap(int32(consumerPaused), int32(consumerActive)) {
		log.Info().Str("module", "rtc").Str("consumer", c.id).Msg("consumer resumed")
		return nil
	}
	if consumerState(c.state.Load()) == consumerClosed {
		return fmt.Errorf("consumer %s is closed", c.id)
	}
	return nil
}

// OnProducerClosed registers the callback fired once when the consumed
// producer goes away.
func (c *Consumer) OnProducerClosed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onProducerClosed = fn
}

// producerClosed is invoked by the producer's close cascade. Forwarding
// stops immediately; the actual Close comes from the coordinator's cleanup.
func (c *Consumer) producerClosed() {
	c.mu.Lock()
	if c.cascaded {
		c.mu.Unlock()
		return
	}
	c.cascaded = true
	fn := c.onProducerClosed
	c.mu.Unlock()

	c.state.CompareAndSwap(int32(consumerActive), int32(consumerPaused))
	if fn != nil {
		fn()
	}
}

// Close detaches the out-track. Idempotent; racing the producer cascade and
// the disconnect cleanup is safe.
func (c *Consumer) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.state.Store(int32(consumerClosed))
	c.producer.removeConsumer(c.id)
	if err := c.transport.pc.RemoveTrack(c.sender); err != nil {
		log.Debug().Str("module", "rtc").Str("consumer", c.id).Err(err).Msg("remove track")
	}
	log.Info().Str("module", "rtc").Str("consumer", c.id).Msg("consumer closed")
}
