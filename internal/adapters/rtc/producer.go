package rtc

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/huddlelabs/huddle/internal/domain"
)

// Producer wraps one remote track and forwards its RTP to every consumer
// out-track. One forwarding goroutine per producer.
type Producer struct {
	id        string
	kind      domain.MediaKind
	transport *Transport
	track     *webrtc.TrackRemote

	mu        sync.RWMutex
	consumers map[string]*Consumer
	onClosed  func()

	cancel context.CancelFunc
	closed atomic.Bool
}

func newProducer(t *Transport, kind domain.MediaKind, track *webrtc.TrackRemote) *Producer {
	return &Producer{
		id:        uuid.NewString(),
		kind:      kind,
		transport: t,
		track:     track,
		consumers: make(map[string]*Consumer),
	}
}

func (p *Producer) ID() string             { return p.id }
func (p *Producer) Kind() domain.MediaKind { return p.kind }

func (p *Producer) codec() webrtc.RTPCodecCapability {
	return p.track.Codec().RTPCodecCapability
}

func (p *Producer) OnClosed(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClosed = fn
}

func (p *Producer) start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	logger := log.With().Str("module", "rtc").Str("producer", p.id).Str("kind", string(p.kind)).Logger()
	go p.loop(ctx, logger)
}

// loop reads RTP packets from the remote track and forwards them to all
// active consumers. Exits when the track errors out or the producer closes.
func (p *Producer) loop(ctx context.Context, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, _, err := p.track.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("read RTP ended, closing producer")
			p.Close()
			return
		}
		p.forward(pkt, logger)
	}
}

func (p *Producer) forward(pkt *rtp.Packet, logger zerolog.Logger) {
	p.mu.RLock()
	snapshot := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		snapshot = append(snapshot, c)
	}
	p.mu.RUnlock()

	for _, c := range snapshot {
		if !c.active() {
			continue
		}
		if err := c.track.WriteRTP(pkt); err != nil {
			logger.Error().Err(err).Str("consumer", c.id).Msg("write RTP error, closing consumer")
			c.Close()
		}
	}
}

func (p *Producer) addConsumer(c *Consumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumers[c.id] = c
}

func (p *Producer) removeConsumer(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.consumers, id)
}

// Close stops the forwarding loop and fires the producerclose cascade on
// every dependent consumer. Idempotent.
func (p *Producer) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.transport.router.unregisterProducer(p.id)

	p.mu.Lock()
	consumers := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	p.consumers = make(map[string]*Consumer)
	fn := p.onClosed
	p.mu.Unlock()

	for _, c := range consumers {
		c.producerClosed()
	}
	if fn != nil {
		fn()
	}
	log.Info().Str("module", "rtc").Str("producer", p.id).Msg("producer closed")
}
