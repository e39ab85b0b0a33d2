// Package rtc is the pion-backed media engine gateway. Routers share one
// webrtc.API per room, transports wrap PeerConnections, producers forward
// RTP from remote tracks to the local out-tracks of their consumers.
package rtc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/huddlelabs/huddle/internal/core"
)

type Config struct {
	STUNURLs []string
}

// Engine creates per-room routers.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// DefaultCodecs is the codec profile used when a room does not configure
// its own.
func DefaultCodecs() []core.CodecCapability {
	return []core.CodecCapability{
		{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
	}
}

func (e *Engine) NewRouter(_ context.Context, codecs []core.CodecCapability) (core.MediaRouter, error) {
	if len(codecs) == 0 {
		codecs = DefaultCodecs()
	}
	media := &webrtc.MediaEngine{}
	pt := webrtc.PayloadType(96)
	for _, c := range codecs {
		kind := webrtc.RTPCodecTypeVideo
		if strings.HasPrefix(strings.ToLower(c.MimeType), "audio/") {
			kind = webrtc.RTPCodecTypeAudio
		}
		err := media.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:  c.MimeType,
				ClockRate: c.ClockRate,
				Channels:  c.Channels,
			},
			PayloadType: pt,
		}, kind)
		if err != nil {
			return nil, fmt.Errorf("register codec %s: %w", c.MimeType, err)
		}
		pt++
	}

	r := &Router{
		id:         uuid.NewString(),
		api:        webrtc.NewAPI(webrtc.WithMediaEngine(media)),
		cfg:        e.cfg,
		codecs:     codecs,
		producers:  make(map[string]*Producer),
		transports: make(map[string]*Transport),
	}
	log.Info().Str("module", "rtc").Str("router", r.id).Int("codecs", len(codecs)).Msg("router created")
	return r, nil
}

// Router scopes transports and producers to one room.
type Router struct {
	id     string
	api    *webrtc.API
	cfg    Config
	codecs []core.CodecCapability

	mu         sync.RWMutex
	producers  map[string]*Producer
	transports map[string]*Transport
	closed     bool
}

func (r *Router) ID() string { return r.id }

func (r *Router) RTPCapabilities() core.RTPCapabilities {
	return core.RTPCapabilities{Codecs: append([]core.CodecCapability(nil), r.codecs...)}
}

// CanConsume reports whether the given capabilities include the codec of
// the producer. Unknown producers are never consumable.
func (r *Router) CanConsume(producerID string, caps core.RTPCapabilities) bool {
	r.mu.RLock()
	prod, ok := r.producers[producerID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	mime := prod.codec().MimeType
	for _, c := range caps.Codecs {
		if strings.EqualFold(c.MimeType, mime) {
			return true
		}
	}
	return false
}

func (r *Router) CreateTransport(ctx context.Context, opts core.TransportOptions) (core.MediaTransport, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("router %s is closed", r.id)
	}

	var iceServers []webrtc.ICEServer
	if len(r.cfg.STUNURLs) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: r.cfg.STUNURLs})
	}
	pc, err := r.api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	t := newTransport(r, pc, opts.ReceiveOnly)
	if err := t.setup(ctx); err != nil {
		_ = pc.Close()
		return nil, err
	}

	r.mu.Lock()
	r.transports[t.id] = t
	r.mu.Unlock()
	log.Info().Str("module", "rtc").Str("router", r.id).Str("transport", t.id).Bool("receive_only", opts.ReceiveOnly).Msg("transport created")
	return t, nil
}

func (r *Router) registerProducer(p *Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[p.id] = p
}

func (r *Router) unregisterProducer(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.producers, id)
}

func (r *Router) producer(id string) (*Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *Router) dropTransport(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transports, id)
}

// Close releases every transport built on the router. Idempotent.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
	log.Info().Str("module", "rtc").Str("router", r.id).Msg("router closed")
}

func (r *Router) allowsMime(mime string) bool {
	for _, c := range r.codecs {
		if strings.EqualFold(c.MimeType, mime) {
			return true
		}
	}
	return false
}
