package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/huddlelabs/huddle/internal/core"
	"github.com/huddlelabs/huddle/internal/domain"
)

// Transport wraps one PeerConnection. Send transports receive the client's
// tracks (server side is recvonly); receive transports carry consumer
// out-tracks toward the client.
type Transport struct {
	id          string
	router      *Router
	pc          *webrtc.PeerConnection
	receiveOnly bool
	params      core.TransportParams

	mu        sync.Mutex
	pending   map[domain.MediaKind]chan *webrtc.TrackRemote
	producers []*Producer
	consumers []*Consumer
	onClosed  func()

	closed atomic.Bool
}

func newTransport(router *Router, pc *webrtc.PeerConnection, receiveOnly bool) *Transport {
	return &Transport{
		id:          uuid.NewString(),
		router:      router,
		pc:          pc,
		receiveOnly: receiveOnly,
		pending: map[domain.MediaKind]chan *webrtc.TrackRemote{
			domain.MediaKindAudio: make(chan *webrtc.TrackRemote, 2),
			domain.MediaKindVideo: make(chan *webrtc.TrackRemote, 2),
		},
	}
}

// setup wires lifecycle callbacks and produces the initial offer the client
// answers via Connect.
func (t *Transport) setup(ctx context.Context) error {
	if !t.receiveOnly {
		if _, err := t.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			return fmt.Errorf("add audio transceiver: %w", err)
		}
		if _, err := t.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			return fmt.Errorf("add video transceiver: %w", err)
		}
		t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			t.onTrack(track)
		})
	}

	t.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("transport", t.id).Str("state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			t.Close()
		}
	})

	offer, err := t.negotiate(ctx)
	if err != nil {
		return err
	}
	t.params = core.TransportParams{
		ID:         t.id,
		OfferSDP:   offer,
		ICEServers: t.router.cfg.STUNURLs,
	}
	return nil
}

func (t *Transport) onTrack(track *webrtc.TrackRemote) {
	kind := domain.MediaKindVideo
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		kind = domain.MediaKindAudio
	}
	log.Info().Str("module", "rtc").Str("transport", t.id).Str("kind", string(kind)).Str("track", track.ID()).Msg("remote track arrived")
	select {
	case t.pending[kind] <- track:
	default:
		log.Warn().Str("module", "rtc").Str("transport", t.id).Str("kind", string(kind)).Msg("pending track queue full, dropping track")
	}
}

// negotiate creates a fresh local offer with gathering complete. Also used
// to renegotiate after a consumer track is attached.
func (t *Transport) negotiate(ctx context.Context) (string, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return t.pc.LocalDescription().SDP, nil
}

func (t *Transport) ID() string                   { return t.id }
func (t *Transport) Params() core.TransportParams { return t.params }

func (t *Transport) Connect(_ context.Context, params core.ConnectParams) error {
	if t.closed.Load() {
		return fmt.Errorf("transport %s is closed", t.id)
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: params.AnswerSDP}
	if err := t.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// Produce claims the next remote track of the given kind. Blocks until the
// track arrives over the connected transport or ctx expires.
func (t *Transport) Produce(ctx context.Context, kind domain.MediaKind, params core.RTPParameters) (core.MediaProducer, error) {
	if t.receiveOnly {
		return nil, fmt.Errorf("transport %s is receive-only", t.id)
	}
	if t.closed.Load() {
		return nil, fmt.Errorf("transport %s is closed", t.id)
	}
	if !t.router.allowsMime(params.MimeType) {
		return nil, fmt.Errorf("codec %s not enabled on router %s", params.MimeType, t.router.id)
	}

	var track *webrtc.TrackRemote
	select {
	case track = <-t.pending[kind]:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s track: %w", kind, ctx.Err())
	}

	p := newProducer(t, kind, track)
	t.router.registerProducer(p)
	t.mu.Lock()
	t.producers = append(t.producers, p)
	t.mu.Unlock()
	p.start()
	return p, nil
}

// Consume attaches an out-track fed by the producer's forwarding loop and
// renegotiates. The consumer starts in the requested pause state.
func (t *Transport) Consume(ctx context.Context, producerID string, _ core.RTPCapabilities, paused bool) (core.MediaConsumer, error) {
	if !t.receiveOnly {
		return nil, fmt.Errorf("transport %s is not a receive transport", t.id)
	}
	if t.closed.Load() {
		return nil, fmt.Errorf("transport %s is closed", t.id)
	}
	prod, ok := t.router.producer(producerID)
	if !ok {
		return nil, fmt.Errorf("no producer %s on router %s", producerID, t.router.id)
	}

	codec := prod.codec()
	consumerID := uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticRTP(codec, consumerID, "huddle")
	if err != nil {
		return nil, fmt.Errorf("new local track: %w", err)
	}
	sender, err := t.pc.AddTrack(local)
	if err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}
	offer, err := t.negotiate(ctx)
	if err != nil {
		_ = t.pc.RemoveTrack(sender)
		return nil, err
	}

	c := newConsumer(consumerID, t, prod, local, sender, paused, offer)
	prod.addConsumer(c)
	t.mu.Lock()
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()
	return c, nil
}

func (t *Transport) OnClosed(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClosed = fn
}

// Close releases the transport and everything built on it. Idempotent.
func (t *Transport) Close() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	t.mu.Lock()
	producers := t.producers
	consumers := t.consumers
	t.producers = nil
	t.consumers = nil
	fn := t.onClosed
	t.mu.Unlock()

	for _, c := range consumers {
		c.Close()
	}
	for _, p := range producers {
		p.Close()
	}
	if err := t.pc.Close(); err != nil {
		log.Error().Str("module", "rtc").Str("transport", t.id).Err(err).Msg("peer connection close")
	}
	t.router.dropTransport(t.id)
	if fn != nil {
		fn()
	}
	log.Info().Str("module", "rtc").Str("transport", t.id).Msg("transport closed")
}
