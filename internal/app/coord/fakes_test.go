package coord

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/huddlelabs/huddle/internal/core"
	"github.com/huddlelabs/huddle/internal/domain"
)

// In-memory engine fakes. Producer close cascades onto the consumers
// created for it, mirroring the real gateway's producerclose behavior.

type fakeEngine struct {
	mu        sync.Mutex
	routers   []*fakeRouter
	producers map[string]*fakeProducer
	routerErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{producers: make(map[string]*fakeProducer)}
}

func (e *fakeEngine) addProducer(p *fakeProducer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.producers[p.id] = p
}

func (e *fakeEngine) producer(id string) *fakeProducer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.producers[id]
}

func (e *fakeEngine) NewRouter(_ context.Context, codecs []core.CodecCapability) (core.MediaRouter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.routerErr != nil {
		return nil, e.routerErr
	}
	r := &fakeRouter{
		engine:     e,
		id:         fmt.Sprintf("router-%d", len(e.routers)),
		codecs:     codecs,
		canConsume: true,
	}
	e.routers = append(e.routers, r)
	return r, nil
}

type fakeRouter struct {
	engine     *fakeEngine
	id         string
	codecs     []core.CodecCapability
	canConsume bool

	mu         sync.Mutex
	transports int
	closeCount int
}

func (r *fakeRouter) ID() string { return r.id }

func (r *fakeRouter) RTPCapabilities() core.RTPCapabilities {
	return core.RTPCapabilities{Codecs: r.codecs}
}

func (r *fakeRouter) CanConsume(string, core.RTPCapabilities) bool { return r.canConsume }

func (r *fakeRouter) CreateTransport(_ context.Context, opts core.TransportOptions) (core.MediaTransport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports++
	return &fakeTransport{
		router:      r,
		id:          fmt.Sprintf("%s-transport-%d", r.id, r.transports),
		receiveOnly: opts.ReceiveOnly,
	}, nil
}

func (r *fakeRouter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeCount++
}

type fakeTransport struct {
	router      *fakeRouter
	id          string
	receiveOnly bool

	mu         sync.Mutex
	connected  bool
	connectErr error
	produceErr error
	consumeErr error
	onConsume  func()
	producers  int
	consumers  int
	closeCount int
	onClosed   func()
}

func (t *fakeTransport) ID() string { return t.id }

func (t *fakeTransport) Params() core.TransportParams {
	return core.TransportParams{ID: t.id, OfferSDP: "v=0 offer " + t.id}
}

func (t *fakeTransport) Connect(context.Context, core.ConnectParams) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectErr != nil {
		return t.connectErr
	}
	t.connected = true
	return nil
}

func (t *fakeTransport) Produce(_ context.Context, kind domain.MediaKind, _ core.RTPParameters) (core.MediaProducer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.produceErr != nil {
		return nil, t.produceErr
	}
	t.producers++
	p := &fakeProducer{
		id:   fmt.Sprintf("%s-producer-%d", t.id, t.producers),
		kind: kind,
	}
	t.router.engine.addProducer(p)
	return p, nil
}

func (t *fakeTransport) Consume(_ context.Context, producerID string, _ core.RTPCapabilities, paused bool) (core.MediaConsumer, error) {
	t.mu.Lock()
	hook := t.onConsume
	t.mu.Unlock()
	if hook != nil {
		hook()
	}
	t.mu.Lock()
	if t.consumeErr != nil {
		t.mu.Unlock()
		return nil, t.consumeErr
	}
	t.consumers++
	c := &fakeConsumer{
		id:         fmt.Sprintf("%s-consumer-%d", t.id, t.consumers),
		producerID: producerID,
		paused:     paused,
	}
	t.mu.Unlock()

	prod := t.router.engine.producer(producerID)
	if prod == nil {
		return nil, errors.New("no such producer: " + producerID)
	}
	prod.addConsumer(c)
	return c, nil
}

// Close mirrors the gateway's close-once guard: the second call is a
// complete no-op.
func (t *fakeTransport) Close() {
	t.mu.Lock()
	if t.closeCount > 0 {
		t.mu.Unlock()
		return
	}
	t.closeCount++
	fn := t.onClosed
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *fakeTransport) OnClosed(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClosed = fn
}

func (t *fakeTransport) closes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCount
}

type fakeProducer struct {
	id   string
	kind domain.MediaKind

	mu         sync.Mutex
	consumers  []*fakeConsumer
	closeCount int
	onClosed   func()
}

func (p *fakeProducer) ID() string             { return p.id }
func (p *fakeProducer) Kind() domain.MediaKind { return p.kind }

func (p *fakeProducer) OnClosed(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClosed = fn
}

func (p *fakeProducer) addConsumer(c *fakeConsumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumers = append(p.consumers, c)
}

func (p *fakeProducer) Close() {
	p.mu.Lock()
	p.closeCount++
	first := p.closeCount == 1
	consumers := p.consumers
	fn := p.onClosed
	p.mu.Unlock()
	if !first {
		return
	}
	for _, c := range consumers {
		c.fireProducerClosed()
	}
	if fn != nil {
		fn()
	}
}

func (p *fakeProducer) closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCount
}

type fakeConsumer struct {
	id         string
	producerID string
	paused     bool

	mu               sync.Mutex
	resumeCount      int
	closeCount       int
	onProducerClosed func()
}

func (c *fakeConsumer) ID() string         { return c.id }
func (c *fakeConsumer) ProducerID() string { return c.producerID }

func (c *fakeConsumer) Params() core.ConsumerParams {
	return core.ConsumerParams{ID: c.id, ProducerID: c.producerID, Paused: c.paused}
}

func (c *fakeConsumer) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resumeCount++
	c.paused = false
	return nil
}

func (c *fakeConsumer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCount++
}

func (c *fakeConsumer) OnProducerClosed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onProducerClosed = fn
}

func (c *fakeConsumer) fireProducerClosed() {
	c.mu.Lock()
	fn := c.onProducerClosed
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *fakeConsumer) resumes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumeCount
}

func (c *fakeConsumer) closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

// fakeSignal records every frame-less push delivered through the recording
// notifier and implements core.SignalConnection.
type fakeSignal struct {
	mu       sync.Mutex
	pushes   []recordedPush
	sendErr  error
	closed   bool
	closeCnt int
}

type recordedPush struct {
	Method  string
	Payload any
}

func (s *fakeSignal) TrySend(core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendErr
}

func (s *fakeSignal) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closeCnt++
}

func (s *fakeSignal) recorded() []recordedPush {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedPush(nil), s.pushes...)
}

func (s *fakeSignal) record(method string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.pushes = append(s.pushes, recordedPush{Method: method, Payload: payload})
	return nil
}

// recordingNotifier delivers pushes straight into the target fakeSignal.
type recordingNotifier struct{}

func (recordingNotifier) Push(conn core.SignalConnection, method string, payload any) error {
	return conn.(*fakeSignal).record(method, payload)
}
