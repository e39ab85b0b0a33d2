package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/huddlelabs/huddle/internal/core"
	"github.com/huddlelabs/huddle/internal/domain"
)

// Minimal engine stubs for the registry tests. Behavior lives in the
// registries here; the stubs only count calls.

type stubEngine struct {
	mu        sync.Mutex
	routers   []*stubRouter
	routerErr error
}

func (e *stubEngine) NewRouter(context.Context, []core.CodecCapability) (core.MediaRouter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.routerErr != nil {
		return nil, e.routerErr
	}
	r := &stubRouter{id: fmt.Sprintf("router-%d", len(e.routers))}
	e.routers = append(e.routers, r)
	return r, nil
}

type stubRouter struct {
	id string

	mu     sync.Mutex
	closes int
}

func (r *stubRouter) ID() string                                   { return r.id }
func (r *stubRouter) RTPCapabilities() core.RTPCapabilities        { return core.RTPCapabilities{} }
func (r *stubRouter) CanConsume(string, core.RTPCapabilities) bool { return true }

func (r *stubRouter) CreateTransport(context.Context, core.TransportOptions) (core.MediaTransport, error) {
	return nil, fmt.Errorf("not implemented")
}

func (r *stubRouter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
}

func (r *stubRouter) closeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}

type stubTransport struct {
	id          string
	receiveOnly bool

	mu     sync.Mutex
	closes int
}

func (t *stubTransport) ID() string { return t.id }

func (t *stubTransport) Params() core.TransportParams {
	return core.TransportParams{ID: t.id}
}

func (t *stubTransport) Connect(context.Context, core.ConnectParams) error { return nil }

func (t *stubTransport) Produce(context.Context, domain.MediaKind, core.RTPParameters) (core.MediaProducer, error) {
	return nil, fmt.Errorf("not implemented")
}

func (t *stubTransport) Consume(context.Context, string, core.RTPCapabilities, bool) (core.MediaConsumer, error) {
	return nil, fmt.Errorf("not implemented")
}

func (t *stubTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
}

func (t *stubTransport) OnClosed(func()) {}

func (t *stubTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

type stubProducer struct {
	id   string
	kind domain.MediaKind

	mu     sync.Mutex
	closes int
}

func (p *stubProducer) ID() string             { return p.id }
func (p *stubProducer) Kind() domain.MediaKind { return p.kind }
func (p *stubProducer) OnClosed(func())        {}

func (p *stubProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
}

func (p *stubProducer) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

type stubConsumer struct {
	id         string
	producerID string

	mu     sync.Mutex
	closes int
}

func (c *stubConsumer) ID() string         { return c.id }
func (c *stubConsumer) ProducerID() string { return c.producerID }

func (c *stubConsumer) Params() core.ConsumerParams {
	return core.ConsumerParams{ID: c.id, ProducerID: c.producerID, Paused: true}
}

func (c *stubConsumer) Resume() error           { return nil }
func (c *stubConsumer) OnProducerClosed(func()) {}

func (c *stubConsumer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
}

func (c *stubConsumer) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

type stubSignal struct{}

func (stubSignal) TrySend(core.Frame) error { return nil }
func (stubSignal) Close()                   {}
