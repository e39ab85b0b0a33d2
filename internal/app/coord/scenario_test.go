package coord

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddlelabs/huddle/internal/app"
	"github.com/huddlelabs/huddle/internal/core"
	"github.com/huddlelabs/huddle/internal/domain"
)

// Full session walk: alice produces, bob consumes and resumes, alice
// disconnects. Verifies the consume path end to end and that the
// disconnect cascade notifies each surviving member exactly once.
func TestProduceConsumeDisconnectScenario(t *testing.T) {
	co, store, _ := newTestCoordinator(t)
	join(t, co, "a", "r1", "alice")
	sigB := join(t, co, "b", "r1", "bob")
	sigC := join(t, co, "c", "r1", "carol")

	_, err := co.CreateTransport(context.Background(), "a", false)
	require.NoError(t, err)
	prodRes, err := co.Produce(context.Background(), "a", "audio", core.RTPParameters{MimeType: "audio/opus"}, nil)
	require.NoError(t, err)

	recv, err := co.CreateTransport(context.Background(), "b", true)
	require.NoError(t, err)
	require.NoError(t, co.ConnectTransport(context.Background(), "b", recv.ID, core.ConnectParams{AnswerSDP: "v=0"}))

	consRes, err := co.Consume(context.Background(), "b", prodRes.ProducerID, recv.ID, core.RTPCapabilities{})
	require.NoError(t, err)
	assert.True(t, consRes.Consumer.Paused, "consumers start paused")
	assert.Equal(t, domain.Identity("alice"), consRes.ProducerIdentity)

	consRec, ok := store.Media.Consumer(consRes.Consumer.ID)
	require.True(t, ok)
	cons := consRec.Consumer.(*fakeConsumer)

	require.NoError(t, co.ResumeConsumer(context.Background(), "b", consRes.Consumer.ID))
	assert.Equal(t, 1, cons.resumes())

	sendRec, err := store.Media.FindSendTransport("a")
	require.NoError(t, err)
	sendTr := sendRec.Transport.(*fakeTransport)
	prodRec, ok := store.Media.Producer(prodRes.ProducerID)
	require.True(t, ok)
	prod := prodRec.Producer.(*fakeProducer)
	recvRec, err := store.Media.FindReceiveTransport("b", recv.ID)
	require.NoError(t, err)
	recvTr := recvRec.Transport.(*fakeTransport)

	co.Disconnect("a")

	// Every handle alice owned is closed exactly once, plus bob's orphaned
	// consumer and its dedicated receive transport.
	assert.Equal(t, 1, prod.closes())
	assert.Equal(t, 1, sendTr.closes())
	assert.Equal(t, 1, cons.closes())
	assert.Equal(t, 1, recvTr.closes())

	// All table entries are gone.
	_, ok = store.Media.Producer(prodRes.ProducerID)
	assert.False(t, ok)
	_, ok = store.Media.Consumer(consRes.Consumer.ID)
	assert.False(t, ok)
	_, err = store.Media.FindSendTransport("a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, ok = store.Peers.Get("a")
	assert.False(t, ok)

	// Bob was consuming, so he learns through the producerclose cascade;
	// carol gets the synthesized fan-out. Exactly one notification each.
	closedFor := func(sig *fakeSignal) int {
		n := 0
		for _, p := range sig.recorded() {
			if p.Method == MethodRemoteProducerClosed {
				require.Equal(t, prodRes.ProducerID, p.Payload.(ProducerClosedPayload).ProducerID)
				n++
			}
		}
		return n
	}
	assert.Equal(t, 1, closedFor(sigB))
	assert.Equal(t, 1, closedFor(sigC))

	// The identity is free again.
	res, err := co.Join(context.Background(), "a2", &fakeSignal{}, "r1", "alice", false)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
}

func TestLeaveClosesRouterWhenRoomEmpties(t *testing.T) {
	co, _, engine := newTestCoordinator(t)
	join(t, co, "a", "r1", "alice")
	join(t, co, "b", "r1", "bob")
	require.Len(t, engine.routers, 1)
	router := engine.routers[0]

	co.Leave("a")
	assert.Equal(t, 0, routerCloses(router), "router stays up while members remain")

	co.Leave("b")
	assert.Equal(t, 1, routerCloses(router))

	// Re-joining the same room builds a fresh router.
	join(t, co, "c", "r1", "carol")
	require.Len(t, engine.routers, 2)
}

func TestLeaveIsIdempotent(t *testing.T) {
	co, _, _ := newTestCoordinator(t)
	join(t, co, "a", "r1", "alice")
	co.Leave("a")
	co.Leave("a")
	co.Disconnect("a")
}

func TestSlowPeerIsKickedOnFanout(t *testing.T) {
	co, store, _ := newTestCoordinator(t)
	join(t, co, "a", "r1", "alice")
	sigB := join(t, co, "b", "r1", "bob")
	sigB.sendErr = errors.New("send queue full")

	_, err := co.CreateTransport(context.Background(), "a", false)
	require.NoError(t, err)
	_, err = co.Produce(context.Background(), "a", "audio", core.RTPParameters{MimeType: "audio/opus"}, nil)
	require.NoError(t, err)

	_, ok := store.Peers.Get("b")
	assert.False(t, ok, "peer with a dead signal queue is kicked")
	assert.True(t, sigB.closed)
	_, ok = store.Peers.Get("a")
	assert.True(t, ok)
}

func TestEngineProducerCloseFansOut(t *testing.T) {
	// A producer dying engine-side (not via disconnect) must still clear
	// the table and notify the room.
	co, store, _ := newTestCoordinator(t)
	join(t, co, "a", "r1", "alice")
	sigB := join(t, co, "b", "r1", "bob")

	_, err := co.CreateTransport(context.Background(), "a", false)
	require.NoError(t, err)
	res, err := co.Produce(context.Background(), "a", "video", core.RTPParameters{MimeType: "video/VP8"}, nil)
	require.NoError(t, err)

	rec, ok := store.Media.Producer(res.ProducerID)
	require.True(t, ok)
	rec.Producer.(*fakeProducer).Close()

	_, ok = store.Media.Producer(res.ProducerID)
	assert.False(t, ok)

	var closed int
	for _, p := range sigB.recorded() {
		if p.Method == MethodRemoteProducerClosed {
			closed++
		}
	}
	assert.Equal(t, 1, closed)
}

func TestReceiveTransportDeathPurgesConsumers(t *testing.T) {
	// An engine-side receive transport failure must not leave consumer
	// rows the coordinator still treats as live.
	co, store, _ := newTestCoordinator(t)
	join(t, co, "a", "r1", "alice")
	join(t, co, "b", "r1", "bob")

	_, err := co.CreateTransport(context.Background(), "a", false)
	require.NoError(t, err)
	prodRes, err := co.Produce(context.Background(), "a", "audio", core.RTPParameters{MimeType: "audio/opus"}, nil)
	require.NoError(t, err)

	recv, err := co.CreateTransport(context.Background(), "b", true)
	require.NoError(t, err)
	consRes, err := co.Consume(context.Background(), "b", prodRes.ProducerID, recv.ID, core.RTPCapabilities{})
	require.NoError(t, err)

	trec, err := store.Media.FindReceiveTransport("b", recv.ID)
	require.NoError(t, err)
	consRec, ok := store.Media.Consumer(consRes.Consumer.ID)
	require.True(t, ok)

	// Simulates the connection-state-failed path in the gateway.
	trec.Transport.Close()

	_, ok = store.Media.Consumer(consRes.Consumer.ID)
	assert.False(t, ok)
	_, err = store.Media.FindReceiveTransport("b", recv.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1, consRec.Consumer.(*fakeConsumer).closes())
	err = co.ResumeConsumer(context.Background(), "b", consRes.Consumer.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// The producer record dropped its back-reference.
	prec, ok := store.Media.Producer(prodRes.ProducerID)
	require.True(t, ok)
	assert.Empty(t, prec.ConsumerIDs)
}

func TestConsumeRacingProducerClose(t *testing.T) {
	// The producer closes while the consume request is in flight at the
	// engine: its cascade runs before the consumer callback is wired, so
	// the coordinator must detect the dead producer and undo the commit.
	co, store, engine := newTestCoordinator(t)
	join(t, co, "a", "r1", "alice")
	join(t, co, "b", "r1", "bob")

	_, err := co.CreateTransport(context.Background(), "a", false)
	require.NoError(t, err)
	prodRes, err := co.Produce(context.Background(), "a", "audio", core.RTPParameters{MimeType: "audio/opus"}, nil)
	require.NoError(t, err)

	recv, err := co.CreateTransport(context.Background(), "b", true)
	require.NoError(t, err)
	trec, err := store.Media.FindReceiveTransport("b", recv.ID)
	require.NoError(t, err)
	trec.Transport.(*fakeTransport).onConsume = func() {
		engine.producer(prodRes.ProducerID).Close()
	}

	_, err = co.Consume(context.Background(), "b", prodRes.ProducerID, recv.ID, core.RTPCapabilities{})
	require.ErrorIs(t, err, domain.ErrNotFound)

	// No orphan rows: the provisional consumer and its receive transport
	// were dropped with the failed request.
	assert.Empty(t, store.Media.ConsumersOfTransport(recv.ID))
	_, err = store.Media.FindReceiveTransport("b", recv.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEngineTimeoutBoundsRouterCreation(t *testing.T) {
	engine := &slowEngine{delay: 200 * time.Millisecond}
	store := app.NewStore(engine, nil)
	co := New(store, recordingNotifier{}, app.KickSlowPeers{}, 10*time.Millisecond)

	_, err := co.Join(context.Background(), "c1", &fakeSignal{}, "r1", "alice", false)
	require.Error(t, err)
}

// slowEngine blocks NewRouter until the context expires.
type slowEngine struct {
	delay time.Duration
}

func (e *slowEngine) NewRouter(ctx context.Context, _ []core.CodecCapability) (core.MediaRouter, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(e.delay):
		return nil, errors.New("unexpected: context did not expire")
	}
}

func routerCloses(r *fakeRouter) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeCount
}
