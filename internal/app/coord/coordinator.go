// Package coord implements the signaling session coordinator: it turns
// client requests into media-engine calls and table updates, and fans out
// topology-change notifications to the affected peers.
package coord

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/huddlelabs/huddle/internal/app"
	"github.com/huddlelabs/huddle/internal/core"
	"github.com/huddlelabs/huddle/internal/domain"
)

// Push notification methods.
const (
	MethodNewRemoteProducer    = "newRemoteProducer"
	MethodRemoteProducerClosed = "remoteProducerClosed"
)

// Notifier encodes and queues an unsolicited push on a peer's signal
// connection. Implemented by the signal adapter; the coordinator decides who
// gets notified, the adapter decides how it looks on the wire.
type Notifier interface {
	Push(conn core.SignalConnection, method string, payload any) error
}

// NewProducerPayload announces a new remote producer to a room member.
type NewProducerPayload struct {
	ProducerID string           `json:"producerId"`
	Identity   domain.Identity  `json:"identity"`
	Kind       domain.MediaKind `json:"kind"`
}

// ProducerClosedPayload tells a member a remote producer went away.
type ProducerClosedPayload struct {
	ProducerID string `json:"producerId"`
}

// Coordinator handles every inbound client request against the session
// store, issues media-engine calls and pushes topology notifications.
// Safe for concurrent use across connection handlers.
type Coordinator struct {
	store         *app.Store
	notifier      Notifier
	policy        app.Policy
	engineTimeout time.Duration
}

func New(store *app.Store, notifier Notifier, policy app.Policy, engineTimeout time.Duration) *Coordinator {
	return &Coordinator{
		store:         store,
		notifier:      notifier,
		policy:        policy,
		engineTimeout: engineTimeout,
	}
}

// engineCtx bounds a media-engine call so a stuck engine surfaces an error
// to the requester instead of hanging the session.
func (c *Coordinator) engineCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.engineTimeout)
}

// fanout pushes one notification to every joined member of a room except
// the originator and anyone in skip. Iterates a snapshot, so concurrent
// joins/disconnects cannot tear it. Backpressure is delegated to the policy.
func (c *Coordinator) fanout(room domain.RoomName, except core.ConnectionID, skip map[core.ConnectionID]bool, method string, payload any) {
	for _, peer := range c.store.Peers.JoinedMembersOfRoom(room) {
		if peer.ConnID == except || skip[peer.ConnID] {
			continue
		}
		if err := c.notifier.Push(peer.Signal, method, payload); err != nil {
			log.Warn().Str("module", "coord").Str("conn", string(peer.ConnID)).Str("method", method).Err(err).Msg("push failed")
			if c.policy != nil && c.policy.OnBackpressure(peer.ConnID) == app.KickPeer {
				c.teardown(peer.ConnID)
				peer.Signal.Close()
			}
		}
	}
}

// failInvariant handles an internal invariant violation: log loudly, tear
// the offending session down, leave everyone else alone.
func (c *Coordinator) failInvariant(connID core.ConnectionID, err error) {
	log.Error().Str("module", "coord").Str("conn", string(connID)).Err(err).Msg("invariant violation, tearing session down")
	peer, ok := c.store.Peers.Get(connID)
	c.teardown(connID)
	if ok {
		peer.Signal.Close()
	}
}

// checkInvariant tears the session down when err is an invariant violation
// and returns err unchanged either way.
func (c *Coordinator) checkInvariant(connID core.ConnectionID, err error) error {
	if err != nil && errors.Is(err, domain.ErrInvariant) {
		c.failInvariant(connID, err)
	}
	return err
}
