package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/huddlelabs/huddle/internal/core"
	"github.com/huddlelabs/huddle/internal/domain"
)

type peerEntry struct {
	connID     core.ConnectionID
	room       domain.RoomName
	identity   domain.Identity
	privileged bool
	// joined flips after the join reply was queued on the peer's signal
	// connection; fan-out skips peers that are not joined yet.
	joined bool
	signal core.SignalConnection

	transportIDs []string
	producerIDs  []string
	consumerIDs  []string
}

// PeerSnapshot is a read-only copy handed out for fan-out iteration.
type PeerSnapshot struct {
	ConnID     core.ConnectionID
	Room       domain.RoomName
	Identity   domain.Identity
	Privileged bool
	Signal     core.SignalConnection
}

// PeerRegistry owns per-connection state: identity, room, role flag, the
// signal connection, and the id lists of owned media resources.
type PeerRegistry struct {
	mu    sync.RWMutex
	peers map[core.ConnectionID]*peerEntry
}

func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{peers: make(map[core.ConnectionID]*peerEntry)}
}

func (r *PeerRegistry) Register(connID core.ConnectionID, room domain.RoomName, identity domain.Identity, privileged bool, sig core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[connID] = &peerEntry{
		connID:     connID,
		room:       room,
		identity:   identity,
		privileged: privileged,
		signal:     sig,
	}
	log.Info().Str("module", "app.peers").Str("conn", string(connID)).Str("room", string(room)).Str("identity", string(identity)).Msg("peer registered")
}

// MarkJoined makes the peer eligible for fan-out traffic. Called by the
// signal adapter after the join reply was queued, so no notification can be
// observed before the peer's own join reply.
func (r *PeerRegistry) MarkJoined(connID core.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.peers[connID]; ok {
		e.joined = true
	}
}

func (r *PeerRegistry) Get(connID core.ConnectionID) (PeerSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.peers[connID]
	if !ok {
		return PeerSnapshot{}, false
	}
	return snapshotOf(e), true
}

// JoinedMembersOfRoom snapshots every joined peer of a room under one read
// lock, so a concurrent disconnect cannot tear the iteration.
func (r *PeerRegistry) JoinedMembersOfRoom(room domain.RoomName) []PeerSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PeerSnapshot, 0, len(r.peers))
	for _, e := range r.peers {
		if e.room == room && e.joined {
			out = append(out, snapshotOf(e))
		}
	}
	return out
}

func (r *PeerRegistry) addTransportID(connID core.ConnectionID, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.peers[connID]; ok {
		e.transportIDs = append(e.transportIDs, id)
	}
}

func (r *PeerRegistry) addProducerID(connID core.ConnectionID, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.peers[connID]; ok {
		e.producerIDs = append(e.producerIDs, id)
	}
}

func (r *PeerRegistry) addConsumerID(connID core.ConnectionID, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.peers[connID]; ok {
		e.consumerIDs = append(e.consumerIDs, id)
	}
}

func (r *PeerRegistry) DropTransportID(connID core.ConnectionID, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.peers[connID]; ok {
		e.transportIDs = without(e.transportIDs, id)
	}
}

func (r *PeerRegistry) DropProducerID(connID core.ConnectionID, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.peers[connID]; ok {
		e.producerIDs = without(e.producerIDs, id)
	}
}

func (r *PeerRegistry) DropConsumerID(connID core.ConnectionID, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.peers[connID]; ok {
		e.consumerIDs = without(e.consumerIDs, id)
	}
}

// Remove deletes the peer and returns its last snapshot.
func (r *PeerRegistry) Remove(connID core.ConnectionID) (PeerSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[connID]
	if !ok {
		return PeerSnapshot{}, false
	}
	delete(r.peers, connID)
	log.Info().Str("module", "app.peers").Str("conn", string(connID)).Msg("peer removed")
	return snapshotOf(e), true
}

func snapshotOf(e *peerEntry) PeerSnapshot {
	return PeerSnapshot{
		ConnID:     e.connID,
		Room:       e.room,
		Identity:   e.identity,
		Privileged: e.privileged,
		Signal:     e.signal,
	}
}

func without(ids []string, id string) []string {
	if id == "" {
		return ids
	}
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
