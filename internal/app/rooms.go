package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/huddlelabs/huddle/internal/core"
	"github.com/huddlelabs/huddle/internal/domain"
)

type roomEntry struct {
	name       domain.RoomName
	members    map[core.ConnectionID]domain.Identity
	identities map[domain.Identity]core.ConnectionID

	// createMu gates lazy router creation so only the first joiner pays
	// the engine call; the registry lock is never held across it.
	createMu sync.Mutex
	router   core.MediaRouter
}

// RoomRegistry owns the room name -> {router, member set, identity set}
// mapping. Routers are created lazily on first join and reused until the
// last member leaves.
type RoomRegistry struct {
	engine core.MediaEngine
	codecs []core.CodecCapability

	mu    sync.RWMutex
	rooms map[domain.RoomName]*roomEntry
}

func NewRoomRegistry(engine core.MediaEngine, codecs []core.CodecCapability) *RoomRegistry {
	return &RoomRegistry{
		engine: engine,
		codecs: codecs,
		rooms:  make(map[domain.RoomName]*roomEntry),
	}
}

// JoinOrCreate registers identity/connID in the room, creating the room and
// its router on first join. The duplicate-identity check and the
// registration are a single atomic step; a duplicate join registers nothing.
func (r *RoomRegistry) JoinOrCreate(ctx context.Context, name domain.RoomName, identity domain.Identity, connID core.ConnectionID) (core.MediaRouter, bool, error) {
	r.mu.Lock()
	e, ok := r.rooms[name]
	if !ok {
		e = &roomEntry{
			name:       name,
			members:    make(map[core.ConnectionID]domain.Identity),
			identities: make(map[domain.Identity]core.ConnectionID),
		}
		r.rooms[name] = e
	}
	if _, dup := e.identities[identity]; dup {
		r.mu.Unlock()
		return nil, true, nil
	}
	e.identities[identity] = connID
	e.members[connID] = identity
	r.mu.Unlock()

	router, err := e.getOrCreateRouter(ctx, r.engine, r.codecs)
	if err != nil {
		r.Leave(name, connID, identity)
		return nil, false, fmt.Errorf("create router for room %q: %w", name, err)
	}
	log.Info().Str("module", "app.rooms").Str("room", string(name)).Str("conn", string(connID)).Msg("member joined")
	return router, false, nil
}

func (e *roomEntry) getOrCreateRouter(ctx context.Context, engine core.MediaEngine, codecs []core.CodecCapability) (core.MediaRouter, error) {
	e.createMu.Lock()
	defer e.createMu.Unlock()
	if e.router != nil {
		return e.router, nil
	}
	router, err := engine.NewRouter(ctx, codecs)
	if err != nil {
		return nil, err
	}
	e.router = router
	log.Info().Str("module", "app.rooms").Str("room", string(e.name)).Str("router", router.ID()).Msg("router created")
	return router, nil
}

// Router returns the room's router, if the room exists and has one.
func (r *RoomRegistry) Router(name domain.RoomName) (core.MediaRouter, bool) {
	r.mu.RLock()
	e, ok := r.rooms[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e.createMu.Lock()
	defer e.createMu.Unlock()
	if e.router == nil {
		return nil, false
	}
	return e.router, true
}

// Leave removes membership and identity. When the last member leaves, the
// room entry is deleted and its router closed.
func (r *RoomRegistry) Leave(name domain.RoomName, connID core.ConnectionID, identity domain.Identity) {
	r.mu.Lock()
	e, ok := r.rooms[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(e.members, connID)
	if owner, ok := e.identities[identity]; ok && owner == connID {
		delete(e.identities, identity)
	}
	empty := len(e.members) == 0
	if empty {
		delete(r.rooms, name)
	}
	r.mu.Unlock()

	log.Info().Str("module", "app.rooms").Str("room", string(name)).Str("conn", string(connID)).Msg("member left")
	if empty {
		e.createMu.Lock()
		router := e.router
		e.router = nil
		e.createMu.Unlock()
		if router != nil {
			router.Close()
			log.Info().Str("module", "app.rooms").Str("room", string(name)).Msg("room empty, router closed")
		}
	}
}

// MemberIDs returns a snapshot of the room's member connection ids.
func (r *RoomRegistry) MemberIDs(name domain.RoomName) []core.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.rooms[name]
	if !ok {
		return nil
	}
	out := make([]core.ConnectionID, 0, len(e.members))
	for id := range e.members {
		out = append(out, id)
	}
	return out
}

// RoomInfo is a read-only view for APIs.
type RoomInfo struct {
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"member_count"`
}

func (r *RoomRegistry) List() []RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RoomInfo, 0, len(r.rooms))
	for name, e := range r.rooms {
		out = append(out, RoomInfo{Name: name, MemberCount: len(e.members)})
	}
	return out
}
