package app

import "github.com/huddlelabs/huddle/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropNotification
	KickPeer
)

// Policy decides what happens to a peer whose signal connection cannot keep
// up with notification fan-out.
type Policy interface {
	OnBackpressure(connID core.ConnectionID) BackpressureAction
}

// KickSlowPeers disconnects a peer as soon as a push cannot be queued. A
// peer that misses topology notifications would hold a stale view of the
// room forever.
type KickSlowPeers struct{}

func (KickSlowPeers) OnBackpressure(core.ConnectionID) BackpressureAction {
	return KickPeer
}
