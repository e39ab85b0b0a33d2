package core

// Frame is a raw binary payload ready for the wire.
type Frame []byte

// ConnectionID identifies one client connection for its whole lifetime.
type ConnectionID string

// SignalConnection abstracts the system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
