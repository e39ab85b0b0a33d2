// Package domain contains entity value types without logic, just meta-data
// and validation limits.
package domain

const (
	MaxIdentityLen = 36
	MaxRoomNameLen = 36
)

// Identity is the logical user behind a connection. Two connections carrying
// the same Identity in the same room are a duplicate login.
type Identity string

// NewIdentity validates and wraps a raw identity string.
func NewIdentity(raw string) (Identity, error) {
	if len(raw) == 0 {
		return "", ErrIdentityEmpty
	}
	if len(raw) > MaxIdentityLen {
		return "", ErrIdentityTooLong
	}
	return Identity(raw), nil
}
