package domain

import "errors"

// Error taxonomy for signaling requests. Handlers classify every failure into
// one of these so the wire reply carries a stable code; Is-chains work through
// wrapped errors.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrEngineRejected    = errors.New("media engine rejected request")
	ErrDuplicateIdentity = errors.New("identity already present in room")
	ErrInvariant         = errors.New("internal invariant violation")
)

// Validation sentinels, all classified under ErrValidation.
var (
	ErrIdentityEmpty   = errors.New("identity empty")
	ErrIdentityTooLong = errors.New("identity too long")
	ErrRoomNameEmpty   = errors.New("room name empty")
	ErrRoomNameTooLong = errors.New("room name too long")
	ErrBadMediaKind    = errors.New("media kind must be audio or video")
)

// ErrorCode maps an error to the stable wire code sent in a reply.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDuplicateIdentity):
		return "duplicate_identity"
	case errors.Is(err, ErrEngineRejected):
		return "engine_rejected"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvariant):
		return "internal_error"
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrIdentityEmpty),
		errors.Is(err, ErrIdentityTooLong),
		errors.Is(err, ErrRoomNameEmpty),
		errors.Is(err, ErrRoomNameTooLong),
		errors.Is(err, ErrBadMediaKind):
		return "bad_request"
	default:
		return "internal_error"
	}
}
