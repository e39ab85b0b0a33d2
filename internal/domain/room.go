package domain

type RoomName string

// NewRoomName validates and wraps a raw room name.
func NewRoomName(raw string) (RoomName, error) {
	if len(raw) == 0 {
		return "", ErrRoomNameEmpty
	}
	if len(raw) > MaxRoomNameLen {
		return "", ErrRoomNameTooLong
	}
	return RoomName(raw), nil
}

// MediaKind is the media type of a producer.
type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

// NewMediaKind validates a raw kind string.
func NewMediaKind(raw string) (MediaKind, error) {
	switch MediaKind(raw) {
	case MediaKindAudio, MediaKindVideo:
		return MediaKind(raw), nil
	}
	return "", ErrBadMediaKind
}
