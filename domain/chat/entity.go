package chat

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Reserved tokens at the start of inbound websocket frames.
const (
	ExitToken = "userExit"
	ChatToken = "chatMessage"
)

// Connection roles taken from the /ws/chatroom/{room}/{user}/{role} path.
const (
	RoleHost  = "host"
	RoleGuest = "guest"
)

// MediaKind tags the content of a chat message.
type MediaKind int

const (
	MediaText MediaKind = iota
	MediaImage
	MediaVideo
)

// String returns the wire name of the media kind.
func (k MediaKind) String() string {
	switch k {
	case MediaText:
		return "text"
	case MediaImage:
		return "image"
	case MediaVideo:
		return "video"
	default:
		return "unknown"
	}
}

// ParseMediaKind converts a wire name into a MediaKind.
func ParseMediaKind(s string) (MediaKind, error) {
	switch s {
	case "text", "":
		return MediaText, nil
	case "image":
		return MediaImage, nil
	case "video":
		return MediaVideo, nil
	default:
		return MediaText, fmt.Errorf("unknown media kind %q", s)
	}
}

// MarshalJSON encodes the kind as its wire name.
func (k MediaKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a wire name.
func (k *MediaKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseMediaKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Event classifies a chat message for clients.
type Event string

const (
	EventOpened  Event = "opened"
	EventJoined  Event = "joined"
	EventMessage Event = "message"
	EventLeft    Event = "left"
	EventClosed  Event = "closed"
	EventNotice  Event = "notice"
)

// ChatMessage is an immutable message produced for every room event.
type ChatMessage struct {
	Event     Event     `json:"event"`
	Author    string    `json:"author,omitempty"`
	Room      string    `json:"room,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Body      string    `json:"body"`
	Kind      MediaKind `json:"kind"`
}

// IsSystem reports whether the message was generated by the server.
func (m ChatMessage) IsSystem() bool {
	return m.Event != EventMessage
}

// Room is the persisted identity of a chat room.
type Room struct {
	Name      string    `json:"name"`
	Creator   string    `json:"creator"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationSummary identifies one day of activity in one room.
type ConversationSummary struct {
	Index int       `json:"index"`
	Day   time.Time `json:"day"`
	Room  string    `json:"room"`
}

// MediaReference builds the body of a message pointing at an uploaded item.
func MediaReference(username string, itemNumber int64, kind MediaKind) string {
	n := strconv.FormatInt(itemNumber, 10)
	switch kind {
	case MediaImage:
		return "/api/v1/media/images/" + username + "/" + n
	case MediaVideo:
		return "/api/v1/media/videos/" + username + "/" + n
	default:
		return ""
	}
}
