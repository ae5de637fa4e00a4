package chat

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseMediaKind(t *testing.T) {
	tests := []struct {
		in      string
		want    MediaKind
		wantErr bool
	}{
		{in: "text", want: MediaText},
		{in: "", want: MediaText},
		{in: "image", want: MediaImage},
		{in: "video", want: MediaVideo},
		{in: "audio", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMediaKind(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMediaKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseMediaKind(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestChatMessageJSON(t *testing.T) {
	msg := ChatMessage{
		Event:     EventMessage,
		Author:    "alice",
		Room:      "book-club",
		Timestamp: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		Body:      "/api/v1/media/images/alice/3",
		Kind:      MediaImage,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"kind":"image"`) {
		t.Errorf("kind not encoded by name: %s", data)
	}

	var decoded ChatMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !decoded.Timestamp.Equal(msg.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", decoded.Timestamp, msg.Timestamp)
	}
	decoded.Timestamp = msg.Timestamp
	if decoded != msg {
		t.Errorf("decoded = %+v, want %+v", decoded, msg)
	}

	if err := json.Unmarshal([]byte(`{"kind":"hologram"}`), &decoded); err == nil {
		t.Error("expected an error for an unknown kind")
	}
}

func TestChatMessage_IsSystem(t *testing.T) {
	for _, ev := range []Event{EventOpened, EventJoined, EventLeft, EventClosed, EventNotice} {
		if !(ChatMessage{Event: ev}).IsSystem() {
			t.Errorf("%s should be a system message", ev)
		}
	}
	if (ChatMessage{Event: EventMessage}).IsSystem() {
		t.Error("a user message is not a system message")
	}
}

func TestMediaReference(t *testing.T) {
	tests := []struct {
		kind MediaKind
		want string
	}{
		{kind: MediaImage, want: "/api/v1/media/images/alice/7"},
		{kind: MediaVideo, want: "/api/v1/media/videos/alice/7"},
		{kind: MediaText, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := MediaReference("alice", 7, tt.kind); got != tt.want {
				t.Errorf("MediaReference() = %q, want %q", got, tt.want)
			}
		})
	}
}
