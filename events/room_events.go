package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"
)

// RoomActivityEvent is emitted on room lifecycle transitions.
type RoomActivityEvent struct {
	Room      string    `json:"room"`
	Creator   string    `json:"creator"`
	Username  string    `json:"username,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MediaUploadedEvent is emitted when an asynchronous upload has been written.
type MediaUploadedEvent struct {
	AppSessionID string    `json:"app_session_id"`
	Username     string    `json:"username"`
	ItemNumber   int64     `json:"item_number"`
	Kind         string    `json:"kind"`
	Timestamp    time.Time `json:"timestamp"`
}

// Event definitions for the chat room domain.
var (
	RoomOpenedV1 = helper.EventDefinition[RoomActivityEvent](
		"coordinator",
		"RoomOpened",
		"v1",
	)

	RoomClosedV1 = helper.EventDefinition[RoomActivityEvent](
		"coordinator",
		"RoomClosed",
		"v1",
	)

	ParticipantJoinedV1 = helper.EventDefinition[RoomActivityEvent](
		"coordinator",
		"ParticipantJoined",
		"v1",
	)

	ParticipantLeftV1 = helper.EventDefinition[RoomActivityEvent](
		"coordinator",
		"ParticipantLeft",
		"v1",
	)

	MediaUploadedV1 = helper.EventDefinition[MediaUploadedEvent](
		"media",
		"MediaUploaded",
		"v1",
	)
)
