package storage

import (
	"time"

	"github.com/example/chatroom-coordinator/domain/chat"
	"github.com/example/chatroom-coordinator/domain/user"
)

// AccountRecord is a registered chat user.
type AccountRecord struct {
	Username     string `gorm:"primaryKey;type:text"`
	FirstName    string `gorm:"type:text"`
	LastName     string `gorm:"type:text"`
	PasswordHash string `gorm:"not null;type:text"`
	Role         string `gorm:"not null;type:text;default:user"`
	Activated    bool   `gorm:"not null;default:false"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName returns the table name for AccountRecord.
func (AccountRecord) TableName() string {
	return "accounts"
}

// ToUser converts the record to the domain user.
func (a AccountRecord) ToUser() *user.User {
	display := a.Username
	if a.FirstName != "" || a.LastName != "" {
		display = trimJoin(a.FirstName, a.LastName)
	}
	return &user.User{
		Username:    a.Username,
		DisplayName: display,
		Role:        a.Role,
		Activated:   a.Activated,
	}
}

// SignInRecord journals a sign-in.
type SignInRecord struct {
	ID         uint      `gorm:"primaryKey"`
	Username   string    `gorm:"index;not null;type:text"`
	SignedInAt time.Time `gorm:"index;not null"`
}

// TableName returns the table name for SignInRecord.
func (SignInRecord) TableName() string {
	return "sign_ins"
}

// SignOutRecord journals a sign-out.
type SignOutRecord struct {
	ID          uint      `gorm:"primaryKey"`
	Username    string    `gorm:"index;not null;type:text"`
	SignedOutAt time.Time `gorm:"index;not null"`
}

// TableName returns the table name for SignOutRecord.
func (SignOutRecord) TableName() string {
	return "sign_outs"
}

// RoomRecord is the persisted ownership of a room name.
type RoomRecord struct {
	Name      string `gorm:"primaryKey;type:text"`
	Creator   string `gorm:"index;not null;type:text"`
	CreatedAt time.Time
}

// TableName returns the table name for RoomRecord.
func (RoomRecord) TableName() string {
	return "rooms"
}

// ToRoom converts the record to the domain room.
func (r RoomRecord) ToRoom() *chat.Room {
	return &chat.Room{Name: r.Name, Creator: r.Creator, CreatedAt: r.CreatedAt}
}

// MessageRecord is one stored chat message. Times are kept in UTC.
type MessageRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Room      string    `gorm:"index:idx_messages_room_written;not null;type:text"`
	Author    string    `gorm:"index;type:text"`
	Event     string    `gorm:"not null;type:text"`
	Body      string    `gorm:"type:text"`
	Kind      string    `gorm:"not null;type:text;default:text"`
	WrittenAt time.Time `gorm:"index:idx_messages_room_written;not null"`
}

// TableName returns the table name for MessageRecord.
func (MessageRecord) TableName() string {
	return "messages"
}

func newMessageRecord(msg chat.ChatMessage) *MessageRecord {
	written := msg.Timestamp
	if written.IsZero() {
		written = time.Now()
	}
	return &MessageRecord{
		Room:      msg.Room,
		Author:    msg.Author,
		Event:     string(msg.Event),
		Body:      msg.Body,
		Kind:      msg.Kind.String(),
		WrittenAt: written.UTC(),
	}
}

// ToMessage converts the record back to a chat message.
func (m MessageRecord) ToMessage() chat.ChatMessage {
	kind, err := chat.ParseMediaKind(m.Kind)
	if err != nil {
		kind = chat.MediaText
	}
	return chat.ChatMessage{
		Event:     chat.Event(m.Event),
		Author:    m.Author,
		Room:      m.Room,
		Timestamp: m.WrittenAt.UTC(),
		Body:      m.Body,
		Kind:      kind,
	}
}

func trimJoin(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}

// allRecords lists every model migrated by the module.
func allRecords() []any {
	return []any{
		&AccountRecord{},
		&SignInRecord{},
		&SignOutRecord{},
		&RoomRecord{},
		&MessageRecord{},
	}
}
