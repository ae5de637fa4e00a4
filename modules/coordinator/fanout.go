package coordinator

import (
	"encoding/json"

	"github.com/example/chatroom-coordinator/domain/chat"
	"github.com/go-monolith/mono/pkg/types"
)

// Fanout serialises chat messages and delivers them to connections.
// A failed delivery is logged and never stops the remaining ones.
type Fanout struct {
	logger types.Logger
}

// NewFanout creates a Fanout that logs delivery failures to logger.
func NewFanout(logger types.Logger) *Fanout {
	return &Fanout{logger: logger}
}

// Send delivers msg to a single connection.
func (f *Fanout) Send(conn Conn, msg chat.ChatMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		f.logger.Error("Failed to encode chat message", "error", err, "room", msg.Room)
		return false
	}
	return f.deliver(conn, data)
}

// SendToGroup delivers msg to every connection of group in order and
// returns how many deliveries succeeded.
func (f *Fanout) SendToGroup(group ParticipantGroup, msg chat.ChatMessage) int {
	data, err := json.Marshal(msg)
	if err != nil {
		f.logger.Error("Failed to encode chat message", "error", err, "room", msg.Room)
		return 0
	}

	delivered := 0
	for _, conn := range group {
		if f.deliver(conn, data) {
			delivered++
		}
	}
	return delivered
}

func (f *Fanout) deliver(conn Conn, data []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Panic while sending to connection", "conn", conn.ID(), "panic", r)
			ok = false
		}
	}()

	if err := conn.Send(data); err != nil {
		f.logger.Warn("Failed to send to connection", "conn", conn.ID(), "error", err)
		return false
	}
	return true
}
