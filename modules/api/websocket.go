package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/example/chatroom-coordinator/domain/chat"
	"github.com/example/chatroom-coordinator/modules/auth"
	"github.com/example/chatroom-coordinator/modules/broadcast"
	"github.com/example/chatroom-coordinator/modules/coordinator"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

const (
	// Inbound frame rate per connection.
	frameRate  = 10
	frameBurst = 20

	maxFrameSize = 64 * 1024
	sendBuffer   = 128
)

func (h *Handlers) registerSocketRoutes(app *fiber.App) {
	ws := app.Group("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}, h.requireSession)

	ws.Get("/lobby", websocket.New(h.handleLobby))
	ws.Get("/chatroom/:room/:username/:role", h.checkSocketOwner, websocket.New(h.handleChatroom))
}

// checkSocketOwner refuses a chat room upgrade for another user's name.
func (h *Handlers) checkSocketOwner(c *fiber.Ctx) error {
	if c.Params("username") != session(c).Username {
		return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{
			Error:   "forbidden",
			Message: "Session does not belong to this user",
		})
	}
	role := c.Params("role")
	if role != chat.RoleHost && role != chat.RoleGuest {
		return badRequest(c, "Role must be host or guest")
	}
	return c.Next()
}

// frame is a parsed inbound chat room frame.
type frame struct {
	exit bool
	body string
}

// parseFrame interprets an inbound text frame. A frame starting with the
// exit token leaves the room; otherwise an optional chat token prefix is
// stripped and the rest is the message body.
func parseFrame(text string) frame {
	if strings.HasPrefix(text, chat.ExitToken) {
		return frame{exit: true}
	}
	return frame{body: strings.TrimPrefix(text, chat.ChatToken)}
}

// handleChatroom serves /ws/chatroom/:room/:username/:role.
func (h *Handlers) handleChatroom(c *websocket.Conn) {
	room := c.Params("room")
	username := c.Params("username")
	role := c.Params("role")

	client := broadcast.NewClient(c, username, sendBuffer)
	client.Start()
	defer func() {
		client.Close()
		client.Wait()
		log.Printf("[api] Chat room connection closed: %s (%s) in %s", client.ID(), username, room)
	}()

	ctx := context.Background()
	var err error
	if role == chat.RoleHost {
		err = h.rooms.OpenRoom(ctx, client, room, username)
	} else {
		err = h.rooms.JoinRoom(ctx, client, room, username)
	}
	if err != nil {
		if coordinator.StatusCode(err) == coordinator.CodeInternal {
			log.Printf("[api] Failed to enter room %s as %s: %v", room, username, err)
		}
		sendNotice(client, room, err)
		// A failed open can still leave the connection bound to the user.
		_ = h.rooms.LeaveRoom(ctx, client)
		return
	}
	log.Printf("[api] %s connected to room %s as %s", username, room, role)

	h.readFrames(ctx, c, client)

	if err := h.rooms.LeaveRoom(ctx, client); err != nil {
		log.Printf("[api] Leave for %s in %s failed: %v", username, room, err)
	}
}

// readFrames runs the inbound loop until the client exits or disconnects.
func (h *Handlers) readFrames(ctx context.Context, c *websocket.Conn, client *broadcast.Client) {
	c.SetReadLimit(maxFrameSize)
	limiter := rate.NewLimiter(rate.Limit(frameRate), frameBurst)

	for client.IsOpen() {
		_, data, err := c.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[api] Read error from %s: %v", client.ID(), err)
			}
			return
		}

		if !limiter.Allow() {
			sendNotice(client, "", errTooManyMessages)
			continue
		}

		f := parseFrame(string(data))
		if f.exit {
			return
		}

		err = h.rooms.ContinueConversation(ctx, client, f.body, chat.MediaText)
		if errors.Is(err, coordinator.ErrSessionNotFound) {
			return
		}
		if err != nil && coordinator.StatusCode(err) == coordinator.CodeInternal {
			log.Printf("[api] Message from %s not stored: %v", client.ID(), err)
		}
	}
}

var errTooManyMessages = errors.New("you are sending messages too quickly")

// sendNotice writes a direct notice to one client.
func sendNotice(client *broadcast.Client, room string, err error) {
	body := err.Error()
	if coordinator.StatusCode(err) == coordinator.CodeInternal && !errors.Is(err, errTooManyMessages) {
		body = "The chat room is unavailable right now."
	}
	data, merr := json.Marshal(chat.ChatMessage{
		Event:     chat.EventNotice,
		Room:      room,
		Timestamp: time.Now().UTC(),
		Body:      body,
		Kind:      chat.MediaText,
	})
	if merr != nil {
		return
	}
	_ = client.Send(data)
}

// handleLobby serves /ws/lobby: a feed of room lifecycle updates.
func (h *Handlers) handleLobby(c *websocket.Conn) {
	username := ""
	if claims, ok := c.Locals(localsSession).(*auth.SessionClaims); ok {
		username = claims.Username
	}
	client := broadcast.NewClient(c, username, sendBuffer)
	client.Start()
	h.hub.Register(client)
	defer func() {
		h.hub.Unregister(client)
		client.Close()
		client.Wait()
	}()

	// Lobby clients only listen; reading detects disconnects.
	for client.IsOpen() {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}
