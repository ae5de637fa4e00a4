package api

import (
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/example/chatroom-coordinator/domain/chat"
	"github.com/example/chatroom-coordinator/domain/user"
	"github.com/example/chatroom-coordinator/modules/auth"
	"github.com/example/chatroom-coordinator/modules/broadcast"
	"github.com/example/chatroom-coordinator/modules/coordinator"
	"github.com/example/chatroom-coordinator/modules/media"
	"github.com/example/chatroom-coordinator/modules/storage"
	"github.com/gofiber/fiber/v2"
)

const (
	localsSession = "session"
	dayLayout     = "2006-01-02"
)

// Handlers serves the HTTP and websocket routes.
type Handlers struct {
	accounts Accounts
	sessions auth.AuthPort
	lobby    coordinator.CoordinatorPort
	rooms    Rooms
	history  History
	media    Media
	hub      *broadcast.Hub
	stageDir string

	signInLimiter fiber.Handler
}

// registerRoutes configures all HTTP routes.
func (h *Handlers) registerRoutes(app *fiber.App) {
	app.Get("/health", h.healthHandler)

	h.registerSocketRoutes(app)

	api := app.Group("/api/v1")

	api.Post("/accounts", h.register)
	api.Put("/accounts/:username/activation", h.requireSession, requireRole(user.RoleAdmin), h.setActivation)

	api.Post("/sessions", h.signInLimiter, h.signIn)
	api.Delete("/sessions", h.signOut)

	api.Get("/rooms", h.requireSession, h.listRooms)
	api.Post("/rooms/host", h.requireSession, h.preflightHost)
	api.Post("/rooms/guest", h.requireSession, h.preflightGuest)

	api.Get("/conversations", h.requireSession, h.listConversations)
	api.Get("/conversations/:day/:room", h.requireSession, h.getConversation)

	api.Post("/media", h.requireSession, h.upload)
	api.Get("/media/images/:username/:n", h.requireSession, h.serveMedia(chat.MediaImage))
	api.Get("/media/videos/:username/:n", h.requireSession, h.serveMedia(chat.MediaVideo))
}

// healthHandler handles GET /health.
func (h *Handlers) healthHandler(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status: "healthy",
		Details: map[string]any{
			"module":        "api",
			"lobby_clients": h.hub.ClientCount(),
		},
	})
}

// requireSession validates the bearer token and stores its claims.
func (h *Handlers) requireSession(c *fiber.Ctx) error {
	token := bearerToken(c)
	if token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Error:   "unauthorized",
			Message: "Missing session token",
		})
	}

	claims, err := h.sessions.ValidateToken(c.UserContext(), token)
	if err != nil {
		return writeError(c, err)
	}
	c.Locals(localsSession, claims)
	return c.Next()
}

func requireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if session(c).Role != role {
			return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{
				Error:   "forbidden",
				Message: "Insufficient permissions",
			})
		}
		return c.Next()
	}
}

// bearerToken reads the session token from the Authorization header or,
// for websocket upgrades, the token query parameter.
func bearerToken(c *fiber.Ctx) string {
	if header := c.Get(fiber.HeaderAuthorization); header != "" {
		const prefix = "Bearer "
		if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
			return strings.TrimSpace(header[len(prefix):])
		}
		return ""
	}
	return c.Query("token")
}

func session(c *fiber.Ctx) *auth.SessionClaims {
	claims, _ := c.Locals(localsSession).(*auth.SessionClaims)
	if claims == nil {
		return &auth.SessionClaims{}
	}
	return claims
}

// register handles POST /api/v1/accounts.
func (h *Handlers) register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := coordinator.ValidateUsername(strings.TrimSpace(req.Username)); err != nil {
		return writeError(c, err)
	}

	u, err := h.accounts.Register(c.UserContext(), storage.Registration{
		Username:  req.Username,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(u)
}

// setActivation handles PUT /api/v1/accounts/:username/activation.
func (h *Handlers) setActivation(c *fiber.Ctx) error {
	var req ActivationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := h.accounts.Activate(c.UserContext(), c.Params("username"), req.Activated); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// signIn handles POST /api/v1/sessions.
func (h *Handlers) signIn(c *fiber.Ctx) error {
	var req SignInRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	s, err := h.sessions.SignIn(c.UserContext(), user.Credentials{Username: req.Username, Password: req.Password})
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(SessionResponse{
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
		User:      s.User,
	})
}

// signOut handles DELETE /api/v1/sessions.
func (h *Handlers) signOut(c *fiber.Ctx) error {
	token := bearerToken(c)
	if token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Error:   "unauthorized",
			Message: "Missing session token",
		})
	}
	if err := h.sessions.SignOut(c.UserContext(), token); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// listRooms handles GET /api/v1/rooms.
func (h *Handlers) listRooms(c *fiber.Ctx) error {
	rooms, err := h.lobby.ActiveRooms(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	if rooms == nil {
		rooms = []coordinator.RoomSnapshot{}
	}
	return c.JSON(RoomListResponse{Rooms: rooms})
}

// preflightHost handles POST /api/v1/rooms/host.
func (h *Handlers) preflightHost(c *fiber.Ctx) error {
	var req HostPreflightRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	username := session(c).Username
	if err := h.lobby.PreflightHost(c.UserContext(), username, req.Room, req.Invitees); err != nil {
		return writeError(c, err)
	}
	return c.JSON(preflightResponse(req.Room, username, chat.RoleHost))
}

// preflightGuest handles POST /api/v1/rooms/guest.
func (h *Handlers) preflightGuest(c *fiber.Ctx) error {
	var req GuestPreflightRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	username := session(c).Username
	if err := h.lobby.PreflightGuest(c.UserContext(), username, req.Room); err != nil {
		return writeError(c, err)
	}
	return c.JSON(preflightResponse(req.Room, username, chat.RoleGuest))
}

func preflightResponse(room, username, role string) PreflightResponse {
	return PreflightResponse{
		Room:      room,
		Role:      role,
		SocketURL: "/ws/chatroom/" + url.PathEscape(room) + "/" + url.PathEscape(username) + "/" + role,
	}
}

// listConversations handles GET /api/v1/conversations.
func (h *Handlers) listConversations(c *fiber.Ctx) error {
	conversations, err := h.history.FindConversations(c.UserContext(), session(c).Username)
	if err != nil {
		return writeError(c, err)
	}
	if conversations == nil {
		conversations = []chat.ConversationSummary{}
	}
	return c.JSON(ConversationListResponse{Conversations: conversations})
}

// getConversation handles GET /api/v1/conversations/:day/:room.
func (h *Handlers) getConversation(c *fiber.Ctx) error {
	day, err := time.ParseInLocation(dayLayout, c.Params("day"), time.UTC)
	if err != nil {
		return badRequest(c, "Day must be formatted as YYYY-MM-DD")
	}
	room := c.Params("room")
	if err := coordinator.ValidateRoomName(room); err != nil {
		return writeError(c, err)
	}

	// Only conversations the caller took part in can be read.
	conversations, err := h.history.FindConversations(c.UserContext(), session(c).Username)
	if err != nil {
		return writeError(c, err)
	}
	if !hasConversation(conversations, day, room) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error:   "conversation_not_found",
			Message: "Conversation not found",
		})
	}

	messages, err := h.history.FindMessages(c.UserContext(), day, room)
	if err != nil {
		return writeError(c, err)
	}
	if messages == nil {
		messages = []chat.ChatMessage{}
	}
	return c.JSON(MessageListResponse{
		Day:      day.Format(dayLayout),
		Room:     room,
		Messages: messages,
	})
}

func hasConversation(conversations []chat.ConversationSummary, day time.Time, room string) bool {
	want := day.Format(dayLayout)
	for _, conv := range conversations {
		if conv.Room == room && conv.Day.UTC().Format(dayLayout) == want {
			return true
		}
	}
	return false
}

// upload handles POST /api/v1/media. Images are stored and posted to the
// uploader's room right away; videos are written in the background and
// posted once complete.
func (h *Handlers) upload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "A file is required")
	}
	if file.Size == 0 {
		return writeError(c, media.ErrEmptyUpload)
	}
	kind, err := media.KindForContentType(file.Header.Get(fiber.HeaderContentType))
	if err != nil {
		return writeError(c, err)
	}

	claims := session(c)
	switch kind {
	case chat.MediaImage:
		n, err := h.saveImage(claims.Username, file)
		if err != nil {
			return writeError(c, err)
		}
		// The image is stored either way; a result that cannot be posted
		// to a room is dropped.
		if err := h.rooms.RelayUploadResult(c.UserContext(), claims.SessionID, n, kind); err != nil {
			log.Printf("[api] Image %d of %s not posted to a room: %v", n, claims.Username, err)
		}
		return c.Status(fiber.StatusCreated).JSON(UploadResponse{
			ItemNumber: n,
			Kind:       kind,
			Reference:  chat.MediaReference(claims.Username, n, kind),
		})
	default:
		staged, err := h.stage(c, file)
		if err != nil {
			return writeError(c, err)
		}
		n, err := h.media.UploadVideo(claims.SessionID, claims.Username, file.Filename, staged)
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(UploadResponse{
			ItemNumber: n,
			Kind:       kind,
			Reference:  chat.MediaReference(claims.Username, n, kind),
			Pending:    true,
		})
	}
}

func (h *Handlers) saveImage(username string, file *multipart.FileHeader) (int64, error) {
	src, err := file.Open()
	if err != nil {
		return 0, fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()
	return h.media.SaveImage(username, file.Filename, src)
}

// stage copies an upload to a temporary file that outlives the request.
// Closing the returned reader removes the file.
func (h *Handlers) stage(c *fiber.Ctx, file *multipart.FileHeader) (io.ReadCloser, error) {
	tmp, err := os.CreateTemp(h.stageDir, "upload-*"+filepath.Ext(file.Filename))
	if err != nil {
		return nil, fmt.Errorf("failed to stage upload: %w", err)
	}
	path := tmp.Name()
	tmp.Close()

	if err := c.SaveFile(file, path); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to stage upload: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to stage upload: %w", err)
	}
	return &stagedFile{File: f}, nil
}

type stagedFile struct {
	*os.File
}

func (s *stagedFile) Close() error {
	err := s.File.Close()
	os.Remove(s.File.Name())
	return err
}

// serveMedia handles GET /api/v1/media/{images|videos}/:username/:n.
func (h *Handlers) serveMedia(kind chat.MediaKind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		n, err := strconv.ParseInt(c.Params("n"), 10, 64)
		if err != nil || n < 1 {
			return badRequest(c, "Item number must be a positive integer")
		}
		path, err := h.media.Retrieve(kind, c.Params("username"), n)
		if err != nil {
			return writeError(c, err)
		}
		return c.SendFile(path)
	}
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error:   "invalid_request",
		Message: message,
	})
}

// writeError maps domain errors to HTTP responses.
func writeError(c *fiber.Ctx, err error) error {
	status, code := classify(err)
	message := err.Error()
	if status == fiber.StatusInternalServerError {
		message = "Internal Server Error"
	}
	return c.Status(status).JSON(ErrorResponse{
		Error:   code,
		Message: message,
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return fiber.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, auth.ErrExpiredToken):
		return fiber.StatusUnauthorized, "token_expired"
	case errors.Is(err, auth.ErrInvalidToken):
		return fiber.StatusUnauthorized, "invalid_token"
	case errors.Is(err, auth.ErrAccountNotActivated):
		return fiber.StatusForbidden, "account_not_activated"
	case errors.Is(err, storage.ErrUsernameTaken):
		return fiber.StatusConflict, "username_taken"
	case errors.Is(err, storage.ErrInvalidAccount):
		return fiber.StatusBadRequest, "invalid_account"
	case errors.Is(err, storage.ErrAccountNotFound):
		return fiber.StatusNotFound, "account_not_found"
	case errors.Is(err, media.ErrNotFound):
		return fiber.StatusNotFound, "media_not_found"
	case errors.Is(err, media.ErrUnsupportedType):
		return fiber.StatusUnsupportedMediaType, "unsupported_media_type"
	case errors.Is(err, media.ErrEmptyUpload), errors.Is(err, media.ErrInvalidOwner):
		return fiber.StatusBadRequest, "invalid_upload"
	case errors.Is(err, media.ErrStoreClosed), errors.Is(err, coordinator.ErrNotStarted):
		return fiber.StatusServiceUnavailable, "unavailable"
	}

	code := coordinator.StatusCode(err)
	switch code {
	case coordinator.CodeInvalid:
		return fiber.StatusBadRequest, "validation_error"
	case coordinator.CodeNotInvited:
		return fiber.StatusForbidden, code
	case coordinator.CodeAlreadyInUse, coordinator.CodeDuplicateRoomName:
		return fiber.StatusConflict, code
	case coordinator.CodeUserNotFound, coordinator.CodeRoomNotOpen,
		coordinator.CodeRoomNotActive, coordinator.CodeSessionNotFound:
		return fiber.StatusNotFound, code
	}
	return fiber.StatusInternalServerError, "server_error"
}
