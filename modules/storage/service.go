package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/example/chatroom-coordinator/domain/chat"
	"github.com/example/chatroom-coordinator/domain/user"
	"golang.org/x/sync/singleflight"
)

// ErrInvalidAccount is returned when registration data is incomplete.
var ErrInvalidAccount = errors.New("username and password are required")

// HistoryCache is the cache-aside store used for conversation history.
type HistoryCache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
}

// Registration is the data needed to create an account.
type Registration struct {
	Username  string
	Password  string
	FirstName string
	LastName  string
	Role      string
}

// Service implements account and room persistence on top of the repositories.
type Service struct {
	accounts *AccountRepository
	rooms    *RoomRepository
	hasher   *PasswordHasher
	cache    HistoryCache
	sfGroup  singleflight.Group // Prevents cache stampede
	now      func() time.Time
}

// NewService creates a new storage service. cache may be nil.
func NewService(accounts *AccountRepository, rooms *RoomRepository, hasher *PasswordHasher, cache HistoryCache) *Service {
	return &Service{
		accounts: accounts,
		rooms:    rooms,
		hasher:   hasher,
		cache:    cache,
		now:      time.Now,
	}
}

// Register creates a new, not yet activated account.
func (s *Service) Register(ctx context.Context, reg Registration) (*user.User, error) {
	reg.Username = strings.TrimSpace(reg.Username)
	if reg.Username == "" || reg.Password == "" {
		return nil, ErrInvalidAccount
	}

	exists, err := s.accounts.Exists(ctx, reg.Username)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrUsernameTaken
	}

	hash, err := s.hasher.Hash(reg.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	role := reg.Role
	if role != user.RoleAdmin {
		role = user.RoleUser
	}
	account := &AccountRecord{
		Username:     reg.Username,
		FirstName:    reg.FirstName,
		LastName:     reg.LastName,
		PasswordHash: hash,
		Role:         role,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, err
	}

	log.Printf("[storage] Registered account %s", account.Username)
	return account.ToUser(), nil
}

// EnsureAdmin creates an activated administrator account unless username is
// already registered. An existing account is activated but otherwise left
// untouched.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) error {
	_, err := s.Register(ctx, Registration{Username: username, Password: password, Role: user.RoleAdmin})
	if err != nil && !errors.Is(err, ErrUsernameTaken) {
		return err
	}
	return s.Activate(ctx, strings.TrimSpace(username), true)
}

// Activate flips the activation flag of an account.
func (s *Service) Activate(ctx context.Context, username string, activated bool) error {
	return s.accounts.SetActivated(ctx, username, activated)
}

// FindByUsername returns the account for username.
func (s *Service) FindByUsername(ctx context.Context, username string) (*user.User, error) {
	account, err := s.accounts.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return account.ToUser(), nil
}

// Authenticate checks a username and password pair.
func (s *Service) Authenticate(ctx context.Context, creds user.Credentials) (bool, error) {
	if creds.Username == "" || creds.Password == "" {
		return false, nil
	}
	account, err := s.accounts.FindByUsername(ctx, creds.Username)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return false, nil
		}
		return false, err
	}
	return s.hasher.Verify(creds.Password, account.PasswordHash), nil
}

// IsActivated reports whether the account may sign in.
func (s *Service) IsActivated(ctx context.Context, username string) (bool, error) {
	account, err := s.accounts.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return false, nil
		}
		return false, err
	}
	return account.Activated, nil
}

// RecordSignIn journals a sign-in transition.
func (s *Service) RecordSignIn(ctx context.Context, username string) (bool, error) {
	return s.accounts.RecordSignIn(ctx, username, s.now())
}

// RecordSignOut journals a sign-out transition.
func (s *Service) RecordSignOut(ctx context.Context, username string) (bool, error) {
	return s.accounts.RecordSignOut(ctx, username, s.now())
}

// GetOrCreateRoom returns the persisted owner record of a room name.
func (s *Service) GetOrCreateRoom(ctx context.Context, name, creator string) (*chat.Room, error) {
	room, err := s.rooms.GetOrCreate(ctx, name, creator, s.now())
	if err != nil {
		return nil, err
	}
	return room.ToRoom(), nil
}

// StoreMessage persists msg and drops the cached history it affects.
func (s *Service) StoreMessage(ctx context.Context, msg chat.ChatMessage) error {
	if err := s.rooms.StoreMessage(ctx, msg); err != nil {
		return err
	}
	if s.cache != nil {
		day := msg.Timestamp
		if day.IsZero() {
			day = s.now()
		}
		for _, key := range []string{messagesKey(day, msg.Room), conversationsKey(msg.Author)} {
			if err := s.cache.Delete(ctx, key); err != nil {
				log.Printf("[storage] Warning: failed to invalidate %s: %v", key, err)
			}
		}
	}
	return nil
}

// FindConversations lists the conversations of username (cache-aside).
func (s *Service) FindConversations(ctx context.Context, username string) ([]chat.ConversationSummary, error) {
	var conversations []chat.ConversationSummary
	err := s.cached(ctx, conversationsKey(username), &conversations, func() (any, error) {
		return s.rooms.Conversations(ctx, username)
	})
	return conversations, err
}

// FindMessages returns the messages of one room on one day (cache-aside).
func (s *Service) FindMessages(ctx context.Context, day time.Time, room string) ([]chat.ChatMessage, error) {
	var messages []chat.ChatMessage
	err := s.cached(ctx, messagesKey(day, room), &messages, func() (any, error) {
		return s.rooms.Messages(ctx, day, room)
	})
	return messages, err
}

// cached loads key into dest from the cache, or runs load through
// singleflight and populates the cache.
func (s *Service) cached(ctx context.Context, key string, dest any, load func() (any, error)) error {
	if s.cache != nil {
		found, err := s.cache.Get(ctx, key, dest)
		if err != nil {
			log.Printf("[storage] Cache error for %s: %v", key, err)
		}
		if found {
			return nil
		}
	}

	val, err, _ := s.sfGroup.Do(key, load)
	if err != nil {
		return err
	}

	switch d := dest.(type) {
	case *[]chat.ConversationSummary:
		*d, _ = val.([]chat.ConversationSummary)
	case *[]chat.ChatMessage:
		*d, _ = val.([]chat.ChatMessage)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, val); err != nil {
			log.Printf("[storage] Warning: failed to cache %s: %v", key, err)
		}
	}
	return nil
}

func conversationsKey(username string) string {
	return "conversations:" + username
}

func messagesKey(day time.Time, room string) string {
	return "messages:" + room + ":" + startOfDay(day).Format("2006-01-02")
}
