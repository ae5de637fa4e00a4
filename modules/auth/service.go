package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/example/chatroom-coordinator/domain/user"
	"github.com/google/uuid"
)

var (
	// ErrInvalidCredentials is returned when the username or password is wrong.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrAccountNotActivated is returned when the account is not yet activated.
	ErrAccountNotActivated = errors.New("the account has not been activated")
)

// Accounts is the account store used to authenticate sign-ins.
type Accounts interface {
	Authenticate(ctx context.Context, creds user.Credentials) (bool, error)
	IsActivated(ctx context.Context, username string) (bool, error)
	FindByUsername(ctx context.Context, username string) (*user.User, error)
}

// Lobby is told about app sessions starting and ending.
type Lobby interface {
	EnterLobby(ctx context.Context, appSessionID, username string) error
	TerminateAppSession(ctx context.Context, appSessionID string) error
}

// Session is a signed-in app session.
type Session struct {
	ID        string     `json:"session_id"`
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      *user.User `json:"user"`
}

// Service signs users in and out. An app session that is not signed out
// before its token expires is terminated when it expires.
type Service struct {
	accounts Accounts
	lobby    Lobby
	tokens   *TokenManager

	mu       sync.Mutex
	expiries map[string]*time.Timer // session ID -> expiry timer
}

// NewService creates a new auth service.
func NewService(accounts Accounts, lobby Lobby, tokens *TokenManager) *Service {
	return &Service{
		accounts: accounts,
		lobby:    lobby,
		tokens:   tokens,
		expiries: make(map[string]*time.Timer),
	}
}

// SignIn checks the credentials, starts an app session in the lobby and
// returns its token.
func (s *Service) SignIn(ctx context.Context, creds user.Credentials) (*Session, error) {
	creds.Username = strings.TrimSpace(creds.Username)

	ok, err := s.accounts.Authenticate(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	activated, err := s.accounts.IsActivated(ctx, creds.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to check activation: %w", err)
	}
	if !activated {
		return nil, ErrAccountNotActivated
	}

	u, err := s.accounts.FindByUsername(ctx, creds.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	// The token is issued first so a signing failure leaves no lobby entry
	// to undo.
	sessionID := uuid.New().String()
	token, expires, err := s.tokens.Issue(sessionID, u.Username, u.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	if err := s.lobby.EnterLobby(ctx, sessionID, u.Username); err != nil {
		return nil, err
	}

	s.scheduleExpiry(sessionID, u.Username, expires)
	log.Printf("[auth] %s signed in (session %s)", u.Username, sessionID)
	return &Session{
		ID:        sessionID,
		Token:     token,
		ExpiresAt: expires,
		User:      u,
	}, nil
}

// SignOut terminates the app session named by token. Expired tokens are
// accepted.
func (s *Service) SignOut(ctx context.Context, token string) error {
	claims, err := s.tokens.ValidateSignature(token)
	if err != nil {
		return err
	}
	s.cancelExpiry(claims.SessionID)
	if err := s.lobby.TerminateAppSession(ctx, claims.SessionID); err != nil {
		return err
	}
	log.Printf("[auth] %s signed out (session %s)", claims.Username, claims.SessionID)
	return nil
}

// ValidateToken returns the claims of a live token.
func (s *Service) ValidateToken(_ context.Context, token string) (*SessionClaims, error) {
	return s.tokens.Validate(token)
}

// Close stops every pending expiry.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.expiries {
		timer.Stop()
		delete(s.expiries, id)
	}
}

// PendingExpiries returns the number of sessions waiting to expire.
func (s *Service) PendingExpiries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expiries)
}

func (s *Service) scheduleExpiry(sessionID, username string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiries[sessionID] = time.AfterFunc(time.Until(at), func() {
		s.mu.Lock()
		_, pending := s.expiries[sessionID]
		delete(s.expiries, sessionID)
		s.mu.Unlock()
		if !pending {
			return
		}

		if err := s.lobby.TerminateAppSession(context.Background(), sessionID); err != nil {
			log.Printf("[auth] Failed to end expired session %s of %s: %v", sessionID, username, err)
			return
		}
		log.Printf("[auth] Session %s of %s expired", sessionID, username)
	})
}

func (s *Service) cancelExpiry(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.expiries[sessionID]; ok {
		timer.Stop()
		delete(s.expiries, sessionID)
	}
}
