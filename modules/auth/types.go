package auth

import (
	"time"

	"github.com/example/chatroom-coordinator/domain/user"
)

// Request-reply service names.
const (
	ServiceSignIn        = "sign-in"
	ServiceSignOut       = "sign-out"
	ServiceValidateToken = "validate-token"
)

// SignInRequest represents a sign-in attempt.
type SignInRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SignInResponse carries the new session or the refusal.
type SignInResponse struct {
	Success   bool       `json:"success"`
	SessionID string     `json:"session_id,omitempty"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt time.Time  `json:"expires_at,omitempty"`
	User      *user.User `json:"user,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// SignOutRequest ends the session named by a token.
type SignOutRequest struct {
	Token string `json:"token"`
}

// SignOutResponse reports the sign-out.
type SignOutResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ValidateTokenRequest represents a token validation request.
type ValidateTokenRequest struct {
	Token string `json:"token"`
}

// ValidateTokenResponse represents a token validation response.
type ValidateTokenResponse struct {
	Valid     bool   `json:"valid"`
	SessionID string `json:"session_id,omitempty"`
	Username  string `json:"username,omitempty"`
	Role      string `json:"role,omitempty"`
	Error     string `json:"error,omitempty"`
}
