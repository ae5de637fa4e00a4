package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the token is invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
)

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	SecretKey       string
	SessionDuration time.Duration
	Issuer          string
}

// DefaultJWTConfig returns a default JWT configuration.
// In production, the secret key should be loaded from environment variables.
func DefaultJWTConfig() JWTConfig {
	return JWTConfig{
		SecretKey:       "change-me-in-production",
		SessionDuration: 12 * time.Hour,
		Issuer:          "chatroom-coordinator",
	}
}

// SessionClaims are the claims carried by an app-session token.
type SessionClaims struct {
	SessionID string `json:"sid"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates app-session tokens.
type TokenManager struct {
	config JWTConfig
	now    func() time.Time
}

// NewTokenManager creates a new TokenManager with the given configuration.
func NewTokenManager(config JWTConfig) *TokenManager {
	if config.SessionDuration <= 0 {
		config.SessionDuration = DefaultJWTConfig().SessionDuration
	}
	return &TokenManager{
		config: config,
		now:    time.Now,
	}
}

// Issue signs a token for an app session and returns it with its expiry.
func (m *TokenManager) Issue(sessionID, username, role string) (string, time.Time, error) {
	now := m.now()
	expires := now.Add(m.config.SessionDuration)
	claims := SessionClaims{
		SessionID: sessionID,
		Username:  username,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   username,
			ID:        sessionID,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.config.SecretKey))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Validate checks the signature and the time-based claims.
func (m *TokenManager) Validate(tokenString string) (*SessionClaims, error) {
	return m.parse(tokenString, jwt.WithTimeFunc(m.now))
}

// ValidateSignature checks only the signature. Sign-out accepts expired
// tokens so that the session they name can still be terminated.
func (m *TokenManager) ValidateSignature(tokenString string) (*SessionClaims, error) {
	return m.parse(tokenString, jwt.WithoutClaimsValidation())
}

// SessionDuration returns the token lifetime.
func (m *TokenManager) SessionDuration() time.Duration {
	return m.config.SessionDuration
}

func (m *TokenManager) parse(tokenString string, opts ...jwt.ParserOption) (*SessionClaims, error) {
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if m.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(m.config.SecretKey), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.SessionID == "" || claims.Username == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
