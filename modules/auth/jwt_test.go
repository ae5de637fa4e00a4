package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testConfig() JWTConfig {
	return JWTConfig{
		SecretKey:       "test-secret-key",
		SessionDuration: time.Hour,
		Issuer:          "test-issuer",
	}
}

func TestTokenManager_IssueAndValidate(t *testing.T) {
	manager := NewTokenManager(testConfig())

	token, expires, err := manager.Issue("session-1", "alice", "admin")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if token == "" {
		t.Fatal("Issue() returned empty token")
	}
	if time.Until(expires) <= 0 {
		t.Errorf("expiry %v is not in the future", expires)
	}

	claims, err := manager.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if claims.SessionID != "session-1" {
		t.Errorf("claims.SessionID = %v, want %v", claims.SessionID, "session-1")
	}
	if claims.Username != "alice" {
		t.Errorf("claims.Username = %v, want %v", claims.Username, "alice")
	}
	if claims.Role != "admin" {
		t.Errorf("claims.Role = %v, want %v", claims.Role, "admin")
	}
	if claims.Issuer != "test-issuer" {
		t.Errorf("claims.Issuer = %v, want %v", claims.Issuer, "test-issuer")
	}
}

func TestTokenManager_Expired(t *testing.T) {
	manager := NewTokenManager(testConfig())
	manager.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, _, err := manager.Issue("session-1", "alice", "user")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	manager.now = time.Now
	if _, err := manager.Validate(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Validate() error = %v, want ErrExpiredToken", err)
	}

	// Sign-out still accepts an expired token.
	claims, err := manager.ValidateSignature(token)
	if err != nil {
		t.Fatalf("ValidateSignature() error = %v", err)
	}
	if claims.SessionID != "session-1" {
		t.Errorf("claims.SessionID = %v, want %v", claims.SessionID, "session-1")
	}
}

func TestTokenManager_Rejects(t *testing.T) {
	manager := NewTokenManager(testConfig())
	good, _, err := manager.Issue("session-1", "alice", "user")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	other := NewTokenManager(JWTConfig{SecretKey: "other-secret", SessionDuration: time.Hour, Issuer: "test-issuer"})
	forged, _, _ := other.Issue("session-1", "alice", "user")

	wrongIssuer := NewTokenManager(JWTConfig{SecretKey: "test-secret-key", SessionDuration: time.Hour, Issuer: "elsewhere"})
	foreign, _, _ := wrongIssuer.Issue("session-1", "alice", "user")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, SessionClaims{SessionID: "s", Username: "alice"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-token"},
		{name: "empty", token: ""},
		{name: "wrong secret", token: forged},
		{name: "wrong issuer", token: foreign},
		{name: "unsigned", token: unsigned},
		{name: "tampered", token: good + "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := manager.Validate(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Validate() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestNewTokenManager_DefaultDuration(t *testing.T) {
	manager := NewTokenManager(JWTConfig{SecretKey: "k"})
	if manager.SessionDuration() != DefaultJWTConfig().SessionDuration {
		t.Errorf("SessionDuration() = %v, want %v", manager.SessionDuration(), DefaultJWTConfig().SessionDuration)
	}
}
