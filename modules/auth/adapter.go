package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/chatroom-coordinator/domain/user"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// AuthPort defines the interface for authentication operations.
type AuthPort interface {
	SignIn(ctx context.Context, creds user.Credentials) (*Session, error)
	SignOut(ctx context.Context, token string) error
	ValidateToken(ctx context.Context, token string) (*SessionClaims, error)
}

// AuthAdapter implements AuthPort using the service container.
type AuthAdapter struct {
	container mono.ServiceContainer
}

// NewAuthAdapter creates a new AuthAdapter.
func NewAuthAdapter(container mono.ServiceContainer) *AuthAdapter {
	if container == nil {
		panic("auth: ServiceContainer is nil")
	}
	return &AuthAdapter{container: container}
}

// SignIn starts an app session.
func (a *AuthAdapter) SignIn(ctx context.Context, creds user.Credentials) (*Session, error) {
	req := SignInRequest{Username: creds.Username, Password: creds.Password}
	var resp SignInResponse

	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceSignIn,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("sign-in request failed: %w", err)
	}

	if !resp.Success {
		return nil, refusal(resp.Error)
	}

	return &Session{
		ID:        resp.SessionID,
		Token:     resp.Token,
		ExpiresAt: resp.ExpiresAt,
		User:      resp.User,
	}, nil
}

// SignOut ends the app session named by token.
func (a *AuthAdapter) SignOut(ctx context.Context, token string) error {
	req := SignOutRequest{Token: token}
	var resp SignOutResponse

	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceSignOut,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return fmt.Errorf("sign-out request failed: %w", err)
	}

	if !resp.Success {
		return ErrInvalidToken
	}
	return nil
}

// ValidateToken validates a session token and returns its claims.
func (a *AuthAdapter) ValidateToken(ctx context.Context, token string) (*SessionClaims, error) {
	req := ValidateTokenRequest{Token: token}
	var resp ValidateTokenResponse

	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceValidateToken,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("validate-token request failed: %w", err)
	}

	if !resp.Valid {
		if resp.Error == "token expired" {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	return &SessionClaims{
		SessionID: resp.SessionID,
		Username:  resp.Username,
		Role:      resp.Role,
	}, nil
}

// refusal maps a sign-in refusal message back to its sentinel.
func refusal(msg string) error {
	for _, err := range []error{ErrInvalidCredentials, ErrAccountNotActivated} {
		if msg == err.Error() {
			return err
		}
	}
	return errors.New(msg)
}
