package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/example/chatroom-coordinator/domain/user"
	"github.com/example/chatroom-coordinator/modules/coordinator"
	"github.com/example/chatroom-coordinator/modules/storage"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// Module provides sign-in, sign-out and token validation.
type Module struct {
	service  *Service
	tokens   *TokenManager
	accounts Accounts
	lobby    Lobby
	config   JWTConfig
}

// Compile-time interface checks.
var _ mono.Module = (*Module)(nil)
var _ mono.DependentModule = (*Module)(nil)
var _ mono.ServiceProviderModule = (*Module)(nil)
var _ mono.HealthCheckableModule = (*Module)(nil)

// NewModule creates a new auth module.
func NewModule(config JWTConfig) *Module {
	return &Module{config: config}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "auth"
}

// Dependencies returns the modules this one needs.
func (m *Module) Dependencies() []string {
	return []string{"storage", "coordinator"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *Module) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "storage":
		m.accounts = storage.NewUserAdapter(container)
	case "coordinator":
		m.lobby = coordinator.NewCoordinatorAdapter(container)
	}
}

// Start builds the service.
func (m *Module) Start(_ context.Context) error {
	if m.accounts == nil || m.lobby == nil {
		return errors.New("auth: storage and coordinator dependencies not set")
	}
	m.tokens = NewTokenManager(m.config)
	m.service = NewService(m.accounts, m.lobby, m.tokens)
	log.Printf("[auth] Module started (session duration: %s)", m.tokens.SessionDuration())
	return nil
}

// Stop shuts down the module.
func (m *Module) Stop(_ context.Context) error {
	if m.service != nil {
		m.service.Close()
	}
	log.Println("[auth] Module stopped")
	return nil
}

// Health returns the health status of the module.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	if m.service == nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: "auth service not initialized",
		}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"session_duration": m.tokens.SessionDuration().String(),
			"live_sessions":    m.service.PendingExpiries(),
		},
	}
}

// RegisterServices registers request-reply services in the service container.
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container,
		ServiceSignIn,
		json.Unmarshal,
		json.Marshal,
		m.handleSignIn,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceSignIn, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container,
		ServiceSignOut,
		json.Unmarshal,
		json.Marshal,
		m.handleSignOut,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceSignOut, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container,
		ServiceValidateToken,
		json.Unmarshal,
		json.Marshal,
		m.handleValidateToken,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceValidateToken, err)
	}

	log.Printf("[auth] Registered services: %s, %s, %s", ServiceSignIn, ServiceSignOut, ServiceValidateToken)
	return nil
}

func (m *Module) handleSignIn(ctx context.Context, req SignInRequest, _ *mono.Msg) (SignInResponse, error) {
	session, err := m.service.SignIn(ctx, user.Credentials{Username: req.Username, Password: req.Password})
	if err != nil {
		if isRefusal(err) {
			return SignInResponse{Success: false, Error: err.Error()}, nil
		}
		return SignInResponse{}, err
	}
	return SignInResponse{
		Success:   true,
		SessionID: session.ID,
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		User:      session.User,
	}, nil
}

func (m *Module) handleSignOut(ctx context.Context, req SignOutRequest, _ *mono.Msg) (SignOutResponse, error) {
	if err := m.service.SignOut(ctx, req.Token); err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return SignOutResponse{Success: false, Error: err.Error()}, nil
		}
		return SignOutResponse{}, err
	}
	return SignOutResponse{Success: true}, nil
}

func (m *Module) handleValidateToken(ctx context.Context, req ValidateTokenRequest, _ *mono.Msg) (ValidateTokenResponse, error) {
	claims, err := m.service.ValidateToken(ctx, req.Token)
	if err != nil {
		errMsg := "invalid token"
		if errors.Is(err, ErrExpiredToken) {
			errMsg = "token expired"
		}
		return ValidateTokenResponse{
			Valid: false,
			Error: errMsg,
		}, nil // Return response, not error, for validation failures
	}

	return ValidateTokenResponse{
		Valid:     true,
		SessionID: claims.SessionID,
		Username:  claims.Username,
		Role:      claims.Role,
	}, nil
}

// isRefusal reports whether a sign-in error is the user's fault.
func isRefusal(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrAccountNotActivated) ||
		coordinator.StatusCode(err) != coordinator.CodeInternal
}
