package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/example/chatroom-coordinator/domain/user"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Module owns the chat database and exposes it as request-reply services.
type Module struct {
	db         *gorm.DB
	service    *Service
	recorder   *DailyRecorder
	cache      HistoryCache
	dbPath     string
	recordsDir string
	admin      user.Credentials
}

// Compile-time interface checks.
var _ mono.Module = (*Module)(nil)
var _ mono.ServiceProviderModule = (*Module)(nil)
var _ mono.HealthCheckableModule = (*Module)(nil)

// NewModule creates a new storage module. An empty recordsDir disables the
// daily chat record.
func NewModule(dbPath, recordsDir string) *Module {
	if dbPath == "" {
		dbPath = "chatroom.db"
	}
	return &Module{
		dbPath:     dbPath,
		recordsDir: recordsDir,
	}
}

// SetCache sets the history cache. It must be called before Start.
func (m *Module) SetCache(c HistoryCache) {
	m.cache = c
}

// SetBootstrapAdmin names an administrator account that is created and
// activated on Start. It must be called before Start.
func (m *Module) SetBootstrapAdmin(username, password string) {
	m.admin = user.Credentials{Username: username, Password: password}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "storage"
}

// Start opens the database and starts the daily recorder.
func (m *Module) Start(ctx context.Context) error {
	db, err := gorm.Open(sqlite.Open(m.dbPath), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	m.db = db

	if err := db.AutoMigrate(allRecords()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	rooms := NewRoomRepository(db)
	m.service = NewService(NewAccountRepository(db), rooms, NewPasswordHasher(), m.cache)

	if m.admin.Username != "" {
		if err := m.service.EnsureAdmin(ctx, m.admin.Username, m.admin.Password); err != nil {
			return fmt.Errorf("failed to create admin account: %w", err)
		}
	}

	if m.recordsDir != "" {
		m.recorder = NewDailyRecorder(rooms, m.recordsDir)
		m.recorder.Start()
	}

	log.Printf("[storage] Module started (database: %s, records: %q, cache: %t)", m.dbPath, m.recordsDir, m.cache != nil)
	return nil
}

// Stop stops the recorder and closes the database.
func (m *Module) Stop(_ context.Context) error {
	if m.recorder != nil {
		m.recorder.Stop()
	}
	if m.db != nil {
		sqlDB, err := m.db.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
	log.Println("[storage] Module stopped")
	return nil
}

// Health returns the health status of the module.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	if m.db == nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: "database not initialized",
		}
	}

	sqlDB, err := m.db.DB()
	if err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("failed to get database connection: %v", err),
		}
	}
	if err := sqlDB.Ping(); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("database ping failed: %v", err),
		}
	}

	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"database":      m.dbPath,
			"daily_records": m.recordsDir != "",
			"history_cache": m.cache != nil,
		},
	}
}

// Service returns the storage service.
func (m *Module) Service() *Service {
	return m.service
}

// RegisterServices registers request-reply services in the service container.
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceRegisterUser, json.Unmarshal, json.Marshal, m.handleRegisterUser,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceRegisterUser, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceActivateUser, json.Unmarshal, json.Marshal, m.handleActivateUser,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceActivateUser, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceFindUser, json.Unmarshal, json.Marshal, m.handleFindUser,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceFindUser, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceAuthenticate, json.Unmarshal, json.Marshal, m.handleAuthenticate,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceAuthenticate, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceIsActivated, json.Unmarshal, json.Marshal, m.handleIsActivated,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceIsActivated, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceRecordSignIn, json.Unmarshal, json.Marshal, m.handleRecordSignIn,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceRecordSignIn, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceRecordSignOut, json.Unmarshal, json.Marshal, m.handleRecordSignOut,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceRecordSignOut, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceGetOrCreateRoom, json.Unmarshal, json.Marshal, m.handleGetOrCreateRoom,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceGetOrCreateRoom, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceStoreMessage, json.Unmarshal, json.Marshal, m.handleStoreMessage,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceStoreMessage, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceFindConversations, json.Unmarshal, json.Marshal, m.handleFindConversations,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceFindConversations, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceFindMessages, json.Unmarshal, json.Marshal, m.handleFindMessages,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceFindMessages, err)
	}

	log.Println("[storage] Registered services: accounts, sign-in journal, rooms, messages, history")
	return nil
}

func (m *Module) handleRegisterUser(ctx context.Context, req RegisterUserRequest, _ *mono.Msg) (RegisterUserResponse, error) {
	u, err := m.service.Register(ctx, Registration{
		Username:  req.Username,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
	})
	if err != nil {
		if errors.Is(err, ErrUsernameTaken) || errors.Is(err, ErrInvalidAccount) {
			return RegisterUserResponse{Error: err.Error()}, nil // Refusals are not transport errors
		}
		return RegisterUserResponse{}, err
	}
	return RegisterUserResponse{User: u}, nil
}

func (m *Module) handleActivateUser(ctx context.Context, req ActivateUserRequest, _ *mono.Msg) (ActivateUserResponse, error) {
	if err := m.service.Activate(ctx, req.Username, req.Activated); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ActivateUserResponse{Found: false}, nil
		}
		return ActivateUserResponse{}, err
	}
	return ActivateUserResponse{Found: true}, nil
}

func (m *Module) handleFindUser(ctx context.Context, req FindUserRequest, _ *mono.Msg) (FindUserResponse, error) {
	u, err := m.service.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return FindUserResponse{Found: false}, nil
		}
		return FindUserResponse{}, err
	}
	return FindUserResponse{Found: true, User: u}, nil
}

func (m *Module) handleAuthenticate(ctx context.Context, req AuthenticateRequest, _ *mono.Msg) (AuthenticateResponse, error) {
	ok, err := m.service.Authenticate(ctx, user.Credentials{Username: req.Username, Password: req.Password})
	if err != nil {
		return AuthenticateResponse{}, err
	}
	return AuthenticateResponse{Authenticated: ok}, nil
}

func (m *Module) handleIsActivated(ctx context.Context, req IsActivatedRequest, _ *mono.Msg) (IsActivatedResponse, error) {
	ok, err := m.service.IsActivated(ctx, req.Username)
	if err != nil {
		return IsActivatedResponse{}, err
	}
	return IsActivatedResponse{Activated: ok}, nil
}

func (m *Module) handleRecordSignIn(ctx context.Context, req JournalRequest, _ *mono.Msg) (JournalResponse, error) {
	recorded, err := m.service.RecordSignIn(ctx, req.Username)
	if err != nil {
		return JournalResponse{}, err
	}
	return JournalResponse{Recorded: recorded}, nil
}

func (m *Module) handleRecordSignOut(ctx context.Context, req JournalRequest, _ *mono.Msg) (JournalResponse, error) {
	recorded, err := m.service.RecordSignOut(ctx, req.Username)
	if err != nil {
		return JournalResponse{}, err
	}
	return JournalResponse{Recorded: recorded}, nil
}

func (m *Module) handleGetOrCreateRoom(ctx context.Context, req GetOrCreateRoomRequest, _ *mono.Msg) (GetOrCreateRoomResponse, error) {
	room, err := m.service.GetOrCreateRoom(ctx, req.Name, req.Creator)
	if err != nil {
		return GetOrCreateRoomResponse{}, err
	}
	return GetOrCreateRoomResponse{Room: room}, nil
}

func (m *Module) handleStoreMessage(ctx context.Context, req StoreMessageRequest, _ *mono.Msg) (StoreMessageResponse, error) {
	if err := m.service.StoreMessage(ctx, req.Message); err != nil {
		return StoreMessageResponse{}, err
	}
	return StoreMessageResponse{Stored: true}, nil
}

func (m *Module) handleFindConversations(ctx context.Context, req FindConversationsRequest, _ *mono.Msg) (FindConversationsResponse, error) {
	conversations, err := m.service.FindConversations(ctx, req.Username)
	if err != nil {
		return FindConversationsResponse{}, err
	}
	return FindConversationsResponse{Conversations: conversations}, nil
}

func (m *Module) handleFindMessages(ctx context.Context, req FindMessagesRequest, _ *mono.Msg) (FindMessagesResponse, error) {
	messages, err := m.service.FindMessages(ctx, req.Day, req.Room)
	if err != nil {
		return FindMessagesResponse{}, err
	}
	return FindMessagesResponse{Messages: messages}, nil
}
