package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/chatroom-coordinator/domain/user"
)

type fakeAccounts struct {
	passwords map[string]string
	activated map[string]bool
}

func (f *fakeAccounts) Authenticate(_ context.Context, creds user.Credentials) (bool, error) {
	pw, ok := f.passwords[creds.Username]
	return ok && pw == creds.Password, nil
}

func (f *fakeAccounts) IsActivated(_ context.Context, username string) (bool, error) {
	return f.activated[username], nil
}

func (f *fakeAccounts) FindByUsername(_ context.Context, username string) (*user.User, error) {
	return &user.User{Username: username, DisplayName: username, Role: user.RoleUser, Activated: f.activated[username]}, nil
}

type fakeLobby struct {
	mu         sync.Mutex
	entered    map[string]string
	terminated []string
	enterErr   error
}

func (f *fakeLobby) EnterLobby(_ context.Context, appSessionID, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enterErr != nil {
		return f.enterErr
	}
	f.entered[appSessionID] = username
	return nil
}

func (f *fakeLobby) TerminateAppSession(_ context.Context, appSessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, appSessionID)
	return nil
}

func (f *fakeLobby) terminatedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.terminated...)
}

func setupTestService() (*Service, *fakeLobby) {
	accounts := &fakeAccounts{
		passwords: map[string]string{"alice": "secret", "bob": "secret"},
		activated: map[string]bool{"alice": true},
	}
	lobby := &fakeLobby{entered: make(map[string]string)}
	return NewService(accounts, lobby, NewTokenManager(testConfig())), lobby
}

func TestService_SignIn(t *testing.T) {
	svc, lobby := setupTestService()
	ctx := context.Background()

	session, err := svc.SignIn(ctx, user.Credentials{Username: " alice ", Password: "secret"})
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if lobby.entered[session.ID] != "alice" {
		t.Errorf("lobby entry = %v, want alice under %s", lobby.entered, session.ID)
	}

	claims, err := svc.ValidateToken(ctx, session.Token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.SessionID != session.ID || claims.Username != "alice" {
		t.Errorf("unexpected claims %+v", claims)
	}

	tests := []struct {
		name  string
		creds user.Credentials
		want  error
	}{
		{name: "wrong password", creds: user.Credentials{Username: "alice", Password: "nope"}, want: ErrInvalidCredentials},
		{name: "unknown user", creds: user.Credentials{Username: "carol", Password: "secret"}, want: ErrInvalidCredentials},
		{name: "not activated", creds: user.Credentials{Username: "bob", Password: "secret"}, want: ErrAccountNotActivated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.SignIn(ctx, tt.creds); !errors.Is(err, tt.want) {
				t.Errorf("SignIn() error = %v, want %v", err, tt.want)
			}
		})
	}
	if len(lobby.entered) != 1 {
		t.Errorf("refused sign-ins must not enter the lobby: %v", lobby.entered)
	}
}

func TestService_SignInLobbyFailure(t *testing.T) {
	svc, lobby := setupTestService()
	lobby.enterErr = errors.New("coordinator is not running")

	if _, err := svc.SignIn(context.Background(), user.Credentials{Username: "alice", Password: "secret"}); err == nil {
		t.Error("expected SignIn() to fail when the lobby refuses")
	}
	if got := lobby.terminatedIDs(); len(got) != 0 {
		t.Errorf("terminated = %v, want none for a session that never entered", got)
	}
	if n := svc.PendingExpiries(); n != 0 {
		t.Errorf("PendingExpiries() = %d, want 0", n)
	}
}

func TestService_SignOut(t *testing.T) {
	svc, lobby := setupTestService()
	ctx := context.Background()

	session, err := svc.SignIn(ctx, user.Credentials{Username: "alice", Password: "secret"})
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}

	if err := svc.SignOut(ctx, session.Token); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if got := lobby.terminatedIDs(); len(got) != 1 || got[0] != session.ID {
		t.Errorf("terminated = %v, want [%s]", got, session.ID)
	}
	if n := svc.PendingExpiries(); n != 0 {
		t.Errorf("PendingExpiries() = %d after sign-out, want 0", n)
	}

	if err := svc.SignOut(ctx, "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("SignOut() error = %v, want ErrInvalidToken", err)
	}
}

func TestService_SessionExpiry(t *testing.T) {
	accounts := &fakeAccounts{
		passwords: map[string]string{"alice": "secret"},
		activated: map[string]bool{"alice": true},
	}
	lobby := &fakeLobby{entered: make(map[string]string)}
	config := testConfig()
	config.SessionDuration = 50 * time.Millisecond
	svc := NewService(accounts, lobby, NewTokenManager(config))
	defer svc.Close()

	session, err := svc.SignIn(context.Background(), user.Credentials{Username: "alice", Password: "secret"})
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if n := svc.PendingExpiries(); n != 1 {
		t.Fatalf("PendingExpiries() = %d, want 1", n)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(lobby.terminatedIDs()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := lobby.terminatedIDs(); len(got) != 1 || got[0] != session.ID {
		t.Fatalf("terminated = %v, want [%s]", got, session.ID)
	}
	if n := svc.PendingExpiries(); n != 0 {
		t.Errorf("PendingExpiries() = %d after expiry, want 0", n)
	}
}

func TestService_CloseStopsExpiry(t *testing.T) {
	accounts := &fakeAccounts{
		passwords: map[string]string{"alice": "secret"},
		activated: map[string]bool{"alice": true},
	}
	lobby := &fakeLobby{entered: make(map[string]string)}
	config := testConfig()
	config.SessionDuration = 50 * time.Millisecond
	svc := NewService(accounts, lobby, NewTokenManager(config))

	if _, err := svc.SignIn(context.Background(), user.Credentials{Username: "alice", Password: "secret"}); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	svc.Close()

	time.Sleep(150 * time.Millisecond)
	if got := lobby.terminatedIDs(); len(got) != 0 {
		t.Errorf("terminated = %v after Close, want none", got)
	}
}

func TestRefusal(t *testing.T) {
	if !errors.Is(refusal(ErrAccountNotActivated.Error()), ErrAccountNotActivated) {
		t.Error("expected ErrAccountNotActivated")
	}
	if err := refusal("a chat room with that name is already active"); err == nil {
		t.Error("expected an error")
	}
}
