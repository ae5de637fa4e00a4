package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/chatroom-coordinator/domain/user"
	"golang.org/x/crypto/bcrypt"
)

// memoryCache is a HistoryCache keeping JSON values in a map.
type memoryCache struct {
	mu      sync.Mutex
	values  map[string][]byte
	hits    int
	deletes []string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: make(map[string][]byte)}
}

func (c *memoryCache) Get(_ context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.values[key]
	if !ok {
		return false, nil
	}
	c.hits++
	return true, json.Unmarshal(data, dest)
}

func (c *memoryCache) Set(_ context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = data
	return nil
}

func (c *memoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	c.deletes = append(c.deletes, key)
	return nil
}

func setupTestService(t *testing.T, cache HistoryCache) *Service {
	t.Helper()
	db := setupTestDB(t)
	svc := NewService(
		NewAccountRepository(db),
		NewRoomRepository(db),
		NewPasswordHasherWithCost(bcrypt.MinCost),
		cache,
	)
	clock := base
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return svc
}

func TestService_RegisterAndAuthenticate(t *testing.T) {
	svc := setupTestService(t, nil)
	ctx := context.Background()

	u, err := svc.Register(ctx, Registration{
		Username:  "  alice ",
		Password:  "secret",
		FirstName: "Alice",
		LastName:  "Liddell",
		Role:      "superuser",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if u.Username != "alice" || u.DisplayName != "Alice Liddell" {
		t.Errorf("unexpected user %+v", u)
	}
	if u.Role != user.RoleUser {
		t.Errorf("unknown role should fall back to %q, got %q", user.RoleUser, u.Role)
	}
	if u.Activated {
		t.Error("new accounts must not be activated")
	}

	if _, err := svc.Register(ctx, Registration{Username: "alice", Password: "other"}); !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("expected ErrUsernameTaken, got %v", err)
	}
	if _, err := svc.Register(ctx, Registration{Username: " ", Password: "x"}); !errors.Is(err, ErrInvalidAccount) {
		t.Errorf("expected ErrInvalidAccount, got %v", err)
	}

	tests := []struct {
		name  string
		creds user.Credentials
		want  bool
	}{
		{name: "correct password", creds: user.Credentials{Username: "alice", Password: "secret"}, want: true},
		{name: "wrong password", creds: user.Credentials{Username: "alice", Password: "nope"}, want: false},
		{name: "unknown user", creds: user.Credentials{Username: "bob", Password: "secret"}, want: false},
		{name: "empty password", creds: user.Credentials{Username: "alice"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Authenticate(ctx, tt.creds)
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Authenticate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestService_Activation(t *testing.T) {
	svc := setupTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.Register(ctx, Registration{Username: "admin", Password: "pw", Role: user.RoleAdmin}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	activated, err := svc.IsActivated(ctx, "admin")
	if err != nil || activated {
		t.Fatalf("IsActivated() = %v, %v; want false, nil", activated, err)
	}

	if err := svc.Activate(ctx, "admin", true); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	activated, err = svc.IsActivated(ctx, "admin")
	if err != nil || !activated {
		t.Fatalf("IsActivated() = %v, %v; want true, nil", activated, err)
	}

	u, err := svc.FindByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("FindByUsername() error = %v", err)
	}
	if u.Role != user.RoleAdmin || u.DisplayName != "admin" {
		t.Errorf("unexpected user %+v", u)
	}

	activated, err = svc.IsActivated(ctx, "ghost")
	if err != nil || activated {
		t.Errorf("IsActivated(ghost) = %v, %v; want false, nil", activated, err)
	}
}

func TestService_EnsureAdmin(t *testing.T) {
	svc := setupTestService(t, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := svc.EnsureAdmin(ctx, "root", "pw"); err != nil {
			t.Fatalf("EnsureAdmin() call %d error = %v", i+1, err)
		}
	}

	u, err := svc.FindByUsername(ctx, "root")
	if err != nil {
		t.Fatalf("FindByUsername() error = %v", err)
	}
	if u.Role != user.RoleAdmin || !u.Activated {
		t.Errorf("unexpected admin %+v", u)
	}

	if err := svc.EnsureAdmin(ctx, "", "pw"); !errors.Is(err, ErrInvalidAccount) {
		t.Errorf("EnsureAdmin() error = %v, want ErrInvalidAccount", err)
	}
}

func TestService_HistoryCacheAside(t *testing.T) {
	cache := newMemoryCache()
	svc := setupTestService(t, cache)
	ctx := context.Background()

	if err := svc.StoreMessage(ctx, message("attic", "alice", "hello", base)); err != nil {
		t.Fatalf("StoreMessage() error = %v", err)
	}

	first, err := svc.FindConversations(ctx, "alice")
	if err != nil {
		t.Fatalf("FindConversations() error = %v", err)
	}
	if len(first) != 1 || first[0].Room != "attic" || first[0].Index != 1 {
		t.Fatalf("unexpected conversations %+v", first)
	}

	second, err := svc.FindConversations(ctx, "alice")
	if err != nil {
		t.Fatalf("FindConversations() error = %v", err)
	}
	if cache.hits != 1 {
		t.Errorf("expected one cache hit, got %d", cache.hits)
	}
	if len(second) != 1 || !second[0].Day.Equal(first[0].Day) {
		t.Errorf("cached conversations differ: %+v", second)
	}

	msgs, err := svc.FindMessages(ctx, base, "attic")
	if err != nil {
		t.Fatalf("FindMessages() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}

	// A new message drops the cached history it belongs to.
	if err := svc.StoreMessage(ctx, message("attic", "alice", "again", base.Add(time.Minute))); err != nil {
		t.Fatalf("StoreMessage() error = %v", err)
	}
	msgs, err = svc.FindMessages(ctx, base, "attic")
	if err != nil {
		t.Fatalf("FindMessages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("expected 2 messages after invalidation, got %d", len(msgs))
	}
}

func TestService_GetOrCreateRoomAndJournal(t *testing.T) {
	svc := setupTestService(t, nil)
	ctx := context.Background()

	room, err := svc.GetOrCreateRoom(ctx, "attic", "alice")
	if err != nil {
		t.Fatalf("GetOrCreateRoom() error = %v", err)
	}
	if room.Name != "attic" || room.Creator != "alice" {
		t.Errorf("unexpected room %+v", room)
	}

	recorded, err := svc.RecordSignIn(ctx, "alice")
	if err != nil || !recorded {
		t.Errorf("RecordSignIn() = %v, %v; want true, nil", recorded, err)
	}
	recorded, err = svc.RecordSignIn(ctx, "alice")
	if err != nil || recorded {
		t.Errorf("second RecordSignIn() = %v, %v; want false, nil", recorded, err)
	}
	recorded, err = svc.RecordSignOut(ctx, "alice")
	if err != nil || !recorded {
		t.Errorf("RecordSignOut() = %v, %v; want true, nil", recorded, err)
	}
}

func TestRegistrationError(t *testing.T) {
	if !errors.Is(registrationError(ErrUsernameTaken.Error()), ErrUsernameTaken) {
		t.Error("expected ErrUsernameTaken")
	}
	if err := registrationError("boom"); err == nil || err.Error() != "boom" {
		t.Errorf("unexpected error %v", err)
	}
}
