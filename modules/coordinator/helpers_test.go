package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/chatroom-coordinator/domain/chat"
	"github.com/example/chatroom-coordinator/domain/user"
	"github.com/go-monolith/mono/pkg/types"
)

// mockLogger implements types.Logger for testing.
type mockLogger struct{}

func (l *mockLogger) Debug(msg string, args ...any) {}
func (l *mockLogger) Info(msg string, args ...any) {}
func (l *mockLogger) Warn(msg string, args ...any) {}
func (l *mockLogger) Error(msg string, args ...any) {}
func (l *mockLogger) With(args ...any) types.Logger { return l }
func (l *mockLogger) WithModule(module string) types.Logger { return l }
func (l *mockLogger) WithError(err error) types.Logger { return l }

var errSendFailed = errors.New("send failed")

type fakeConn struct {
	id string

	mu     sync.Mutex
	open   bool
	fail   bool
	panics bool
	frames [][]byte

	// delay slows every send, widening races between callers.
	delay time.Duration
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, open: true}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(data []byte) error {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.panics {
		panic("broken transport")
	}
	if c.fail || !c.open {
		return errSendFailed
	}
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeConn) close() {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
}

func (c *fakeConn) messages(t *testing.T) []chat.ChatMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]chat.ChatMessage, 0, len(c.frames))
	for _, frame := range c.frames {
		var msg chat.ChatMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			t.Fatalf("failed to decode frame %s: %v", frame, err)
		}
		out = append(out, msg)
	}
	return out
}

func (c *fakeConn) events(t *testing.T) []chat.Event {
	t.Helper()
	var out []chat.Event
	for _, msg := range c.messages(t) {
		out = append(out, msg.Event)
	}
	return out
}

type fakeUsers struct {
	mu       sync.Mutex
	signIns  []string
	signOuts []string
}

func (u *fakeUsers) FindByUsername(_ context.Context, username string) (*user.User, error) {
	return &user.User{Username: username, Role: user.RoleUser, Activated: true}, nil
}

func (u *fakeUsers) Authenticate(_ context.Context, _ user.Credentials) (bool, error) {
	return true, nil
}

func (u *fakeUsers) IsActivated(_ context.Context, _ string) (bool, error) {
	return true, nil
}

func (u *fakeUsers) RecordSignIn(_ context.Context, username string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.signIns = append(u.signIns, username)
	return nil
}

func (u *fakeUsers) RecordSignOut(_ context.Context, username string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.signOuts = append(u.signOuts, username)
	return nil
}

type fakeRooms struct {
	mu       sync.Mutex
	creators map[string]string
	stored   []chat.ChatMessage
	failWith error
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{creators: make(map[string]string)}
}

func (r *fakeRooms) GetOrCreateRoom(_ context.Context, name, creator string) (*chat.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.creators[name]
	if !ok {
		owner = creator
		r.creators[name] = creator
	}
	return &chat.Room{Name: name, Creator: owner}, nil
}

func (r *fakeRooms) StoreMessage(_ context.Context, msg chat.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.stored = append(r.stored, msg)
	return nil
}

func (r *fakeRooms) FindConversations(_ context.Context, _ string) ([]chat.ConversationSummary, error) {
	return nil, nil
}

func (r *fakeRooms) FindMessages(_ context.Context, _ time.Time, _ string) ([]chat.ChatMessage, error) {
	return nil, nil
}

func (r *fakeRooms) storedEvents() []chat.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []chat.Event
	for _, msg := range r.stored {
		out = append(out, msg.Event)
	}
	return out
}

func (r *fakeRooms) countStored(event chat.Event) int {
	n := 0
	for _, e := range r.storedEvents() {
		if e == event {
			n++
		}
	}
	return n
}

type recordingObserver struct {
	mu      sync.Mutex
	entries []string
}

func (o *recordingObserver) record(entry string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, entry)
}

func (o *recordingObserver) count(entry string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, e := range o.entries {
		if e == entry {
			n++
		}
	}
	return n
}

func (o *recordingObserver) RoomOpened(room Room) { o.record("opened:" + room.Name) }
func (o *recordingObserver) RoomClosed(room Room) { o.record("closed:" + room.Name) }
func (o *recordingObserver) ParticipantJoined(room Room, u string) { o.record("joined:" + room.Name + ":" + u) }
func (o *recordingObserver) ParticipantLeft(room Room, u string) { o.record("left:" + room.Name + ":" + u) }

type testEnv struct {
	coordinator *Coordinator
	users       *fakeUsers
	rooms       *fakeRooms
	observer    *recordingObserver
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		users:    &fakeUsers{},
		rooms:    newFakeRooms(),
		observer: &recordingObserver{},
	}
	env.coordinator = New(env.users, env.rooms, &mockLogger{},
		WithObserver(env.observer),
		WithClock(func() time.Time { return fixedNow }),
	)
	if err := env.coordinator.Start(context.Background()); err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}
	return env
}

// signIn registers an app session named after the user.
func (e *testEnv) signIn(t *testing.T, username string) {
	t.Helper()
	if err := e.coordinator.EnterLobby(context.Background(), "app-"+username, username); err != nil {
		t.Fatalf("EnterLobby(%s) unexpected error: %v", username, err)
	}
}
