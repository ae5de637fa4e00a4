package broadcast

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages [][]byte
	closed   bool
	failWith error
	block    chan struct{}
}

func (w *fakeWriter) WriteMessage(messageType int, data []byte) error {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failWith != nil {
		return w.failWith
	}
	if messageType == websocket.TextMessage {
		w.messages = append(w.messages, append([]byte(nil), data...))
	}
	return nil
}

func (w *fakeWriter) SetWriteDeadline(time.Time) error { return nil }

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) received() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.messages))
	for i, m := range w.messages {
		out[i] = string(m)
	}
	return out
}

func (w *fakeWriter) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestClient_SendDeliversInOrder(t *testing.T) {
	w := &fakeWriter{}
	c := NewClient(w, "alice", 8)
	c.Start()

	for _, msg := range []string{"one", "two", "three"} {
		if err := c.Send([]byte(msg)); err != nil {
			t.Fatalf("Send(%q) error = %v", msg, err)
		}
	}
	waitFor(t, func() bool { return len(w.received()) == 3 })

	got := w.received()
	want := []string{"one", "two", "three"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestClient_CloseFlushesQueued(t *testing.T) {
	w := &fakeWriter{block: make(chan struct{})}
	c := NewClient(w, "alice", 8)
	c.Start()

	_ = c.Send([]byte("first"))
	_ = c.Send([]byte("second"))
	c.Close()

	if c.IsOpen() {
		t.Error("IsOpen() = true after Close()")
	}
	if err := c.Send([]byte("late")); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Send() after Close error = %v, want ErrClientClosed", err)
	}

	close(w.block)
	c.Wait()

	if got := w.received(); len(got) != 2 {
		t.Errorf("received %v, want both queued messages", got)
	}
	if !w.isClosed() {
		t.Error("connection not closed after Wait()")
	}
}

func TestClient_SlowClientIsClosed(t *testing.T) {
	w := &fakeWriter{}
	c := NewClient(w, "alice", 2)

	// Not started, so nothing drains the buffer.
	_ = c.Send([]byte("a"))
	_ = c.Send([]byte("b"))
	if err := c.Send([]byte("c")); !errors.Is(err, ErrBufferFull) {
		t.Fatalf("Send() error = %v, want ErrBufferFull", err)
	}
	if c.IsOpen() {
		t.Error("slow client should be closed")
	}
	c.Wait()
	if !w.isClosed() {
		t.Error("connection not closed")
	}
}

func TestClient_WriteFailureCloses(t *testing.T) {
	w := &fakeWriter{failWith: errors.New("broken pipe")}
	c := NewClient(w, "alice", 4)
	c.Start()

	_ = c.Send([]byte("hello"))
	c.Wait()

	if c.IsOpen() {
		t.Error("client should be closed after a write failure")
	}
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	c := NewClient(&fakeWriter{}, "alice", 1)
	c.Start()
	c.Close()
	c.Close()
	c.Wait()
}
