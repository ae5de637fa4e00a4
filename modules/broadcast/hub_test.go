package broadcast

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		hub.Wait()
	})
	return hub
}

func TestHub_BroadcastReachesLobbyClients(t *testing.T) {
	hub := startHub(t)

	w1, w2 := &fakeWriter{}, &fakeWriter{}
	c1, c2 := NewClient(w1, "alice", 8), NewClient(w2, "bob", 8)
	c1.Start()
	c2.Start()
	hub.Register(c1)
	hub.Register(c2)

	waitFor(t, func() bool { return hub.ClientCount() == 2 })

	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	hub.Broadcast(LobbyUpdate{Type: UpdateRoomOpened, Room: "general", Creator: "alice", Timestamp: now})

	for _, w := range []*fakeWriter{w1, w2} {
		waitFor(t, func() bool { return len(w.received()) == 1 })
		var got LobbyUpdate
		if err := json.Unmarshal([]byte(w.received()[0]), &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Type != UpdateRoomOpened || got.Room != "general" || got.Creator != "alice" {
			t.Errorf("unexpected update %+v", got)
		}
	}
}

func TestHub_Unregister(t *testing.T) {
	hub := startHub(t)

	w := &fakeWriter{}
	c := NewClient(w, "alice", 8)
	c.Start()
	hub.Register(c)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	hub.Unregister(c)
	waitFor(t, func() bool { return hub.ClientCount() == 0 })

	hub.Broadcast(LobbyUpdate{Type: UpdateRoomClosed, Room: "general"})
	time.Sleep(20 * time.Millisecond)
	if got := w.received(); len(got) != 0 {
		t.Errorf("unregistered client received %v", got)
	}
}

func TestHub_DropsClosedClients(t *testing.T) {
	hub := startHub(t)

	c := NewClient(&fakeWriter{}, "alice", 8)
	c.Start()
	hub.Register(c)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	c.Close()
	hub.Broadcast(LobbyUpdate{Type: UpdateParticipantJoined, Room: "general", Username: "bob"})

	waitFor(t, func() bool { return hub.ClientCount() == 0 })
	if hub.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", hub.Dropped())
	}
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	w := &fakeWriter{}
	c := NewClient(w, "alice", 8)
	c.Start()
	hub.Register(c)

	cancel()
	hub.Wait()
	c.Wait()

	if !w.isClosed() {
		t.Error("client connection should be closed on hub shutdown")
	}

	// Calls after shutdown must not block.
	hub.Broadcast(LobbyUpdate{Type: UpdateRoomClosed})
	hub.Unregister(c)
	late := NewClient(&fakeWriter{}, "bob", 1)
	hub.Register(late)
	if late.IsOpen() {
		t.Error("client registered after shutdown should be closed")
	}
}
