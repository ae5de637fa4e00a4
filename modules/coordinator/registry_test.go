package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionRegistry_BindAndLookup(t *testing.T) {
	r := NewConnectionRegistry()
	alice := newFakeConn("c1")

	r.Bind(alice, "alice")

	username, ok := r.LookupUser(alice)
	require.True(t, ok)
	assert.Equal(t, "alice", username)

	conn, ok := r.FindConnection("alice")
	require.True(t, ok)
	assert.Equal(t, "c1", conn.ID())
	assert.Equal(t, 1, r.Connections())

	_, ok = r.FindConnection("bob")
	assert.False(t, ok)
}

func TestConnectionRegistry_RebindReplacesUser(t *testing.T) {
	r := NewConnectionRegistry()
	conn := newFakeConn("c1")

	r.Bind(conn, "alice")
	r.Bind(conn, "bob")

	_, ok := r.FindConnection("alice")
	assert.False(t, ok, "previous user must no longer resolve to the connection")

	username, ok := r.LookupUser(conn)
	require.True(t, ok)
	assert.Equal(t, "bob", username)
	assert.Equal(t, 1, r.Connections())
}

func TestConnectionRegistry_NewestConnectionWins(t *testing.T) {
	r := NewConnectionRegistry()
	first := newFakeConn("c1")
	second := newFakeConn("c2")

	r.Bind(first, "alice")
	r.Bind(second, "alice")

	conn, ok := r.FindConnection("alice")
	require.True(t, ok)
	assert.Equal(t, "c2", conn.ID())

	// Unbinding the stale connection keeps the newer one reachable.
	r.Unbind(first)
	conn, ok = r.FindConnection("alice")
	require.True(t, ok)
	assert.Equal(t, "c2", conn.ID())
}

func TestConnectionRegistry_UnbindUnknownIsNoop(t *testing.T) {
	r := NewConnectionRegistry()
	r.Unbind(newFakeConn("ghost"))
	assert.Equal(t, 0, r.Connections())
}

func TestConnectionRegistry_AppSessions(t *testing.T) {
	r := NewConnectionRegistry()

	assert.True(t, r.RegisterAppSession("s1", "alice"))
	assert.False(t, r.RegisterAppSession("s1", "mallory"), "first registration wins")

	username, ok := r.ResolveAppSession("s1")
	require.True(t, ok)
	assert.Equal(t, "alice", username)

	assert.True(t, r.RegisterAppSession("s2", "alice"))
	assert.True(t, r.IsSignedIn("alice"))
	assert.Equal(t, 2, r.Sessions())

	assert.True(t, r.RemoveAppSession("s1"))
	assert.False(t, r.RemoveAppSession("s1"))
	assert.True(t, r.IsSignedIn("alice"), "alice still holds s2")

	assert.True(t, r.RemoveAppSession("s2"))
	assert.False(t, r.IsSignedIn("alice"))
	assert.Equal(t, 0, r.Sessions())
}
