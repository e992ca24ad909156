package rooms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinReturnsOtherMembersOnly(t *testing.T) {
	r := NewRegistry()

	c1 := r.Register()
	roster, err := r.Join(c1, "r1", "Alice")
	require.NoError(t, err)
	assert.Empty(t, roster, "first member should see an empty roster")

	c2 := r.Register()
	roster, err = r.Join(c2, "r1", "Bob")
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, Member{ConnectionID: c1, Username: "Alice"}, roster[0])
}

func TestJoinWhileJoinedFailsAndKeepsMembership(t *testing.T) {
	r := NewRegistry()

	c1 := r.Register()
	_, err := r.Join(c1, "r1", "Alice")
	require.NoError(t, err)

	_, err = r.Join(c1, "r2", "Alice")
	assert.ErrorIs(t, err, ErrAlreadyJoined)

	room, ok := r.RoomOf(c1)
	require.True(t, ok)
	assert.Equal(t, "r1", room, "prior membership must be unchanged")
	assert.Empty(t, r.Roster("r2"))
}

func TestJoinUnknownConnection(t *testing.T) {
	r := NewRegistry()
	_, err := r.Join("nope", "r1", "Alice")
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestRosterMatchesJoinLeaveHistory(t *testing.T) {
	r := NewRegistry()

	c1 := r.Register()
	c2 := r.Register()
	c3 := r.Register()
	for _, tc := range []struct{ id, name string }{
		{c1, "Alice"}, {c2, "Bob"}, {c3, "Carol"},
	} {
		_, err := r.Join(tc.id, "r1", tc.name)
		require.NoError(t, err)
	}

	room, left := r.Leave(c2)
	assert.True(t, left)
	assert.Equal(t, "r1", room)

	got := r.Roster("r1")
	require.Len(t, got, 2)
	ids := []string{got[0].ConnectionID, got[1].ConnectionID}
	assert.ElementsMatch(t, []string{c1, c3}, ids)
}

func TestLeaveIsIdempotent(t *testing.T) {
	r := NewRegistry()

	c1 := r.Register()
	_, left := r.Leave(c1)
	assert.False(t, left, "leave before join is a no-op")

	_, err := r.Join(c1, "r1", "Alice")
	require.NoError(t, err)

	_, left = r.Leave(c1)
	assert.True(t, left)
	_, left = r.Leave(c1)
	assert.False(t, left, "second leave is a no-op")
}

func TestEmptyRoomIsReclaimed(t *testing.T) {
	r := NewRegistry()

	c1 := r.Register()
	_, err := r.Join(c1, "r1", "Alice")
	require.NoError(t, err)

	r.Unregister(c1)

	assert.Empty(t, r.Roster("r1"))

	// The room identifier is reusable: a fresh join sees an empty roster.
	c2 := r.Register()
	roster, err := r.Join(c2, "r1", "Bob")
	require.NoError(t, err)
	assert.Empty(t, roster)
}

func TestUsernameLifetime(t *testing.T) {
	r := NewRegistry()

	c1 := r.Register()
	_, ok := r.Username(c1)
	assert.False(t, ok, "no username before join")

	_, err := r.Join(c1, "r1", "Alice")
	require.NoError(t, err)

	name, ok := r.Username(c1)
	require.True(t, ok)
	assert.Equal(t, "Alice", name)

	r.Leave(c1)
	_, ok = r.Username(c1)
	assert.False(t, ok, "username cleared after leave")
}
