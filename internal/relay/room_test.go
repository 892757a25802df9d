package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomsBroadcastEchoesToSender(t *testing.T) {
	transport := newFakeTransport()
	rooms := NewRooms(transport)

	rooms.Join("lobby", "c1")
	rooms.Join("lobby", "c2")
	rooms.Join("lobby", "c3")

	payload := []byte(`{"message":"hi"}`)
	rooms.Broadcast("lobby", payload)

	for _, ref := range []string{"c1", "c2", "c3"} {
		require.Len(t, transport.delivered[ref], 1, "every member including the sender gets the broadcast")
		assert.Equal(t, payload, transport.delivered[ref][0])
	}
}

func TestRoomsJoinLeaveIdempotent(t *testing.T) {
	transport := newFakeTransport()
	rooms := NewRooms(transport)

	rooms.Join("lobby", "c1")
	rooms.Join("lobby", "c1")
	assert.Equal(t, 1, rooms.Members("lobby"))

	rooms.Leave("lobby", "c1")
	rooms.Leave("lobby", "c1")
	assert.Equal(t, 0, rooms.Members("lobby"))

	// Leaving a room that never existed is a no-op too.
	rooms.Leave("ghost", "c1")
}

func TestRoomsDroppedWhenLastMemberLeaves(t *testing.T) {
	transport := newFakeTransport()
	rooms := NewRooms(transport)

	rooms.Join("lobby", "c1")
	rooms.Join("lobby", "c2")
	rooms.Leave("lobby", "c1")
	assert.Equal(t, 1, rooms.Members("lobby"))
	rooms.Leave("lobby", "c2")

	assert.Equal(t, 0, rooms.Members("lobby"))
	assert.NotContains(t, rooms.members, "lobby", "empty room must be dropped")
}

func TestRoomsBroadcastPrunesOfflineMembers(t *testing.T) {
	transport := newFakeTransport()
	rooms := NewRooms(transport)

	rooms.Join("lobby", "c1")
	rooms.Join("lobby", "gone")
	transport.offline["gone"] = true

	rooms.Broadcast("lobby", []byte(`{"message":"hi"}`))

	assert.Equal(t, 1, rooms.Members("lobby"))
	assert.Len(t, transport.delivered["c1"], 1)
}

func TestRoomsAreIndependent(t *testing.T) {
	transport := newFakeTransport()
	rooms := NewRooms(transport)

	rooms.Join("red", "c1")
	rooms.Join("blue", "c2")

	rooms.Broadcast("red", []byte(`{"message":"red only"}`))

	assert.Len(t, transport.delivered["c1"], 1)
	assert.Empty(t, transport.delivered["c2"])
}
