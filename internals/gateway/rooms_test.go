package gateway

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plazaworld/plaza/internals/world"
)

func seedRoom(store *fakeStore, room *world.Room) *world.Room {
	room.Normalize()
	store.rooms[room.ID] = room
	if room.ID > store.nextRoomID {
		store.nextRoomID = room.ID
	}
	return room
}

func TestCreateRoomSuccess(t *testing.T) {
	gw, store, bus, _ := newTestGateway(t)
	client := newTestClient(gw, 1)

	gw.dispatch(client, []byte(`{"type":"create-room","x":100,"y":200,"name":"Chill Corner","capacity":8}`))

	result := takeMessage(t, client)
	assert.Equal(t, "room-create-result", result["type"])
	assert.Equal(t, true, result["success"])
	assert.Equal(t, float64(1), result["roomId"])

	room := store.GetRoom(1)
	require.NotNil(t, room)
	assert.Equal(t, "Chill Corner", room.Name)
	assert.Equal(t, int64(1), room.OwnerID)
	assert.Equal(t, 8, room.Capacity)
	assert.Equal(t, world.VisibilityPublic, room.Type)
	assert.Equal(t, []string{"room-created"}, bus.eventTypes())
}

func TestCreateRoomMissingCoordinates(t *testing.T) {
	gw, store, _, _ := newTestGateway(t)
	client := newTestClient(gw, 1)

	gw.dispatch(client, []byte(`{"type":"create-room","name":"No Coords"}`))

	result := takeMessage(t, client)
	assert.Equal(t, ReasonInvalid, result["reason"])
	assert.Empty(t, store.GetRooms())
}

func TestCreateRoomCapacityClamped(t *testing.T) {
	gw, store, _, _ := newTestGateway(t)
	client := newTestClient(gw, 1)

	gw.dispatch(client, []byte(`{"type":"create-room","x":0,"y":0,"name":"Big","capacity":5000}`))
	takeMessage(t, client)
	assert.Equal(t, 100, store.GetRoom(1).Capacity)

	gw.dispatch(client, []byte(`{"type":"create-room","x":10000,"y":10000,"name":"Tiny","capacity":0}`))
	takeMessage(t, client)
	assert.Equal(t, 1, store.GetRoom(2).Capacity)
}

func TestCreateRoomRateLimited(t *testing.T) {
	gw, _, _, _ := newTestGateway(t)
	client := newTestClient(gw, 1)

	for i := 0; i < 3; i++ {
		// Spread the rooms out so overlap never interferes.
		x := float64(i) * 10000
		gw.dispatch(client, []byte(`{"type":"create-room","x":`+jsonNumber(x)+`,"y":0,"name":"Room"}`))
		result := takeMessage(t, client)
		assert.Equal(t, true, result["success"])
	}

	gw.dispatch(client, []byte(`{"type":"create-room","x":90000,"y":0,"name":"Room"}`))
	result := takeMessage(t, client)
	assert.Equal(t, ReasonRateLimit, result["reason"])
}

func TestCreateRoomOverlapRejected(t *testing.T) {
	gw, store, _, _ := newTestGateway(t)
	client := newTestClient(gw, 1)
	seedRoom(store, &world.Room{ID: 1, OwnerID: 2, Name: "Existing", Capacity: 10, X: 0, Y: 0})

	gw.dispatch(client, []byte(`{"type":"create-room","x":50,"y":50,"name":"Too Close"}`))

	result := takeMessage(t, client)
	assert.Equal(t, ReasonOverlap, result["reason"])
	assert.Len(t, store.GetRooms(), 1)
}

func TestCreateRoomNameTooShort(t *testing.T) {
	gw, _, _, _ := newTestGateway(t)
	client := newTestClient(gw, 1)

	gw.dispatch(client, []byte(`{"type":"create-room","x":0,"y":0,"name":" x "}`))

	result := takeMessage(t, client)
	assert.Equal(t, ReasonInvalidName, result["reason"])
}

func TestCreateRoomPrivateRequiresPassword(t *testing.T) {
	gw, store, _, _ := newTestGateway(t)
	client := newTestClient(gw, 1)

	gw.dispatch(client, []byte(`{"type":"create-room","x":0,"y":0,"name":"Secret","visibility":"private","password":"abc"}`))
	result := takeMessage(t, client)
	assert.Equal(t, ReasonInvalidPassword, result["reason"])

	gw.dispatch(client, []byte(`{"type":"create-room","x":0,"y":0,"name":"Secret","visibility":"private","password":"abcd"}`))
	result = takeMessage(t, client)
	assert.Equal(t, true, result["success"])

	room := store.GetRoom(1)
	require.NotNil(t, room)
	assert.Equal(t, world.VisibilityPrivate, room.Type)
	assert.True(t, world.VerifyRoomPassword(room.PasswordHash, "abcd"))
}

func TestRoomJoinMissingRoom(t *testing.T) {
	gw, _, _, _ := newTestGateway(t)
	client := newTestClient(gw, 1)

	gw.dispatch(client, []byte(`{"type":"room-join","roomId":99}`))

	result := takeMessage(t, client)
	assert.Equal(t, ReasonMissing, result["reason"])
}

func TestRoomJoinFullRoom(t *testing.T) {
	gw, store, _, _ := newTestGateway(t)
	client := newTestClient(gw, 1)
	seedRoom(store, &world.Room{ID: 1, OwnerID: 2, Name: "Packed", Capacity: 2, Members: []int64{2, 3}})

	gw.dispatch(client, []byte(`{"type":"room-join","roomId":1}`))

	result := takeMessage(t, client)
	assert.Equal(t, ReasonFull, result["reason"])
}

func TestRoomJoinPrivatePasswordFlow(t *testing.T) {
	gw, store, _, _ := newTestGateway(t)
	client := newTestClient(gw, 1)
	seedRoom(store, &world.Room{
		ID: 1, OwnerID: 2, Name: "Secret", Type: world.VisibilityPrivate,
		Capacity: 10, PasswordHash: world.HashRoomPassword("hunter2"),
	})

	gw.dispatch(client, []byte(`{"type":"room-join","roomId":1}`))
	assert.Equal(t, ReasonPasswordRequired, takeMessage(t, client)["reason"])

	gw.dispatch(client, []byte(`{"type":"room-join","roomId":1,"password":"wrong"}`))
	assert.Equal(t, ReasonWrongPassword, takeMessage(t, client)["reason"])

	gw.dispatch(client, []byte(`{"type":"room-join","roomId":1,"password":"hunter2"}`))
	result := takeMessage(t, client)
	assert.Equal(t, true, result["success"])
	assert.True(t, store.GetRoom(1).HasMember(1))
	assert.Equal(t, int64(1), client.Player().RoomID)
}

func TestRoomJoinOwnerSkipsPassword(t *testing.T) {
	gw, store, _, _ := newTestGateway(t)
	client := newTestClient(gw, 2)
	seedRoom(store, &world.Room{
		ID: 1, OwnerID: 2, Name: "Secret", Type: world.VisibilityPrivate,
		Capacity: 10, PasswordHash: world.HashRoomPassword("hunter2"),
	})

	gw.dispatch(client, []byte(`{"type":"room-join","roomId":1}`))

	assert.Equal(t, true, takeMessage(t, client)["success"])
	assert.True(t, store.GetRoom(1).HasMember(2))
}

func TestRoomJoinLeavesPreviousRoom(t *testing.T) {
	gw, store, bus, _ := newTestGateway(t)
	client := newTestClient(gw, 1)
	seedRoom(store, &world.Room{ID: 1, OwnerID: 2, Name: "First", Capacity: 10, Members: []int64{1},
		Participants: []world.Participant{{ID: 1, DisplayName: "U-1"}}})
	seedRoom(store, &world.Room{ID: 2, OwnerID: 3, Name: "Second", Capacity: 10, X: 10000})
	client.SetRoom(1)

	gw.dispatch(client, []byte(`{"type":"room-join","roomId":2}`))

	assert.Equal(t, true, takeMessage(t, client)["success"])
	assert.False(t, store.GetRoom(1).HasMember(1))
	assert.Empty(t, store.GetRoom(1).Participants)
	assert.True(t, store.GetRoom(2).HasMember(1))
	assert.Equal(t, int64(2), client.Player().RoomID)
	// Leaving the first room replicates before the second join does.
	assert.Equal(t, []string{"room-updated", "room-left", "room-updated"}, bus.eventTypes())
}

func TestRoomJoinAlreadyMemberIsNoop(t *testing.T) {
	gw, store, bus, _ := newTestGateway(t)
	client := newTestClient(gw, 1)
	seedRoom(store, &world.Room{ID: 1, OwnerID: 2, Name: "Here", Capacity: 10, Members: []int64{1}})
	client.SetRoom(1)

	gw.dispatch(client, []byte(`{"type":"room-join","roomId":1}`))

	assert.Equal(t, true, takeMessage(t, client)["success"])
	assert.Equal(t, []int64{1}, store.GetRoom(1).Members)
	assert.Empty(t, bus.eventTypes())
}

func TestRoomLeave(t *testing.T) {
	gw, store, bus, _ := newTestGateway(t)
	client := newTestClient(gw, 1)
	seedRoom(store, &world.Room{ID: 1, OwnerID: 2, Name: "Here", Capacity: 10, Members: []int64{1, 2},
		Participants: []world.Participant{{ID: 1}, {ID: 2}}})
	client.SetRoom(1)

	gw.dispatch(client, []byte(`{"type":"room-leave","roomId":1}`))

	left := takeMessage(t, client)
	assert.Equal(t, "room-left", left["type"])
	assert.Equal(t, float64(1), left["playerId"])
	assert.False(t, store.GetRoom(1).HasMember(1))
	assert.Equal(t, int64(0), client.Player().RoomID)
	assert.Equal(t, []string{"room-updated", "room-left"}, bus.eventTypes())
}

func TestRoomManageForbidden(t *testing.T) {
	gw, store, _, _ := newTestGateway(t)
	client := newTestClient(gw, 1)
	seedRoom(store, &world.Room{ID: 1, OwnerID: 2, Name: "Not Yours", Capacity: 10})

	gw.dispatch(client, []byte(`{"type":"room-manage-update","roomId":1,"name":"Mine Now"}`))

	result := takeMessage(t, client)
	assert.Equal(t, ReasonForbidden, result["reason"])
	assert.Equal(t, "Not Yours", store.GetRoom(1).Name)
}

func TestRoomManageCapacityNeverBelowMembers(t *testing.T) {
	gw, store, _, _ := newTestGateway(t)
	client := newTestClient(gw, 1)
	seedRoom(store, &world.Room{ID: 1, OwnerID: 1, Name: "Busy", Capacity: 10, Members: []int64{1, 2, 3}})

	gw.dispatch(client, []byte(`{"type":"room-manage-update","roomId":1,"capacity":1}`))

	result := takeMessage(t, client)
	assert.Equal(t, true, result["success"])
	assert.Equal(t, 3, store.GetRoom(1).Capacity)
}

func TestRoomManageVisibilityAndPassword(t *testing.T) {
	gw, store, _, _ := newTestGateway(t)
	client := newTestClient(gw, 1)
	seedRoom(store, &world.Room{ID: 1, OwnerID: 1, Name: "Lounge", Capacity: 10})

	// Going private without a password is rejected.
	gw.dispatch(client, []byte(`{"type":"room-manage-update","roomId":1,"visibility":"private"}`))
	assert.Equal(t, ReasonInvalidPassword, takeMessage(t, client)["reason"])

	gw.dispatch(client, []byte(`{"type":"room-manage-update","roomId":1,"visibility":"private","password":"abcd"}`))
	assert.Equal(t, true, takeMessage(t, client)["success"])
	hash := store.GetRoom(1).PasswordHash
	assert.True(t, world.VerifyRoomPassword(hash, "abcd"))

	// Staying private without a new password keeps the old hash.
	gw.dispatch(client, []byte(`{"type":"room-manage-update","roomId":1,"visibility":"private"}`))
	assert.Equal(t, true, takeMessage(t, client)["success"])
	assert.Equal(t, hash, store.GetRoom(1).PasswordHash)

	// Going public drops the hash.
	gw.dispatch(client, []byte(`{"type":"room-manage-update","roomId":1,"visibility":"public"}`))
	assert.Equal(t, true, takeMessage(t, client)["success"])
	assert.Empty(t, store.GetRoom(1).PasswordHash)
	assert.Equal(t, world.VisibilityPublic, store.GetRoom(1).Type)
}

func TestRoomManageRoles(t *testing.T) {
	gw, store, _, _ := newTestGateway(t)
	client := newTestClient(gw, 1)
	seedRoom(store, &world.Room{ID: 1, OwnerID: 1, Name: "Stage", Capacity: 10})

	gw.dispatch(client, []byte(`{"type":"room-manage-update","roomId":1,"roles":["DJ",{"name":"Host"},"dj"]}`))

	assert.Equal(t, true, takeMessage(t, client)["success"])
	assert.Equal(t, []string{"DJ", "Host"}, store.GetRoom(1).Roles)
}

func TestRoomThemeUpdate(t *testing.T) {
	gw, store, _, _ := newTestGateway(t)
	client := newTestClient(gw, 1)
	seedRoom(store, &world.Room{ID: 1, OwnerID: 1, Name: "Stage", Capacity: 10})

	gw.dispatch(client, []byte(`{"type":"room-theme-update","roomId":1,"ringColor":"#AB12EF"}`))
	assert.Equal(t, true, takeMessage(t, client)["success"])
	assert.Equal(t, "#ab12ef", store.GetRoom(1).Theme.RingColor)

	// Invalid colors fall back to the default instead of failing.
	gw.dispatch(client, []byte(`{"type":"room-theme-update","roomId":1,"ringColor":"chartreuse"}`))
	assert.Equal(t, true, takeMessage(t, client)["success"])
	assert.Equal(t, world.DefaultRingColor, store.GetRoom(1).Theme.RingColor)
}

func TestRoomThemeForbidden(t *testing.T) {
	gw, store, _, _ := newTestGateway(t)
	client := newTestClient(gw, 1)
	seedRoom(store, &world.Room{ID: 1, OwnerID: 2, Name: "Stage", Capacity: 10})

	gw.dispatch(client, []byte(`{"type":"room-theme-update","roomId":1,"ringColor":"#ab12ef"}`))

	assert.Equal(t, ReasonForbidden, takeMessage(t, client)["reason"])
}

func TestRoomDeleteEvictsLocalMembers(t *testing.T) {
	gw, store, bus, _ := newTestGateway(t)
	owner := newTestClient(gw, 1)
	member := newTestClient(gw, 2)
	seedRoom(store, &world.Room{ID: 1, OwnerID: 1, Name: "Doomed", Capacity: 10, Members: []int64{1, 2}})
	owner.SetRoom(1)
	member.SetRoom(1)

	gw.dispatch(owner, []byte(`{"type":"room-delete","roomId":1}`))

	assert.Nil(t, store.GetRoom(1))
	assert.Contains(t, bus.eventTypes(), "room-removed")
	assert.Equal(t, int64(0), member.Player().RoomID)
	assert.Equal(t, int64(0), owner.Player().RoomID)

	left := takeMessage(t, member)
	assert.Equal(t, "room-left", left["type"])
	assert.Equal(t, float64(2), left["playerId"])
}

func TestRoomDeleteForbidden(t *testing.T) {
	gw, store, _, _ := newTestGateway(t)
	client := newTestClient(gw, 1)
	seedRoom(store, &world.Room{ID: 1, OwnerID: 2, Name: "Safe", Capacity: 10})

	gw.dispatch(client, []byte(`{"type":"room-delete","roomId":1}`))

	assert.Equal(t, ReasonForbidden, takeMessage(t, client)["reason"])
	assert.NotNil(t, store.GetRoom(1))
}

func TestIdentifyRefreshesRoomsAndBroadcasts(t *testing.T) {
	gw, store, bus, _ := newTestGateway(t)
	client := newTestClient(gw, 1)
	seedRoom(store, &world.Room{ID: 1, OwnerID: 1, Name: "Mine", Capacity: 10,
		Participants: []world.Participant{{ID: 1, DisplayName: "U-1"}}})
	seedRoom(store, &world.Room{ID: 2, OwnerID: 5, Name: "Other", Capacity: 10})

	gw.dispatch(client, []byte(`{"type":"identify","name":"  Ada   Lovelace  "}`))

	assert.Equal(t, "Ada Lovelace", client.Player().Name)
	room := store.GetRoom(1)
	assert.Equal(t, "Ada Lovelace", room.OwnerName)
	assert.Equal(t, "Ada Lovelace", room.Participants[0].DisplayName)
	// Only the touched room replicates, then the player update.
	assert.Equal(t, []string{"room-updated", "player-updated"}, bus.eventTypes())
}

func TestDispatchPosition(t *testing.T) {
	gw, _, _, queue := newTestGateway(t)
	client := newTestClient(gw, 1)

	gw.dispatch(client, []byte(`{"type":"position","x":12.5,"y":-3}`))
	gw.dispatch(client, []byte(`{"type":"position","x":1}`))

	require.Len(t, queue.updates, 1)
	assert.Equal(t, 12.5, queue.updates[0].X)
	assert.Equal(t, -3.0, queue.updates[0].Y)
	player := client.Player()
	assert.Equal(t, 12.5, player.X)
}

func TestDispatchDropsMalformedFrames(t *testing.T) {
	gw, _, bus, queue := newTestGateway(t)
	client := newTestClient(gw, 1)

	gw.dispatch(client, []byte(`not json`))
	gw.dispatch(client, []byte(`{"type":"unknown-thing"}`))

	noMessage(t, client)
	assert.Empty(t, bus.eventTypes())
	assert.Empty(t, queue.updates)
}

func jsonNumber(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
