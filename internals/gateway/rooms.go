package gateway

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/plazaworld/plaza/internals/metrics"
	"github.com/plazaworld/plaza/internals/world"
)

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func (g *Gateway) handleCreateRoom(ctx context.Context, client *Client, raw []byte) {
	var msg createRoomMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.X == nil || msg.Y == nil {
		client.SendJSON(roomCreateResult{Type: "room-create-result", Reason: ReasonInvalid})
		return
	}

	capacity := g.cfg.Rooms.MaxCapacity
	if msg.Capacity != nil && !math.IsNaN(*msg.Capacity) {
		capacity = int(math.Floor(*msg.Capacity))
	}
	if capacity < 1 {
		capacity = 1
	}
	if capacity > g.cfg.Rooms.MaxCapacity {
		capacity = g.cfg.Rooms.MaxCapacity
	}

	attempts, err := g.store.RegisterRoomCreation(ctx, client.ID)
	if err != nil {
		g.logger.Error("Failed to register room creation", zap.Error(err))
		return
	}
	if attempts > int64(g.cfg.Rooms.CreationLimit) {
		metrics.RecordRateLimit("room-creation")
		client.SendJSON(roomCreateResult{Type: "room-create-result", Reason: ReasonRateLimit})
		return
	}

	if g.geometry.RoomsOverlap(g.store.GetRooms(), *msg.X, *msg.Y, capacity) {
		client.SendJSON(roomCreateResult{Type: "room-create-result", Reason: ReasonOverlap})
		return
	}

	name := world.SanitizeRoomName(msg.Name, g.cfg.Rooms.NameMaxLength)
	if len([]rune(name)) < g.cfg.Rooms.NameMinLength {
		client.SendJSON(roomCreateResult{Type: "room-create-result", Reason: ReasonInvalidName})
		return
	}

	roomType := world.VisibilityPublic
	if msg.Visibility == world.VisibilityPrivate {
		roomType = world.VisibilityPrivate
	}
	var passwordHash string
	if roomType == world.VisibilityPrivate {
		password := strings.TrimSpace(msg.Password)
		if len(password) < g.cfg.Rooms.PasswordMinLength {
			client.SendJSON(roomCreateResult{Type: "room-create-result", Reason: ReasonInvalidPassword})
			return
		}
		passwordHash = world.HashRoomPassword(password)
	}

	player := client.Player()
	room, err := g.store.CreateRoom(ctx, &world.Room{
		OwnerID:      client.ID,
		OwnerName:    world.ResolveDisplayName(player.Name, player.SessionID, client.ID),
		Name:         name,
		Type:         roomType,
		Capacity:     capacity,
		X:            *msg.X,
		Y:            *msg.Y,
		PasswordHash: passwordHash,
	})
	if err != nil {
		g.logger.Error("Failed to create room", zap.Error(err))
		return
	}

	g.broadcastWorld(ctx, "room-created", roomCreatedMessage{Type: "room-created", Room: room})
	client.SendJSON(roomCreateResult{Type: "room-create-result", Success: true, RoomID: room.ID})
}

func (g *Gateway) handleRoomJoin(ctx context.Context, client *Client, raw []byte) {
	var msg roomJoinMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.RoomID == nil {
		return
	}
	roomID := *msg.RoomID

	room := g.store.GetRoom(roomID)
	if room == nil {
		client.SendJSON(roomJoinResult{Type: "room-join-result", RoomID: roomID, Reason: ReasonMissing})
		return
	}
	if client.Player().RoomID == roomID {
		client.SendJSON(roomJoinResult{Type: "room-join-result", RoomID: roomID, Success: true})
		return
	}
	if len(room.Members) >= room.Capacity {
		client.SendJSON(roomJoinResult{Type: "room-join-result", RoomID: roomID, Reason: ReasonFull})
		return
	}
	if room.Type == world.VisibilityPrivate && room.OwnerID != client.ID {
		password := strings.TrimSpace(msg.Password)
		if password == "" || room.PasswordHash == "" {
			client.SendJSON(roomJoinResult{Type: "room-join-result", RoomID: roomID, Reason: ReasonPasswordRequired})
			return
		}
		if !world.VerifyRoomPassword(room.PasswordHash, password) {
			client.SendJSON(roomJoinResult{Type: "room-join-result", RoomID: roomID, Reason: ReasonWrongPassword})
			return
		}
	}

	// A client is in at most one room: leave the old one first, and only
	// then add the new membership.
	if client.Player().RoomID != 0 {
		g.leaveCurrentRoom(ctx, client, 0, 0)
	}
	if _, err := g.store.AddRoomMember(ctx, roomID, client.ID); err != nil {
		g.logger.Error("Failed to add room member", zap.Error(err))
		return
	}
	updated, err := g.store.AddRoomParticipant(ctx, roomID, g.buildParticipant(client))
	if err != nil {
		g.logger.Error("Failed to add room participant", zap.Error(err))
		return
	}
	client.SetRoom(roomID)
	g.persistSession(ctx, client, roomID)
	g.syncPlayerRecord(ctx, client)
	if updated != nil {
		g.broadcastWorld(ctx, "room-updated", roomUpdatedMessage{Type: "room-updated", Room: updated})
	}
	client.SendJSON(roomJoinResult{Type: "room-join-result", RoomID: roomID, Success: true})
}

func (g *Gateway) handleRoomManage(ctx context.Context, client *Client, raw []byte) {
	var msg roomManageMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.RoomID == nil {
		client.SendJSON(roomManageResult{Type: "room-manage-result", Reason: ReasonInvalidRoom})
		return
	}
	roomID := *msg.RoomID

	room := g.store.GetRoom(roomID)
	if room == nil {
		client.SendJSON(roomManageResult{Type: "room-manage-result", Reason: ReasonMissing, RoomID: roomID})
		return
	}
	if room.OwnerID != client.ID {
		client.SendJSON(roomManageResult{Type: "room-manage-result", Reason: ReasonForbidden, RoomID: roomID})
		return
	}

	name := room.Name
	if msg.Name != nil {
		name = *msg.Name
	}
	name = world.SanitizeRoomName(name, g.cfg.Rooms.NameMaxLength)
	if len([]rune(name)) < g.cfg.Rooms.NameMinLength {
		client.SendJSON(roomManageResult{Type: "room-manage-result", Reason: ReasonInvalidName, RoomID: roomID})
		return
	}

	capacity := room.Capacity
	if msg.Capacity != nil && !math.IsNaN(*msg.Capacity) {
		capacity = int(math.Floor(*msg.Capacity))
	}
	if capacity < 1 {
		capacity = 1
	}
	if capacity > g.cfg.Rooms.MaxCapacity {
		capacity = g.cfg.Rooms.MaxCapacity
	}
	// Capacity can never drop below the current member count.
	if capacity < len(room.Members) {
		capacity = len(room.Members)
	}

	roomType := world.VisibilityPublic
	if msg.Visibility == world.VisibilityPrivate {
		roomType = world.VisibilityPrivate
	}
	passwordHash := room.PasswordHash
	password := strings.TrimSpace(msg.Password)
	if roomType == world.VisibilityPrivate {
		if passwordHash == "" && len(password) < g.cfg.Rooms.PasswordMinLength {
			client.SendJSON(roomManageResult{Type: "room-manage-result", Reason: ReasonInvalidPassword, RoomID: roomID})
			return
		}
		if len(password) >= g.cfg.Rooms.PasswordMinLength {
			passwordHash = world.HashRoomPassword(password)
		}
	} else {
		passwordHash = ""
	}

	room.Name = name
	room.Capacity = capacity
	room.Type = roomType
	room.PasswordHash = passwordHash
	room.Roles = world.SanitizeRoomRoles(msg.Roles, g.cfg.Rooms.RoleMax, g.cfg.Rooms.RoleNameMaxLength)
	if err := g.store.UpdateRoom(ctx, room); err != nil {
		g.logger.Error("Failed to update room", zap.Error(err))
		return
	}
	g.broadcastWorld(ctx, "room-updated", roomUpdatedMessage{Type: "room-updated", Room: room})
	client.SendJSON(roomManageResult{Type: "room-manage-result", Success: true, RoomID: roomID, Room: room.Wire()})
}

func (g *Gateway) handleRoomTheme(ctx context.Context, client *Client, raw []byte) {
	var msg roomThemeMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.RoomID == nil {
		client.SendJSON(roomThemeResult{Type: "room-theme-result", Reason: ReasonInvalidRoom})
		return
	}
	roomID := *msg.RoomID

	room := g.store.GetRoom(roomID)
	if room == nil {
		client.SendJSON(roomThemeResult{Type: "room-theme-result", Reason: ReasonMissing, RoomID: roomID})
		return
	}
	if room.OwnerID != client.ID {
		client.SendJSON(roomThemeResult{Type: "room-theme-result", Reason: ReasonForbidden, RoomID: roomID})
		return
	}

	room.Theme = world.NormalizeRoomTheme(world.RoomTheme{RingColor: msg.RingColor})
	if err := g.store.UpdateRoom(ctx, room); err != nil {
		g.logger.Error("Failed to update room", zap.Error(err))
		return
	}
	g.broadcastWorld(ctx, "room-updated", roomUpdatedMessage{Type: "room-updated", Room: room})
	client.SendJSON(roomThemeResult{Type: "room-theme-result", Success: true, RoomID: roomID, Room: room.Wire()})
}

func (g *Gateway) handleRoomDelete(ctx context.Context, client *Client, raw []byte) {
	var msg roomDeleteMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.RoomID == nil {
		client.SendJSON(roomDeleteResult{Type: "room-delete-result", Reason: ReasonInvalidRoom})
		return
	}
	roomID := *msg.RoomID

	room := g.store.GetRoom(roomID)
	if room == nil {
		client.SendJSON(roomDeleteResult{Type: "room-delete-result", Reason: ReasonMissing, RoomID: roomID})
		return
	}
	if room.OwnerID != client.ID {
		client.SendJSON(roomDeleteResult{Type: "room-delete-result", Reason: ReasonForbidden, RoomID: roomID})
		return
	}

	memberIDs := append([]int64(nil), room.Members...)
	if err := g.store.RemoveRoom(ctx, roomID); err != nil {
		g.logger.Error("Failed to remove room", zap.Error(err))
		return
	}
	g.broadcastWorld(ctx, "room-removed", roomRemovedMessage{Type: "room-removed", RoomID: roomID})

	// Evict locally attached members; remote members see room-removed via
	// the world channel on their own instance.
	for _, memberID := range memberIDs {
		member, ok := g.hub.Get(memberID)
		if !ok {
			continue
		}
		member.SetRoom(0)
		g.syncPlayerRecord(ctx, member)
		g.persistSession(ctx, member, 0)
		member.SendJSON(roomLeftMessage{Type: "room-left", RoomID: roomID, PlayerID: memberID})
	}

	client.SendJSON(roomDeleteResult{Type: "room-delete-result", Success: true, RoomID: roomID})
}
