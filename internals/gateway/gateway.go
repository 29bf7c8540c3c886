package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/plazaworld/plaza/internals/config"
	"github.com/plazaworld/plaza/internals/events"
	"github.com/plazaworld/plaza/internals/metrics"
	"github.com/plazaworld/plaza/internals/state"
	"github.com/plazaworld/plaza/internals/world"
)

// Store is the shared-state surface the gateway depends on. *state.Store
// implements it; tests substitute an in-memory fake.
type Store interface {
	AllocateClientID(ctx context.Context, preferredID int64) (int64, error)
	GetPopulation(ctx context.Context) (int64, error)
	GetAllPlayers(ctx context.Context) ([]*world.Player, error)
	PersistPlayer(ctx context.Context, player *world.Player) error
	RemovePlayer(ctx context.Context, playerID int64) error

	SaveSession(ctx context.Context, sessionID string, data state.SessionState) error
	ConsumeSession(ctx context.Context, sessionID string) (*state.SessionState, error)

	GetRooms() []*world.Room
	GetRoom(id int64) *world.Room
	CreateRoom(ctx context.Context, room *world.Room) (*world.Room, error)
	UpdateRoom(ctx context.Context, room *world.Room) error
	RemoveRoom(ctx context.Context, roomID int64) error
	AddRoomMember(ctx context.Context, roomID, memberID int64) (*world.Room, error)
	RemoveRoomMember(ctx context.Context, roomID, memberID int64) (*world.Room, error)
	AddRoomParticipant(ctx context.Context, roomID int64, participant world.Participant) (*world.Room, error)
	RemoveRoomParticipant(ctx context.Context, roomID, memberID int64) (*world.Room, error)
	ApplyRemoteRoom(ctx context.Context, room *world.Room) error

	GetVoiceMessages() []*world.VoiceMessage
	CreateVoiceMessage(ctx context.Context, message *world.VoiceMessage) (*world.VoiceMessage, error)
	RemoveVoiceMessage(ctx context.Context, messageID int64) (bool, error)
	ApplyRemoteVoiceMessage(ctx context.Context, message *world.VoiceMessage) error
	PruneVoiceMessages(ctx context.Context) ([]int64, error)

	RegisterRoomCreation(ctx context.Context, playerID int64) (int64, error)
	RegisterVoiceMessageCreation(ctx context.Context, playerID int64) (int64, error)

	SaveSignal(ctx context.Context, targetID int64, payload state.SignalPayload) (string, error)
	ConsumeSignal(ctx context.Context, targetID int64, signalID string) (*state.SignalPayload, error)
}

// EventBus publishes world events and signal pointers to every instance.
type EventBus interface {
	PublishWorld(ctx context.Context, eventType string, message interface{}) error
	PublishSignal(ctx context.Context, pointer events.SignalPointer) error
}

// PositionEnqueuer buffers position updates for coalesced flushing.
type PositionEnqueuer interface {
	Enqueue(update state.PositionUpdate)
}

// Gateway runs the per-connection lifecycle: admission, session resume,
// spawn placement, the dispatch loop and teardown. All mutations go through
// the shared store and are replicated over the event bus.
type Gateway struct {
	cfg      *config.Config
	store    Store
	bus      EventBus
	queue    PositionEnqueuer
	hub      *Hub
	geometry world.Geometry
	serverID string
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func New(cfg *config.Config, store Store, bus EventBus, queue PositionEnqueuer, hub *Hub, serverID string, logger *zap.Logger) *Gateway {
	return &Gateway{
		cfg:   cfg,
		store: store,
		bus:   bus,
		queue: queue,
		hub:   hub,
		geometry: world.Geometry{
			BaseRadius:         cfg.Rooms.BaseRadius,
			GrowthRatio:        cfg.Rooms.GrowthRatio,
			VoiceMessageRadius: cfg.Voice.Radius,
		},
		serverID: serverID,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (g *Gateway) Hub() *Hub {
	return g.hub
}

// HandleWebSocket upgrades the connection and runs admission through
// welcome. Store failures close the socket; nothing here tears down the
// process.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}

	ctx := context.Background()

	population, err := g.store.GetPopulation(ctx)
	if err != nil {
		g.logger.Error("Store unavailable during admission", zap.Error(err))
		conn.Close()
		return
	}
	if population >= int64(g.cfg.Server.MaxClients) {
		metrics.ConnectionsRejectedTotal.Inc()
		raw, _ := json.Marshal(fullMessage{Type: "full", MaxPlayers: g.cfg.Server.MaxClients})
		conn.WriteMessage(websocket.TextMessage, raw)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Server full"))
		conn.Close()
		return
	}

	sessionID := ExtractSessionID(r)
	resume, err := g.store.ConsumeSession(ctx, sessionID)
	if err != nil {
		g.logger.Error("Failed to consume session", zap.Error(err))
		conn.Close()
		return
	}

	networkKey := ClientNetworkKey(r)
	allPlayers, err := g.store.GetAllPlayers(ctx)
	if err != nil {
		g.logger.Error("Failed to list players", zap.Error(err))
		conn.Close()
		return
	}

	var preferredID int64
	if resume != nil {
		preferredID = resume.ID
	}
	assignedID, err := g.store.AllocateClientID(ctx, preferredID)
	if err != nil {
		g.logger.Error("Failed to allocate client id", zap.Error(err))
		conn.Close()
		return
	}

	var spawnX, spawnY float64
	if resume != nil {
		spawnX, spawnY = resume.X, resume.Y
		metrics.SessionResumesTotal.Inc()
	} else {
		spawnX, spawnY = world.FindSpawnPosition(allPlayers, networkKey,
			g.cfg.World.SpawnDistanceBase, g.cfg.World.SpawnDistanceVariance)
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	client := NewClient(world.Player{
		ID:         assignedID,
		X:          spawnX,
		Y:          spawnY,
		NetworkKey: networkKey,
		SessionID:  sessionID,
		ServerID:   g.serverID,
	}, conn, g.cfg.Server, g.logger)

	g.hub.Register(client)
	metrics.ConnectionsTotal.Inc()

	var resumedRoomID int64
	if resume != nil && resume.RoomID != 0 {
		room := g.store.GetRoom(resume.RoomID)
		if room != nil && len(room.Members) < room.Capacity {
			if _, err := g.store.AddRoomMember(ctx, room.ID, assignedID); err != nil {
				g.logger.Error("Failed to resume room membership", zap.Error(err))
			} else {
				updated, err := g.store.AddRoomParticipant(ctx, room.ID, g.buildParticipant(client))
				if err != nil {
					g.logger.Error("Failed to resume room participant", zap.Error(err))
				}
				client.SetRoom(room.ID)
				resumedRoomID = room.ID
				if updated != nil {
					g.broadcastWorld(ctx, "room-updated", roomUpdatedMessage{Type: "room-updated", Room: updated})
				}
			}
		}
	}

	player := client.Player()
	if err := g.store.PersistPlayer(ctx, &player); err != nil {
		g.logger.Error("Failed to persist player", zap.Error(err))
		conn.Close()
		return
	}

	snapshots := make([]playerSnapshot, 0, len(allPlayers))
	for _, other := range allPlayers {
		if other.ID == assignedID {
			continue
		}
		snapshots = append(snapshots, playerSnapshot{
			ID:          other.ID,
			X:           other.X,
			Y:           other.Y,
			RoomID:      roomIDOrNil(other.RoomID),
			DisplayName: world.ResolveDisplayName(other.Name, other.SessionID, other.ID),
		})
	}

	rooms := g.store.GetRooms()
	roomWires := make([]*world.RoomWire, len(rooms))
	for i, room := range rooms {
		roomWires[i] = room.Wire()
	}

	population, err = g.store.GetPopulation(ctx)
	if err != nil {
		g.logger.Error("Failed to read population", zap.Error(err))
		conn.Close()
		return
	}

	client.SendJSON(welcomeMessage{
		Type:          "welcome",
		ID:            assignedID,
		Population:    population,
		MaxPlayers:    g.cfg.Server.MaxClients,
		Players:       snapshots,
		Rooms:         roomWires,
		VoiceMessages: g.store.GetVoiceMessages(),
		Position:      point{X: player.X, Y: player.Y},
		RoomID:        roomIDOrNil(resumedRoomID),
	})

	g.persistSession(ctx, client, player.RoomID)
	g.broadcastWorld(ctx, "player-joined", playerJoinedMessage{
		Type:        "player-joined",
		ID:          assignedID,
		X:           player.X,
		Y:           player.Y,
		RoomID:      roomIDOrNil(player.RoomID),
		Population:  population,
		DisplayName: world.ResolveDisplayName(player.Name, player.SessionID, assignedID),
	})

	client.OnMessage = g.dispatch
	client.OnDisconnect = g.teardown

	go client.WritePump()
	go client.ReadPump()

	g.logger.Info("Client connected",
		zap.Int64("client_id", assignedID),
		zap.String("network_key", networkKey),
		zap.Bool("resumed", resume != nil),
	)
}

// dispatch routes one inbound frame by its type tag. Malformed and
// unrecognized messages are dropped without a reply.
func (g *Gateway) dispatch(client *Client, raw []byte) {
	var envelope inboundEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}
	ctx := context.Background()
	switch envelope.Type {
	case "position":
		var msg positionMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.X == nil || msg.Y == nil {
			return
		}
		client.SetPosition(*msg.X, *msg.Y)
		g.queue.Enqueue(state.PositionUpdate{ID: client.ID, X: *msg.X, Y: *msg.Y})
	case "identify":
		var msg identifyMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Name == nil {
			return
		}
		g.handleIdentify(ctx, client, *msg.Name)
	case "create-room":
		g.handleCreateRoom(ctx, client, raw)
	case "room-manage-update":
		g.handleRoomManage(ctx, client, raw)
	case "room-theme-update":
		g.handleRoomTheme(ctx, client, raw)
	case "room-delete":
		g.handleRoomDelete(ctx, client, raw)
	case "voice-message-create":
		g.handleVoiceMessageCreate(ctx, client, raw)
	case "room-join":
		g.handleRoomJoin(ctx, client, raw)
	case "room-leave":
		if client.Player().RoomID != 0 {
			g.leaveCurrentRoom(ctx, client, client.ID, 0)
		}
	case "signal":
		g.handleSignal(ctx, client, raw)
	}
}

// teardown persists a resume session, leaves any current room and removes
// the mirrored player record. Skipped when a newer connection has taken
// over the id.
func (g *Gateway) teardown(client *Client) {
	owned := g.hub.Owns(client)
	g.hub.Unregister(client)
	if !owned {
		return
	}

	ctx := context.Background()
	player := client.Player()
	previousRoomID := player.RoomID

	g.persistSession(ctx, client, previousRoomID)
	g.leaveCurrentRoom(ctx, client, 0, previousRoomID)

	if err := g.store.RemovePlayer(ctx, client.ID); err != nil {
		g.logger.Error("Failed to remove player record", zap.Error(err))
	}
	population, err := g.store.GetPopulation(ctx)
	if err != nil {
		g.logger.Error("Failed to read population", zap.Error(err))
	}
	g.broadcastWorld(ctx, "player-left", playerLeftMessage{
		Type:        "player-left",
		ID:          client.ID,
		Population:  population,
		DisplayName: world.ResolveDisplayName(player.Name, player.SessionID, client.ID),
	})

	g.logger.Info("Client disconnected", zap.Int64("client_id", client.ID))
}

// handleIdentify sets the display name and refreshes it everywhere it is
// mirrored: the player record, rooms the client owns and participant
// entries.
func (g *Gateway) handleIdentify(ctx context.Context, client *Client, name string) {
	sanitized := world.SanitizeDisplayName(name, g.cfg.Rooms.NameMaxLength)
	client.SetName(sanitized)
	player := client.Player()
	if err := g.store.PersistPlayer(ctx, &player); err != nil {
		g.logger.Error("Failed to persist player", zap.Error(err))
		return
	}
	displayName := world.ResolveDisplayName(sanitized, player.SessionID, client.ID)

	for _, room := range g.store.GetRooms() {
		touched := false
		if room.OwnerID == client.ID {
			room.OwnerName = displayName
			touched = true
		}
		for i := range room.Participants {
			if room.Participants[i].ID == client.ID {
				room.Participants[i].DisplayName = displayName
				touched = true
			}
		}
		if !touched {
			continue
		}
		if err := g.store.UpdateRoom(ctx, room); err != nil {
			g.logger.Error("Failed to update room", zap.Error(err))
			continue
		}
		g.broadcastWorld(ctx, "room-updated", roomUpdatedMessage{Type: "room-updated", Room: room})
	}

	g.broadcastWorld(ctx, "player-updated", playerUpdatedMessage{
		Type:        "player-updated",
		ID:          client.ID,
		DisplayName: displayName,
	})
}

// leaveCurrentRoom removes the client from its room, notifies notifyTarget
// directly when set, and records persistRoomID in the resume session (so a
// disconnect can still restore the room just left).
func (g *Gateway) leaveCurrentRoom(ctx context.Context, client *Client, notifyTarget, persistRoomID int64) {
	player := client.Player()
	if player.RoomID == 0 {
		return
	}
	room := g.store.GetRoom(player.RoomID)
	if room == nil {
		client.SetRoom(0)
		return
	}
	if _, err := g.store.RemoveRoomMember(ctx, room.ID, client.ID); err != nil {
		g.logger.Error("Failed to remove room member", zap.Error(err))
	}
	updated, err := g.store.RemoveRoomParticipant(ctx, room.ID, client.ID)
	if err != nil {
		g.logger.Error("Failed to remove room participant", zap.Error(err))
	}
	if updated == nil {
		updated = g.store.GetRoom(room.ID)
	}

	left := roomLeftMessage{Type: "room-left", RoomID: room.ID, PlayerID: client.ID}
	if notifyTarget != 0 {
		if target, ok := g.hub.Get(notifyTarget); ok {
			target.SendJSON(left)
		}
	}

	client.SetRoom(0)
	g.syncPlayerRecord(ctx, client)
	if updated != nil {
		g.broadcastWorld(ctx, "room-updated", roomUpdatedMessage{Type: "room-updated", Room: updated})
	}
	g.broadcastWorld(ctx, "room-left", left)
	g.persistSession(ctx, client, persistRoomID)
}

func (g *Gateway) buildParticipant(client *Client) world.Participant {
	player := client.Player()
	return world.Participant{
		ID:          client.ID,
		DisplayName: world.ResolveDisplayName(player.Name, player.SessionID, client.ID),
		JoinedAt:    nowMillis(),
	}
}

func (g *Gateway) persistSession(ctx context.Context, client *Client, roomID int64) {
	player := client.Player()
	if player.SessionID == "" {
		return
	}
	err := g.store.SaveSession(ctx, player.SessionID, state.SessionState{
		ID:     client.ID,
		X:      player.X,
		Y:      player.Y,
		RoomID: roomID,
	})
	if err != nil {
		g.logger.Error("Failed to save session", zap.Error(err))
	}
}

func (g *Gateway) syncPlayerRecord(ctx context.Context, client *Client) {
	player := client.Player()
	if err := g.store.PersistPlayer(ctx, &player); err != nil {
		g.logger.Error("Failed to persist player", zap.Error(err))
	}
}

// broadcastWorld publishes a world event; local sockets receive it through
// the shared channel like every other instance's.
func (g *Gateway) broadcastWorld(ctx context.Context, eventType string, message interface{}) {
	if err := g.bus.PublishWorld(ctx, eventType, message); err != nil {
		g.logger.Error("Failed to publish world event",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}
