package gateway

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/plazaworld/plaza/internals/config"
	"github.com/plazaworld/plaza/internals/events"
	"github.com/plazaworld/plaza/internals/state"
	"github.com/plazaworld/plaza/internals/world"
)

// fakeStore is an in-memory stand-in for the Redis-backed store.
type fakeStore struct {
	mu sync.Mutex

	nextID        int64
	players       map[int64]*world.Player
	sessions      map[string]state.SessionState
	rooms         map[int64]*world.Room
	nextRoomID    int64
	voiceMessages map[int64]*world.VoiceMessage
	nextVoiceID   int64
	roomAttempts  map[int64]int64
	voiceAttempts map[int64]int64
	signals       map[string]state.SignalPayload
	nextSignal    int
	removed       []int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		players:       make(map[int64]*world.Player),
		sessions:      make(map[string]state.SessionState),
		rooms:         make(map[int64]*world.Room),
		voiceMessages: make(map[int64]*world.VoiceMessage),
		roomAttempts:  make(map[int64]int64),
		voiceAttempts: make(map[int64]int64),
		signals:       make(map[string]state.SignalPayload),
	}
}

func (s *fakeStore) AllocateClientID(ctx context.Context, preferredID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if preferredID > 0 {
		if preferredID > s.nextID {
			s.nextID = preferredID
		}
		return preferredID, nil
	}
	s.nextID++
	return s.nextID, nil
}

func (s *fakeStore) GetPopulation(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.players)), nil
}

func (s *fakeStore) GetAllPlayers(ctx context.Context) ([]*world.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	players := make([]*world.Player, 0, len(s.players))
	for _, player := range s.players {
		copied := *player
		players = append(players, &copied)
	}
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })
	return players, nil
}

func (s *fakeStore) PersistPlayer(ctx context.Context, player *world.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *player
	s.players[player.ID] = &copied
	return nil
}

func (s *fakeStore) RemovePlayer(ctx context.Context, playerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.players, playerID)
	s.removed = append(s.removed, playerID)
	return nil
}

func (s *fakeStore) SaveSession(ctx context.Context, sessionID string, data state.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = data
	return nil
}

func (s *fakeStore) ConsumeSession(ctx context.Context, sessionID string) (*state.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	delete(s.sessions, sessionID)
	return &data, nil
}

func (s *fakeStore) GetRooms() []*world.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]*world.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms
}

func (s *fakeStore) GetRoom(id int64) *world.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[id]
}

func (s *fakeStore) CreateRoom(ctx context.Context, room *world.Room) (*world.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRoomID++
	room.ID = s.nextRoomID
	room.CreatedAt = time.Now().UnixMilli()
	room.Normalize()
	s.rooms[room.ID] = room
	return room, nil
}

func (s *fakeStore) UpdateRoom(ctx context.Context, room *world.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID] = room
	return nil
}

func (s *fakeStore) RemoveRoom(ctx context.Context, roomID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	return nil
}

func (s *fakeStore) AddRoomMember(ctx context.Context, roomID, memberID int64) (*world.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.rooms[roomID]
	if room == nil {
		return nil, nil
	}
	if !room.HasMember(memberID) {
		room.Members = append(room.Members, memberID)
	}
	return room, nil
}

func (s *fakeStore) RemoveRoomMember(ctx context.Context, roomID, memberID int64) (*world.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.rooms[roomID]
	if room == nil {
		return nil, nil
	}
	members := room.Members[:0]
	for _, member := range room.Members {
		if member != memberID {
			members = append(members, member)
		}
	}
	room.Members = members
	return room, nil
}

func (s *fakeStore) AddRoomParticipant(ctx context.Context, roomID int64, participant world.Participant) (*world.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.rooms[roomID]
	if room == nil {
		return nil, nil
	}
	for i := range room.Participants {
		if room.Participants[i].ID == participant.ID {
			room.Participants[i] = participant
			return room, nil
		}
	}
	room.Participants = append(room.Participants, participant)
	return room, nil
}

func (s *fakeStore) RemoveRoomParticipant(ctx context.Context, roomID, memberID int64) (*world.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.rooms[roomID]
	if room == nil {
		return nil, nil
	}
	participants := room.Participants[:0]
	for _, participant := range room.Participants {
		if participant.ID != memberID {
			participants = append(participants, participant)
		}
	}
	room.Participants = participants
	return room, nil
}

func (s *fakeStore) ApplyRemoteRoom(ctx context.Context, room *world.Room) error {
	if room == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	room.Normalize()
	if room.Type == world.VisibilityPrivate && room.PasswordHash == "" {
		if existing, ok := s.rooms[room.ID]; ok {
			room.PasswordHash = existing.PasswordHash
		}
	}
	s.rooms[room.ID] = room
	if room.ID > s.nextRoomID {
		s.nextRoomID = room.ID
	}
	return nil
}

func (s *fakeStore) GetVoiceMessages() []*world.VoiceMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := make([]*world.VoiceMessage, 0, len(s.voiceMessages))
	for _, message := range s.voiceMessages {
		messages = append(messages, message)
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].ID < messages[j].ID })
	return messages
}

func (s *fakeStore) CreateVoiceMessage(ctx context.Context, message *world.VoiceMessage) (*world.VoiceMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextVoiceID++
	message.ID = s.nextVoiceID
	message.CreatedAt = time.Now().UnixMilli()
	message.ExpiresAt = message.CreatedAt + time.Hour.Milliseconds()
	s.voiceMessages[message.ID] = message
	return message, nil
}

func (s *fakeStore) RemoveVoiceMessage(ctx context.Context, messageID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.voiceMessages[messageID]
	delete(s.voiceMessages, messageID)
	return ok, nil
}

func (s *fakeStore) ApplyRemoteVoiceMessage(ctx context.Context, message *world.VoiceMessage) error {
	if message == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voiceMessages[message.ID] = message
	return nil
}

func (s *fakeStore) PruneVoiceMessages(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var removed []int64
	for id, message := range s.voiceMessages {
		if message.Expired(now) {
			delete(s.voiceMessages, id)
			removed = append(removed, id)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return removed, nil
}

func (s *fakeStore) RegisterRoomCreation(ctx context.Context, playerID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomAttempts[playerID]++
	return s.roomAttempts[playerID], nil
}

func (s *fakeStore) RegisterVoiceMessageCreation(ctx context.Context, playerID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voiceAttempts[playerID]++
	return s.voiceAttempts[playerID], nil
}

func (s *fakeStore) SaveSignal(ctx context.Context, targetID int64, payload state.SignalPayload) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSignal++
	signalID := "signal-" + strconv.Itoa(s.nextSignal)
	s.signals[signalKey(targetID, signalID)] = payload
	return signalID, nil
}

func (s *fakeStore) ConsumeSignal(ctx context.Context, targetID int64, signalID string) (*state.SignalPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.signals[signalKey(targetID, signalID)]
	if !ok {
		return nil, nil
	}
	delete(s.signals, signalKey(targetID, signalID))
	return &payload, nil
}

func signalKey(targetID int64, signalID string) string {
	return strconv.FormatInt(targetID, 10) + "/" + signalID
}

// fakeBus records everything published instead of touching Redis.
type fakeBus struct {
	mu       sync.Mutex
	types    []string
	payloads []interface{}
	pointers []events.SignalPointer
}

func (b *fakeBus) PublishWorld(ctx context.Context, eventType string, message interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.types = append(b.types, eventType)
	b.payloads = append(b.payloads, message)
	return nil
}

func (b *fakeBus) PublishSignal(ctx context.Context, pointer events.SignalPointer) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pointers = append(b.pointers, pointer)
	return nil
}

func (b *fakeBus) eventTypes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.types...)
}

type fakeQueue struct {
	mu      sync.Mutex
	updates []state.PositionUpdate
}

func (q *fakeQueue) Enqueue(update state.PositionUpdate) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.updates = append(q.updates, update)
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			MaxClients:      100,
			WSReadLimit:     1 << 20,
			WSWriteTimeout:  5 * time.Second,
			WSPongTimeout:   30 * time.Second,
			WSPingInterval:  25 * time.Second,
			RateLimitPerSec: 1000,
			RateLimitBurst:  1000,
		},
		World: config.WorldConfig{
			SpawnDistanceBase:     280,
			SpawnDistanceVariance: 180,
		},
		Rooms: config.RoomConfig{
			MaxCapacity:       100,
			BaseRadius:        180,
			GrowthRatio:       0.45,
			CreationLimit:     3,
			PasswordMinLength: 4,
			NameMinLength:     2,
			NameMaxLength:     40,
			RoleMax:           8,
			RoleNameMaxLength: 30,
		},
		Voice: config.VoiceConfig{
			TTL:        24 * time.Hour,
			Radius:     70,
			DailyLimit: 3,
			MaxBytes:   650000,
		},
	}
}

func newTestGateway(t *testing.T) (*Gateway, *fakeStore, *fakeBus, *fakeQueue) {
	t.Helper()
	store := newFakeStore()
	bus := &fakeBus{}
	queue := &fakeQueue{}
	gw := New(testConfig(), store, bus, queue, NewHub(zap.NewNop()), "server-a", zap.NewNop())
	return gw, store, bus, queue
}

// newTestClient builds a registered client without a live socket; outbound
// messages accumulate in its send buffer.
func newTestClient(gw *Gateway, id int64) *Client {
	client := NewClient(world.Player{ID: id, SessionID: "session"}, nil, testConfig().Server, zap.NewNop())
	gw.hub.clients[id] = client
	return client
}

// takeMessage pops the next buffered outbound message as a generic map.
func takeMessage(t *testing.T, client *Client) map[string]interface{} {
	t.Helper()
	select {
	case raw := <-client.send:
		var decoded map[string]interface{}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("invalid outbound JSON: %v", err)
		}
		return decoded
	default:
		t.Fatal("no outbound message buffered")
		return nil
	}
}

func noMessage(t *testing.T, client *Client) {
	t.Helper()
	select {
	case raw := <-client.send:
		t.Fatalf("unexpected outbound message: %s", raw)
	default:
	}
}
