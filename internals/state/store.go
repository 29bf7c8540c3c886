package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/plazaworld/plaza/internals/config"
	"github.com/plazaworld/plaza/internals/metrics"
	"github.com/plazaworld/plaza/internals/world"
)

// SessionState is what a disconnecting client leaves behind so a later
// reconnect with the same token can resume position and room membership.
// Consumed (read-then-delete) exactly once.
type SessionState struct {
	ID     int64   `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	RoomID int64   `json:"roomId"`
}

// SignalPayload is an opaque WebRTC negotiation payload parked in a one-shot
// mailbox for a specific recipient.
type SignalPayload struct {
	From int64           `json:"from"`
	Data json.RawMessage `json:"data"`
}

// PositionUpdate is a single coalesced position write.
type PositionUpdate struct {
	ID int64   `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// advances the client id counter to the preferred id if it is ahead, so a
// resumed id can never collide with a later fresh allocation
var allocatePreferredScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local preferred = tonumber(ARGV[1])
if preferred > current then
  redis.call('SET', KEYS[1], preferred)
end
return preferred
`)

// Store is the single source of truth shared by every instance: rooms and
// voice messages live in Redis hashes with a per-instance write-through
// cache, players in a set plus per-player hashes, sessions and signal
// mailboxes in expiring keys, rate limits in sliding-window sorted sets and
// id allocation in atomic counters.
type Store struct {
	redis     *redis.Client
	logger    *zap.Logger
	namespace string

	sessionTTL  time.Duration
	voiceTTL    time.Duration
	roomWindow  time.Duration
	voiceWindow time.Duration

	mu            sync.RWMutex
	rooms         map[int64]*world.Room
	voiceMessages map[int64]*world.VoiceMessage
}

func NewStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("Redis connection established",
		zap.String("addr", cfg.Redis.Addr),
		zap.Int("db", cfg.Redis.DB),
	)

	return &Store{
		redis:         client,
		logger:        logger,
		namespace:     cfg.Redis.Namespace,
		sessionTTL:    cfg.World.SessionTTL,
		voiceTTL:      cfg.Voice.TTL,
		roomWindow:    cfg.Rooms.CreationWindow,
		voiceWindow:   cfg.Voice.Window,
		rooms:         make(map[int64]*world.Room),
		voiceMessages: make(map[int64]*world.VoiceMessage),
	}, nil
}

// Initialize loads all rooms and unexpired voice messages from the store
// into the local cache. Voice messages that expired while no instance was
// running are deleted immediately.
func (s *Store) Initialize(ctx context.Context) error {
	storedRooms, err := s.redis.HGetAll(ctx, s.roomHashKey()).Result()
	if err != nil {
		return s.fail("load rooms", err)
	}
	s.mu.Lock()
	for _, raw := range storedRooms {
		var room world.Room
		if err := json.Unmarshal([]byte(raw), &room); err != nil {
			continue // ignore malformed payloads
		}
		room.Normalize()
		s.rooms[room.ID] = &room
	}
	s.mu.Unlock()

	storedMessages, err := s.redis.HGetAll(ctx, s.voiceHashKey()).Result()
	if err != nil {
		return s.fail("load voice messages", err)
	}
	now := time.Now()
	var expired []string
	s.mu.Lock()
	for _, raw := range storedMessages {
		var message world.VoiceMessage
		if err := json.Unmarshal([]byte(raw), &message); err != nil {
			continue
		}
		if message.Expired(now) {
			expired = append(expired, strconv.FormatInt(message.ID, 10))
			continue
		}
		s.voiceMessages[message.ID] = &message
	}
	s.mu.Unlock()
	if len(expired) > 0 {
		if err := s.redis.HDel(ctx, s.voiceHashKey(), expired...).Err(); err != nil {
			return s.fail("drop expired voice messages", err)
		}
	}

	s.logger.Info("State store initialized",
		zap.Int("rooms", len(storedRooms)),
		zap.Int("voice_messages", len(storedMessages)-len(expired)),
	)
	s.updateGauges()
	return nil
}

// AllocateClientID returns a process-wide unique id. A preferred id (from a
// resumed session) advances the counter when it is ahead of it, so it can
// never collide with a still-larger future allocation.
func (s *Store) AllocateClientID(ctx context.Context, preferredID int64) (int64, error) {
	if preferredID > 0 {
		if err := allocatePreferredScript.Run(ctx, s.redis, []string{s.clientCounterKey()}, preferredID).Err(); err != nil {
			return 0, s.fail("allocate preferred client id", err)
		}
		return preferredID, nil
	}
	id, err := s.redis.Incr(ctx, s.clientCounterKey()).Result()
	if err != nil {
		return 0, s.fail("allocate client id", err)
	}
	return id, nil
}

func (s *Store) GetPopulation(ctx context.Context) (int64, error) {
	count, err := s.redis.SCard(ctx, s.playerSetKey()).Result()
	if err != nil {
		return 0, s.fail("get population", err)
	}
	return count, nil
}

func (s *Store) GetAllPlayers(ctx context.Context) ([]*world.Player, error) {
	ids, err := s.redis.SMembers(ctx, s.playerSetKey()).Result()
	if err != nil {
		return nil, s.fail("list players", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		playerID, _ := strconv.ParseInt(id, 10, 64)
		cmds[i] = pipe.HGetAll(ctx, s.playerKey(playerID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, s.fail("fetch players", err)
	}
	players := make([]*world.Player, 0, len(ids))
	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		id, _ := strconv.ParseInt(ids[i], 10, 64)
		players = append(players, playerFromHash(id, data))
	}
	return players, nil
}

func playerFromHash(id int64, data map[string]string) *world.Player {
	x, _ := strconv.ParseFloat(data["x"], 64)
	y, _ := strconv.ParseFloat(data["y"], 64)
	var roomID int64
	if data["roomId"] != "" {
		roomID, _ = strconv.ParseInt(data["roomId"], 10, 64)
	}
	networkKey := data["networkKey"]
	if networkKey == "" {
		networkKey = "unknown"
	}
	return &world.Player{
		ID:         id,
		X:          x,
		Y:          y,
		RoomID:     roomID,
		NetworkKey: networkKey,
		SessionID:  data["sessionId"],
		ServerID:   data["serverId"],
		Name:       data["name"],
	}
}

func (s *Store) PersistPlayer(ctx context.Context, player *world.Player) error {
	roomID := ""
	if player.RoomID != 0 {
		roomID = strconv.FormatInt(player.RoomID, 10)
	}
	fields := map[string]interface{}{
		"id":         player.ID,
		"x":          player.X,
		"y":          player.Y,
		"roomId":     roomID,
		"networkKey": player.NetworkKey,
		"sessionId":  player.SessionID,
		"serverId":   player.ServerID,
		"name":       player.Name,
	}
	if err := s.redis.HSet(ctx, s.playerKey(player.ID), fields).Err(); err != nil {
		return s.fail("persist player", err)
	}
	if err := s.redis.SAdd(ctx, s.playerSetKey(), player.ID).Err(); err != nil {
		return s.fail("register player", err)
	}
	return nil
}

func (s *Store) SavePlayerPositions(ctx context.Context, batch []PositionUpdate) error {
	if len(batch) == 0 {
		return nil
	}
	pipe := s.redis.Pipeline()
	for _, update := range batch {
		pipe.HSet(ctx, s.playerKey(update.ID), "x", update.X, "y", update.Y)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return s.fail("save positions", err)
	}
	return nil
}

func (s *Store) RemovePlayer(ctx context.Context, playerID int64) error {
	if err := s.redis.SRem(ctx, s.playerSetKey(), playerID).Err(); err != nil {
		return s.fail("deregister player", err)
	}
	if err := s.redis.Del(ctx, s.playerKey(playerID)).Err(); err != nil {
		return s.fail("remove player", err)
	}
	return nil
}

func (s *Store) SaveSession(ctx context.Context, sessionID string, data SessionState) error {
	if sessionID == "" {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.sessionKey(sessionID), raw, s.sessionTTL).Err(); err != nil {
		return s.fail("save session", err)
	}
	return nil
}

// ConsumeSession reads and deletes a resume session. Returns nil when no
// session exists for the token.
func (s *Store) ConsumeSession(ctx context.Context, sessionID string) (*SessionState, error) {
	if sessionID == "" {
		return nil, nil
	}
	key := s.sessionKey(sessionID)
	raw, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail("read session", err)
	}
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		return nil, s.fail("consume session", err)
	}
	var session SessionState
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, nil
	}
	return &session, nil
}

// GetRooms returns a snapshot copy of the room cache, ordered by id.
func (s *Store) GetRooms() []*world.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]*world.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, copyRoom(room))
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms
}

func (s *Store) GetRoom(id int64) *world.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil
	}
	return copyRoom(room)
}

func copyRoom(room *world.Room) *world.Room {
	cloned := *room
	cloned.Members = append([]int64(nil), room.Members...)
	cloned.Participants = append([]world.Participant(nil), room.Participants...)
	cloned.Roles = append([]string(nil), room.Roles...)
	cloned.Normalize()
	return &cloned
}

func (s *Store) CreateRoom(ctx context.Context, room *world.Room) (*world.Room, error) {
	id, err := s.redis.Incr(ctx, s.roomCounterKey()).Result()
	if err != nil {
		return nil, s.fail("allocate room id", err)
	}
	room.ID = id
	room.CreatedAt = time.Now().UnixMilli()
	room.Normalize()
	if err := s.writeRoom(ctx, room); err != nil {
		return nil, err
	}
	return copyRoom(room), nil
}

func (s *Store) UpdateRoom(ctx context.Context, room *world.Room) error {
	room.Normalize()
	return s.writeRoom(ctx, room)
}

func (s *Store) writeRoom(ctx context.Context, room *world.Room) error {
	raw, err := json.Marshal(room)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.rooms[room.ID] = copyRoom(room)
	s.mu.Unlock()
	if err := s.redis.HSet(ctx, s.roomHashKey(), strconv.FormatInt(room.ID, 10), raw).Err(); err != nil {
		return s.fail("write room", err)
	}
	s.updateGauges()
	return nil
}

func (s *Store) RemoveRoom(ctx context.Context, roomID int64) error {
	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
	if err := s.redis.HDel(ctx, s.roomHashKey(), strconv.FormatInt(roomID, 10)).Err(); err != nil {
		return s.fail("remove room", err)
	}
	s.updateGauges()
	return nil
}

// AddRoomMember adds the member id if absent and returns the updated room,
// or nil when the room no longer exists.
func (s *Store) AddRoomMember(ctx context.Context, roomID, memberID int64) (*world.Room, error) {
	room := s.GetRoom(roomID)
	if room == nil {
		return nil, nil
	}
	if !room.HasMember(memberID) {
		room.Members = append(room.Members, memberID)
		if err := s.UpdateRoom(ctx, room); err != nil {
			return nil, err
		}
	}
	return room, nil
}

func (s *Store) RemoveRoomMember(ctx context.Context, roomID, memberID int64) (*world.Room, error) {
	room := s.GetRoom(roomID)
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
	if err := s.UpdateRoom(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

// AddRoomParticipant upserts the participant record keyed by id, keeping
// join order for existing entries.
func (s *Store) AddRoomParticipant(ctx context.Context, roomID int64, participant world.Participant) (*world.Room, error) {
	room := s.GetRoom(roomID)
	if room == nil {
		return nil, nil
	}
	replaced := false
	for i := range room.Participants {
		if room.Participants[i].ID == participant.ID {
			room.Participants[i] = participant
			replaced = true
			break
		}
	}
	if !replaced {
		room.Participants = append(room.Participants, participant)
	}
	if err := s.UpdateRoom(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

func (s *Store) RemoveRoomParticipant(ctx context.Context, roomID, memberID int64) (*world.Room, error) {
	room := s.GetRoom(roomID)
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
	if err := s.UpdateRoom(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

// ApplyRemoteRoom installs a room replicated from another instance.
// A private room arriving without its password hash keeps whatever hash
// we already hold, so a stripped payload cannot wipe the stored one.
func (s *Store) ApplyRemoteRoom(ctx context.Context, room *world.Room) error {
	if room == nil || room.ID == 0 {
		return nil
	}
	room.Normalize()
	if room.Type == world.VisibilityPrivate && room.PasswordHash == "" {
		s.mu.RLock()
		if existing, ok := s.rooms[room.ID]; ok {
			room.PasswordHash = existing.PasswordHash
		}
		s.mu.RUnlock()
	}
	return s.writeRoom(ctx, room)
}

func (s *Store) GetVoiceMessages() []*world.VoiceMessage {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	messages := make([]*world.VoiceMessage, 0, len(s.voiceMessages))
	for _, message := range s.voiceMessages {
		if !message.Expired(now) {
			cloned := *message
			messages = append(messages, &cloned)
		}
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].ID < messages[j].ID })
	return messages
}

func (s *Store) CreateVoiceMessage(ctx context.Context, message *world.VoiceMessage) (*world.VoiceMessage, error) {
	id, err := s.redis.Incr(ctx, s.voiceCounterKey()).Result()
	if err != nil {
		return nil, s.fail("allocate voice message id", err)
	}
	now := time.Now().UnixMilli()
	message.ID = id
	message.CreatedAt = now
	message.ExpiresAt = now + s.voiceTTL.Milliseconds()
	if err := s.writeVoiceMessage(ctx, message); err != nil {
		return nil, err
	}
	cloned := *message
	return &cloned, nil
}

func (s *Store) writeVoiceMessage(ctx context.Context, message *world.VoiceMessage) error {
	raw, err := json.Marshal(message)
	if err != nil {
		return err
	}
	s.mu.Lock()
	cloned := *message
	s.voiceMessages[message.ID] = &cloned
	s.mu.Unlock()
	if err := s.redis.HSet(ctx, s.voiceHashKey(), strconv.FormatInt(message.ID, 10), raw).Err(); err != nil {
		return s.fail("write voice message", err)
	}
	s.updateGauges()
	return nil
}

func (s *Store) RemoveVoiceMessage(ctx context.Context, messageID int64) (bool, error) {
	s.mu.Lock()
	delete(s.voiceMessages, messageID)
	s.mu.Unlock()
	removed, err := s.redis.HDel(ctx, s.voiceHashKey(), strconv.FormatInt(messageID, 10)).Result()
	if err != nil {
		return false, s.fail("remove voice message", err)
	}
	s.updateGauges()
	return removed > 0, nil
}

func (s *Store) ApplyRemoteVoiceMessage(ctx context.Context, message *world.VoiceMessage) error {
	if message == nil || message.ID == 0 {
		return nil
	}
	return s.writeVoiceMessage(ctx, message)
}

// PruneVoiceMessages removes every expired entry and returns the removed
// ids so the caller can broadcast their removal.
func (s *Store) PruneVoiceMessages(ctx context.Context) ([]int64, error) {
	now := time.Now()
	var expired []int64
	s.mu.Lock()
	for id, message := range s.voiceMessages {
		if message.Expired(now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(s.voiceMessages, id)
	}
	s.mu.Unlock()
	if len(expired) == 0 {
		return nil, nil
	}
	fields := make([]string, len(expired))
	for i, id := range expired {
		fields[i] = strconv.FormatInt(id, 10)
	}
	if err := s.redis.HDel(ctx, s.voiceHashKey(), fields...).Err(); err != nil {
		return nil, s.fail("prune voice messages", err)
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i] < expired[j] })
	s.updateGauges()
	return expired, nil
}

// RegisterRoomCreation appends the current timestamp to the client's
// sliding window and returns its cardinality; the caller compares against
// the limit.
func (s *Store) RegisterRoomCreation(ctx context.Context, playerID int64) (int64, error) {
	return s.registerWindowed(ctx, s.roomCreationKey(playerID), s.roomWindow)
}

func (s *Store) RegisterVoiceMessageCreation(ctx context.Context, playerID int64) (int64, error) {
	return s.registerWindowed(ctx, s.voiceCreationKey(playerID), s.voiceWindow)
}

func (s *Store) registerWindowed(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()
	score := float64(now.UnixMilli())
	member := strconv.FormatInt(now.UnixNano(), 10)
	pipe := s.redis.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(now.UnixMilli()-window.Milliseconds(), 10))
	pipe.PExpire(ctx, key, window)
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, s.fail("register creation", err)
	}
	return card.Val(), nil
}

// SaveSignal parks an opaque payload in the target's mailbox and returns
// the generated signal id.
func (s *Store) SaveSignal(ctx context.Context, targetID int64, payload SignalPayload) (string, error) {
	signalID := uuid.NewString()
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	if err := s.redis.Set(ctx, s.signalKey(targetID, signalID), raw, SignalTTL).Err(); err != nil {
		return "", s.fail("save signal", err)
	}
	return signalID, nil
}

// ConsumeSignal reads and deletes a mailbox entry. A second call for the
// same id returns nil.
func (s *Store) ConsumeSignal(ctx context.Context, targetID int64, signalID string) (*SignalPayload, error) {
	key := s.signalKey(targetID, signalID)
	raw, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail("read signal", err)
	}
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		return nil, s.fail("consume signal", err)
	}
	var payload SignalPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil
	}
	return &payload, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

func (s *Store) Client() *redis.Client {
	return s.redis
}

func (s *Store) Close() error {
	if err := s.redis.Close(); err != nil {
		s.logger.Error("Failed to close Redis connection", zap.Error(err))
		return err
	}
	return nil
}

func (s *Store) fail(op string, err error) error {
	metrics.RedisErrorsTotal.Inc()
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Store) updateGauges() {
	s.mu.RLock()
	rooms := len(s.rooms)
	messages := len(s.voiceMessages)
	s.mu.RUnlock()
	metrics.ActiveRooms.Set(float64(rooms))
	metrics.ActiveVoiceMessages.Set(float64(messages))
}
