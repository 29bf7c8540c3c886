package gateway

import (
	"encoding/json"

	"github.com/plazaworld/plaza/internals/state"
	"github.com/plazaworld/plaza/internals/world"
)

// Failure reason codes reported through *-result messages. The connection
// always stays open; only admission rejects close it.
const (
	ReasonInvalid          = "invalid"
	ReasonRateLimit        = "rate-limit"
	ReasonOverlap          = "overlap"
	ReasonInvalidName      = "invalid-name"
	ReasonInvalidPassword  = "invalid-password"
	ReasonInvalidRoom      = "invalid-room"
	ReasonMissing          = "missing"
	ReasonForbidden        = "forbidden"
	ReasonFull             = "full"
	ReasonPasswordRequired = "password-required"
	ReasonWrongPassword    = "wrong-password"
	ReasonInvalidAudio     = "invalid-audio"
)

// inboundEnvelope carries only the type tag; each handler unmarshals the
// full payload itself. Anything malformed or unrecognized is dropped
// without a reply.
type inboundEnvelope struct {
	Type string `json:"type"`
}

type positionMessage struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type identifyMessage struct {
	Name *string `json:"name"`
}

type createRoomMessage struct {
	X          *float64 `json:"x"`
	Y          *float64 `json:"y"`
	Capacity   *float64 `json:"capacity"`
	Visibility string   `json:"visibility"`
	Name       string   `json:"name"`
	Password   string   `json:"password"`
}

type roomManageMessage struct {
	RoomID     *int64   `json:"roomId"`
	Name       *string  `json:"name"`
	Capacity   *float64 `json:"capacity"`
	Visibility string   `json:"visibility"`
	Password   string   `json:"password"`
	Roles      roleList `json:"roles"`
}

type roomThemeMessage struct {
	RoomID    *int64 `json:"roomId"`
	RingColor string `json:"ringColor"`
}

type roomDeleteMessage struct {
	RoomID *int64 `json:"roomId"`
}

type voiceCreateMessage struct {
	X        *float64 `json:"x"`
	Y        *float64 `json:"y"`
	Audio    string   `json:"audio"`
	MimeType string   `json:"mimeType"`
}

type roomJoinMessage struct {
	RoomID   *int64 `json:"roomId"`
	Password string `json:"password"`
}

type signalMessage struct {
	To   *int64          `json:"to"`
	Data json.RawMessage `json:"data"`
}

// roleList accepts both plain strings and {name: ...} objects, since older
// clients send role entries as objects.
type roleList []string

func (r *roleList) UnmarshalJSON(data []byte) error {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		*r = nil
		return nil
	}
	roles := make([]string, 0, len(entries))
	for _, entry := range entries {
		var plain string
		if err := json.Unmarshal(entry, &plain); err == nil {
			roles = append(roles, plain)
			continue
		}
		var object struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(entry, &object); err == nil {
			roles = append(roles, object.Name)
		}
	}
	*r = roles
	return nil
}

// Outbound messages.

type playerSnapshot struct {
	ID          int64   `json:"id"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	RoomID      *int64  `json:"roomId"`
	DisplayName string  `json:"displayName"`
}

type point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type welcomeMessage struct {
	Type          string                `json:"type"`
	ID            int64                 `json:"id"`
	Population    int64                 `json:"population"`
	MaxPlayers    int                   `json:"maxPlayers"`
	Players       []playerSnapshot      `json:"players"`
	Rooms         []*world.RoomWire     `json:"rooms"`
	VoiceMessages []*world.VoiceMessage `json:"voiceMessages"`
	Position      point                 `json:"position"`
	RoomID        *int64                `json:"roomId"`
}

type fullMessage struct {
	Type       string `json:"type"`
	MaxPlayers int    `json:"maxPlayers"`
}

type playerJoinedMessage struct {
	Type        string  `json:"type"`
	ID          int64   `json:"id"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	RoomID      *int64  `json:"roomId"`
	Population  int64   `json:"population"`
	DisplayName string  `json:"displayName"`
}

type playerUpdatedMessage struct {
	Type        string `json:"type"`
	ID          int64  `json:"id"`
	DisplayName string `json:"displayName"`
}

type playerLeftMessage struct {
	Type        string `json:"type"`
	ID          int64  `json:"id"`
	Population  int64  `json:"population"`
	DisplayName string `json:"displayName"`
}

type positionBroadcast struct {
	Type string  `json:"type"`
	ID   int64   `json:"id"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// roomCreatedMessage and roomUpdatedMessage travel the replication channel
// in stored form so every instance keeps the password hash. HandleWorldEvent
// strips them to roomBroadcast before any socket sees the payload.
type roomCreatedMessage struct {
	Type string      `json:"type"`
	Room *world.Room `json:"room"`
}

type roomCreateResult struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
	RoomID  int64  `json:"roomId,omitempty"`
}

type roomUpdatedMessage struct {
	Type string      `json:"type"`
	Room *world.Room `json:"room"`
}

type roomBroadcast struct {
	Type string          `json:"type"`
	Room *world.RoomWire `json:"room"`
}

type roomRemovedMessage struct {
	Type   string `json:"type"`
	RoomID int64  `json:"roomId"`
}

type roomManageResult struct {
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Reason  string          `json:"reason,omitempty"`
	RoomID  int64           `json:"roomId,omitempty"`
	Room    *world.RoomWire `json:"room,omitempty"`
}

type roomThemeResult struct {
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Reason  string          `json:"reason,omitempty"`
	RoomID  int64           `json:"roomId,omitempty"`
	Room    *world.RoomWire `json:"room,omitempty"`
}

type roomDeleteResult struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
	RoomID  int64  `json:"roomId,omitempty"`
}

type roomJoinResult struct {
	Type    string `json:"type"`
	RoomID  int64  `json:"roomId"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

type roomLeftMessage struct {
	Type     string `json:"type"`
	RoomID   int64  `json:"roomId"`
	PlayerID int64  `json:"playerId"`
}

type voiceMessageCreated struct {
	Type    string              `json:"type"`
	Message *world.VoiceMessage `json:"message"`
}

type voiceCreateResult struct {
	Type      string `json:"type"`
	Success   bool   `json:"success"`
	Reason    string `json:"reason,omitempty"`
	MessageID int64  `json:"messageId,omitempty"`
}

type voiceMessageRemoved struct {
	Type      string `json:"type"`
	MessageID int64  `json:"messageId"`
}

type signalDelivery struct {
	Type string          `json:"type"`
	From int64           `json:"from"`
	Data json.RawMessage `json:"data"`
}

// worldEventPeek is the superset of fields an incoming world event may
// carry; only the ones matching the type tag are meaningful.
type worldEventPeek struct {
	Type      string                 `json:"type"`
	Room      *world.Room            `json:"room"`
	RoomID    int64                  `json:"roomId"`
	Message   *world.VoiceMessage    `json:"message"`
	MessageID int64                  `json:"messageId"`
	Updates   []state.PositionUpdate `json:"updates"`
}

func roomIDOrNil(roomID int64) *int64 {
	if roomID == 0 {
		return nil
	}
	id := roomID
	return &id
}
