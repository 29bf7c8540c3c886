package world

import (
	"regexp"
	"strings"
	"time"
)

const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"

	DefaultRingColor = "#ffffff"
)

var ringColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Player is the per-connection presence record. The instance holding the
// live socket owns it; a read-only mirror lives in the shared store for
// cross-instance visibility.
type Player struct {
	ID         int64
	X          float64
	Y          float64
	RoomID     int64 // 0 = not in a room; room ids start at 1
	NetworkKey string
	SessionID  string
	ServerID   string
	Name       string
}

// Participant mirrors a member's display identity inside a room, in join
// order, for UI consumption.
type Participant struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"displayName"`
	JoinedAt    int64  `json:"joinedAt"`
}

type RoomTheme struct {
	RingColor string `json:"ringColor"`
}

// Room is the authoritative stored form, including the password hash.
// Use Wire() for anything that leaves the server.
type Room struct {
	ID           int64         `json:"id"`
	OwnerID      int64         `json:"ownerId"`
	OwnerName    string        `json:"ownerName"`
	Name         string        `json:"name"`
	Type         string        `json:"type"`
	Capacity     int           `json:"capacity"`
	X            float64       `json:"x"`
	Y            float64       `json:"y"`
	CreatedAt    int64         `json:"createdAt"`
	Members      []int64       `json:"members"`
	Participants []Participant `json:"participants"`
	Roles        []string      `json:"roles"`
	Theme        RoomTheme     `json:"roomTheme"`
	PasswordHash string        `json:"passwordHash,omitempty"`
}

// RoomWire is the client-facing shape of a room. It never carries the
// password hash.
type RoomWire struct {
	ID           int64         `json:"id"`
	OwnerID      int64         `json:"ownerId"`
	OwnerName    string        `json:"ownerName"`
	Name         string        `json:"name"`
	Type         string        `json:"type"`
	Capacity     int           `json:"capacity"`
	X            float64       `json:"x"`
	Y            float64       `json:"y"`
	CreatedAt    int64         `json:"createdAt"`
	Members      []int64       `json:"members"`
	Participants []Participant `json:"participants"`
	Roles        []string      `json:"roles"`
	Theme        RoomTheme     `json:"roomTheme"`
}

func (r *Room) Wire() *RoomWire {
	if r == nil {
		return nil
	}
	return &RoomWire{
		ID:           r.ID,
		OwnerID:      r.OwnerID,
		OwnerName:    r.OwnerName,
		Name:         r.Name,
		Type:         r.Type,
		Capacity:     r.Capacity,
		X:            r.X,
		Y:            r.Y,
		CreatedAt:    r.CreatedAt,
		Members:      nonNilMembers(r.Members),
		Participants: nonNilParticipants(r.Participants),
		Roles:        nonNilRoles(r.Roles),
		Theme:        NormalizeRoomTheme(r.Theme),
	}
}

// Normalize repairs a room loaded from the store or received from another
// instance: nil slices become empty and the theme falls back to the default.
func (r *Room) Normalize() {
	r.Members = nonNilMembers(r.Members)
	r.Participants = nonNilParticipants(r.Participants)
	r.Roles = nonNilRoles(r.Roles)
	r.Theme = NormalizeRoomTheme(r.Theme)
}

func (r *Room) HasMember(id int64) bool {
	for _, member := range r.Members {
		if member == id {
			return true
		}
	}
	return false
}

// VoiceMessage is an ephemeral spatial audio note. Immutable once created;
// removed by TTL sweep or explicit deletion. Timestamps are unix millis.
type VoiceMessage struct {
	ID        int64   `json:"id"`
	OwnerID   int64   `json:"ownerId"`
	OwnerName string  `json:"ownerName"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	CreatedAt int64   `json:"createdAt"`
	ExpiresAt int64   `json:"expiresAt"`
	Audio     string  `json:"audio"`
	MimeType  string  `json:"mimeType"`
}

func (m *VoiceMessage) Expired(now time.Time) bool {
	return m.ExpiresAt != 0 && m.ExpiresAt <= now.UnixMilli()
}

// NormalizeRoomTheme validates the ring color and falls back to the default
// for anything that is not a 6-hex-digit color.
func NormalizeRoomTheme(theme RoomTheme) RoomTheme {
	color := strings.TrimSpace(theme.RingColor)
	if !ringColorPattern.MatchString(color) {
		return RoomTheme{RingColor: DefaultRingColor}
	}
	return RoomTheme{RingColor: strings.ToLower(color)}
}

func nonNilMembers(members []int64) []int64 {
	if members == nil {
		return []int64{}
	}
	return members
}

func nonNilParticipants(participants []Participant) []Participant {
	if participants == nil {
		return []Participant{}
	}
	return participants
}

func nonNilRoles(roles []string) []string {
	if roles == nil {
		return []string{}
	}
	return roles
}
