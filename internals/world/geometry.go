package world

import (
	"math"
	"math/rand"
)

// Geometry holds the spatial tuning for room circles and voice message
// placement.
type Geometry struct {
	BaseRadius         float64
	GrowthRatio        float64
	VoiceMessageRadius float64
}

// RoomRadius is the effective visual radius of a room circle. It grows
// monotonically with occupancy and is capped at BaseRadius*(1+GrowthRatio).
func (g Geometry) RoomRadius(capacity, occupants int) float64 {
	safeCapacity := capacity
	if safeCapacity < 1 {
		safeCapacity = 1
	}
	if occupants < 0 {
		occupants = 0
	}
	if occupants > safeCapacity {
		occupants = safeCapacity
	}
	occupancyRatio := float64(occupants) / float64(safeCapacity)
	radius := g.BaseRadius * (1 + occupancyRatio*g.GrowthRatio)
	maxRadius := g.BaseRadius * (1 + g.GrowthRatio)
	return math.Min(maxRadius, radius)
}

// RoomsOverlap reports whether a new room at (x, y) with the given capacity
// would intersect any existing room. Both circles are measured at full
// occupancy so a room never grows into a neighbour.
func (g Geometry) RoomsOverlap(rooms []*Room, x, y float64, capacity int) bool {
	newRadius := g.RoomRadius(capacity, capacity)
	for _, room := range rooms {
		existingRadius := g.RoomRadius(room.Capacity, room.Capacity)
		if math.Hypot(room.X-x, room.Y-y) < existingRadius+newRadius {
			return true
		}
	}
	return false
}

const placementMaxAttempts = 24

// ResolveVoiceMessagePlacement finds a clear point for a voice message near
// the requested position. A point is blocked when it sits inside any room
// circle padded by the message radius, or within two message radii of an
// existing message. Blocked points are retried outward along 60-degree steps
// with a growing radius; after the attempt budget the last candidate wins.
func (g Geometry) ResolveVoiceMessagePlacement(rooms []*Room, messages []*VoiceMessage, x, y float64) (float64, float64) {
	radius := g.VoiceMessageRadius
	blocked := func(px, py float64) bool {
		for _, room := range rooms {
			roomRadius := g.RoomRadius(room.Capacity, len(room.Members))
			if math.Hypot(room.X-px, room.Y-py) < roomRadius+radius {
				return true
			}
		}
		for _, message := range messages {
			if math.Hypot(message.X-px, message.Y-py) < radius*2 {
				return true
			}
		}
		return false
	}

	if !blocked(x, y) {
		return x, y
	}
	angle := 0.0
	step := radius * 1.4
	candidateX, candidateY := x, y
	for i := 0; i < placementMaxAttempts; i++ {
		angle += math.Pi / 3
		step += radius * 0.4
		candidateX = x + math.Cos(angle)*step
		candidateY = y + math.Sin(angle)*step
		if !blocked(candidateX, candidateY) {
			return candidateX, candidateY
		}
	}
	return candidateX, candidateY
}

// FindSpawnPosition places a new client near others sharing its coarse
// network key, falling back to any existing client and finally to the
// origin. The offset is a random angle at base plus up to variance distance,
// which clusters same-network users without stacking them.
func FindSpawnPosition(players []*Player, networkKey string, base, variance float64) (float64, float64) {
	var sameNetwork []*Player
	for _, player := range players {
		if player.NetworkKey == networkKey {
			sameNetwork = append(sameNetwork, player)
		}
	}
	reference := sameNetwork
	if len(reference) == 0 {
		reference = players
	}
	if len(reference) == 0 {
		return 0, 0
	}
	anchor := reference[rand.Intn(len(reference))]
	angle := rand.Float64() * 2 * math.Pi
	distance := base + rand.Float64()*variance
	return anchor.X + math.Cos(angle)*distance, anchor.Y + math.Sin(angle)*distance
}
