package gateway

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/plazaworld/plaza/internals/events"
	"github.com/plazaworld/plaza/internals/metrics"
	"github.com/plazaworld/plaza/internals/state"
)

// handleSignal parks the opaque payload in the target's mailbox and
// publishes a pointer; whichever instance holds the target's socket
// consumes and forwards it.
func (g *Gateway) handleSignal(ctx context.Context, client *Client, raw []byte) {
	var msg signalMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.To == nil {
		return
	}
	signalID, err := g.store.SaveSignal(ctx, *msg.To, state.SignalPayload{
		From: client.ID,
		Data: msg.Data,
	})
	if err != nil {
		g.logger.Error("Failed to save signal", zap.Error(err))
		return
	}
	if err := g.bus.PublishSignal(ctx, events.SignalPointer{TargetID: *msg.To, SignalID: signalID}); err != nil {
		g.logger.Error("Failed to publish signal pointer", zap.Error(err))
	}
}

// HandleSignalPointer delivers a parked signal when the target is attached
// to this instance. The read-and-delete keeps delivery at most once even
// though every instance sees the pointer.
func (g *Gateway) HandleSignalPointer(pointer events.SignalPointer) {
	target, ok := g.hub.Get(pointer.TargetID)
	if !ok {
		return
	}
	payload, err := g.store.ConsumeSignal(context.Background(), pointer.TargetID, pointer.SignalID)
	if err != nil {
		g.logger.Error("Failed to consume signal", zap.Error(err))
		return
	}
	if payload == nil {
		metrics.SignalsDroppedTotal.Inc()
		return
	}
	target.SendJSON(signalDelivery{Type: "signal", From: payload.From, Data: payload.Data})
	metrics.SignalsRelayedTotal.Inc()
}

// HandleWorldEvent applies a replicated mutation to the local cache and
// fans the event out to every locally attached socket. Events from this
// instance arrive here too; the shared channel is the only local delivery
// path.
func (g *Gateway) HandleWorldEvent(raw json.RawMessage) {
	var peek worldEventPeek
	if err := json.Unmarshal(raw, &peek); err != nil {
		return
	}
	ctx := context.Background()

	switch peek.Type {
	case "position-batch":
		// Expanded into per-player position messages for clients.
		for _, update := range peek.Updates {
			payload, err := json.Marshal(positionBroadcast{Type: "position", ID: update.ID, X: update.X, Y: update.Y})
			if err != nil {
				continue
			}
			g.hub.Broadcast(payload)
		}
		return
	case "room-created", "room-updated":
		// The replicated payload carries the stored room, password hash
		// included. Clients only ever get the wire form.
		if err := g.store.ApplyRemoteRoom(ctx, peek.Room); err != nil {
			g.logger.Error("Failed to apply remote room", zap.Error(err))
		}
		if peek.Room != nil {
			payload, err := json.Marshal(roomBroadcast{Type: peek.Type, Room: peek.Room.Wire()})
			if err != nil {
				return
			}
			g.hub.Broadcast(payload)
		}
		return
	case "room-removed":
		if peek.RoomID != 0 {
			if err := g.store.RemoveRoom(ctx, peek.RoomID); err != nil {
				g.logger.Error("Failed to remove replicated room", zap.Error(err))
			}
		}
	case "voice-message-created":
		if err := g.store.ApplyRemoteVoiceMessage(ctx, peek.Message); err != nil {
			g.logger.Error("Failed to apply remote voice message", zap.Error(err))
		}
	case "voice-message-removed":
		if peek.MessageID != 0 {
			if _, err := g.store.RemoveVoiceMessage(ctx, peek.MessageID); err != nil {
				g.logger.Error("Failed to remove replicated voice message", zap.Error(err))
			}
		}
	}

	g.hub.Broadcast(raw)
}
