package gateway

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/plazaworld/plaza/internals/metrics"
	"github.com/plazaworld/plaza/internals/world"
)

func (g *Gateway) handleVoiceMessageCreate(ctx context.Context, client *Client, raw []byte) {
	var msg voiceCreateMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.X == nil || msg.Y == nil {
		client.SendJSON(voiceCreateResult{Type: "voice-message-create-result", Reason: ReasonInvalid})
		return
	}
	if msg.Audio == "" {
		client.SendJSON(voiceCreateResult{Type: "voice-message-create-result", Reason: ReasonInvalidAudio})
		return
	}
	// The payload is base64, so the decoded size is close to 3/4 of the
	// encoded length.
	if len(msg.Audio)*3/4 > g.cfg.Voice.MaxBytes {
		client.SendJSON(voiceCreateResult{Type: "voice-message-create-result", Reason: ReasonInvalidAudio})
		return
	}

	attempts, err := g.store.RegisterVoiceMessageCreation(ctx, client.ID)
	if err != nil {
		g.logger.Error("Failed to register voice message creation", zap.Error(err))
		return
	}
	if attempts > int64(g.cfg.Voice.DailyLimit) {
		metrics.RecordRateLimit("voice-message")
		client.SendJSON(voiceCreateResult{Type: "voice-message-create-result", Reason: ReasonRateLimit})
		return
	}

	player := client.Player()
	x, y := g.geometry.ResolveVoiceMessagePlacement(g.store.GetRooms(), g.store.GetVoiceMessages(), *msg.X, *msg.Y)
	mimeType := msg.MimeType
	if mimeType == "" {
		mimeType = "audio/webm"
	}
	message, err := g.store.CreateVoiceMessage(ctx, &world.VoiceMessage{
		OwnerID:   client.ID,
		OwnerName: world.ResolveDisplayName(player.Name, player.SessionID, client.ID),
		X:         x,
		Y:         y,
		Audio:     msg.Audio,
		MimeType:  mimeType,
	})
	if err != nil {
		g.logger.Error("Failed to create voice message", zap.Error(err))
		return
	}

	g.broadcastWorld(ctx, "voice-message-created", voiceMessageCreated{Type: "voice-message-created", Message: message})
	client.SendJSON(voiceCreateResult{Type: "voice-message-create-result", Success: true, MessageID: message.ID})
}

// RunSweeper periodically removes expired voice messages and broadcasts one
// removal event per id. Runs until ctx is cancelled.
func (g *Gateway) RunSweeper(ctx context.Context) {
	interval := g.cfg.Voice.TTL / 24
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweepVoiceMessages(ctx)
		}
	}
}

func (g *Gateway) sweepVoiceMessages(ctx context.Context) {
	removed, err := g.store.PruneVoiceMessages(ctx)
	if err != nil {
		g.logger.Error("Failed to prune voice messages", zap.Error(err))
		return
	}
	for _, messageID := range removed {
		g.broadcastWorld(ctx, "voice-message-removed", voiceMessageRemoved{Type: "voice-message-removed", MessageID: messageID})
		metrics.VoiceMessagesSweptTotal.Inc()
	}
	if len(removed) > 0 {
		g.logger.Info("Swept expired voice messages", zap.Int("count", len(removed)))
	}
}
