package gateway

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plazaworld/plaza/internals/world"
)

func TestVoiceMessageCreateSuccess(t *testing.T) {
	gw, store, bus, _ := newTestGateway(t)
	client := newTestClient(gw, 1)

	gw.dispatch(client, []byte(`{"type":"voice-message-create","x":10,"y":20,"audio":"SGVsbG8="}`))

	result := takeMessage(t, client)
	assert.Equal(t, "voice-message-create-result", result["type"])
	assert.Equal(t, true, result["success"])
	assert.Equal(t, float64(1), result["messageId"])

	messages := store.GetVoiceMessages()
	require.Len(t, messages, 1)
	assert.Equal(t, int64(1), messages[0].OwnerID)
	assert.Equal(t, "SGVsbG8=", messages[0].Audio)
	assert.Equal(t, "audio/webm", messages[0].MimeType)
	assert.Equal(t, []string{"voice-message-created"}, bus.eventTypes())
}

func TestVoiceMessageCreateMissingCoordinates(t *testing.T) {
	gw, store, _, _ := newTestGateway(t)
	client := newTestClient(gw, 1)

	gw.dispatch(client, []byte(`{"type":"voice-message-create","audio":"SGVsbG8="}`))

	assert.Equal(t, ReasonInvalid, takeMessage(t, client)["reason"])
	assert.Empty(t, store.GetVoiceMessages())
}

func TestVoiceMessageCreateRejectsBadAudio(t *testing.T) {
	gw, _, _, _ := newTestGateway(t)
	client := newTestClient(gw, 1)

	gw.dispatch(client, []byte(`{"type":"voice-message-create","x":0,"y":0,"audio":""}`))
	assert.Equal(t, ReasonInvalidAudio, takeMessage(t, client)["reason"])

	oversized := strings.Repeat("A", 900000)
	gw.dispatch(client, []byte(`{"type":"voice-message-create","x":0,"y":0,"audio":"`+oversized+`"}`))
	assert.Equal(t, ReasonInvalidAudio, takeMessage(t, client)["reason"])
}

func TestVoiceMessageCreateRateLimited(t *testing.T) {
	gw, _, _, _ := newTestGateway(t)
	client := newTestClient(gw, 1)

	for i := 0; i < 3; i++ {
		gw.dispatch(client, []byte(`{"type":"voice-message-create","x":0,"y":0,"audio":"SGVsbG8="}`))
		assert.Equal(t, true, takeMessage(t, client)["success"])
	}

	gw.dispatch(client, []byte(`{"type":"voice-message-create","x":0,"y":0,"audio":"SGVsbG8="}`))
	assert.Equal(t, ReasonRateLimit, takeMessage(t, client)["reason"])
}

func TestVoiceMessageCreatePlacementAvoidsExisting(t *testing.T) {
	gw, store, _, _ := newTestGateway(t)
	client := newTestClient(gw, 1)
	store.voiceMessages[99] = &world.VoiceMessage{ID: 99, X: 0, Y: 0,
		ExpiresAt: time.Now().Add(time.Hour).UnixMilli()}
	store.nextVoiceID = 99

	gw.dispatch(client, []byte(`{"type":"voice-message-create","x":0,"y":0,"audio":"SGVsbG8="}`))

	assert.Equal(t, true, takeMessage(t, client)["success"])
	created := store.voiceMessages[100]
	require.NotNil(t, created)
	assert.GreaterOrEqual(t, math.Hypot(created.X, created.Y), 140.0)
}

func TestSweepRemovesExpiredVoiceMessages(t *testing.T) {
	gw, store, bus, _ := newTestGateway(t)
	store.voiceMessages[1] = &world.VoiceMessage{ID: 1, ExpiresAt: time.Now().Add(-time.Minute).UnixMilli()}
	store.voiceMessages[2] = &world.VoiceMessage{ID: 2, ExpiresAt: time.Now().Add(time.Hour).UnixMilli()}

	gw.sweepVoiceMessages(context.Background())

	assert.Nil(t, store.voiceMessages[1])
	assert.NotNil(t, store.voiceMessages[2])
	assert.Equal(t, []string{"voice-message-removed"}, bus.eventTypes())
}
