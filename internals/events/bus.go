package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/plazaworld/plaza/internals/metrics"
)

// Envelope wraps a world event with the id of the instance that produced
// it. Unlike directed signals, world events are applied by every instance,
// the originator included: local sockets only ever see state through the
// shared channel, which keeps all instances on the same delivery path.
type Envelope struct {
	ServerID string          `json:"serverId"`
	Message  json.RawMessage `json:"message"`
}

// SignalPointer is the lightweight event published when a signal payload
// has been parked in a mailbox; the instance holding the target's socket
// consumes it.
type SignalPointer struct {
	TargetID int64  `json:"targetId"`
	SignalID string `json:"signalId"`
}

// Bus is the Redis pub/sub fabric connecting all instances. World events
// carry state mutations for replication and fan-out; the signal channel
// carries mailbox pointers.
type Bus struct {
	redis         *redis.Client
	serverID      string
	worldChannel  string
	signalChannel string
	logger        *zap.Logger

	// Set before Start. OnWorldEvent receives the raw inner message.
	OnWorldEvent    func(message json.RawMessage)
	OnSignalPointer func(pointer SignalPointer)

	sub    *redis.PubSub
	ctx    context.Context
	cancel context.CancelFunc
}

func NewBus(client *redis.Client, serverID, worldChannel, signalChannel string, logger *zap.Logger) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		redis:         client,
		serverID:      serverID,
		worldChannel:  worldChannel,
		signalChannel: signalChannel,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// PublishWorld publishes a state mutation on the world channel. eventType
// is only used for metrics; the message itself carries its own type tag.
func (b *Bus) PublishWorld(ctx context.Context, eventType string, message interface{}) error {
	raw, err := json.Marshal(message)
	if err != nil {
		return err
	}
	envelope, err := json.Marshal(Envelope{ServerID: b.serverID, Message: raw})
	if err != nil {
		return err
	}
	if err := b.redis.Publish(ctx, b.worldChannel, envelope).Err(); err != nil {
		metrics.RedisErrorsTotal.Inc()
		return fmt.Errorf("publish world event: %w", err)
	}
	metrics.RecordWorldEvent(eventType)
	return nil
}

func (b *Bus) PublishSignal(ctx context.Context, pointer SignalPointer) error {
	raw, err := json.Marshal(pointer)
	if err != nil {
		return err
	}
	if err := b.redis.Publish(ctx, b.signalChannel, raw).Err(); err != nil {
		metrics.RedisErrorsTotal.Inc()
		return fmt.Errorf("publish signal pointer: %w", err)
	}
	return nil
}

// Start subscribes to both channels and dispatches messages until Close.
func (b *Bus) Start() {
	b.sub = b.redis.Subscribe(b.ctx, b.worldChannel, b.signalChannel)
	b.logger.Info("Subscribed to shared channels",
		zap.String("world", b.worldChannel),
		zap.String("signal", b.signalChannel),
		zap.String("server_id", b.serverID),
	)
	go b.listen()
}

func (b *Bus) listen() {
	ch := b.sub.Channel()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.dispatch(msg)
		}
	}
}

func (b *Bus) dispatch(msg *redis.Message) {
	switch msg.Channel {
	case b.worldChannel:
		var envelope Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
			b.logger.Warn("Malformed world event", zap.Error(err))
			return
		}
		if len(envelope.Message) == 0 {
			return
		}
		metrics.WorldEventsReceivedTotal.Inc()
		if b.OnWorldEvent != nil {
			b.OnWorldEvent(envelope.Message)
		}
	case b.signalChannel:
		var pointer SignalPointer
		if err := json.Unmarshal([]byte(msg.Payload), &pointer); err != nil {
			b.logger.Warn("Malformed signal pointer", zap.Error(err))
			return
		}
		if pointer.TargetID == 0 {
			return
		}
		if b.OnSignalPointer != nil {
			b.OnSignalPointer(pointer)
		}
	}
}

func (b *Bus) Close() error {
	b.cancel()
	if b.sub != nil {
		return b.sub.Close()
	}
	return nil
}
