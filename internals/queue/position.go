package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/plazaworld/plaza/internals/metrics"
	"github.com/plazaworld/plaza/internals/state"
)

// Saver persists a flushed batch to the shared store.
type Saver interface {
	SavePlayerPositions(ctx context.Context, batch []state.PositionUpdate) error
}

// Publisher replicates a flushed batch to every instance.
type Publisher interface {
	PublishWorld(ctx context.Context, eventType string, message interface{}) error
}

type batchMessage struct {
	Type    string                 `json:"type"`
	Updates []state.PositionUpdate `json:"updates"`
}

// PositionQueue coalesces high-frequency position updates before they hit
// the store and the world channel. Multiple updates for the same client
// inside one flush interval collapse to the latest value; only staleness up
// to the interval is traded for the reduced write pressure.
type PositionQueue struct {
	store    Saver
	bus      Publisher
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	latest map[int64]state.PositionUpdate
	order  []int64

	stop chan struct{}
	done chan struct{}
}

func NewPositionQueue(store Saver, bus Publisher, interval time.Duration, logger *zap.Logger) *PositionQueue {
	return &PositionQueue{
		store:    store,
		bus:      bus,
		interval: interval,
		logger:   logger,
		latest:   make(map[int64]state.PositionUpdate),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (q *PositionQueue) Enqueue(update state.PositionUpdate) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, seen := q.latest[update.ID]; seen {
		metrics.PositionUpdatesCoalescedTotal.Inc()
	} else {
		q.order = append(q.order, update.ID)
	}
	q.latest[update.ID] = update
}

func (q *PositionQueue) Start() {
	go func() {
		defer close(q.done)
		ticker := time.NewTicker(q.interval)
		defer ticker.Stop()
		for {
			select {
			case <-q.stop:
				return
			case <-ticker.C:
				if err := q.Flush(context.Background()); err != nil {
					q.logger.Error("Failed to flush position queue", zap.Error(err))
				}
			}
		}
	}()
}

// Stop halts the ticker after a final flush attempt.
func (q *PositionQueue) Stop() {
	close(q.stop)
	<-q.done
	if err := q.Flush(context.Background()); err != nil {
		q.logger.Error("Failed to flush position queue on shutdown", zap.Error(err))
	}
}

// Flush drains the buffer in arrival order, persists the batch and
// publishes a single position-batch world event.
func (q *PositionQueue) Flush(ctx context.Context) error {
	q.mu.Lock()
	if len(q.order) == 0 {
		q.mu.Unlock()
		return nil
	}
	batch := make([]state.PositionUpdate, 0, len(q.order))
	for _, id := range q.order {
		batch = append(batch, q.latest[id])
	}
	q.latest = make(map[int64]state.PositionUpdate)
	q.order = q.order[:0]
	q.mu.Unlock()

	if err := q.store.SavePlayerPositions(ctx, batch); err != nil {
		return err
	}
	if err := q.bus.PublishWorld(ctx, "position-batch", batchMessage{Type: "position-batch", Updates: batch}); err != nil {
		return err
	}
	metrics.PositionFlushesTotal.Inc()
	metrics.PositionBatchSize.Observe(float64(len(batch)))
	return nil
}
