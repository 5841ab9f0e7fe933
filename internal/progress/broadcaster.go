// Package progress fans import progress snapshots out to live viewers.
package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/nandu3112/product-importer/internal/models"
)

// subscriberBuffer is the per-subscriber channel depth. A viewer that falls
// this far behind starts losing intermediate snapshots, never the publisher.
const subscriberBuffer = 16

// redisChannel is the pub/sub channel pattern for cross-process viewers.
const redisChannel = "import:progress:%s"

type subscriber struct {
	ch   chan models.ProgressSnapshot
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Broadcaster delivers progress snapshots to in-process subscribers and,
// when a Redis client is configured, mirrors them to a pub/sub channel so
// viewers on other instances can follow along.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	latest map[string]models.ProgressSnapshot

	redis  *redis.Client
	logger *logrus.Entry
}

// NewBroadcaster creates a broadcaster. redisClient may be nil, in which
// case fan-out is in-process only.
func NewBroadcaster(redisClient *redis.Client, logger *logrus.Logger) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[string]map[*subscriber]struct{}),
		latest: make(map[string]models.ProgressSnapshot),
		redis:  redisClient,
		logger: logger.WithField("component", "progress_broadcaster"),
	}
}

// Subscribe registers a viewer for a batch. The returned channel carries the
// last known snapshot immediately, then live updates; it is closed when the
// batch reaches a terminal status. The cancel func is safe to call more than
// once and after the channel has closed.
func (b *Broadcaster) Subscribe(batchID string) (<-chan models.ProgressSnapshot, func()) {
	sub := &subscriber{ch: make(chan models.ProgressSnapshot, subscriberBuffer)}

	b.mu.Lock()
	if b.subs[batchID] == nil {
		b.subs[batchID] = make(map[*subscriber]struct{})
	}
	b.subs[batchID][sub] = struct{}{}
	if snap, ok := b.latest[batchID]; ok {
		sub.ch <- snap
	}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[batchID]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(b.subs, batchID)
			}
		}
		b.mu.Unlock()
		sub.close()
	}
	return sub.ch, cancel
}

// Publish delivers a snapshot to every subscriber of the batch. Sends never
// block: a subscriber whose buffer is full misses this update and catches up
// on the next one. Terminal snapshots close all subscriber channels.
func (b *Broadcaster) Publish(ctx context.Context, snap models.ProgressSnapshot) {
	b.mu.Lock()
	b.latest[snap.BatchID] = snap
	for sub := range b.subs[snap.BatchID] {
		select {
		case sub.ch <- snap:
		default:
		}
	}
	if snap.Status.Terminal() {
		for sub := range b.subs[snap.BatchID] {
			sub.close()
		}
		delete(b.subs, snap.BatchID)
	}
	b.mu.Unlock()

	b.mirror(ctx, snap)
}

// Latest returns the most recent snapshot seen for a batch.
func (b *Broadcaster) Latest(batchID string) (models.ProgressSnapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap, ok := b.latest[batchID]
	return snap, ok
}

// mirror publishes the snapshot to Redis pub/sub. Failures are logged and
// swallowed; progress delivery is best-effort off-process.
func (b *Broadcaster) mirror(ctx context.Context, snap models.ProgressSnapshot) {
	if b.redis == nil {
		return
	}
	go func() {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()

		channel := fmt.Sprintf(redisChannel, snap.BatchID)
		if err := b.redis.Publish(pubCtx, channel, snap).Err(); err != nil {
			b.logger.WithFields(logrus.Fields{
				"batch_id": snap.BatchID,
				"error":    err.Error(),
			}).Warn("Failed to mirror progress snapshot to Redis")
		}
	}()
}
