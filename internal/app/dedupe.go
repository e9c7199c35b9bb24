/**
 * @description
 * Webhook delivery deduplication. Razorpay tags every delivery with an
 * X-Razorpay-Event-Id and redelivers on timeouts, so the webhook handler
 * short-circuits deliveries it has already processed.
 *
 * @notes
 * - Deduplication is an optimization, not a correctness mechanism: every
 *   transition is idempotent on its own, so a missed dedupe (Redis restart,
 *   multi-instance fallback cache) only costs a redundant no-op write.
 * - The Redis implementation uses SET NX with a TTL so entries expire on
 *   their own; the in-memory fallback mirrors that with a swept map.
 */

package app

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// dedupeTTL bounds how long a processed event id is remembered. Razorpay
// stops redelivering well inside this window.
const dedupeTTL = 24 * time.Hour

// EventDeduper records webhook event ids and reports replays.
type EventDeduper interface {
	// MarkIfNew returns true when the event id has not been seen inside the
	// retention window, recording it as seen.
	MarkIfNew(ctx context.Context, eventID string) bool
	// Forget releases an event id so a redelivery is processed again. Called
	// when processing fails after the id was already marked.
	Forget(ctx context.Context, eventID string)
}

// RedisEventDeduper backs deduplication with Redis so it holds across
// restarts and multiple service instances.
type RedisEventDeduper struct {
	client *redis.Client
}

// NewRedisEventDeduper creates a Redis-backed deduper.
func NewRedisEventDeduper(client *redis.Client) *RedisEventDeduper {
	return &RedisEventDeduper{client: client}
}

func (d *RedisEventDeduper) MarkIfNew(ctx context.Context, eventID string) bool {
	if eventID == "" {
		return true
	}
	ok, err := d.client.SetNX(ctx, "webhook_event:"+eventID, 1, dedupeTTL).Result()
	if err != nil {
		// Fail open: a redundant idempotent transition beats a dropped event.
		log.Printf("level=warn component=event_deduper msg=\"redis setnx failed, failing open\" event_id=%s err=%v", eventID, err)
		return true
	}
	return ok
}

func (d *RedisEventDeduper) Forget(ctx context.Context, eventID string) {
	if eventID == "" {
		return
	}
	if err := d.client.Del(ctx, "webhook_event:"+eventID).Err(); err != nil {
		log.Printf("level=warn component=event_deduper msg=\"redis del failed\" event_id=%s err=%v", eventID, err)
	}
}

// MemoryEventDeduper is the single-instance fallback used when Redis is not
// configured.
type MemoryEventDeduper struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	lastSweep time.Time
}

// NewMemoryEventDeduper creates an in-memory deduper.
func NewMemoryEventDeduper() *MemoryEventDeduper {
	return &MemoryEventDeduper{seen: make(map[string]time.Time), lastSweep: time.Now()}
}

func (d *MemoryEventDeduper) MarkIfNew(_ context.Context, eventID string) bool {
	if eventID == "" {
		return true
	}
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if now.Sub(d.lastSweep) > time.Hour {
		for id, at := range d.seen {
			if now.Sub(at) > dedupeTTL {
				delete(d.seen, id)
			}
		}
		d.lastSweep = now
	}

	if at, ok := d.seen[eventID]; ok && now.Sub(at) <= dedupeTTL {
		return false
	}
	d.seen[eventID] = now
	return true
}

func (d *MemoryEventDeduper) Forget(_ context.Context, eventID string) {
	if eventID == "" {
		return
	}
	d.mu.Lock()
	delete(d.seen, eventID)
	d.mu.Unlock()
}
