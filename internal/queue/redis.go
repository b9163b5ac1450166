package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/relaywire/relaywire/internal/task"
)

// RedisBroker backs each lane with a Redis sorted set whose score is
// the entry's visible-at time in unix milliseconds. Tasks survive
// process restarts and are shared across worker processes.
type RedisBroker struct {
	client    *redis.Client
	keyPrefix string
}

// popScript atomically removes and returns the oldest member whose
// score has passed. KEYS[1] = lane key, ARGV[1] = now (unix ms).
var popScript = redis.NewScript(`
local entries = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #entries == 0 then
  return false
end
redis.call('ZREM', KEYS[1], entries[1])
return entries[1]
`)

// NewRedisBroker creates a broker on an existing Redis client. The key
// prefix namespaces lane keys ("<prefix>:lane:<name>").
func NewRedisBroker(client *redis.Client, keyPrefix string) *RedisBroker {
	if keyPrefix == "" {
		keyPrefix = "relaywire"
	}
	return &RedisBroker{client: client, keyPrefix: keyPrefix}
}

func (b *RedisBroker) key(lane task.Lane) string {
	return fmt.Sprintf("%s:lane:%s", b.keyPrefix, lane)
}

// Push stores an entry with delayed visibility.
func (b *RedisBroker) Push(ctx context.Context, lane task.Lane, data []byte, notBefore time.Time) error {
	visibleAt := time.Now()
	if notBefore.After(visibleAt) {
		visibleAt = notBefore
	}
	err := b.client.ZAdd(ctx, b.key(lane), redis.Z{
		Score:  float64(visibleAt.UnixMilli()),
		Member: data,
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: push %s: %v", ErrQueueUnavailable, lane, err)
	}
	return nil
}

// Pop removes the oldest visible entry, if any.
func (b *RedisBroker) Pop(ctx context.Context, lane task.Lane) ([]byte, bool, error) {
	now := time.Now().UnixMilli()
	res, err := popScript.Run(ctx, b.client, []string{b.key(lane)}, now).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: pop %s: %v", ErrQueueUnavailable, lane, err)
	}
	s, ok := res.(string)
	if !ok {
		return nil, false, fmt.Errorf("queue: pop %s: unexpected reply type %T", lane, res)
	}
	return []byte(s), true, nil
}

// ReadyAge reports the wait of the oldest visible entry.
func (b *RedisBroker) ReadyAge(ctx context.Context, lane task.Lane) (time.Duration, bool, error) {
	now := time.Now()
	entries, err := b.client.ZRangeByScoreWithScores(ctx, b.key(lane), &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  1,
	}).Result()
	if err != nil {
		return 0, false, fmt.Errorf("%w: ready-age %s: %v", ErrQueueUnavailable, lane, err)
	}
	if len(entries) == 0 {
		return 0, false, nil
	}
	visibleAt := time.UnixMilli(int64(entries[0].Score))
	return now.Sub(visibleAt), true, nil
}

// Depth returns the lane's total entry count.
func (b *RedisBroker) Depth(ctx context.Context, lane task.Lane) (int64, error) {
	n, err := b.client.ZCard(ctx, b.key(lane)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: depth %s: %v", ErrQueueUnavailable, lane, err)
	}
	return n, nil
}

// Ping verifies Redis connectivity.
func (b *RedisBroker) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrQueueUnavailable, err)
	}
	return nil
}

// Close closes the underlying client.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}
