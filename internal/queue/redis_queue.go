// Package queue implements the trigger that delivers job keys to the
// orchestrator: a Redis list of ready keys plus a lease set tracking
// in-flight runs. Delivery is at-least-once; a run that never acks
// resurfaces once its lease expires. Duplicate deliveries are harmless
// because the engine is idempotent.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	readyKey    = "transcription:trigger:ready"
	inflightKey = "transcription:trigger:inflight"

	defaultLeaseTTL = 5 * time.Minute
)

// Trigger coordinates ready and in-flight job keys in Redis.
type Trigger struct {
	client   *redis.Client
	leaseTTL time.Duration
}

// NewTrigger builds a trigger queue over an existing Redis client. The
// lease should comfortably exceed the expected duration of one
// orchestration run.
func NewTrigger(client *redis.Client, leaseTTL time.Duration) *Trigger {
	if leaseTTL <= 0 {
		leaseTTL = defaultLeaseTTL
	}
	return &Trigger{client: client, leaseTTL: leaseTTL}
}

// Enqueue places a job key on the ready list.
func (t *Trigger) Enqueue(ctx context.Context, jobKey string) error {
	return t.client.RPush(ctx, readyKey, jobKey).Err()
}

// DequeueWithLease pops the next ready job key and records it as
// in-flight with a lease deadline. An empty string means the queue is
// idle. Pop and lease happen atomically in one script so a crash
// between them cannot lose the key.
func (t *Trigger) DequeueWithLease(ctx context.Context) (string, error) {
	deadline := time.Now().Add(t.leaseTTL).UnixMilli()
	res, err := dequeueScript.Run(ctx, t.client, []string{readyKey, inflightKey}, deadline).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	jobKey, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return jobKey, nil
}

// ExtendLease pushes the lease deadline forward for a long run.
func (t *Trigger) ExtendLease(ctx context.Context, jobKey string, extension time.Duration) error {
	return t.client.ZAdd(ctx, inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: jobKey,
	}).Err()
}

// Ack removes a delivered job key from in-flight tracking.
func (t *Trigger) Ack(ctx context.Context, jobKey string) error {
	return t.client.ZRem(ctx, inflightKey, jobKey).Err()
}

// RequeueExpired reclaims leases that timed out, returning the job
// keys moved back to the ready list.
func (t *Trigger) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	keys, err := t.client.ZRangeByScore(ctx, inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := t.client.TxPipeline()
	for _, key := range keys {
		pipe.ZRem(ctx, inflightKey, key)
		pipe.RPush(ctx, readyKey, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return keys, nil
}

// Depth returns the number of job keys waiting on the ready list.
func (t *Trigger) Depth(ctx context.Context) (int64, error) {
	return t.client.LLen(ctx, readyKey).Result()
}

var dequeueScript = redis.NewScript(`
local key = redis.call('LPOP', KEYS[1])
if key then
  redis.call('ZADD', KEYS[2], ARGV[1], key)
  return key
end
return nil
`)
