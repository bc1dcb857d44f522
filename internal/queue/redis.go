package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue is the delayed job queue. The redis implementation backs
// production; tests use the in-memory fake in worker_test.go.
//
// Delivery is at-least-once: a claimed job stays in an in-flight set
// until acked, and is handed out again after the visibility deadline
// if the claimer dies without acking.
type Queue interface {
	// Enqueue schedules the job to become due after delay.
	Enqueue(ctx context.Context, job CallJob, delay time.Duration) error

	// ClaimDue moves up to limit jobs whose due time is at or before
	// now into the in-flight set and returns them. A claimed job must
	// be Acked when fully handled (including after requeueing a retry),
	// or it is re-delivered once its visibility deadline passes.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]CallJob, error)

	// Ack removes a claimed job from the in-flight set.
	Ack(ctx context.Context, job CallJob) error

	// CancelByCampaign drops every pending job for the campaign and
	// returns how many were removed. In-flight jobs are not touched;
	// their processors re-check the campaign status.
	CancelByCampaign(ctx context.Context, campaignID string) (int, error)
}

const (
	scheduledKey  = "callq:scheduled"
	processingKey = "callq:processing"
)

// visibilityTimeout bounds how long a claimed job may run before it is
// considered abandoned and handed out again.
const visibilityTimeout = 5 * time.Minute

// claimScript first returns expired in-flight members to the scheduled
// set, then pops due members into the in-flight set, all in one round
// trip so two workers never claim the same job.
// KEYS: scheduled zset, processing zset.
// ARGV: now (unix ms), limit, visibility deadline (unix ms).
var claimScript = redis.NewScript(`
local expired = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[1])
for _, m in ipairs(expired) do
	redis.call("ZREM", KEYS[2], m)
	redis.call("ZADD", KEYS[1], ARGV[1], m)
end
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
for _, m in ipairs(due) do
	redis.call("ZREM", KEYS[1], m)
	redis.call("ZADD", KEYS[2], ARGV[3], m)
end
return due
`)

// RedisQueue stores pending jobs in a sorted set scored by due time and
// in-flight jobs in a second sorted set scored by visibility deadline
// (both unix ms).
type RedisQueue struct {
	rdb *redis.Client
}

func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job CallJob, delay time.Duration) error {
	payload, err := job.Marshal()
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	due := time.Now().Add(delay).UnixMilli()
	if err := q.rdb.ZAdd(ctx, scheduledKey, redis.Z{Score: float64(due), Member: payload}).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.JobID, err)
	}
	return nil
}

func (q *RedisQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]CallJob, error) {
	deadline := now.Add(visibilityTimeout).UnixMilli()
	raw, err := claimScript.Run(ctx, q.rdb, []string{scheduledKey, processingKey},
		now.UnixMilli(), limit, deadline).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}
	jobs := make([]CallJob, 0, len(raw))
	for _, m := range raw {
		job, err := UnmarshalJob([]byte(m))
		if err != nil {
			// A corrupt member is dropped rather than wedging the queue.
			q.rdb.ZRem(ctx, processingKey, m)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (q *RedisQueue) Ack(ctx context.Context, job CallJob) error {
	payload, err := job.Marshal()
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.rdb.ZRem(ctx, processingKey, payload).Err(); err != nil {
		return fmt.Errorf("ack job %s: %w", job.JobID, err)
	}
	return nil
}

func (q *RedisQueue) CancelByCampaign(ctx context.Context, campaignID string) (int, error) {
	members, err := q.rdb.ZRange(ctx, scheduledKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("list pending jobs: %w", err)
	}
	var removed int
	for _, m := range members {
		job, err := UnmarshalJob([]byte(m))
		if err != nil || job.CampaignID != campaignID {
			continue
		}
		n, err := q.rdb.ZRem(ctx, scheduledKey, m).Result()
		if err != nil {
			return removed, fmt.Errorf("remove job %s: %w", job.JobID, err)
		}
		removed += int(n)
	}
	return removed, nil
}
