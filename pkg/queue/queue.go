// Package queue is a Redis-backed delayed job queue. Jobs live in a sorted set
// scored by their due time (unix millis) with payloads in a companion hash.
// Delivery is at-least-once: claimed jobs are leased, not removed, until the
// handler acks them.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultLease       = 30 * time.Second
	defaultMaxAttempts = 5
	defaultBaseBackoff = 2 * time.Second
	maxBackoff         = 5 * time.Minute
)

// Job is one scheduled unit of work.
type Job struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	RunAt     time.Time       `json:"runAt"`
	LastError string          `json:"lastError,omitempty"`
}

// Store is the persistence surface the Worker depends on.
type Store interface {
	Schedule(ctx context.Context, id string, payload any, delay time.Duration) error
	Cancel(ctx context.Context, id string) error
	Claim(ctx context.Context, limit int) ([]Job, error)
	Ack(ctx context.Context, id string) error
	Retry(ctx context.Context, job Job, cause error) (deadLettered bool, err error)
}

// Keyer builds namespaced keys; *redis.Client from pkg/redis satisfies it.
type Keyer interface {
	QueueKey(queue, part string) string
}

type Options struct {
	Name        string
	Lease       time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
}

// RedisStore implements Store on a sorted set + hash + dead-letter list.
type RedisStore struct {
	rdb         redis.Cmdable
	name        string
	scheduleKey string
	payloadKey  string
	deadKey     string
	lease       time.Duration
	maxAttempts int
	baseBackoff time.Duration
	now         func() time.Time
}

func NewRedisStore(rdb redis.Cmdable, keys Keyer, opts Options) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("redis client required")
	}
	if keys == nil {
		return nil, errors.New("key builder required")
	}
	if opts.Name == "" {
		return nil, errors.New("queue name required")
	}
	if opts.Lease <= 0 {
		opts.Lease = defaultLease
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = defaultBaseBackoff
	}
	return &RedisStore{
		rdb:         rdb,
		name:        opts.Name,
		scheduleKey: keys.QueueKey(opts.Name, "schedule"),
		payloadKey:  keys.QueueKey(opts.Name, "jobs"),
		deadKey:     keys.QueueKey(opts.Name, "dead"),
		lease:       opts.Lease,
		maxAttempts: opts.MaxAttempts,
		baseBackoff: opts.BaseBackoff,
		now:         time.Now,
	}, nil
}

// Name returns the queue name used in logs and metrics.
func (s *RedisStore) Name() string {
	return s.name
}

// Schedule enqueues payload under id to run after delay. Scheduling an id that
// already exists replaces its payload and due time.
func (s *RedisStore) Schedule(ctx context.Context, id string, payload any, delay time.Duration) error {
	if id == "" {
		return errors.New("job id required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}
	runAt := s.now().Add(delay)
	body, err := json.Marshal(Job{ID: id, Payload: raw, RunAt: runAt})
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.payloadKey, id, body)
		pipe.ZAdd(ctx, s.scheduleKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", id, err)
	}
	return nil
}

// Cancel removes a job whether or not it is due. Unknown ids are a no-op.
func (s *RedisStore) Cancel(ctx context.Context, id string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.scheduleKey, id)
		pipe.HDel(ctx, s.payloadKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cancel job %s: %w", id, err)
	}
	return nil
}

// claimScript atomically picks due members and pushes their score out by the
// lease so a crashed worker's jobs become visible again.
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for _, id in ipairs(due) do
  local body = redis.call('HGET', KEYS[2], id)
  if body then
    redis.call('ZADD', KEYS[1], ARGV[3], id)
    table.insert(out, body)
  else
    redis.call('ZREM', KEYS[1], id)
  end
end
return out
`)

// Claim leases up to limit due jobs.
func (s *RedisStore) Claim(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 1
	}
	now := s.now()
	bodies, err := claimScript.Run(ctx, s.rdb,
		[]string{s.scheduleKey, s.payloadKey},
		strconv.FormatInt(now.UnixMilli(), 10),
		limit,
		strconv.FormatInt(now.Add(s.lease).UnixMilli(), 10),
	).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	jobs := make([]Job, 0, len(bodies))
	for _, body := range bodies {
		var job Job
		if err := json.Unmarshal([]byte(body), &job); err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Ack removes a finished job.
func (s *RedisStore) Ack(ctx context.Context, id string) error {
	return s.Cancel(ctx, id)
}

// Retry re-schedules a failed job with exponential backoff or moves it to the
// dead-letter list once MaxAttempts is reached.
func (s *RedisStore) Retry(ctx context.Context, job Job, cause error) (bool, error) {
	job.Attempts++
	if cause != nil {
		job.LastError = cause.Error()
	}

	if job.Attempts >= s.maxAttempts {
		body, err := json.Marshal(job)
		if err != nil {
			return false, fmt.Errorf("marshal dead job: %w", err)
		}
		_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LPush(ctx, s.deadKey, body)
			pipe.ZRem(ctx, s.scheduleKey, job.ID)
			pipe.HDel(ctx, s.payloadKey, job.ID)
			return nil
		})
		if err != nil {
			return false, fmt.Errorf("dead-letter job %s: %w", job.ID, err)
		}
		return true, nil
	}

	job.RunAt = s.now().Add(Backoff(s.baseBackoff, job.Attempts))
	body, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("marshal job: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.payloadKey, job.ID, body)
		pipe.ZAdd(ctx, s.scheduleKey, redis.Z{Score: float64(job.RunAt.UnixMilli()), Member: job.ID})
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("retry job %s: %w", job.ID, err)
	}
	return false, nil
}

// Backoff returns base * 2^(attempt-1), capped at five minutes.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
