package jobxredis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/Abraxas-365/bastion/pkg/jobx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// jobTTL bounds how long finished job records stay readable.
const jobTTL = 7 * 24 * time.Hour

// RedisQueue implements jobx.Queue on redis lists (ready jobs), sorted sets
// (delayed jobs) and one string key per job record.
type RedisQueue struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisQueue(rdb *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "jobx"
	}
	return &RedisQueue{rdb: rdb, prefix: prefix, now: func() time.Time { return time.Now().UTC() }}
}

func (q *RedisQueue) queueKey(name string) string     { return q.prefix + ":queue:" + name }
func (q *RedisQueue) scheduledKey(name string) string { return q.prefix + ":scheduled:" + name }
func (q *RedisQueue) jobKey(id string) string         { return q.prefix + ":job:" + id }

func (q *RedisQueue) newInfo(job jobx.Job) jobx.JobInfo {
	now := q.now()
	return jobx.JobInfo{
		ID:         uuid.NewString(),
		Type:       job.Type,
		Queue:      job.Queue,
		Payload:    job.Payload,
		Status:     jobx.JobStatusPending,
		MaxRetries: job.MaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job jobx.Job) (string, error) {
	info := q.newInfo(job)
	data, err := json.Marshal(info)
	if err != nil {
		return "", redisErrors.NewWithCause(ErrCodec, err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, q.jobKey(info.ID), data, jobTTL)
	pipe.LPush(ctx, q.queueKey(job.Queue), info.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", redisErrors.NewWithCause(ErrEnqueue, err).WithDetail("queue", job.Queue)
	}
	return info.ID, nil
}

// GetJob loads a job record.
func (q *RedisQueue) GetJob(ctx context.Context, jobID string) (*jobx.JobInfo, error) {
	data, err := q.rdb.Get(ctx, q.jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redisErrors.New(ErrNotFound).WithDetail("job_id", jobID)
		}
		return nil, redisErrors.NewWithCause(ErrStore, err).WithDetail("job_id", jobID)
	}

	var info jobx.JobInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, redisErrors.NewWithCause(ErrCodec, err).WithDetail("job_id", jobID)
	}
	return &info, nil
}

// Dequeue blocks up to timeout for a ready job. It returns nil, nil when
// nothing arrived.
func (q *RedisQueue) Dequeue(ctx context.Context, queues []string, timeout time.Duration) (*jobx.JobInfo, error) {
	keys := make([]string, len(queues))
	for i, name := range queues {
		keys[i] = q.queueKey(name)
	}

	result, err := q.rdb.BRPop(ctx, timeout, keys...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return nil, nil
		}
		return nil, redisErrors.NewWithCause(ErrStore, err)
	}

	// result is [key, id]
	info, err := q.GetJob(ctx, result[1])
	if err != nil {
		return nil, err
	}
	info.Status = jobx.JobStatusActive
	info.Attempts++
	if err := q.save(ctx, info); err != nil {
		return nil, err
	}
	return info, nil
}

func (q *RedisQueue) Complete(ctx context.Context, jobID string, result []byte) error {
	info, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	info.Status = jobx.JobStatusCompleted
	info.Result = result
	return q.save(ctx, info)
}

// Fail records errMsg and reports whether attempts remain.
func (q *RedisQueue) Fail(ctx context.Context, jobID string, errMsg string) (bool, error) {
	info, err := q.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}

	retry := info.Attempts < info.MaxRetries
	info.Status = jobx.JobStatusFailed
	if retry {
		info.Status = jobx.JobStatusRetrying
	}
	info.Error = errMsg
	if err := q.save(ctx, info); err != nil {
		return false, err
	}
	return retry, nil
}

func (q *RedisQueue) Retry(ctx context.Context, jobID string, delay time.Duration) error {
	info, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	z := redis.Z{Score: float64(q.now().Add(delay).Unix()), Member: jobID}
	if err := q.rdb.ZAdd(ctx, q.scheduledKey(info.Queue), z).Err(); err != nil {
		return redisErrors.NewWithCause(ErrStore, err).WithDetail("job_id", jobID)
	}
	return nil
}

// promoteScript moves due jobs from the scheduled set to the ready list
// atomically.
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
    redis.call('LPUSH', KEYS[2], id)
end
if #ids > 0 then
    redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
end
return #ids
`)

func (q *RedisQueue) PromoteScheduled(ctx context.Context, queues []string) error {
	now := strconv.FormatInt(q.now().Unix(), 10)
	for _, name := range queues {
		err := promoteScript.Run(ctx, q.rdb, []string{q.scheduledKey(name), q.queueKey(name)}, now).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			return redisErrors.NewWithCause(ErrStore, err).WithDetail("queue", name)
		}
	}
	return nil
}

func (q *RedisQueue) save(ctx context.Context, info *jobx.JobInfo) error {
	info.UpdatedAt = q.now()
	data, err := json.Marshal(info)
	if err != nil {
		return redisErrors.NewWithCause(ErrCodec, err).WithDetail("job_id", info.ID)
	}
	if err := q.rdb.Set(ctx, q.jobKey(info.ID), data, jobTTL).Err(); err != nil {
		return redisErrors.NewWithCause(ErrStore, err).WithDetail("job_id", info.ID)
	}
	return nil
}
