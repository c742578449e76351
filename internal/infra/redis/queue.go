package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voice-calendar-pipeline/internal/config"
	"voice-calendar-pipeline/internal/domain"
	"voice-calendar-pipeline/internal/domain/model"
	"voice-calendar-pipeline/internal/domain/ports/repository"
)

var _ repository.PrimaryQueue = (*Queue)(nil)

// Queue is the Redis-backed primary queue. Layout:
//
//	<prefix>:ready:<stage>  list of job ids, FIFO per stage
//	<prefix>:delayed        zset job id -> notBefore (unix ms)
//	<prefix>:inflight       zset job id -> lock deadline (unix ms)
//	<prefix>:claim:<id>     claim token held by the dequeuing worker, TTL-bound
//	<prefix>:job:<id>       job record JSON
//
// The claim token plus the inflight deadline implement the visibility lock:
// a worker that crashes without ack/nack loses the token when its TTL runs
// out, and the reaper returns the job to its ready list with the attempt
// count untouched.
type Queue struct {
	cli *redis.Client
	cfg config.QueueConfig
	log *zerolog.Logger

	mu     sync.Mutex
	claims map[string]string // job id -> claim token held by this process
}

func NewQueue(c *Client, cfg config.QueueConfig, logger *zerolog.Logger) *Queue {
	return &Queue{
		cli:    c.cli,
		cfg:    cfg,
		log:    logger,
		claims: make(map[string]string),
	}
}

func (q *Queue) jobKey(id string) string          { return q.cfg.KeyPrefix + ":job:" + id }
func (q *Queue) claimKey(id string) string        { return q.cfg.KeyPrefix + ":claim:" + id }
func (q *Queue) readyKey(s model.Stage) string    { return q.cfg.KeyPrefix + ":ready:" + string(s) }
func (q *Queue) delayedKey() string               { return q.cfg.KeyPrefix + ":delayed" }
func (q *Queue) inflightKey() string              { return q.cfg.KeyPrefix + ":inflight" }

// luaRelease removes the claim and the in-flight marker, but only for the
// token holder. Anything else means the lock already expired and another
// worker may own the job now.
var luaRelease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[1])
	redis.call("ZREM", KEYS[2], ARGV[2])
	return 1
else
	return 0
end`)

func (q *Queue) Enqueue(ctx context.Context, job model.Job, notBefore time.Time) error {
	id := job.ID
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", id, err)
	}
	pipe := q.cli.TxPipeline()
	pipe.Set(ctx, q.jobKey(id), data, 0)
	if notBefore.After(time.Now()) {
		pipe.ZAdd(ctx, q.delayedKey(), &redis.Z{Score: float64(notBefore.UnixMilli()), Member: id})
	} else {
		pipe.RPush(ctx, q.readyKey(job.Stage), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue job %s: %w", id, err)
	}
	return nil
}

// Dequeue scans ready lists in stage-weight order so early stages are not
// starved, claims the job for the lock TTL, and blocks (polling) when idle.
func (q *Queue) Dequeue(ctx context.Context) (*model.Job, error) {
	for {
		if err := q.reap(ctx); err != nil {
			return nil, err
		}
		for _, stage := range model.StagesByWeight() {
			id, err := q.cli.LPop(ctx, q.readyKey(stage)).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("pop ready list %s: %w", stage, err)
			}
			job, err := q.loadJob(ctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				q.log.Warn().Str("job_id", id).Msg("ready list held an id with no job record; dropped")
				continue
			}
			if err != nil {
				return nil, err
			}
			if err := q.claim(ctx, id); err != nil {
				return nil, err
			}
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.cfg.PollInterval):
		}
	}
}

func (q *Queue) claim(ctx context.Context, jobID string) error {
	token := uuid.NewString()
	deadline := time.Now().Add(q.cfg.LockTTL)
	pipe := q.cli.TxPipeline()
	pipe.Set(ctx, q.claimKey(jobID), token, q.cfg.LockTTL)
	pipe.ZAdd(ctx, q.inflightKey(), &redis.Z{Score: float64(deadline.UnixMilli()), Member: jobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}
	q.mu.Lock()
	q.claims[jobID] = token
	q.mu.Unlock()
	return nil
}

func (q *Queue) takeToken(jobID string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	token, ok := q.claims[jobID]
	delete(q.claims, jobID)
	return token, ok
}

func (q *Queue) release(ctx context.Context, jobID string) error {
	token, ok := q.takeToken(jobID)
	if !ok {
		return domain.ErrLockLost
	}
	n, err := luaRelease.Run(ctx, q.cli, []string{q.claimKey(jobID), q.inflightKey()}, token, jobID).Int()
	if err != nil {
		return fmt.Errorf("release claim %s: %w", jobID, err)
	}
	if n == 0 {
		return domain.ErrLockLost
	}
	return nil
}

func (q *Queue) Ack(ctx context.Context, jobID string) error {
	return q.release(ctx, jobID)
}

// Nack returns an unprocessed job to its stage, visible from notBefore.
func (q *Queue) Nack(ctx context.Context, jobID string, notBefore time.Time) error {
	job, err := q.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if err := q.release(ctx, jobID); err != nil {
		return err
	}
	if notBefore.After(time.Now()) {
		return q.cli.ZAdd(ctx, q.delayedKey(), &redis.Z{Score: float64(notBefore.UnixMilli()), Member: jobID}).Err()
	}
	return q.cli.RPush(ctx, q.readyKey(job.Stage), jobID).Err()
}

func (q *Queue) Remove(ctx context.Context, jobID string) error {
	job, err := q.loadJob(ctx, jobID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	q.mu.Lock()
	delete(q.claims, jobID)
	q.mu.Unlock()

	pipe := q.cli.TxPipeline()
	if job != nil {
		pipe.LRem(ctx, q.readyKey(job.Stage), 0, jobID)
	}
	pipe.ZRem(ctx, q.delayedKey(), jobID)
	pipe.ZRem(ctx, q.inflightKey(), jobID)
	pipe.Del(ctx, q.claimKey(jobID))
	pipe.Del(ctx, q.jobKey(jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove job %s: %w", jobID, err)
	}
	return nil
}

// Contains reports whether the queue tracks the job. The record key is
// written on every enqueue and deleted only by Remove, so its existence
// means the queue accepted the job and has not retired it.
func (q *Queue) Contains(ctx context.Context, jobID string) (bool, error) {
	n, err := q.cli.Exists(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("check job %s: %w", jobID, err)
	}
	return n > 0, nil
}

func (q *Queue) Depths(ctx context.Context) (map[model.Stage]int, error) {
	out := make(map[model.Stage]int)
	for _, stage := range model.StagesByWeight() {
		n, err := q.cli.LLen(ctx, q.readyKey(stage)).Result()
		if err != nil {
			return nil, fmt.Errorf("depth of %s: %w", stage, err)
		}
		out[stage] = int(n)
	}
	return out, nil
}

// reap promotes due delayed jobs and returns expired in-flight claims to
// their ready lists. The ZREM winner check keeps concurrent reapers from
// double-promoting one id.
func (q *Queue) reap(ctx context.Context) error {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())

	due, err := q.cli.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{Min: "-inf", Max: now, Count: 100}).Result()
	if err != nil {
		return fmt.Errorf("scan delayed set: %w", err)
	}
	for _, id := range due {
		removed, err := q.cli.ZRem(ctx, q.delayedKey(), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue // another worker won
		}
		if err := q.pushReady(ctx, id); err != nil {
			return err
		}
	}

	expired, err := q.cli.ZRangeByScore(ctx, q.inflightKey(), &redis.ZRangeBy{Min: "-inf", Max: now, Count: 100}).Result()
	if err != nil {
		return fmt.Errorf("scan inflight set: %w", err)
	}
	for _, id := range expired {
		removed, err := q.cli.ZRem(ctx, q.inflightKey(), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		// Attempt count stays untouched; the worker that eventually
		// processes the job records the failed attempt.
		q.cli.Del(ctx, q.claimKey(id))
		if err := q.pushReady(ctx, id); err != nil {
			return err
		}
		q.log.Warn().Str("job_id", id).Msg("visibility lock expired; job returned to ready list")
	}
	return nil
}

func (q *Queue) pushReady(ctx context.Context, jobID string) error {
	job, err := q.loadJob(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil // record gone, nothing to schedule
	}
	if err != nil {
		return err
	}
	return q.cli.RPush(ctx, q.readyKey(job.Stage), jobID).Err()
}

func (q *Queue) loadJob(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := q.cli.Get(ctx, q.jobKey(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	var job model.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", jobID, err)
	}
	return &job, nil
}
