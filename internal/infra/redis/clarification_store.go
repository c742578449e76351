package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/go-redis/redis/v8"

	"voice-calendar-pipeline/internal/domain"
	"voice-calendar-pipeline/internal/domain/model"
	"voice-calendar-pipeline/internal/domain/ports/repository"
)

var _ repository.ClarificationStore = (*ClarificationStore)(nil)

// ClarificationStore parks jobs awaiting a human reply in a Redis hash,
// outside every queue structure. No TTL: a clarification can take as long
// as the end user takes; abandoned entries are an operator concern.
// A second hash maps chat id to job id so an inbound reply can find its job.
type ClarificationStore struct {
	cli     *redis.Client
	key     string
	chatKey string
}

func NewClarificationStore(c *Client, keyPrefix string) *ClarificationStore {
	return &ClarificationStore{
		cli:     c.cli,
		key:     keyPrefix + ":parked",
		chatKey: keyPrefix + ":parked:by_chat",
	}
}

func (s *ClarificationStore) Park(ctx context.Context, job model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := s.cli.TxPipeline()
	pipe.HSet(ctx, s.key, job.ID, data)
	pipe.HSet(ctx, s.chatKey, chatField(job.Payload.SourceChatID), job.ID)
	_, err = pipe.Exec(ctx)
	return err
}

// luaTake pops one hash field atomically so two resume calls cannot both
// claim the same parked job.
var luaTake = redis.NewScript(`
local v = redis.call("HGET", KEYS[1], ARGV[1])
if v then
	redis.call("HDEL", KEYS[1], ARGV[1])
end
return v`)

func (s *ClarificationStore) Take(ctx context.Context, jobID string) (*model.Job, error) {
	res, err := luaTake.Run(ctx, s.cli, []string{s.key}, jobID).Result()
	if errors.Is(err, redis.Nil) || res == nil {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	raw, ok := res.(string)
	if !ok {
		return nil, domain.ErrReadDatabaseRow
	}
	var job model.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, err
	}
	// Best effort: the parked entry is already gone, a stale chat pointer
	// only yields ErrNotFound on the next Take.
	s.cli.HDel(ctx, s.chatKey, chatField(job.Payload.SourceChatID))
	return &job, nil
}

func (s *ClarificationStore) JobIDForChat(ctx context.Context, chatID int64) (string, error) {
	id, err := s.cli.HGet(ctx, s.chatKey, chatField(chatID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *ClarificationStore) Count(ctx context.Context) (int, error) {
	n, err := s.cli.HLen(ctx, s.key).Result()
	return int(n), err
}

func chatField(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
