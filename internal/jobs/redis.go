package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix     = "job:"
	maxUpdateRetries = 50
)

// RedisStore はジョブ状態を Redis に保存します。ttl が 0 の場合は期限を設定しません。
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore は RedisStore を作成します。
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		ttl: ttl,
	}
}

// Create はジョブを作成します。既に存在する場合はエラーになります。
func (s *RedisStore) Create(ctx context.Context, id, correlationID string) (*Job, error) {
	job, err := newJob(id, correlationID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	ok, err := s.rdb.SetNX(ctx, jobKey(id), payload, s.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("job already exists: %s", id)
	}
	return job, nil
}

// Get はジョブ情報を取得します。
func (s *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	if id == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	data, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *RedisStore) UpdateStatus(ctx context.Context, id string, status Status, line string) error {
	return s.updatePartial(ctx, id, setStatus(status, line))
}

func (s *RedisStore) AppendLog(ctx context.Context, id, line string) error {
	return s.updatePartial(ctx, id, addLog(line))
}

func (s *RedisStore) UpdateProgress(ctx context.Context, id string, progress float64, line string) error {
	return s.updatePartial(ctx, id, setProgress(progress, line))
}

func (s *RedisStore) Finish(ctx context.Context, id string, status Status, result *Result, line string) error {
	return s.updatePartial(ctx, id, finish(status, result, line))
}

// ListActive は job:* キーを走査し、終端状態でないジョブを返します。
// 走査中に期限切れになったキーは無視します。
func (s *RedisStore) ListActive(ctx context.Context) ([]*Job, error) {
	var out []*Job
	iter := s.rdb.Scan(ctx, 0, jobKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			return nil, fmt.Errorf("decode %s: %w", iter.Val(), err)
		}
		if !job.Status.Terminal() {
			out = append(out, &job)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan jobs: %w", err)
	}
	sortByCreated(out)
	return out, nil
}

// Close は Redis クライアントを閉じます。
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// updatePartial は WATCH / MULTI でジョブを読み込み、書き換えて保存します。
// 競合した場合は再試行します。
func (s *RedisStore) updatePartial(ctx context.Context, id string, mutate mutation) error {
	key := jobKey(id)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return err
		}
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			return err
		}
		if err := mutate(&job); err != nil {
			return err
		}
		touch(&job, time.Now().UTC())
		payload, err := json.Marshal(&job)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update job %s: too many concurrent updates", id)
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}
