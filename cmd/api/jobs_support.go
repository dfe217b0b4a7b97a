package main

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/yourusername/reel-forge/internal/config"
	"github.com/yourusername/reel-forge/internal/convert"
	"github.com/yourusername/reel-forge/internal/jobs"
)

// queueScheduler は convert.Scheduler を asynq へ橋渡しします。
type queueScheduler struct {
	manager *jobs.Manager
}

func (s *queueScheduler) Schedule(ctx context.Context, jobID string, req convert.Request) error {
	return s.manager.Enqueue(ctx, jobID, req)
}

// openStore は JOB_STORE に応じたジョブストアを開きます。
func openStore(ctx context.Context, cfg *config.Config) (jobs.Store, error) {
	switch cfg.JobStore {
	case config.StoreMemory:
		return jobs.NewMemoryStore(), nil
	case config.StoreSQLite:
		return jobs.OpenSQLite(cfg.SQLitePath)
	case config.StoreRedis:
		opt, err := redis.ParseURL(cfg.QueueRedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		ttl := time.Duration(cfg.JobRetentionHours) * time.Hour
		return jobs.NewRedisStore(client, ttl), nil
	default:
		return nil, fmt.Errorf("unknown job store: %s", cfg.JobStore)
	}
}

// setupScheduler は JOB_SCHEDULER に応じてジョブの実行先を組み立てます。
// 戻り値の stop はワーカーを止め、実行中のジョブの終了を待ちます。
func setupScheduler(cfg *config.Config, svc *convert.Service, logger zerolog.Logger) (stop func(), err error) {
	switch cfg.JobScheduler {
	case config.SchedulerLocal:
		local := convert.NewLocalScheduler(svc, cfg.MaxConcurrentJobs, logger)
		svc.SetScheduler(local)
		return local.Wait, nil
	case config.SchedulerAsynq:
		manager, err := jobs.NewManager(jobs.ManagerConfig{
			RedisURL:    cfg.QueueRedisURL,
			Concurrency: cfg.MaxConcurrentJobs,
			Timeout:     time.Duration(cfg.JobQueueTimeoutHours) * time.Hour,
		}, svc, logger)
		if err != nil {
			return nil, err
		}
		if err := manager.StartWorkers(); err != nil {
			return nil, err
		}
		svc.SetScheduler(&queueScheduler{manager: manager})
		return manager.Shutdown, nil
	default:
		return nil, fmt.Errorf("unknown job scheduler: %s", cfg.JobScheduler)
	}
}
