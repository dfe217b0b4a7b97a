package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const (
	// TaskTypeConvert は変換ジョブのタスク種別です。
	TaskTypeConvert = "convert:job"
	// QueueConvert は変換ジョブのキュー名です。
	QueueConvert = "convert"
)

// Runner はキューから取り出したジョブを実行します。
// ジョブ単位の失敗はジョブ状態に記録し、error はストア障害などに限ります。
type Runner interface {
	RunJob(ctx context.Context, jobID string, params []byte) error
}

// TaskPayload は変換ジョブのペイロードです。
type TaskPayload struct {
	JobID  string          `json:"jobId"`
	Params json.RawMessage `json:"params"`
}

// ManagerConfig は Manager の設定です。
type ManagerConfig struct {
	RedisURL    string
	Concurrency int
	Timeout     time.Duration
}

// Manager は asynq によるジョブの投入と実行を担います。
type Manager struct {
	client  *asynq.Client
	server  *asynq.Server
	mux     *asynq.ServeMux
	runner  Runner
	timeout time.Duration
	logger  zerolog.Logger
}

// NewManager は Manager を初期化します。
func NewManager(cfg ManagerConfig, runner Runner, logger zerolog.Logger) (*Manager, error) {
	if runner == nil {
		return nil, errors.New("runner is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				QueueConvert: 1,
			},
			Logger: asynqLogger{logger: logger.With().Str("component", "asynq").Logger()},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		client:  client,
		server:  server,
		mux:     mux,
		runner:  runner,
		timeout: timeout,
		logger:  logger,
	}
	mux.HandleFunc(TaskTypeConvert, manager.handleConvertTask)
	return manager, nil
}

// StartWorkers は asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() error {
	if err := m.server.Start(m.mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	return nil
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown() {
	m.server.Shutdown()
	if err := m.client.Close(); err != nil {
		m.logger.Warn().Err(err).Msg("failed to close asynq client")
	}
}

// Enqueue はジョブをキューに投入します。ジョブ ID をタスク ID として重複投入を防ぎます。
func (m *Manager) Enqueue(ctx context.Context, jobID string, params any) error {
	if jobID == "" {
		return fmt.Errorf("jobID is required")
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	body, err := json.Marshal(TaskPayload{JobID: jobID, Params: raw})
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypeConvert, body)
	info, err := m.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueConvert),
		asynq.TaskID(jobID),
		asynq.MaxRetry(0),
		asynq.Timeout(m.timeout),
	)
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	m.logger.Debug().Str("job_id", jobID).Str("task_id", info.ID).Str("queue", info.Queue).Msg("job enqueued")
	return nil
}

func (m *Manager) handleConvertTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		return fmt.Errorf("missing jobId in payload: %w", asynq.SkipRetry)
	}
	return m.runner.RunJob(ctx, payload.JobID, payload.Params)
}

// asynqLogger は asynq のログを zerolog に流します。
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
