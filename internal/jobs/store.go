package jobs

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// CreatedLogLine はジョブ作成時に記録される最初のログです。
const CreatedLogLine = "Job created."

// Store はジョブ状態の永続化を担います。
// 各更新はジョブ単位で直列化され、ログは追記順を保ちます。
type Store interface {
	// Create は pending のジョブを作成します。
	Create(ctx context.Context, id, correlationID string) (*Job, error)
	// Get はジョブを取得します。存在しない場合は nil, nil を返します。
	Get(ctx context.Context, id string) (*Job, error)
	// UpdateStatus は状態を遷移させ、line が空でなければログに追記します。
	UpdateStatus(ctx context.Context, id string, status Status, line string) error
	// AppendLog はログを 1 行追記します。
	AppendLog(ctx context.Context, id, line string) error
	// UpdateProgress は進捗とログを同時に更新します。進捗は減少しません。
	UpdateProgress(ctx context.Context, id string, progress float64, line string) error
	// Finish は終端状態へ遷移させ、結果を設定します。
	Finish(ctx context.Context, id string, status Status, result *Result, line string) error
	// ListActive は終端状態でないジョブを作成順に返します。
	ListActive(ctx context.Context) ([]*Job, error)
	Close() error
}

func sortByCreated(list []*Job) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

// mutation は読み込んだジョブを書き換える関数です。
type mutation func(*Job) error

func newJob(id, correlationID string, now time.Time) (*Job, error) {
	if id == "" {
		return nil, fmt.Errorf("job id is required")
	}
	return &Job{
		ID:            id,
		CorrelationID: correlationID,
		Status:        StatusPending,
		Progress:      0,
		Logs:          []string{CreatedLogLine},
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// touch は UpdatedAt を単調増加で更新します。
func touch(job *Job, now time.Time) {
	if !now.After(job.UpdatedAt) {
		now = job.UpdatedAt.Add(time.Microsecond)
	}
	job.UpdatedAt = now
}

func appendLine(job *Job, line string) {
	if line != "" {
		job.Logs = append(job.Logs, line)
	}
}

func setStatus(status Status, line string) mutation {
	return func(job *Job) error {
		if !CanTransition(job.Status, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, status)
		}
		job.Status = status
		appendLine(job, line)
		return nil
	}
}

func addLog(line string) mutation {
	return func(job *Job) error {
		appendLine(job, line)
		return nil
	}
}

func setProgress(progress float64, line string) mutation {
	return func(job *Job) error {
		if progress > 1 {
			progress = 1
		}
		if progress > job.Progress {
			job.Progress = progress
		}
		appendLine(job, line)
		return nil
	}
}

func finish(status Status, result *Result, line string) mutation {
	return func(job *Job) error {
		if !status.Terminal() {
			return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, status)
		}
		if !CanTransition(job.Status, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, status)
		}
		job.Status = status
		if status == StatusCompleted {
			job.Progress = 1
		}
		if result != nil {
			res := *result
			job.Result = &res
		}
		appendLine(job, line)
		return nil
	}
}
