package convert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yourusername/reel-forge/internal/ffmpeg"
	"github.com/yourusername/reel-forge/internal/jobs"
	"github.com/yourusername/reel-forge/internal/probe"
)

// Files はエンジンが使うファイルシステム操作です。
type Files interface {
	Exists(path string) bool
	IsDir(path string) bool
	Remove(path string) error
}

// Sniffer は出力ファイルの MIME タイプを判定します。
type Sniffer func(path string) (string, error)

// DetectMIME はファイル先頭から MIME タイプを判定します。
func DetectMIME(path string) (string, error) {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	return m.String(), nil
}

// Scheduler はジョブを非同期に実行するためのインターフェースです。
type Scheduler interface {
	Schedule(ctx context.Context, jobID string, req Request) error
}

// Deps は Service が使う外部コラボレーターです。
type Deps struct {
	Store      jobs.Store
	Prober     probe.Prober
	Launcher   ffmpeg.Launcher
	Files      Files
	Observer   Observer
	Sniff      Sniffer
	ProfileDir string
	FFmpegPath string
	Logger     zerolog.Logger
	Now        func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Submission は投入直後に返すジョブ情報です。
type Submission struct {
	JobID         string      `json:"jobId"`
	CorrelationID string      `json:"correlationId"`
	Status        jobs.Status `json:"status"`
	FileCount     int         `json:"fileCount"`
	Files         []string    `json:"files"`
}

// Service は変換ジョブの投入・実行・キャンセル・参照を提供します。
type Service struct {
	deps      Deps
	scheduler Scheduler

	mu   sync.Mutex
	runs map[string]*Run
}

// NewService は Service を作成します。
func NewService(deps Deps) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("store is nil")
	}
	if deps.Prober == nil {
		return nil, errors.New("prober is nil")
	}
	if deps.Launcher == nil {
		return nil, errors.New("launcher is nil")
	}
	if deps.Files == nil {
		return nil, errors.New("files is nil")
	}
	return &Service{
		deps: deps,
		runs: make(map[string]*Run),
	}, nil
}

// SetScheduler はジョブの投入先を設定します。Scheduler 側が Service を Runner として使うため後から設定します。
func (s *Service) SetScheduler(scheduler Scheduler) {
	s.scheduler = scheduler
}

// Submit は要求を検証してジョブを作成し、非同期実行を予約します。
// 検証に失敗した場合はジョブを作成しません。
func (s *Service) Submit(ctx context.Context, req Request) (*Submission, error) {
	if s.scheduler == nil {
		return nil, errors.New("scheduler is not configured")
	}
	req = req.Normalize()
	files, err := s.prepare(req)
	if err != nil {
		return nil, err
	}

	jobID := uuid.NewString()
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
		req.CorrelationID = correlationID
	}

	job, err := s.deps.Store.Create(ctx, jobID, correlationID)
	if err != nil {
		return nil, newError(CodeStoreFailure, "ジョブの作成に失敗しました。", err)
	}

	s.register(newRun(jobID, req, &s.deps))

	if err := s.scheduler.Schedule(ctx, jobID, req); err != nil {
		s.forget(jobID)
		line := fmt.Sprintf("Job failed: could not schedule: %v", err)
		if finishErr := s.deps.Store.Finish(ctx, jobID, jobs.StatusFailed, &jobs.Result{Error: err.Error()}, line); finishErr != nil {
			err = fmt.Errorf("%w (mark failed: %v)", err, finishErr)
		}
		return nil, newError(CodeQueueFailure, "ジョブの登録に失敗しました。", err)
	}

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = filepath.Base(f)
	}
	s.notify(Event{JobID: jobID, Type: EventJobStatus, Status: string(jobs.StatusPending), Message: jobs.CreatedLogLine, Total: len(files)})

	return &Submission{
		JobID:         job.ID,
		CorrelationID: job.CorrelationID,
		Status:        job.Status,
		FileCount:     len(files),
		Files:         names,
	}, nil
}

// prepare はパラメータとディレクトリを検証し、対象ファイルを返します。
func (s *Service) prepare(req Request) ([]string, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !s.deps.Files.IsDir(req.InputDirectory) {
		return nil, newError(CodeInvalidInput, fmt.Sprintf("入力ディレクトリが見つかりません: %s", req.InputDirectory), nil)
	}
	if !s.deps.Files.IsDir(req.OutputDirectory) {
		return nil, newError(CodeInvalidInput, fmt.Sprintf("出力ディレクトリが見つかりません: %s", req.OutputDirectory), nil)
	}
	files, err := Discover(req.InputDirectory)
	if err != nil {
		return nil, newError(CodeInvalidInput, "入力ディレクトリを読み込めません。", err)
	}
	if len(files) == 0 {
		return nil, newError(CodeNotFound, fmt.Sprintf("動画ファイルが見つかりません: %s", req.InputDirectory), nil)
	}
	return files, nil
}

// RunJob はキューから取り出されたジョブを実行します。
// ディレクトリの再検証に失敗した場合はジョブを failed にします。
func (s *Service) RunJob(ctx context.Context, jobID string, params []byte) error {
	var req Request
	if err := json.Unmarshal(params, &req); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	// 変換は外部からのキャンセルでのみ止めるため、キューのタイムアウトから切り離します。
	ctx = context.WithoutCancel(ctx)

	job, err := s.deps.Store.Get(ctx, jobID)
	if err != nil {
		return newError(CodeStoreFailure, "ジョブ情報の取得に失敗しました。", err)
	}
	if job == nil {
		return fmt.Errorf("%w: %s", jobs.ErrNotFound, jobID)
	}
	if job.Status != jobs.StatusPending {
		s.forget(jobID)
		s.deps.Logger.Warn().Str("job_id", jobID).Str("status", string(job.Status)).Msg("skipping job that is not pending")
		return nil
	}

	run := s.runFor(jobID, req)
	defer s.forget(jobID)

	files, err := s.prepare(req.Normalize())
	if err != nil {
		msg := err.Error()
		var apiErr *Error
		if errors.As(err, &apiErr) {
			msg = apiErr.Message
		}
		line := fmt.Sprintf("Job failed: %s", msg)
		if finishErr := s.deps.Store.Finish(ctx, jobID, jobs.StatusFailed, &jobs.Result{Error: msg}, line); finishErr != nil {
			return newError(CodeStoreFailure, "ジョブ状態の更新に失敗しました。", finishErr)
		}
		s.notify(Event{JobID: jobID, Type: EventJobStatus, Status: string(jobs.StatusFailed), Message: line})
		return nil
	}

	_, err = run.Execute(ctx, files)
	return err
}

// Cancel はジョブのキャンセルを要求します。終端状態のジョブには何もしません。
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	s.mu.Lock()
	run := s.runs[jobID]
	s.mu.Unlock()

	if run == nil {
		// 実行はこのプロセスだけが行うため、Run が無いジョブは再起動前に投入されたものです。
		line := "Job cancelled before start."
		if job.Status == jobs.StatusInProgress {
			line = "Job cancelled: conversion was interrupted and is no longer running."
		}
		if err := s.deps.Store.Finish(ctx, jobID, jobs.StatusFailed, &jobs.Result{CancelRequested: true, Error: "cancelled"}, line); err != nil {
			return newError(CodeStoreFailure, "ジョブ状態の更新に失敗しました。", err)
		}
		s.notify(Event{JobID: jobID, Type: EventJobStatus, Status: string(jobs.StatusFailed), Message: line})
		return nil
	}

	if err := run.Cancel(); err != nil {
		return newError(CodeStoreFailure, "ジョブ状態の更新に失敗しました。", err)
	}
	return nil
}

// Reconcile は再起動で中断されたジョブを failed にし、件数を返します。
// Run が登録されていない in_progress のジョブが対象です。includePending が true の場合は
// pending のジョブも対象にします (プロセス内スケジューラではキューが再起動で失われるため)。
func (s *Service) Reconcile(ctx context.Context, includePending bool) (int, error) {
	active, err := s.deps.Store.ListActive(ctx)
	if err != nil {
		return 0, newError(CodeStoreFailure, "ジョブ一覧の取得に失敗しました。", err)
	}

	n := 0
	for _, job := range active {
		if job.Status == jobs.StatusPending && !includePending {
			continue
		}
		s.mu.Lock()
		_, running := s.runs[job.ID]
		s.mu.Unlock()
		if running {
			continue
		}

		line := "Job failed: interrupted by restart."
		result := &jobs.Result{Error: "interrupted by restart"}
		if err := s.deps.Store.Finish(ctx, job.ID, jobs.StatusFailed, result, line); err != nil {
			if errors.Is(err, jobs.ErrInvalidTransition) {
				continue
			}
			return n, newError(CodeStoreFailure, "ジョブ状態の更新に失敗しました。", err)
		}
		s.deps.Logger.Warn().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("job interrupted by restart")
		s.notify(Event{JobID: job.ID, Type: EventJobStatus, Status: string(jobs.StatusFailed), Message: line})
		n++
	}
	return n, nil
}

// Get はジョブのスナップショットを返します。
func (s *Service) Get(ctx context.Context, jobID string) (*jobs.Job, error) {
	job, err := s.deps.Store.Get(ctx, jobID)
	if err != nil {
		return nil, newError(CodeStoreFailure, "ジョブ情報の取得に失敗しました。", err)
	}
	if job == nil {
		return nil, newError(CodeJobNotFound, "指定されたジョブは存在しません。", nil)
	}
	return job, nil
}

// Shutdown は実行中のすべてのジョブをキャンセルします。
func (s *Service) Shutdown() {
	s.mu.Lock()
	runs := make([]*Run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	s.mu.Unlock()

	for _, r := range runs {
		if err := r.Cancel(); err != nil {
			s.deps.Logger.Error().Err(err).Str("job_id", r.jobID).Msg("failed to record cancellation")
		}
	}
}

func (s *Service) register(run *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.jobID] = run
}

// runFor は登録済みの Run を返します。別プロセスで投入されたジョブの場合は新しく作成します。
func (s *Service) runFor(jobID string, req Request) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[jobID]; ok {
		return run
	}
	run := newRun(jobID, req.Normalize(), &s.deps)
	s.runs[jobID] = run
	return run
}

func (s *Service) forget(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, jobID)
}

func (s *Service) notify(e Event) {
	if s.deps.Observer != nil {
		s.deps.Observer.Notify(e)
	}
}

// LocalScheduler は Redis を使わずにプロセス内の goroutine でジョブを実行します。
type LocalScheduler struct {
	runner jobs.Runner
	sem    chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewLocalScheduler は同時実行数 maxConcurrent の LocalScheduler を作成します。
func NewLocalScheduler(runner jobs.Runner, maxConcurrent int, logger zerolog.Logger) *LocalScheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &LocalScheduler{
		runner: runner,
		sem:    make(chan struct{}, maxConcurrent),
		logger: logger,
	}
}

// Schedule はジョブを goroutine で実行します。
func (s *LocalScheduler) Schedule(ctx context.Context, jobID string, req Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sem <- struct{}{}
		defer func() { <-s.sem }()
		if err := s.runner.RunJob(context.Background(), jobID, payload); err != nil {
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("job failed")
		}
	}()
	return nil
}

// Wait は投入済みのジョブがすべて終わるまで待ちます。
func (s *LocalScheduler) Wait() {
	s.wg.Wait()
}
