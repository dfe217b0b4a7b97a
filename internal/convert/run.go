package convert

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourusername/reel-forge/internal/bitrate"
	"github.com/yourusername/reel-forge/internal/ffmpeg"
	"github.com/yourusername/reel-forge/internal/jobs"
	"github.com/yourusername/reel-forge/internal/probe"
)

// TaskStatus は 1 ファイル分の変換状態です。
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// stderrTailLines は失敗時にログへ残す ffmpeg 出力の行数です。
const stderrTailLines = 20

const errTerminated = "cancelled: ffmpeg was terminated"

// Task は発見したファイル 1 件分の変換タスクです。
type Task struct {
	Input     string     `json:"input"`
	Output    string     `json:"output,omitempty"`
	Status    TaskStatus `json:"status"`
	StartTime time.Time  `json:"startTime,omitempty"`
}

// Run は 1 ジョブの実行状態を保持します。品質表とキャンセル用コンテキストはジョブごとに持ちます。
type Run struct {
	jobID  string
	req    Request
	deps   *Deps
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// mu は tasks / running / reserved / cancelRequested を保護します。
	mu              sync.Mutex
	tasks           []*Task
	running         map[int]ffmpeg.Process
	reserved        map[string]struct{}
	cancelRequested bool

	// recordMu はジョブレコードへの書き込みを直列化します。
	recordMu sync.Mutex
	baseCtx  context.Context
	resolved int
	started  time.Time
	results  []jobs.FileResult
	storeErr error

	advisor *bitrate.Advisor
}

func newRun(jobID string, req Request, deps *Deps) *Run {
	ctx, cancel := context.WithCancel(context.Background())
	return &Run{
		jobID:    jobID,
		req:      req,
		deps:     deps,
		logger:   deps.Logger.With().Str("job_id", jobID).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		running:  make(map[int]ffmpeg.Process),
		reserved: make(map[string]struct{}),
		baseCtx:  context.Background(),
	}
}

// Cancel は以降のディスパッチを止め、実行中のプロセスすべてに終了を要求します。
// 最初の呼び出しだけがジョブログに記録します。複数回呼んでも安全で、終了要求が済むまで戻りません。
func (r *Run) Cancel() error {
	r.mu.Lock()
	first := !r.cancelRequested
	r.cancelRequested = true
	r.mu.Unlock()

	var err error
	if first {
		err = r.appendLog("Cancellation requested.")
	}

	r.mu.Lock()
	r.cancel()
	procs := make([]ffmpeg.Process, 0, len(r.running))
	for _, p := range r.running {
		procs = append(procs, p)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func(p ffmpeg.Process) {
			defer wg.Done()
			p.Terminate()
		}(p)
	}
	wg.Wait()
	return err
}

// CancelRequested はキャンセルが要求されたかどうかを返します。
func (r *Run) CancelRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelRequested
}

// Tasks は現在のタスク状態の複製を返します。
func (r *Run) Tasks() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Task, len(r.tasks))
	for i, t := range r.tasks {
		out[i] = *t
	}
	return out
}

// Execute はファイルごとのタスクをワーカープールで実行し、全件解決後にジョブを completed にします。
// ctx はジョブレコードの更新に使い、キャンセルには Cancel を使います。
func (r *Run) Execute(ctx context.Context, files []string) (*jobs.Result, error) {
	if len(files) == 0 {
		return nil, newError(CodeNotFound, "変換対象の動画ファイルが見つかりません。", nil)
	}

	r.recordMu.Lock()
	r.baseCtx = ctx
	r.recordMu.Unlock()
	r.started = r.deps.now()

	r.mu.Lock()
	r.tasks = make([]*Task, len(files))
	for i, f := range files {
		r.tasks[i] = &Task{Input: f, Status: TaskQueued}
	}
	r.mu.Unlock()

	r.results = make([]jobs.FileResult, len(files))
	for i, f := range files {
		r.results[i] = jobs.FileResult{Input: f, Status: string(TaskQueued)}
	}

	workers := min(r.req.ConcurrentConversions, len(files))
	if workers < 1 {
		workers = 1
	}

	line := fmt.Sprintf("Conversion started: %d files, %d workers.", len(files), workers)
	if err := r.deps.Store.UpdateStatus(ctx, r.jobID, jobs.StatusInProgress, line); err != nil {
		return nil, newError(CodeStoreFailure, "ジョブ状態の更新に失敗しました。", err)
	}
	r.notify(Event{Type: EventJobStatus, Status: string(jobs.StatusInProgress), Message: line, Total: len(files)})

	r.prepareAdvisor()
	r.dispatch(workers)

	result := r.summary()
	line = fmt.Sprintf("Job completed: %d succeeded, %d failed, %d cancelled.", result.Succeeded, result.Failed, result.Cancelled)
	r.recordMu.Lock()
	if err := r.deps.Store.Finish(ctx, r.jobID, jobs.StatusCompleted, result, line); err != nil {
		r.storeErr = errors.Join(r.storeErr, err)
	}
	storeErr := r.storeErr
	r.recordMu.Unlock()
	r.notify(Event{Type: EventJobStatus, Status: string(jobs.StatusCompleted), Message: line, Progress: 1, Resolved: result.Total, Total: result.Total})

	if storeErr != nil {
		return result, newError(CodeStoreFailure, "ジョブ状態の更新に失敗しました。", storeErr)
	}
	return result, nil
}

func (r *Run) prepareAdvisor() {
	var table bitrate.Table
	if r.req.VideoBitrate == ffmpeg.ModeOptimized {
		loaded, err := bitrate.LoadProfile(r.deps.ProfileDir, r.req.BitrateQualityProfile)
		if err != nil {
			r.logger.Warn().Err(err).Str("profile", r.req.BitrateQualityProfile).Msg("quality profile unavailable")
			r.appendLog(fmt.Sprintf("Quality profile %q could not be loaded; using fallback bitrate %s.",
				r.req.BitrateQualityProfile, r.req.FallbackBitrate))
		}
		table = loaded
	}
	r.advisor = bitrate.NewAdvisor(table, r.req.CapDynamicBitrate)
}

// dispatch はタスクを一覧順にワーカーへ渡します。キャンセル後の未投入タスクは cancelled にします。
func (r *Run) dispatch(workers int) {
	work := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				r.runTask(i)
			}
		}()
	}

	next := 0
dispatchLoop:
	for ; next < len(r.tasks); next++ {
		if r.ctx.Err() != nil {
			break
		}
		select {
		case work <- next:
		case <-r.ctx.Done():
			break dispatchLoop
		}
	}
	close(work)

	for ; next < len(r.tasks); next++ {
		r.resolve(next, r.notStarted(next))
	}
	wg.Wait()
}

func (r *Run) notStarted(i int) jobs.FileResult {
	return jobs.FileResult{
		Input:  r.tasks[i].Input,
		Status: string(TaskCancelled),
		Error:  "cancelled before start",
	}
}

func (r *Run) runTask(i int) {
	task := r.tasks[i]
	if r.ctx.Err() != nil {
		r.resolve(i, r.notStarted(i))
		return
	}

	var probed *probe.Result
	if r.req.VideoBitrate == ffmpeg.ModeOptimized || r.req.VideoBitrate == ffmpeg.ModeDynamic {
		res, err := r.deps.Prober.Probe(r.ctx, task.Input)
		if err != nil {
			r.logger.Debug().Err(err).Str("file", task.Input).Msg("probe failed; using fallback bitrate")
		} else {
			probed = res
		}
	}

	output := r.claimOutput(i)
	cmd, err := ffmpeg.Build(ffmpeg.Params{
		Binary:      r.deps.FFmpegPath,
		Input:       task.Input,
		Output:      output,
		VideoCodec:  r.req.VideoCodec,
		AudioCodec:  r.req.AudioCodec,
		BitrateMode: r.req.VideoBitrate,
		Fallback:    r.req.FallbackBitrate,
		Verbose:     r.req.VerboseLogging,
		Probe:       probed,
	}, r.advisor)

	fr := jobs.FileResult{
		Input:         task.Input,
		Output:        output,
		Bitrate:       cmd.Bitrate.Bitrate,
		BitrateSource: string(cmd.Bitrate.Source),
	}
	if err != nil {
		r.releaseOutput(output)
		fr.Status = string(TaskFailed)
		fr.Error = err.Error()
		r.resolve(i, fr)
		return
	}

	proc, started, err := r.launch(i, cmd.Args)
	if !started {
		r.releaseOutput(output)
		if err == nil {
			r.resolve(i, r.notStarted(i))
			return
		}
		fr.Status = string(TaskFailed)
		fr.Error = err.Error()
		r.resolve(i, fr)
		return
	}

	r.appendLog(fmt.Sprintf("Converting %s -> %s (bitrate %s, %s).",
		filepath.Base(task.Input), filepath.Base(output), cmd.Bitrate.Bitrate, cmd.Bitrate.Source))
	r.logger.Debug().Str("command", cmd.String()).Int("pid", proc.PID()).Msg("ffmpeg started")
	r.notify(Event{Type: EventTaskStarted, Status: string(TaskRunning), File: task.Input, Output: output})

	startedAt := r.deps.now()
	outcome := proc.Wait()

	r.mu.Lock()
	delete(r.running, i)
	r.mu.Unlock()

	fr.DurationSeconds = r.deps.now().Sub(startedAt).Seconds()
	if r.req.VerboseLogging {
		r.logStreams(task.Input, outcome)
	}

	// 終了要求と正常終了が競合した場合は OS が報告した終了コードを優先します。
	if outcome.Success() {
		fr.Status = string(TaskSucceeded)
		fr.Verification = r.verify(output)
		if r.req.DeleteInputFiles {
			if err := r.deps.Files.Remove(task.Input); err != nil {
				r.logger.Error().Err(err).Str("file", task.Input).Msg("failed to delete input")
				r.appendLog(fmt.Sprintf("Error: failed to delete input %s: %v", filepath.Base(task.Input), err))
				fr.Error = fmt.Sprintf("delete input: %v", err)
			} else {
				fr.InputDeleted = true
			}
		}
		r.resolve(i, fr)
		return
	}

	fr.Status = string(TaskFailed)
	switch {
	case outcome.Terminated:
		fr.Error = errTerminated
	case outcome.Err != nil:
		fr.Error = fmt.Sprintf("ffmpeg failed: %v", outcome.Err)
	default:
		fr.Error = fmt.Sprintf("ffmpeg exited with code %d", outcome.ExitCode)
	}
	if tail := ffmpeg.Tail(outcome.Stderr, stderrTailLines); len(tail) > 0 && !outcome.Terminated {
		fr.Error += ": " + tail[len(tail)-1]
		r.logger.Warn().Str("file", task.Input).Strs("stderr", tail).Msg("ffmpeg failed")
	}
	r.resolve(i, fr)
}

// claimOutput はジョブ内で重複しない出力パスを予約します。
func (r *Run) claimOutput(i int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	output := ffmpeg.OutputPath(r.tasks[i].Input, r.req.OutputDirectory, r.req.OutputFormat, func(p string) bool {
		if _, ok := r.reserved[p]; ok {
			return true
		}
		return r.deps.Files.Exists(p)
	})
	r.reserved[output] = struct{}{}
	r.tasks[i].Output = output
	return output
}

func (r *Run) releaseOutput(output string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reserved, output)
}

// launch はキャンセルされていなければプロセスを起動して登録します。
// キャンセル済みの場合は started=false, err=nil を返します。
func (r *Run) launch(i int, args []string) (ffmpeg.Process, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx.Err() != nil {
		return nil, false, nil
	}
	proc, err := r.deps.Launcher.Start(args)
	if err != nil {
		return nil, false, err
	}
	r.running[i] = proc
	r.tasks[i].Status = TaskRunning
	r.tasks[i].StartTime = r.deps.now()
	return proc, true, nil
}

func (r *Run) verify(output string) *jobs.Verification {
	v := &jobs.Verification{
		Resolution: probe.Unknown,
		Bitrate:    probe.Unknown,
		VideoCodec: probe.Unknown,
		AudioCodec: probe.Unknown,
		Format:     probe.Unknown,
		MimeType:   probe.Unknown,
	}
	if res, err := r.deps.Prober.Probe(r.baseCtx, output); err == nil {
		v.Resolution = res.Resolution()
		v.Bitrate = res.BitrateLabel()
		v.VideoCodec = res.VideoCodec()
		v.AudioCodec = res.AudioCodec()
		v.Format = res.FormatName()
	}
	if r.deps.Sniff != nil {
		if mime, err := r.deps.Sniff(output); err == nil && mime != "" {
			v.MimeType = mime
		}
	}
	return v
}

func (r *Run) logStreams(input string, outcome ffmpeg.Outcome) {
	name := filepath.Base(input)
	if s := strings.TrimSpace(outcome.Stdout); s != "" {
		r.appendLog(fmt.Sprintf("ffmpeg stdout (%s):\n%s", name, s))
	}
	if s := strings.TrimSpace(outcome.Stderr); s != "" {
		r.appendLog(fmt.Sprintf("ffmpeg stderr (%s):\n%s", name, s))
	}
}

// resolve はタスクの終了を記録します。ログ追記・解決数の加算・進捗と ETA の更新を 1 回の書き込みで行います。
func (r *Run) resolve(i int, fr jobs.FileResult) {
	r.mu.Lock()
	r.tasks[i].Status = TaskStatus(fr.Status)
	if fr.Output != "" {
		r.tasks[i].Output = fr.Output
	}
	total := len(r.tasks)
	r.mu.Unlock()

	r.recordMu.Lock()
	defer r.recordMu.Unlock()

	r.resolved++
	r.results[i] = fr
	progress := float64(r.resolved) / float64(total)
	remaining := total - r.resolved

	var eta *time.Duration
	if remaining > 0 {
		elapsed := r.deps.now().Sub(r.started)
		d := time.Duration(float64(elapsed) / float64(r.resolved) * float64(remaining))
		eta = &d
	}

	line := resolutionLine(r.resolved, total, fr, eta)
	if err := r.deps.Store.UpdateProgress(r.baseCtx, r.jobID, progress, line); err != nil {
		r.logger.Error().Err(err).Msg("failed to update job progress")
		r.storeErr = errors.Join(r.storeErr, err)
	}

	event := Event{
		Type:     EventTaskResolved,
		Status:   fr.Status,
		File:     fr.Input,
		Output:   fr.Output,
		Message:  line,
		Resolved: r.resolved,
		Total:    total,
		Progress: progress,
	}
	if eta != nil {
		secs := eta.Seconds()
		event.ETASeconds = &secs
	}
	r.notify(event)
}

func resolutionLine(resolved, total int, fr jobs.FileResult, eta *time.Duration) string {
	name := filepath.Base(fr.Input)
	var line string
	switch TaskStatus(fr.Status) {
	case TaskSucceeded:
		line = fmt.Sprintf("[%d/%d] Converted %s -> %s in %.1fs.", resolved, total, name, filepath.Base(fr.Output), fr.DurationSeconds)
	case TaskCancelled:
		line = fmt.Sprintf("[%d/%d] Cancelled %s: not started.", resolved, total, name)
	case TaskFailed:
		if fr.Error == errTerminated {
			line = fmt.Sprintf("[%d/%d] Cancelled %s: conversion terminated.", resolved, total, name)
			break
		}
		fallthrough
	default:
		line = fmt.Sprintf("[%d/%d] Failed %s: %s.", resolved, total, name, fr.Error)
	}
	if eta != nil {
		line += fmt.Sprintf(" ETA %s.", eta.Round(time.Second))
	}
	return line
}

// appendLog は resolve と同じ直列化ポイントでログを追記します。
func (r *Run) appendLog(line string) error {
	r.recordMu.Lock()
	defer r.recordMu.Unlock()
	err := r.deps.Store.AppendLog(r.baseCtx, r.jobID, line)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to append job log")
		r.storeErr = errors.Join(r.storeErr, err)
	}
	r.notify(Event{Type: EventLog, Message: line})
	return err
}

func (r *Run) notify(e Event) {
	if r.deps.Observer == nil {
		return
	}
	e.JobID = r.jobID
	r.deps.Observer.Notify(e)
}

func (r *Run) summary() *jobs.Result {
	r.recordMu.Lock()
	defer r.recordMu.Unlock()

	result := &jobs.Result{
		Total:           len(r.results),
		CancelRequested: r.CancelRequested(),
		Files:           append([]jobs.FileResult(nil), r.results...),
	}
	for _, fr := range r.results {
		switch TaskStatus(fr.Status) {
		case TaskSucceeded:
			result.Succeeded++
		case TaskFailed:
			result.Failed++
		case TaskCancelled:
			result.Cancelled++
		}
	}
	return result
}
