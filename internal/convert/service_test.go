package convert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/yourusername/reel-forge/internal/jobs"
)

func expectCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error with code %s, got %v", code, err)
	}
	if apiErr.Code != code {
		t.Fatalf("code = %s, want %s (%v)", apiErr.Code, code, err)
	}
}

func TestSubmitReturnsSubmission(t *testing.T) {
	env := newTestEnv(t, "b.mkv", "a.MP4", "skip.txt")
	req := env.request()
	req.CorrelationID = "trace-123"

	sub, err := env.svc.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if sub.JobID == "" || sub.CorrelationID != "trace-123" || sub.Status != jobs.StatusPending {
		t.Fatalf("unexpected submission: %+v", sub)
	}
	if sub.FileCount != 2 || !slices.Equal(sub.Files, []string{"a.MP4", "b.mkv"}) {
		t.Fatalf("unexpected files: %+v", sub)
	}

	job := env.job(t, sub.JobID)
	if job.Status != jobs.StatusPending || len(job.Logs) != 1 || job.Logs[0] != jobs.CreatedLogLine {
		t.Fatalf("unexpected stored job: %+v", job)
	}
	if len(env.scheduler.jobs) != 1 || env.scheduler.jobs[0].jobID != sub.JobID {
		t.Fatalf("job was not scheduled: %+v", env.scheduler.jobs)
	}
}

func TestSubmitGeneratesCorrelationID(t *testing.T) {
	env := newTestEnv(t, "a.mp4")
	sub, err := env.svc.Submit(context.Background(), env.request())
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if sub.CorrelationID == "" || sub.CorrelationID == sub.JobID {
		t.Fatalf("unexpected correlation id: %+v", sub)
	}
}

func TestSubmitValidationCreatesNoJob(t *testing.T) {
	env := newTestEnv(t, "a.mp4")
	ctx := context.Background()

	missingInput := env.request()
	missingInput.InputDirectory = filepath.Join(env.inputDir, "missing")
	_, err := env.svc.Submit(ctx, missingInput)
	expectCode(t, err, CodeInvalidInput)

	fileAsOutput := env.request()
	fileAsOutput.OutputDirectory = filepath.Join(env.inputDir, "a.mp4")
	_, err = env.svc.Submit(ctx, fileAsOutput)
	expectCode(t, err, CodeInvalidInput)

	for _, n := range []int{0, 33} {
		bad := env.request()
		bad.ConcurrentConversions = n
		_, err = env.svc.Submit(ctx, bad)
		expectCode(t, err, CodeInvalidInput)
	}

	badBitrate := env.request()
	badBitrate.VideoBitrate = "fast"
	_, err = env.svc.Submit(ctx, badBitrate)
	expectCode(t, err, CodeInvalidInput)

	if got := env.store.creates.Load(); got != 0 {
		t.Fatalf("no job should be created, got %d", got)
	}
	if len(env.scheduler.jobs) != 0 {
		t.Fatal("nothing should be scheduled")
	}
}

func TestSubmitWithoutVideosIsNotFound(t *testing.T) {
	env := newTestEnv(t, "readme.txt", "cover.jpg")
	if err := os.Mkdir(filepath.Join(env.inputDir, "nested.mp4"), 0o755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}

	_, err := env.svc.Submit(context.Background(), env.request())
	expectCode(t, err, CodeNotFound)
	if got := env.store.creates.Load(); got != 0 {
		t.Fatalf("no job should be created, got %d", got)
	}
}

func TestSubmitScheduleFailureMarksJobFailed(t *testing.T) {
	env := newTestEnv(t, "a.mp4")
	env.scheduler.err = errors.New("redis unavailable")

	_, err := env.svc.Submit(context.Background(), env.request())
	expectCode(t, err, CodeQueueFailure)
	if got := env.store.creates.Load(); got != 1 {
		t.Fatalf("creates = %d, want 1", got)
	}
}

func TestRunJobFailsWhenDirectoryDisappears(t *testing.T) {
	env := newTestEnv(t, "a.mp4")
	ctx := context.Background()
	sub, err := env.svc.Submit(ctx, env.request())
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if err := os.RemoveAll(env.inputDir); err != nil {
		t.Fatalf("failed to remove input dir: %v", err)
	}

	env.runScheduled(t, sub.JobID)
	job := env.job(t, sub.JobID)
	if job.Status != jobs.StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.Result == nil || job.Result.Error == "" || countLogs(job, "Job failed:") != 1 {
		t.Fatalf("unexpected failed job: %+v", job)
	}
	if len(env.launcher.Calls()) != 0 {
		t.Fatal("no conversion should run")
	}
}

func TestRunJobSkipsNonPendingJob(t *testing.T) {
	env := newTestEnv(t, "a.mp4")
	job := env.submitAndRun(t, env.request())

	payload, _ := jsonMarshal(env.request())
	if err := env.svc.RunJob(context.Background(), job.ID, payload); err != nil {
		t.Fatalf("RunJob returned error: %v", err)
	}
	if len(env.launcher.Calls()) != 1 {
		t.Fatalf("completed job should not run again, got %d runs", len(env.launcher.Calls()))
	}
}

func TestRunJobUnknownJob(t *testing.T) {
	env := newTestEnv(t, "a.mp4")
	payload, _ := jsonMarshal(env.request())
	err := env.svc.RunJob(context.Background(), "missing", payload)
	if !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("RunJob error = %v, want ErrNotFound", err)
	}
}

func TestGetAndCancelUnknownJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Get(ctx, "missing")
	expectCode(t, err, CodeJobNotFound)
	expectCode(t, env.svc.Cancel(ctx, "missing"), CodeJobNotFound)
}

func TestCancelTerminalJobIsNoop(t *testing.T) {
	env := newTestEnv(t, "a.mp4")
	job := env.submitAndRun(t, env.request())

	if err := env.svc.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	after := env.job(t, job.ID)
	if after.Status != jobs.StatusCompleted || len(after.Logs) != len(job.Logs) {
		t.Fatalf("terminal job changed: %+v", after)
	}
}

func TestCancelPendingJobWithoutRun(t *testing.T) {
	env := newTestEnv(t, "a.mp4")
	ctx := context.Background()
	sub, err := env.svc.Submit(ctx, env.request())
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	// 別プロセスで投入されたジョブを模擬する
	env.svc.forget(sub.JobID)

	if err := env.svc.Cancel(ctx, sub.JobID); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	job := env.job(t, sub.JobID)
	if job.Status != jobs.StatusFailed || job.Result == nil || !job.Result.CancelRequested {
		t.Fatalf("unexpected job: %+v", job)
	}

	env.runScheduled(t, sub.JobID)
	if len(env.launcher.Calls()) != 0 {
		t.Fatal("cancelled job should not run")
	}
}

func TestCancelInProgressJobAfterRestart(t *testing.T) {
	env := newTestEnv(t, "a.mp4")
	ctx := context.Background()
	sub, err := env.svc.Submit(ctx, env.request())
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if err := env.store.UpdateStatus(ctx, sub.JobID, jobs.StatusInProgress, "Job started."); err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}

	svc := env.restarted(t)
	if err := svc.Cancel(ctx, sub.JobID); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	job := env.job(t, sub.JobID)
	if job.Status != jobs.StatusFailed || job.Result == nil || !job.Result.CancelRequested {
		t.Fatalf("unexpected job: %s %+v", job.Status, job.Result)
	}
	if countLogs(job, "no longer running") != 1 {
		t.Fatalf("expected interruption log: %v", job.Logs)
	}
}

func TestReconcileFailsInterruptedJobs(t *testing.T) {
	env := newTestEnv(t, "a.mp4")
	ctx := context.Background()

	running, err := env.svc.Submit(ctx, env.request())
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if err := env.store.UpdateStatus(ctx, running.JobID, jobs.StatusInProgress, "Job started."); err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}
	queued, err := env.svc.Submit(ctx, env.request())
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	done := env.submitAndRun(t, env.request())

	svc := env.restarted(t)
	n, err := svc.Reconcile(ctx, false)
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if n != 1 {
		t.Fatalf("Reconcile = %d, want 1", n)
	}

	job := env.job(t, running.JobID)
	if job.Status != jobs.StatusFailed || job.Result == nil || job.Result.Error != "interrupted by restart" {
		t.Fatalf("unexpected interrupted job: %s %+v", job.Status, job.Result)
	}
	if countLogs(job, "interrupted by restart") != 1 {
		t.Fatalf("expected restart log: %v", job.Logs)
	}
	if got := env.job(t, queued.JobID).Status; got != jobs.StatusPending {
		t.Fatalf("queued job status = %s, want pending", got)
	}
	if got := env.job(t, done.ID).Status; got != jobs.StatusCompleted {
		t.Fatalf("completed job status = %s, want completed", got)
	}

	// 取り残されたジョブの RunJob は何もしない
	payload, _ := jsonMarshal(env.request())
	if err := svc.RunJob(ctx, running.JobID, payload); err != nil {
		t.Fatalf("RunJob returned error: %v", err)
	}
	if len(env.launcher.Calls()) != 1 {
		t.Fatalf("interrupted job should not run, got %d runs", len(env.launcher.Calls()))
	}

	n, err = svc.Reconcile(ctx, true)
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if n != 1 || env.job(t, queued.JobID).Status != jobs.StatusFailed {
		t.Fatalf("pending job should fail when queue is lost, n=%d", n)
	}
}

func TestReconcileSkipsRegisteredRuns(t *testing.T) {
	env := newTestEnv(t, "a.mp4")
	ctx := context.Background()
	sub, err := env.svc.Submit(ctx, env.request())
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	n, err := env.svc.Reconcile(ctx, true)
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if n != 0 {
		t.Fatalf("Reconcile = %d, want 0", n)
	}
	env.runScheduled(t, sub.JobID)
	if got := env.job(t, sub.JobID).Status; got != jobs.StatusCompleted {
		t.Fatalf("status = %s, want completed", got)
	}
}

func TestLocalSchedulerRunsJobs(t *testing.T) {
	env := newTestEnv(t, "a.mp4", "b.mp4")
	local := NewLocalScheduler(env.svc, 1, env.svc.deps.Logger)
	env.svc.SetScheduler(local)

	sub, err := env.svc.Submit(context.Background(), env.request())
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	local.Wait()

	job := env.job(t, sub.JobID)
	if job.Status != jobs.StatusCompleted || job.Result.Succeeded != 2 {
		t.Fatalf("unexpected job: %s %+v", job.Status, job.Result)
	}
}

func TestShutdownCancelsRuns(t *testing.T) {
	env := newTestEnv(t, "a.mp4")
	sub, err := env.svc.Submit(context.Background(), env.request())
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	env.svc.Shutdown()
	env.runScheduled(t, sub.JobID)

	job := env.job(t, sub.JobID)
	if job.Result == nil || job.Result.Cancelled != 1 {
		t.Fatalf("unexpected result after shutdown: %+v", job.Result)
	}
}
