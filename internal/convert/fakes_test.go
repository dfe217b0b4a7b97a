package convert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourusername/reel-forge/internal/ffmpeg"
	"github.com/yourusername/reel-forge/internal/jobs"
	"github.com/yourusername/reel-forge/internal/probe"
	"github.com/yourusername/reel-forge/internal/storage"
)

type fakeProcess struct {
	delay           time.Duration
	exitCode        int
	stderr          string
	block           bool
	ignoreTerminate bool

	terminate  chan struct{}
	once       sync.Once
	terminated atomic.Bool
	done       func()
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{delay: 10 * time.Millisecond, terminate: make(chan struct{})}
}

func (p *fakeProcess) Wait() ffmpeg.Outcome {
	defer func() {
		if p.done != nil {
			p.done()
		}
	}()

	var timer <-chan time.Time
	if !p.block {
		timer = time.After(p.delay)
	}
	select {
	case <-timer:
		return ffmpeg.Outcome{ExitCode: p.exitCode, Stderr: p.stderr, Terminated: p.terminated.Load()}
	case <-p.terminate:
		if p.ignoreTerminate {
			return ffmpeg.Outcome{ExitCode: p.exitCode, Stderr: p.stderr, Terminated: true}
		}
		return ffmpeg.Outcome{ExitCode: -1, Terminated: true}
	}
}

func (p *fakeProcess) Terminate() {
	p.once.Do(func() {
		p.terminated.Store(true)
		close(p.terminate)
	})
}

func (p *fakeProcess) PID() int {
	return 4242
}

type fakeLauncher struct {
	mu        sync.Mutex
	calls     [][]string
	active    int
	maxActive int

	started    chan *fakeProcess
	newProcess func(args []string) *fakeProcess
	startErr   error
}

func (l *fakeLauncher) Start(args []string) (ffmpeg.Process, error) {
	if l.startErr != nil {
		return nil, l.startErr
	}

	p := newFakeProcess()
	if l.newProcess != nil {
		p = l.newProcess(args)
	}
	p.done = func() {
		l.mu.Lock()
		l.active--
		l.mu.Unlock()
	}

	l.mu.Lock()
	l.calls = append(l.calls, append([]string(nil), args...))
	l.active++
	if l.active > l.maxActive {
		l.maxActive = l.active
	}
	l.mu.Unlock()

	if l.started != nil {
		l.started <- p
	}
	return p, nil
}

func (l *fakeLauncher) Calls() [][]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]string(nil), l.calls...)
}

func (l *fakeLauncher) MaxActive() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxActive
}

type fakeProber struct {
	results  map[string]*probe.Result
	fallback *probe.Result
}

func (p *fakeProber) Probe(ctx context.Context, path string) (*probe.Result, error) {
	if r, ok := p.results[path]; ok {
		return r, nil
	}
	if p.fallback != nil {
		return p.fallback, nil
	}
	return nil, errors.New("no probe data")
}

type failingRemoveFiles struct {
	*storage.Local
}

func (f failingRemoveFiles) Remove(path string) error {
	return errors.New("permission denied")
}

type scheduledJob struct {
	jobID string
	req   Request
}

type manualScheduler struct {
	mu   sync.Mutex
	jobs []scheduledJob
	err  error
}

func (m *manualScheduler) Schedule(ctx context.Context, jobID string, req Request) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, scheduledJob{jobID: jobID, req: req})
	return nil
}

type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (o *recordingObserver) Notify(e Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *recordingObserver) Events() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Event(nil), o.events...)
}

type countingStore struct {
	*jobs.MemoryStore
	creates atomic.Int32
}

func (s *countingStore) Create(ctx context.Context, id, correlationID string) (*jobs.Job, error) {
	s.creates.Add(1)
	return s.MemoryStore.Create(ctx, id, correlationID)
}

type testEnv struct {
	svc       *Service
	store     *countingStore
	launcher  *fakeLauncher
	prober    *fakeProber
	observer  *recordingObserver
	scheduler *manualScheduler
	inputDir  string
	outputDir string
}

func newTestEnv(t *testing.T, files ...string) *testEnv {
	t.Helper()
	root := t.TempDir()
	env := &testEnv{
		store:     &countingStore{MemoryStore: jobs.NewMemoryStore()},
		launcher:  &fakeLauncher{},
		prober:    &fakeProber{results: map[string]*probe.Result{}},
		observer:  &recordingObserver{},
		scheduler: &manualScheduler{},
		inputDir:  filepath.Join(root, "in"),
		outputDir: filepath.Join(root, "out"),
	}
	for _, dir := range []string{env.inputDir, env.outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("failed to create %s: %v", dir, err)
		}
	}
	for _, name := range files {
		if err := os.WriteFile(filepath.Join(env.inputDir, name), []byte("video"), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	svc, err := NewService(Deps{
		Store:      env.store,
		Prober:     env.prober,
		Launcher:   env.launcher,
		Files:      storage.NewLocal(),
		Observer:   env.observer,
		ProfileDir: filepath.Join(root, "profiles"),
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	svc.SetScheduler(env.scheduler)
	env.svc = svc
	return env
}

func (e *testEnv) request() Request {
	req := DefaultRequest()
	req.InputDirectory = e.inputDir
	req.OutputDirectory = e.outputDir
	req.VideoBitrate = "4M"
	return req
}

// submitAndRun は投入したジョブを同期的に実行し、最終状態を返します。
func (e *testEnv) submitAndRun(t *testing.T, req Request) *jobs.Job {
	t.Helper()
	sub, err := e.svc.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	e.runScheduled(t, sub.JobID)
	return e.job(t, sub.JobID)
}

func (e *testEnv) runScheduled(t *testing.T, jobID string) {
	t.Helper()
	e.scheduler.mu.Lock()
	var req *Request
	for _, j := range e.scheduler.jobs {
		if j.jobID == jobID {
			r := j.req
			req = &r
		}
	}
	e.scheduler.mu.Unlock()
	if req == nil {
		t.Fatalf("job %s was not scheduled", jobID)
	}
	payload, err := jsonMarshal(*req)
	if err != nil {
		t.Fatalf("failed to encode request: %v", err)
	}
	if err := e.svc.RunJob(context.Background(), jobID, payload); err != nil {
		t.Fatalf("RunJob returned error: %v", err)
	}
}

func (e *testEnv) job(t *testing.T, jobID string) *jobs.Job {
	t.Helper()
	job, err := e.svc.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	return job
}

// restarted は同じストアを使う新しい Service を作り、プロセスの再起動を模擬します。
func (e *testEnv) restarted(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Deps{
		Store:      e.store,
		Prober:     e.prober,
		Launcher:   e.launcher,
		Files:      storage.NewLocal(),
		Observer:   e.observer,
		ProfileDir: e.svc.deps.ProfileDir,
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	svc.SetScheduler(e.scheduler)
	return svc
}
