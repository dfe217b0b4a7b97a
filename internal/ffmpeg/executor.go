package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DefaultGracePeriod は中断シグナル後に強制終了するまでの待ち時間です。
const DefaultGracePeriod = 5 * time.Second

// Outcome は 1 プロセスの終了結果です。
type Outcome struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	Err        error
	Terminated bool
}

// Success は OS から観測した終了コードが 0 かどうかを返します。
func (o Outcome) Success() bool {
	return o.Err == nil && o.ExitCode == 0
}

// Process は起動済みの外部プロセスです。所有者 (ワーカー) だけが Wait を呼びます。
type Process interface {
	Wait() Outcome
	Terminate()
	PID() int
}

// Launcher は引数列からプロセスを起動します。
type Launcher interface {
	Start(args []string) (Process, error)
}

// Executor は os/exec による Launcher 実装です。
// キャンセルは Terminate で明示的に行うため CommandContext は使いません。
type Executor struct {
	GracePeriod time.Duration
}

// NewExecutor は Executor を作成します。
func NewExecutor() *Executor {
	return &Executor{GracePeriod: DefaultGracePeriod}
}

// Start は stdout / stderr を全量取得する設定でプロセスを起動します。
func (e *Executor) Start(args []string) (Process, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("command is empty")
	}

	cmd := exec.Command(args[0], args[1:]...)
	p := &process{
		cmd:   cmd,
		grace: e.GracePeriod,
		done:  make(chan struct{}),
	}
	if p.grace <= 0 {
		p.grace = DefaultGracePeriod
	}
	cmd.Stdout = &p.stdout
	cmd.Stderr = &p.stderr
	cmd.WaitDelay = p.grace

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", args[0], err)
	}
	go p.wait()
	return p, nil
}

type process struct {
	cmd    *exec.Cmd
	grace  time.Duration
	stdout bytes.Buffer
	stderr bytes.Buffer

	done    chan struct{}
	outcome Outcome

	mu         sync.Mutex
	terminated bool
	stopOnce   sync.Once
}

func (p *process) wait() {
	err := p.cmd.Wait()

	outcome := Outcome{
		ExitCode: -1,
		Stdout:   p.stdout.String(),
		Stderr:   p.stderr.String(),
	}
	if p.cmd.ProcessState != nil {
		outcome.ExitCode = p.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		outcome.Err = err
	}

	p.mu.Lock()
	outcome.Terminated = p.terminated
	p.mu.Unlock()

	p.outcome = outcome
	close(p.done)
}

func (p *process) Wait() Outcome {
	<-p.done
	return p.outcome
}

func (p *process) PID() int {
	return p.cmd.Process.Pid
}

// Terminate は中断シグナルを送り、猶予内に終了しなければ強制終了します。
// 複数回呼んでも、終了後に呼んでも安全です。
func (p *process) Terminate() {
	p.stopOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}

		p.mu.Lock()
		p.terminated = true
		p.mu.Unlock()

		if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
			if errors.Is(err, os.ErrProcessDone) {
				return
			}
			_ = p.cmd.Process.Kill()
			return
		}

		select {
		case <-p.done:
		case <-time.After(p.grace):
			_ = p.cmd.Process.Kill()
			<-p.done
		}
	})
}

// Version は `ffmpeg -version` の 1 行目を返します。
func Version(ctx context.Context, binary string) (string, error) {
	if binary == "" {
		binary = "ffmpeg"
	}
	out, err := exec.CommandContext(ctx, binary, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("%s -version: %w", binary, err)
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(line), nil
}

// Tail は出力の末尾 n 行を返します。
func Tail(output string, n int) []string {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" || n <= 0 {
		return nil
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
