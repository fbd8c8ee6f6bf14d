package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"codearena/internal/judge/sandbox/result"
	"codearena/internal/judge/sandbox/spec"
	appErr "codearena/pkg/errors"
)

// captureSlack lets the capture buffers hold a little more than the character
// limit so multi-byte runes at the boundary survive until truncation.
const captureSlack = 4

// ExecEngine runs commands as host processes in their own process group.
// Isolation comes from the scratch directory and the wall clock only.
type ExecEngine struct {
	baseEnv []string
}

// NewExecEngine creates an engine that inherits the service environment plus extra.
func NewExecEngine(extra ...string) *ExecEngine {
	env := append([]string{}, os.Environ()...)
	env = append(env, extra...)
	return &ExecEngine{baseEnv: env}
}

func (e *ExecEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	if len(runSpec.Cmd) == 0 {
		return result.RunResult{}, appErr.ValidationError("cmd", "required")
	}
	runSpec = runSpec.WithDefaults()

	cmd := exec.Command(runSpec.Cmd[0], runSpec.Cmd[1:]...)
	cmd.Dir = runSpec.WorkDir
	cmd.Env = append(append([]string{}, e.baseEnv...), runSpec.Env...)
	cmd.Stdin = bytes.NewBufferString(runSpec.Stdin)
	cmd.WaitDelay = 2 * time.Second
	setProcessGroup(cmd)

	stdout := newLimitedBuffer(runSpec.StdoutLimit*captureSlack + captureSlack)
	stderr := newLimitedBuffer(runSpec.StderrLimit*captureSlack + captureSlack)
	cmd.Stdout = stdout
	if runSpec.MergeStderr {
		cmd.Stderr = stdout
	} else {
		cmd.Stderr = stderr
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return result.RunResult{}, appErr.Wrapf(err, appErr.SandboxFailed, "start %s failed", runSpec.Cmd[0])
	}

	var timedOut atomic.Bool
	done := make(chan struct{})
	go func() {
		var wallTimer <-chan time.Time
		if runSpec.Timeout > 0 {
			timer := time.NewTimer(runSpec.Timeout)
			defer timer.Stop()
			wallTimer = timer.C
		}
		select {
		case <-ctx.Done():
			killProcessGroup(cmd.Process.Pid)
		case <-wallTimer:
			timedOut.Store(true)
			killProcessGroup(cmd.Process.Pid)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)
	wall := time.Since(start)
	// Background children outlive the leader; take the whole group down on every path.
	reapProcessGroup(cmd.Process.Pid)

	runResult := result.RunResult{
		ExitCode: exitCodeFromErr(waitErr, cmd.ProcessState),
		WallMs:   wall.Milliseconds(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	if timedOut.Load() {
		runResult.TimedOut = true
		runResult.ExitCode = -1
		return runResult, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return runResult, appErr.Wrapf(ctxErr, appErr.SandboxFailed, "execution cancelled")
	}
	return runResult, nil
}

func exitCodeFromErr(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// limitedBuffer keeps the first max bytes written and discards the rest
// without failing the writer, so a chatty program is never blocked.
type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if remain := b.max - b.buf.Len(); remain > 0 {
		if len(p) > remain {
			b.buf.Write(p[:remain])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var _ Engine = (*ExecEngine)(nil)
