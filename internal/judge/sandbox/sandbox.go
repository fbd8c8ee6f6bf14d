// Package sandbox runs one source file against one stdin on the local host.
package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"codearena/internal/judge/sandbox/profile"
	"codearena/internal/judge/sandbox/result"
	"codearena/internal/judge/sandbox/runner"
	"codearena/internal/judge/sandbox/spec"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/logger"
)

const (
	DefaultTimeout = 10 * time.Second
	scratchPrefix  = "codearena"
	timeoutMessage = "Execution timed out"
)

// Config controls local execution.
type Config struct {
	WorkRoot string        `yaml:"workRoot"`
	Timeout  time.Duration `yaml:"timeout"`
	// MaxConcurrent bounds simultaneous executions; zero leaves spawning unbounded.
	MaxConcurrent int64 `yaml:"maxConcurrent"`
}

// Sandbox executes code in a per-call scratch directory with a wall clock limit.
type Sandbox struct {
	cfg    Config
	runner runner.Runner
	caps   *Capabilities
	slots  *semaphore.Weighted
}

// New creates a sandbox bound to caps; languages missing from caps are refused.
func New(cfg Config, r runner.Runner, caps *Capabilities) *Sandbox {
	if cfg.WorkRoot == "" {
		cfg.WorkRoot = os.TempDir()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	s := &Sandbox{cfg: cfg, runner: r, caps: caps}
	if cfg.MaxConcurrent > 0 {
		s.slots = semaphore.NewWeighted(cfg.MaxConcurrent)
	}
	return s
}

// Capabilities exposes the probe table the sandbox was built with.
func (s *Sandbox) Capabilities() *Capabilities {
	return s.caps
}

// Execute compiles (when needed) and runs source with stdin.
// Execution failures are results; only infrastructure problems return an error.
func (s *Sandbox) Execute(ctx context.Context, source string, lang profile.Language, stdin string) (result.Result, error) {
	if !s.caps.Available(lang) {
		return result.Result{}, appErr.Newf(appErr.LanguageNotSupported, "%s is not available locally", lang)
	}
	langSpec, ok := profile.Lookup(lang)
	if !ok {
		return result.Result{}, appErr.Newf(appErr.LanguageNotSupported, "%s has no local toolchain", lang)
	}
	langSpec = langSpec.Resolve(source)

	if s.slots != nil {
		if err := s.slots.Acquire(ctx, 1); err != nil {
			return result.Result{}, appErr.Wrapf(err, appErr.SandboxFailed, "wait for execution slot")
		}
		defer s.slots.Release(1)
	}

	workDir := filepath.Join(s.cfg.WorkRoot, scratchPrefix, uuid.NewString())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return result.Result{}, appErr.Wrapf(err, appErr.SandboxFailed, "create scratch dir")
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn(ctx, "remove scratch dir failed", zap.String("dir", workDir), zap.Error(err))
		}
	}()

	if err := os.WriteFile(filepath.Join(workDir, langSpec.SourceFile), []byte(source), 0o644); err != nil {
		return result.Result{}, appErr.Wrapf(err, appErr.SandboxFailed, "write source file")
	}

	compileRes, err := s.runner.Compile(ctx, runner.CompileRequest{
		WorkDir:  workDir,
		Language: langSpec,
		Timeout:  s.cfg.Timeout,
	})
	if err != nil {
		return result.Result{}, err
	}
	if !compileRes.OK {
		res := result.New(result.VerdictCompilationError, result.BackendLocal)
		res.CompileOutput = truncate(compileRes.Output, spec.DefaultStderrLimit)
		if compileRes.TimedOut {
			res.Message = "Compilation timed out"
		}
		return res, nil
	}

	outcome, err := s.runner.Run(ctx, runner.RunRequest{
		WorkDir:  workDir,
		Language: langSpec,
		Stdin:    stdin,
		Timeout:  s.cfg.Timeout,
	})
	if err != nil {
		return result.Result{}, err
	}

	res := result.New(outcome.Verdict, result.BackendLocal)
	res.Stdout = truncate(outcome.Raw.Stdout, spec.DefaultStdoutLimit)
	res.Stderr = truncate(outcome.Raw.Stderr, spec.DefaultStderrLimit)
	res.CompileOutput = truncate(compileRes.Output, spec.DefaultStderrLimit)
	res.TimeSec = result.Seconds(outcome.Raw.WallMs)
	if outcome.Verdict == result.VerdictTimeLimitExceeded {
		res.Message = timeoutMessage
		if res.Stderr == "" {
			res.Stderr = timeoutMessage
		}
	}
	return res, nil
}

// truncate caps s at max characters.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
