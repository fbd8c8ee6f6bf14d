package runner

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/google/shlex"

	"codearena/internal/judge/sandbox/engine"
	"codearena/internal/judge/sandbox/observer"
	"codearena/internal/judge/sandbox/profile"
	"codearena/internal/judge/sandbox/result"
	"codearena/internal/judge/sandbox/spec"
	appErr "codearena/pkg/errors"
)

// DefaultRunner implements compile/run workflows for supported languages.
type DefaultRunner struct {
	eng     engine.Engine
	metrics observer.MetricsRecorder
}

// NewRunner creates a new runner backed by eng.
func NewRunner(eng engine.Engine) *DefaultRunner {
	return NewRunnerWithObserver(eng, observer.NoopMetricsRecorder{})
}

// NewRunnerWithObserver creates a new runner with metrics hooks.
func NewRunnerWithObserver(eng engine.Engine, metrics observer.MetricsRecorder) *DefaultRunner {
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	return &DefaultRunner{eng: eng, metrics: metrics}
}

func (r *DefaultRunner) Compile(ctx context.Context, req CompileRequest) (result.CompileResult, error) {
	if req.WorkDir == "" {
		return result.CompileResult{}, appErr.ValidationError("work_dir", "required")
	}
	if !req.Language.CompileEnabled {
		return result.CompileResult{OK: true}, nil
	}
	cmd, err := buildCommand(req.Language.CompileCmdTpl, req.WorkDir, req.Language)
	if err != nil {
		return result.CompileResult{}, err
	}

	runRes, err := r.eng.Run(ctx, spec.RunSpec{
		WorkDir:     req.WorkDir,
		Cmd:         cmd,
		Env:         req.Language.Env,
		Timeout:     req.Timeout,
		StdoutLimit: spec.DefaultStderrLimit,
		MergeStderr: true,
	})
	compileRes := result.CompileResult{
		OK:       err == nil && !runRes.TimedOut && runRes.ExitCode == 0,
		ExitCode: runRes.ExitCode,
		TimedOut: runRes.TimedOut,
		TimeMs:   runRes.WallMs,
		Output:   runRes.Stdout,
	}
	r.metrics.ObserveCompile(ctx, string(req.Language.ID), compileRes.OK, compileRes.TimeMs)
	if err != nil {
		return compileRes, err
	}
	return compileRes, nil
}

func (r *DefaultRunner) Run(ctx context.Context, req RunRequest) (RunOutcome, error) {
	if req.WorkDir == "" {
		return RunOutcome{}, appErr.ValidationError("work_dir", "required")
	}
	cmd, err := buildCommand(req.Language.RunCmdTpl, req.WorkDir, req.Language)
	if err != nil {
		return RunOutcome{}, err
	}

	runRes, err := r.eng.Run(ctx, spec.RunSpec{
		WorkDir: req.WorkDir,
		Cmd:     cmd,
		Env:     req.Language.Env,
		Stdin:   req.Stdin,
		Timeout: req.Timeout,
	})
	if err != nil {
		return RunOutcome{Raw: runRes}, err
	}
	verdict := mapRunVerdict(runRes)
	r.metrics.ObserveRun(ctx, string(req.Language.ID), string(verdict), runRes.WallMs)
	return RunOutcome{Verdict: verdict, Raw: runRes}, nil
}

func buildCommand(tpl, workDir string, lang profile.LanguageSpec) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is required")
	}
	expanded := tpl
	expanded = strings.ReplaceAll(expanded, "{src}", filepath.Join(workDir, lang.SourceFile))
	if lang.BinaryFile != "" {
		expanded = strings.ReplaceAll(expanded, "{bin}", filepath.Join(workDir, lang.BinaryFile))
	}
	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	return fields, nil
}

func mapRunVerdict(res result.RunResult) result.Verdict {
	if res.TimedOut || res.ExitCode == -1 {
		return result.VerdictTimeLimitExceeded
	}
	if res.ExitCode != 0 {
		return result.VerdictRuntimeError
	}
	return result.VerdictAccepted
}

var _ Runner = (*DefaultRunner)(nil)
