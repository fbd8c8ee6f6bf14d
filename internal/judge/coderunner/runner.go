// Package coderunner picks the local sandbox or the remote judge for each execution.
package coderunner

import (
	"context"

	"go.uber.org/zap"

	"codearena/internal/judge/sandbox"
	"codearena/internal/judge/sandbox/observer"
	"codearena/internal/judge/sandbox/profile"
	"codearena/internal/judge/sandbox/result"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/logger"
)

// Executor runs one source file against one stdin.
type Executor interface {
	Execute(ctx context.Context, source string, lang profile.Language, stdin string) (result.Result, error)
}

// Config selects the preferred backend.
type Config struct {
	PreferLocal bool `yaml:"preferLocal"`
}

// CodeRunner tries the sandbox first when allowed and falls back to the remote judge once.
type CodeRunner struct {
	cfg     Config
	local   Executor
	caps    *sandbox.Capabilities
	remote  Executor
	metrics observer.MetricsRecorder
}

// New builds a runner. local and caps may be nil when only the remote judge is deployed.
func New(cfg Config, local Executor, caps *sandbox.Capabilities, remote Executor, metrics observer.MetricsRecorder) *CodeRunner {
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	return &CodeRunner{cfg: cfg, local: local, caps: caps, remote: remote, metrics: metrics}
}

func (r *CodeRunner) Execute(ctx context.Context, source string, lang profile.Language, stdin string) (result.Result, error) {
	fallback := false
	if r.useLocal(lang) {
		res, err := r.local.Execute(ctx, source, lang, stdin)
		if err == nil {
			res.Backend = result.BackendLocal
			r.metrics.ObserveBackend(ctx, string(result.BackendLocal), false)
			return res, nil
		}
		logger.Warn(ctx, "local execution failed, falling back to remote judge",
			zap.String("language", string(lang)),
			zap.Error(err),
		)
		fallback = true
	}

	if r.remote == nil {
		return result.Result{}, appErr.New(appErr.RemoteJudgeUnavailable).WithMessage("no execution backend available")
	}
	res, err := r.remote.Execute(ctx, source, lang, stdin)
	if err != nil {
		return result.Result{}, err
	}
	res.Backend = result.BackendRemote
	r.metrics.ObserveBackend(ctx, string(result.BackendRemote), fallback)
	return res, nil
}

func (r *CodeRunner) useLocal(lang profile.Language) bool {
	return r.cfg.PreferLocal && r.local != nil && r.caps.Available(lang)
}

var _ Executor = (*CodeRunner)(nil)
