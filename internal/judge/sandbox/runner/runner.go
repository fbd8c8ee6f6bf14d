// Package runner orchestrates compile and run workflows on an engine.
package runner

import (
	"context"
	"time"

	"codearena/internal/judge/sandbox/profile"
	"codearena/internal/judge/sandbox/result"
)

// CompileRequest describes one compilation task.
type CompileRequest struct {
	WorkDir  string
	Language profile.LanguageSpec
	Timeout  time.Duration
}

// RunRequest describes one execution task.
type RunRequest struct {
	WorkDir  string
	Language profile.LanguageSpec
	Stdin    string
	Timeout  time.Duration
}

// RunOutcome pairs the raw process result with its verdict.
type RunOutcome struct {
	Verdict result.Verdict
	Raw     result.RunResult
}

// Runner orchestrates compile and run workflows.
type Runner interface {
	Compile(ctx context.Context, req CompileRequest) (result.CompileResult, error)
	Run(ctx context.Context, req RunRequest) (RunOutcome, error)
}
