// Package engine launches processes for the sandbox and captures their output.
package engine

import (
	"context"

	"codearena/internal/judge/sandbox/result"
	"codearena/internal/judge/sandbox/spec"
)

// Engine executes a RunSpec and reports the raw process outcome.
type Engine interface {
	Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error)
}
