// Package evaluator grades a submission against an ordered list of test cases.
package evaluator

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"codearena/internal/judge/coderunner"
	"codearena/internal/judge/sandbox/profile"
	"codearena/internal/judge/sandbox/result"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/logger"
)

// TestCase is one hidden input/expected output pair.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"output"`
}

// TestDetail is the per-test outcome. Only executed tests get an entry.
type TestDetail struct {
	Index          int            `json:"index"`
	Passed         bool           `json:"passed"`
	Verdict        result.Verdict `json:"verdict"`
	ActualOutput   string         `json:"actual_output"`
	ExpectedOutput string         `json:"expected_output"`
	TimeMs         int64          `json:"time_ms"`
	MemoryKb       int64          `json:"memory_kb"`
	Error          string         `json:"error,omitempty"`
}

// SuiteResult aggregates one submission's run over the suite.
type SuiteResult struct {
	Verdict     result.Verdict `json:"verdict"`
	TestsPassed int            `json:"tests_passed"`
	TestsTotal  int            `json:"tests_total"`
	Details     []TestDetail   `json:"details"`
	// TotalTimeMs and MaxMemoryKb cover passed tests only.
	TotalTimeMs int64          `json:"total_time_ms"`
	MaxMemoryKb int64          `json:"max_memory_kb"`
	FirstError  string         `json:"first_error,omitempty"`
	Backend     result.Backend `json:"backend,omitempty"`
}

// Evaluator runs suites sequentially and stops at the first non-passing test.
type Evaluator struct {
	runner coderunner.Executor
}

func New(runner coderunner.Executor) *Evaluator {
	return &Evaluator{runner: runner}
}

// Run grades source against tests in order.
func (e *Evaluator) Run(ctx context.Context, source string, lang profile.Language, tests []TestCase) (SuiteResult, error) {
	if len(tests) == 0 {
		return SuiteResult{}, appErr.New(appErr.TestCaseNotFound).WithMessage("No test cases provided")
	}

	suite := SuiteResult{
		Verdict:    result.VerdictAccepted,
		TestsTotal: len(tests),
		Details:    make([]TestDetail, 0, len(tests)),
	}
	for i, tc := range tests {
		expected := strings.TrimSpace(tc.ExpectedOutput)
		res, err := e.runner.Execute(ctx, source, lang, tc.Input)
		if err != nil {
			logger.Warn(ctx, "test execution failed", zap.Int("test", i+1), zap.Error(err))
			suite.record(TestDetail{
				Index:          i + 1,
				Verdict:        result.VerdictCompilationError,
				ExpectedOutput: expected,
				Error:          err.Error(),
			})
			break
		}
		if suite.Backend == "" {
			suite.Backend = res.Backend
		}

		detail := TestDetail{
			Index:          i + 1,
			Verdict:        res.Verdict,
			ActualOutput:   strings.TrimSpace(res.Stdout),
			ExpectedOutput: expected,
			TimeMs:         res.TimeMs(),
			MemoryKb:       res.MemoryKb,
		}
		if res.Verdict != result.VerdictAccepted {
			detail.Error = firstNonEmpty(res.CompileOutput, res.Stderr, res.Message, res.Description)
			suite.record(detail)
			break
		}
		if detail.ActualOutput != expected {
			detail.Verdict = result.VerdictWrongAnswer
			suite.record(detail)
			break
		}
		detail.Passed = true
		suite.record(detail)
	}
	return suite, nil
}

func (s *SuiteResult) record(d TestDetail) {
	s.Details = append(s.Details, d)
	if d.Passed {
		s.TestsPassed++
		s.TotalTimeMs += d.TimeMs
		if d.MemoryKb > s.MaxMemoryKb {
			s.MaxMemoryKb = d.MemoryKb
		}
		return
	}
	if d.Verdict.Priority() > s.Verdict.Priority() {
		s.Verdict = d.Verdict
	}
	if s.FirstError == "" {
		s.FirstError = d.Error
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
