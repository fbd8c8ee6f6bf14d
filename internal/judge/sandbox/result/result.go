// Package result defines execution results and verdicts shared by every judge backend.
package result

// Verdict is the categorical judging outcome.
type Verdict string

const (
	VerdictAccepted          Verdict = "ACCEPTED"
	VerdictWrongAnswer       Verdict = "WRONG_ANSWER"
	VerdictTimeLimitExceeded Verdict = "TIME_LIMIT_EXCEEDED"
	VerdictRuntimeError      Verdict = "RUNTIME_ERROR"
	VerdictCompilationError  Verdict = "COMPILATION_ERROR"
	VerdictInternalError     Verdict = "INTERNAL_ERROR"
)

// Status ids follow the Judge0 numbering so local and remote results share one scale.
const (
	StatusAccepted          = 3
	StatusWrongAnswer       = 4
	StatusTimeLimitExceeded = 5
	StatusCompilationError  = 6
	StatusRuntimeError      = 11
	StatusInternalError     = 13
)

// Backend names the executor that produced a result.
type Backend string

const (
	BackendLocal  Backend = "local"
	BackendRemote Backend = "remote"

	// BackendSynthetic marks fabricated bot results that never ran code.
	BackendSynthetic Backend = "synthetic"
)

// Priority orders verdicts for aggregation; higher wins.
func (v Verdict) Priority() int {
	switch v {
	case VerdictCompilationError:
		return 3
	case VerdictTimeLimitExceeded, VerdictRuntimeError, VerdictInternalError:
		return 2
	case VerdictWrongAnswer:
		return 1
	default:
		return 0
	}
}

// StatusID maps a verdict onto the shared status scale.
func (v Verdict) StatusID() int {
	switch v {
	case VerdictAccepted:
		return StatusAccepted
	case VerdictWrongAnswer:
		return StatusWrongAnswer
	case VerdictTimeLimitExceeded:
		return StatusTimeLimitExceeded
	case VerdictCompilationError:
		return StatusCompilationError
	case VerdictRuntimeError:
		return StatusRuntimeError
	default:
		return StatusInternalError
	}
}

// Description is the human label used in status payloads.
func (v Verdict) Description() string {
	switch v {
	case VerdictAccepted:
		return "Accepted"
	case VerdictWrongAnswer:
		return "Wrong Answer"
	case VerdictTimeLimitExceeded:
		return "Time Limit Exceeded"
	case VerdictCompilationError:
		return "Compilation Error"
	case VerdictRuntimeError:
		return "Runtime Error"
	default:
		return "Internal Error"
	}
}

// VerdictFromStatus maps a Judge0-style status id back onto a verdict.
// Ids 7-12 are the remote service's runtime error family.
func VerdictFromStatus(id int) Verdict {
	switch {
	case id == StatusAccepted:
		return VerdictAccepted
	case id == StatusWrongAnswer:
		return VerdictWrongAnswer
	case id == StatusTimeLimitExceeded:
		return VerdictTimeLimitExceeded
	case id == StatusCompilationError:
		return VerdictCompilationError
	case id >= 7 && id <= 12:
		return VerdictRuntimeError
	default:
		return VerdictInternalError
	}
}

// RunResult captures raw process execution data from an engine.
type RunResult struct {
	ExitCode int
	TimedOut bool
	WallMs   int64
	Stdout   string
	Stderr   string
}

// Result is the unified outcome of executing one source file against one stdin.
type Result struct {
	Stdout        string  `json:"stdout"`
	Stderr        string  `json:"stderr,omitempty"`
	CompileOutput string  `json:"compile_output,omitempty"`
	Message       string  `json:"message,omitempty"`
	Verdict       Verdict `json:"verdict"`
	StatusID      int     `json:"status_id"`
	Description   string  `json:"status_description"`
	// TimeSec is nil when the run phase never happened.
	TimeSec  *float64 `json:"time,omitempty"`
	MemoryKb int64    `json:"memory,omitempty"`
	Backend  Backend  `json:"backend"`
}

// New builds a result with status fields derived from verdict.
func New(verdict Verdict, backend Backend) Result {
	return Result{
		Verdict:     verdict,
		StatusID:    verdict.StatusID(),
		Description: verdict.Description(),
		Backend:     backend,
	}
}

// Seconds returns a pointer suitable for Result.TimeSec.
func Seconds(ms int64) *float64 {
	v := float64(ms) / 1000
	return &v
}

// TimeMs returns the run time in milliseconds, 0 when absent.
func (r Result) TimeMs() int64 {
	if r.TimeSec == nil {
		return 0
	}
	return int64(*r.TimeSec*1000 + 0.5)
}

// CompileResult is the outcome of the compile phase.
type CompileResult struct {
	OK       bool
	ExitCode int
	TimedOut bool
	TimeMs   int64
	// Output holds merged compiler diagnostics.
	Output string
}
