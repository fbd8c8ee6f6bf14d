// Package spec defines the execution specification of one process.
package spec

import "time"

// Output caps in characters.
const (
	DefaultStdoutLimit = 10000
	DefaultStderrLimit = 5000
)

// RunSpec describes one process launch inside a scratch directory.
type RunSpec struct {
	WorkDir string
	Cmd     []string
	Env     []string
	Stdin   string
	Timeout time.Duration

	// StdoutLimit and StderrLimit cap captured output in characters.
	StdoutLimit int
	StderrLimit int

	// MergeStderr captures both streams into Stdout, used for compiler diagnostics.
	MergeStderr bool
}

// WithDefaults fills zero limits.
func (s RunSpec) WithDefaults() RunSpec {
	if s.StdoutLimit <= 0 {
		s.StdoutLimit = DefaultStdoutLimit
	}
	if s.StderrLimit <= 0 {
		s.StderrLimit = DefaultStderrLimit
	}
	return s
}
