//go:build unix

package engine

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"codearena/internal/judge/sandbox/spec"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecEngineEchoesStdin(t *testing.T) {
	requireShell(t)
	eng := NewExecEngine()
	res, err := eng.Run(context.Background(), spec.RunSpec{
		WorkDir: t.TempDir(),
		Cmd:     []string{"sh", "-c", "cat"},
		Stdin:   "hello",
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.ExitCode != 0 || res.Stdout != "hello" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExecEngineExitCode(t *testing.T) {
	requireShell(t)
	eng := NewExecEngine()
	res, err := eng.Run(context.Background(), spec.RunSpec{
		WorkDir: t.TempDir(),
		Cmd:     []string{"sh", "-c", "echo boom >&2; exit 3"},
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit 3, got %d", res.ExitCode)
	}
	if strings.TrimSpace(res.Stderr) != "boom" {
		t.Fatalf("unexpected stderr %q", res.Stderr)
	}
}

func TestExecEngineKillsOnTimeout(t *testing.T) {
	requireShell(t)
	eng := NewExecEngine()
	start := time.Now()
	res, err := eng.Run(context.Background(), spec.RunSpec{
		WorkDir: t.TempDir(),
		Cmd:     []string{"sh", "-c", "sleep 5 & sleep 5"},
		Timeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !res.TimedOut || res.ExitCode != -1 {
		t.Fatalf("expected timeout, got %+v", res)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("process group was not killed promptly")
	}
}

func TestLimitedBufferDropsOverflow(t *testing.T) {
	b := newLimitedBuffer(4)
	n, err := b.Write([]byte("abcdef"))
	if err != nil || n != 6 {
		t.Fatalf("write should report full length, got %d %v", n, err)
	}
	if b.String() != "abcd" {
		t.Fatalf("unexpected buffer %q", b.String())
	}
}
