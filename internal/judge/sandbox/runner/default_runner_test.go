package runner

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"codearena/internal/judge/sandbox/profile"
	"codearena/internal/judge/sandbox/result"
	"codearena/internal/judge/sandbox/spec"
)

type fakeEngine struct {
	specs []spec.RunSpec
	res   result.RunResult
	err   error
}

func (f *fakeEngine) Run(_ context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	f.specs = append(f.specs, runSpec)
	return f.res, f.err
}

func TestBuildCommandExpandsPlaceholders(t *testing.T) {
	lang, _ := profile.Lookup(profile.Cpp)
	got, err := buildCommand(lang.CompileCmdTpl, "/tmp/w", lang)
	if err != nil {
		t.Fatalf("buildCommand: %v", err)
	}
	want := []string{"g++", filepath.Join("/tmp/w", "main.cpp"), "-o", filepath.Join("/tmp/w", "main.exe")}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestBuildCommandRejectsEmpty(t *testing.T) {
	if _, err := buildCommand("  ", "/tmp", profile.LanguageSpec{}); err == nil {
		t.Fatal("expected error for empty template")
	}
}

func TestMapRunVerdict(t *testing.T) {
	cases := []struct {
		res  result.RunResult
		want result.Verdict
	}{
		{result.RunResult{ExitCode: 0}, result.VerdictAccepted},
		{result.RunResult{ExitCode: 1}, result.VerdictRuntimeError},
		{result.RunResult{ExitCode: -1, TimedOut: true}, result.VerdictTimeLimitExceeded},
	}
	for _, tc := range cases {
		if got := mapRunVerdict(tc.res); got != tc.want {
			t.Fatalf("mapRunVerdict(%+v) = %s, want %s", tc.res, got, tc.want)
		}
	}
}

func TestCompileSkippedForInterpreted(t *testing.T) {
	eng := &fakeEngine{}
	r := NewRunner(eng)
	lang, _ := profile.Lookup(profile.Python)
	res, err := r.Compile(context.Background(), CompileRequest{WorkDir: "/tmp/w", Language: lang})
	if err != nil || !res.OK {
		t.Fatalf("expected ok compile, got %+v %v", res, err)
	}
	if len(eng.specs) != 0 {
		t.Fatal("engine should not be called for interpreted languages")
	}
}

func TestCompileFailureKeepsDiagnostics(t *testing.T) {
	eng := &fakeEngine{res: result.RunResult{ExitCode: 1, Stdout: "main.c:1: error"}}
	r := NewRunner(eng)
	lang, _ := profile.Lookup(profile.C)
	res, err := r.Compile(context.Background(), CompileRequest{WorkDir: "/tmp/w", Language: lang})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.OK || res.Output != "main.c:1: error" {
		t.Fatalf("unexpected compile result %+v", res)
	}
	if !eng.specs[0].MergeStderr {
		t.Fatal("compile should merge stderr into output")
	}
}

func TestRunPassesStdin(t *testing.T) {
	eng := &fakeEngine{res: result.RunResult{Stdout: "3"}}
	r := NewRunner(eng)
	lang, _ := profile.Lookup(profile.JavaScript)
	out, err := r.Run(context.Background(), RunRequest{WorkDir: "/tmp/w", Language: lang, Stdin: "1 2"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Verdict != result.VerdictAccepted || eng.specs[0].Stdin != "1 2" {
		t.Fatalf("unexpected outcome %+v spec %+v", out, eng.specs[0])
	}
}
