// Package profile describes supported languages and how to build and run them.
package profile

import (
	"regexp"
	"strings"

	appErr "codearena/pkg/errors"
)

// Language is a normalized language identifier.
type Language string

const (
	Python     Language = "python"
	Java       Language = "java"
	C          Language = "c"
	Cpp        Language = "cpp"
	JavaScript Language = "javascript"
	Go         Language = "go"
)

// LanguageSpec defines how a language is compiled and executed.
// Command templates accept {src}, {bin} and {class} placeholders.
type LanguageSpec struct {
	ID             Language
	SourceFile     string
	BinaryFile     string
	CompileEnabled bool
	CompileCmdTpl  string
	RunCmdTpl      string
	// ProbeCmd reports the toolchain version; a zero exit means the toolchain is usable.
	ProbeCmd string
	Env      []string
}

var javaClassPattern = regexp.MustCompile(`public\s+class\s+(\w+)`)

const defaultJavaClass = "Main"

var builtin = map[Language]LanguageSpec{
	Python: {
		ID:         Python,
		SourceFile: "main.py",
		RunCmdTpl:  "python {src}",
		ProbeCmd:   "python --version",
	},
	Java: {
		ID:             Java,
		SourceFile:     "{class}.java",
		CompileEnabled: true,
		CompileCmdTpl:  "javac {src}",
		RunCmdTpl:      "java {class}",
		ProbeCmd:       "javac -version",
	},
	C: {
		ID:             C,
		SourceFile:     "main.c",
		BinaryFile:     "main.exe",
		CompileEnabled: true,
		CompileCmdTpl:  "gcc {src} -o {bin}",
		RunCmdTpl:      "{bin}",
		ProbeCmd:       "gcc --version",
	},
	Cpp: {
		ID:             Cpp,
		SourceFile:     "main.cpp",
		BinaryFile:     "main.exe",
		CompileEnabled: true,
		CompileCmdTpl:  "g++ {src} -o {bin}",
		RunCmdTpl:      "{bin}",
		ProbeCmd:       "g++ --version",
	},
	JavaScript: {
		ID:         JavaScript,
		SourceFile: "main.js",
		RunCmdTpl:  "node {src}",
		ProbeCmd:   "node --version",
	},
}

var aliases = map[string]Language{
	"python":     Python,
	"python3":    Python,
	"py":         Python,
	"java":       Java,
	"c":          C,
	"cpp":        Cpp,
	"c++":        Cpp,
	"javascript": JavaScript,
	"js":         JavaScript,
	"node":       JavaScript,
	"go":         Go,
	"golang":     Go,
}

// Parse normalizes a client supplied language name.
func Parse(name string) (Language, error) {
	lang, ok := aliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", appErr.Newf(appErr.LanguageNotSupported, "unsupported language: %s", name)
	}
	return lang, nil
}

// Lookup returns the local execution spec of lang. Languages without a local
// toolchain definition (go) report false and can only run remotely.
func Lookup(lang Language) (LanguageSpec, bool) {
	spec, ok := builtin[lang]
	return spec, ok
}

// All lists every recognised language in display order.
func All() []Language {
	return []Language{Python, Java, C, Cpp, JavaScript, Go}
}

// Local lists the languages with a local toolchain definition.
func Local() []LanguageSpec {
	out := make([]LanguageSpec, 0, len(builtin))
	for _, lang := range []Language{Python, Java, C, Cpp, JavaScript} {
		out = append(out, builtin[lang])
	}
	return out
}

// JavaClassName extracts the public class name from Java source.
func JavaClassName(source string) string {
	m := javaClassPattern.FindStringSubmatch(source)
	if len(m) < 2 {
		return defaultJavaClass
	}
	return m[1]
}

// Resolve returns a copy of spec with per-source placeholders applied.
func (s LanguageSpec) Resolve(source string) LanguageSpec {
	if s.ID != Java {
		return s
	}
	class := JavaClassName(source)
	s.SourceFile = strings.ReplaceAll(s.SourceFile, "{class}", class)
	s.RunCmdTpl = strings.ReplaceAll(s.RunCmdTpl, "{class}", class)
	return s
}
