package sandbox

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/shlex"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"codearena/internal/judge/sandbox/engine"
	"codearena/internal/judge/sandbox/profile"
	"codearena/internal/judge/sandbox/spec"
	"codearena/pkg/utils/logger"
)

const defaultProbeTimeout = 5 * time.Second

// Capabilities records which local toolchains answered their version probe.
// It is built once at startup and shared read-only afterwards.
type Capabilities struct {
	versions map[profile.Language]string
}

// NewCapabilities builds a fixed capability set, mainly for tests and static deployments.
func NewCapabilities(available ...profile.Language) *Capabilities {
	c := &Capabilities{versions: make(map[profile.Language]string, len(available))}
	for _, lang := range available {
		c.versions[lang] = "static"
	}
	return c
}

// ProbeCapabilities runs every language's version command concurrently.
// A failed probe marks the language unavailable; it never fails the call.
func ProbeCapabilities(ctx context.Context, eng engine.Engine, langs []profile.LanguageSpec) *Capabilities {
	caps := &Capabilities{versions: make(map[profile.Language]string, len(langs))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, lang := range langs {
		g.Go(func() error {
			version, ok := probe(gctx, eng, lang)
			if !ok {
				logger.Warn(gctx, "toolchain unavailable", zap.String("language", string(lang.ID)))
				return nil
			}
			mu.Lock()
			caps.versions[lang.ID] = version
			mu.Unlock()
			logger.Info(gctx, "toolchain available",
				zap.String("language", string(lang.ID)),
				zap.String("version", version),
			)
			return nil
		})
	}
	_ = g.Wait()
	return caps
}

func probe(ctx context.Context, eng engine.Engine, lang profile.LanguageSpec) (string, bool) {
	cmd, err := shlex.Split(lang.ProbeCmd)
	if err != nil || len(cmd) == 0 {
		return "", false
	}
	res, err := eng.Run(ctx, spec.RunSpec{
		WorkDir:     os.TempDir(),
		Cmd:         cmd,
		Timeout:     defaultProbeTimeout,
		StdoutLimit: 256,
		MergeStderr: true,
	})
	if err != nil || res.TimedOut || res.ExitCode != 0 {
		return "", false
	}
	version := strings.TrimSpace(res.Stdout)
	if i := strings.IndexByte(version, '\n'); i >= 0 {
		version = version[:i]
	}
	return version, true
}

// Available reports whether lang can run locally.
func (c *Capabilities) Available(lang profile.Language) bool {
	if c == nil {
		return false
	}
	_, ok := c.versions[lang]
	return ok
}

// Version returns the probed toolchain version line.
func (c *Capabilities) Version(lang profile.Language) string {
	if c == nil {
		return ""
	}
	return c.versions[lang]
}

// Languages lists the available languages in a stable order.
func (c *Capabilities) Languages() []profile.Language {
	if c == nil {
		return nil
	}
	out := make([]profile.Language, 0, len(c.versions))
	for lang := range c.versions {
		out = append(out, lang)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
