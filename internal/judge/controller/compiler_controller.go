// Package controller exposes the code runner for ad-hoc execution.
package controller

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"codearena/internal/common/http/middleware"
	"codearena/internal/judge/remote"
	"codearena/internal/judge/sandbox"
	"codearena/internal/judge/sandbox/profile"
	"codearena/internal/judge/sandbox/result"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/logger"
	"codearena/pkg/utils/response"
)

const defaultMaxCodeBytes = 64 * 1024

// Runner executes one source file against one stdin.
type Runner interface {
	Execute(ctx context.Context, source string, lang profile.Language, stdin string) (result.Result, error)
}

// Config describes the execution backends behind the runner.
type Config struct {
	Runner        Runner
	Capabilities  *sandbox.Capabilities
	PreferLocal   bool
	RemoteEnabled bool
	MaxCodeBytes  int
}

// CompilerController reports toolchains and runs scratch code.
type CompilerController struct {
	cfg Config
}

func NewCompilerController(cfg Config) *CompilerController {
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	return &CompilerController{cfg: cfg}
}

// RegisterRoutes mounts the public info endpoint on public and run on authed.
func (h *CompilerController) RegisterRoutes(public, authed *gin.RouterGroup) {
	public.GET("/compiler/info", h.Info)
	authed.POST("/compiler/run", h.Run)
}

// CompilerInfo is one language's availability.
type CompilerInfo struct {
	Local   bool   `json:"local"`
	Remote  bool   `json:"remote"`
	Version string `json:"version"`
}

// InfoResponse lists every language and the active execution mode.
type InfoResponse struct {
	UseLocal  bool                    `json:"use_local"`
	Mode      string                  `json:"mode"`
	Compilers map[string]CompilerInfo `json:"compilers"`
}

// RunRequest defines the scratch run payload.
type RunRequest struct {
	Code     string `json:"code" binding:"required"`
	Language string `json:"language" binding:"required"`
	Input    string `json:"input"`
}

func (h *CompilerController) Info(c *gin.Context) {
	resp := InfoResponse{
		UseLocal:  h.cfg.PreferLocal,
		Mode:      h.mode(),
		Compilers: make(map[string]CompilerInfo),
	}
	for _, lang := range profile.All() {
		_, remoteOK := remote.LanguageID(lang)
		info := CompilerInfo{
			Local:   h.cfg.Capabilities.Available(lang),
			Remote:  h.cfg.RemoteEnabled && remoteOK,
			Version: h.cfg.Capabilities.Version(lang),
		}
		if !info.Local {
			info.Version = "Not installed"
		}
		resp.Compilers[string(lang)] = info
	}
	response.Success(c, resp)
}

func (h *CompilerController) mode() string {
	switch {
	case h.cfg.PreferLocal && len(h.cfg.Capabilities.Languages()) > 0 && h.cfg.RemoteEnabled:
		return "local+remote"
	case h.cfg.PreferLocal && len(h.cfg.Capabilities.Languages()) > 0:
		return "local"
	case h.cfg.RemoteEnabled:
		return "remote"
	default:
		return "none"
	}
}

func (h *CompilerController) Run(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Code) == "" {
		response.BadRequest(c, "Code and language are required")
		return
	}
	if len(req.Code) > h.cfg.MaxCodeBytes {
		response.Error(c, appErr.Newf(appErr.CodeTooLarge, "code exceeds %d bytes", h.cfg.MaxCodeBytes))
		return
	}
	lang, err := profile.Parse(req.Language)
	if err != nil {
		response.Error(c, err)
		return
	}
	ctx := c.Request.Context()
	res, err := h.cfg.Runner.Execute(ctx, req.Code, lang, req.Input)
	if err != nil {
		logger.Warn(ctx, "scratch run failed",
			zap.String("user_id", middleware.UserID(c)),
			zap.String("language", string(lang)),
			zap.Error(err),
		)
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}
