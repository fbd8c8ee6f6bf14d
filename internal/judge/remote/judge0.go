// Package remote delegates execution to a Judge0-compatible HTTP service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"codearena/internal/judge/sandbox/profile"
	"codearena/internal/judge/sandbox/result"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/logger"
)

const defaultTimeout = 30 * time.Second

var languageIDs = map[profile.Language]int{
	profile.JavaScript: 63,
	profile.Python:     71,
	profile.Cpp:        54,
	profile.C:          50,
	profile.Java:       62,
	profile.Go:         60,
}

// Config holds the remote judge endpoint.
type Config struct {
	BaseURL string        `yaml:"baseURL"`
	APIKey  string        `yaml:"apiKey"`
	APIHost string        `yaml:"apiHost"`
	Timeout time.Duration `yaml:"timeout"`
}

// Client calls the remote judge synchronously.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a client; httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: httpClient}
}

// LanguageID returns the remote id of lang.
func LanguageID(lang profile.Language) (int, bool) {
	id, ok := languageIDs[lang]
	return id, ok
}

type submissionRequest struct {
	SourceCode string `json:"source_code"`
	LanguageID int    `json:"language_id"`
	Stdin      string `json:"stdin"`
}

type submissionResponse struct {
	Stdout        *string `json:"stdout"`
	Stderr        *string `json:"stderr"`
	CompileOutput *string `json:"compile_output"`
	Message       *string `json:"message"`
	Time          *string `json:"time"`
	Memory        *int64  `json:"memory"`
	Status        struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"status"`
}

// Execute submits source and waits for the verdict.
func (c *Client) Execute(ctx context.Context, source string, lang profile.Language, stdin string) (result.Result, error) {
	if c.cfg.BaseURL == "" {
		return result.Result{}, appErr.New(appErr.RemoteJudgeUnavailable).WithMessage("remote judge is not configured")
	}
	langID, ok := LanguageID(lang)
	if !ok {
		return result.Result{}, appErr.Newf(appErr.LanguageNotSupported, "unsupported language: %s", lang)
	}

	body, err := json.Marshal(submissionRequest{SourceCode: source, LanguageID: langID, Stdin: stdin})
	if err != nil {
		return result.Result{}, appErr.Wrapf(err, appErr.JudgeSystemError, "encode submission")
	}
	url := fmt.Sprintf("%s/submissions?base64_encoded=false&wait=true", c.cfg.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return result.Result{}, appErr.Wrapf(err, appErr.RemoteJudgeUnavailable, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-RapidAPI-Key", c.cfg.APIKey)
	}
	if c.cfg.APIHost != "" {
		req.Header.Set("X-RapidAPI-Host", c.cfg.APIHost)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return result.Result{}, appErr.Wrapf(err, appErr.RemoteJudgeUnavailable, "remote judge request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logger.Warn(ctx, "remote judge rejected submission",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(snippet)),
		)
		return result.Result{}, appErr.Newf(appErr.RemoteJudgeUnavailable, "remote judge returned HTTP %d", resp.StatusCode)
	}

	var payload submissionResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return result.Result{}, appErr.Wrapf(err, appErr.RemoteJudgeUnavailable, "decode remote judge response")
	}
	return toResult(payload), nil
}

func toResult(p submissionResponse) result.Result {
	verdict := result.VerdictFromStatus(p.Status.ID)
	res := result.Result{
		Stdout:        deref(p.Stdout),
		Stderr:        deref(p.Stderr),
		CompileOutput: deref(p.CompileOutput),
		Message:       deref(p.Message),
		Verdict:       verdict,
		StatusID:      p.Status.ID,
		Description:   p.Status.Description,
		Backend:       result.BackendRemote,
	}
	if res.Description == "" {
		res.Description = verdict.Description()
	}
	if p.Memory != nil {
		res.MemoryKb = *p.Memory
	}
	if p.Time != nil {
		var sec float64
		if _, err := fmt.Sscanf(*p.Time, "%g", &sec); err == nil {
			res.TimeSec = &sec
		}
	}
	return res
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
