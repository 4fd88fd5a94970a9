// Package verify runs the external verification script for a client and relays the JSON
// it prints.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	DefaultTimeout   = 120 * time.Second
	DefaultMaxOutput = 25 << 20
)

var ErrInvalidClient = errors.New("valid 'client' string is required")

// Result is the response relayed to the caller. Status is the HTTP status to use.
type Result struct {
	OK      bool            `json:"ok"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
	Details map[string]any  `json:"details,omitempty"`
	Status  int             `json:"-"`
}

// Runner executes a script as `script <client>`.
type Runner struct {
	script    string
	timeout   time.Duration
	maxOutput int
	logger    *zap.Logger
}

func NewRunner(script string, timeout time.Duration, logger *zap.Logger) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{script: script, timeout: timeout, maxOutput: DefaultMaxOutput, logger: logger.Named("verify")}
}

// Run executes the script for client. The error is non-nil only for invalid input; script
// failures are reported in the Result.
func (r *Runner) Run(ctx context.Context, client string) (Result, error) {
	client = strings.TrimSpace(client)
	if client == "" || strings.HasPrefix(client, "-") {
		return Result{}, ErrInvalidClient
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.script, client)
	cmd.Env = append(os.Environ(), "ANSIBLE_FORCE_COLOR=false", "PYTHONUNBUFFERED=1")
	cmd.WaitDelay = 5 * time.Second
	stdout := &cappedBuffer{limit: r.maxOutput}
	stderr := &cappedBuffer{limit: r.maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if err == nil && (stdout.truncated || stderr.truncated) {
		err = fmt.Errorf("output exceeded %d bytes", r.maxOutput)
	}
	if err != nil {
		exitCode := any(nil)
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			exitCode = exitErr.ExitCode()
		}
		stderrText := strings.TrimSpace(stderr.String())
		r.logger.Error("verification script failed",
			zap.String("client", client),
			zap.Any("exit_code", exitCode),
			zap.Bool("timed_out", errors.Is(ctx.Err(), context.DeadlineExceeded)),
			zap.String("stderr", excerpt(stderrText, 1500)),
			zap.Error(err),
		)
		return Result{
			OK:    false,
			Error: "Verification process failed to execute",
			Details: map[string]any{
				"exitCode": exitCode,
				"stderr":   excerpt(stderrText, 2000),
			},
			Status: http.StatusInternalServerError,
		}, nil
	}

	output := strings.TrimSpace(stdout.String())
	jsonLine := lastJSONLine(output)
	if jsonLine == "" {
		r.logger.Warn("no JSON found in script output", zap.String("client", client), zap.String("output", excerpt(output, 1000)))
		return Result{
			OK:      false,
			Error:   "Verification script did not return valid JSON",
			Details: map[string]any{"rawOutput": excerpt(output, 3000)},
			Status:  http.StatusInternalServerError,
		}, nil
	}
	if !json.Valid([]byte(jsonLine)) {
		r.logger.Error("script JSON did not parse", zap.String("client", client), zap.String("json", excerpt(jsonLine, 1000)))
		return Result{
			OK:      false,
			Error:   "Invalid verification result format",
			Details: map[string]any{"rawJsonAttempt": excerpt(jsonLine, 2000)},
			Status:  http.StatusInternalServerError,
		}, nil
	}

	return Result{
		OK:      true,
		Data:    json.RawMessage(jsonLine),
		Message: "Verification completed for " + client,
		Status:  http.StatusOK,
	}, nil
}

// lastJSONLine returns the last line that looks like a JSON object, or the whole output
// when it does.
func lastJSONLine(output string) string {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "{") && strings.HasSuffix(line, "}") {
			return line
		}
	}
	if strings.HasPrefix(output, "{") && strings.HasSuffix(output, "}") {
		return output
	}
	return ""
}

func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for i := n; i > 0 && i > n-utf8.UTFMax; i-- {
		if utf8.RuneStart(s[i]) {
			return s[:i]
		}
	}
	return s[:n]
}

// cappedBuffer keeps the first limit bytes and drops the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.limit - c.buf.Len()
	if room < len(p) {
		c.truncated = true
		if room > 0 {
			c.buf.Write(p[:room])
		}
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	return c.buf.String()
}
