// Package supervisor implements the Tool Supervisor: it turns a
// validated ToolRequest into a subprocess invocation under strict
// allow-listing, timeout, and output-capture limits, and always
// returns a ToolResult rather than letting an execution fault
// propagate as a transport error.
package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/argus-sec/toolgate/internal/logger"
	"github.com/argus-sec/toolgate/internal/target"
	"github.com/argus-sec/toolgate/internal/toolspec"
)

const maxExtraArgsBytes = 2048

var (
	shellMetachars = regexp.MustCompile(`[;&|` + "`" + `$<>\n\r]`)
	tokenPattern   = regexp.MustCompile(`^[A-Za-z0-9.:/=+\-,@%_]+$`)
)

// Supervisor executes tools. It holds no per-tool state beyond a
// logger — concurrency limiting and breaker gating live one layer up,
// in internal/gateway. Execute is the sole public operation.
type Supervisor struct {
	log *logger.Logger
}

// New creates a Supervisor.
func New() *Supervisor {
	return &Supervisor{log: logger.New("supervisor")}
}

// validationError builds a ToolResult for a rejected request.
func validationError(correlationID, msg string) toolspec.ToolResult {
	return toolspec.ToolResult{
		ReturnCode:         1,
		CorrelationID:      correlationID,
		ErrorKind:          toolspec.ErrValidation,
		ErrorMessage:       msg,
		RecoverySuggestion: target.RecoverySuggestion(),
		Metadata:           map[string]any{},
	}
}

// Execute runs desc against req, enforcing deadline as the hard upper
// bound on subprocess lifetime. It never returns a non-nil error for
// subprocess or validation failures — those are encoded in the
// returned ToolResult. A non-nil error indicates a bug in the gateway
// itself.
func (s *Supervisor) Execute(ctx context.Context, desc toolspec.ToolDescriptor, req toolspec.ToolRequest, deadline time.Duration) (toolspec.ToolResult, error) {
	correlationID := req.CorrelationID

	if deadline <= 0 {
		return validationError(correlationID, "effective timeout must be positive"), nil
	}

	// Step 1: target validation. rawTarget is what gets placed into
	// argv (the full URL for URL-mode tools and URL-requiring modes);
	// hostTarget is the bare host/IP/CIDR checked against the address
	// grammar, with any http(s):// scheme stripped off.
	rawTarget := req.Target
	hostTarget := rawTarget
	if desc.URLMode {
		if !target.IsURLTarget(rawTarget) {
			return validationError(correlationID, fmt.Sprintf("invalid target for %q: expected an http:// or https:// URL", desc.Name)), nil
		}
		_, hostTarget = target.StripURLScheme(rawTarget)
	}

	if len(desc.AllowedModes) == 0 {
		if _, err := target.Validate(hostTarget, desc.NetworkMapper); err != nil {
			return validationError(correlationID, err.Error()), nil
		}
	}

	// extra_args length/metachar validation (step applies before
	// tokenization).
	extraArgs := strings.TrimSpace(req.ExtraArgs)
	if len(extraArgs) > maxExtraArgsBytes {
		return validationError(correlationID, fmt.Sprintf("extra_args exceeds %d bytes after trim", maxExtraArgsBytes)), nil
	}
	if shellMetachars.MatchString(extraArgs) {
		return validationError(correlationID, "extra_args contains a shell metacharacter"), nil
	}

	// Step 3: tokenization.
	tokens, err := tokenize(extraArgs)
	if err != nil {
		return validationError(correlationID, err.Error()), nil
	}
	for _, tok := range tokens {
		body := tok
		if strings.HasPrefix(tok, "-") {
			if idx := strings.Index(tok, "="); idx >= 0 {
				body = tok[:idx]
			}
		}
		if !tokenPattern.MatchString(body) {
			return validationError(correlationID, fmt.Sprintf("token %q contains disallowed characters", tok)), nil
		}
	}

	// Step 2: mode extraction.
	var mode string
	if len(desc.AllowedModes) > 0 {
		mode, tokens, err = extractMode(desc, tokens)
		if err != nil {
			return validationError(correlationID, err.Error()), nil
		}
		// Mode-specific target shape checks.
		if mode == "dns" && target.IsURLTarget(rawTarget) {
			return validationError(correlationID, fmt.Sprintf("invalid target for mode %q: DNS mode requires a hostname, not a URL", mode)), nil
		}
		if mode == "dir" || mode == "vhost" {
			if !target.IsURLTarget(rawTarget) {
				return validationError(correlationID, fmt.Sprintf("invalid target for mode %q: expected an http:// or https:// URL", mode)), nil
			}
			_, hostTarget = target.StripURLScheme(rawTarget)
		}
		if _, err := target.Validate(hostTarget, false); err != nil {
			return validationError(correlationID, err.Error()), nil
		}
	}

	// Step 3 continued: allow-list every remaining flag/value token.
	finalTokens, err := filterAllowedTokens(desc, tokens)
	if err != nil {
		return validationError(correlationID, err.Error()), nil
	}

	// Step 4: default injection.
	finalTokens, err = injectDefaults(desc, mode, finalTokens)
	if err != nil {
		return validationError(correlationID, err.Error()), nil
	}

	// Step 5: target argument placement.
	finalTokens = placeTarget(desc, mode, rawTarget, finalTokens)

	// Step 6: command resolution.
	resolved, err := exec.LookPath(desc.Command)
	if err != nil {
		return toolspec.ToolResult{
			ReturnCode:         127,
			CorrelationID:      correlationID,
			ErrorKind:          toolspec.ErrNotFound,
			ErrorMessage:       fmt.Sprintf("executable %q not found on PATH", desc.Command),
			RecoverySuggestion: fmt.Sprintf("install %q or add it to PATH", desc.Command),
			Metadata:           map[string]any{"tool": desc.Name},
		}, nil
	}

	// effective timeout.
	effective := time.Duration(desc.DefaultTimeoutSeconds * float64(time.Second))
	if req.TimeoutSeconds > 0 {
		requested := time.Duration(req.TimeoutSeconds * float64(time.Second))
		if requested < effective {
			effective = requested
		}
	}
	if deadline < effective {
		effective = deadline
	}

	return s.spawn(ctx, desc, resolved, finalTokens, effective, correlationID)
}

func (s *Supervisor) spawn(ctx context.Context, desc toolspec.ToolDescriptor, resolved string, args []string, timeout time.Duration, correlationID string) (toolspec.ToolResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, resolved, args...)
	cmd.Env = []string{
		"PATH=" + envPath(),
		"LANG=C.UTF-8",
		"LC_ALL=C.UTF-8",
	}
	// Once the deadline kills the process, stop waiting on its output
	// pipes shortly after, even if a child it spawned still holds them.
	cmd.WaitDelay = 500 * time.Millisecond

	stdoutBuf := &cappedBuffer{limit: toolspec.MaxStdoutBytes}
	stderrBuf := &cappedBuffer{limit: toolspec.MaxStderrBytes}
	cmd.Stdout = stdoutBuf
	cmd.Stderr = stderrBuf

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	result := toolspec.ToolResult{
		Stdout:          decodeUTF8(stdoutBuf.Bytes()),
		Stderr:          decodeUTF8(stderrBuf.Bytes()),
		StdoutTruncated: stdoutBuf.truncated,
		StderrTruncated: stderrBuf.truncated,
		ExecutionTime:   elapsed,
		CorrelationID:   correlationID,
		Metadata: map[string]any{
			"tool": desc.Name,
		},
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ReturnCode = 124
		result.ErrorKind = toolspec.ErrTimeout
		result.ErrorMessage = fmt.Sprintf("%s timed out after %s", desc.Name, timeout)
		result.RecoverySuggestion = "increase timeout_sec or narrow the scan scope"
		return result, nil
	}

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ReturnCode = exitErr.ExitCode()
			s.log.Info("%s exited with code %d", desc.Name, result.ReturnCode)
			return result, nil
		}
		result.ReturnCode = 1
		result.ErrorKind = toolspec.ErrExecution
		result.ErrorMessage = runErr.Error()
		result.RecoverySuggestion = "check that the tool is installed correctly and the target is reachable"
		return result, nil
	}

	result.ReturnCode = 0
	return result, nil
}

func decodeUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}

// cappedBuffer accumulates up to limit bytes; further writes are
// counted (to set the truncation flag) but discarded.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if c.buf.Len() >= c.limit {
		c.truncated = true
		return n, nil
	}
	remaining := c.limit - c.buf.Len()
	if len(p) > remaining {
		c.buf.Write(p[:remaining])
		c.truncated = true
		return n, nil
	}
	c.buf.Write(p)
	return n, nil
}

func (c *cappedBuffer) Bytes() []byte { return c.buf.Bytes() }

var _ io.Writer = (*cappedBuffer)(nil)
