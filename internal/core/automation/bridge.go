package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"webagent/internal/logger"
)

// Options for one executor invocation.
type Options struct {
	Headless  bool
	TimeoutMs int
	WaitUntil string
	Debug     bool
}

func DefaultOptions() Options {
	return Options{Headless: true, TimeoutMs: 30000, WaitUntil: "load"}
}

// Payload is the structured result of a successful step.
type Payload struct {
	URL       string
	Title     string
	HTML      string
	Markdown  string
	SessionID string
	Query     string
}

// ProcessFailureError: the executor exited non-zero, timed out, or produced
// output that does not parse as the expected payload. Retriable.
type ProcessFailureError struct {
	Err    error
	Detail string
}

func (e *ProcessFailureError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("executor process failure: %v (%s)", e.Err, e.Detail)
	}
	return fmt.Sprintf("executor process failure: %v", e.Err)
}

func (e *ProcessFailureError) Unwrap() error { return e.Err }

// LogicalFailureError: the executor ran to completion but reported a
// domain failure, e.g. a navigation timeout. Retriable.
type LogicalFailureError struct {
	Message string
}

func (e *LogicalFailureError) Error() string {
	return "executor reported failure: " + e.Message
}

// Bridge invokes the external browser executor once per step. The executor
// owns the browser and the session storage; the bridge only passes handles
// through.
type Bridge struct {
	bin        string
	sessionDir string
	log        *logger.Logger
}

func NewBridge(bin, sessionDir string) *Bridge {
	return &Bridge{bin: bin, sessionDir: sessionDir, log: logger.New("AutomationBridge")}
}

func (b *Bridge) Navigate(ctx context.Context, url string, opts Options) (*Payload, error) {
	argv := append([]string{"--action", "navigate", "--url", url}, opts.argv()...)
	return b.run(ctx, argv, opts.TimeoutMs)
}

func (b *Bridge) Search(ctx context.Context, sessionID, query string, opts Options) (*Payload, error) {
	argv := append([]string{"--action", "search", "--session", sessionID, "--query", query}, opts.argv()...)
	return b.run(ctx, argv, opts.TimeoutMs)
}

func (o Options) argv() []string {
	out := []string{
		"--timeout", strconv.Itoa(o.TimeoutMs),
		"--headless=" + strconv.FormatBool(o.Headless),
	}
	if o.WaitUntil != "" {
		out = append(out, "--wait-until", o.WaitUntil)
	}
	if o.Debug {
		out = append(out, "--debug")
	}
	return out
}

type rawResult struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	URL       string `json:"url,omitempty"`
	Title     string `json:"title,omitempty"`
	HTML      string `json:"html,omitempty"`
	Markdown  string `json:"markdown,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Query     string `json:"query,omitempty"`
}

// run executes the binary under a wall-clock deadline and parses the single
// JSON line the executor emits on stdout. Partial output is never accepted.
func (b *Bridge) run(ctx context.Context, argv []string, timeoutMs int) (*Payload, error) {
	deadline := time.Duration(timeoutMs)*time.Millisecond + 10*time.Second
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.bin, argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if b.sessionDir != "" {
		cmd.Env = append(os.Environ(), "SESSION_DIR="+b.sessionDir)
	}

	b.log.LogDebugf("exec %s %s", b.bin, strings.Join(argv, " "))
	if err := cmd.Run(); err != nil {
		return nil, &ProcessFailureError{Err: err, Detail: strings.TrimSpace(stderr.String())}
	}

	line := lastLine(stdout.String())
	var raw rawResult
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, &ProcessFailureError{Err: fmt.Errorf("unparsable executor output: %w", err)}
	}
	if !raw.Success {
		return nil, &LogicalFailureError{Message: raw.Error}
	}
	return &Payload{
		URL:       raw.URL,
		Title:     raw.Title,
		HTML:      raw.HTML,
		Markdown:  raw.Markdown,
		SessionID: raw.SessionID,
		Query:     raw.Query,
	}, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
