package workflow

import (
	"context"

	"webagent/internal/core/automation"
	"webagent/internal/core/extract"
	"webagent/internal/core/job"
	"webagent/internal/logger"
)

// ConfigError marks a job whose arguments can never work, e.g. a search
// without a session. Terminal, never retried.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "invalid job configuration: " + e.Reason }

// Outcome is the result of one successful step: the payload stored on the
// job record plus the follow-up jobs the scheduler should enqueue.
type Outcome struct {
	Result    map[string]any
	FollowUps []job.Spec
}

type Automation interface {
	Navigate(ctx context.Context, url string, opts automation.Options) (*automation.Payload, error)
	Search(ctx context.Context, sessionID, query string, opts automation.Options) (*automation.Payload, error)
}

type Extractor interface {
	Extract(ctx context.Context, req extract.Request) (*extract.Result, error)
}

// Controller executes one job's step. It performs no record writes and no
// enqueues itself; the scheduler owns both.
type Controller struct {
	bridge    Automation
	extractor Extractor
	log       *logger.Logger
}

func NewController(bridge Automation, extractor Extractor) *Controller {
	return &Controller{bridge: bridge, extractor: extractor, log: logger.New("WorkflowController")}
}

func (c *Controller) Handle(ctx context.Context, rec *job.Record) (*Outcome, error) {
	switch rec.Action {
	case job.ActionNavigate:
		return c.handleNavigate(ctx, rec)
	case job.ActionSearch:
		return c.handleSearch(ctx, rec)
	case job.ActionExtract:
		return c.handleExtract(ctx, rec)
	}
	return nil, &ConfigError{Reason: "unknown action " + rec.Action}
}

func (c *Controller) handleNavigate(ctx context.Context, rec *job.Record) (*Outcome, error) {
	url := rec.Args.String("url")
	if url == "" {
		return nil, &ConfigError{Reason: "navigate job requires a url"}
	}
	payload, err := c.bridge.Navigate(ctx, url, stepOptions(rec.Args))
	if err != nil {
		return nil, err
	}
	return &Outcome{Result: pageResult(payload), FollowUps: c.followUps(rec, payload)}, nil
}

func (c *Controller) handleSearch(ctx context.Context, rec *job.Record) (*Outcome, error) {
	sessionID := rec.Args.String("sessionId")
	if sessionID == "" {
		return nil, &ConfigError{Reason: "search job requires a sessionId"}
	}
	payload, err := c.bridge.Search(ctx, sessionID, rec.Args.String("query"), stepOptions(rec.Args))
	if err != nil {
		return nil, err
	}
	return &Outcome{Result: pageResult(payload), FollowUps: c.followUps(rec, payload)}, nil
}

func (c *Controller) handleExtract(ctx context.Context, rec *job.Record) (*Outcome, error) {
	content := rec.Args.String("content")
	if content == "" {
		return nil, &ConfigError{Reason: "extract job requires content"}
	}
	query := rec.Args.String("query")
	if query == "" {
		return nil, &ConfigError{Reason: "extract job requires a query"}
	}
	res, err := c.extractor.Extract(ctx, extract.Request{
		URL:     rec.Args.String("url"),
		Title:   rec.Args.String("title"),
		Query:   query,
		Content: extract.TruncateContent(content),
		Schema:  rec.Args.String("schema"),
	})
	if err != nil {
		return nil, err
	}
	result := map[string]any{"schema": res.Schema}
	if res.Invalid != nil {
		// Deterministic given the same input, so the job completes with
		// the validation error as its outcome.
		result["validation_error"] = map[string]any{
			"field":   res.Invalid.Field,
			"message": res.Invalid.Error(),
		}
	} else {
		result["data"] = res.Data
	}
	return &Outcome{Result: result}, nil
}

// followUps builds the chaining list for a successful automation step.
// A nextStep descriptor (navigate only) yields a search job carrying the
// fresh session; processWithLlm yields an extract job when the step
// produced content. Both may be present.
func (c *Controller) followUps(rec *job.Record, p *automation.Payload) []job.Spec {
	var specs []job.Spec

	if rec.Action == job.ActionNavigate {
		if next := rec.Args.Child("nextStep"); next != nil {
			action := next.String("action")
			switch {
			case action != job.ActionSearch:
				c.log.LogWarnf("job %s: unsupported nextStep action %q", rec.JobID, action)
			case p.SessionID == "":
				c.log.LogWarnf("job %s: navigate returned no session, skipping nextStep", rec.JobID)
			default:
				args := job.Args{"sessionId": p.SessionID, "query": next.String("query")}
				copyArgs(rec.Args, args, "processWithLlm", "schema", "headless", "timeout", "waitUntil")
				specs = append(specs, job.Spec{Queue: job.ActionSearch, Action: job.ActionSearch, Args: args})
			}
		}
	}

	if rec.Args.Bool("processWithLlm", false) {
		if content := pageContent(p); content != "" {
			specs = append(specs, job.Spec{Queue: job.ActionExtract, Action: job.ActionExtract, Args: job.Args{
				"content": content,
				"url":     p.URL,
				"title":   p.Title,
				"query":   effectiveQuery(rec),
				"schema":  rec.Args.String("schema"),
			}})
		}
	}
	return specs
}

func stepOptions(args job.Args) automation.Options {
	opts := automation.DefaultOptions()
	opts.Headless = args.Bool("headless", opts.Headless)
	if t := args.Int("timeout", 0); t > 0 {
		opts.TimeoutMs = t
	}
	if w := args.String("waitUntil"); w != "" {
		opts.WaitUntil = w
	}
	opts.Debug = args.Bool("debug", false)
	return opts
}

func pageResult(p *automation.Payload) map[string]any {
	res := map[string]any{"url": p.URL, "title": p.Title}
	if p.SessionID != "" {
		res["sessionId"] = p.SessionID
	}
	if p.Query != "" {
		res["query"] = p.Query
	}
	if content := pageContent(p); content != "" {
		res["content"] = content
	}
	return res
}

// pageContent prefers the markdown rendition when the executor produced one.
func pageContent(p *automation.Payload) string {
	if p.Markdown != "" {
		return p.Markdown
	}
	return p.HTML
}

func effectiveQuery(rec *job.Record) string {
	if q := rec.Args.String("query"); q != "" {
		return q
	}
	if next := rec.Args.Child("nextStep"); next != nil {
		return next.String("query")
	}
	return ""
}

func copyArgs(src, dst job.Args, keys ...string) {
	for _, k := range keys {
		if v, ok := src[k]; ok {
			dst[k] = v
		}
	}
}
