package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"webagent/internal/core/automation"
	"webagent/internal/core/extract"
	"webagent/internal/core/job"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBridge struct {
	payload *automation.Payload
	err     error

	gotURL     string
	gotSession string
	gotQuery   string
	gotOpts    automation.Options
}

func (f *fakeBridge) Navigate(_ context.Context, url string, opts automation.Options) (*automation.Payload, error) {
	f.gotURL = url
	f.gotOpts = opts
	return f.payload, f.err
}

func (f *fakeBridge) Search(_ context.Context, sessionID, query string, opts automation.Options) (*automation.Payload, error) {
	f.gotSession = sessionID
	f.gotQuery = query
	f.gotOpts = opts
	return f.payload, f.err
}

type fakeExtractor struct {
	result *extract.Result
	err    error
	got    extract.Request
}

func (f *fakeExtractor) Extract(_ context.Context, req extract.Request) (*extract.Result, error) {
	f.got = req
	return f.result, f.err
}

func navigateRecord(args job.Args) *job.Record {
	return &job.Record{JobID: "j-1", Queue: "navigate", Action: job.ActionNavigate, Args: args}
}

func TestNavigateDefaults(t *testing.T) {
	bridge := &fakeBridge{payload: &automation.Payload{URL: "https://example.com", Title: "Example", HTML: "<html></html>", SessionID: "s-1"}}
	c := NewController(bridge, &fakeExtractor{})

	out, err := c.Handle(context.Background(), navigateRecord(job.Args{"url": "https://example.com"}))
	require.NoError(t, err)

	assert.Equal(t, "https://example.com", bridge.gotURL)
	assert.True(t, bridge.gotOpts.Headless)
	assert.Equal(t, 30000, bridge.gotOpts.TimeoutMs)
	assert.Equal(t, "load", bridge.gotOpts.WaitUntil)

	assert.Equal(t, "s-1", out.Result["sessionId"])
	assert.Equal(t, "Example", out.Result["title"])
	assert.Empty(t, out.FollowUps)
}

func TestNavigateOptionOverrides(t *testing.T) {
	bridge := &fakeBridge{payload: &automation.Payload{SessionID: "s-1"}}
	c := NewController(bridge, &fakeExtractor{})

	_, err := c.Handle(context.Background(), navigateRecord(job.Args{
		"url":       "https://example.com",
		"headless":  false,
		"timeout":   float64(5000), // decoded JSON numbers are float64
		"waitUntil": "networkidle",
	}))
	require.NoError(t, err)
	assert.False(t, bridge.gotOpts.Headless)
	assert.Equal(t, 5000, bridge.gotOpts.TimeoutMs)
	assert.Equal(t, "networkidle", bridge.gotOpts.WaitUntil)
}

func TestNavigateMissingURL(t *testing.T) {
	c := NewController(&fakeBridge{}, &fakeExtractor{})

	_, err := c.Handle(context.Background(), navigateRecord(job.Args{}))
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestNavigateNextStepProducesSearchFollowUp(t *testing.T) {
	bridge := &fakeBridge{payload: &automation.Payload{URL: "https://example.com", SessionID: "s-7", HTML: "<html></html>"}}
	c := NewController(bridge, &fakeExtractor{})

	out, err := c.Handle(context.Background(), navigateRecord(job.Args{
		"url":      "https://example.com",
		"schema":   "WebSearchResult",
		"nextStep": map[string]any{"action": "search", "query": "widgets"},
	}))
	require.NoError(t, err)

	require.Len(t, out.FollowUps, 1)
	spec := out.FollowUps[0]
	assert.Equal(t, job.ActionSearch, spec.Action)
	assert.Equal(t, "search", spec.Queue)
	assert.Equal(t, "s-7", spec.Args.String("sessionId"))
	assert.Equal(t, "widgets", spec.Args.String("query"))
	assert.Equal(t, "WebSearchResult", spec.Args.String("schema"))
}

func TestNavigateProcessWithLlmProducesExtractFollowUp(t *testing.T) {
	bridge := &fakeBridge{payload: &automation.Payload{URL: "https://example.com", Title: "Example", Markdown: "# Example page"}}
	c := NewController(bridge, &fakeExtractor{})

	out, err := c.Handle(context.Background(), navigateRecord(job.Args{
		"url":            "https://example.com",
		"query":          "summarize this",
		"processWithLlm": true,
		"schema":         "Article",
	}))
	require.NoError(t, err)

	require.Len(t, out.FollowUps, 1)
	spec := out.FollowUps[0]
	assert.Equal(t, job.ActionExtract, spec.Action)
	assert.Equal(t, "# Example page", spec.Args.String("content"))
	assert.Equal(t, "https://example.com", spec.Args.String("url"))
	assert.Equal(t, "summarize this", spec.Args.String("query"))
	assert.Equal(t, "Article", spec.Args.String("schema"))
}

func TestNavigateBothFollowUps(t *testing.T) {
	bridge := &fakeBridge{payload: &automation.Payload{URL: "https://example.com", SessionID: "s-1", HTML: "<html>content</html>"}}
	c := NewController(bridge, &fakeExtractor{})

	out, err := c.Handle(context.Background(), navigateRecord(job.Args{
		"url":            "https://example.com",
		"processWithLlm": true,
		"nextStep":       map[string]any{"action": "search", "query": "widgets"},
	}))
	require.NoError(t, err)

	require.Len(t, out.FollowUps, 2)
	assert.Equal(t, job.ActionSearch, out.FollowUps[0].Action)
	assert.Equal(t, job.ActionExtract, out.FollowUps[1].Action)
	// effective query falls back to the nextStep descriptor
	assert.Equal(t, "widgets", out.FollowUps[1].Args.String("query"))
}

func TestFailedNavigateProducesNoFollowUps(t *testing.T) {
	bridge := &fakeBridge{err: &automation.LogicalFailureError{Message: "navigation timeout"}}
	c := NewController(bridge, &fakeExtractor{})

	out, err := c.Handle(context.Background(), navigateRecord(job.Args{
		"url":      "https://example.com",
		"nextStep": map[string]any{"action": "search", "query": "widgets"},
	}))
	assert.Nil(t, out)
	var lf *automation.LogicalFailureError
	assert.ErrorAs(t, err, &lf)
}

func TestSearchRequiresSession(t *testing.T) {
	c := NewController(&fakeBridge{}, &fakeExtractor{})

	rec := &job.Record{JobID: "j-2", Queue: "search", Action: job.ActionSearch, Args: job.Args{"query": "widgets"}}
	_, err := c.Handle(context.Background(), rec)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Reason, "sessionId")
}

func TestSearchProcessWithLlm(t *testing.T) {
	bridge := &fakeBridge{payload: &automation.Payload{URL: "https://example.com/results", SessionID: "s-1", Query: "widgets", HTML: "<html>results</html>"}}
	c := NewController(bridge, &fakeExtractor{})

	rec := &job.Record{JobID: "j-2", Queue: "search", Action: job.ActionSearch, Args: job.Args{
		"sessionId":      "s-1",
		"query":          "widgets",
		"processWithLlm": true,
		"schema":         "WebSearchResult",
	}}
	out, err := c.Handle(context.Background(), rec)
	require.NoError(t, err)

	assert.Equal(t, "s-1", bridge.gotSession)
	assert.Equal(t, "widgets", bridge.gotQuery)
	require.Len(t, out.FollowUps, 1)
	assert.Equal(t, job.ActionExtract, out.FollowUps[0].Action)
}

// Search jobs never consume a nextStep descriptor.
func TestSearchIgnoresNextStep(t *testing.T) {
	bridge := &fakeBridge{payload: &automation.Payload{SessionID: "s-1", HTML: "<html></html>"}}
	c := NewController(bridge, &fakeExtractor{})

	rec := &job.Record{JobID: "j-2", Queue: "search", Action: job.ActionSearch, Args: job.Args{
		"sessionId": "s-1",
		"query":     "widgets",
		"nextStep":  map[string]any{"action": "search", "query": "again"},
	}}
	out, err := c.Handle(context.Background(), rec)
	require.NoError(t, err)
	assert.Empty(t, out.FollowUps)
}

func extractRecord(args job.Args) *job.Record {
	return &job.Record{JobID: "j-3", Queue: "extract", Action: job.ActionExtract, Args: args}
}

func TestExtractMissingArgs(t *testing.T) {
	c := NewController(&fakeBridge{}, &fakeExtractor{})

	var ce *ConfigError
	_, err := c.Handle(context.Background(), extractRecord(job.Args{"query": "q"}))
	assert.ErrorAs(t, err, &ce)

	_, err = c.Handle(context.Background(), extractRecord(job.Args{"content": "some content"}))
	assert.ErrorAs(t, err, &ce)
}

func TestExtractTruncatesContent(t *testing.T) {
	long := strings.Repeat("z", 12000)
	ex := &fakeExtractor{result: &extract.Result{Schema: "Article", Data: map[string]any{"title": "T", "content_summary": "S"}}}
	c := NewController(&fakeBridge{}, ex)

	out, err := c.Handle(context.Background(), extractRecord(job.Args{"content": long, "query": "summarize", "schema": "Article"}))
	require.NoError(t, err)

	assert.Equal(t, long[:10000], ex.got.Content[:10000])
	assert.True(t, strings.HasSuffix(ex.got.Content, "...[content truncated for processing]"))
	assert.Equal(t, "Article", out.Result["schema"])
	assert.NotNil(t, out.Result["data"])
}

func TestExtractValidationErrorCompletesJob(t *testing.T) {
	ex := &fakeExtractor{result: &extract.Result{Schema: "Product", Invalid: &extract.ValidationError{Field: "price", Rule: "is required"}}}
	c := NewController(&fakeBridge{}, ex)

	out, err := c.Handle(context.Background(), extractRecord(job.Args{"content": "c", "query": "q", "schema": "Product"}))
	require.NoError(t, err)

	ve := out.Result["validation_error"].(map[string]any)
	assert.Equal(t, "price", ve["field"])
	assert.Empty(t, out.FollowUps)
}

func TestExtractRetriableErrorPropagates(t *testing.T) {
	ex := &fakeExtractor{err: &extract.ApiError{Status: 500}}
	c := NewController(&fakeBridge{}, ex)

	_, err := c.Handle(context.Background(), extractRecord(job.Args{"content": "c", "query": "q"}))
	var ae *extract.ApiError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 500, ae.Status)
}

func TestUnknownAction(t *testing.T) {
	c := NewController(&fakeBridge{}, &fakeExtractor{})

	rec := &job.Record{JobID: "j-4", Queue: "navigate", Action: "teleport", Args: job.Args{}}
	_, err := c.Handle(context.Background(), rec)
	var ce *ConfigError
	assert.True(t, errors.As(err, &ce), "expected ConfigError, got %v", err)
}
