package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"webagent/internal/config"
	"webagent/internal/logger"
	"webagent/prompts"
)

// ApiError: the endpoint answered with a non-200 status. Retriable.
type ApiError struct {
	Status int
}

func (e *ApiError) Error() string {
	return fmt.Sprintf("llm endpoint returned status %d", e.Status)
}

// RequestFailedError: transport-level failure reaching the endpoint. Retriable.
type RequestFailedError struct {
	Err error
}

func (e *RequestFailedError) Error() string { return fmt.Sprintf("llm request failed: %v", e.Err) }
func (e *RequestFailedError) Unwrap() error { return e.Err }

// ParsingError: the response body or the model output could not be parsed.
// Retriable, since it may reflect a transiently malformed stream.
type ParsingError struct {
	Err error
}

func (e *ParsingError) Error() string { return fmt.Sprintf("llm response parsing failed: %v", e.Err) }
func (e *ParsingError) Unwrap() error { return e.Err }

// Request carries one extraction: page content plus the caller's query and
// schema name. Content is expected to be pre-truncated by the caller.
type Request struct {
	URL     string
	Title   string
	Query   string
	Content string
	Schema  string
}

// Result is the terminal outcome of an extraction: a validated record or
// the validation error, never both.
type Result struct {
	Schema  string
	Data    map[string]any
	Invalid *ValidationError
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Client calls an OpenAI-style chat-completions endpoint and validates the
// model output against the registry.
type Client struct {
	baseURL  string
	http     *http.Client
	registry *Registry
	template *prompts.Extraction
	cfg      config.LLM
	log      *logger.Logger
}

func NewClient(cfg config.LLM, registry *Registry) *Client {
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		registry: registry,
		template: prompts.NewExtraction(),
		cfg:      cfg,
		log:      logger.New("ExtractionClient"),
	}
}

func (c *Client) Extract(ctx context.Context, req Request) (*Result, error) {
	rules := c.registry.Resolve(req.Schema)

	msgs, err := c.template.Format(ctx, map[string]any{
		"url":         req.URL,
		"title":       req.Title,
		"query":       req.Query,
		"schema_spec": rules.Describe(),
	})
	if err != nil {
		return nil, fmt.Errorf("format extraction prompt: %w", err)
	}
	// Raw page content goes in after templating so braces in HTML never
	// collide with the template syntax.
	msgs[len(msgs)-1].Content += "\n\nPage content:\n" + req.Content

	body := chatRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	for _, m := range msgs {
		body.Messages = append(body.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &RequestFailedError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &ApiError{Status: resp.StatusCode}
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, &ParsingError{Err: err}
	}
	if len(cr.Choices) == 0 {
		return nil, &ParsingError{Err: errors.New("no choices in response")}
	}
	content := cr.Choices[0].Message.Content
	if content == "" {
		return nil, &ParsingError{Err: errors.New("empty message content")}
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(cleanModelOutput(content)), &record); err != nil {
		return nil, &ParsingError{Err: fmt.Errorf("model output is not valid JSON: %w", err)}
	}

	if ve := rules.Validate(record); ve != nil {
		c.log.LogWarnf("schema %s validation failed: %v", rules.Name, ve)
		return &Result{Schema: rules.Name, Invalid: ve}, nil
	}
	return &Result{Schema: rules.Name, Data: record}, nil
}

// cleanModelOutput strips markdown fences and surrounding chatter, keeping
// the outermost JSON object.
func cleanModelOutput(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
