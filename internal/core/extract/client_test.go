package extract

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"webagent/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(config.LLM{
		BaseURL:        baseURL,
		Model:          "test-model",
		Temperature:    0.2,
		MaxTokens:      2000,
		TimeoutSeconds: 5,
	}, NewRegistry())
}

func completionBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{"content": content}},
		},
	})
	return string(b)
}

func extractRequest() Request {
	return Request{
		URL:     "https://example.com",
		Title:   "Example",
		Query:   "find the products",
		Content: "<html><body>Widget, $9.99, a fine widget</body></html>",
		Schema:  "Product",
	}
}

func TestExtractSuccess(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(completionBody(`{"name":"Widget","price":"$9.99","description":"a fine widget"}`)))
	}))
	defer srv.Close()

	res, err := testClient(t, srv.URL).Extract(context.Background(), extractRequest())
	require.NoError(t, err)
	require.Nil(t, res.Invalid)
	assert.Equal(t, "Product", res.Schema)
	assert.Equal(t, "Widget", res.Data["name"])

	// Request shape: model options plus a system and a user message, with
	// the page content carried in the user message.
	assert.Equal(t, "test-model", captured["model"])
	assert.Equal(t, 0.2, captured["temperature"])
	assert.Equal(t, float64(2000), captured["max_tokens"])
	msgs := captured["messages"].([]any)
	require.Len(t, msgs, 2)
	sys := msgs[0].(map[string]any)
	usr := msgs[1].(map[string]any)
	assert.Equal(t, "system", sys["role"])
	assert.Equal(t, "user", usr["role"])
	assert.Contains(t, sys["content"], "Product")
	assert.Contains(t, usr["content"], "https://example.com")
	assert.Contains(t, usr["content"], "a fine widget")
}

func TestExtractStripsMarkdownFences(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completionBody("```json\n{\"name\":\"Widget\",\"price\":\"$9.99\",\"description\":\"d\"}\n```")))
	}))
	defer srv.Close()

	res, err := testClient(t, srv.URL).Extract(context.Background(), extractRequest())
	require.NoError(t, err)
	require.Nil(t, res.Invalid)
	assert.Equal(t, "Widget", res.Data["name"])
}

func TestExtractValidationErrorIsOutcomeNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completionBody(`{"name":"Widget","description":"no price"}`)))
	}))
	defer srv.Close()

	res, err := testClient(t, srv.URL).Extract(context.Background(), extractRequest())
	require.NoError(t, err)
	require.NotNil(t, res.Invalid)
	assert.Equal(t, "price", res.Invalid.Field)
	assert.Nil(t, res.Data)
}

func TestExtractApiError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Extract(context.Background(), extractRequest())
	var ae *ApiError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 500, ae.Status)
}

func TestExtractRequestFailedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	_, err := testClient(t, srv.URL).Extract(context.Background(), extractRequest())
	var rf *RequestFailedError
	assert.ErrorAs(t, err, &rf)
}

func TestExtractParsingErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"invalid response body", "not json at all"},
		{"no choices", `{"choices":[]}`},
		{"empty content", completionBody("")},
		{"model output not json", completionBody("sorry, I cannot do that")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := testClient(t, srv.URL).Extract(context.Background(), extractRequest())
			var pe *ParsingError
			assert.True(t, errors.As(err, &pe), "expected ParsingError, got %v", err)
		})
	}
}

func TestExtractUnknownSchemaFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completionBody(`{"title":"Example","summary":"a page"}`)))
	}))
	defer srv.Close()

	req := extractRequest()
	req.Schema = "TotallyUnknown"
	res, err := testClient(t, srv.URL).Extract(context.Background(), req)
	require.NoError(t, err)
	require.Nil(t, res.Invalid)
	assert.Equal(t, DefaultSchema, res.Schema)
}
