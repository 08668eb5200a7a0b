package prompts

import (
	"context"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

const extractionSystem = `You are a structured data extraction engine. You read web page content and return structured data.

You must respond with a single JSON object matching this schema, and nothing else:

{schema_spec}

Rules:
- Output raw JSON only, no markdown fences and no commentary.
- Use null for optional values you cannot find in the page.
- Never invent data that is not present in the page content.`

const extractionUser = `Extract structured data from this page.

URL: {url}
Title: {title}
Request: {query}`

// Extraction is the chat template for schema-driven extraction. Page
// content is appended by the caller after formatting.
type Extraction struct {
	tpl prompt.ChatTemplate
}

func NewExtraction() *Extraction {
	return &Extraction{tpl: prompt.FromMessages(schema.FString,
		schema.SystemMessage(extractionSystem),
		schema.UserMessage(extractionUser),
	)}
}

func (e *Extraction) Format(ctx context.Context, vars map[string]any) ([]*schema.Message, error) {
	return e.tpl.Format(ctx, vars)
}
