package extract

import (
	"fmt"
	"strings"

	"webagent/internal/logger"
)

// DefaultSchema is the fallback for unknown schema names.
const DefaultSchema = "AutomationResult"

// Rules is a named validation rule set: required top-level fields plus
// per-list element requirements.
type Rules struct {
	Name     string
	Required []string
	Elements map[string][]string
}

// Describe renders the rules as plain text for the extraction prompt.
func (ru Rules) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Schema: %s\n", ru.Name)
	b.WriteString("Required fields:\n")
	for _, f := range ru.Required {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	for field, keys := range ru.Elements {
		fmt.Fprintf(&b, "Every element of %q must contain: %s\n", field, strings.Join(keys, ", "))
	}
	return b.String()
}

// Registry holds the fixed set of known schemas. Resolution never fails:
// unknown names fall back to the default with a logged warning.
type Registry struct {
	rules map[string]Rules
	log   *logger.Logger
}

func NewRegistry() *Registry {
	r := &Registry{rules: map[string]Rules{}, log: logger.New("SchemaRegistry")}
	r.register(Rules{
		Name:     DefaultSchema,
		Required: []string{"title", "summary"},
		Elements: map[string][]string{"links": {"url", "text"}},
	})
	r.register(Rules{
		Name:     "WebSearchResult",
		Required: []string{"query", "results"},
		Elements: map[string][]string{"results": {"title", "url"}},
	})
	r.register(Rules{
		Name:     "Product",
		Required: []string{"name", "price", "description"},
	})
	r.register(Rules{
		Name:     "Article",
		Required: []string{"title", "content_summary"},
	})
	return r
}

func (r *Registry) register(ru Rules) { r.rules[ru.Name] = ru }

func (r *Registry) Resolve(name string) Rules {
	if ru, ok := r.rules[name]; ok {
		return ru
	}
	if name != "" {
		r.log.LogWarnf("unknown schema %q, falling back to %s", name, DefaultSchema)
	}
	return r.rules[DefaultSchema]
}

// ValidationError names the first field that failed validation. It is a
// terminal job outcome, never retried.
type ValidationError struct {
	Field string
	Rule  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %q %s", e.Field, e.Rule)
}

// Validate checks a candidate record against the rules, returning nil on
// success or the first violation found.
func (ru Rules) Validate(record map[string]any) *ValidationError {
	for _, f := range ru.Required {
		v, ok := record[f]
		if !ok || isEmpty(v) {
			return &ValidationError{Field: f, Rule: "is required"}
		}
	}
	for field, keys := range ru.Elements {
		raw, ok := record[field]
		if !ok {
			continue
		}
		items, ok := raw.([]any)
		if !ok {
			return &ValidationError{Field: field, Rule: "must be a list"}
		}
		for i, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				return &ValidationError{Field: fmt.Sprintf("%s[%d]", field, i), Rule: "must be an object"}
			}
			for _, k := range keys {
				if v, ok := m[k]; !ok || isEmpty(v) {
					return &ValidationError{Field: fmt.Sprintf("%s[%d].%s", field, i, k), Rule: "is required"}
				}
			}
		}
	}
	return nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}
