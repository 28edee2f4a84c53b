package agent

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/ayourtch/kimichat-go/pkg/models"
)

// trailingQuoteArtifact matches the common vendor artifact of a stray
// trailing double-quote after a numeric value, e.g. `"end_line": 60"`.
// Captures the numeric token and the structural character that follows it
// (a comma or closing brace) so the quote can be dropped without disturbing
// neighboring fields.
var trailingQuoteArtifact = regexp.MustCompile(`:\s*(\d+)"\s*([,}])`)

// schemaShape is the minimal slice of a tool's JSON Schema this package
// needs: which top-level properties are numeric. Schemas are otherwise
// opaque here; full validation is the Dispatcher's job.
type schemaShape struct {
	Properties map[string]struct {
		Type string `json:"type"`
	} `json:"properties"`
}

func parseSchemaShape(schema json.RawMessage) schemaShape {
	var shape schemaShape
	if len(schema) == 0 {
		return shape
	}
	_ = json.Unmarshal(schema, &shape)
	return shape
}

// RepairToolCallArguments is the argument pre-validation pass: it parses the
// arguments as JSON and, only when that parse fails, applies a regex rewrite
// of the trailing-quote artifact and parses again (there is no separate
// token-level pass), then coerces any string-valued field the schema
// declares integer/number into a numeric JSON value. It reports whether anything changed so callers can track
// whether a fix was applied without an extra parse.
func RepairToolCallArguments(raw string, schema json.RawMessage) (fixed string, changed bool) {
	if raw == "" {
		return raw, false
	}

	working := raw
	var doc map[string]any
	if err := json.Unmarshal([]byte(working), &doc); err != nil {
		// Structured recovery failed outright; fall back to the regex
		// rewrite as a last resort.
		rewritten := trailingQuoteArtifact.ReplaceAllString(working, `: $1$2`)
		if rewritten == working {
			return raw, false
		}
		if err := json.Unmarshal([]byte(rewritten), &doc); err != nil {
			return raw, false
		}
		working = rewritten
		changed = true
	}

	shape := parseSchemaShape(schema)
	for field, spec := range shape.Properties {
		if spec.Type != "integer" && spec.Type != "number" {
			continue
		}
		v, ok := doc[field]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		// Strip a stray trailing quote artifact surviving as part of the
		// string value itself (e.g. `"60\""` decoded to `60"`).
		s = strings.TrimSuffix(s, `"`)
		if spec.Type == "integer" {
			n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err != nil {
				continue
			}
			doc[field] = n
		} else {
			n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				continue
			}
			doc[field] = n
		}
		changed = true
	}

	if !changed {
		return raw, false
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return raw, false
	}
	return string(out), true
}

// RepairToolCallsInPlace applies RepairToolCallArguments to every call in a
// freshly-returned tool-call batch, before it is persisted to the
// transcript or dispatched. Applying the fix at the point the loop
// receives a batch is equivalent to (and cheaper than) re-scanning the
// persisted transcript on every retry. Returns whether any call changed.
func RepairToolCallsInPlace(calls []models.ToolCall, schemaOf func(name string) json.RawMessage) bool {
	var changed bool
	for i := range calls {
		call := &calls[i]
		var schema json.RawMessage
		if schemaOf != nil {
			schema = schemaOf(call.Function.Name)
		}
		fixed, ok := RepairToolCallArguments(call.Function.Arguments, schema)
		if ok {
			call.Function.Arguments = fixed
			changed = true
		}
	}
	return changed
}

// RepairPending scans every tool call on the transcript's last message, when
// that message is an assistant message carrying tool calls (otherwise it
// does nothing), for malformed arguments and fixes them in place, persisting across
// retries so upstream prompt caching is preserved.
// schemaOf resolves a tool name to its JSON Schema; a nil return is
// treated as "no schema available" and only the JSON-parse/regex repair
// runs. Returns whether any tool call's arguments were modified.
func RepairPending(messages []*models.Message, schemaOf func(name string) json.RawMessage) bool {
	if len(messages) == 0 {
		return false
	}
	last := messages[len(messages)-1]
	if last == nil || last.Role != models.RoleAssistant || len(last.ToolCalls) == 0 {
		return false
	}

	var schemaChanged bool
	for i := range last.ToolCalls {
		call := &last.ToolCalls[i]
		var schema json.RawMessage
		if schemaOf != nil {
			schema = schemaOf(call.Function.Name)
		}
		fixed, changed := RepairToolCallArguments(call.Function.Arguments, schema)
		if changed {
			call.Function.Arguments = fixed
			schemaChanged = true
		}
	}
	return schemaChanged
}
