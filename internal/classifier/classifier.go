// Package classifier maps an incoming request onto a routing category.
//
// Classification is stateless and deterministic: a priority-ordered rule list
// is evaluated against the raw request body and the first match wins. The
// category then selects the candidate pipeline set; it is never a model name.
package classifier

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Routing categories, mirrored from the config package's rule keys.
const (
	CategoryDefault     = "default"
	CategoryCoding      = "coding"
	CategoryReasoning   = "reasoning"
	CategoryLongContext = "longContext"
	CategoryWebSearch   = "webSearch"
)

// longContextThreshold is the estimated-token floor for longContext routing.
const longContextThreshold = 60_000

// webSearchMarkers are matched against tool type and name fields.
var webSearchMarkers = []string{"web_search", "browser", "search"}

// Classify returns the routing category for a raw Anthropic-dialect request
// body. Rules are evaluated in ascending priority order:
//
//	1  estimated tokens >= 60000            -> longContext
//	2  any web-search-shaped tool           -> webSearch
//	3  non-empty thinking field             -> reasoning
//	4  tools present, none web-search       -> coding
//	99 otherwise                            -> default
func Classify(body []byte) string {
	if EstimateTokens(body) >= longContextThreshold {
		return CategoryLongContext
	}

	tools := gjson.GetBytes(body, "tools")
	if tools.IsArray() {
		if hasWebSearchTool(tools) {
			return CategoryWebSearch
		}
	}

	if thinking := gjson.GetBytes(body, "thinking"); thinking.Exists() && !isEmptyValue(thinking) {
		return CategoryReasoning
	}

	if tools.IsArray() && len(tools.Array()) > 0 {
		return CategoryCoding
	}

	return CategoryDefault
}

// hasWebSearchTool reports whether any tool's type or name contains a
// web-search marker.
func hasWebSearchTool(tools gjson.Result) bool {
	found := false
	tools.ForEach(func(_, tool gjson.Result) bool {
		typ := strings.ToLower(tool.Get("type").Str)
		name := strings.ToLower(tool.Get("name").Str)
		for _, marker := range webSearchMarkers {
			if strings.Contains(typ, marker) || strings.Contains(name, marker) {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

// isEmptyValue treats "", {}, [] and null as absent.
func isEmptyValue(v gjson.Result) bool {
	switch v.Type {
	case gjson.Null:
		return true
	case gjson.String:
		return v.Str == ""
	default:
	}
	if v.IsObject() {
		empty := true
		v.ForEach(func(_, _ gjson.Result) bool { empty = false; return false })
		return empty
	}
	if v.IsArray() {
		return len(v.Array()) == 0
	}
	return false
}

// EstimateTokens approximates the request's token count as len(text)/4 summed
// over message contents, the system prompt, and the JSON-serialized tools.
// No tokenizer dependency; the estimate only needs to be deterministic.
func EstimateTokens(body []byte) int {
	chars := 0

	gjson.GetBytes(body, "messages").ForEach(func(_, msg gjson.Result) bool {
		chars += contentLength(msg.Get("content"))
		return true
	})

	chars += contentLength(gjson.GetBytes(body, "system"))

	if tools := gjson.GetBytes(body, "tools"); tools.Exists() {
		chars += len(tools.Raw)
	}

	return chars / 4
}

// contentLength measures string content by its text and block-array content by
// its serialized form.
func contentLength(content gjson.Result) int {
	if !content.Exists() {
		return 0
	}
	if content.Type == gjson.String {
		return len(content.Str)
	}
	return len(content.Raw)
}
