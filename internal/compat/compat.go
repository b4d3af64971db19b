// Package compat applies per-backend quirks between transformation and the
// outbound call: endpoint path correction, max_tokens clamping, forced
// non-streaming, tool-schema touch-ups, and extra headers. Modules are pure;
// they never perform I/O.
package compat

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Recognized compatibility tags.
const (
	TagLMStudio   = "lmstudio"
	TagOllama     = "ollama"
	TagVLLM       = "vllm"
	TagQwen       = "qwen"
	TagIFlow      = "iflow"
	TagAnthropic  = "anthropic"
	TagOpenAI     = "openai"
	TagGemini     = "gemini"
	TagModelScope = "modelscope"
	TagGeneric    = "generic"
)

// Module adjusts requests for one backend family.
type Module interface {
	// Tag returns the module's tag.
	Tag() string
	// FixEndpoint corrects the endpoint path, appending the backend's chat
	// path when absent.
	FixEndpoint(endpoint string) string
	// AdjustRequest rewrites the serialized request body for the backend.
	// maxTokens is the resolved pipeline maximum.
	AdjustRequest(body []byte, maxTokens int) ([]byte, error)
	// Headers returns extra request headers.
	Headers() map[string]string
}

// KnownTag reports whether tag names a recognized module.
func KnownTag(tag string) bool {
	switch tag {
	case TagLMStudio, TagOllama, TagVLLM, TagQwen, TagIFlow,
		TagAnthropic, TagOpenAI, TagGemini, TagModelScope, TagGeneric:
		return true
	}
	return false
}

// New builds the module for a tag. Unknown or empty tags get generic
// behavior; config validation rejects unknown tags earlier, so this is only a
// safety net.
func New(tag string, options map[string]string) Module {
	base := openAIModule{tag: TagGeneric, chatPath: "/chat/completions", options: options}
	switch tag {
	case TagAnthropic:
		return &anthropicModule{options: options}
	case TagOllama:
		base.tag = tag
		base.defaultTokens = true
		return &base
	case TagQwen:
		base.tag = tag
		base.dropEmptyTools = true
		return &base
	case TagIFlow:
		base.tag = tag
		base.dropEmptyTools = true
		base.extraHeaders = map[string]string{"X-Client": "cc-router"}
		return &base
	case TagLMStudio, TagVLLM, TagOpenAI, TagGemini, TagModelScope, TagGeneric:
		base.tag = tag
		if tag == "" {
			base.tag = TagGeneric
		}
		return &base
	default:
		return &base
	}
}

// openAIModule covers every OpenAI-compatible backend. Flags select the small
// per-tag differences.
type openAIModule struct {
	tag            string
	chatPath       string
	defaultTokens  bool
	dropEmptyTools bool
	extraHeaders   map[string]string
	options        map[string]string
}

func (m *openAIModule) Tag() string { return m.tag }

func (m *openAIModule) FixEndpoint(endpoint string) string {
	return appendPath(endpoint, m.chatPath)
}

func (m *openAIModule) AdjustRequest(body []byte, maxTokens int) ([]byte, error) {
	var err error

	// Streaming is out of scope; the backend must answer in one body.
	body, err = sjson.SetBytes(body, "stream", false)
	if err != nil {
		return nil, err
	}

	if maxTokens > 0 {
		requested := gjson.GetBytes(body, "max_tokens")
		switch {
		case requested.Exists() && requested.Int() > int64(maxTokens),
			!requested.Exists() && m.defaultTokens,
			requested.Exists() && requested.Int() <= 0:
			body, err = sjson.SetBytes(body, "max_tokens", maxTokens)
			if err != nil {
				return nil, err
			}
		}
	}

	if m.dropEmptyTools {
		tools := gjson.GetBytes(body, "tools")
		if tools.Exists() && tools.IsArray() && len(tools.Array()) == 0 {
			body, err = sjson.DeleteBytes(body, "tools")
			if err != nil {
				return nil, err
			}
		}
	}

	return body, nil
}

func (m *openAIModule) Headers() map[string]string {
	headers := map[string]string{"User-Agent": "cc-router"}
	for k, v := range m.extraHeaders {
		headers[k] = v
	}
	for k, v := range optionHeaders(m.options) {
		headers[k] = v
	}
	return headers
}

// anthropicModule passes the native dialect straight through.
type anthropicModule struct {
	options map[string]string
}

func (m *anthropicModule) Tag() string { return TagAnthropic }

func (m *anthropicModule) FixEndpoint(endpoint string) string {
	return appendPath(endpoint, "/v1/messages")
}

func (m *anthropicModule) AdjustRequest(body []byte, maxTokens int) ([]byte, error) {
	body, err := sjson.SetBytes(body, "stream", false)
	if err != nil {
		return nil, err
	}
	if maxTokens > 0 {
		requested := gjson.GetBytes(body, "max_tokens")
		// max_tokens is mandatory on this dialect.
		if !requested.Exists() || requested.Int() <= 0 || requested.Int() > int64(maxTokens) {
			body, err = sjson.SetBytes(body, "max_tokens", maxTokens)
			if err != nil {
				return nil, err
			}
		}
	}
	return body, nil
}

func (m *anthropicModule) Headers() map[string]string {
	headers := map[string]string{
		"User-Agent":        "cc-router",
		"anthropic-version": "2023-06-01",
	}
	for k, v := range optionHeaders(m.options) {
		headers[k] = v
	}
	return headers
}

// appendPath adds suffix to endpoint unless already present.
func appendPath(endpoint, suffix string) string {
	trimmed := strings.TrimRight(endpoint, "/")
	if strings.HasSuffix(trimmed, suffix) {
		return trimmed
	}
	return trimmed + suffix
}

// optionHeaders reads "header.<Name>" entries from the tag's config options.
func optionHeaders(options map[string]string) map[string]string {
	var out map[string]string
	for k, v := range options {
		name, ok := strings.CutPrefix(k, "header.")
		if !ok || name == "" {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[name] = v
	}
	return out
}
