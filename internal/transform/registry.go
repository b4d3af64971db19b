package transform

import (
	"fmt"

	"github.com/tidwall/sjson"
)

// Transformer converts request bodies from the client dialect to a backend
// dialect and response bodies back. Implementations are pure: no network, no
// shared mutable state.
type Transformer interface {
	// Name returns the transformer tag for logging and the pipeline table.
	Name() string

	// TransformRequest translates a client-dialect request body into the
	// backend dialect and rewrites the model to the pipeline's target model.
	TransformRequest(body []byte) ([]byte, error)

	// TransformResponse translates a backend response body into the client
	// dialect, restoring the model name the client asked for.
	TransformResponse(body []byte, clientModel string) ([]byte, error)
}

// Transformer tag constants. The tag set is closed: tags resolve to concrete
// implementations at assembly time, never by name at request time.
const (
	TagOpenAI      = "openai"
	TagPassthrough = "passthrough"
	TagAnthropic   = "anthropic"
)

// KnownTag reports whether a transformer tag resolves to an implementation.
func KnownTag(tag string) bool {
	switch tag {
	case TagOpenAI, TagPassthrough, TagAnthropic:
		return true
	}
	return false
}

// New constructs the transformer for a tag.
// Returns an error for unknown tags; assembly validates tags beforehand, so
// hitting this at runtime means a registry wiring bug.
func New(tag, provider, targetModel string) (Transformer, error) {
	switch tag {
	case TagOpenAI:
		return &OpenAITransformer{provider: provider, targetModel: targetModel}, nil
	case TagPassthrough, TagAnthropic:
		return &PassthroughTransformer{provider: provider, targetModel: targetModel}, nil
	default:
		return nil, fmt.Errorf("transform: unknown transformer tag %q", tag)
	}
}

// PassthroughTransformer forwards Anthropic-dialect bodies unchanged apart
// from the model rewrite. Used for Anthropic-native backends.
type PassthroughTransformer struct {
	provider    string
	targetModel string
}

// Name returns the transformer tag.
func (t *PassthroughTransformer) Name() string { return TagPassthrough }

// TransformRequest rewrites the model field and leaves the rest untouched.
func (t *PassthroughTransformer) TransformRequest(body []byte) ([]byte, error) {
	return sjson.SetBytes(body, "model", t.targetModel)
}

// TransformResponse restores the client's model name; the dialect already
// matches.
func (t *PassthroughTransformer) TransformResponse(body []byte, clientModel string) ([]byte, error) {
	return sjson.SetBytes(body, "model", clientModel)
}
