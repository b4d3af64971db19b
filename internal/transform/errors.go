// Package transform translates request and response bodies between the
// client-facing Anthropic dialect and backend dialects.
package transform

import "errors"

// Translation failure modes. Each fails the request; none is retryable.
var (
	// ErrUnsupportedMessageRole is returned for roles outside
	// user/assistant/system/tool.
	ErrUnsupportedMessageRole = errors.New("transform: unsupported message role")

	// ErrMalformedToolDefinition is returned when a tool entry cannot be
	// repaired into a valid function definition.
	ErrMalformedToolDefinition = errors.New("transform: malformed tool definition")

	// ErrResponseSchemaInvalid is returned when an upstream response does not
	// match the expected dialect schema.
	ErrResponseSchemaInvalid = errors.New("transform: response schema invalid")
)
