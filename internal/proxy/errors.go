package proxy

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Error type strings in the client dialect's envelope.
const (
	errTypeInvalidRequest = "invalid_request_error"
	errTypeOverloaded     = "overloaded_error"
	errTypeAPI            = "api_error"
	errTypeTimeout        = "timeout_error"
)

// Internal error codes carried in the envelope's code field.
const (
	codeNoPipelineForCategory = "no_pipeline_for_category"
	codeNoEligiblePipeline    = "no_eligible_pipeline"
	codeUnsupportedRole       = "unsupported_message_role"
	codeMalformedTool         = "malformed_tool_definition"
	codeResponseSchema        = "response_schema_invalid"
	codeUpstreamRateLimited   = "upstream_rate_limited"
	codeUpstreamTimeout       = "upstream_timeout"
	codeUpstreamError         = "upstream_error"
	codeBodyTooLarge          = "request_body_too_large"
	codeBadRequest            = "bad_request"
	codeMethodNotAllowed      = "method_not_allowed"
)

// errorEnvelope is the client-dialect error shape.
type errorEnvelope struct {
	Type  string      `json:"type"`
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// writeError emits the error envelope. Messages must never contain API keys
// or key-bearing URLs; callers pass pre-sanitized text.
func writeError(w http.ResponseWriter, status int, errType, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	env := errorEnvelope{
		Type:  "error",
		Error: errorDetail{Type: errType, Message: message, Code: code},
	}
	if err := json.NewEncoder(w).Encode(env); err != nil {
		log.Debug().Err(err).Msg("failed to write error response")
	}
}
