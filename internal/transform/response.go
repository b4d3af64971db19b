package transform

import (
	"encoding/json"
	"fmt"
)

// finishReasonMap translates OpenAI finish reasons into Anthropic stop
// reasons. Unlisted values map to end_turn.
var finishReasonMap = map[string]string{
	"stop":           "end_turn",
	"length":         "max_tokens",
	"tool_calls":     "tool_use",
	"content_filter": "stop_sequence",
}

// TransformResponse maps an OpenAI chat-completions reply onto the Anthropic
// message form: choices[0].message.content becomes a text block, tool_calls
// become tool_use blocks, and usage carries across.
func (t *OpenAITransformer) TransformResponse(body []byte, clientModel string) ([]byte, error) {
	var resp OpenAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponseSchemaInvalid, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: missing choices", ErrResponseSchemaInvalid)
	}

	choice := resp.Choices[0]

	out := AnthropicResponse{
		ID:         resp.ID,
		Type:       "message",
		Role:       "assistant",
		Model:      clientModel,
		StopReason: mapFinishReason(choice.FinishReason),
		Usage: AnthropicUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if out.ID == "" {
		out.ID = "msg_router"
	}

	if choice.Message.Content != "" {
		out.Content = append(out.Content, ResponseBlock{
			Type: "text",
			Text: choice.Message.Content,
		})
	}

	for _, call := range choice.Message.ToolCalls {
		out.Content = append(out.Content, ResponseBlock{
			Type:  "tool_use",
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: toolInput(call.Function.Arguments),
		})
	}

	// An empty reply still needs one block for a well-formed message.
	if len(out.Content) == 0 {
		out.Content = append(out.Content, ResponseBlock{Type: "text", Text: ""})
	}

	return json.Marshal(out)
}

// mapFinishReason applies the finish_reason translation table.
func mapFinishReason(reason string) string {
	if mapped, ok := finishReasonMap[reason]; ok {
		return mapped
	}
	return "end_turn"
}

// toolInput parses stringified arguments when they are valid JSON and
// preserves them as a JSON string otherwise.
func toolInput(arguments string) json.RawMessage {
	if arguments == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(arguments)) {
		return json.RawMessage(arguments)
	}
	preserved, _ := json.Marshal(arguments)
	return preserved
}
