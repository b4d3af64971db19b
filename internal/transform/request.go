package transform

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// OpenAITransformer translates Anthropic-dialect requests into OpenAI
// chat-completions form and the responses back. This is the canonical
// transformer for every OpenAI-compatible backend.
type OpenAITransformer struct {
	provider    string
	targetModel string
}

// Name returns the transformer tag.
func (t *OpenAITransformer) Name() string { return TagOpenAI }

// TransformRequest maps the Anthropic request onto an OpenAI one:
// roles carry over 1:1, array content flattens to text, tool_use blocks become
// tool_calls, tool_result blocks become role:"tool" messages, and tool
// definitions are reshaped into function form.
func (t *OpenAITransformer) TransformRequest(body []byte) ([]byte, error) {
	var req AnthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("transform: invalid request body: %w", err)
	}

	out := OpenAIRequest{
		Model:       t.targetModel,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      false,
	}

	if sys := flattenContent(req.System); sys != "" {
		out.Messages = append(out.Messages, OpenAIMessage{Role: "system", Content: sys})
	}

	for _, msg := range req.Messages {
		converted, err := t.convertMessage(msg)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, converted...)
	}

	tools, err := t.convertTools(req.Tools)
	if err != nil {
		return nil, err
	}
	out.Tools = tools

	return json.Marshal(out)
}

// convertMessage turns one Anthropic turn into one or more OpenAI messages.
// tool_result blocks split off into their own role:"tool" messages.
func (t *OpenAITransformer) convertMessage(msg AnthropicMsg) ([]OpenAIMessage, error) {
	switch msg.Role {
	case "user", "assistant", "system", "tool":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMessageRole, msg.Role)
	}

	// String-form content passes through unchanged.
	var text string
	if err := json.Unmarshal(msg.Content, &text); err == nil {
		return []OpenAIMessage{{Role: msg.Role, Content: text}}, nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return nil, fmt.Errorf("transform: message content must be a string or block array: %w", err)
	}

	var (
		parts     []string
		toolCalls []ToolCall
		toolMsgs  []OpenAIMessage
	)

	for _, block := range blocks {
		switch block.Type {
		case "text":
			parts = append(parts, block.Text)

		case "tool_use":
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:       block.ID,
				Type:     "function",
				Function: FunctionCall{Name: block.Name, Arguments: args},
			})

		case "tool_result":
			toolMsgs = append(toolMsgs, OpenAIMessage{
				Role:       "tool",
				ToolCallID: block.ToolUseID,
				Content:    flattenContent(block.Content),
			})

		default:
			// Non-text blocks survive as their JSON representation.
			if raw, err := json.Marshal(block); err == nil {
				parts = append(parts, string(raw))
			}
		}
	}

	var result []OpenAIMessage
	text = strings.Join(parts, "\n")
	if text != "" || len(toolCalls) > 0 {
		result = append(result, OpenAIMessage{
			Role:      msg.Role,
			Content:   text,
			ToolCalls: toolCalls,
		})
	}
	result = append(result, toolMsgs...)

	if len(result) == 0 {
		// Preserve turn structure even for an empty block array.
		result = append(result, OpenAIMessage{Role: msg.Role})
	}
	return result, nil
}

// convertTools reshapes Anthropic tool definitions into OpenAI function form.
// Entries with a valid string name are repaired into shape; entries without
// one are dropped with a warning. A schema that is present but not an object
// fails the request.
func (t *OpenAITransformer) convertTools(raw []json.RawMessage) ([]OpenAITool, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	tools := make([]OpenAITool, 0, len(raw))
	for _, entry := range raw {
		name := gjson.GetBytes(entry, "name")
		if name.Type != gjson.String || name.Str == "" {
			log.Warn().
				Str("provider", t.provider).
				Msg("dropping tool definition without a valid name")
			continue
		}

		var tool AnthropicTool
		if err := json.Unmarshal(entry, &tool); err != nil {
			// Has a name but does not decode: repair from the fields we can read.
			tool = AnthropicTool{
				Name:        name.Str,
				Description: gjson.GetBytes(entry, "description").Str,
			}
			log.Warn().
				Str("provider", t.provider).
				Str("tool", name.Str).
				Msg("repaired malformed tool definition")
		}

		params := tool.InputSchema
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		} else if !gjson.ValidBytes(params) || !gjson.ParseBytes(params).IsObject() {
			return nil, fmt.Errorf("%w: tool %q input_schema is not an object", ErrMalformedToolDefinition, tool.Name)
		}

		tools = append(tools, OpenAITool{
			Type: "function",
			Function: FunctionDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return tools, nil
}

// flattenContent renders a string-or-block-array value as plain text.
// Text blocks concatenate; anything else keeps its JSON form.
func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return string(raw)
	}

	parts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		if block.Type == "text" {
			parts = append(parts, block.Text)
			continue
		}
		if encoded, err := json.Marshal(block); err == nil {
			parts = append(parts, string(encoded))
		}
	}
	return strings.Join(parts, "\n")
}
