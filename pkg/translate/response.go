package translate

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"
	"github.com/openai/openai-go/v3"
)

// ResponseResult is FromOpenAIResponse's output: the translated message
// plus any recoverable errors encountered along the way (spec.md §4.2.2
// rule 2: a malformed tool-call argument does not abort the response).
type ResponseResult struct {
	Message   Response
	Recovered []string
}

// FromOpenAIResponse implements C2's non-streaming response-translation
// direction (spec.md §4.2.2).
func FromOpenAIResponse(resp openai.ChatCompletion, model string) ResponseResult {
	if len(resp.Choices) == 0 {
		id := resp.ID
		if id == "" {
			id = "msg_" + uuid.NewString()
		}
		return ResponseResult{
			Message: Response{
				ID:         id,
				Type:       "message",
				Role:       "assistant",
				Model:      model,
				StopReason: "end_turn",
				Usage: Usage{
					InputTokens:  resp.Usage.PromptTokens,
					OutputTokens: resp.Usage.CompletionTokens,
				},
			},
			Recovered: []string{"backend response carried no choices; returning an empty message"},
		}
	}

	choice := resp.Choices[0]

	var content []ContentBlock
	var recovered []string

	if choice.Message.Content != "" {
		content = append(content, ContentBlock{Type: "text", Text: choice.Message.Content})
	}
	if choice.Message.Refusal != "" {
		content = append(content, ContentBlock{Type: "text", Text: choice.Message.Refusal})
	}

	for _, tc := range choice.Message.ToolCalls {
		fn := tc.Function
		input, recoveredArgs := parseToolArguments(fn.Arguments)
		if recoveredArgs {
			recovered = append(recovered, "tool call "+tc.ID+": arguments did not parse as JSON, repaired")
		}
		content = append(content, ContentBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  fn.Name,
			Input: input,
		})
	}

	id := resp.ID
	if id == "" {
		id = "msg_" + uuid.NewString()
	}

	return ResponseResult{
		Message: Response{
			ID:         id,
			Type:       "message",
			Role:       "assistant",
			Model:      model,
			Content:    content,
			StopReason: mapFinishReason(choice.FinishReason),
			Usage: Usage{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
			},
		},
		Recovered: recovered,
	}
}

// mapFinishReason implements rule 1's finish_reason → stop_reason table.
func mapFinishReason(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	case "content_filter":
		return "end_turn"
	default:
		return "end_turn"
	}
}

// parseToolArguments parses a tool call's raw arguments string into a JSON
// object. Truncated/malformed JSON is run through jsonrepair before giving
// up; a total failure still returns a usable (empty) object rather than
// erroring, per rule 2.
func parseToolArguments(raw string) (json.RawMessage, bool) {
	if raw == "" {
		return json.RawMessage(`{}`), false
	}
	var probe map[string]any
	if err := json.Unmarshal([]byte(raw), &probe); err == nil {
		return json.RawMessage(raw), false
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err == nil {
		if err := json.Unmarshal([]byte(repaired), &probe); err == nil {
			return json.RawMessage(repaired), true
		}
	}
	return json.RawMessage(`{}`), true
}
