package translate

import (
	"encoding/json"
	"testing"

	"github.com/openai/openai-go/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anthroproxy/internal/backend"
)

func parseRequest(t *testing.T, raw string) Request {
	t.Helper()
	var req Request
	require.NoError(t, json.Unmarshal([]byte(raw), &req))
	return req
}

func TestToOpenAIRequest_RequiresMaxTokens(t *testing.T) {
	req := parseRequest(t, `{"model":"m","messages":[{"role":"user","content":"hi"}]}`)
	_, err := ToOpenAIRequest(req, backend.DefaultCapabilities())
	require.Error(t, err)
}

func TestToOpenAIRequest_SystemConcatenation(t *testing.T) {
	req := parseRequest(t, `{
		"model": "m", "max_tokens": 10,
		"system": [{"type":"text","text":"part one. "},{"type":"text","text":"part two."}],
		"messages": [{"role":"user","content":"hi"}]
	}`)
	result, err := ToOpenAIRequest(req, backend.DefaultCapabilities())
	require.NoError(t, err)
	assert.Equal(t, "part one. part two.", result.Fingerprint.System)
}

func TestToOpenAIRequest_ToolResultBecomesToolMessage(t *testing.T) {
	req := parseRequest(t, `{
		"model": "m", "max_tokens": 10,
		"messages": [
			{"role":"assistant","content":[{"type":"tool_use","id":"call_1","name":"f","input":{}}]},
			{"role":"user","content":[{"type":"tool_result","tool_use_id":"call_1","content":"42"}]}
		]
	}`)
	result, err := ToOpenAIRequest(req, backend.DefaultCapabilities())
	require.NoError(t, err)
	msgs := result.Params.Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "tool", string(*msgs[1].GetRole()))
}

func TestToOpenAIRequest_ToolResultMissingIDIsInvalid(t *testing.T) {
	req := parseRequest(t, `{
		"model": "m", "max_tokens": 10,
		"messages": [{"role":"user","content":[{"type":"tool_result","content":"42"}]}]
	}`)
	_, err := ToOpenAIRequest(req, backend.DefaultCapabilities())
	require.Error(t, err)
}

func TestToOpenAIRequest_DropsImagesWithoutCapability(t *testing.T) {
	caps := backend.DefaultCapabilities()
	caps.SupportsImages = false
	req := parseRequest(t, `{
		"model": "m", "max_tokens": 10,
		"messages": [{"role":"user","content":[
			{"type":"text","text":"look"},
			{"type":"image","source":{"type":"base64","media_type":"image/png","data":"abc"}}
		]}]
	}`)
	result, err := ToOpenAIRequest(req, caps)
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
}

func TestToOpenAIRequest_AssistantToolUseInvalidInput(t *testing.T) {
	req := parseRequest(t, `{
		"model": "m", "max_tokens": 10,
		"messages": [{"role":"assistant","content":[{"type":"tool_use","id":"c1","name":"f","input":[1,2,3]}]}]
	}`)
	_, err := ToOpenAIRequest(req, backend.DefaultCapabilities())
	require.Error(t, err)
}

func TestToOpenAIRequest_StopSequencesMapToStop(t *testing.T) {
	req := parseRequest(t, `{
		"model": "m", "max_tokens": 10, "stop_sequences": ["END"],
		"messages": [{"role":"user","content":"hi"}]
	}`)
	result, err := ToOpenAIRequest(req, backend.DefaultCapabilities())
	require.NoError(t, err)
	assert.Equal(t, []string{"END"}, result.Params.Stop.OfStringArray)
}

func TestFromOpenAIResponse_MapsFinishReasons(t *testing.T) {
	cases := map[string]string{
		"stop":           "end_turn",
		"length":         "max_tokens",
		"tool_calls":     "tool_use",
		"content_filter": "end_turn",
		"unknown_value":  "end_turn",
	}
	for in, want := range cases {
		resp := openai.ChatCompletion{
			ID: "resp_1",
			Choices: []openai.ChatCompletionChoice{
				{FinishReason: in, Message: openai.ChatCompletionMessage{Content: "hello"}},
			},
		}
		got := FromOpenAIResponse(resp, "model")
		assert.Equal(t, want, got.Message.StopReason, "finish reason %s", in)
	}
}

func TestFromOpenAIResponse_RecoversMalformedArguments(t *testing.T) {
	resp := openai.ChatCompletion{
		ID: "resp_2",
		Choices: []openai.ChatCompletionChoice{
			{
				FinishReason: "tool_calls",
				Message: openai.ChatCompletionMessage{
					ToolCalls: []openai.ChatCompletionMessageToolCall{
						{
							ID: "call_1",
							Function: openai.ChatCompletionMessageToolCallFunction{
								Name:      "f",
								Arguments: `{"a": 1,`,
							},
						},
					},
				},
			},
		},
	}
	got := FromOpenAIResponse(resp, "model")
	require.Len(t, got.Message.Content, 1)
	assert.Equal(t, "tool_use", got.Message.Content[0].Type)
	require.Len(t, got.Recovered, 1)
}

func TestToOpenAIRequest_NormalizesSystemWhitespaceWhenCapable(t *testing.T) {
	caps := backend.DefaultCapabilities()
	caps.NormalizeSystemWhitespace = true
	req := parseRequest(t, `{
		"model": "m", "max_tokens": 10,
		"system": "line one\nline two\n\tline three",
		"messages": [{"role":"user","content":"hi"}]
	}`)
	result, err := ToOpenAIRequest(req, caps)
	require.NoError(t, err)

	sysMsg := result.Params.Messages[0]
	require.NotNil(t, sysMsg.OfSystem)
	assert.Equal(t, "line one line two line three", sysMsg.OfSystem.Content.OfString.Value)
	// The cache fingerprint still carries the raw, un-normalized text so a
	// prompt fingerprints identically across backends with different
	// whitespace quirks.
	assert.Equal(t, "line one\nline two\n\tline three", result.Fingerprint.System)
}

func TestToOpenAIRequest_LeavesSystemWhitespaceByDefault(t *testing.T) {
	req := parseRequest(t, `{
		"model": "m", "max_tokens": 10,
		"system": "line one\nline two",
		"messages": [{"role":"user","content":"hi"}]
	}`)
	result, err := ToOpenAIRequest(req, backend.DefaultCapabilities())
	require.NoError(t, err)
	sysMsg := result.Params.Messages[0]
	assert.Equal(t, "line one\nline two", sysMsg.OfSystem.Content.OfString.Value)
}

func TestToOpenAIRequest_DropsToolsWithoutCapability(t *testing.T) {
	caps := backend.DefaultCapabilities()
	caps.SupportsTools = false
	req := parseRequest(t, `{
		"model": "m", "max_tokens": 10,
		"tools": [{"name":"search","description":"web search","input_schema":{"type":"object"}}],
		"messages": [{"role":"user","content":"hi"}]
	}`)
	result, err := ToOpenAIRequest(req, caps)
	require.NoError(t, err)
	assert.Empty(t, result.Params.Tools)
	require.Len(t, result.Warnings, 1)
}

func TestToOpenAIRequest_TopKDroppedByDefault(t *testing.T) {
	req := parseRequest(t, `{
		"model": "m", "max_tokens": 10, "top_k": 5,
		"messages": [{"role":"user","content":"hi"}]
	}`)
	result, err := ToOpenAIRequest(req, backend.DefaultCapabilities())
	require.NoError(t, err)
	raw, err := json.Marshal(result.Params)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "top_k")
}

func TestToOpenAIRequest_TopKPassedThroughWhenNotDropped(t *testing.T) {
	caps := backend.DefaultCapabilities()
	caps.DropTopK = false
	req := parseRequest(t, `{
		"model": "m", "max_tokens": 10, "top_k": 5,
		"messages": [{"role":"user","content":"hi"}]
	}`)
	result, err := ToOpenAIRequest(req, caps)
	require.NoError(t, err)
	raw, err := json.Marshal(result.Params)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"top_k":5`)
}

func TestFromOpenAIResponse_EmptyChoicesDoesNotPanic(t *testing.T) {
	resp := openai.ChatCompletion{ID: "resp_4"}
	got := FromOpenAIResponse(resp, "model")
	assert.Equal(t, "message", got.Message.Type)
	assert.Equal(t, "end_turn", got.Message.StopReason)
	assert.Empty(t, got.Message.Content)
	require.Len(t, got.Recovered, 1)
}

func TestFromOpenAIResponse_TextThenToolUseOrdering(t *testing.T) {
	resp := openai.ChatCompletion{
		ID: "resp_3",
		Choices: []openai.ChatCompletionChoice{
			{
				FinishReason: "tool_calls",
				Message: openai.ChatCompletionMessage{
					Content: "thinking...",
					ToolCalls: []openai.ChatCompletionMessageToolCall{
						{ID: "call_1", Function: openai.ChatCompletionMessageToolCallFunction{Name: "f", Arguments: "{}"}},
					},
				},
			},
		},
	}
	got := FromOpenAIResponse(resp, "model")
	require.Len(t, got.Message.Content, 2)
	assert.Equal(t, "text", got.Message.Content[0].Type)
	assert.Equal(t, "tool_use", got.Message.Content[1].Type)
}
