package streamx

// The structs below are the Anthropic SSE wire shapes (spec.md §3). They
// are emitted to the client as named SSE events ("event: <Type>\ndata:
// <json>\n\n") by the orchestrator; this package only builds the payloads.

// SSEEvent pairs an SSE event name with its JSON-encodable payload.
type SSEEvent struct {
	Name string
	Data any
}

type messageStartPayload struct {
	Type    string         `json:"type"`
	Message messageShell   `json:"message"`
}

type messageShell struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Role    string    `json:"role"`
	Model   string    `json:"model"`
	Content []any     `json:"content"`
	Usage   sseUsage  `json:"usage"`
}

type sseUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens,omitempty"`
}

type contentBlockStartPayload struct {
	Type         string        `json:"type"`
	Index        int           `json:"index"`
	ContentBlock contentBlockShell `json:"content_block"`
}

type contentBlockShell struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type contentBlockDeltaPayload struct {
	Type  string    `json:"type"`
	Index int       `json:"index"`
	Delta deltaUnion `json:"delta"`
}

type deltaUnion struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

type contentBlockStopPayload struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type messageDeltaPayload struct {
	Type  string           `json:"type"`
	Delta messageDeltaBody `json:"delta"`
	Usage sseUsage         `json:"usage"`
}

type messageDeltaBody struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence,omitempty"`
}

type messageStopPayload struct {
	Type string `json:"type"`
}

func newMessageStart(id, model string) SSEEvent {
	return SSEEvent{
		Name: "message_start",
		Data: messageStartPayload{
			Type: "message_start",
			Message: messageShell{
				ID:      id,
				Type:    "message",
				Role:    "assistant",
				Model:   model,
				Content: []any{},
				Usage:   sseUsage{},
			},
		},
	}
}

func newTextBlockStart(index int) SSEEvent {
	return SSEEvent{
		Name: "content_block_start",
		Data: contentBlockStartPayload{
			Type:         "content_block_start",
			Index:        index,
			ContentBlock: contentBlockShell{Type: "text", Text: ""},
		},
	}
}

func newToolBlockStart(index int, id, name string) SSEEvent {
	return SSEEvent{
		Name: "content_block_start",
		Data: contentBlockStartPayload{
			Type:  "content_block_start",
			Index: index,
			ContentBlock: contentBlockShell{
				Type:  "tool_use",
				ID:    id,
				Name:  name,
				Input: map[string]any{},
			},
		},
	}
}

func newTextDelta(index int, text string) SSEEvent {
	return SSEEvent{
		Name: "content_block_delta",
		Data: contentBlockDeltaPayload{
			Type:  "content_block_delta",
			Index: index,
			Delta: deltaUnion{Type: "text_delta", Text: text},
		},
	}
}

func newThinkingDelta(index int, text string) SSEEvent {
	return SSEEvent{
		Name: "content_block_delta",
		Data: contentBlockDeltaPayload{
			Type:  "content_block_delta",
			Index: index,
			Delta: deltaUnion{Type: "thinking_delta", Text: text},
		},
	}
}

func newInputJSONDelta(index int, partialJSON string) SSEEvent {
	return SSEEvent{
		Name: "content_block_delta",
		Data: contentBlockDeltaPayload{
			Type:  "content_block_delta",
			Index: index,
			Delta: deltaUnion{Type: "input_json_delta", PartialJSON: partialJSON},
		},
	}
}

func newBlockStop(index int) SSEEvent {
	return SSEEvent{
		Name: "content_block_stop",
		Data: contentBlockStopPayload{Type: "content_block_stop", Index: index},
	}
}

func newMessageDelta(stopReason string, usage Usage) SSEEvent {
	return SSEEvent{
		Name: "message_delta",
		Data: messageDeltaPayload{
			Type:  "message_delta",
			Delta: messageDeltaBody{StopReason: stopReason},
			Usage: sseUsage{
				InputTokens:              usage.InputTokens,
				OutputTokens:             usage.OutputTokens,
				CacheCreationInputTokens: usage.CacheCreationInputTokens,
				CacheReadInputTokens:     usage.CacheReadInputTokens,
			},
		},
	}
}

func newMessageStop() SSEEvent {
	return SSEEvent{Name: "message_stop", Data: messageStopPayload{Type: "message_stop"}}
}
