package streamx

import (
	"encoding/json"

	"github.com/openai/openai-go/v3"
)

// OpenAIChunkAdapter projects an OpenAI Chat Completions SSE chunk stream
// onto C4's abstract Event vocabulary (spec.md §4.4.1: "that adaptation is
// a trivial projection and is considered part of C4"). OpenAI identifies a
// streaming tool call by its position in the delta's tool_calls array
// (Index), carrying the id/name only on the first chunk for that index;
// this adapter remembers the index→id mapping across chunks the way the
// teacher's beta stream handler keeps a map of in-progress tool calls.
//
// A backend with stream_options.include_usage set sends final usage in a
// trailing chunk with an empty choices array, separate from the chunk that
// carried finish_reason. The adapter holds the Finish event back until
// usage arrives (or the stream ends) so the two never race.
type OpenAIChunkAdapter struct {
	toolIndexToID map[int64]string
	pendingFinish *Event
}

// NewOpenAIChunkAdapter constructs an adapter for one stream.
func NewOpenAIChunkAdapter() *OpenAIChunkAdapter {
	return &OpenAIChunkAdapter{toolIndexToID: make(map[int64]string)}
}

// Adapt converts one chunk into zero or more abstract Events.
func (a *OpenAIChunkAdapter) Adapt(chunk openai.ChatCompletionChunk) []Event {
	var events []Event

	if len(chunk.Choices) == 0 {
		if u, ok := usageFromChunk(chunk); ok && a.pendingFinish != nil {
			a.pendingFinish.Usage = u
			events = append(events, *a.pendingFinish)
			a.pendingFinish = nil
		}
		return events
	}

	choice := chunk.Choices[0]
	delta := choice.Delta

	if delta.Content != "" {
		events = append(events, TextDelta(delta.Content))
	}
	if delta.Refusal != "" {
		// Supplemented (SPEC_FULL.md §3): a refusal renders as text.
		events = append(events, TextDelta(delta.Refusal))
	}
	if reasoning, ok := reasoningContent(delta); ok && reasoning != "" {
		events = append(events, ThinkingDelta(reasoning))
	}

	for _, td := range delta.ToolCalls {
		id, known := a.toolIndexToID[td.Index]
		if !known {
			id = td.ID
			a.toolIndexToID[td.Index] = id
			events = append(events, ToolInputStart(id, td.Function.Name))
			if td.Function.Arguments != "" {
				events = append(events, ToolInputDelta(id, td.Function.Arguments))
			}
			continue
		}
		if td.Function.Arguments != "" {
			events = append(events, ToolInputDelta(id, td.Function.Arguments))
		}
	}

	if choice.FinishReason != "" {
		fin := Finish(choice.FinishReason, Usage{})
		if usage, ok := usageFromChunk(chunk); ok {
			fin.Usage = usage
			events = append(events, fin)
		} else {
			a.pendingFinish = &fin
		}
	}

	return events
}

// Flush returns a held-back Finish event at stream end, if usage never
// arrived in a separate trailing chunk.
func (a *OpenAIChunkAdapter) Flush() []Event {
	if a.pendingFinish == nil {
		return nil
	}
	ev := *a.pendingFinish
	a.pendingFinish = nil
	return []Event{ev}
}

func usageFromChunk(chunk openai.ChatCompletionChunk) (Usage, bool) {
	if chunk.Usage.TotalTokens == 0 && chunk.Usage.PromptTokens == 0 && chunk.Usage.CompletionTokens == 0 {
		return Usage{}, false
	}
	return Usage{
		InputTokens:  chunk.Usage.PromptTokens,
		OutputTokens: chunk.Usage.CompletionTokens,
	}, true
}

// reasoningContent reads a vendor "reasoning_content" field some
// OpenAI-compatible backends attach to the delta (spec.md's supplemented
// thinking-block feature, grounded on the teacher's beta stream handler,
// which reads the same field off delta.RawJSON()). The official SDK
// struct has no dedicated field for it; re-marshaling the typed delta
// would only reproduce the fields the struct already declares, so this
// reads the delta's own captured raw JSON instead, the way the teacher's
// parseRawJSON(delta.RawJSON()) does.
func reasoningContent(delta openai.ChatCompletionChunkChoiceDelta) (string, bool) {
	raw := delta.RawJSON()
	if raw == "" {
		return "", false
	}
	var extra struct {
		ReasoningContent string `json:"reasoning_content"`
	}
	if err := json.Unmarshal([]byte(raw), &extra); err != nil {
		return "", false
	}
	return extra.ReasoningContent, extra.ReasoningContent != ""
}
