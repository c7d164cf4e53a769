// Package streamx implements the Stream Translator (C4): it consumes an
// abstract sequence of backend events and drives the Anthropic SSE state
// machine, enforcing ordering, deduplication, and the two watchdog
// deadlines described in spec.md §4.4.
package streamx

// EventKind tags the variant of an abstract backend Event (spec.md §4.4.1).
type EventKind string

const (
	EventTextStart      EventKind = "text-start"
	EventTextDelta      EventKind = "text-delta"
	EventTextEnd        EventKind = "text-end"
	EventThinkingDelta  EventKind = "thinking-delta" // supplemented, see SPEC_FULL.md §3
	EventToolInputStart EventKind = "tool-input-start"
	EventToolInputDelta EventKind = "tool-input-delta"
	EventToolInputEnd   EventKind = "tool-input-end"
	EventToolCall       EventKind = "tool-call"
	EventFinish         EventKind = "finish"
	EventError          EventKind = "error"
	EventEndOfStream    EventKind = "end-of-stream"
)

// Usage mirrors the fields the orchestrator needs for the final
// message_delta (spec.md §3).
type Usage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// Event is the abstract upstream event C4 consumes. Only the fields
// relevant to Kind are populated; the rest are zero.
type Event struct {
	Kind EventKind

	// text-delta, thinking-delta
	Text string

	// tool-input-start, tool-input-delta, tool-input-end, tool-call
	ToolID    string
	ToolName  string
	ToolDelta string         // tool-input-delta's partial JSON fragment
	ToolInput map[string]any // tool-call's full, already-parsed input

	// finish
	StopReason string
	Usage      Usage

	// error
	ErrorKind    string
	ErrorMessage string
}

// TextStart, TextDelta, etc. are small constructors kept for readability at
// call sites that build events by hand (tests, the OpenAI adapter).
func TextStart() Event                     { return Event{Kind: EventTextStart} }
func TextDelta(text string) Event          { return Event{Kind: EventTextDelta, Text: text} }
func TextEnd() Event                       { return Event{Kind: EventTextEnd} }
func ThinkingDelta(text string) Event      { return Event{Kind: EventThinkingDelta, Text: text} }
func ToolInputStart(id, name string) Event { return Event{Kind: EventToolInputStart, ToolID: id, ToolName: name} }
func ToolInputDelta(id, delta string) Event {
	return Event{Kind: EventToolInputDelta, ToolID: id, ToolDelta: delta}
}
func ToolInputEnd(id string) Event { return Event{Kind: EventToolInputEnd, ToolID: id} }
func ToolCall(id, name string, input map[string]any) Event {
	return Event{Kind: EventToolCall, ToolID: id, ToolName: name, ToolInput: input}
}
func Finish(stopReason string, usage Usage) Event {
	return Event{Kind: EventFinish, StopReason: stopReason, Usage: usage}
}
func Error(kind, message string) Event {
	return Event{Kind: EventError, ErrorKind: kind, ErrorMessage: message}
}
func EndOfStream() Event { return Event{Kind: EventEndOfStream} }
