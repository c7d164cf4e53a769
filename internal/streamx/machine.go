package streamx

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// state is C4's top-level lifecycle (spec.md §4.4.2).
type state int

const (
	stateFresh state = iota
	stateStarted
	stateFinishing
	stateStopped
)

// blockKind is the open-block substate.
type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockTool
)

// Diagnostic is a recoverable, non-fatal note recorded for the per-request
// trace sink (spec.md §4.4.4, §4.4.2's "best-effort recovery").
type Diagnostic struct {
	Reason string
}

// Machine drives the Anthropic SSE state machine for one stream (spec.md
// §3 "per-request stream state", §4.4.2). It is not safe for concurrent
// use; one Machine belongs to exactly one C4 invocation.
type Machine struct {
	messageID string
	model     string

	st state

	blockIndex  int
	openBlock   blockKind
	openToolID  string
	openToolNm  string
	openPartial strings.Builder

	toolIdsStreamed map[string]bool
	toolNamesSeen   map[string]string // id -> name, for best-effort delta recovery

	finishSeen bool
	stopReason string
	usage      Usage

	messageStartSent bool
	messageStopSent  bool

	Diagnostics []Diagnostic
}

// NewMachine constructs a Machine. messageID is generated if empty.
func NewMachine(messageID, model string) *Machine {
	if messageID == "" {
		messageID = "msg_" + uuid.NewString()
	}
	return &Machine{
		messageID:       messageID,
		model:           model,
		st:              stateFresh,
		openBlock:       blockNone,
		toolIdsStreamed: make(map[string]bool),
		toolNamesSeen:   make(map[string]string),
	}
}

// Start is the entry action (spec.md §4.4.2): performed exactly once, the
// moment the translator is connected, not deferred to the first upstream
// event. The caller is responsible for arming the two watchdog deadlines
// at the same moment this returns.
func (m *Machine) Start() []SSEEvent {
	if m.st != stateFresh {
		return nil
	}
	m.st = stateStarted
	m.messageStartSent = true
	return []SSEEvent{newMessageStart(m.messageID, m.model)}
}

// Stopped reports whether message_stop has already been emitted.
func (m *Machine) Stopped() bool { return m.st == stateStopped }

// Handle processes one upstream event and returns the SSE events it
// produces, in order. Once Stopped() is true, Handle is a no-op (spec.md
// §4.4.5: "after message_stop, no further events are emitted").
func (m *Machine) Handle(ev Event) []SSEEvent {
	if m.st == stateStopped {
		return nil
	}
	switch ev.Kind {
	case EventTextStart:
		return m.handleTextStart()
	case EventTextDelta:
		return m.handleTextDelta(ev.Text)
	case EventTextEnd:
		return m.handleTextEnd()
	case EventThinkingDelta:
		return m.handleThinkingDelta(ev.Text)
	case EventToolInputStart:
		return m.handleToolInputStart(ev.ToolID, ev.ToolName)
	case EventToolInputDelta:
		return m.handleToolInputDelta(ev.ToolID, ev.ToolDelta)
	case EventToolInputEnd:
		return m.handleToolInputEnd(ev.ToolID)
	case EventToolCall:
		return m.handleToolCall(ev.ToolID, ev.ToolName, ev.ToolInput)
	case EventFinish:
		return m.handleFinish(ev.StopReason, ev.Usage)
	case EventError:
		return m.handleError(ev.ErrorKind, ev.ErrorMessage)
	case EventEndOfStream:
		return m.handleEndOfStream()
	default:
		return nil
	}
}

func (m *Machine) closeOpenBlock() []SSEEvent {
	if m.openBlock == blockNone {
		return nil
	}
	ev := newBlockStop(m.blockIndex)
	m.blockIndex++
	m.openBlock = blockNone
	m.openToolID = ""
	m.openToolNm = ""
	m.openPartial.Reset()
	return []SSEEvent{ev}
}

func (m *Machine) handleTextStart() []SSEEvent {
	out := m.closeOpenBlock()
	out = append(out, newTextBlockStart(m.blockIndex))
	m.openBlock = blockText
	return out
}

func (m *Machine) handleTextDelta(text string) []SSEEvent {
	var out []SSEEvent
	if m.openBlock == blockNone {
		out = append(out, m.handleTextStart()...)
	}
	out = append(out, newTextDelta(m.blockIndex, text))
	return out
}

func (m *Machine) handleThinkingDelta(text string) []SSEEvent {
	var out []SSEEvent
	if m.openBlock == blockNone {
		out = append(out, m.handleTextStart()...)
	}
	out = append(out, newThinkingDelta(m.blockIndex, text))
	return out
}

func (m *Machine) handleTextEnd() []SSEEvent {
	if m.openBlock != blockText {
		return nil
	}
	return m.closeOpenBlock()
}

func (m *Machine) handleToolInputStart(id, name string) []SSEEvent {
	out := m.closeOpenBlock()
	out = append(out, newToolBlockStart(m.blockIndex, id, name))
	m.openBlock = blockTool
	m.openToolID = id
	m.openToolNm = name
	m.toolIdsStreamed[id] = true
	m.toolNamesSeen[id] = name
	return out
}

func (m *Machine) handleToolInputDelta(id, delta string) []SSEEvent {
	if m.openBlock != blockTool || m.openToolID != id {
		// Best-effort recovery (spec.md §4.4.2): synthesize the missing
		// tool-input-start using a previously-seen name if we have one.
		name, known := m.toolNamesSeen[id]
		if !known {
			m.Diagnostics = append(m.Diagnostics, Diagnostic{
				Reason: "tool-input-delta for unknown id " + id + " dropped: no prior name observed",
			})
			return nil
		}
		out := m.handleToolInputStart(id, name)
		m.openPartial.WriteString(delta)
		out = append(out, newInputJSONDelta(m.blockIndex, delta))
		return out
	}
	m.openPartial.WriteString(delta)
	return []SSEEvent{newInputJSONDelta(m.blockIndex, delta)}
}

func (m *Machine) handleToolInputEnd(id string) []SSEEvent {
	if m.openBlock != blockTool || m.openToolID != id {
		return nil
	}
	return m.closeOpenBlock()
}

func (m *Machine) handleToolCall(id, name string, input map[string]any) []SSEEvent {
	if m.toolIdsStreamed[id] {
		return nil // duplicate of an already-streamed tool call
	}
	out := m.closeOpenBlock()
	out = append(out, newToolBlockStart(m.blockIndex, id, name))

	if input == nil {
		input = map[string]any{}
	}
	partial, err := json.Marshal(input)
	if err != nil {
		m.Diagnostics = append(m.Diagnostics, Diagnostic{
			Reason: "tool-call " + id + ": failed to marshal input, emitted empty object",
		})
		partial = []byte("{}")
	}
	out = append(out, newInputJSONDelta(m.blockIndex, string(partial)))

	stop := newBlockStop(m.blockIndex)
	m.blockIndex++
	out = append(out, stop)

	m.toolIdsStreamed[id] = true
	return out
}

func (m *Machine) handleFinish(stopReason string, usage Usage) []SSEEvent {
	out := m.closeOpenBlock()
	m.finishSeen = true
	m.stopReason = mapStopReason(stopReason)
	m.usage = usage
	return out
}

// handleError implements spec.md §4.4.4's mid-stream branch: message_start
// has necessarily already been written by the time Handle observes any
// event, so every error reaching the machine is folded into a graceful
// close. The pre-message_start branch (surface as an HTTP error instead) is
// the orchestrator's responsibility, exercised before the machine is ever
// started.
func (m *Machine) handleError(kind, message string) []SSEEvent {
	out := m.closeOpenBlock()
	m.Diagnostics = append(m.Diagnostics, Diagnostic{Reason: kind + ": " + message})
	out = append(out, m.finalize(m.fallbackStopReason())...)
	return out
}

func (m *Machine) handleEndOfStream() []SSEEvent {
	out := m.closeOpenBlock()
	out = append(out, m.finalize(m.fallbackStopReason())...)
	return out
}

// fallbackStopReason returns the stashed finish stop reason if one was
// observed, or end_turn otherwise (spec.md §4.4.2).
func (m *Machine) fallbackStopReason() string {
	if m.finishSeen {
		return m.stopReason
	}
	return "end_turn"
}

// finalize emits message_delta then message_stop and transitions to
// Stopped. Used by the normal end-of-stream path, the mid-stream error
// path, and both watchdog timeouts (spec.md §4.4.3) — all four converge on
// the same graceful close.
func (m *Machine) finalize(stopReason string) []SSEEvent {
	if m.st == stateStopped {
		return nil
	}
	m.st = stateFinishing
	events := []SSEEvent{newMessageDelta(stopReason, m.usage)}
	m.st = stateStopped
	m.messageStopSent = true
	events = append(events, newMessageStop())
	return events
}

// ForceTimeout is invoked by a watchdog timer firing (spec.md §4.4.3): the
// translator behaves as if end-of-stream arrived with stop_reason=end_turn.
func (m *Machine) ForceTimeout(reason string) []SSEEvent {
	if m.st == stateStopped {
		return nil
	}
	out := m.closeOpenBlock()
	m.Diagnostics = append(m.Diagnostics, Diagnostic{Reason: reason})
	out = append(out, m.finalize("end_turn")...)
	return out
}

func mapStopReason(backendReason string) string {
	switch backendReason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	default:
		return "end_turn"
	}
}
