package streamx

import (
	"context"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/ssestream"
	"golang.org/x/sync/errgroup"

	"anthroproxy/internal/backend"
	"anthroproxy/internal/clockx"
)

// Run drives one stream end-to-end: it emits the entry action immediately,
// pumps backend events (from the events channel) and the two watchdog
// timers onto one serialized select loop, and returns the resulting SSE
// events on a channel the caller writes to the client. Timers are modeled
// as first-class channel sends on the same loop as backend events — not a
// separate goroutine racing the main one — which is what spec.md §9
// ("timer races") calls for.
func Run(ctx context.Context, m *Machine, clock clockx.Clock, caps backend.Capabilities, events <-chan Event) <-chan SSEEvent {
	out := make(chan SSEEvent, 16)

	go func() {
		defer close(out)

		// Timers are armed before the entry action's events are handed to
		// the caller, so that by the time the caller observes message_start
		// both deadlines are already ticking (spec.md §4.4.2: arming is part
		// of the same entry action as emitting message_start).
		inactivity := clock.AfterMs(caps.InactivityTimeout.Milliseconds())
		terminal := clock.AfterMs(caps.TerminalTimeout.Milliseconds())

		for _, ev := range m.Start() {
			out <- ev
		}

		for {
			select {
			case <-ctx.Done():
				return

			case <-terminal:
				for _, ev := range m.ForceTimeout("terminal watchdog fired before message_stop") {
					out <- ev
				}
				return

			case <-inactivity:
				for _, ev := range m.ForceTimeout("inactivity watchdog fired: no upstream event within timeout") {
					out <- ev
				}
				return

			case ev, ok := <-events:
				if !ok {
					for _, sse := range m.Handle(EndOfStream()) {
						out <- sse
					}
					return
				}
				for _, sse := range m.Handle(ev) {
					out <- sse
				}
				if m.Stopped() {
					return
				}
				inactivity = clock.AfterMs(caps.InactivityTimeout.Milliseconds())
			}
		}
	}()

	return out
}

// PumpOpenAIChunks reads stream to completion on an errgroup-managed
// goroutine, adapting each chunk through adapter and sending the resulting
// abstract Events to the returned channel. The channel is closed after a
// final EventEndOfStream (clean close) or EventError (read failure) is
// sent. Running the reader under g ties its lifetime to the rest of the
// request's goroutines: a cancelled request cancels the group's context,
// which Run above observes on its ctx.Done() case. A read failure does not
// cancel the group: the reader returns nil after sending EventError, so
// Run receives that event and folds it into a graceful close.
func PumpOpenAIChunks(ctx context.Context, g *errgroup.Group, stream *ssestream.Stream[openai.ChatCompletionChunk], adapter *OpenAIChunkAdapter) <-chan Event {
	out := make(chan Event, 16)
	g.Go(func() error {
		defer close(out)
		defer stream.Close()
		for stream.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			for _, ev := range adapter.Adapt(stream.Current()) {
				out <- ev
			}
		}
		if err := stream.Err(); err != nil {
			out <- Error("BackendUnavailable", err.Error())
			return nil
		}
		for _, ev := range adapter.Flush() {
			out <- ev
		}
		out <- EndOfStream()
		return nil
	})
	return out
}
