package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"anthroproxy/internal/streamx"
)

// sseWriter writes streamx.SSEEvents to an HTTP response, interleaving
// keep-alive comments while waiting for the first (or next) real event
// (spec.md §4.5.2), and draining the socket's outbound buffer before
// closing (spec.md §4.5.3).
//
// Go's net/http ResponseWriter exposes no "writable length" signal the way
// some lower-level transports do; flusher.Flush returning is the closest
// available readiness signal, so FlushAndClose's drain step is a bounded
// wait rather than a poll against an explicit buffer depth.
type sseWriter struct {
	c        *gin.Context
	flusher  http.Flusher
	lastSent time.Time
}

func newSSEWriter(c *gin.Context) (*sseWriter, bool) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseWriter{c: c, flusher: flusher, lastSent: time.Now()}, true
}

// WriteEvent writes one named SSE event and flushes it immediately.
func (w *sseWriter) WriteEvent(ev streamx.SSEEvent) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal sse event %s: %w", ev.Name, err)
	}
	if _, err := fmt.Fprintf(w.c.Writer, "event: %s\ndata: %s\n\n", ev.Name, data); err != nil {
		return err
	}
	w.flusher.Flush()
	w.lastSent = time.Now()
	return nil
}

// WriteKeepalive writes a single SSE comment line. Callers must not call
// this between an opened content block and its content_block_stop
// (spec.md §4.5.2); the keep-alive loop in messages.go tracks
// content_block_start/content_block_stop and skips a tick that lands while
// a block is open.
func (w *sseWriter) WriteKeepalive() error {
	if _, err := fmt.Fprint(w.c.Writer, ":keepalive\n\n"); err != nil {
		return err
	}
	w.flusher.Flush()
	w.lastSent = time.Now()
	return nil
}

// FlushAndClose performs a final flush and waits up to deadline for the
// drain to settle before returning, so the handler does not return (and
// let gin close the connection) while bytes are still in flight. A final
// Flush call that returns without blocking is treated as "drained" since
// the stdlib gives no stronger signal.
func (w *sseWriter) FlushAndClose(deadline time.Duration) {
	done := make(chan struct{})
	go func() {
		w.flusher.Flush()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(deadline):
	}
}
