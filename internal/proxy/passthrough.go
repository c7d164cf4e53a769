package proxy

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"anthroproxy/internal/proxyerr"
	"anthroproxy/internal/streamx"
	"anthroproxy/internal/tracesink"
)

// handlePassthrough implements spec.md §4.5.1 rule 4: a backend whose
// APIStyle is anthropic skips C1-C4 entirely. The request goes out through
// the backend's own Anthropic SDK client, authenticated with the backend
// descriptor's Auth; the client's own x-api-key/Authorization headers are
// not forwarded. (The SDK client, rather than a raw net/http proxy, gives
// the same retry/backoff behavior teacher's
// forwardAnthropicRequestBeta/forwardAnthropicStreamRequestBeta get from
// the Anthropic SDK.)
func (s *Server) handlePassthrough(c *gin.Context, bodyBytes []byte, isStreaming bool) {
	start := time.Now()

	var params anthropic.MessageNewParams
	if err := json.Unmarshal(bodyBytes, &params); err != nil {
		writeError(c, proxyerr.Wrap(proxyerr.KindInvalidRequest, "request does not match the Anthropic messages schema", err))
		return
	}

	var rawBody map[string]any
	_ = json.Unmarshal(bodyBytes, &rawBody)

	ctx, span := s.tracer.Start(c.Request.Context(), "backend.AnthropicPassthrough")
	defer span.End()

	if !isStreaming {
		resp, err := s.anthropicClient.MessagesNew(ctx, params)
		elapsed := time.Since(start)
		if err != nil {
			pe := proxyerr.Wrap(proxyerr.KindBackendUnavailable, "passthrough backend call failed", err)
			writeError(c, pe)
			s.recordPassthrough(rawBody, elapsed, 0, "", pe.HTTPStatus())
			return
		}
		c.JSON(http.StatusOK, resp)
		s.recordPassthrough(rawBody, elapsed, elapsed, string(resp.StopReason), http.StatusOK)
		return
	}

	stream := s.anthropicClient.MessagesNewStreaming(ctx, params)
	writer, ok := newSSEWriter(c)
	if !ok {
		writeError(c, proxyerr.New(proxyerr.KindStreamProtocol, "response writer does not support flushing"))
		return
	}
	defer stream.Close()

	var totalBytes int64
	var firstByte time.Duration
	gotFirst := false
	var stopReason string

	for stream.Next() {
		if ctx.Err() != nil {
			break
		}
		ev := stream.Current()
		if !gotFirst {
			firstByte = time.Since(start)
			gotFirst = true
		}
		raw := json.RawMessage(ev.RawJSON())
		if len(raw) == 0 {
			continue
		}
		if err := writer.WriteEvent(streamx.SSEEvent{Name: string(ev.Type), Data: rawDataEvent{raw: raw}}); err != nil {
			logrus.WithError(err).Warn("passthrough sse write failed, tearing down stream")
			return
		}
		totalBytes++
		if r, ok := passthroughStopReason(raw); ok {
			stopReason = r
		}
	}

	status := http.StatusOK
	if err := stream.Err(); err != nil {
		logrus.WithError(err).Warn("passthrough backend stream ended with error")
	}

	writer.FlushAndClose(s.backend.Capabilities.DeferredCloseTimeout)
	s.recordPassthrough(rawBody, time.Since(start), firstByte, stopReason, status)
}

// rawDataEvent wraps an already-marshaled Anthropic event payload for
// sseWriter, which otherwise re-marshals SSEEvent.Data itself; passthrough
// needs the verbatim upstream bytes, not a re-encoding.
type rawDataEvent struct {
	raw json.RawMessage
}

func (e rawDataEvent) MarshalJSON() ([]byte, error) { return e.raw, nil }

func passthroughStopReason(raw json.RawMessage) (string, bool) {
	var body struct {
		Delta struct {
			StopReason string `json:"stop_reason"`
		} `json:"delta"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Delta.StopReason == "" {
		return "", false
	}
	return body.Delta.StopReason, true
}

func (s *Server) recordPassthrough(rawBody map[string]any, backendElapsed, firstByte time.Duration, stopReason string, status int) {
	s.sink.Record(tracesink.Record{
		RedactedRequest:  tracesink.Redact(rawBody),
		Mode:             "passthrough",
		BackendElapsed:   backendElapsed,
		FirstByteElapsed: firstByte,
		StopReason:       stopReason,
		HTTPStatus:       status,
	})
}
