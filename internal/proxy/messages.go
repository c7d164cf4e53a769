package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"anthroproxy/internal/backend"
	"anthroproxy/internal/clockx"
	"anthroproxy/internal/promptcache"
	"anthroproxy/internal/proxyerr"
	"anthroproxy/internal/streamx"
	"anthroproxy/internal/tracesink"
	"anthroproxy/pkg/translate"
)

// handleMessages implements the C5 request lifecycle (spec.md §4.5.1).
func (s *Server) handleMessages(c *gin.Context) {
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, proxyerr.Wrap(proxyerr.KindInvalidRequest, "failed to read request body", err))
		return
	}

	var rawBody map[string]any
	if err := json.Unmarshal(bodyBytes, &rawBody); err != nil {
		writeError(c, proxyerr.Wrap(proxyerr.KindInvalidRequest, "malformed JSON body", err))
		return
	}

	var req translate.Request
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		writeError(c, proxyerr.Wrap(proxyerr.KindInvalidRequest, "request does not match the messages schema", err))
		return
	}

	if s.backend.APIStyle == backend.APIStyleAnthropic {
		s.handlePassthrough(c, bodyBytes, req.Stream)
		return
	}

	result, err := translate.ToOpenAIRequest(req, s.backend.Capabilities)
	if err != nil {
		writeError(c, err)
		return
	}

	fingerprint, access, err := s.recordCacheAccess(result.Fingerprint)
	if err != nil {
		logrus.WithError(err).Warn("prompt cache fingerprint failed, continuing uncached")
	}

	if req.Stream {
		s.handleStreaming(c, rawBody, result, fingerprint, access)
		return
	}
	s.handleNonStreaming(c, rawBody, req.Model, result, fingerprint, access)
}

func (s *Server) handleNonStreaming(c *gin.Context, rawBody map[string]any, model string, result translate.RequestResult, fingerprint string, access promptcache.AccessResult) {
	start := time.Now()
	ctx, span := s.tracer.Start(c.Request.Context(), "backend.ChatCompletion")
	defer span.End()

	resp, err := s.openaiClient.ChatCompletion(ctx, result.Params)
	elapsed := time.Since(start)
	if err != nil {
		pe := proxyerr.Wrap(proxyerr.KindBackendUnavailable, "backend call failed", err)
		writeError(c, pe)
		s.record(rawBody, "translate", fingerprint, access, elapsed, 0, 0, "", nil, pe.HTTPStatus())
		return
	}

	respResult := translate.FromOpenAIResponse(*resp, model)
	applyCacheUsage(&respResult.Message.Usage, access)
	c.JSON(http.StatusOK, respResult.Message)

	s.record(rawBody, "translate", fingerprint, access, elapsed, elapsed, 0, respResult.Message.StopReason, respResult.Recovered, http.StatusOK)
}

func (s *Server) handleStreaming(c *gin.Context, rawBody map[string]any, result translate.RequestResult, fingerprint string, access promptcache.AccessResult) {
	start := time.Now()
	ctx, span := s.tracer.Start(c.Request.Context(), "backend.ChatCompletionStream")
	defer span.End()

	caps := s.backend.Capabilities
	stream := s.openaiClient.ChatCompletionStream(ctx, result.Params)

	writer, ok := newSSEWriter(c)
	if !ok {
		writeError(c, proxyerr.New(proxyerr.KindStreamProtocol, "response writer does not support flushing"))
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	adapter := streamx.NewOpenAIChunkAdapter()
	events := streamx.PumpOpenAIChunks(gctx, g, stream, adapter)
	events = augmentFinishUsage(events, access)

	machine := streamx.NewMachine("", result.Params.Model)
	out := streamx.Run(gctx, machine, clockx.Real(), caps, events)

	var totalBytes int64
	var firstByte time.Duration
	var stopReason string
	gotFirst := false
	blockOpen := false

	for {
		timer := time.NewTimer(caps.KeepaliveInterval)
		select {
		case ev, isOpen := <-out:
			timer.Stop()
			if !isOpen {
				writer.FlushAndClose(caps.DeferredCloseTimeout)
				_ = g.Wait()
				recovered := make([]string, 0, len(machine.Diagnostics))
				for _, d := range machine.Diagnostics {
					recovered = append(recovered, d.Reason)
				}
				s.record(rawBody, "translate", fingerprint, access, time.Since(start), firstByte, totalBytes, stopReason, recovered, http.StatusOK)
				return
			}
			if !gotFirst {
				firstByte = time.Since(start)
				gotFirst = true
			}
			blockOpen = blockOpenAfter(blockOpen, ev.Name)
			if reason, ok := messageDeltaStopReason(ev); ok {
				stopReason = reason
			}
			if err := writer.WriteEvent(ev); err != nil {
				logrus.WithError(err).Warn("sse write failed, tearing down stream")
				return
			}
			totalBytes++

		case <-timer.C:
			// spec.md §4.5.2 forbids a keep-alive between an opened block and
			// its close; skip this tick and let the next real event or timer
			// fire re-check instead of emitting one here.
			if blockOpen {
				continue
			}
			if err := writer.WriteKeepalive(); err != nil {
				logrus.WithError(err).Warn("keepalive write failed, tearing down stream")
				return
			}

		case <-gctx.Done():
			timer.Stop()
			return
		}
	}
}

// blockOpenAfter tracks whether a content block is currently open, from
// the SSE event names the translator emits, so the keep-alive loop can
// skip a tick that would otherwise land between an opened block and its
// close (spec.md §4.5.2).
func blockOpenAfter(open bool, eventName string) bool {
	switch eventName {
	case "content_block_start":
		return true
	case "content_block_stop":
		return false
	default:
		return open
	}
}

// messageDeltaStopReason reads stop_reason back out of a message_delta
// SSEEvent's payload. The payload type is package-private to streamx, so
// this goes through its JSON encoding rather than a direct field access.
func messageDeltaStopReason(ev streamx.SSEEvent) (string, bool) {
	if ev.Name != "message_delta" {
		return "", false
	}
	raw, err := json.Marshal(ev.Data)
	if err != nil {
		return "", false
	}
	var body struct {
		Delta struct {
			StopReason string `json:"stop_reason"`
		} `json:"delta"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", false
	}
	return body.Delta.StopReason, true
}

func (s *Server) record(rawBody map[string]any, mode, fingerprint string, access promptcache.AccessResult, backendElapsed, firstByte time.Duration, totalBytes int64, stopReason string, recovered []string, status int) {
	s.sink.Record(tracesink.Record{
		RedactedRequest:  tracesink.Redact(rawBody),
		Mode:             mode,
		Fingerprint:      fingerprint,
		CacheHit:         access.Hit,
		CacheFirstSeen:   access.FirstSeen,
		BackendElapsed:   backendElapsed,
		FirstByteElapsed: firstByte,
		TotalBytes:       totalBytes,
		StopReason:       stopReason,
		RecoverableErrs:  recovered,
		HTTPStatus:       status,
	})
}

func writeError(c *gin.Context, err error) {
	pe, ok := proxyerr.As(err)
	if !ok {
		pe = proxyerr.Wrap(proxyerr.KindInvalidRequest, "unexpected error", err)
	}
	c.JSON(pe.HTTPStatus(), pe.ToBody())
}
