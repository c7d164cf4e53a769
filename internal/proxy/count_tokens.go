package proxy

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/gin-gonic/gin"

	"anthroproxy/internal/backend"
	"anthroproxy/internal/promptcache"
	"anthroproxy/internal/proxyerr"
	"anthroproxy/pkg/translate"
)

// handleCountTokens implements the supplemented count_tokens endpoint
// (SPEC_FULL.md §3): for an Anthropic-style backend it forwards to the
// real endpoint; for an OpenAI-compatible backend, which has no token
// counting endpoint of its own, it runs the same request translation path
// C2 would and reports the prompt cache's character-count/4 estimate
// (spec.md §4.3) as the input token count.
func (s *Server) handleCountTokens(c *gin.Context) {
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, proxyerr.Wrap(proxyerr.KindInvalidRequest, "failed to read request body", err))
		return
	}

	if s.backend.APIStyle == backend.APIStyleAnthropic {
		var params anthropic.MessageCountTokensParams
		if err := json.Unmarshal(bodyBytes, &params); err != nil {
			writeError(c, proxyerr.Wrap(proxyerr.KindInvalidRequest, "request does not match the count_tokens schema", err))
			return
		}
		count, err := s.anthropicClient.MessagesCountTokens(c.Request.Context(), params)
		if err != nil {
			writeError(c, proxyerr.Wrap(proxyerr.KindBackendUnavailable, "count_tokens call failed", err))
			return
		}
		c.JSON(http.StatusOK, count)
		return
	}

	var req translate.Request
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		writeError(c, proxyerr.Wrap(proxyerr.KindInvalidRequest, "request does not match the messages schema", err))
		return
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = 1 // count_tokens carries no max_tokens of its own
	}

	result, err := translate.ToOpenAIRequest(req, s.backend.Capabilities)
	if err != nil {
		writeError(c, err)
		return
	}

	estimated := promptcache.EstimateTokens(result.Fingerprint.System)
	for _, t := range result.Fingerprint.Tools {
		estimated += promptcache.EstimateTokens(t.Name + t.Description + string(t.InputSchema))
	}
	for _, m := range req.Messages {
		estimated += promptcache.EstimateTokens(m.Content.FlattenedText())
	}

	c.JSON(http.StatusOK, gin.H{"input_tokens": estimated})
}
