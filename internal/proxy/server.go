// Package proxy implements the Proxy Orchestrator (C5): HTTP intake,
// mode selection, keep-alive/backpressure SSE writing, cancellation, and
// the observability hook around C1-C4.
package proxy

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"anthroproxy/internal/backend"
	"anthroproxy/internal/promptcache"
	"anthroproxy/internal/tracesink"
)

// Server wires the translator stack to HTTP. One Server serves exactly
// one backend; the serve command builds one Server per configured backend
// and mounts each under its own "/<backend id>" route group, so the
// request path picks the backend (where the teacher's single Server picks
// a provider per request from its own registry).
type Server struct {
	backend backend.Descriptor
	cache   *promptcache.Cache
	sink    tracesink.TraceSink
	tracer  trace.Tracer

	openaiClient    *backend.OpenAIClient
	anthropicClient *backend.AnthropicClient
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithTraceSink overrides the default no-op trace sink.
func WithTraceSink(sink tracesink.TraceSink) Option {
	return func(s *Server) { s.sink = sink }
}

// WithTracer overrides the default no-op OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

// NewServer constructs a Server bound to a single backend descriptor.
func NewServer(desc backend.Descriptor, cache *promptcache.Cache, opts ...Option) *Server {
	s := &Server{
		backend: desc,
		cache:   cache,
		sink:    tracesink.Noop(),
		tracer:  noop.NewTracerProvider().Tracer("anthroproxy"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if desc.APIStyle == backend.APIStyleAnthropic {
		s.anthropicClient = backend.NewAnthropicClient(desc)
	} else {
		s.openaiClient = backend.NewOpenAIClient(desc)
	}
	return s
}

// RegisterRoutes wires the Anthropic-compatible surface (spec.md §6) onto
// r. r is a gin.IRouter rather than *gin.Engine so callers can mount a
// Server under a sub-path group as well as directly on the engine.
func (s *Server) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/messages", s.handleMessages)
	r.POST("/v1/messages/count_tokens", s.handleCountTokens)
	r.GET("/healthz", s.handleHealth)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
