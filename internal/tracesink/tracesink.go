// Package tracesink implements the TraceSink collaborator (spec.md §6,
// §4.5.5): one structured record per request, written the way the teacher
// writes its own operational logs — logrus, optionally rotated to disk via
// lumberjack.
package tracesink

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Record is the structured observability record spec.md §4.5.5 requires
// per request.
type Record struct {
	RedactedRequest  map[string]any
	Mode             string // "translate" | "passthrough"
	Fingerprint      string
	CacheHit         bool
	CacheFirstSeen   bool
	BackendElapsed   time.Duration
	FirstByteElapsed time.Duration
	TotalBytes       int64
	StopReason       string
	RecoverableErrs  []string
	HTTPStatus       int
}

// TraceSink records one Record per request. Implementations must not block
// the request path for long; the file-backed sink writes each record
// synchronously through logrus to the lumberjack file writer.
type TraceSink interface {
	Record(r Record)
}

// noop discards every record; used in tests and when no sink is
// configured.
type noop struct{}

// Noop returns a TraceSink that discards everything.
func Noop() TraceSink { return noop{} }

func (noop) Record(Record) {}

// logrusSink writes each Record as one structured logrus entry.
type logrusSink struct {
	logger *logrus.Logger
}

// NewStderr returns a TraceSink that writes JSON records to stderr.
func NewStderr() TraceSink {
	return newLogrusSink(os.Stderr)
}

// NewFile returns a TraceSink that writes JSON records to a
// lumberjack-rotated file at path, following the same rotation defaults
// (100MB/backups=5/age=28 days) the teacher uses for its own log files.
func NewFile(path string) TraceSink {
	return newLogrusSink(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	})
}

func newLogrusSink(w io.Writer) *logrusSink {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetOutput(w)
	return &logrusSink{logger: l}
}

func (s *logrusSink) Record(r Record) {
	entry := s.logger.WithFields(logrus.Fields{
		"mode":               r.Mode,
		"fingerprint":        r.Fingerprint,
		"cache_hit":          r.CacheHit,
		"cache_first_seen":   r.CacheFirstSeen,
		"backend_elapsed_ms": r.BackendElapsed.Milliseconds(),
		"first_byte_ms":      r.FirstByteElapsed.Milliseconds(),
		"total_bytes":        r.TotalBytes,
		"stop_reason":        r.StopReason,
		"http_status":        r.HTTPStatus,
	})
	if len(r.RecoverableErrs) > 0 {
		entry = entry.WithField("recoverable_errors", r.RecoverableErrs)
	}
	if r.RedactedRequest != nil {
		entry = entry.WithField("request", r.RedactedRequest)
	}
	entry.Info("proxy request")
}

// Redact strips sensitive fields before a request body reaches the trace
// sink: the top-level "messages" and "system" fields are replaced whole by
// a "<redacted>" placeholder, and every other top-level field is kept
// unchanged.
func Redact(body map[string]any) map[string]any {
	redacted := map[string]any{}
	for k, v := range body {
		switch k {
		case "messages", "system":
			redacted[k] = "<redacted>"
		default:
			redacted[k] = v
		}
	}
	return redacted
}
