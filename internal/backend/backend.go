// Package backend holds the Backend/Capabilities collaborator types
// (spec.md §6) THE CORE is instantiated against, plus the two client
// implementations (OpenAI chat, Anthropic passthrough) that satisfy them.
//
// Capability defaults follow the design note in spec.md §9: a fixed record
// with every flag present and defaulted, rather than a dynamic key/value
// bag, so "did the caller check this flag?" is never ambiguous.
package backend

import "time"

// APIStyle selects which wire protocol a Backend natively speaks.
type APIStyle string

const (
	APIStyleOpenAI    APIStyle = "openai"
	APIStyleAnthropic APIStyle = "anthropic"
)

// Capabilities is the fixed-shape capability record from spec.md §6.
type Capabilities struct {
	SupportsImages             bool
	SupportsTools              bool
	SimplifySchemas            bool
	StrictAdditionalProperties bool
	DropTopK                   bool
	NormalizeSystemWhitespace  bool
	StopWordMax                int
	KeepaliveInterval          time.Duration
	InactivityTimeout          time.Duration
	TerminalTimeout            time.Duration
	DeferredCloseTimeout       time.Duration
}

// DefaultCapabilities returns the documented defaults (spec.md §4.4.3,
// §4.5.2, §4.5.3, §5): 30s inactivity, 60s terminal, 10s keepalive, 5s
// deferred-close, unlimited stop words, tool/image support on, schema
// passthrough.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		SupportsImages:             true,
		SupportsTools:              true,
		SimplifySchemas:            false,
		StrictAdditionalProperties: false,
		DropTopK:                   true,
		NormalizeSystemWhitespace:  false,
		StopWordMax:                0, // 0 means "no limit enforced"
		KeepaliveInterval:          10 * time.Second,
		InactivityTimeout:          30 * time.Second,
		TerminalTimeout:            60 * time.Second,
		DeferredCloseTimeout:       5 * time.Second,
	}
}

// WithDefaults fills any zero-valued duration field in c with the
// documented default, so a partially-specified capability override (as
// loaded from config) never leaves a timeout unset. Boolean flags and
// StopWordMax are left exactly as given.
func (c Capabilities) WithDefaults() Capabilities {
	d := DefaultCapabilities()
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = d.KeepaliveInterval
	}
	if c.InactivityTimeout == 0 {
		c.InactivityTimeout = d.InactivityTimeout
	}
	if c.TerminalTimeout == 0 {
		c.TerminalTimeout = d.TerminalTimeout
	}
	if c.DeferredCloseTimeout == 0 {
		c.DeferredCloseTimeout = d.DeferredCloseTimeout
	}
	return c
}

// Descriptor is the Backend collaborator (spec.md §6): id, base URL, auth,
// capabilities, plus the API style that decides translate-vs-passthrough
// routing in the orchestrator (spec.md §4.5.1 rule 2).
type Descriptor struct {
	ID           string
	BaseURL      string
	Auth         string
	APIStyle     APIStyle
	Capabilities Capabilities
}
