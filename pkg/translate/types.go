// Package translate implements the Message Translator (C2): Anthropic
// request → OpenAI request, and OpenAI non-streaming response → Anthropic
// message. The Anthropic-side wire shapes are modeled as package-local
// structs (spec.md §3) rather than anthropic-sdk-go's param types, because
// C2's input/output here is the spec's own documented shape, not a
// passthrough of the SDK — the same reasoning the teacher applies when it
// builds Anthropic SSE payloads as plain maps in its non-beta stream
// handler instead of reusing SDK structs.
package translate

import "encoding/json"

// Request is the recognized subset of an Anthropic messages request
// (spec.md §3).
type Request struct {
	Model         string          `json:"model"`
	System        SystemField     `json:"system,omitempty"`
	Messages      []Message       `json:"messages"`
	Tools         []Tool          `json:"tools,omitempty"`
	MaxTokens     int64           `json:"max_tokens"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int64          `json:"top_k,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// SystemField holds either a plain string or an ordered sequence of text
// blocks, some possibly marked cacheable (spec.md §3).
type SystemField struct {
	Text   string
	Blocks []SystemBlock
}

// SystemBlock is one element of a block-form system field.
type SystemBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Cacheable bool   `json:"-"`
}

// UnmarshalJSON accepts either a JSON string or an array of
// {type,text,cache_control} objects.
func (s *SystemField) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		s.Text = str
		return nil
	}
	var raw []struct {
		Type         string `json:"type"`
		Text         string `json:"text"`
		CacheControl *struct {
			Type string `json:"type"`
		} `json:"cache_control"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Blocks = make([]SystemBlock, 0, len(raw))
	for _, b := range raw {
		s.Blocks = append(s.Blocks, SystemBlock{
			Type:      b.Type,
			Text:      b.Text,
			Cacheable: b.CacheControl != nil && b.CacheControl.Type == "ephemeral",
		})
	}
	return nil
}

// Flattened concatenates the system field into one string, in order
// (spec.md §4.2.1 rule 1).
func (s SystemField) Flattened() string {
	if len(s.Blocks) == 0 {
		return s.Text
	}
	out := ""
	for _, b := range s.Blocks {
		out += b.Text
	}
	return out
}

// Message is one Anthropic conversation turn.
type Message struct {
	Role    string       `json:"role"`
	Content ContentField `json:"content"`
}

// ContentField holds either a plain string or an ordered sequence of
// content blocks.
type ContentField struct {
	Text   string
	Blocks []ContentBlock
}

func (c *ContentField) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		c.Text = str
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	c.Blocks = blocks
	return nil
}

// IsPlainText reports whether this field is a bare string, or block-form
// content that is entirely text blocks (spec.md §4.2.1 rule 2).
func (c ContentField) IsPlainText() bool {
	if c.Blocks == nil {
		return true
	}
	for _, b := range c.Blocks {
		if b.Type != "text" {
			return false
		}
	}
	return true
}

// FlattenedText concatenates all text blocks (or returns the bare string).
func (c ContentField) FlattenedText() string {
	if c.Blocks == nil {
		return c.Text
	}
	out := ""
	for _, b := range c.Blocks {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

// ContentBlock is one Anthropic content block of any kind (spec.md §3).
// Fields irrelevant to a given Type are left zero.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`

	// tool_use (assistant only)
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result (user only)
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ImageSource is an Anthropic image content block's source descriptor.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Tool is an Anthropic tool definition (spec.md §3).
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Response is the non-streaming Anthropic message response (spec.md §3,
// §4.2.2).
type Response struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence,omitempty"`
	Usage        Usage          `json:"usage"`
}

// Usage carries token accounting, including cache attribution filled in by
// the prompt cache (spec.md §4.2.2 rule 3, §4.3).
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens,omitempty"`
}
