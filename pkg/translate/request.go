package translate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"

	"anthroproxy/internal/backend"
	"anthroproxy/internal/proxyerr"
	"anthroproxy/pkg/schema"
)

// FingerprintPayload is the (system, tools) pair C3 hashes to compute a
// prompt fingerprint (spec.md §3). It carries the original Anthropic tool
// definitions rather than the backend-rewritten OpenAI schema, so the same
// prompt fingerprints identically regardless of which backend capability
// table C1 rewrote its tools against.
type FingerprintPayload struct {
	System string `json:"system"`
	Tools  []Tool `json:"tools"`
}

// RequestResult is everything ToOpenAIRequest produces.
type RequestResult struct {
	Params      openai.ChatCompletionNewParams
	Fingerprint FingerprintPayload
	// CacheableMarkers holds the indices of system blocks marked cacheable
	// (spec.md §3 "cacheable marker positions"). The orchestrator does not
	// read it; its cache attribution uses the Fingerprint payload alone.
	CacheableMarkers []int
	// Warnings records best-effort degradations, e.g. an image block
	// dropped because the backend lacks supportsImages (spec.md §4.2.1
	// rule 2).
	Warnings []string
}

// ToOpenAIRequest implements C2's request-translation direction (spec.md
// §4.2.1).
func ToOpenAIRequest(req Request, caps backend.Capabilities) (RequestResult, error) {
	if req.MaxTokens <= 0 {
		return RequestResult{}, proxyerr.New(proxyerr.KindInvalidRequest, "max_tokens is required")
	}

	result := RequestResult{
		Fingerprint: FingerprintPayload{
			System: req.System.Flattened(),
			Tools:  req.Tools,
		},
	}

	var messages []openai.ChatCompletionMessageParamUnion

	if sys := req.System.Flattened(); sys != "" {
		if caps.NormalizeSystemWhitespace {
			sys = normalizeWhitespace(sys)
		}
		messages = append(messages, openai.SystemMessage(sys))
	}
	for i, b := range req.System.Blocks {
		if b.Cacheable {
			result.CacheableMarkers = append(result.CacheableMarkers, i)
		}
	}

	for _, msg := range req.Messages {
		converted, warnings, err := convertMessage(msg, caps)
		if err != nil {
			return RequestResult{}, err
		}
		messages = append(messages, converted...)
		result.Warnings = append(result.Warnings, warnings...)
	}

	var tools []openai.ChatCompletionToolUnionParam
	if len(req.Tools) > 0 && !caps.SupportsTools {
		result.Warnings = append(result.Warnings, "tools dropped: backend does not support tools")
	} else {
		for _, t := range req.Tools {
			ft, err := schema.Rewrite(schema.Tool{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: t.InputSchema,
			}, caps)
			if err != nil {
				return RequestResult{}, err
			}
			tools = append(tools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
				Name:        ft.Function.Name,
				Description: param.NewOpt(ft.Function.Description),
				Parameters:  openai.FunctionParameters(ft.Function.Parameters),
			}))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: messages,
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	applySamplingParams(&params, req, caps)

	result.Params = params
	return result, nil
}

// applySamplingParams implements rule 5: straightforward passthrough plus
// capability-gated drops, driven by the backend's capability table rather
// than ad-hoc per-field checks.
func applySamplingParams(params *openai.ChatCompletionNewParams, req Request, caps backend.Capabilities) {
	params.MaxTokens = param.NewOpt(req.MaxTokens)
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = param.NewOpt(*req.TopP)
	}
	if len(req.StopSequences) > 0 {
		stopMax := caps.StopWordMax
		seqs := req.StopSequences
		if stopMax > 0 && len(seqs) > stopMax {
			seqs = seqs[:stopMax]
		}
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: seqs}
	}
	// top_k has no OpenAI Chat Completions field; backends that accept it
	// as a vendor extension get it as an extra top-level JSON field the
	// same way the teacher passes reasoning_content through
	// SetExtraFields, gated by caps.DropTopK for backends that reject
	// unrecognized fields outright.
	if req.TopK != nil && !caps.DropTopK {
		params.SetExtraFields(map[string]any{"top_k": *req.TopK})
	}
}

// normalizeWhitespace collapses runs of newlines/tabs/spaces into single
// spaces. Some backends mishandle literal newlines in a system message; the
// capability table gates this per-backend rather than applying it
// unconditionally, since it is a backend quirk, not a protocol requirement.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// convertMessage implements rules 2 and 3: one Anthropic turn fans out into
// one or more OpenAI messages.
func convertMessage(msg Message, caps backend.Capabilities) ([]openai.ChatCompletionMessageParamUnion, []string, error) {
	switch msg.Role {
	case "user":
		return convertUserMessage(msg, caps)
	case "assistant":
		return convertAssistantMessage(msg)
	default:
		return nil, nil, proxyerr.Newf(proxyerr.KindInvalidRequest, "unrecognized message role %q", msg.Role)
	}
}

func convertUserMessage(msg Message, caps backend.Capabilities) ([]openai.ChatCompletionMessageParamUnion, []string, error) {
	if msg.Content.IsPlainText() {
		return []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(msg.Content.FlattenedText()),
		}, nil, nil
	}

	var toolResults []ContentBlock
	var parts []openai.ChatCompletionContentPartUnionParam
	var warnings []string

	for _, b := range msg.Content.Blocks {
		switch b.Type {
		case "text":
			parts = append(parts, openai.TextContentPart(b.Text))
		case "image":
			if !caps.SupportsImages {
				warnings = append(warnings, "image block dropped: backend does not support images")
				continue
			}
			parts = append(parts, imageContentPart(b))
		case "tool_result":
			if b.ToolUseID == "" {
				return nil, nil, proxyerr.New(proxyerr.KindInvalidRequest, "tool_result missing tool_use_id")
			}
			toolResults = append(toolResults, b)
		}
	}

	var out []openai.ChatCompletionMessageParamUnion
	if len(parts) > 0 {
		out = append(out, openai.ChatCompletionMessageParamUnion{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfArrayOfContentParts: parts,
				},
			},
		})
	}
	// Rule 3: tool_result blocks become a contiguous group of tool messages,
	// in order, immediately following whatever precedes them.
	for _, tr := range toolResults {
		out = append(out, openai.ToolMessage(renderToolResultContent(tr), tr.ToolUseID))
	}
	return out, warnings, nil
}

// renderToolResultContent stringifies a tool_result block's content: text
// blocks are concatenated, arrays/objects are JSON-stringified (rule 2).
// is_error results still render as ordinary tool messages — error
// signaling is carried in content, not role.
func renderToolResultContent(b ContentBlock) string {
	if len(b.Content) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(b.Content, &asString); err == nil {
		return asString
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(b.Content, &blocks); err == nil {
		out := ""
		for _, cb := range blocks {
			if cb.Type == "text" {
				out += cb.Text
			}
		}
		return out
	}
	return string(b.Content)
}

func convertAssistantMessage(msg Message) ([]openai.ChatCompletionMessageParamUnion, []string, error) {
	if msg.Content.IsPlainText() {
		return []openai.ChatCompletionMessageParamUnion{
			openai.AssistantMessage(msg.Content.FlattenedText()),
		}, nil, nil
	}

	var text string
	var toolCalls []openai.ChatCompletionMessageToolCallUnionParam

	for _, b := range msg.Content.Blocks {
		switch b.Type {
		case "text":
			text += b.Text
		case "tool_use":
			if len(b.Input) > 0 {
				var obj map[string]any
				if err := json.Unmarshal(b.Input, &obj); err != nil {
					return nil, nil, proxyerr.Newf(proxyerr.KindInvalidRequest, "tool_use %q input is not a JSON object", b.ID)
				}
			}
			toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallUnionParam{
				OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
					ID: b.ID,
					Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      b.Name,
						Arguments: string(b.Input),
					},
				},
			})
		}
	}

	assistant := &openai.ChatCompletionAssistantMessageParam{}
	if text != "" {
		assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: param.NewOpt(text),
		}
	}
	if len(toolCalls) > 0 {
		assistant.ToolCalls = toolCalls
	}

	return []openai.ChatCompletionMessageParamUnion{{OfAssistant: assistant}}, nil, nil
}

func imageContentPart(b ContentBlock) openai.ChatCompletionContentPartUnionParam {
	if b.Source == nil {
		return openai.TextContentPart("")
	}
	url := b.Source.URL
	if b.Source.Type == "base64" {
		url = fmt.Sprintf("data:%s;base64,%s", b.Source.MediaType, b.Source.Data)
	}
	return openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url})
}
