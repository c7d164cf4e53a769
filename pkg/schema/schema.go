// Package schema implements the Schema Rewriter (C1): turning an Anthropic
// tool's input_schema into an OpenAI function's parameters schema, resolving
// the handful of JSON Schema constructs backends disagree on.
package schema

import (
	"encoding/json"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"anthroproxy/internal/backend"
	"anthroproxy/internal/proxyerr"
)

// Tool is the Anthropic-side tool definition the rewriter consumes.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Function is the OpenAI-side function body produced by Rewrite.
type Function struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// FunctionTool is the top-level OpenAI tool wrapper (spec.md §4.1 rule 1).
type FunctionTool struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

// standardKeywords lists the JSON Schema vocabulary kept even when
// simplifySchemas is set; everything else is a "vendor-specific keyword"
// under spec.md §4.1 rule 4.
var standardKeywords = map[string]bool{
	"type": true, "properties": true, "items": true, "required": true,
	"enum": true, "description": true, "default": true, "format": true,
	"additionalProperties": true, "oneOf": true, "anyOf": true, "allOf": true,
	"not": true, "minimum": true, "maximum": true, "minLength": true,
	"maxLength": true, "pattern": true, "minItems": true, "maxItems": true,
	"uniqueItems": true, "const": true, "title": true, "$ref": true,
	"$defs": true, "definitions": true, "multipleOf": true,
	"exclusiveMinimum": true, "exclusiveMaximum": true,
}

// maxRefDepth bounds $ref resolution so a cyclic document can't recurse
// forever; Anthropic tool schemas are shallow by construction.
const maxRefDepth = 32

// Rewrite applies spec.md §4.1's rules in order and returns a deterministic
// OpenAI function tool. Same input and capability set always produce
// byte-identical Parameters when re-marshaled.
func Rewrite(tool Tool, caps backend.Capabilities) (FunctionTool, error) {
	if strings.TrimSpace(tool.Name) == "" {
		return FunctionTool{}, proxyerr.New(proxyerr.KindInvalidSchema, "tool name is missing")
	}

	raw := tool.InputSchema
	if len(raw) == 0 {
		raw = []byte(`{}`)
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return FunctionTool{}, proxyerr.New(proxyerr.KindInvalidSchema, "input_schema is not a JSON object")
	}

	rewritten := rewriteNode(root, root, caps, 0)
	node, ok := rewritten.(map[string]any)
	if !ok {
		return FunctionTool{}, proxyerr.New(proxyerr.KindInvalidSchema, "input_schema is not a JSON object")
	}

	// Rule 2: root must have a type.
	if _, hasType := node["type"]; !hasType {
		node["type"] = "object"
	}

	// Rule 3: additionalProperties re-added at the root if missing, gated on
	// the backend's strictAdditionalProperties flag.
	if caps.StrictAdditionalProperties {
		if _, has := node["additionalProperties"]; !has {
			node["additionalProperties"] = false
		}
	}

	params, err := canonicalize(node)
	if err != nil {
		return FunctionTool{}, proxyerr.Wrap(proxyerr.KindInvalidSchema, "failed to canonicalize rewritten schema", err)
	}
	if err := validateStructure(params); err != nil {
		return FunctionTool{}, proxyerr.Wrap(proxyerr.KindInvalidSchema, "rewritten schema failed structural validation", err)
	}

	return FunctionTool{
		Type: "function",
		Function: Function{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  params,
		},
	}, nil
}

// rewriteNode walks a gjson node, applying $ref inlining, oneOf/anyOf
// flattening, format stripping, and vendor-keyword dropping, and returns a
// plain Go value (map[string]any / []any / scalar) ready for canonical
// marshaling.
func rewriteNode(root, node gjson.Result, caps backend.Capabilities, depth int) any {
	switch {
	case node.IsObject():
		if ref := node.Get(`$ref`); ref.Exists() && depth < maxRefDepth {
			if resolved, ok := resolveRef(root, ref.String()); ok {
				merged := rewriteNode(root, resolved, caps, depth+1)
				if mm, ok := merged.(map[string]any); ok {
					// Sibling keys beside $ref (rare but legal) win over the
					// resolved definition.
					node.ForEach(func(key, value gjson.Result) bool {
						if key.String() == "$ref" {
							return true
						}
						mm[key.String()] = rewriteNode(root, value, caps, depth+1)
						return true
					})
					return mm
				}
				return merged
			}
		}

		out := map[string]any{}
		node.ForEach(func(key, value gjson.Result) bool {
			k := key.String()
			if caps.SimplifySchemas && !standardKeywords[k] {
				return true
			}
			if k == "properties" && value.IsObject() {
				// Property names are the tool's own field names, not schema
				// keywords: each property's schema is rewritten, the names
				// are kept as they are.
				props := map[string]any{}
				value.ForEach(func(pk, pv gjson.Result) bool {
					props[pk.String()] = rewriteNode(root, pv, caps, depth+1)
					return true
				})
				out[k] = props
				return true
			}
			out[k] = rewriteNode(root, value, caps, depth+1)
			return true
		})

		flattenSingleBranch(out, "oneOf")
		flattenSingleBranch(out, "anyOf")
		stripFormatOnNonString(out)
		return out

	case node.IsArray():
		arr := make([]any, 0)
		node.ForEach(func(_, value gjson.Result) bool {
			arr = append(arr, rewriteNode(root, value, caps, depth+1))
			return true
		})
		return arr

	default:
		return node.Value()
	}
}

// flattenSingleBranch implements rule 3's "oneOf/anyOf with a single branch
// flattened": a single-element oneOf/anyOf is replaced by merging its one
// branch's keys into the enclosing schema object.
func flattenSingleBranch(node map[string]any, key string) {
	branches, ok := node[key].([]any)
	if !ok || len(branches) != 1 {
		return
	}
	branch, ok := branches[0].(map[string]any)
	if !ok {
		return
	}
	delete(node, key)
	for k, v := range branch {
		if _, exists := node[k]; !exists {
			node[k] = v
		}
	}
}

// stripFormatOnNonString implements rule 3's "format on non-string types
// removed".
func stripFormatOnNonString(node map[string]any) {
	t, hasType := node["type"]
	if !hasType {
		return
	}
	if ts, ok := t.(string); ok && ts != "string" {
		delete(node, "format")
	}
}

// resolveRef resolves a local "#/a/b/c" pointer against root. Remote and
// non-local references are left unresolved (returned ok=false), which
// preserves the original $ref rather than silently dropping it.
func resolveRef(root gjson.Result, ref string) (gjson.Result, bool) {
	if !strings.HasPrefix(ref, "#/") {
		return gjson.Result{}, false
	}
	parts := strings.Split(strings.TrimPrefix(ref, "#/"), "/")
	for i, p := range parts {
		parts[i] = unescapeJSONPointer(p)
	}
	path := strings.Join(parts, ".")
	resolved := root.Get(path)
	if !resolved.Exists() {
		return gjson.Result{}, false
	}
	return resolved, true
}

func unescapeJSONPointer(tok string) string {
	tok = strings.ReplaceAll(tok, "~1", "/")
	tok = strings.ReplaceAll(tok, "~0", "~")
	return tok
}

// canonicalize produces a byte-identical-on-repeat-input representation:
// encoding/json.Marshal sorts map keys, and pretty.Ugly strips any
// incidental whitespace so two logically equal trees serialize to the same
// bytes regardless of how they were built.
func canonicalize(node map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(node)
	if err != nil {
		return nil, err
	}
	compact := pretty.Ugly(raw)
	var out map[string]any
	if err := json.Unmarshal(compact, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// validateStructure confirms the rewritten schema is well-formed JSON
// Schema before it's handed to a backend.
func validateStructure(params map[string]any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	var js jsonschema.Schema
	if err := json.Unmarshal(raw, &js); err != nil {
		return err
	}
	_, err = js.Resolve(nil)
	return err
}
