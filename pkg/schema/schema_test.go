package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anthroproxy/internal/backend"
)

func TestRewrite_InsertsMissingType(t *testing.T) {
	tool := Tool{
		Name:        "get_weather",
		Description: "look up the weather",
		InputSchema: json.RawMessage(`{"properties":{"city":{"type":"string"}}}`),
	}
	ft, err := Rewrite(tool, backend.DefaultCapabilities())
	require.NoError(t, err)
	assert.Equal(t, "function", ft.Type)
	assert.Equal(t, "get_weather", ft.Function.Name)
	assert.Equal(t, "object", ft.Function.Parameters["type"])
}

func TestRewrite_FlattensSingleBranchOneOf(t *testing.T) {
	tool := Tool{
		Name: "search",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"oneOf": [{"type": "string", "minLength": 1}]}
			}
		}`),
	}
	ft, err := Rewrite(tool, backend.DefaultCapabilities())
	require.NoError(t, err)
	props := ft.Function.Parameters["properties"].(map[string]any)
	query := props["query"].(map[string]any)
	assert.Equal(t, "string", query["type"])
	assert.EqualValues(t, 1, query["minLength"])
	_, hasOneOf := query["oneOf"]
	assert.False(t, hasOneOf)
}

func TestRewrite_StripsFormatOnNonString(t *testing.T) {
	tool := Tool{
		Name: "count",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"n": {"type": "integer", "format": "int64"}
			}
		}`),
	}
	ft, err := Rewrite(tool, backend.DefaultCapabilities())
	require.NoError(t, err)
	props := ft.Function.Parameters["properties"].(map[string]any)
	n := props["n"].(map[string]any)
	_, hasFormat := n["format"]
	assert.False(t, hasFormat)
}

func TestRewrite_KeepsFormatOnString(t *testing.T) {
	tool := Tool{
		Name: "lookup",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"when": {"type": "string", "format": "date-time"}
			}
		}`),
	}
	ft, err := Rewrite(tool, backend.DefaultCapabilities())
	require.NoError(t, err)
	props := ft.Function.Parameters["properties"].(map[string]any)
	when := props["when"].(map[string]any)
	assert.Equal(t, "date-time", when["format"])
}

func TestRewrite_ReaddsAdditionalPropertiesWhenStrict(t *testing.T) {
	caps := backend.DefaultCapabilities()
	caps.StrictAdditionalProperties = true

	tool := Tool{
		Name:        "strict_tool",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	}
	ft, err := Rewrite(tool, caps)
	require.NoError(t, err)
	assert.Equal(t, false, ft.Function.Parameters["additionalProperties"])
}

func TestRewrite_PreservesExistingAdditionalProperties(t *testing.T) {
	caps := backend.DefaultCapabilities()
	caps.StrictAdditionalProperties = true

	tool := Tool{
		Name:        "explicit_tool",
		InputSchema: json.RawMessage(`{"type":"object","additionalProperties":true}`),
	}
	ft, err := Rewrite(tool, caps)
	require.NoError(t, err)
	assert.Equal(t, true, ft.Function.Parameters["additionalProperties"])
}

func TestRewrite_DropsVendorKeywordsWhenSimplified(t *testing.T) {
	caps := backend.DefaultCapabilities()
	caps.SimplifySchemas = true

	tool := Tool{
		Name: "vendor_tool",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"x-vendor-hint": "ignore me",
			"properties": {"a": {"type": "string"}}
		}`),
	}
	ft, err := Rewrite(tool, caps)
	require.NoError(t, err)
	_, hasVendor := ft.Function.Parameters["x-vendor-hint"]
	assert.False(t, hasVendor)
}

func TestRewrite_KeepsVendorKeywordsByDefault(t *testing.T) {
	tool := Tool{
		Name: "vendor_tool",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"x-vendor-hint": "keep me"
		}`),
	}
	ft, err := Rewrite(tool, backend.DefaultCapabilities())
	require.NoError(t, err)
	assert.Equal(t, "keep me", ft.Function.Parameters["x-vendor-hint"])
}

func TestRewrite_ResolvesLocalRef(t *testing.T) {
	tool := Tool{
		Name: "defs_tool",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"$defs": {"city": {"type": "string", "minLength": 2}},
			"properties": {"location": {"$ref": "#/$defs/city"}}
		}`),
	}
	ft, err := Rewrite(tool, backend.DefaultCapabilities())
	require.NoError(t, err)
	props := ft.Function.Parameters["properties"].(map[string]any)
	location := props["location"].(map[string]any)
	assert.Equal(t, "string", location["type"])
	assert.EqualValues(t, 2, location["minLength"])
}

func TestRewrite_DeterministicOutput(t *testing.T) {
	tool := Tool{
		Name:        "repeat",
		Description: "same in, same out",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"b":{"type":"string"},"a":{"type":"number"}}}`),
	}
	caps := backend.DefaultCapabilities()

	first, err := Rewrite(tool, caps)
	require.NoError(t, err)
	second, err := Rewrite(tool, caps)
	require.NoError(t, err)

	firstBytes, err := json.Marshal(first.Function.Parameters)
	require.NoError(t, err)
	secondBytes, err := json.Marshal(second.Function.Parameters)
	require.NoError(t, err)
	assert.Equal(t, firstBytes, secondBytes)
}

func TestRewrite_RejectsMissingName(t *testing.T) {
	tool := Tool{InputSchema: json.RawMessage(`{"type":"object"}`)}
	_, err := Rewrite(tool, backend.DefaultCapabilities())
	require.Error(t, err)
}

func TestRewrite_RejectsNonObjectSchema(t *testing.T) {
	tool := Tool{Name: "bad", InputSchema: json.RawMessage(`["not", "an", "object"]`)}
	_, err := Rewrite(tool, backend.DefaultCapabilities())
	require.Error(t, err)
}
