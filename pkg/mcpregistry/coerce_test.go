package mcpregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemapOllamaArgs_DollarKey(t *testing.T) {
	schema := ToolSchema{
		Properties: map[string]PropertySchema{"query": {Type: "string"}},
		Required:   []string{"query"},
	}
	args := map[string]any{"$": "weather"}

	got := RemapOllamaArgs(args, schema, []string{"query"})
	assert.Equal(t, map[string]any{"query": "weather"}, got)
}

func TestRemapOllamaArgs_FallsBackToFirstDeclared(t *testing.T) {
	schema := ToolSchema{
		Properties: map[string]PropertySchema{"a": {Type: "string"}, "b": {Type: "string"}},
	}
	got := RemapOllamaArgs(map[string]any{"$": "x"}, schema, []string{"a", "b"})
	assert.Equal(t, map[string]any{"a": "x"}, got)
}

func TestRemapOllamaArgs_LeavesOtherShapesAlone(t *testing.T) {
	schema := ToolSchema{Properties: map[string]PropertySchema{"query": {Type: "string"}}}
	args := map[string]any{"query": "weather", "extra": "x"}
	got := RemapOllamaArgs(args, schema, []string{"query"})
	assert.Equal(t, args, got)
}

func TestCoerceArgs_StringToArray(t *testing.T) {
	schema := ToolSchema{Properties: map[string]PropertySchema{"tags": {Type: "array"}}}
	got := CoerceArgs(map[string]any{"tags": "solo"}, schema)
	assert.Equal(t, []any{"solo"}, got["tags"])
}

func TestCoerceArgs_StringToNumber(t *testing.T) {
	schema := ToolSchema{Properties: map[string]PropertySchema{"count": {Type: "number"}}}
	got := CoerceArgs(map[string]any{"count": "42"}, schema)
	assert.Equal(t, float64(42), got["count"])
}

func TestCoerceArgs_DropsNullForNonRequired(t *testing.T) {
	schema := ToolSchema{Properties: map[string]PropertySchema{"opt": {Type: "string"}}}
	got := CoerceArgs(map[string]any{"opt": nil}, schema)
	_, present := got["opt"]
	assert.False(t, present)
}

func TestCoerceArgs_EnumCaseInsensitiveMatch(t *testing.T) {
	schema := ToolSchema{Properties: map[string]PropertySchema{
		"color": {Type: "string", Enum: []string{"Red", "Blue"}},
	}}
	got := CoerceArgs(map[string]any{"color": "red"}, schema)
	assert.Equal(t, "Red", got["color"])
}

func TestCoerceArgs_InvalidEnumDropped(t *testing.T) {
	schema := ToolSchema{Properties: map[string]PropertySchema{
		"color": {Type: "string", Enum: []string{"Red", "Blue"}},
	}}
	got := CoerceArgs(map[string]any{"color": "green"}, schema)
	_, present := got["color"]
	assert.False(t, present)
}

func TestIsConnectionError(t *testing.T) {
	assert.True(t, IsConnectionError("write: ECONNRESET"))
	assert.True(t, IsConnectionError("Socket Hang Up"))
	assert.False(t, IsConnectionError("invalid argument: q is required"))
}
