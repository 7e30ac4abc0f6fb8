package mcpregistry

import (
	"sort"
	"strconv"
	"strings"
)

// RemapOllamaArgs applies the Ollama-quirk remap: if arguments is
// exactly {"$": value}, the single "$" key is substituted
// with the schema's first required property (or first declared property
// if none are required). declOrder must reflect the schema's declaration
// order (map iteration in Go is unordered, so callers retain it
// separately, e.g. from the raw schema's property list before decoding
// into a map). Any other shape of args is returned unchanged.
func RemapOllamaArgs(args map[string]any, schema ToolSchema, declOrder []string) map[string]any {
	if len(args) != 1 {
		return args
	}
	v, ok := args["$"]
	if !ok {
		return args
	}
	target, ok := schema.FirstRequiredOrDeclared(declOrder)
	if !ok {
		return args
	}
	return map[string]any{target: v}
}

// CoerceArgs validates and coerces arguments against the preserved
// schema, returning a fresh map (the input is never mutated in place,
// consistent with NormalizeSchema's no-aliasing rule).
func CoerceArgs(args map[string]any, schema ToolSchema) map[string]any {
	out := make(map[string]any, len(args))
	for name, v := range args {
		prop, known := schema.Properties[name]
		if !known {
			out[name] = v
			continue
		}
		cv, keep := coerceValue(v, prop)
		if !keep {
			if schema.IsRequired(name) {
				out[name] = v
			}
			continue
		}
		out[name] = cv
	}
	return out
}

func coerceValue(v any, prop PropertySchema) (any, bool) {
	if v == nil {
		return nil, false
	}

	switch prop.Type {
	case "array":
		if arr, ok := v.([]any); ok {
			return arr, true
		}
		// wrap a single value when the schema demands an array.
		return []any{v}, true
	case "number":
		switch x := v.(type) {
		case float64:
			return x, true
		case int:
			return float64(x), true
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return v, false
			}
			return f, true
		default:
			return v, false
		}
	}

	if len(prop.Enum) > 0 {
		s, ok := v.(string)
		if !ok {
			return v, false
		}
		for _, e := range prop.Enum {
			if strings.EqualFold(e, s) {
				return e, true
			}
		}
		// invalid enum value: drop so the schema default applies.
		return v, false
	}

	return v, true
}

// connectionErrorKeywords is the fixed, case-insensitive keyword set
// matched against an error's message (and, where the transport exposes
// one, its code) to distinguish a connection-level failure (worth a
// reconnect-and-retry) from an application-level MCPToolError (never
// retried).
var connectionErrorKeywords = []string{
	"connection closed",
	"connection reset",
	"socket hang up",
	"broken pipe",
	"transport error",
	"cannot call write after a stream was destroyed",
	"econnreset",
	"econnrefused",
	"network connection lost",
	"read epipe",
}

// IsConnectionError reports whether msg matches the fixed keyword set,
// case-insensitively.
func IsConnectionError(msg string) bool {
	lower := strings.ToLower(msg)
	for _, kw := range connectionErrorKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// SortedKeys returns m's keys sorted, a stable declaration-order stand-in
// where the caller has lost the original order (e.g. reading properties
// back out of a map[string]PropertySchema for RemapOllamaArgs).
func SortedKeys(m map[string]PropertySchema) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
