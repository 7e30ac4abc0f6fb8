package mcpregistry

import (
	"encoding/json"
	"strings"
)

// PropertySchema is the normalized-schema representation the
// normalization algorithm operates on. Runtime argument coercion needs
// to read enum/items/minimum/maximum back out of the stored schema, so
// normalization builds this explicit type rather than round-tripping
// through a full JSON-schema model carrying fields the providers reject.
type PropertySchema struct {
	Type        string // normalized: "string", "number", "boolean", "array", "object"
	Description string
	Enum        []string
	Items       *PropertySchema
	Minimum     *float64
	Maximum     *float64
}

// ToolSchema is the normalized input schema stored on a ToolCacheEntry.
type ToolSchema struct {
	Properties map[string]PropertySchema
	Required   []string
}

// NormalizeSchema minimizes a raw MCP tool input schema (decoded JSON,
// as produced by mcp.ToolInputSchema.MarshalJSON + json.Unmarshal into
// map[string]any) down to the property set LLM providers accept,
// keeping type/description/enum/items/minimum/maximum and collapsing
// integer to number. The result is always a fresh value: no slice or
// map is shared with raw, so later cache mutation can never alias back
// into a caller's decoded schema.
func NormalizeSchema(raw map[string]any) ToolSchema {
	out := ToolSchema{Properties: map[string]PropertySchema{}}

	rawProps, _ := raw["properties"].(map[string]any)
	for name, v := range rawProps {
		propMap, ok := v.(map[string]any)
		if !ok {
			continue
		}
		out.Properties[name] = normalizeProperty(propMap)
	}

	// required arrives as []any from a JSON decode, or as []string when
	// re-normalizing a schema this package itself rendered.
	switch rawRequired := raw["required"].(type) {
	case []any:
		for _, r := range rawRequired {
			if s, ok := r.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	case []string:
		out.Required = append(out.Required, rawRequired...)
	}
	return out
}

func normalizeProperty(raw map[string]any) PropertySchema {
	p := PropertySchema{Type: "string"}

	if t, ok := raw["type"].(string); ok && t != "" {
		p.Type = t
	}
	// step 3: collapse integer to number.
	if p.Type == "integer" {
		p.Type = "number"
	}

	if d, ok := raw["description"].(string); ok {
		p.Description = d
	}

	if enumRaw, ok := raw["enum"].([]any); ok {
		for _, e := range enumRaw {
			if s, ok := e.(string); ok {
				p.Enum = append(p.Enum, s)
			}
		}
	}

	if p.Type == "array" {
		items := &PropertySchema{Type: "string"}
		if itemsRaw, ok := raw["items"].(map[string]any); ok {
			if it, ok := itemsRaw["type"].(string); ok && isSimpleType(it) {
				items.Type = it
				if items.Type == "integer" {
					items.Type = "number"
				}
			}
		}
		p.Items = items
	} else if itemsRaw, ok := raw["items"].(map[string]any); ok {
		items := normalizeProperty(itemsRaw)
		p.Items = &items
	}

	if minRaw, ok := raw["minimum"]; ok {
		if m, ok := toFloat(minRaw); ok {
			p.Minimum = &m
		}
	}
	if maxRaw, ok := raw["maximum"]; ok {
		if m, ok := toFloat(maxRaw); ok {
			p.Maximum = &m
		}
	}
	return p
}

func isSimpleType(t string) bool {
	switch t {
	case "string", "number", "boolean", "integer":
		return true
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

// ToJSONSchema renders the normalized schema back into the minimized
// object shape (additionalProperties:false, type:object) that is
// actually sent to LLM providers as the tool's parameters schema.
func (s ToolSchema) ToJSONSchema() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = p.toJSONSchema()
	}
	out := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
	}
	if len(s.Required) > 0 {
		out["required"] = append([]string{}, s.Required...)
	}
	return out
}

func (p PropertySchema) toJSONSchema() map[string]any {
	out := map[string]any{"type": p.Type}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		enum := make([]any, len(p.Enum))
		for i, e := range p.Enum {
			enum[i] = e
		}
		out["enum"] = enum
	}
	if p.Items != nil {
		out["items"] = p.Items.toJSONSchema()
	}
	if p.Minimum != nil {
		out["minimum"] = *p.Minimum
	}
	if p.Maximum != nil {
		out["maximum"] = *p.Maximum
	}
	return out
}

// IsRequired reports whether name is a required property.
func (s ToolSchema) IsRequired(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// FirstRequiredOrDeclared returns the first required property name in
// declaration order, falling back to the first declared property if
// none are required: the target property for the Ollama "$" remap.
func (s ToolSchema) FirstRequiredOrDeclared(declOrder []string) (string, bool) {
	for _, name := range declOrder {
		if s.IsRequired(name) {
			return name, true
		}
	}
	if len(declOrder) > 0 {
		return declOrder[0], true
	}
	return "", false
}

// DecodeRawSchema decodes an MCP tool's raw JSON input schema (as
// produced by the mcp-go SDK's mcp.Tool.InputSchema) into the
// map[string]any NormalizeSchema expects.
func DecodeRawSchema(b []byte) (map[string]any, error) {
	var raw map[string]any
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return normalizeNumbers(raw).(map[string]any), nil
}

// normalizeNumbers converts json.Number values (from UseNumber) back to
// float64 throughout the decoded tree, so normalizeProperty's type
// switches on float64 work regardless of decode path.
func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = normalizeNumbers(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = normalizeNumbers(e)
		}
		return x
	case json.Number:
		f, _ := x.Float64()
		return f
	default:
		return v
	}
}
