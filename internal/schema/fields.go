package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// FieldHint tells a form renderer which control fits a schema property.
type FieldHint string

// Field hints.
const (
	HintSelect      FieldHint = "select"
	HintSwitch      FieldHint = "switch"
	HintNumber      FieldHint = "number"
	HintMediaUpload FieldHint = "media-upload"
	HintLoraList    FieldHint = "lora-list"
	HintLongText    FieldHint = "long-text"
	HintText        FieldHint = "text"
	HintJSON        FieldHint = "json"
)

type hintRule struct {
	hint  FieldHint
	match func(name, description, typ string, prop map[string]any) bool
}

// hintRules are checked in order; the first match wins. HintJSON is the fallback.
var hintRules = []hintRule{
	{HintLoraList, func(name, _, _ string, _ map[string]any) bool {
		return name == "loras"
	}},
	{HintSelect, func(_, _, _ string, prop map[string]any) bool {
		enum, ok := prop["enum"].([]any)
		return ok && len(enum) > 0
	}},
	{HintSwitch, func(_, _, typ string, _ map[string]any) bool {
		return typ == "boolean"
	}},
	{HintNumber, func(_, _, typ string, _ map[string]any) bool {
		return typ == "number" || typ == "integer"
	}},
	{HintMediaUpload, func(name, description, typ string, prop map[string]any) bool {
		if typ != "string" && !isStringArray(typ, prop) {
			return false
		}
		if containsAny(name, "url", "upload", "file") || containsAny(description, "upload") {
			return true
		}
		return containsAny(name, "image", "video", "audio", "mask") && containsAny(description, "url")
	}},
	{HintLongText, func(name, description, typ string, _ map[string]any) bool {
		return typ == "string" && (containsAny(name, "prompt") || containsAny(description, "prompt", "text"))
	}},
	{HintText, func(_, _, typ string, _ map[string]any) bool {
		return typ == "string"
	}},
}

// ClassifyField picks the form hint for one input property.
func ClassifyField(name string, prop map[string]any) FieldHint {
	lowerName := strings.ToLower(name)
	description, _ := prop["description"].(string)
	description = strings.ToLower(description)
	typ := propertyType(prop)

	for _, rule := range hintRules {
		if rule.match(lowerName, description, typ, prop) {
			return rule.hint
		}
	}
	return HintJSON
}

// Field is one input property with its rendering hint.
type Field struct {
	Name     string    `json:"name"`
	Hint     FieldHint `json:"hint"`
	Required bool      `json:"required"`
}

// Fields lists the input schema's properties in declared order when the document
// provides x-fal-order-properties, otherwise alphabetically.
func Fields(inputSchema map[string]any) []Field {
	props, _ := inputSchema["properties"].(map[string]any)
	if len(props) == 0 {
		return []Field{}
	}
	required := stringSet(inputSchema["required"])

	names := make([]string, 0, len(props))
	seen := make(map[string]bool, len(props))
	if order, ok := inputSchema["x-fal-order-properties"].([]any); ok {
		for _, item := range order {
			if name, ok := item.(string); ok && !seen[name] {
				if _, exists := props[name]; exists {
					names = append(names, name)
					seen[name] = true
				}
			}
		}
	}
	rest := make([]string, 0, len(props))
	for name := range props {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	names = append(names, rest...)

	fields := make([]Field, 0, len(names))
	for _, name := range names {
		prop, _ := props[name].(map[string]any)
		fields = append(fields, Field{
			Name:     name,
			Hint:     ClassifyField(name, prop),
			Required: required[name],
		})
	}
	return fields
}

// ValidateInput checks required keys and basic JSON types. It returns nil when the input is acceptable.
// Numeric strings are accepted for number fields and list values are not type-checked against scalar types.
func ValidateInput(input map[string]any, inputSchema map[string]any) []string {
	props, _ := inputSchema["properties"].(map[string]any)
	if len(props) == 0 {
		return nil
	}

	var errs []string
	for _, field := range stringList(inputSchema["required"]) {
		if _, ok := input[field]; !ok {
			errs = append(errs, fmt.Sprintf("Missing required field: %s", field))
		}
	}

	names := make([]string, 0, len(input))
	for name := range input {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		prop, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		expected := propertyType(prop)
		value := input[name]
		if expected == "" || value == nil {
			continue
		}
		actual := jsonType(value)
		if typeMatches(expected, actual, value) {
			continue
		}
		errs = append(errs, fmt.Sprintf("Field %s should be of type %s, got %s", name, expected, actual))
	}
	return errs
}

func typeMatches(expected, actual string, value any) bool {
	switch {
	case expected == actual:
		return true
	case actual == "array" && expected != "array":
		return true
	case expected == "integer" && actual == "number":
		f, _ := value.(float64)
		return f == float64(int64(f))
	case expected == "number" && actual == "integer":
		return true
	case (expected == "number" || expected == "integer") && actual == "string":
		_, err := strconv.ParseFloat(strings.TrimSpace(value.(string)), 64)
		return err == nil
	}
	return false
}

func jsonType(value any) string {
	switch value.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32:
		return "number"
	case int, int32, int64:
		return "integer"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}

// propertyType resolves "type" whether it is a string, a list with "null", or nested in anyOf.
func propertyType(prop map[string]any) string {
	switch t := prop["type"].(type) {
	case string:
		return t
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && s != "null" {
				return s
			}
		}
	}
	if anyOf, ok := prop["anyOf"].([]any); ok {
		for _, alt := range anyOf {
			if m, ok := alt.(map[string]any); ok {
				if t := propertyType(m); t != "" && t != "null" {
					return t
				}
			}
		}
	}
	return ""
}

func isStringArray(typ string, prop map[string]any) bool {
	if typ != "array" {
		return false
	}
	items, ok := prop["items"].(map[string]any)
	return ok && propertyType(items) == "string"
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func stringSet(v any) map[string]bool {
	set := make(map[string]bool)
	for _, s := range stringList(v) {
		set[s] = true
	}
	return set
}
