package llm

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Schema declares the shape a structured response must have.
type Schema struct {
	Name        string
	Description string
	Properties  []Property
}

type Property struct {
	Name        string
	Type        string // "string" or "array" of strings
	Description string
	Enum        []string
	Required    bool
	MinItems    int
	MaxItems    int
}

const (
	TypeString = "string"
	TypeArray  = "array"
)

// JSONSchema renders the schema as a JSON Schema document.
func (s Schema) JSONSchema() map[string]any {
	properties := map[string]any{}
	required := make([]string, 0, len(s.Properties))
	for _, p := range s.Properties {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Type == TypeArray {
			prop["items"] = map[string]any{"type": TypeString}
			if p.MinItems > 0 {
				prop["minItems"] = p.MinItems
			}
			if p.MaxItems > 0 {
				prop["maxItems"] = p.MaxItems
			}
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	doc := map[string]any{
		"title":                s.Name,
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
	if s.Description != "" {
		doc["description"] = s.Description
	}
	return doc
}

func (s Schema) instruction() string {
	raw, _ := json.MarshalIndent(s.JSONSchema(), "", "  ")
	return "Respond with a single JSON object that validates against this JSON Schema. " +
		"Do not wrap it in markdown and do not add any other text.\n" + string(raw)
}

// Validate checks a decoded object against the schema. Values are never coerced.
func (s Schema) Validate(obj map[string]any) error {
	for _, p := range s.Properties {
		value, ok := obj[p.Name]
		if !ok || value == nil {
			if p.Required {
				return fmt.Errorf("%w: %s: missing required field %q", ErrMalformedOutput, s.Name, p.Name)
			}
			continue
		}
		switch p.Type {
		case TypeString:
			text, ok := value.(string)
			if !ok {
				return fmt.Errorf("%w: %s: field %q must be a string", ErrMalformedOutput, s.Name, p.Name)
			}
			if len(p.Enum) > 0 && !slices.Contains(p.Enum, text) {
				return fmt.Errorf("%w: %s: field %q has value %q outside %v", ErrMalformedOutput, s.Name, p.Name, text, p.Enum)
			}
		case TypeArray:
			items, ok := value.([]any)
			if !ok {
				return fmt.Errorf("%w: %s: field %q must be an array", ErrMalformedOutput, s.Name, p.Name)
			}
			for i, item := range items {
				if _, ok := item.(string); !ok {
					return fmt.Errorf("%w: %s: %s[%d] must be a string", ErrMalformedOutput, s.Name, p.Name, i)
				}
			}
			if p.MinItems > 0 && len(items) < p.MinItems {
				return fmt.Errorf("%w: %s: field %q has %d items, want at least %d", ErrMalformedOutput, s.Name, p.Name, len(items), p.MinItems)
			}
			if p.MaxItems > 0 && len(items) > p.MaxItems {
				return fmt.Errorf("%w: %s: field %q has %d items, want at most %d", ErrMalformedOutput, s.Name, p.Name, len(items), p.MaxItems)
			}
		default:
			return fmt.Errorf("%s: unsupported property type %q", s.Name, p.Type)
		}
	}
	return nil
}
