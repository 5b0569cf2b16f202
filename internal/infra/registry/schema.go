package registry

import (
	"encoding/json"
	"sort"

	"agentd/internal/domain"
)

// paramsFromSchema reduces an MCP input schema to the ordered parameter list
// the dispatcher validates against. Property order is name-sorted; a schema
// that is not an object (or fails to decode) yields no parameters.
func paramsFromSchema(schema any) []domain.ToolParam {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var decoded struct {
		Type       string                     `json:"type"`
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}
	if len(decoded.Properties) == 0 {
		return nil
	}

	required := make(map[string]bool, len(decoded.Required))
	for _, name := range decoded.Required {
		required[name] = true
	}

	names := make([]string, 0, len(decoded.Properties))
	for name := range decoded.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]domain.ToolParam, 0, len(names))
	for _, name := range names {
		params = append(params, domain.ToolParam{
			Name:     name,
			Type:     propertyType(decoded.Properties[name]),
			Required: required[name],
		})
	}
	return params
}

func propertyType(raw json.RawMessage) string {
	var prop struct {
		Type any `json:"type"`
	}
	if err := json.Unmarshal(raw, &prop); err != nil {
		return ""
	}
	switch typed := prop.Type.(type) {
	case string:
		return typed
	case []any:
		if len(typed) > 0 {
			if first, ok := typed[0].(string); ok {
				return first
			}
		}
	}
	return ""
}
