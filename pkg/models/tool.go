package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParameterType is the primitive type of a tool parameter.
type ParameterType string

const (
	ParamString  ParameterType = "string"
	ParamNumber  ParameterType = "number"
	ParamBoolean ParameterType = "boolean"
	ParamArray   ParameterType = "array"
	ParamObject  ParameterType = "object"
)

// ToolCategory groups tools for the UI.
type ToolCategory string

const (
	ToolCategoryConnectivity ToolCategory = "connectivity"
	ToolCategoryGateway      ToolCategory = "gateway"
	ToolCategoryIPConfig     ToolCategory = "ip_config"
	ToolCategoryDNS          ToolCategory = "dns"
	ToolCategoryWiFi         ToolCategory = "wifi"
	ToolCategoryAdapter      ToolCategory = "adapter"
	ToolCategorySystem       ToolCategory = "system"
)

// ToolParameter declares one typed parameter of a tool.
type ToolParameter struct {
	Name        string        `json:"name"`
	Type        ParameterType `json:"type"`
	Description string        `json:"description"`
	Required    bool          `json:"required"`
	Default     any           `json:"default,omitempty"`
	Enum        []string      `json:"enum,omitempty"`
}

// ToolDefinition is the provider-neutral description of a tool: what the
// registry registers, what provider clients serialize, and what the UI
// renders.
type ToolDefinition struct {
	Name        string          `json:"name"`
	DisplayName string          `json:"displayName"`
	Description string          `json:"description"`
	Category    ToolCategory    `json:"category"`
	OSILayer    int             `json:"osiLayer"` // 1..7, 0 when not a network-layer tool
	Mutating    bool            `json:"mutating"`
	Parameters  []ToolParameter `json:"parameters"`
}

// Schema renders the definition's parameter list as a JSON Schema object
// of the {type:object, properties, required} shape every provider's tool
// language builds on.
func (d ToolDefinition) Schema() json.RawMessage {
	properties := map[string]any{}
	var required []string
	for _, p := range d.Parameters {
		prop := map[string]any{
			"type":        string(p.Type),
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return raw
}

// DiagnosticResult is what every diagnostic tool returns. Tools never
// propagate errors to the caller; failures become Success=false with an
// Error string and suggestions the user can act on.
type DiagnosticResult struct {
	Success     bool           `json:"success"`
	Tool        string         `json:"tool"`
	Platform    string         `json:"platform,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	RawOutput   string         `json:"raw_output,omitempty"`
	Error       string         `json:"error,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
}

// LLMText renders the result for the model: a status line, the structured
// data as compact JSON, and any suggestions. Raw output is omitted; the
// parsed data carries what matters.
func (r *DiagnosticResult) LLMText() string {
	var b strings.Builder
	if r.Success {
		fmt.Fprintf(&b, "%s: ok", r.Tool)
	} else {
		fmt.Fprintf(&b, "%s: failed", r.Tool)
		if r.Error != "" {
			fmt.Fprintf(&b, " (%s)", r.Error)
		}
	}
	if len(r.Data) > 0 {
		if data, err := json.Marshal(r.Data); err == nil {
			b.WriteString("\n")
			b.Write(data)
		}
	}
	if len(r.Suggestions) > 0 {
		b.WriteString("\nSuggestions:")
		for _, s := range r.Suggestions {
			b.WriteString("\n- ")
			b.WriteString(s)
		}
	}
	return b.String()
}

// Unsupported builds the short-circuit result a tool returns on a platform
// it does not implement.
func Unsupported(tool, platform string) *DiagnosticResult {
	return &DiagnosticResult{
		Success:  false,
		Tool:     tool,
		Platform: platform,
		Error:    "unsupported platform",
		Suggestions: []string{
			fmt.Sprintf("%s is not available on %s", tool, platform),
		},
	}
}
