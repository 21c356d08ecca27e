package agent

import (
	"math"
	"testing"

	"github.com/netmedic/netmedic/pkg/models"
)

func TestConfidence(t *testing.T) {
	tests := []struct {
		name      string
		successes int
		total     int
		want      float64
	}{
		{"no tools", 0, 0, 0.5},
		{"all succeeded", 1, 1, 0.9},
		{"half succeeded", 1, 2, 0.7},
		{"all failed", 0, 3, 0.5},
		{"two of three", 2, 3, 0.5 + 0.4*2.0/3.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Confidence(tt.successes, tt.total)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Confidence(%d, %d) = %v, want %v", tt.successes, tt.total, got, tt.want)
			}
			if got < 0 || got > 1 {
				t.Errorf("Confidence(%d, %d) = %v, out of [0,1]", tt.successes, tt.total, got)
			}
		})
	}
}

func categorizeLookup() func(string) (models.ToolDefinition, bool) {
	defs := map[string]models.ToolDefinition{
		"ping_gateway": {Name: "ping_gateway", Category: models.ToolCategoryGateway},
		"check_dns":    {Name: "check_dns", Category: models.ToolCategoryDNS},
		"flush_dns":    {Name: "flush_dns", Category: models.ToolCategoryDNS},
		"check_wifi":   {Name: "check_wifi", Category: models.ToolCategoryWiFi},
		"system_info":  {Name: "system_info", Category: models.ToolCategorySystem},
	}
	return func(name string) (models.ToolDefinition, bool) {
		def, ok := defs[name]
		return def, ok
	}
}

func TestCategorize(t *testing.T) {
	lookup := categorizeLookup()
	tests := []struct {
		name string
		path []string
		want models.IssueCategory
	}{
		{"empty path", nil, models.CategoryUnknown},
		{"single tool", []string{"ping_gateway"}, models.CategoryGateway},
		{"majority wins", []string{"ping_gateway", "check_dns", "flush_dns"}, models.CategoryDNS},
		{"tie goes to earliest", []string{"check_wifi", "check_dns"}, models.CategoryWiFi},
		{"unknown tools skipped", []string{"no_such_tool", "check_dns"}, models.CategoryDNS},
		{"only unknown tools", []string{"no_such_tool"}, models.CategoryUnknown},
		{"system maps to other", []string{"system_info"}, models.CategoryOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Categorize(tt.path, lookup); got != tt.want {
				t.Errorf("Categorize(%v) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
