package agent

import "github.com/netmedic/netmedic/pkg/models"

// Confidence scores a turn from its tool outcomes: base 0.5 plus up to
// +0.4 for full tool success. Advisory only; it never gates behavior.
func Confidence(successes, total int) float64 {
	if total <= 0 {
		return 0.5
	}
	return 0.5 + 0.4*float64(successes)/float64(total)
}

// issueCategory maps a tool's registry category onto the session-level
// issue taxonomy. System tools diagnose the machine rather than the
// network, so they categorize as "other".
func issueCategory(cat models.ToolCategory) (models.IssueCategory, bool) {
	switch cat {
	case models.ToolCategoryConnectivity:
		return models.CategoryConnectivity, true
	case models.ToolCategoryGateway:
		return models.CategoryGateway, true
	case models.ToolCategoryIPConfig:
		return models.CategoryIPConfig, true
	case models.ToolCategoryDNS:
		return models.CategoryDNS, true
	case models.ToolCategoryWiFi:
		return models.CategoryWiFi, true
	case models.ToolCategoryAdapter:
		return models.CategoryAdapter, true
	case models.ToolCategorySystem:
		return models.CategoryOther, true
	}
	return models.CategoryUnknown, false
}

// Categorize derives the session's issue category from the ordered tool
// names it has run. The most-used category wins; ties go to the category
// touched first. Unknown tools contribute nothing, and with no
// categorizing tool at all the session stays unknown.
func Categorize(path []string, lookup func(string) (models.ToolDefinition, bool)) models.IssueCategory {
	counts := make(map[models.IssueCategory]int)
	firstSeen := make(map[models.IssueCategory]int)
	for i, name := range path {
		def, ok := lookup(name)
		if !ok {
			continue
		}
		cat, ok := issueCategory(def.Category)
		if !ok {
			continue
		}
		counts[cat]++
		if _, seen := firstSeen[cat]; !seen {
			firstSeen[cat] = i
		}
	}

	best := models.CategoryUnknown
	bestCount := 0
	for cat, n := range counts {
		switch {
		case n > bestCount:
			best, bestCount = cat, n
		case n == bestCount && best != models.CategoryUnknown && firstSeen[cat] < firstSeen[best]:
			best = cat
		}
	}
	return best
}
