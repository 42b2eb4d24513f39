package tui

import (
	"sort"
	"strings"

	"github.com/ppiankov/wphunter/internal/aggregator"
	"github.com/ppiankov/wphunter/internal/models"
)

// filterState holds current active filters.
type filterState struct {
	Family     string
	Severity   models.Severity
	SearchText string
}

// sortField enumerates columns that can be sorted.
type sortField int

const (
	sortByScore sortField = iota
	sortByInstalls
	sortByAge
	sortBySlug
	sortByFlags
)

// sortFieldCount is the total number of sortable columns.
const sortFieldCount = 5

// applyFilters returns results matching all active filters.
func applyFilters(results []models.ResultRecord, f filterState) []models.ResultRecord {
	out := make([]models.ResultRecord, 0, len(results))
	searchLower := strings.ToLower(f.SearchText)

	for _, r := range results {
		if f.Family != "" && !hasFamily(r, f.Family) {
			continue
		}
		if f.Severity != "" && r.Severity() != f.Severity {
			continue
		}
		if searchLower != "" && !matchesSearch(r, searchLower) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func hasFamily(r models.ResultRecord, family string) bool {
	for _, labels := range [][]string{r.SecurityFlags, r.RiskTags, r.FeatureFlags} {
		for _, l := range labels {
			if aggregator.Family(l) == family {
				return true
			}
		}
	}
	return false
}

func matchesSearch(r models.ResultRecord, searchLower string) bool {
	fields := []string{r.Slug, r.Name, r.Author, string(r.Severity())}
	fields = append(fields, r.Tags...)
	fields = append(fields, r.RiskTags...)
	fields = append(fields, r.SecurityFlags...)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), searchLower) {
			return true
		}
	}
	return false
}

// sortResults sorts results in place by the given field. Ties keep their order.
func sortResults(results []models.ResultRecord, field sortField) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		switch field {
		case sortByScore:
			return a.Score > b.Score
		case sortByInstalls:
			return a.ActiveInstalls > b.ActiveInstalls
		case sortByAge:
			return a.DaysSinceUpdate > b.DaysSinceUpdate
		case sortBySlug:
			return a.Slug < b.Slug
		case sortByFlags:
			return len(a.SecurityFlags) > len(b.SecurityFlags)
		default:
			return false
		}
	})
}

// uniqueFamilies returns the deduplicated, sorted flag and tag families.
func uniqueFamilies(results []models.ResultRecord) []string {
	seen := make(map[string]bool)
	var families []string
	for _, r := range results {
		for _, labels := range [][]string{r.SecurityFlags, r.RiskTags, r.FeatureFlags} {
			for _, l := range labels {
				fam := aggregator.Family(l)
				if !seen[fam] {
					seen[fam] = true
					families = append(families, fam)
				}
			}
		}
	}
	sort.Strings(families)
	return families
}

// sortFieldName returns a human-readable name for the sort field.
func sortFieldName(f sortField) string {
	switch f {
	case sortByScore:
		return "score"
	case sortByInstalls:
		return "installs"
	case sortByAge:
		return "age"
	case sortBySlug:
		return "slug"
	case sortByFlags:
		return "flags"
	default:
		return "unknown"
	}
}
