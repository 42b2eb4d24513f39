package aggregator

import (
	"fmt"
	"sort"

	"github.com/ppiankov/wphunter/internal/models"
)

// Recommendation is a prioritized follow-up for a group of results
type Recommendation struct {
	Severity models.Severity `json:"severity"`
	Signal   string          `json:"signal"`
	Action   string          `json:"action"`
	Impact   string          `json:"impact"`
	Count    int             `json:"count"`
	Targets  []string        `json:"targets"`
}

// flagGroup collects results sharing a flag family
type flagGroup struct {
	family  string
	worst   int
	targets []string
}

// RecommendationGenerator creates review actions from scored results
type RecommendationGenerator struct{}

// NewRecommendationGenerator creates a new recommendation generator
func NewRecommendationGenerator() *RecommendationGenerator {
	return &RecommendationGenerator{}
}

// GenerateRecommendations groups results by security flag and risk tag family
// and orders the groups by the worst score they contain
func (r *RecommendationGenerator) GenerateRecommendations(results []models.ScoredResult) []Recommendation {
	groups := make(map[string]*flagGroup)

	add := func(family, slug string, score int) {
		g, ok := groups[family]
		if !ok {
			g = &flagGroup{family: family}
			groups[family] = g
		}
		if len(g.targets) == 0 || g.targets[len(g.targets)-1] != slug {
			g.targets = append(g.targets, slug)
		}
		if score > g.worst {
			g.worst = score
		}
	}

	for _, res := range results {
		for _, f := range res.SecurityFlags {
			add(Family(f), res.Slug, res.Score)
		}
		for _, t := range res.RiskTags {
			if fam := Family(t); fam == "ABANDONED" || fam == "UNTRUSTED_AUTHOR" {
				add(fam, res.Slug, res.Score)
			}
		}
	}

	recs := make([]Recommendation, 0, len(groups))
	for _, g := range groups {
		recs = append(recs, Recommendation{
			Severity: models.SeverityForScore(g.worst),
			Signal:   g.family,
			Action:   r.generateAction(g),
			Impact:   r.generateImpact(g.family),
			Count:    len(g.targets),
			Targets:  g.targets,
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		pi, pj := severityPriority(recs[i].Severity), severityPriority(recs[j].Severity)
		if pi != pj {
			return pi > pj
		}
		if recs[i].Count != recs[j].Count {
			return recs[i].Count > recs[j].Count
		}
		return recs[i].Signal < recs[j].Signal
	})

	return recs
}

// generateAction creates actionable text for a flag family
func (r *RecommendationGenerator) generateAction(g *flagGroup) string {
	n := len(g.targets)
	switch g.family {
	case "DANGEROUS_FN":
		return fmt.Sprintf("Audit code execution paths in %d target(s)", n)
	case "AJAX_NO_NONCE":
		return fmt.Sprintf("Check CSRF protection of AJAX handlers in %d target(s)", n)
	case "AJAX_ENDPOINTS":
		return fmt.Sprintf("Enumerate AJAX/REST entry points of %d target(s)", n)
	case "UNSANITIZED":
		return fmt.Sprintf("Trace request input handling in %d target(s)", n)
	case "FILE_OPERATIONS":
		return fmt.Sprintf("Review file access for path traversal in %d target(s)", n)
	case "SQL_NO_PREPARE":
		return fmt.Sprintf("Look for SQL injection in %d target(s)", n)
	case "ABANDONED":
		return fmt.Sprintf("Prioritize %d abandoned target(s) with no upstream fixes", n)
	case "UNTRUSTED_AUTHOR":
		return fmt.Sprintf("Verify the maintainers of %d target(s)", n)
	default:
		return fmt.Sprintf("Review %d target(s) flagged %s", n, g.family)
	}
}

// generateImpact describes what a flag family can lead to
func (r *RecommendationGenerator) generateImpact(family string) string {
	switch family {
	case "DANGEROUS_FN":
		return "Remote code execution or object injection"
	case "AJAX_NO_NONCE":
		return "Cross-site request forgery against privileged actions"
	case "UNSANITIZED":
		return "Injection through unsanitized request parameters"
	case "FILE_OPERATIONS":
		return "Arbitrary file read, write or deletion"
	case "SQL_NO_PREPARE":
		return "Database disclosure or modification"
	case "ABANDONED":
		return "Known issues are unlikely to be patched"
	case "UNTRUSTED_AUTHOR":
		return "Lower assurance of secure development practices"
	default:
		return "Larger attack surface"
	}
}

// severityPriority returns numeric priority for sorting (higher = more urgent)
func severityPriority(s models.Severity) int {
	switch s {
	case models.SeverityCritical:
		return 4
	case models.SeverityHigh:
		return 3
	case models.SeverityMedium:
		return 2
	case models.SeverityLow:
		return 1
	default:
		return 0
	}
}

// GetTopRecommendations returns the top N most critical recommendations
func (r *RecommendationGenerator) GetTopRecommendations(recommendations []Recommendation, n int) []Recommendation {
	if n >= len(recommendations) {
		return recommendations
	}
	return recommendations[:n]
}
