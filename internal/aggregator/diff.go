package aggregator

import (
	"sort"

	"github.com/ppiankov/wphunter/internal/models"
)

// Change is a target present in both sessions whose score moved
type Change struct {
	Slug     string `json:"slug"`
	Previous int    `json:"previous"`
	Current  int    `json:"current"`
	Delta    int    `json:"delta"`
}

// Diff compares the results of two sessions by slug
type Diff struct {
	PreviousSession string              `json:"previous_session"`
	CurrentSession  string              `json:"current_session"`
	Added           []string            `json:"added"`
	Removed         []string            `json:"removed"`
	Changed         []Change            `json:"changed"`
	NewFlags        map[string][]string `json:"new_flags,omitempty"`
	Direction       string              `json:"direction"`
	HighRiskDelta   int                 `json:"high_risk_delta"`
}

// DiffResults compares two result sets. Direction is "degrading" when the
// number of high-risk targets grew, "improving" when it shrank, otherwise "stable".
func DiffResults(prevID string, prev []models.ScoredResult, curID string, cur []models.ScoredResult, highRiskThreshold int) Diff {
	d := Diff{
		PreviousSession: prevID,
		CurrentSession:  curID,
		Added:           []string{},
		Removed:         []string{},
		Changed:         []Change{},
		NewFlags:        map[string][]string{},
	}

	prevBySlug := make(map[string]models.ScoredResult, len(prev))
	prevHigh := 0
	for _, r := range prev {
		prevBySlug[r.Slug] = r
		if r.Score >= highRiskThreshold {
			prevHigh++
		}
	}

	curHigh := 0
	seen := make(map[string]bool, len(cur))
	for _, r := range cur {
		seen[r.Slug] = true
		if r.Score >= highRiskThreshold {
			curHigh++
		}
		old, ok := prevBySlug[r.Slug]
		if !ok {
			d.Added = append(d.Added, r.Slug)
			continue
		}
		if old.Score != r.Score {
			d.Changed = append(d.Changed, Change{Slug: r.Slug, Previous: old.Score, Current: r.Score, Delta: r.Score - old.Score})
		}
		if flags := newLabels(old.SecurityFlags, r.SecurityFlags); len(flags) > 0 {
			d.NewFlags[r.Slug] = flags
		}
	}

	for _, r := range prev {
		if !seen[r.Slug] {
			d.Removed = append(d.Removed, r.Slug)
		}
	}

	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.SliceStable(d.Changed, func(i, j int) bool {
		ai, aj := abs(d.Changed[i].Delta), abs(d.Changed[j].Delta)
		if ai != aj {
			return ai > aj
		}
		return d.Changed[i].Slug < d.Changed[j].Slug
	})

	d.HighRiskDelta = curHigh - prevHigh
	switch {
	case d.HighRiskDelta > 0:
		d.Direction = "degrading"
	case d.HighRiskDelta < 0:
		d.Direction = "improving"
	default:
		d.Direction = "stable"
	}
	return d
}

func newLabels(old, cur []string) []string {
	had := make(map[string]bool, len(old))
	for _, l := range old {
		had[l] = true
	}
	var out []string
	for _, l := range cur {
		if !had[l] {
			out = append(out, l)
		}
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// DirectionIndicator returns an arrow for a diff direction
func DirectionIndicator(direction string) string {
	switch direction {
	case "improving":
		return "↓"
	case "degrading":
		return "↑"
	default:
		return "→"
	}
}
