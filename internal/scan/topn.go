package scan

import (
	"slices"
	"sort"

	"github.com/ppiankov/wphunter/internal/models"
)

// TopN returns the n highest-scoring results. Equal scores keep their input
// order. n <= 0 returns nil; the input is not modified.
func TopN(results []models.ScoredResult, n int) []models.ScoredResult {
	if n <= 0 {
		return nil
	}
	sorted := slices.Clone(results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}
