package aggregator

import (
	"strings"

	"github.com/ppiankov/wphunter/internal/models"
)

// Summary describes one finished run. It is computed once over the retained
// result list.
type Summary struct {
	Evaluated         int            `json:"evaluated"`
	Emitted           int            `json:"emitted"`
	Skipped           int            `json:"skipped"`
	DownloadsFailed   int            `json:"downloads_failed"`
	HighRisk          int            `json:"high_risk"`
	HighRiskThreshold int            `json:"high_risk_threshold"`
	MaxScore          int            `json:"max_score"`
	AverageScore      float64        `json:"average_score"`
	Analyzed          int            `json:"analyzed"`
	ByRiskTag         map[string]int `json:"by_risk_tag"`
	BySecurityFlag    map[string]int `json:"by_security_flag"`
	BySeverity        map[string]int `json:"by_severity"`
	ByCategory        map[string]int `json:"by_category"`
}

// Counters are the run-level counts the orchestrator keeps alongside results
type Counters struct {
	Evaluated       int
	Skipped         int
	DownloadsFailed int
}

// Summarize builds a Summary from the emitted results
func Summarize(results []models.ScoredResult, counters Counters, highRiskThreshold int) Summary {
	s := Summary{
		Evaluated:         counters.Evaluated,
		Emitted:           len(results),
		Skipped:           counters.Skipped,
		DownloadsFailed:   counters.DownloadsFailed,
		HighRiskThreshold: highRiskThreshold,
		ByRiskTag:         make(map[string]int),
		BySecurityFlag:    make(map[string]int),
		BySeverity:        make(map[string]int),
		ByCategory:        make(map[string]int),
	}

	total := 0
	for _, r := range results {
		total += r.Score
		if r.Score > s.MaxScore {
			s.MaxScore = r.Score
		}
		if r.Score >= highRiskThreshold {
			s.HighRisk++
		}
		if r.CodeAnalysis != nil {
			s.Analyzed++
		}
		s.BySeverity[string(r.Severity())]++
		for _, tag := range r.RiskTags {
			s.ByRiskTag[Family(tag)]++
		}
		for _, flag := range r.SecurityFlags {
			s.BySecurityFlag[Family(flag)]++
		}
		for _, tag := range r.Tags {
			s.ByCategory[strings.ToLower(tag)]++
		}
	}

	if len(results) > 0 {
		s.AverageScore = float64(total) / float64(len(results))
	}
	return s
}

// Family returns the part of a tag or flag before its first colon
func Family(label string) string {
	if i := strings.IndexByte(label, ':'); i >= 0 {
		return label[:i]
	}
	return label
}
