package models

// Severity is a display band derived from a score
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Severities lists bands from most to least severe
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// SeverityForScore maps a score to its display band
func SeverityForScore(score int) Severity {
	switch {
	case score >= 50:
		return SeverityCritical
	case score >= 35:
		return SeverityHigh
	case score >= 20:
		return SeverityMedium
	case score >= 10:
		return SeverityLow
	default:
		return SeverityInfo
	}
}
