package models

// Contribution records one scoring increment and the tag or flag it produced
type Contribution struct {
	Signal string `json:"signal"`
	Points int    `json:"points"`
	Label  string `json:"label"`
}

// ScoredResult is a target paired with its computed risk.
// It is immutable after creation.
type ScoredResult struct {
	TargetMetadata

	Score           int                 `json:"score"`
	DaysSinceUpdate int                 `json:"days_since_update"`
	RiskTags        []string            `json:"risk_tags"`
	SecurityFlags   []string            `json:"security_flags"`
	FeatureFlags    []string            `json:"feature_flags"`
	IsRiskyCategory bool                `json:"is_risky_category"`
	IsUserFacing    bool                `json:"is_user_facing"`
	CodeAnalysis    *CodeAnalysisResult `json:"code_analysis,omitempty"`
	Contributions   []Contribution      `json:"contributions,omitempty"`
}

// Severity returns the display severity band of the result
func (r ScoredResult) Severity() Severity {
	return SeverityForScore(r.Score)
}

// HasSecurityFlagPrefix reports whether any security flag starts with prefix
func (r ScoredResult) HasSecurityFlagPrefix(prefix string) bool {
	for _, f := range r.SecurityFlags {
		if len(f) >= len(prefix) && f[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// ResultRecord is a persisted ScoredResult as read back from the repository
type ResultRecord struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id"`
	ScoredResult
}
