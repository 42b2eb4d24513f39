package models

import (
	"fmt"
	"strings"
	"time"
)

// SessionStatus is the lifecycle state of a persisted scan session
type SessionStatus string

const (
	StatusPending   SessionStatus = "PENDING"
	StatusRunning   SessionStatus = "RUNNING"
	StatusCompleted SessionStatus = "COMPLETED"
	StatusFailed    SessionStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next is allowed.
// Re-asserting the current non-terminal state is allowed so that counters can be
// updated mid-run.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusPending || next == StatusRunning || next == StatusFailed
	case StatusRunning:
		return next == StatusRunning || next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// ParseSessionStatus converts a string into a SessionStatus
func ParseSessionStatus(s string) (SessionStatus, error) {
	switch st := SessionStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown session status: %q", s)
}

// ScanSession is one invocation of the pipeline
type ScanSession struct {
	ID            string        `json:"id"`
	CreatedAt     time.Time     `json:"created_at"`
	ConfigJSON    string        `json:"config_json"`
	Status        SessionStatus `json:"status"`
	TotalFound    int           `json:"total_found"`
	HighRiskCount int           `json:"high_risk_count"`
	ErrorMessage  string        `json:"error_message,omitempty"`
}

// SortKey is a result column the repository can order by
type SortKey string

const (
	SortByScore           SortKey = "score"
	SortByInstallations   SortKey = "installations"
	SortByDaysSinceUpdate SortKey = "days_since_update"
	SortByName            SortKey = "name"
	SortBySlug            SortKey = "slug"
)

// SortKeys lists the accepted sort keys
var SortKeys = []SortKey{SortByScore, SortByInstallations, SortByDaysSinceUpdate, SortByName, SortBySlug}

// ParseSortKey maps user input to a SortKey, falling back to SortByScore
func ParseSortKey(s string) SortKey {
	in := SortKey(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range SortKeys {
		if k == in {
			return k
		}
	}
	return SortByScore
}

// SortOrder is ascending or descending
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// ParseSortOrder maps user input to a SortOrder, falling back to OrderDesc
func ParseSortOrder(s string) SortOrder {
	if strings.EqualFold(strings.TrimSpace(s), string(OrderAsc)) {
		return OrderAsc
	}
	return OrderDesc
}
