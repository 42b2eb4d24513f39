package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Category is one of the fixed static-analysis finding families
type Category string

const (
	CategoryDangerousFunctions Category = "dangerous_functions"
	CategoryAjaxEndpoints      Category = "ajax_endpoints"
	CategoryThemeFunctions     Category = "theme_functions"
	CategoryFileOperations     Category = "file_operations"
	CategorySQLQueries         Category = "sql_queries"
	CategoryNonceUsage         Category = "nonce_usage"
	CategorySanitization       Category = "sanitization_issues"
)

// Categories lists every category in display order
var Categories = []Category{
	CategoryDangerousFunctions,
	CategoryAjaxEndpoints,
	CategoryThemeFunctions,
	CategoryFileOperations,
	CategorySQLQueries,
	CategoryNonceUsage,
	CategorySanitization,
}

// ParseCategory converts a string into a Category
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category: %q", s)
}

// CodeAnalysisResult holds the set of findings per category.
// Every category is always present once the result is built with NewCodeAnalysisResult.
type CodeAnalysisResult struct {
	findings map[Category]map[string]struct{}
}

// NewCodeAnalysisResult returns a result with all categories present and empty
func NewCodeAnalysisResult() *CodeAnalysisResult {
	r := &CodeAnalysisResult{findings: make(map[Category]map[string]struct{}, len(Categories))}
	for _, c := range Categories {
		r.findings[c] = map[string]struct{}{}
	}
	return r
}

// Add records a finding. Duplicates are ignored.
func (r *CodeAnalysisResult) Add(c Category, finding string) {
	if r.findings == nil {
		r.findings = make(map[Category]map[string]struct{}, len(Categories))
	}
	set, ok := r.findings[c]
	if !ok {
		set = map[string]struct{}{}
		r.findings[c] = set
	}
	set[finding] = struct{}{}
}

// Has reports whether a finding is recorded
func (r *CodeAnalysisResult) Has(c Category, finding string) bool {
	_, ok := r.findings[c][finding]
	return ok
}

// Get returns the sorted findings of a category, never nil
func (r *CodeAnalysisResult) Get(c Category) []string {
	set := r.findings[c]
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of distinct findings in a category
func (r *CodeAnalysisResult) Count(c Category) int {
	return len(r.findings[c])
}

// Total returns the number of findings across all categories
func (r *CodeAnalysisResult) Total() int {
	n := 0
	for _, set := range r.findings {
		n += len(set)
	}
	return n
}

// Merge unions other into r
func (r *CodeAnalysisResult) Merge(other *CodeAnalysisResult) {
	if other == nil {
		return
	}
	for c, set := range other.findings {
		for f := range set {
			r.Add(c, f)
		}
	}
}

// Equal reports set equality across all categories
func (r *CodeAnalysisResult) Equal(other *CodeAnalysisResult) bool {
	if r == nil || other == nil {
		return r == other
	}
	for _, c := range Categories {
		if r.Count(c) != other.Count(c) {
			return false
		}
		for f := range r.findings[c] {
			if !other.Has(c, f) {
				return false
			}
		}
	}
	return true
}

// ToMap returns a category-keyed map of sorted findings with every category present
func (r *CodeAnalysisResult) ToMap() map[string][]string {
	out := make(map[string][]string, len(Categories))
	for _, c := range Categories {
		out[string(c)] = r.Get(c)
	}
	return out
}

// FromMap builds a result from a category-keyed map. Unknown keys are ignored.
func FromMap(m map[string][]string) *CodeAnalysisResult {
	r := NewCodeAnalysisResult()
	for k, findings := range m {
		c, err := ParseCategory(k)
		if err != nil {
			continue
		}
		for _, f := range findings {
			r.Add(c, f)
		}
	}
	return r
}

// MarshalJSON encodes the result as an object of sorted arrays
func (r *CodeAnalysisResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToMap())
}

// UnmarshalJSON decodes an object of arrays, filling absent categories with empty sets
func (r *CodeAnalysisResult) UnmarshalJSON(data []byte) error {
	var m map[string][]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*r = *FromMap(m)
	return nil
}
