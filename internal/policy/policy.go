package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/wphunter/internal/aggregator"
	"github.com/ppiankov/wphunter/internal/models"
	"github.com/ppiankov/wphunter/internal/scorer"
)

// FileNames are the policy file names FindPolicyFile looks for
var FileNames = []string{".wphunter-policy.yaml", ".wphunter-policy.yml"}

// Policy tunes scoring and defines gating rules for finished scans.
type Policy struct {
	Version string  `yaml:"version"`
	Scoring Scoring `yaml:"scoring"`
	Rules   Rules   `yaml:"rules"`
}

// Scoring adjusts how targets are scored.
type Scoring struct {
	// Weights is decoded over the default weights, so only listed keys change
	Weights         yaml.Node `yaml:"weights,omitempty"`
	RiskyCategories []string  `yaml:"risky_categories,omitempty"`
	UserFacingTags  []string  `yaml:"user_facing_tags,omitempty"`
	MinTestedWP     string    `yaml:"min_tested_wp,omitempty"`
	TrustedAuthors  []string  `yaml:"trusted_authors,omitempty"`
}

// Rules contains all configurable gating rules.
type Rules struct {
	MaxHighRisk *int     `yaml:"max_high_risk,omitempty"`
	MaxCritical *int     `yaml:"max_critical,omitempty"`
	MaxScore    *int     `yaml:"max_score,omitempty"`
	ForbidFlags []string `yaml:"forbid_flags,omitempty"`
	ForbidTags  []string `yaml:"forbid_tags,omitempty"`
}

// Violation is a single policy failure.
type Violation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Result holds the outcome of a policy check.
type Result struct {
	Pass       bool        `json:"pass"`
	Violations []Violation `json:"violations"`
}

// LoadFromFile reads a policy file. A missing file yields a nil policy.
func LoadFromFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return Parse(data)
}

// Parse decodes a policy document and checks its scoring section
func Parse(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if _, err := p.Weights(); err != nil {
		return nil, err
	}
	return &p, nil
}

// FindPolicyFile searches for a policy file in the current directory
// and parent directories up to the filesystem root.
func FindPolicyFile() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	return FindPolicyFileFrom(dir)
}

// FindPolicyFileFrom searches dir and its parents
func FindPolicyFileFrom(dir string) string {
	for {
		for _, name := range FileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Weights returns the default weights with the policy's overrides applied
func (p *Policy) Weights() (scorer.Weights, error) {
	w := scorer.DefaultWeights()
	if p == nil || p.Scoring.Weights.Kind == 0 {
		return w, nil
	}
	if err := p.Scoring.Weights.Decode(&w); err != nil {
		return w, fmt.Errorf("parse policy weights: %w", err)
	}
	if err := checkWeights(w); err != nil {
		return w, err
	}
	return w, nil
}

// checkWeights rejects negative points and thresholds
func checkWeights(w scorer.Weights) error {
	v := reflect.ValueOf(w)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := v.Field(i)
		if f.Kind() != reflect.Int {
			continue
		}
		if f.Int() < 0 {
			name, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
			return fmt.Errorf("policy weight %s must not be negative", name)
		}
	}
	names := make([]string, 0, len(w.DangerousFunctions))
	for name := range w.DangerousFunctions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if w.DangerousFunctions[name] < 0 {
			return fmt.Errorf("policy weight for %s must not be negative", name)
		}
	}
	return nil
}

// Classifier returns the default classifier extended by the policy
func (p *Policy) Classifier() scorer.Classifier {
	c := scorer.DefaultClassifier()
	if p == nil {
		return c
	}
	c.RiskyCategories = mergeKeywords(c.RiskyCategories, p.Scoring.RiskyCategories)
	c.UserFacingTags = mergeKeywords(c.UserFacingTags, p.Scoring.UserFacingTags)
	if p.Scoring.MinTestedWP != "" {
		c.MinTestedWP = p.Scoring.MinTestedWP
	}
	return c
}

// Scorer builds a scorer from the policy's weights and classifier
func (p *Policy) Scorer() (*scorer.Scorer, error) {
	w, err := p.Weights()
	if err != nil {
		return nil, err
	}
	return scorer.New(w, p.Classifier()), nil
}

// TrustedAuthors returns base extended by the policy's trusted authors
func (p *Policy) TrustedAuthors(base []string) []string {
	if p == nil {
		return base
	}
	return mergeKeywords(base, p.Scoring.TrustedAuthors)
}

func mergeKeywords(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, k := range list {
			k = strings.ToLower(strings.TrimSpace(k))
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// Evaluate checks a finished scan against the policy rules.
func (p *Policy) Evaluate(results []models.ScoredResult, summary aggregator.Summary) *Result {
	if p == nil {
		return &Result{Pass: true}
	}

	var violations []Violation

	// max_high_risk
	if p.Rules.MaxHighRisk != nil && summary.HighRisk > *p.Rules.MaxHighRisk {
		violations = append(violations, Violation{
			Rule:    "max_high_risk",
			Message: fmt.Sprintf("high-risk targets %d exceeds limit %d", summary.HighRisk, *p.Rules.MaxHighRisk),
		})
	}

	// max_critical
	if p.Rules.MaxCritical != nil {
		count := summary.BySeverity[string(models.SeverityCritical)]
		if count > *p.Rules.MaxCritical {
			violations = append(violations, Violation{
				Rule:    "max_critical",
				Message: fmt.Sprintf("critical targets %d exceeds limit %d", count, *p.Rules.MaxCritical),
			})
		}
	}

	// max_score
	if p.Rules.MaxScore != nil && summary.MaxScore > *p.Rules.MaxScore {
		violations = append(violations, Violation{
			Rule:    "max_score",
			Message: fmt.Sprintf("max score %d exceeds limit %d", summary.MaxScore, *p.Rules.MaxScore),
		})
	}

	// forbid_flags
	violations = append(violations, forbidden("forbid_flags", p.Rules.ForbidFlags, results, func(r models.ScoredResult) []string {
		return r.SecurityFlags
	})...)

	// forbid_tags
	violations = append(violations, forbidden("forbid_tags", p.Rules.ForbidTags, results, func(r models.ScoredResult) []string {
		return r.RiskTags
	})...)

	return &Result{
		Pass:       len(violations) == 0,
		Violations: violations,
	}
}

// forbidden reports, per forbidden family, the targets carrying a label of that family
func forbidden(rule string, families []string, results []models.ScoredResult, labels func(models.ScoredResult) []string) []Violation {
	if len(families) == 0 {
		return nil
	}
	want := make(map[string]bool, len(families))
	for _, f := range families {
		want[strings.ToUpper(aggregator.Family(f))] = true
	}

	hits := make(map[string][]string)
	for _, r := range results {
		counted := make(map[string]bool)
		for _, l := range labels(r) {
			fam := aggregator.Family(l)
			if want[fam] && !counted[fam] {
				counted[fam] = true
				hits[fam] = append(hits[fam], r.Slug)
			}
		}
	}

	fams := make([]string, 0, len(hits))
	for f := range hits {
		fams = append(fams, f)
	}
	sort.Strings(fams)

	var out []Violation
	for _, f := range fams {
		out = append(out, Violation{
			Rule:    rule,
			Message: fmt.Sprintf("%s found on %d target(s): %s", f, len(hits[f]), strings.Join(hits[f], ", ")),
		})
	}
	return out
}

// Sample is a commented example policy
const Sample = `# WPHunter scoring policy
version: "1"

scoring:
  # Only the listed weights change; everything else keeps its default.
  weights:
    ajax_no_nonce: 25
    dangerous_functions:
      unserialize: 12
  risky_categories:
    - lms
  trusted_authors:
    - my-agency

rules:
  max_high_risk: 10
  max_critical: 0
  forbid_flags:
    - AJAX_NO_NONCE
`
