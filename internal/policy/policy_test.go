package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/wphunter/internal/aggregator"
	"github.com/ppiankov/wphunter/internal/models"
	"github.com/ppiankov/wphunter/internal/scorer"
)

func intPtr(v int) *int { return &v }

func baseResults() []models.ScoredResult {
	return []models.ScoredResult{
		{
			TargetMetadata: models.TargetMetadata{Slug: "risky-forms"},
			Score:          55,
			RiskTags:       []string{"ABANDONED", "RISKY_CATEGORY"},
			SecurityFlags:  []string{"AJAX_NO_NONCE:3", "DANGEROUS_FN:eval", "DANGEROUS_FN:exec"},
		},
		{
			TargetMetadata: models.TargetMetadata{Slug: "mid-gallery"},
			Score:          38,
			RiskTags:       []string{"STALE"},
			SecurityFlags:  []string{"DANGEROUS_FN:unserialize"},
		},
		{
			TargetMetadata: models.TargetMetadata{Slug: "clean"},
			Score:          4,
			RiskTags:       []string{},
			SecurityFlags:  []string{},
		},
	}
}

func baseSummary() aggregator.Summary {
	return aggregator.Summarize(baseResults(), aggregator.Counters{Evaluated: 3}, 40)
}

func TestEvaluateNilPolicy(t *testing.T) {
	var p *Policy
	result := p.Evaluate(baseResults(), baseSummary())
	if !result.Pass {
		t.Error("nil policy should pass")
	}
}

func TestMaxHighRisk(t *testing.T) {
	tests := []struct {
		limit int
		pass  bool
	}{
		{1, true},
		{0, false},
	}
	for _, tt := range tests {
		p := &Policy{Rules: Rules{MaxHighRisk: intPtr(tt.limit)}}
		result := p.Evaluate(baseResults(), baseSummary())
		if result.Pass != tt.pass {
			t.Errorf("limit %d: pass = %v, violations %v", tt.limit, result.Pass, result.Violations)
		}
		if !tt.pass && result.Violations[0].Rule != "max_high_risk" {
			t.Errorf("expected max_high_risk, got %s", result.Violations[0].Rule)
		}
	}
}

func TestMaxCritical(t *testing.T) {
	p := &Policy{Rules: Rules{MaxCritical: intPtr(0)}}
	result := p.Evaluate(baseResults(), baseSummary())
	if result.Pass {
		t.Error("expected fail: one critical target exceeds limit 0")
	}
	if result.Violations[0].Rule != "max_critical" {
		t.Errorf("expected max_critical, got %s", result.Violations[0].Rule)
	}
}

func TestMaxScore(t *testing.T) {
	p := &Policy{Rules: Rules{MaxScore: intPtr(60)}}
	if result := p.Evaluate(baseResults(), baseSummary()); !result.Pass {
		t.Errorf("expected pass, got %v", result.Violations)
	}

	p.Rules.MaxScore = intPtr(50)
	result := p.Evaluate(baseResults(), baseSummary())
	if result.Pass || result.Violations[0].Rule != "max_score" {
		t.Errorf("expected max_score violation, got %v", result.Violations)
	}
}

func TestForbidFlags(t *testing.T) {
	p := &Policy{Rules: Rules{ForbidFlags: []string{"dangerous_fn", "AJAX_NO_NONCE", "SQL_NO_PREPARE"}}}
	result := p.Evaluate(baseResults(), baseSummary())
	if result.Pass {
		t.Fatal("expected fail")
	}
	if len(result.Violations) != 2 {
		t.Fatalf("expected 2 violations (one per family present), got %v", result.Violations)
	}
	if !strings.HasPrefix(result.Violations[0].Message, "AJAX_NO_NONCE found on 1 target") {
		t.Errorf("unexpected message %q", result.Violations[0].Message)
	}
	if !strings.Contains(result.Violations[1].Message, "DANGEROUS_FN found on 2 target(s): risky-forms, mid-gallery") {
		t.Errorf("unexpected message %q", result.Violations[1].Message)
	}
}

func TestForbidTags(t *testing.T) {
	p := &Policy{Rules: Rules{ForbidTags: []string{"ABANDONED"}}}
	result := p.Evaluate(baseResults(), baseSummary())
	if result.Pass || result.Violations[0].Rule != "forbid_tags" {
		t.Errorf("expected forbid_tags violation, got %v", result.Violations)
	}
}

func TestMultipleViolations(t *testing.T) {
	p := &Policy{Rules: Rules{
		MaxHighRisk: intPtr(0),
		MaxScore:    intPtr(10),
		ForbidTags:  []string{"STALE"},
	}}
	result := p.Evaluate(baseResults(), baseSummary())
	if len(result.Violations) != 3 {
		t.Errorf("expected 3 violations, got %d: %v", len(result.Violations), result.Violations)
	}
}

func TestParseWeightsOverlayDefaults(t *testing.T) {
	p, err := Parse([]byte(Sample))
	if err != nil {
		t.Fatalf("parse sample: %v", err)
	}

	w, err := p.Weights()
	if err != nil {
		t.Fatalf("weights: %v", err)
	}
	if w.AjaxNoNonce != 25 {
		t.Errorf("ajax_no_nonce = %d, want 25", w.AjaxNoNonce)
	}
	if w.DangerousFunctions["unserialize"] != 12 {
		t.Errorf("unserialize = %d, want 12", w.DangerousFunctions["unserialize"])
	}
	if w.DangerousFunctions["eval"] != 15 {
		t.Errorf("unlisted dangerous function should keep its default, got %d", w.DangerousFunctions["eval"])
	}
	if w.Stale != 10 {
		t.Errorf("unlisted weight should keep its default, got %d", w.Stale)
	}
	if p.Rules.MaxHighRisk == nil || *p.Rules.MaxHighRisk != 10 {
		t.Error("rules not parsed")
	}
}

func TestParseRejectsBadWeights(t *testing.T) {
	if _, err := Parse([]byte("scoring:\n  weights:\n    stale: many\n")); err == nil {
		t.Error("expected error for non-numeric weight")
	}
	if _, err := Parse([]byte("scoring:\n  weights:\n    dangerous_functions:\n      eval: -1\n")); err == nil {
		t.Error("expected error for negative weight")
	}
}

func TestWeightOverrideReachesScorer(t *testing.T) {
	p, err := Parse([]byte("scoring:\n  weights:\n    ajax_no_nonce: 99\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	w, err := p.Weights()
	if err != nil {
		t.Fatalf("weights: %v", err)
	}
	if w.AjaxNoNonce != 99 {
		t.Fatalf("ajax_no_nonce = %d, want 99", w.AjaxNoNonce)
	}

	s, err := p.Scorer()
	if err != nil {
		t.Fatalf("scorer: %v", err)
	}
	analysis := models.NewCodeAnalysisResult()
	analysis.Add(models.CategoryAjaxEndpoints, "wp_ajax_save")
	in := scorer.Input{
		Meta:     models.TargetMetadata{Slug: "ajax-form", AuthorTrusted: true},
		Analysis: analysis,
	}
	got := s.Score(in).Score
	base := scorer.Default().Score(in).Score
	if got-base != 99-scorer.DefaultWeights().AjaxNoNonce {
		t.Errorf("score = %d, default = %d; override not applied", got, base)
	}
}

func TestParseWithoutWeightsKeepsDefaults(t *testing.T) {
	p, err := Parse([]byte("rules:\n  max_critical: 0\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	w, err := p.Weights()
	if err != nil {
		t.Fatalf("weights: %v", err)
	}
	if w.AjaxNoNonce != scorer.DefaultWeights().AjaxNoNonce {
		t.Errorf("ajax_no_nonce = %d, want default", w.AjaxNoNonce)
	}
}

func TestParseRejectsNegativeScalarWeights(t *testing.T) {
	for _, key := range []string{"stale", "ajax_no_nonce", "abandoned_days", "dangerous_default"} {
		_, err := Parse([]byte("scoring:\n  weights:\n    " + key + ": -50\n"))
		if err == nil {
			t.Errorf("%s: expected error for negative weight", key)
			continue
		}
		if !strings.Contains(err.Error(), key) {
			t.Errorf("%s: error should name the weight: %v", key, err)
		}
	}
}

func TestClassifierExtended(t *testing.T) {
	p := &Policy{Scoring: Scoring{RiskyCategories: []string{"LMS", "backup"}, MinTestedWP: "6.3"}}
	c := p.Classifier()
	if !c.IsRiskyCategory(models.TargetMetadata{Slug: "x", Tags: []string{"lms"}}) {
		t.Error("policy category should be risky")
	}
	if c.MinTestedWP != "6.3" {
		t.Errorf("min tested = %s", c.MinTestedWP)
	}
	count := 0
	for _, k := range c.RiskyCategories {
		if k == "backup" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("duplicate category should be merged, found %d", count)
	}
}

func TestScorerUsesPolicy(t *testing.T) {
	var nilPolicy *Policy
	if _, err := nilPolicy.Scorer(); err != nil {
		t.Fatalf("nil policy scorer: %v", err)
	}

	p, err := Parse([]byte(Sample))
	if err != nil {
		t.Fatal(err)
	}
	s, err := p.Scorer()
	if err != nil {
		t.Fatalf("scorer: %v", err)
	}
	if !s.Classifier().IsRiskyCategory(models.TargetMetadata{Slug: "my-lms-addon"}) {
		t.Error("scorer should carry the policy classifier")
	}
}

func TestTrustedAuthors(t *testing.T) {
	var nilPolicy *Policy
	if got := nilPolicy.TrustedAuthors([]string{"a"}); len(got) != 1 {
		t.Errorf("nil policy should return base, got %v", got)
	}
	p := &Policy{Scoring: Scoring{TrustedAuthors: []string{"B", "a"}}}
	got := p.TrustedAuthors([]string{"a"})
	if len(got) != 2 || got[1] != "b" {
		t.Errorf("got %v", got)
	}
}

func TestLoadFromFileNotExist(t *testing.T) {
	p, err := LoadFromFile("/nonexistent/policy.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Error("expected nil policy for missing file")
	}
}

func TestLoadFromFileInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("rules: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestFindPolicyFileFrom(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	if got := FindPolicyFileFrom(nested); got != "" && strings.HasPrefix(got, root) {
		t.Errorf("expected no policy under %s, got %s", root, got)
	}

	want := filepath.Join(root, "a", ".wphunter-policy.yml")
	if err := os.WriteFile(want, []byte(Sample), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := FindPolicyFileFrom(nested); got != want {
		t.Errorf("FindPolicyFileFrom = %q, want %q", got, want)
	}
}
