package scorer

import (
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/wphunter/internal/models"
)

// Risk tags derived from metadata
const (
	TagStale           = "STALE"
	TagAbandoned       = "ABANDONED"
	TagHighValue       = "HIGH_VALUE_TARGET"
	TagPopular         = "POPULAR"
	TagEstablished     = "ESTABLISHED"
	TagUntrustedAuthor = "UNTRUSTED_AUTHOR"
	TagRiskyCategory   = "RISKY_CATEGORY"
	TagUserFacing      = "USER_FACING"
	TagOutdatedWP      = "OUTDATED_WP_SUPPORT"
)

// Security flags derived from code analysis
const (
	FlagDangerousFn   = "DANGEROUS_FN"
	FlagAjaxEndpoints = "AJAX_ENDPOINTS"
	FlagAjaxNoNonce   = "AJAX_NO_NONCE"
	FlagUnsanitized   = "UNSANITIZED"
	FlagFileOps       = "FILE_OPERATIONS"
	FlagSQLNoPrepare  = "SQL_NO_PREPARE"
)

// Feature flags, descriptive only
const (
	FeatureAjax      = "AJAX"
	FeatureREST      = "REST_API"
	FeatureFileIO    = "FILE_IO"
	FeatureSQL       = "SQL"
	FeatureNonce     = "NONCE_PROTECTED"
	FeatureTheme     = "THEME_HOOKS"
	FeatureShortcode = "SHORTCODES"
)

// Input is everything a score depends on
type Input struct {
	Meta     models.TargetMetadata
	Analysis *models.CodeAnalysisResult
	// AsOf is the reference time for age computations
	AsOf time.Time
}

// Scorer computes risk scores. It holds no mutable state and is safe for
// concurrent use.
type Scorer struct {
	weights    Weights
	classifier Classifier
}

// New creates a scorer
func New(weights Weights, classifier Classifier) *Scorer {
	return &Scorer{weights: weights, classifier: classifier}
}

// Default creates a scorer with built-in weights and classifier
func Default() *Scorer {
	return New(DefaultWeights(), DefaultClassifier())
}

// Classifier returns the classifier used by the scorer
func (s *Scorer) Classifier() Classifier {
	return s.classifier
}

// tally collects contributions in emission order
type tally struct {
	score         int
	riskTags      []string
	securityFlags []string
	contributions []models.Contribution
}

func (t *tally) risk(signal string, points int, tag string) {
	if points == 0 {
		return
	}
	t.score += points
	t.riskTags = append(t.riskTags, tag)
	t.contributions = append(t.contributions, models.Contribution{Signal: signal, Points: points, Label: tag})
}

func (t *tally) security(signal string, points int, flag string) {
	if points == 0 {
		return
	}
	t.score += points
	t.securityFlags = append(t.securityFlags, flag)
	t.contributions = append(t.contributions, models.Contribution{Signal: signal, Points: points, Label: flag})
}

// Score computes the risk of one target. The same input always yields the same output.
func (s *Scorer) Score(in Input) models.ScoredResult {
	w := s.weights
	meta := in.Meta
	days := meta.DaysSinceUpdate(in.AsOf)

	t := &tally{}

	if days >= 0 {
		if w.StaleAfterDays > 0 && days > w.StaleAfterDays {
			points := w.Stale
			if w.StaleStepDays > 0 {
				points += w.StaleStep * ((days - w.StaleAfterDays) / w.StaleStepDays)
			}
			t.risk("staleness", points, fmt.Sprintf("%s:%dd", TagStale, days))
		}
		if w.AbandonedDays > 0 && days > w.AbandonedDays {
			t.risk("abandoned", w.Abandoned, TagAbandoned)
		}
	}

	switch {
	case w.HighValueInstalls > 0 && meta.ActiveInstalls >= w.HighValueInstalls:
		t.risk("popularity", w.HighValue, TagHighValue)
	case w.PopularInstalls > 0 && meta.ActiveInstalls >= w.PopularInstalls:
		t.risk("popularity", w.Popular, TagPopular)
	case w.EstablishedInstalls > 0 && meta.ActiveInstalls >= w.EstablishedInstalls:
		t.risk("popularity", w.Established, TagEstablished)
	}

	if !meta.AuthorTrusted {
		t.risk("author", w.UntrustedAuthor, TagUntrustedAuthor)
	}

	risky := s.classifier.RiskyMatches(meta)
	if len(risky) > 0 {
		t.risk("risky_category", w.RiskyCategory, TagRiskyCategory+":"+risky[0])
	}

	userFacing := s.classifier.IsUserFacing(meta)
	if userFacing {
		t.risk("user_facing", w.UserFacing, TagUserFacing)
	}

	if s.classifier.IsOutdatedWP(meta) {
		t.risk("wp_support", w.OutdatedWPSupport, TagOutdatedWP)
	}

	var features []string
	if a := in.Analysis; a != nil {
		s.scoreAnalysis(t, a)
		features = featureFlags(a)
	}

	return models.ScoredResult{
		TargetMetadata:  meta,
		Score:           t.score,
		DaysSinceUpdate: days,
		RiskTags:        nonNil(t.riskTags),
		SecurityFlags:   nonNil(t.securityFlags),
		FeatureFlags:    nonNil(features),
		IsRiskyCategory: len(risky) > 0,
		IsUserFacing:    userFacing,
		CodeAnalysis:    in.Analysis,
		Contributions:   t.contributions,
	}
}

func (s *Scorer) scoreAnalysis(t *tally, a *models.CodeAnalysisResult) {
	w := s.weights

	// Get returns sorted findings, which keeps flag order stable
	for _, fn := range a.Get(models.CategoryDangerousFunctions) {
		t.security("dangerous_function", w.dangerousPoints(fn), FlagDangerousFn+":"+fn)
	}

	ajax := a.Count(models.CategoryAjaxEndpoints)
	if ajax > 0 {
		n := ajax
		if w.AjaxEndpointCap > 0 && n > w.AjaxEndpointCap {
			n = w.AjaxEndpointCap
		}
		t.security("ajax_endpoints", w.AjaxEndpoint*n, fmt.Sprintf("%s:%d", FlagAjaxEndpoints, ajax))
		if a.Count(models.CategoryNonceUsage) == 0 {
			t.security("ajax_no_nonce", w.AjaxNoNonce, FlagAjaxNoNonce)
		}
	}

	for _, gap := range a.Get(models.CategorySanitization) {
		t.security("sanitization_gap", w.SanitizationGap, FlagUnsanitized+":"+flagToken(gap))
	}

	if a.Count(models.CategoryFileOperations) > 0 {
		t.security("file_operations", w.FileOperations, FlagFileOps)
	}

	if a.Count(models.CategorySQLQueries) > 0 && !a.Has(models.CategorySQLQueries, "prepare(") {
		t.security("sql_no_prepare", w.SQLNoPrepare, FlagSQLNoPrepare)
	}
}

func featureFlags(a *models.CodeAnalysisResult) []string {
	var out []string
	ajax := a.Count(models.CategoryAjaxEndpoints)
	rest := a.Has(models.CategoryAjaxEndpoints, "register_rest_route")
	if rest {
		ajax--
	}
	if ajax > 0 {
		out = append(out, FeatureAjax)
	}
	if rest {
		out = append(out, FeatureREST)
	}
	if a.Count(models.CategoryFileOperations) > 0 {
		out = append(out, FeatureFileIO)
	}
	if a.Count(models.CategorySQLQueries) > 0 {
		out = append(out, FeatureSQL)
	}
	if a.Count(models.CategoryNonceUsage) > 0 {
		out = append(out, FeatureNonce)
	}
	theme := a.Count(models.CategoryThemeFunctions)
	shortcode := a.Has(models.CategoryThemeFunctions, "add_shortcode")
	if shortcode {
		theme--
	}
	if theme > 0 {
		out = append(out, FeatureTheme)
	}
	if shortcode {
		out = append(out, FeatureShortcode)
	}
	return out
}

// flagToken shortens a gap descriptor to its first word. Commas are removed
// since flags are stored comma-delimited.
func flagToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ReplaceAll(fields[0], ",", "")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
