package scan

import (
	"time"

	"github.com/ppiankov/wphunter/internal/models"
	"github.com/ppiankov/wphunter/internal/scanconfig"
	"github.com/ppiankov/wphunter/internal/scorer"
)

// Filter names, used in logs and metrics
const (
	FilterInstalls   = "installs"
	FilterAge        = "age"
	FilterAbandoned  = "abandoned"
	FilterSmart      = "smart"
	FilterUserFacing = "user_facing"
	FilterAjax       = "ajax"
	FilterDangerous  = "dangerous_functions"
	FilterMinScore   = "min_score"
)

// metadataFilter returns the name of the first metadata-only filter that rejects
// the target, or "" when it passes. These run before any download.
func metadataFilter(cfg scanconfig.Config, cls scorer.Classifier, t models.TargetMetadata, asOf time.Time) string {
	if !cfg.InstallsInRange(t.ActiveInstalls) {
		return FilterInstalls
	}
	days := t.DaysSinceUpdate(asOf)
	if !cfg.AgeInRange(days) {
		return FilterAge
	}
	if cfg.Abandoned && days <= scanconfig.AbandonedDays {
		return FilterAbandoned
	}
	if cfg.Smart && !cls.IsRiskyCategory(t) {
		return FilterSmart
	}
	if cfg.UserFacing && !cls.IsUserFacing(t) {
		return FilterUserFacing
	}
	return ""
}

// analysisFilter applies the code-level focus filters
func analysisFilter(cfg scanconfig.Config, a *models.CodeAnalysisResult) string {
	if cfg.AjaxScan && (a == nil || a.Count(models.CategoryAjaxEndpoints) == 0) {
		return FilterAjax
	}
	if cfg.DangerousFunctions && (a == nil || a.Count(models.CategoryDangerousFunctions) == 0) {
		return FilterDangerous
	}
	return ""
}
