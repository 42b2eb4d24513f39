package api

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ppiankov/wphunter/internal/models"
	"github.com/ppiankov/wphunter/internal/scanconfig"
	"github.com/ppiankov/wphunter/internal/storage"
)

const (
	// MaxResultLimit bounds the results returned by one request.
	MaxResultLimit = 1000

	// MaxSessionLimit bounds the sessions returned by one request.
	MaxSessionLimit = 500
)

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

// ValidateSessionID verifies a session identifier is a canonical UUID.
func ValidateSessionID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("session id must be a UUID")
	}
	return nil
}

// ParseLimit parses a positive limit. Empty input yields def; values above max
// are clamped.
func ParseLimit(raw string, def, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}

// ParseResultQuery builds a repository query from request parameters.
// Unknown sort keys fall back to score, unknown orders to descending.
func ParseResultQuery(sortBy, order, limit string) (storage.ResultQuery, error) {
	n, err := ParseLimit(limit, storage.DefaultResultLimit, MaxResultLimit)
	if err != nil {
		return storage.ResultQuery{}, err
	}
	return storage.ResultQuery{
		SortBy: models.ParseSortKey(sortBy),
		Order:  models.ParseSortOrder(order),
		Limit:  n,
	}, nil
}

// ScanRequest is the body of a scan start request. Absent fields keep the
// server's defaults and do not count as explicitly set.
type ScanRequest struct {
	Pages              *int    `json:"pages"`
	Limit              *int    `json:"limit"`
	MinInstalls        *int    `json:"min"`
	MaxInstalls        *int    `json:"max"`
	Sort               *string `json:"sort"`
	Smart              *bool   `json:"smart"`
	Abandoned          *bool   `json:"abandoned"`
	UserFacing         *bool   `json:"user-facing"`
	Themes             *bool   `json:"themes"`
	MinDays            *int    `json:"min-days"`
	MaxDays            *int    `json:"max-days"`
	DeepAnalysis       *bool   `json:"deep-analysis"`
	AjaxScan           *bool   `json:"ajax-scan"`
	DangerousFunctions *bool   `json:"dangerous-functions"`
	Aggressive         *bool   `json:"aggressive"`
	MinScore           *int    `json:"min-score"`
	Workers            *int    `json:"workers"`
}

// Apply copies the present fields over base and records them as explicit.
func (r ScanRequest) Apply(base scanconfig.Config) (scanconfig.Config, scanconfig.Explicit) {
	cfg := base
	explicit := scanconfig.Explicit{}

	setInt := func(field string, src *int, dst *int) {
		if src != nil {
			*dst = *src
			explicit[field] = true
		}
	}
	setBool := func(field string, src *bool, dst *bool) {
		if src != nil {
			*dst = *src
			explicit[field] = true
		}
	}

	setInt(scanconfig.FieldPages, r.Pages, &cfg.Pages)
	setInt(scanconfig.FieldLimit, r.Limit, &cfg.Limit)
	setInt(scanconfig.FieldMinInstalls, r.MinInstalls, &cfg.MinInstalls)
	setInt(scanconfig.FieldMaxInstalls, r.MaxInstalls, &cfg.MaxInstalls)
	setInt(scanconfig.FieldMinDays, r.MinDays, &cfg.MinDays)
	setInt(scanconfig.FieldMaxDays, r.MaxDays, &cfg.MaxDays)
	setInt(scanconfig.FieldMinScore, r.MinScore, &cfg.MinScore)
	setInt(scanconfig.FieldWorkers, r.Workers, &cfg.Workers)
	if r.Sort != nil {
		cfg.Sort = strings.ToLower(strings.TrimSpace(*r.Sort))
		explicit[scanconfig.FieldSort] = true
	}
	setBool(scanconfig.FieldSmart, r.Smart, &cfg.Smart)
	setBool(scanconfig.FieldAbandoned, r.Abandoned, &cfg.Abandoned)
	setBool(scanconfig.FieldUserFacing, r.UserFacing, &cfg.UserFacing)
	setBool(scanconfig.FieldThemes, r.Themes, &cfg.Themes)
	setBool(scanconfig.FieldDeepAnalysis, r.DeepAnalysis, &cfg.DeepAnalysis)
	setBool(scanconfig.FieldAjaxScan, r.AjaxScan, &cfg.AjaxScan)
	setBool(scanconfig.FieldDangerousFunctions, r.DangerousFunctions, &cfg.DangerousFunctions)
	setBool(scanconfig.FieldAggressive, r.Aggressive, &cfg.Aggressive)

	return cfg, explicit
}

// Build applies the request and the mode overlays to base and validates the result.
func (r ScanRequest) Build(base scanconfig.Config) (scanconfig.Config, []string, error) {
	cfg, explicit := r.Apply(base)
	return scanconfig.Build(cfg, explicit, scanconfig.Overlays()...)
}
