package scanconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig is returned when a configuration fails validation
var ErrInvalidConfig = errors.New("invalid scan configuration")

// Field names, shared with CLI flag names so explicitly-set flags map onto fields
const (
	FieldPages              = "pages"
	FieldLimit              = "limit"
	FieldMinInstalls        = "min"
	FieldMaxInstalls        = "max"
	FieldSort               = "sort"
	FieldSmart              = "smart"
	FieldAbandoned          = "abandoned"
	FieldUserFacing         = "user-facing"
	FieldThemes             = "themes"
	FieldMinDays            = "min-days"
	FieldMaxDays            = "max-days"
	FieldDeepAnalysis       = "deep-analysis"
	FieldAjaxScan           = "ajax-scan"
	FieldDangerousFunctions = "dangerous-functions"
	FieldAggressive         = "aggressive"
	FieldMinScore           = "min-score"
	FieldWorkers            = "workers"
)

// Sort modes understood by the metadata source
const (
	SortUpdated = "updated"
	SortNew     = "new"
	SortPopular = "popular"
)

// Config holds the parameters of one scan run. It is treated as immutable once built.
type Config struct {
	Pages       int    `json:"pages" validate:"gte=1,lte=1000"`
	Limit       int    `json:"limit" validate:"gte=0"`
	MinInstalls int    `json:"min_installs" validate:"gte=0"`
	MaxInstalls int    `json:"max_installs" validate:"gte=0"`
	Sort        string `json:"sort" validate:"oneof=updated new popular"`

	Smart      bool `json:"smart"`
	Abandoned  bool `json:"abandoned"`
	UserFacing bool `json:"user_facing"`
	Themes     bool `json:"themes"`
	MinDays    int  `json:"min_days" validate:"gte=0"`
	MaxDays    int  `json:"max_days" validate:"gte=0"`

	DeepAnalysis       bool `json:"deep_analysis"`
	AjaxScan           bool `json:"ajax_scan"`
	DangerousFunctions bool `json:"dangerous_functions"`
	Aggressive         bool `json:"aggressive"`
	MinScore           int  `json:"min_score" validate:"gte=0"`

	Workers           int           `json:"workers" validate:"gte=1,lte=64"`
	HighRiskThreshold int           `json:"high_risk_threshold" validate:"gte=0"`
	DownloadTimeout   time.Duration `json:"download_timeout" validate:"gte=0"`

	Output            string `json:"output,omitempty"`
	Format            string `json:"format" validate:"oneof=json csv html xlsx"`
	Download          int    `json:"download" validate:"gte=0"`
	AutoDownloadRisky int    `json:"auto_download_risky" validate:"gte=0"`
}

// Default returns the base configuration before any overlay
func Default() Config {
	return Config{
		Pages:             5,
		Limit:             0,
		MinInstalls:       1000,
		MaxInstalls:       0,
		Sort:              SortUpdated,
		Workers:           1,
		HighRiskThreshold: 40,
		DownloadTimeout:   60 * time.Second,
		Format:            "json",
	}
}

// AbandonedDays is the update age beyond which a target counts as abandoned
const AbandonedDays = 730

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate rejects invalid values and contradictory ranges
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.MaxInstalls > 0 && c.MaxInstalls < c.MinInstalls {
		return fmt.Errorf("%w: max installs (%d) below min installs (%d)", ErrInvalidConfig, c.MaxInstalls, c.MinInstalls)
	}
	if c.MaxDays > 0 && c.MaxDays < c.MinDays {
		return fmt.Errorf("%w: max days (%d) below min days (%d)", ErrInvalidConfig, c.MaxDays, c.MinDays)
	}
	return nil
}

// JSON returns the configuration snapshot stored with a session
func (c Config) JSON() string {
	data, err := json.Marshal(c)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// InstallsInRange reports whether installs lies within the configured bounds
func (c Config) InstallsInRange(installs int) bool {
	if installs < c.MinInstalls {
		return false
	}
	return c.MaxInstalls == 0 || installs <= c.MaxInstalls
}

// AgeInRange reports whether an update age in days lies within the configured bounds.
// Unknown ages pass only when no bound is set.
func (c Config) AgeInRange(days int) bool {
	if days < 0 {
		return c.MinDays == 0 && c.MaxDays == 0
	}
	if days < c.MinDays {
		return false
	}
	return c.MaxDays == 0 || days <= c.MaxDays
}
