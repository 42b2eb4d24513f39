package scanconfig

import "fmt"

// Explicit is the set of fields the caller set on purpose
type Explicit map[string]bool

// Overlay is a named mode that rewrites defaults before a run starts
type Overlay struct {
	Name    string
	Enabled func(Config) bool
	Apply   func(c Config, explicit Explicit) (Config, []string)
}

// Overlays returns the mode overlays in the order they are applied
func Overlays() []Overlay {
	return []Overlay{abandonedOverlay, aggressiveOverlay, focusOverlay}
}

// Build applies every enabled overlay to base in order and validates the result.
// base is not modified. Notices describe each change made.
func Build(base Config, explicit Explicit, overlays ...Overlay) (Config, []string, error) {
	if overlays == nil {
		overlays = Overlays()
	}

	cfg := base
	var notices []string
	for _, o := range overlays {
		if !o.Enabled(cfg) {
			continue
		}
		var n []string
		cfg, n = o.Apply(cfg, explicit)
		notices = append(notices, n...)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, notices, err
	}
	return cfg, notices, nil
}

// settable reports whether an overlay may replace field: the caller did not set
// it and it still holds its default
func settable[T comparable](explicit Explicit, field string, current, def T) bool {
	return !explicit[field] && current == def
}

var abandonedOverlay = Overlay{
	Name:    "abandoned",
	Enabled: func(c Config) bool { return c.Abandoned },
	Apply: func(c Config, explicit Explicit) (Config, []string) {
		def := Default()
		var notices []string
		if settable(explicit, FieldSort, c.Sort, def.Sort) {
			c.Sort = SortPopular
			notices = append(notices, "abandoned: sort switched to popular")
		}
		if settable(explicit, FieldPages, c.Pages, def.Pages) {
			c.Pages = 100
			notices = append(notices, "abandoned: pages increased to 100")
		}
		return c, notices
	},
}

var aggressiveOverlay = Overlay{
	Name:    "aggressive",
	Enabled: func(c Config) bool { return c.Aggressive },
	Apply: func(c Config, explicit Explicit) (Config, []string) {
		def := Default()
		var notices []string
		if settable(explicit, FieldPages, c.Pages, def.Pages) {
			c.Pages = 200
			notices = append(notices, "aggressive: pages increased to 200")
		}
		if c.Limit == 0 {
			notices = append(notices, "aggressive: no result limit")
		}
		if settable(explicit, FieldMinScore, c.MinScore, def.MinScore) {
			c.MinScore = c.HighRiskThreshold
			notices = append(notices, fmt.Sprintf("aggressive: only results scoring %d or more are shown", c.MinScore))
		}
		// A caller-set smart filter is still switched off, with a notice, so the
		// widened catalog is not narrowed again.
		if c.Smart {
			c.Smart = false
			notices = append(notices, "aggressive: smart category filter disabled")
		}
		return c, notices
	},
}

var focusOverlay = Overlay{
	Name:    "focus",
	Enabled: func(c Config) bool { return c.AjaxScan || c.DangerousFunctions },
	Apply: func(c Config, explicit Explicit) (Config, []string) {
		if settable(explicit, FieldDeepAnalysis, c.DeepAnalysis, false) {
			c.DeepAnalysis = true
			return c, []string{"focus: deep analysis enabled for code-level filters"}
		}
		return c, nil
	},
}
