package scorer

import (
	"sort"
	"strconv"
	"strings"

	"github.com/ppiankov/wphunter/internal/models"
)

// DefaultRiskyCategories are tags and slug keywords of plugins that handle
// files, credentials, payments or site administration
var DefaultRiskyCategories = []string{
	"admin",
	"backup",
	"ecommerce",
	"editor",
	"export",
	"file-manager",
	"form",
	"import",
	"login",
	"membership",
	"migration",
	"payment",
	"security",
	"upload",
}

// DefaultUserFacingTags are tags of plugins that accept input from site visitors
var DefaultUserFacingTags = []string{
	"booking",
	"chat",
	"comments",
	"contact-form",
	"forum",
	"gallery",
	"newsletter",
	"poll",
	"registration",
	"review",
	"shop",
	"survey",
	"woocommerce",
}

// Classifier decides the category flags of a target from its metadata
type Classifier struct {
	RiskyCategories []string `yaml:"risky_categories"`
	UserFacingTags  []string `yaml:"user_facing_tags"`
	// MinTestedWP is the lowest major.minor WordPress version considered supported
	MinTestedWP string `yaml:"min_tested_wp"`
}

// DefaultClassifier returns the built-in classifier
func DefaultClassifier() Classifier {
	return Classifier{
		RiskyCategories: append([]string(nil), DefaultRiskyCategories...),
		UserFacingTags:  append([]string(nil), DefaultUserFacingTags...),
		MinTestedWP:     "6.0",
	}
}

// RiskyMatches returns the sorted risky keywords matched by the target's tags or slug
func (c Classifier) RiskyMatches(meta models.TargetMetadata) []string {
	return matchKeywords(meta, c.RiskyCategories)
}

// IsRiskyCategory reports whether the target falls in a risky category
func (c Classifier) IsRiskyCategory(meta models.TargetMetadata) bool {
	return len(c.RiskyMatches(meta)) > 0
}

// IsUserFacing reports whether the target accepts visitor input
func (c Classifier) IsUserFacing(meta models.TargetMetadata) bool {
	return len(matchKeywords(meta, c.UserFacingTags)) > 0
}

// IsOutdatedWP reports whether the target's tested version is below MinTestedWP.
// Unknown versions are not outdated.
func (c Classifier) IsOutdatedWP(meta models.TargetMetadata) bool {
	tested, ok := parseMajorMinor(meta.TestedWP)
	if !ok {
		return false
	}
	floor, ok := parseMajorMinor(c.MinTestedWP)
	if !ok {
		return false
	}
	if tested[0] != floor[0] {
		return tested[0] < floor[0]
	}
	return tested[1] < floor[1]
}

func matchKeywords(meta models.TargetMetadata, keywords []string) []string {
	slug := strings.ToLower(meta.Slug)
	tags := make(map[string]bool, len(meta.Tags))
	for _, t := range meta.Tags {
		tags[normalizeTag(t)] = true
	}

	seen := map[string]bool{}
	var out []string
	for _, kw := range keywords {
		kw = normalizeTag(kw)
		if kw == "" || seen[kw] {
			continue
		}
		if tags[kw] || strings.Contains(slug, kw) {
			seen[kw] = true
			out = append(out, kw)
		}
	}
	sort.Strings(out)
	return out
}

func normalizeTag(t string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(t)), " ", "-")
}

func parseMajorMinor(v string) ([2]int, bool) {
	parts := strings.SplitN(strings.TrimSpace(v), ".", 3)
	if len(parts) == 0 || parts[0] == "" {
		return [2]int{}, false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return [2]int{}, false
	}
	minor := 0
	if len(parts) > 1 {
		if minor, err = strconv.Atoi(parts[1]); err != nil {
			return [2]int{}, false
		}
	}
	return [2]int{major, minor}, true
}
