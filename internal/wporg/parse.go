package wporg

import (
	"encoding/json"
	"html"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/wphunter/internal/models"
)

// queryResponse is the body of a query_plugins or query_themes call
type queryResponse struct {
	Info    pageInfo    `json:"info"`
	Plugins []rawTarget `json:"plugins"`
	Themes  []rawTarget `json:"themes"`
}

type pageInfo struct {
	Page    int `json:"page"`
	Pages   int `json:"pages"`
	Results int `json:"results"`
}

// rawTarget holds the fields shared by plugin and theme entries. Several of
// them change shape between the two APIs.
type rawTarget struct {
	Name           string          `json:"name"`
	Slug           string          `json:"slug"`
	Version        string          `json:"version"`
	Author         json.RawMessage `json:"author"`
	AuthorProfile  string          `json:"author_profile"`
	Tested         string          `json:"tested"`
	ActiveInstalls int             `json:"active_installs"`
	LastUpdated    string          `json:"last_updated"`
	Tags           json.RawMessage `json:"tags"`
	DownloadLink   string          `json:"download_link"`
}

var lastUpdatedLayouts = []string{
	"2006-01-02 3:04pm MST",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseLastUpdated accepts the layouts the catalog uses. Unknown input yields
// the zero time.
func parseLastUpdated(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range lastUpdatedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// parseTags returns sorted tag slugs. Plugins send a slug to name map, themes
// may send a plain list, and an empty set arrives as [].
func parseTags(raw json.RawMessage) []string {
	tags := []string{}
	if len(raw) == 0 {
		return tags
	}

	var m map[string]string
	if err := json.Unmarshal(raw, &m); err == nil {
		for slug := range m {
			tags = append(tags, strings.ToLower(slug))
		}
		sort.Strings(tags)
		return tags
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, name := range list {
			tags = append(tags, slugify(name))
		}
		sort.Strings(tags)
	}
	return tags
}

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// parseAuthor returns the author's display name. Plugins send an HTML link,
// themes an object with a display_name.
func parseAuthor(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(html.UnescapeString(htmlTag.ReplaceAllString(s, "")))
	}

	var obj struct {
		DisplayName  string `json:"display_name"`
		UserNicename string `json:"user_nicename"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.DisplayName != "" {
			return obj.DisplayName
		}
		return obj.UserNicename
	}
	return ""
}

func slugify(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "-")
}

// profileSlug extracts the user name from a profiles.wordpress.org URL
func profileSlug(profile string) string {
	profile = strings.TrimRight(profile, "/")
	if i := strings.LastIndex(profile, "/"); i >= 0 {
		return strings.ToLower(profile[i+1:])
	}
	return strings.ToLower(profile)
}

func (r rawTarget) toMetadata(kind models.TargetKind, trusted map[string]bool) models.TargetMetadata {
	author := parseAuthor(r.Author)
	isTrusted := trusted[strings.ToLower(author)] ||
		(r.AuthorProfile != "" && trusted[profileSlug(r.AuthorProfile)])

	return models.TargetMetadata{
		Slug:           r.Slug,
		Name:           html.UnescapeString(r.Name),
		Version:        r.Version,
		Kind:           kind,
		ActiveInstalls: r.ActiveInstalls,
		LastUpdated:    parseLastUpdated(r.LastUpdated),
		TestedWP:       r.Tested,
		Author:         author,
		AuthorTrusted:  isTrusted,
		Tags:           parseTags(r.Tags),
		DownloadLink:   r.DownloadLink,
	}
}
