package models

import "time"

// TargetKind distinguishes plugins from themes
type TargetKind string

const (
	KindPlugin TargetKind = "plugin"
	KindTheme  TargetKind = "theme"
)

// TargetMetadata describes one catalog entry as reported by the metadata source.
// It is immutable once fetched.
type TargetMetadata struct {
	Slug           string     `json:"slug"`
	Name           string     `json:"name"`
	Version        string     `json:"version"`
	Kind           TargetKind `json:"kind"`
	ActiveInstalls int        `json:"active_installs"`
	LastUpdated    time.Time  `json:"last_updated,omitempty"`
	TestedWP       string     `json:"tested_wp,omitempty"`
	Author         string     `json:"author,omitempty"`
	AuthorTrusted  bool       `json:"author_trusted"`
	Tags           []string   `json:"tags"`
	DownloadLink   string     `json:"download_link,omitempty"`
}

// DaysSinceUpdate returns whole days between LastUpdated and asOf.
// An unknown update time yields -1.
func (t TargetMetadata) DaysSinceUpdate(asOf time.Time) int {
	if t.LastUpdated.IsZero() {
		return -1
	}
	d := asOf.Sub(t.LastUpdated)
	if d < 0 {
		return 0
	}
	return int(d.Hours() / 24)
}
