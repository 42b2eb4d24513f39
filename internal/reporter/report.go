package reporter

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/wphunter/internal/aggregator"
	"github.com/ppiankov/wphunter/internal/models"
)

// Format is an output format for result reports
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatHTML Format = "html"
	FormatXLSX Format = "xlsx"
	FormatText Format = "text"
)

// ErrUnknownFormat is returned for unsupported report formats
var ErrUnknownFormat = errors.New("unknown report format")

// ParseFormat parses a format name, case-insensitively
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV, FormatHTML, FormatXLSX, FormatText:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q (supported: json, csv, html, xlsx, text)", ErrUnknownFormat, s)
}

// FormatFromPath infers the format from a file extension, falling back to def
func FormatFromPath(path string, def Format) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".csv":
		return FormatCSV
	case ".html", ".htm":
		return FormatHTML
	case ".xlsx":
		return FormatXLSX
	case ".txt":
		return FormatText
	}
	return def
}

// Document is everything a report can render
type Document struct {
	GeneratedAt     time.Time                   `json:"generated_at"`
	SessionID       string                      `json:"session_id,omitempty"`
	Summary         *aggregator.Summary         `json:"summary,omitempty"`
	Recommendations []aggregator.Recommendation `json:"recommendations,omitempty"`
	Results         []models.ScoredResult       `json:"results"`
}

// NewDocument builds a document with recommendations derived from results
func NewDocument(sessionID string, results []models.ScoredResult, summary *aggregator.Summary) *Document {
	if results == nil {
		results = []models.ScoredResult{}
	}
	return &Document{
		GeneratedAt:     time.Now().UTC(),
		SessionID:       sessionID,
		Summary:         summary,
		Recommendations: aggregator.NewRecommendationGenerator().GenerateRecommendations(results),
		Results:         results,
	}
}

// Reporter renders a document
type Reporter interface {
	Generate(doc *Document) error
}

// New returns the reporter for format writing to w
func New(format Format, w io.Writer) (Reporter, error) {
	switch format {
	case FormatJSON:
		return NewJSONReporter(w, true), nil
	case FormatCSV:
		return NewCSVReporter(w), nil
	case FormatHTML:
		return NewHTMLReporter(w), nil
	case FormatXLSX:
		return NewXLSXReporter(w), nil
	case FormatText:
		return NewTextReporter(w), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Write renders results to path in the given format
func Write(results []models.ScoredResult, path string, format Format) error {
	return WriteDocument(NewDocument("", results, nil), path, format)
}

// WriteDocument renders doc to path. An empty path or "-" writes to stdout,
// except for xlsx which needs a file.
func WriteDocument(doc *Document, path string, format Format) error {
	if path == "" || path == "-" {
		if format == FormatXLSX {
			return fmt.Errorf("xlsx output requires a file path")
		}
		rep, err := New(format, os.Stdout)
		if err != nil {
			return err
		}
		return rep.Generate(doc)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}

	rep, err := New(format, f)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := rep.Generate(doc); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s report: %w", format, err)
	}
	return f.Close()
}

// columns are the flat per-result fields shared by the tabular formats
var columns = []string{
	"slug", "name", "kind", "version", "score", "severity", "active_installs",
	"days_since_update", "last_updated", "tested_wp", "author", "author_trusted",
	"risky_category", "user_facing", "risk_tags", "security_flags", "feature_flags",
	"download_link",
}

func row(r models.ScoredResult) []string {
	return []string{
		r.Slug,
		r.Name,
		string(r.Kind),
		r.Version,
		fmt.Sprint(r.Score),
		string(r.Severity()),
		fmt.Sprint(r.ActiveInstalls),
		fmt.Sprint(r.DaysSinceUpdate),
		formatDate(r),
		r.TestedWP,
		r.Author,
		fmt.Sprint(r.AuthorTrusted),
		fmt.Sprint(r.IsRiskyCategory),
		fmt.Sprint(r.IsUserFacing),
		strings.Join(r.RiskTags, ";"),
		strings.Join(r.SecurityFlags, ";"),
		strings.Join(r.FeatureFlags, ";"),
		r.DownloadLink,
	}
}
