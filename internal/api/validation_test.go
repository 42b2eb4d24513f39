package api

import (
	"testing"

	"github.com/ppiankov/wphunter/internal/models"
	"github.com/ppiankov/wphunter/internal/scanconfig"
	"github.com/ppiankov/wphunter/internal/storage"
)

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{name: "valid", id: "0b5c3f7e-8d1a-4c52-9e0f-3a6b2d4c8e11", wantErr: false},
		{name: "empty", id: "", wantErr: true},
		{name: "not a uuid", id: "session-1", wantErr: true},
		{name: "path traversal", id: "../etc/passwd", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSessionID(tt.id)
			if tt.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{name: "empty uses default", raw: "", want: 100},
		{name: "value", raw: "25", want: 25},
		{name: "clamped", raw: "5000", want: MaxResultLimit},
		{name: "zero", raw: "0", wantErr: true},
		{name: "negative", raw: "-3", wantErr: true},
		{name: "not a number", raw: "ten", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLimit(tt.raw, 100, MaxResultLimit)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseLimit(%q) = %d, want %d", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseResultQuery(t *testing.T) {
	q, err := ParseResultQuery("installations", "ASC", "10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.SortBy != models.SortByInstallations || q.Order != models.OrderAsc || q.Limit != 10 {
		t.Fatalf("query = %+v", q)
	}

	q, err = ParseResultQuery("bogus; DROP TABLE", "sideways", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.SortBy != models.SortByScore || q.Order != models.OrderDesc || q.Limit != storage.DefaultResultLimit {
		t.Fatalf("fallback query = %+v", q)
	}
}

func TestScanRequestApply(t *testing.T) {
	pages := 3
	sort := " Popular "
	themes := true
	req := ScanRequest{Pages: &pages, Sort: &sort, Themes: &themes}

	cfg, explicit := req.Apply(scanconfig.Default())
	if cfg.Pages != 3 || cfg.Sort != scanconfig.SortPopular || !cfg.Themes {
		t.Fatalf("cfg = %+v", cfg)
	}
	if !explicit[scanconfig.FieldPages] || !explicit[scanconfig.FieldSort] || !explicit[scanconfig.FieldThemes] {
		t.Fatalf("explicit = %v", explicit)
	}
	if explicit[scanconfig.FieldMinInstalls] {
		t.Fatal("absent field marked explicit")
	}
	if cfg.MinInstalls != scanconfig.Default().MinInstalls {
		t.Fatalf("MinInstalls = %d, want default", cfg.MinInstalls)
	}
}

func TestScanRequestBuildAppliesOverlays(t *testing.T) {
	aggressive := true
	cfg, notices, err := ScanRequest{Aggressive: &aggressive}.Build(scanconfig.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pages != 200 {
		t.Fatalf("Pages = %d, want 200", cfg.Pages)
	}
	if len(notices) == 0 {
		t.Fatal("expected overlay notices")
	}

	pages := 7
	cfg, _, err = ScanRequest{Aggressive: &aggressive, Pages: &pages}.Build(scanconfig.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pages != 7 {
		t.Fatalf("explicit Pages overridden: %d", cfg.Pages)
	}
}

func TestScanRequestBuildRejectsInvalid(t *testing.T) {
	lo, hi := 5000, 100
	if _, _, err := (ScanRequest{MinInstalls: &lo, MaxInstalls: &hi}).Build(scanconfig.Default()); err == nil {
		t.Fatal("expected error for inverted install range")
	}
}
