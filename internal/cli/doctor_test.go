package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/wphunter/internal/config"
)

// --- summarizeChecks tests ---

func TestSummarizeChecksAllOK(t *testing.T) {
	res := summarizeChecks([]doctorCheck{{Name: "a", Status: "ok"}, {Name: "b", Status: "ok"}})
	if res.Summary != "all checks passed" {
		t.Errorf("summary = %q", res.Summary)
	}
}

func TestSummarizeChecksWarnings(t *testing.T) {
	res := summarizeChecks([]doctorCheck{{Name: "a", Status: "warn"}, {Name: "b", Status: "ok"}})
	if res.Summary != "ok with 1 warning(s)" {
		t.Errorf("summary = %q", res.Summary)
	}
}

func TestSummarizeChecksFailuresWin(t *testing.T) {
	res := summarizeChecks([]doctorCheck{{Name: "a", Status: "warn"}, {Name: "b", Status: "fail"}, {Name: "c", Status: "fail"}})
	if res.Summary != "2 issue(s) found" {
		t.Errorf("summary = %q", res.Summary)
	}
}

// --- writeDoctorText tests ---

func TestWriteDoctorText(t *testing.T) {
	result := doctorResult{
		Checks: []doctorCheck{
			{Name: "config", Status: "ok", Detail: "/home/wphunter.yaml"},
			{Name: "proxy", Status: "fail", Detail: "unsupported proxy scheme"},
			{Name: "downloads", Status: "warn"},
		},
		Summary: "1 issue(s) found",
	}

	out := captureStdout(t, func() {
		if err := writeDoctorText(result); err != nil {
			t.Errorf("writeDoctorText: %v", err)
		}
	})
	for _, want := range []string{"✓ config", "/home/wphunter.yaml", "✗ proxy", "△ downloads", "1 issue(s) found"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

// --- individual checks ---

func TestCheckConfigWithoutFile(t *testing.T) {
	withTestConfig(t, config.DefaultConfig())
	if c := checkConfig(); c.Status != "warn" {
		t.Errorf("status = %s, want warn", c.Status)
	}
}

func TestCheckConfigWithFile(t *testing.T) {
	c := config.DefaultConfig()
	c.Source = "/etc/wphunter/wphunter.yaml"
	withTestConfig(t, c)
	if got := checkConfig(); got.Status != "ok" || got.Detail != c.Source {
		t.Errorf("check = %+v", got)
	}
}

func TestCheckDatabaseCreatesFile(t *testing.T) {
	c := config.DefaultConfig()
	c.DBPath = filepath.Join(t.TempDir(), "fresh.db")
	withTestConfig(t, c)

	got := checkDatabase(context.Background())
	if got.Status != "ok" || !strings.Contains(got.Detail, "created") {
		t.Errorf("check = %+v", got)
	}
}

func TestCheckDatabaseReportsLastSession(t *testing.T) {
	seedDatabase(t)
	got := checkDatabase(context.Background())
	if got.Status != "ok" || !strings.Contains(got.Detail, "COMPLETED") {
		t.Errorf("check = %+v", got)
	}
}

func TestCheckPolicy(t *testing.T) {
	c := config.DefaultConfig()
	withTestConfig(t, c)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	c.PolicyFile = path
	if got := checkPolicy(); got.Status != "fail" {
		t.Errorf("missing explicit policy: %+v", got)
	}

	if err := os.WriteFile(path, []byte("rules:\n  max_score: 80\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := checkPolicy(); got.Status != "ok" {
		t.Errorf("valid policy: %+v", got)
	}

	if err := os.WriteFile(path, []byte("rules: [unclosed\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := checkPolicy(); got.Status != "fail" {
		t.Errorf("broken policy: %+v", got)
	}
}

func TestCheckProxy(t *testing.T) {
	c := config.DefaultConfig()
	withTestConfig(t, c)
	if got := checkProxy(); got.Status != "ok" {
		t.Errorf("no proxy: %+v", got)
	}

	c.Proxy = "socks5://127.0.0.1:9050"
	if got := checkProxy(); got.Status != "ok" {
		t.Errorf("socks proxy: %+v", got)
	}

	c.Proxy = "ftp://127.0.0.1:21"
	if got := checkProxy(); got.Status != "fail" {
		t.Errorf("ftp proxy: %+v", got)
	}
}

func TestCheckCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(catalogPage))
	}))
	defer srv.Close()

	c := config.DefaultConfig()
	c.APIURL = srv.URL
	withTestConfig(t, c)

	if got := checkCatalog(context.Background()); got.Status != "ok" {
		t.Errorf("check = %+v", got)
	}
}

func TestCheckCatalogUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := config.DefaultConfig()
	c.APIURL = srv.URL
	withTestConfig(t, c)

	if got := checkCatalog(context.Background()); got.Status != "fail" {
		t.Errorf("check = %+v", got)
	}
}

func TestCheckDownloadDir(t *testing.T) {
	c := config.DefaultConfig()
	withTestConfig(t, c)
	if got := checkDownloadDir(); got.Status != "ok" || !strings.Contains(got.Detail, "temporary") {
		t.Errorf("unset dir: %+v", got)
	}

	dir := t.TempDir()
	c.DownloadDir = dir
	if got := checkDownloadDir(); got.Status != "ok" || got.Detail != dir {
		t.Errorf("writable dir: %+v", got)
	}

	file := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	c.DownloadDir = file
	if got := checkDownloadDir(); got.Status != "fail" {
		t.Errorf("file as dir: %+v", got)
	}
}

func TestRunDoctorOfflineJSON(t *testing.T) {
	c := config.DefaultConfig()
	c.DBPath = filepath.Join(t.TempDir(), "doctor.db")
	withTestConfig(t, c)
	setVar(t, &doctorFormat, "json")
	setVar(t, &doctorOffline, true)

	out := captureStdout(t, func() {
		if err := runDoctor(nil, nil); err != nil {
			t.Errorf("runDoctor: %v", err)
		}
	})

	var res doctorResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("unmarshal %q: %v", out, err)
	}
	names := make([]string, 0, len(res.Checks))
	for _, c := range res.Checks {
		names = append(names, c.Name)
		if c.Name == "catalog" {
			t.Error("offline doctor should not contact the catalog")
		}
	}
	if strings.Join(names, ",") != "config,database,policy,proxy,downloads" {
		t.Errorf("checks = %v", names)
	}
}
