package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	t.Setenv("CLODA_HOME", t.TempDir())
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("CLODA_HOME", filepath.Join(home, "cloda"))
	path := writeConfig(t, `
[store]
backend = "http"
url = "http://localhost:5984"
token = "abc"
rate_limit_qps = 2.5
trace = true
path = "~/mail.db"

[query]
timeout = "5s"

[log]
level = "debug"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	want := Default()
	want.Store = StoreConfig{
		Backend:      BackendHTTP,
		Path:         filepath.Join(home, "mail.db"),
		URL:          "http://localhost:5984",
		Token:        "abc",
		RateLimitQPS: 2.5,
		Trace:        true,
	}
	want.Query.Timeout = Duration{5 * time.Second}
	want.Log.Level = "debug"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
	if level, _ := cfg.Log.SlogLevel(); level != slog.LevelDebug {
		t.Errorf("SlogLevel() = %v, want %v", level, slog.LevelDebug)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Setenv("CLODA_HOME", t.TempDir())
	cases := []struct {
		body string
		want string
	}{
		{"[store]\nbackend = \"ftp\"\n", "unknown store.backend"},
		{"[store]\nbackend = \"http\"\n", "store.url is required"},
		{"[query]\ntimeout = \"soon\"\n", "soon"},
		{"[query]\nmax_timestamp = 0\n", "max_timestamp"},
		{"[log]\nlevel = \"loud\"\n", "log.level"},
		{"[store]\nbackend = \"sqlite\"\ncolour = \"red\"\n", "unknown keys store.colour"},
	}
	for _, tc := range cases {
		_, err := Load(writeConfig(t, tc.body))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("Load(%q) = %v, want error containing %q", tc.body, err, tc.want)
		}
	}
}
