package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestLoadCreatesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultLanguage != "ja" || cfg.Source.Backend != "git" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	again, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if again.Timeouts.Store != Duration(10*time.Second) {
		t.Errorf("store timeout = %v", again.Timeouts.Store.Std())
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	data := `
languages: [en, fr]
source:
  backend: github
  delimiter: ";"
  github:
    owner: o
    repo: r
blob:
  backend: gcs
  gcs:
    bucket: avatars
hot:
  backend: http
  url: https://kv.example.com/ns
timeouts:
  store: 3
server:
  snapshot_ttl: 90s
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultLanguage != "en" {
		t.Errorf("DefaultLanguage = %q, want the first language", cfg.DefaultLanguage)
	}
	if got := strings.Join(cfg.Languages, ","); got != "en,fr" {
		t.Errorf("Languages = %s", got)
	}
	l := cfg.Layout()
	if l.Delimiter != ';' || l.Timeout != 3*time.Second || l.AssetExt != "webp" {
		t.Errorf("Layout() = %+v", l)
	}
	if cfg.Server.SnapshotTTL.Std() != 90*time.Second {
		t.Errorf("SnapshotTTL = %v", cfg.Server.SnapshotTTL.Std())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"no languages", func(c *Config) { c.Languages = nil }, "languages is required"},
		{"bad language", func(c *Config) { c.Languages = []string{"ja", "EN!"} }, "invalid language"},
		{"duplicate", func(c *Config) { c.Languages = []string{"ja", "ja"} }, "listed twice"},
		{"default missing", func(c *Config) { c.DefaultLanguage = "de" }, "default_language"},
		{"delimiter", func(c *Config) { c.Source.Delimiter = "\"" }, "delimiter"},
		{"source backend", func(c *Config) { c.Source.Backend = "svn" }, "unknown backend"},
		{"github repo", func(c *Config) { c.Source.Backend = "github" }, "owner and repo"},
		{"github app key", func(c *Config) {
			c.Source.Backend = "github"
			c.Source.GitHub = GitHubSource{Owner: "o", Repo: "r", AppID: 1}
		}, "private_key_path"},
		{"gcs bucket", func(c *Config) { c.Blob.Backend = "gcs" }, "bucket"},
		{"hot url", func(c *Config) { c.Hot = Hot{Backend: "http", URL: "ftp://x"} }, "http(s)"},
		{"warm url", func(c *Config) { c.Warm.BaseURL = "cdn.example.com" }, "base_url"},
		{"rate window", func(c *Config) { c.Server.WriteRate.Window = 0 }, "window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestDuration(t *testing.T) {
	var v struct {
		D Duration `yaml:"d"`
	}
	if err := yaml.Unmarshal([]byte("d: 1m30s\n"), &v); err != nil {
		t.Fatal(err)
	}
	if v.D.Std() != 90*time.Second {
		t.Errorf("got %v", v.D.Std())
	}
	b, err := yaml.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "d: 1m30s\n" {
		t.Errorf("Marshal = %q", b)
	}
	if err := yaml.Unmarshal([]byte("d: soon\n"), &v); err == nil {
		t.Error("expected error")
	}
}

func TestResolve(t *testing.T) {
	if got := Resolve("/data", "assets"); got != filepath.Join("/data", "assets") {
		t.Errorf("Resolve() = %q", got)
	}
	if got := Resolve("/data", "/srv/assets"); got != "/srv/assets" {
		t.Errorf("Resolve() = %q", got)
	}
}
