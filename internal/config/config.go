// Package config loads the deployment configuration from config.yaml in the
// data directory and secrets from .env.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/maruel/avatardb/internal/tiered"
)

// FileName is the name of the configuration file in the data directory.
const FileName = "config.yaml"

// Config is the deployment configuration.
type Config struct {
	// Languages served. The first one is the default unless DefaultLanguage is set.
	Languages       []string `yaml:"languages"`
	DefaultLanguage string   `yaml:"default_language"`

	Source   Source   `yaml:"source"`
	Blob     Blob     `yaml:"blob"`
	Hot      Hot      `yaml:"hot"`
	Warm     Warm     `yaml:"warm"`
	Timeouts Timeouts `yaml:"timeouts"`
	Server   Server   `yaml:"server"`

	// Sweep deletes orphaned assets at the end of each hot cache refresh.
	Sweep bool `yaml:"sweep"`
}

// Source selects and configures the source of truth.
type Source struct {
	// Backend is "git" or "github".
	Backend string `yaml:"backend"`
	// PathPattern is the document path; "{lang}" is substituted.
	PathPattern string `yaml:"path_pattern"`
	// Delimiter is the single character field separator.
	Delimiter string       `yaml:"delimiter"`
	Ref       string       `yaml:"ref"`
	Git       GitSource    `yaml:"git"`
	GitHub    GitHubSource `yaml:"github"`
}

// GitSource is a local repository, optionally mirrored to a remote.
type GitSource struct {
	// Dir is relative to the data directory when not absolute.
	Dir         string `yaml:"dir"`
	RemoteURL   string `yaml:"remote_url"`
	Branch      string `yaml:"branch"`
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// GitHubSource is a repository accessed through the contents API.
//
// Authentication is GITHUB_TOKEN, or a GitHub App when AppID is set.
type GitHubSource struct {
	Owner  string `yaml:"owner"`
	Repo   string `yaml:"repo"`
	Branch string `yaml:"branch"`
	APIURL string `yaml:"api_url"`
	// RequestsPerSecond throttles API calls. 0 means unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	AppID int64 `yaml:"app_id"`
	// InstallationID is looked up from Owner/Repo when 0.
	InstallationID int64  `yaml:"installation_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

// Blob configures the asset store.
type Blob struct {
	// Backend is "dir", "gcs" or "none".
	Backend string `yaml:"backend"`
	// Dir is relative to the data directory when not absolute.
	Dir string `yaml:"dir"`
	// Ext is the asset key extension without the dot.
	Ext string `yaml:"ext"`
	GCS GCS    `yaml:"gcs"`
	// PublicBaseURL prefixes asset keys to form public URLs.
	PublicBaseURL string `yaml:"public_base_url"`
	// MaxBytes bounds the size of one asset.
	MaxBytes int64 `yaml:"max_bytes"`
}

// GCS is a Google Cloud Storage bucket.
type GCS struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
	CacheControl    string `yaml:"cache_control"`
}

// Hot configures the edge key-value cache.
type Hot struct {
	// Backend is "sqlite", "http" or "none".
	Backend string `yaml:"backend"`
	// Path of the SQLite database, relative to the data directory when not absolute.
	Path string `yaml:"path"`
	// URL of the KV REST namespace; KV_TOKEN authenticates.
	URL string `yaml:"url"`
}

// Warm configures the CDN serving the JSON snapshots.
type Warm struct {
	// BaseURL is where /data/{lang}.json is fetched from. Empty disables the tier.
	BaseURL string `yaml:"base_url"`
	// PurgeURL is the purge API endpoint; CDN_PURGE_TOKEN authenticates.
	PurgeURL string `yaml:"purge_url"`
	// Site prefixes purged paths.
	Site string `yaml:"site"`
}

// Timeouts bounds network operations.
type Timeouts struct {
	Store Duration `yaml:"store"`
}

// Server configures the HTTP API.
type Server struct {
	// AppOrigin is the only Origin allowed on admin writes. Empty disables the check.
	AppOrigin         string    `yaml:"app_origin"`
	CategorySeparator string    `yaml:"category_separator"`
	SnapshotTTL       Duration  `yaml:"snapshot_ttl"`
	WriteRate         RateLimit `yaml:"write_rate"`
	ReadRate          RateLimit `yaml:"read_rate"`
	// MaxRequestBodyBytes limits the size of any single HTTP request body.
	MaxRequestBodyBytes int64 `yaml:"max_request_body_bytes"`
}

// RateLimit is a token bucket. 0 requests means unlimited.
type RateLimit struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
	Burst    int      `yaml:"burst"`
}

// Validate checks that rate limit values are usable.
func (r *RateLimit) Validate() error {
	if r.Requests < 0 || r.Burst < 0 {
		return errors.New("requests and burst must be non-negative")
	}
	if r.Requests > 0 && r.Window <= 0 {
		return errors.New("window must be positive")
	}
	return nil
}

// Default returns the configuration written on first start.
func Default() *Config {
	return &Config{
		Languages:       []string{"ja", "en"},
		DefaultLanguage: "ja",
		Source: Source{
			Backend:     "git",
			PathPattern: "data/{lang}.csv",
			Delimiter:   ",",
			Git: GitSource{
				Dir:         "source",
				Branch:      "main",
				AuthorName:  "avatardb",
				AuthorEmail: "avatardb@localhost",
			},
		},
		Blob: Blob{
			Backend:  "dir",
			Dir:      "assets",
			Ext:      "webp",
			MaxBytes: 4 << 20,
		},
		Hot:      Hot{Backend: "sqlite", Path: "hot.sqlite"},
		Timeouts: Timeouts{Store: Duration(tiered.DefaultTimeout)},
		Server: Server{
			CategorySeparator:   ",",
			SnapshotTTL:         Duration(5 * time.Minute),
			WriteRate:           RateLimit{Requests: 60, Window: Duration(time.Minute), Burst: 10},
			ReadRate:            RateLimit{Requests: 6000, Window: Duration(time.Minute), Burst: 1000},
			MaxRequestBodyBytes: 10 << 20,
		},
	}
}

// Validate checks that the configuration is consistent.
func (c *Config) Validate() error {
	if len(c.Languages) == 0 {
		return errors.New("languages is required")
	}
	seen := map[string]bool{}
	for _, l := range c.Languages {
		if err := tiered.ValidateLanguage(l); err != nil {
			return fmt.Errorf("languages: %w", err)
		}
		if seen[l] {
			return fmt.Errorf("languages: %q listed twice", l)
		}
		seen[l] = true
	}
	if !seen[c.DefaultLanguage] {
		return fmt.Errorf("default_language %q is not in languages", c.DefaultLanguage)
	}
	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := c.Blob.Validate(); err != nil {
		return fmt.Errorf("blob: %w", err)
	}
	switch c.Hot.Backend {
	case "none":
	case "sqlite":
		if c.Hot.Path == "" {
			return errors.New("hot: path is required")
		}
	case "http":
		if err := checkURL(c.Hot.URL); err != nil {
			return fmt.Errorf("hot: url: %w", err)
		}
	default:
		return fmt.Errorf("hot: unknown backend %q", c.Hot.Backend)
	}
	if c.Warm.BaseURL != "" {
		if err := checkURL(c.Warm.BaseURL); err != nil {
			return fmt.Errorf("warm: base_url: %w", err)
		}
	}
	if c.Warm.PurgeURL != "" {
		if err := checkURL(c.Warm.PurgeURL); err != nil {
			return fmt.Errorf("warm: purge_url: %w", err)
		}
	}
	if c.Timeouts.Store < 0 {
		return errors.New("timeouts: store must be non-negative")
	}
	if err := c.Server.WriteRate.Validate(); err != nil {
		return fmt.Errorf("server: write_rate: %w", err)
	}
	if err := c.Server.ReadRate.Validate(); err != nil {
		return fmt.Errorf("server: read_rate: %w", err)
	}
	if c.Server.MaxRequestBodyBytes < 0 {
		return errors.New("server: max_request_body_bytes must be non-negative")
	}
	if c.Server.SnapshotTTL < 0 {
		return errors.New("server: snapshot_ttl must be non-negative")
	}
	return nil
}

// Validate checks the source section.
func (s *Source) Validate() error {
	if len(s.Delimiter) != 1 || s.Delimiter == "\"" || s.Delimiter == "\n" || s.Delimiter == "\r" {
		return fmt.Errorf("delimiter must be a single character other than a quote or newline, got %q", s.Delimiter)
	}
	switch s.Backend {
	case "git":
		if s.Git.Dir == "" {
			return errors.New("git: dir is required")
		}
	case "github":
		if s.GitHub.Owner == "" || s.GitHub.Repo == "" {
			return errors.New("github: owner and repo are required")
		}
		if s.GitHub.AppID != 0 && s.GitHub.PrivateKeyPath == "" {
			return errors.New("github: private_key_path is required with app_id")
		}
		if s.GitHub.RequestsPerSecond < 0 {
			return errors.New("github: requests_per_second must be non-negative")
		}
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}
	return nil
}

// Validate checks the blob section.
func (b *Blob) Validate() error {
	switch b.Backend {
	case "none":
	case "dir":
		if b.Dir == "" {
			return errors.New("dir is required")
		}
	case "gcs":
		if b.GCS.Bucket == "" {
			return errors.New("gcs: bucket is required")
		}
	default:
		return fmt.Errorf("unknown backend %q", b.Backend)
	}
	if b.MaxBytes <= 0 {
		return errors.New("max_bytes must be positive")
	}
	return nil
}

// Layout returns the pipeline layout described by the configuration.
func (c *Config) Layout() *tiered.Layout {
	return &tiered.Layout{
		Languages:       c.Languages,
		DefaultLanguage: c.DefaultLanguage,
		SourcePattern:   c.Source.PathPattern,
		Ref:             c.Source.Ref,
		Delimiter:       c.Source.Delimiter[0],
		AssetExt:        c.Blob.Ext,
		Timeout:         time.Duration(c.Timeouts.Store),
	}
}

// Resolve returns p relative to dataDir unless it is absolute.
func Resolve(dataDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dataDir, p)
}

// Load loads configuration from dataDir/config.yaml.
// Creates the file with defaults if it doesn't exist.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, FileName)
	cfg := Default()
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from dataDir, not user input
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
		}
		if err := cfg.Save(dataDir); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	// Languages replace the defaults rather than merging with them.
	cfg.Languages = nil
	cfg.DefaultLanguage = ""
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
	}
	if cfg.DefaultLanguage == "" && len(cfg.Languages) > 0 {
		cfg.DefaultLanguage = cfg.Languages[0]
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", FileName, err)
	}
	return cfg, nil
}

// Save saves configuration to dataDir/config.yaml.
func (c *Config) Save(dataDir string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, FileName), data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", FileName, err)
	}
	return nil
}

func checkURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q is not an http(s) URL", s)
	}
	return nil
}
