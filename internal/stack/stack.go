// Package stack constructs the stores and pipeline components described by
// the configuration. Both binaries share it.
package stack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/maruel/avatardb/internal/config"
	"github.com/maruel/avatardb/internal/githubapp"
	"github.com/maruel/avatardb/internal/mirror"
	"github.com/maruel/avatardb/internal/storage"
	"github.com/maruel/avatardb/internal/storage/blob"
	"github.com/maruel/avatardb/internal/storage/cdn"
	"github.com/maruel/avatardb/internal/storage/git"
	"github.com/maruel/avatardb/internal/storage/github"
	"github.com/maruel/avatardb/internal/storage/kv"
	"github.com/maruel/avatardb/internal/tiered"
)

// Stack holds the wired components. Optional stores are nil when not
// configured.
type Stack struct {
	Layout *tiered.Layout

	Source storage.SourceStore
	Blobs  storage.BlobStore
	Hot    storage.KV
	Warm   storage.Snapshots
	Purger storage.Purger

	// Repo is set with the git backend.
	Repo *git.Repo
	// Mirror is set when the git backend has a remote.
	Mirror *mirror.Service
	// AssetDir is set with the dir blob backend.
	AssetDir *blob.Dir

	Resolver    *tiered.Resolver
	Coordinator *tiered.Coordinator
	Invalidator *tiered.Invalidator
	Sweeper     *tiered.Sweeper
	Snapshotter *tiered.Snapshotter

	closers []func() error
}

// Build constructs every store and component. Close releases them.
func Build(ctx context.Context, dataDir string, cfg *config.Config, sec *config.Secrets) (*Stack, error) {
	s := &Stack{Layout: cfg.Layout()}
	hc := &http.Client{Timeout: s.Layout.Timeout + 5*time.Second}
	if err := s.buildSource(ctx, dataDir, cfg, sec); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.buildBlobs(ctx, dataDir, cfg); err != nil {
		_ = s.Close()
		return nil, err
	}
	switch cfg.Hot.Backend {
	case "sqlite":
		db, err := kv.OpenSQLite(config.Resolve(dataDir, cfg.Hot.Path))
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		s.Hot = db
	case "http":
		s.Hot = kv.NewHTTP(cfg.Hot.URL, sec.KVToken, hc)
	}
	if cfg.Warm.BaseURL != "" {
		s.Warm = cdn.NewSnapshots(cfg.Warm.BaseURL, hc)
	}
	if cfg.Warm.PurgeURL != "" {
		s.Purger = cdn.NewPurger(cfg.Warm.PurgeURL, sec.CDNPurgeToken, cfg.Warm.Site, hc)
	}

	s.Resolver = tiered.NewResolver(s.Layout, s.Source, s.Warm, s.Hot)
	s.Coordinator = tiered.NewCoordinator(s.Layout, s.Source, s.Blobs)
	s.Snapshotter = tiered.NewSnapshotter(s.Layout, s.Source)
	if s.Blobs != nil {
		s.Sweeper = tiered.NewSweeper(s.Layout, s.Source, s.Blobs)
	}
	sweeper := s.Sweeper
	if !cfg.Sweep {
		sweeper = nil
	}
	s.Invalidator = tiered.NewInvalidator(s.Layout, s.Warm, s.Hot, s.Purger, sweeper)
	return s, nil
}

func (s *Stack) buildSource(ctx context.Context, dataDir string, cfg *config.Config, sec *config.Secrets) error {
	src := &cfg.Source
	switch src.Backend {
	case "git":
		repo, err := git.Open(ctx, config.Resolve(dataDir, src.Git.Dir), src.Git.AuthorName, src.Git.AuthorEmail)
		if err != nil {
			return err
		}
		s.Repo = repo
		s.Source = repo
		if src.Git.RemoteURL != "" {
			var ts oauth2.TokenSource
			if sec.GitHubToken != "" {
				ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: sec.GitHubToken})
			}
			s.Mirror = mirror.New(repo, src.Git.RemoteURL, src.Git.Branch, ts)
			repo.OnCommit(s.Mirror.TriggerPush)
			s.closers = append(s.closers, func() error { s.Mirror.Stop(); return nil })
		}
		return nil
	case "github":
		ts, err := githubTokenSource(ctx, &src.GitHub, sec)
		if err != nil {
			return err
		}
		branch := src.GitHub.Branch
		if branch == "" {
			branch = src.Ref
		}
		st, err := github.New(ctx, ts, &github.Options{
			Owner:   src.GitHub.Owner,
			Repo:    src.GitHub.Repo,
			Branch:  branch,
			BaseURL: src.GitHub.APIURL,
			Rate:    src.GitHub.RequestsPerSecond,
		})
		if err != nil {
			return err
		}
		s.Source = st
		return nil
	default:
		return fmt.Errorf("unknown source backend %q", src.Backend)
	}
}

// githubTokenSource returns the App installation token source when an App
// is configured, GITHUB_TOKEN otherwise.
func githubTokenSource(ctx context.Context, g *config.GitHubSource, sec *config.Secrets) (oauth2.TokenSource, error) {
	if g.AppID == 0 {
		if sec.GitHubToken == "" {
			slog.WarnContext(ctx, "No GitHub credentials, API calls are unauthenticated")
			return nil, nil
		}
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: sec.GitHubToken}), nil
	}
	key, err := githubapp.LoadPrivateKey(g.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("github app: %w", err)
	}
	app := githubapp.NewClient(g.AppID, key, g.APIURL)
	id := g.InstallationID
	if id == 0 {
		if id, err = app.RepoInstallation(ctx, g.Owner, g.Repo); err != nil {
			return nil, fmt.Errorf("github app: find installation: %w", err)
		}
		slog.InfoContext(ctx, "Using GitHub App installation", "id", id)
	}
	// The token source outlives the startup context.
	return oauth2.ReuseTokenSource(nil, app.TokenSource(context.WithoutCancel(ctx), id)), nil
}

func (s *Stack) buildBlobs(ctx context.Context, dataDir string, cfg *config.Config) error {
	b := &cfg.Blob
	switch b.Backend {
	case "dir":
		d, err := blob.NewDir(config.Resolve(dataDir, b.Dir))
		if err != nil {
			return err
		}
		s.AssetDir = d
		s.Blobs = d
	case "gcs":
		var opts []option.ClientOption
		if b.GCS.CredentialsFile != "" {
			if _, err := os.Stat(b.GCS.CredentialsFile); err != nil {
				return fmt.Errorf("gcs: credentials: %w", err)
			}
			opts = append(opts, option.WithCredentialsFile(b.GCS.CredentialsFile)) //nolint:staticcheck // service account file from the operator
		}
		g, err := blob.NewGCS(ctx, &blob.GCSOptions{
			Bucket:       b.GCS.Bucket,
			Prefix:       b.GCS.Prefix,
			CacheControl: b.GCS.CacheControl,
		}, opts...)
		if err != nil {
			return err
		}
		s.Blobs = g
	}
	return nil
}

// Close releases the stores.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}
