// Package github implements the source store on the GitHub contents API.
// The revision of a document is its blob SHA.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/maruel/avatardb/internal/storage"
)

// DefaultRate throttles calls well under the authenticated API quota.
const DefaultRate = 5

// Store is a source store backed by one branch of a GitHub repository.
type Store struct {
	gh      *gh.Client
	owner   string
	repo    string
	branch  string
	limiter *rate.Limiter
}

// Options configures a Store.
type Options struct {
	Owner  string
	Repo   string
	Branch string
	// BaseURL overrides the API endpoint, for GitHub Enterprise.
	BaseURL string
	// Rate is the maximum number of API calls per second. Defaults to DefaultRate.
	Rate float64
}

// New returns a store whose API calls authenticate with ts. A nil ts makes
// unauthenticated calls.
func New(ctx context.Context, ts oauth2.TokenSource, opts *Options) (*Store, error) {
	var hc *http.Client
	if ts != nil {
		hc = oauth2.NewClient(ctx, ts)
	} else {
		hc = &http.Client{}
	}
	hc.Timeout = 30 * time.Second
	return NewWithClient(hc, opts)
}

// NewWithClient returns a store using hc for transport.
func NewWithClient(hc *http.Client, opts *Options) (*Store, error) {
	if opts.Owner == "" || opts.Repo == "" {
		return nil, errors.New("github: owner and repo are required")
	}
	c := gh.NewClient(hc)
	if opts.BaseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("github: invalid base url: %w", err)
		}
		c.BaseURL = u
	}
	r := opts.Rate
	if r <= 0 {
		r = DefaultRate
	}
	return &Store{
		gh:      c,
		owner:   opts.Owner,
		repo:    opts.Repo,
		branch:  opts.Branch,
		limiter: rate.NewLimiter(rate.Limit(r), int(r)+1),
	}, nil
}

// Fetch implements storage.SourceStore.
func (s *Store) Fetch(ctx context.Context, path, ref string) (*storage.Document, error) {
	if ref == "" {
		ref = s.branch
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, storage.Unavailable("github: rate limit wait", err)
	}
	fc, dir, _, err := s.gh.Repositories.GetContents(ctx, s.owner, s.repo, path, &gh.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return nil, classify("github: get contents "+path, err)
	}
	if fc == nil {
		return nil, storage.Malformedf("github: %s is a directory with %d entries", path, len(dir))
	}
	var content []byte
	if fc.GetEncoding() == "none" {
		// Files over 1MB come without inline content.
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, storage.Unavailable("github: rate limit wait", err)
		}
		content, _, err = s.gh.Git.GetBlobRaw(ctx, s.owner, s.repo, fc.GetSHA())
		if err != nil {
			return nil, classify("github: get blob "+path, err)
		}
	} else {
		str, err := fc.GetContent()
		if err != nil {
			return nil, storage.Corrupt("github: decode "+path, err)
		}
		content = []byte(str)
	}
	return &storage.Document{Content: content, Revision: fc.GetSHA()}, nil
}

// Commit implements storage.SourceStore. The precondition is enforced by
// GitHub: a stale SHA is answered with 409 and a create over an existing
// file with 422.
func (s *Store) Commit(ctx context.Context, path string, content []byte, revision, message string, author storage.Author) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", storage.Unavailable("github: rate limit wait", err)
	}
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.Ptr(message),
		Content: content,
	}
	if s.branch != "" {
		opts.Branch = gh.Ptr(s.branch)
	}
	if author.Name != "" && author.Email != "" {
		opts.Author = &gh.CommitAuthor{Name: gh.Ptr(author.Name), Email: gh.Ptr(author.Email)}
	}
	var (
		resp *gh.RepositoryContentResponse
		err  error
	)
	if revision == "" {
		resp, _, err = s.gh.Repositories.CreateFile(ctx, s.owner, s.repo, path, opts)
	} else {
		opts.SHA = gh.Ptr(revision)
		resp, _, err = s.gh.Repositories.UpdateFile(ctx, s.owner, s.repo, path, opts)
	}
	if err != nil {
		return "", classify("github: commit "+path, err)
	}
	if resp == nil || resp.Content == nil || resp.Content.GetSHA() == "" {
		return "", storage.Malformedf("github: commit %s: response without content sha", path)
	}
	return resp.Content.GetSHA(), nil
}

func classify(op string, err error) error {
	var er *gh.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		switch er.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w: %w", op, storage.ErrNotFound, err)
		case http.StatusConflict, http.StatusUnprocessableEntity:
			return fmt.Errorf("%s: %w: %w", op, storage.ErrConflict, err)
		}
	}
	return storage.Unavailable(op, err)
}

var _ storage.SourceStore = (*Store)(nil)
