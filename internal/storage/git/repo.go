// Implements storage.SourceStore with go-git (pure Go, no git binary dependency).

package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/maruel/avatardb/internal/storage"
)

// Repo is a source store backed by a git working tree.
type Repo struct {
	dir          string
	defaultName  string
	defaultEmail string
	repo         *gogit.Repository

	// mu serializes compare-and-commit; it is the store's CAS primitive.
	mu       sync.Mutex
	onCommit func()
}

// Open opens the repository at dir, initializing it when needed.
func Open(_ context.Context, dir, defaultName, defaultEmail string) (*Repo, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create repo directory: %w", err)
	}
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		repo, err = gogit.PlainInit(dir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read git config: %w", err)
		}
		cfg.User.Name = defaultName
		cfg.User.Email = defaultEmail
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
	}
	return &Repo{dir: dir, defaultName: defaultName, defaultEmail: defaultEmail, repo: repo}, nil
}

// OnCommit registers fn to be called after every successful commit.
func (r *Repo) OnCommit(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCommit = fn
}

// Fetch implements storage.SourceStore.
func (r *Repo) Fetch(ctx context.Context, path, ref string) (*storage.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Unavailable("fetch", err)
	}
	c, err := r.resolve(ref)
	if err != nil {
		return nil, err
	}
	f, err := c.File(path)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, storage.NotFoundf("%s at %s", path, c.Hash)
		}
		return nil, storage.Unavailable("fetch", err)
	}
	rd, err := f.Reader()
	if err != nil {
		return nil, storage.Unavailable("fetch", err)
	}
	defer func() { _ = rd.Close() }()
	content, err := io.ReadAll(rd)
	if err != nil {
		return nil, storage.Unavailable("fetch", err)
	}
	return &storage.Document{Content: content, Revision: f.Hash.String()}, nil
}

// resolve returns the commit named by ref, or HEAD when ref is empty.
func (r *Repo) resolve(ref string) (*object.Commit, error) {
	var h plumbing.Hash
	if ref == "" || ref == "HEAD" {
		head, err := r.repo.Head()
		if err != nil {
			if errors.Is(err, plumbing.ErrReferenceNotFound) {
				return nil, storage.NotFoundf("repository has no commits")
			}
			return nil, storage.Unavailable("resolve HEAD", err)
		}
		h = head.Hash()
	} else {
		p, err := r.repo.ResolveRevision(plumbing.Revision(ref))
		if err != nil {
			return nil, storage.NotFoundf("revision %q: %v", ref, err)
		}
		h = *p
	}
	c, err := r.repo.CommitObject(h)
	if err != nil {
		return nil, storage.Unavailable("read commit", err)
	}
	return c, nil
}

// current returns the blob hash of path at HEAD, or "" if it does not exist.
func (r *Repo) current(path string) (string, error) {
	c, err := r.resolve("")
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	f, err := c.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return "", nil
	}
	if err != nil {
		return "", storage.Unavailable("read file", err)
	}
	return f.Hash.String(), nil
}

// Commit implements storage.SourceStore.
//
// The comparison against HEAD and the commit happen under the repository
// lock. Once the comparison succeeded the commit is not interrupted by ctx.
func (r *Repo) Commit(ctx context.Context, path string, content []byte, revision, message string, author storage.Author) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", storage.Unavailable("commit", err)
	}
	if path == "" || strings.HasPrefix(path, "/") || strings.Contains(path, "..") {
		return "", storage.Malformedf("invalid path %q", path)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, err := r.current(path)
	if err != nil {
		return "", err
	}
	if cur != revision {
		return "", fmt.Errorf("%w: %s is at %q, expected %q", storage.ErrConflict, path, cur, revision)
	}
	next := plumbing.ComputeHash(plumbing.BlobObject, content).String()
	if next == cur {
		return cur, nil
	}

	full := filepath.Join(r.dir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return "", storage.Unavailable("commit", err)
	}
	if err := os.WriteFile(full, content, 0o644); err != nil { //nolint:gosec // G306: data files are world readable
		return "", storage.Unavailable("commit", err)
	}
	w, err := r.repo.Worktree()
	if err != nil {
		return "", storage.Unavailable("commit", err)
	}
	if _, err := w.Add(path); err != nil {
		return "", storage.Unavailable("commit", fmt.Errorf("failed to stage %s: %w", path, err))
	}
	if author.Name == "" {
		author.Name = r.defaultName
	}
	if author.Email == "" {
		author.Email = r.defaultEmail
	}
	now := time.Now()
	_, err = w.Commit(message, &gogit.CommitOptions{
		Author:    &object.Signature{Name: author.Name, Email: author.Email, When: now},
		Committer: &object.Signature{Name: r.defaultName, Email: r.defaultEmail, When: now},
	})
	if err != nil {
		return "", storage.Unavailable("commit", err)
	}
	if r.onCommit != nil {
		go r.onCommit()
	}
	return next, nil
}

// History returns up to n commits touching path, newest first.
func (r *Repo) History(_ context.Context, path string, n int) ([]*Commit, error) {
	if n <= 0 || n > 1000 {
		n = 1000
	}
	opts := &gogit.LogOptions{}
	if path != "" {
		opts.FileName = &path
	}
	iter, err := r.repo.Log(opts)
	if err != nil {
		return nil, nil // no commits yet is not an error
	}
	defer iter.Close()

	var commits []*Commit
	for range n {
		c, err := iter.Next()
		if err != nil {
			break
		}
		subject, _, _ := strings.Cut(c.Message, "\n")
		commits = append(commits, &Commit{
			Hash:        c.Hash.String(),
			Message:     subject,
			Author:      c.Author.Name,
			AuthorEmail: c.Author.Email,
			AuthorDate:  c.Author.When,
		})
	}
	return commits, nil
}

// Push pushes branch to remoteURL. The URL carries its own credentials, see
// InjectTokenInURL. An up to date remote is not an error.
func (r *Repo) Push(ctx context.Context, remoteURL, branch string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
	defer cancel()

	if branch == "" {
		if ref, err := r.repo.Head(); err == nil {
			branch = ref.Name().Short()
		} else {
			branch = "master"
		}
	}
	remote := gogit.NewRemote(r.repo.Storer, &config.RemoteConfig{Name: "mirror", URLs: []string{remoteURL}})
	refSpec := config.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	err := remote.PushContext(ctx, &gogit.PushOptions{
		RemoteName: "mirror",
		RefSpecs:   []config.RefSpec{refSpec},
	})
	if errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}

var _ storage.SourceStore = (*Repo)(nil)
var _ Pusher = (*Repo)(nil)

