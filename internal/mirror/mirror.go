// Mirrors the local source repository to a remote after each commit.

package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/maruel/avatardb/internal/storage/git"
)

const defaultDebounce = 5 * time.Second

// Status is the outcome of the latest push.
type Status struct {
	State    string    `json:"state"` // idle, syncing, error
	LastSync time.Time `json:"lastSync,omitzero"`
	Error    string    `json:"error,omitempty"`
}

// Service pushes a branch to a remote, debouncing bursts of commits.
type Service struct {
	pusher   git.Pusher
	remote   string
	branch   string
	tokens   oauth2.TokenSource // nil for anonymous or credentialed URLs
	debounce time.Duration

	mu      sync.Mutex
	active  bool
	// pending is set when a push was requested while one was running.
	pending bool
	timer   *time.Timer
	cancel  context.CancelFunc
	status  Status
}

// New creates a mirror service. tokens may be nil.
func New(pusher git.Pusher, remote, branch string, tokens oauth2.TokenSource) *Service {
	return &Service{
		pusher:   pusher,
		remote:   remote,
		branch:   branch,
		tokens:   tokens,
		debounce: defaultDebounce,
		status:   Status{State: "idle"},
	}
}

// TriggerPush schedules a push, replacing any pending one.
func (s *Service) TriggerPush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.timer != nil {
		s.timer.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	s.cancel = cancel
	s.timer = time.AfterFunc(s.debounce, func() {
		defer cancel()
		if err := s.Push(ctx); err != nil {
			slog.ErrorContext(ctx, "Auto-push failed", "remote", s.remote, "err", err)
		}
	})
}

// Stop cancels any pending push.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// Push pushes the branch now. When a push is in progress it returns at once
// and the running push goes again after it completes, so commits made in the
// meantime reach the remote too.
func (s *Service) Push(ctx context.Context) error {
	if !s.tryAcquire() {
		return nil
	}
	for {
		err := s.push(ctx)
		if s.release() {
			return err
		}
	}
}

func (s *Service) push(ctx context.Context) error {
	if s.remote == "" {
		return errors.New("no remote configured")
	}
	s.setStatus("syncing", "")
	url, err := s.authURL()
	if err != nil {
		s.setStatus("error", err.Error())
		return err
	}
	if err := s.pusher.Push(ctx, url, s.branch); err != nil {
		s.setStatus("error", err.Error())
		return fmt.Errorf("push: %w", err)
	}
	s.mu.Lock()
	s.status = Status{State: "idle", LastSync: time.Now().UTC()}
	s.mu.Unlock()
	slog.InfoContext(ctx, "Pushed mirror", "branch", s.branch)
	return nil
}

// Status returns the state of the latest push.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Service) authURL() (string, error) {
	if s.tokens == nil {
		return s.remote, nil
	}
	tok, err := s.tokens.Token()
	if err != nil {
		return "", fmt.Errorf("get push token: %w", err)
	}
	return git.InjectTokenInURL(s.remote, tok.AccessToken), nil
}

// tryAcquire marks a push as running. If one already is, it records that
// another push is wanted.
func (s *Service) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.pending = true
		return false
	}
	s.active = true
	return true
}

// release ends the running push and returns true, unless another push was
// requested meanwhile, in which case the caller keeps the lock and must push
// again.
func (s *Service) release() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending {
		s.pending = false
		return false
	}
	s.active = false
	return true
}

func (s *Service) setStatus(state, lastError string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.State = state
	s.status.Error = lastError
}
