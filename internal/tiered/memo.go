package tiered

import (
	"context"
	"errors"
	"sync"

	"github.com/maruel/avatardb/internal/record"
)

type memoKey struct{}

// errAbandoned is what waiters see when the first caller panicked.
var errAbandoned = errors.New("resolution abandoned")

// memo shares resolutions between callers within one request.
type memo struct {
	mu    sync.Mutex
	calls map[string]*memoCall
}

type memoCall struct {
	done chan struct{}
	ds   *record.Dataset
	err  error
}

// WithMemo returns a context in which Resolver.Resolve resolves each
// language at most once. Attach it at the start of every request.
func WithMemo(ctx context.Context) context.Context {
	return context.WithValue(ctx, memoKey{}, &memo{calls: map[string]*memoCall{}})
}

func memoFrom(ctx context.Context) *memo {
	m, _ := ctx.Value(memoKey{}).(*memo)
	return m
}

// do runs fn once per language; concurrent callers wait for the first one.
func (m *memo) do(lang string, fn func() (*record.Dataset, error)) (*record.Dataset, error) {
	m.mu.Lock()
	if c, ok := m.calls[lang]; ok {
		m.mu.Unlock()
		<-c.done
		return c.ds, c.err
	}
	c := &memoCall{done: make(chan struct{}), err: errAbandoned}
	m.calls[lang] = c
	m.mu.Unlock()

	defer close(c.done)
	ds, err := fn()
	c.ds, c.err = ds, err
	return ds, err
}
