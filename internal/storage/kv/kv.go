// Package kv implements the hot cache: a REST edge key-value namespace and
// a local SQLite table with the same contract.
package kv

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maruel/avatardb/internal/storage"
)

// maxValueSize caps what Get reads from the edge.
const maxValueSize = 25 << 20

// HTTP talks to an edge KV namespace exposing
// GET/PUT {base}/values/{key}, like Cloudflare Workers KV.
type HTTP struct {
	base   string
	token  string
	client *http.Client
}

// NewHTTP returns a client for the namespace at base. A nil client uses a
// default one with a 30s timeout.
func NewHTTP(base, token string, client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTP{base: strings.TrimSuffix(base, "/"), token: token, client: client}
}

// Get implements storage.KV.
func (h *HTTP) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := h.do(ctx, http.MethodGet, key, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return nil, storage.NotFoundf("kv key %q", key)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kv get %q: %w: status %d", key, storage.ErrUnavailable, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxValueSize))
	if err != nil {
		return nil, storage.Unavailable("kv get", err)
	}
	return b, nil
}

// Put implements storage.KV.
func (h *HTTP) Put(ctx context.Context, key string, value []byte) error {
	resp, err := h.do(ctx, http.MethodPut, key, value)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("kv put %q: %w: status %d", key, storage.ErrUnavailable, resp.StatusCode)
	}
	return nil
}

func (h *HTTP) do(ctx context.Context, method, key string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.base+"/values/"+url.PathEscape(key), rd)
	if err != nil {
		return nil, fmt.Errorf("kv %s %q: %w", method, key, err)
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, storage.Unavailable("kv "+method, err)
	}
	return resp, nil
}

var _ storage.KV = (*HTTP)(nil)
