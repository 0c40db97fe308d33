// Package cdn reads the published per-language snapshots through the CDN
// and purges its cache entries.
package cdn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maruel/avatardb/internal/storage"
)

const maxSnapshotSize = 50 << 20

// Snapshots fetches {base}/data/{lang}.json.
type Snapshots struct {
	base   string
	client *http.Client
}

// NewSnapshots returns a reader for the site at base. A nil client uses a
// default one with a 30s timeout.
func NewSnapshots(base string, client *http.Client) *Snapshots {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Snapshots{base: strings.TrimSuffix(base, "/"), client: client}
}

// Path returns the site-relative path of the snapshot of lang.
func Path(lang string) string {
	return "/data/" + url.PathEscape(lang) + ".json"
}

// Fetch implements storage.Snapshots.
func (s *Snapshots) Fetch(ctx context.Context, lang string, revalidate bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+Path(lang), nil)
	if err != nil {
		return nil, fmt.Errorf("cdn fetch %s: %w", lang, err)
	}
	req.Header.Set("Accept", "application/json")
	if revalidate {
		req.Header.Set("Cache-Control", "no-cache")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, storage.Unavailable("cdn fetch "+lang, err)
	}
	defer func() { _ = resp.Body.Close() }()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, storage.NotFoundf("cdn snapshot %s", lang)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("cdn fetch %s: %w: status %d", lang, storage.ErrUnavailable, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotSize))
	if err != nil {
		return nil, storage.Unavailable("cdn fetch "+lang, err)
	}
	return b, nil
}

// Purger calls a Cloudflare style purge_cache endpoint.
type Purger struct {
	endpoint string
	token    string
	site     string
	client   *http.Client
}

// NewPurger returns a purger posting to endpoint. Paths are expanded to
// absolute URLs under site.
func NewPurger(endpoint, token, site string, client *http.Client) *Purger {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Purger{endpoint: endpoint, token: token, site: strings.TrimSuffix(site, "/"), client: client}
}

// PurgePath implements storage.Purger.
func (p *Purger) PurgePath(ctx context.Context, path string) error {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return p.purge(ctx, map[string][]string{"files": {p.site + path}})
}

// PurgeTag implements storage.Purger.
func (p *Purger) PurgeTag(ctx context.Context, tag string) error {
	return p.purge(ctx, map[string][]string{"tags": {tag}})
}

func (p *Purger) purge(ctx context.Context, body map[string][]string) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("cdn purge: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return storage.Unavailable("cdn purge", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var out struct {
		Success *bool `json:"success"`
		Errors  []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out)
	if resp.StatusCode/100 != 2 || (out.Success != nil && !*out.Success) {
		msg := ""
		if len(out.Errors) > 0 {
			msg = out.Errors[0].Message
		}
		return fmt.Errorf("cdn purge: %w: status %d %s", storage.ErrUnavailable, resp.StatusCode, msg)
	}
	return nil
}

var (
	_ storage.Snapshots = (*Snapshots)(nil)
	_ storage.Purger    = (*Purger)(nil)
)
