// Package git implements the source store on a local git repository with
// go-git. The revision of a document is the hash of its blob at HEAD.
package git

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// InjectTokenInURL injects an authentication token into an https remote URL.
// Supports GitHub (x-access-token) and GitLab (oauth2) URL patterns.
func InjectTokenInURL(remoteURL, token string) string {
	if token == "" {
		return remoteURL
	}
	switch {
	case strings.HasPrefix(remoteURL, "https://github.com/"):
		return strings.Replace(remoteURL, "https://github.com", fmt.Sprintf("https://x-access-token:%s@github.com", token), 1)
	case strings.HasPrefix(remoteURL, "https://gitlab.com/"):
		return strings.Replace(remoteURL, "https://gitlab.com", fmt.Sprintf("https://oauth2:%s@gitlab.com", token), 1)
	default:
		return remoteURL
	}
}

// Commit represents a commit in git history.
type Commit struct {
	Hash        string    `json:"hash"`
	Message     string    `json:"message"`
	Author      string    `json:"author"`
	AuthorEmail string    `json:"authorEmail"`
	AuthorDate  time.Time `json:"authorDate"`
}

// Pusher pushes a branch of the repository to a remote.
type Pusher interface {
	Push(ctx context.Context, remoteURL, branch string) error
}
