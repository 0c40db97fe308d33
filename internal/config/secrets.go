package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Secrets are credentials kept out of config.yaml.
type Secrets struct {
	// JWTSecret verifies the HS256 credentials of admin requests.
	JWTSecret string
	// RevalidateSecret is compared against X-Revalidate-Secret. A bcrypt
	// hash is compared as such, anything else in constant time.
	RevalidateSecret string
	GitHubToken      string
	KVToken          string
	CDNPurgeToken    string
}

// SecretsFromEnv picks the secrets from env, falling back to the process
// environment.
func SecretsFromEnv(env map[string]string) *Secrets {
	get := func(k string) string {
		if v := env[k]; v != "" {
			return v
		}
		return os.Getenv(k)
	}
	return &Secrets{
		JWTSecret:        get("JWT_SECRET"),
		RevalidateSecret: get("REVALIDATE_SECRET"),
		GitHubToken:      get("GITHUB_TOKEN"),
		KVToken:          get("KV_TOKEN"),
		CDNPurgeToken:    get("CDN_PURGE_TOKEN"),
	}
}

// LoadDotEnv reads dataDir/.env. A missing file is an empty map.
func LoadDotEnv(dataDir string) (map[string]string, error) {
	env := make(map[string]string)
	path := filepath.Join(dataDir, ".env")
	envContent, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from dataDir flag, not user input
	if err != nil {
		if os.IsNotExist(err) {
			return env, nil
		}
		return nil, err
	}

	for line := range strings.SplitSeq(string(envContent), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)

		if strings.HasPrefix(val, "'") || strings.HasSuffix(val, "'") {
			if strings.HasPrefix(val, "'") && strings.HasSuffix(val, "'") {
				return nil, fmt.Errorf("single quotes are not supported for wrapping in .env: %s", key)
			}
			return nil, fmt.Errorf("unbalanced single quotes in .env: %s", key)
		}
		if strings.HasPrefix(val, "\"") {
			unquoted, err := strconv.Unquote(val)
			if err != nil {
				return nil, fmt.Errorf("failed to unquote %s: %w", key, err)
			}
			val = unquoted
		}
		env[key] = val
	}
	return env, nil
}
