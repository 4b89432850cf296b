package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// TokenEnv overrides the stored API token.
const TokenEnv = "OLLAMAUP_API_TOKEN"

// TokenPath returns the location of the API token file under dataDir.
func TokenPath(dataDir string) string {
	return filepath.Join(dataDir, "api_token")
}

// APIToken returns the bearer token guarding the HTTP API. The environment
// variable wins; otherwise the token file is read, and created with a fresh
// random token when absent.
func APIToken(dataDir string) (string, error) {
	if tok := strings.TrimSpace(os.Getenv(TokenEnv)); tok != "" {
		return tok, nil
	}

	data, err := os.ReadFile(TokenPath(dataDir))
	if err == nil {
		if tok := strings.TrimSpace(string(data)); tok != "" {
			return tok, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("reading api token: %w", err)
	}
	return RotateAPIToken(dataDir)
}

// RotateAPIToken replaces the stored token with a new one.
func RotateAPIToken(dataDir string) (string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return "", fmt.Errorf("creating data dir: %w", err)
	}
	tok := uuid.New().String()
	if err := os.WriteFile(TokenPath(dataDir), []byte(tok+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("writing api token: %w", err)
	}
	return tok, nil
}
