// Package auth supplies the bearer credential used to open the live stream.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rickgao/tradedash/internal/config"
)

// ErrNoToken is returned when a source holds no credential.
var ErrNoToken = errors.New("no token available")

// TokenSource returns the current bearer credential.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed credential.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// FileToken reads the credential from a file on every call, so a rotated
// token is picked up without restarting.
type FileToken struct {
	Path string
}

// Token implements TokenSource.
func (f FileToken) Token(ctx context.Context) (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrNoToken, f.Path)
	}
	return token, nil
}

// EnvToken reads the credential from an environment variable.
type EnvToken struct {
	Var string
}

// Token implements TokenSource.
func (e EnvToken) Token(ctx context.Context) (string, error) {
	token := strings.TrimSpace(os.Getenv(e.Var))
	if token == "" {
		return "", fmt.Errorf("%w: $%s is not set", ErrNoToken, e.Var)
	}
	return token, nil
}

// NewTokenSource builds the source selected by cfg.
func NewTokenSource(cfg config.AuthConfig) (TokenSource, error) {
	switch cfg.Source {
	case config.AuthSourceStatic:
		return StaticToken(cfg.Token), nil
	case config.AuthSourceFile:
		if cfg.TokenFile == "" {
			return nil, errors.New("token file path is required")
		}
		return FileToken{Path: cfg.TokenFile}, nil
	case config.AuthSourceEnv:
		if cfg.TokenEnv == "" {
			return nil, errors.New("token environment variable is required")
		}
		return EnvToken{Var: cfg.TokenEnv}, nil
	default:
		return nil, fmt.Errorf("unknown token source %q", cfg.Source)
	}
}
