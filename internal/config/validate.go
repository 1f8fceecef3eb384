package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Stream.validate(); err != nil {
		return err
	}

	if err := c.Auth.validate(); err != nil {
		return err
	}

	if c.Poller.Enabled {
		if c.API.BaseURL == "" {
			return errors.New("api.base_url is required when poller is enabled")
		}
		if c.Poller.Interval <= 0 {
			return errors.New("poller.interval must be > 0")
		}
	}
	if c.API.BaseURL != "" {
		if err := validateURL("api.base_url", c.API.BaseURL, "http", "https"); err != nil {
			return err
		}
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if c.Recorder.Enabled {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
		if c.Recorder.BatchSize < 1 {
			return errors.New("recorder.batch_size must be >= 1")
		}
		if c.Recorder.BufferSize < 1 {
			return errors.New("recorder.buffer_size must be >= 1")
		}
		if c.Recorder.MaxBufferSize < 0 {
			return errors.New("recorder.max_buffer_size must be >= 0")
		}
		if c.Recorder.MaxBufferSize > 0 && c.Recorder.MaxBufferSize < c.Recorder.BufferSize {
			return fmt.Errorf("recorder.max_buffer_size (%d) cannot be below buffer_size (%d)",
				c.Recorder.MaxBufferSize, c.Recorder.BufferSize)
		}
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (s *StreamConfig) validate() error {
	if s.URL == "" {
		return errors.New("stream.url is required")
	}
	if err := validateURL("stream.url", s.URL, "ws", "wss"); err != nil {
		return err
	}
	if s.ReconnectAttempts < 0 {
		return errors.New("stream.reconnect_attempts must be >= 0")
	}
	if s.ReconnectDelay < 0 {
		return errors.New("stream.reconnect_delay must be >= 0")
	}
	if s.BufferSize < 1 {
		return errors.New("stream.buffer_size must be >= 1")
	}
	for _, ch := range s.Channels {
		if ch == "" {
			return errors.New("stream.channels must not contain empty names")
		}
	}
	return nil
}

func (a *AuthConfig) validate() error {
	switch a.Source {
	case AuthSourceStatic:
		if a.Token == "" {
			return errors.New("auth.token is required for source static")
		}
	case AuthSourceFile:
		if a.TokenFile == "" {
			return errors.New("auth.token_file is required for source file")
		}
	case AuthSourceEnv:
		if a.TokenEnv == "" {
			return errors.New("auth.token_env is required for source env")
		}
	default:
		return fmt.Errorf("auth.source must be static, file or env, got %q", a.Source)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%s must include a host", field)
			}
			return nil
		}
	}
	return fmt.Errorf("%s scheme must be one of %v, got %q", field, schemes, u.Scheme)
}
