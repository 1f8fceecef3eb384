package database

import (
	"fmt"
	"net/url"

	"github.com/rickgao/tradedash/internal/config"
)

// applicationName identifies the recorder in pg_stat_activity.
const applicationName = "tradedash-livefeed"

// BuildConnString builds a PostgreSQL connection URL from config.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	params := url.Values{}
	params.Set("sslmode", sslMode)
	params.Set("application_name", applicationName)

	// Password is escaped so special characters survive URL parsing
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		cfg.Name,
		params.Encode(),
	)
}
