package database

import (
	"fmt"
	"net"
	"net/url"

	"github.com/m3rciful/portalbot/core/config"
)

// Config holds portal database connection settings.
type Config = config.DatabaseConfig

// DSN renders the lib/pq keyword connection string.
func DSN(cfg Config) string {
	return fmt.Sprintf(
		"user=%s password=%s host=%s port=%s dbname=%s sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name, cfg.SSLMode,
	)
}

// MigrateURL renders the URL form expected by golang-migrate. Credentials
// are escaped.
func MigrateURL(cfg Config) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: url.Values{"sslmode": {cfg.SSLMode}}.Encode(),
	}
	return u.String()
}
