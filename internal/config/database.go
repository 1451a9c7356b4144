package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

var (
	ErrUnknownDriver         = errors.New("unknown database driver")
	ErrInvalidDatabaseConfig = errors.New("invalid database configuration")
)

// DatabaseConfig holds typed connection settings. The DSN is always derived from the fields.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`

	// Path is the database file for the sqlite3 driver; ":memory:" keeps it in process.
	Path string `yaml:"path"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// DSN builds the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	switch c.Driver {
	case DriverPostgres:
		u := url.URL{
			Scheme: "postgres",
			Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
			Path:   "/" + c.Name,
		}
		if c.User != "" {
			if c.Password != "" {
				u.User = url.UserPassword(c.User, c.Password)
			} else {
				u.User = url.User(c.User)
			}
		}
		q := url.Values{}
		q.Set("sslmode", c.SSLMode)
		if c.ConnectTimeout > 0 {
			q.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
		}
		u.RawQuery = q.Encode()
		return u.String()
	case DriverSQLite:
		// Foreign keys drive the cascade; immediate transactions serialize writers.
		return fmt.Sprintf("file:%s?_foreign_keys=on&_txlock=immediate&_busy_timeout=5000", c.Path)
	}
	return ""
}

// Validate checks that the settings required by the driver are present.
func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case DriverPostgres:
		if c.Host == "" || c.Name == "" {
			return fmt.Errorf("%w: postgres requires host and name", ErrInvalidDatabaseConfig)
		}
		if c.Port <= 0 {
			return fmt.Errorf("%w: invalid port %d", ErrInvalidDatabaseConfig, c.Port)
		}
	case DriverSQLite:
		if c.Path == "" {
			return fmt.Errorf("%w: sqlite3 requires path", ErrInvalidDatabaseConfig)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Driver)
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return fmt.Errorf("%w: pool sizes must not be negative", ErrInvalidDatabaseConfig)
	}
	if c.MaxIdleConns > c.MaxOpenConns && c.MaxOpenConns > 0 {
		return fmt.Errorf("%w: max_idle_conns exceeds max_open_conns", ErrInvalidDatabaseConfig)
	}
	return nil
}
