package database

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Supported storage drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds storage configuration for every driver.
// Path is used by sqlite, URL by postgres; memory ignores both.
type Config struct {
	Driver          string        `yaml:"driver"`
	Path            string        `yaml:"path"`
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	Timeout         time.Duration `yaml:"timeout"`
	WriteRetryDelay time.Duration `yaml:"write_retry_delay"`
}

// DefaultConfig returns the sqlite configuration used by a single-node deployment
// FUNCTIONAL DISCOVERY: one counselor and a few dozen clients fit comfortably
// in a WAL-mode sqlite file with a small pool
func DefaultConfig() *Config {
	return &Config{
		Driver:          DriverSQLite,
		Path:            "./data/counselchat.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		Timeout:         5 * time.Second,
		WriteRetryDelay: 10 * time.Millisecond,
	}
}

// Validate ensures the configuration is usable for its driver
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverSQLite:
		if c.Path == "" {
			return errors.New("database path cannot be empty")
		}
	case DriverPostgres:
		if c.URL == "" {
			return errors.New("database url cannot be empty for postgres")
		}
	case DriverMemory:
		return nil
	default:
		return errors.New("database driver must be sqlite, postgres or memory")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.Timeout <= 0 {
		return errors.New("database timeout must be greater than 0")
	}
	if c.WriteRetryDelay < 0 {
		return errors.New("write retry delay cannot be negative")
	}
	return nil
}

// ARCHITECTURAL DISCOVERY: WAL mode keeps reads concurrent while the
// manager funnels every write through one goroutine
const sqliteOptimizations = `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = NORMAL;
	PRAGMA cache_size = -64000;
	PRAGMA temp_store = MEMORY;
	PRAGMA foreign_keys = ON;
	PRAGMA busy_timeout = 5000;
`

// ApplySQLiteOptimizations applies the pragmas above to db
func ApplySQLiteOptimizations(db *sql.DB) error {
	_, err := db.Exec(sqliteOptimizations)
	return err
}
