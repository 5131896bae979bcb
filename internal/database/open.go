package database

import (
	"context"
	"fmt"

	dbconfig "counselchat/pkg/database"
	"counselchat/pkg/interfaces"
)

// Open returns the storage collaborator selected by config.Driver
func Open(ctx context.Context, config *dbconfig.Config) (interfaces.DatabaseManager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	switch config.Driver {
	case dbconfig.DriverSQLite:
		return NewManager(config)
	case dbconfig.DriverPostgres:
		return NewPostgresStore(ctx, config)
	case dbconfig.DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", config.Driver)
	}
}
