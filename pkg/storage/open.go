package storage

import (
	"context"
	"strings"
)

// Open picks a backend from the DSN scheme. See Backend.
func Open(ctx context.Context, dsn string) (Store, error) {
	switch Backend(dsn) {
	case "postgres":
		return NewPostgresStore(ctx, dsn)
	case "redis":
		return NewRedisStore(ctx, dsn)
	default:
		return NewSQLStore(ctx, dsn)
	}
}

// Backend names the store Open would choose for dsn: postgres:// and
// redis:// select their stores, libsql:// goes to Turso and anything else
// is treated as a local SQLite DSN.
func Backend(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(dsn, "redis://"), strings.HasPrefix(dsn, "rediss://"):
		return "redis"
	case isLibSQL(dsn):
		return "libsql"
	default:
		return "sqlite"
	}
}
