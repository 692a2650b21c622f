package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/captiva/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ErrUnsupportedDialect is returned for database types the repository SQL
// cannot run on. Repositories rely on ON CONFLICT upserts and partial unique
// indexes, which rules out mysql.
var ErrUnsupportedDialect = errors.New("unsupported database type")

func Dialect(cfg config.Config) (gorm.Dialector, error) {
	switch strings.ToLower(cfg.DBType) {
	case "postgres":
		return postgres.Open(DSN(cfg)), nil
	case "sqlite":
		path := cfg.DBPath
		if path == "" {
			path = "captiva.db"
		}
		return sqlite.Open(path + "?_busy_timeout=5000&_foreign_keys=on"), nil
	default:
		return nil, fmt.Errorf("%w: %q (use postgres or sqlite)", ErrUnsupportedDialect, cfg.DBType)
	}
}

// IsSQLite reports whether cfg selects the single-node sqlite backend.
func IsSQLite(cfg config.Config) bool {
	return strings.EqualFold(cfg.DBType, "sqlite")
}

// DSN renders the libpq-style connection string used by the postgres driver
// and the migration runner.
func DSN(cfg config.Config) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		cfg.DBHost,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBPort,
		cfg.DBSSLMode,
	)
}
