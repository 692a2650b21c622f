package migration

import (
	"fmt"
	"strings"

	"github.com/smallbiznis/captiva/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		switch strings.ToLower(cfg.DBType) {
		case "postgres":
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		case "sqlite":
			log.Info("applying embedded sqlite schema")
			return ApplySQLiteSchema(conn)
		default:
			return fmt.Errorf("no migrations for database type %q", cfg.DBType)
		}
	}),
)
