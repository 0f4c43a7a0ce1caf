package migration

import (
	"github.com/smallbiznis/mediaforge/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.DBAutoMigrate {
			log.Info("startup migrations disabled")
			return nil
		}
		return Run(conn, log)
	}),
)
