package migration

import (
	"github.com/smallbiznis/gigledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB `optional:"true"`
	Config config.Config
	Log    *zap.Logger
}

var Module = fx.Module("migrations",
	fx.Invoke(func(p Params) error {
		if p.DB == nil {
			return nil
		}
		log := p.Log.Named("migration")

		switch p.Config.DBType {
		case config.DBTypePostgres:
			sqlDB, err := p.DB.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		default:
			if err := AutoMigrate(p.DB); err != nil {
				return err
			}
		}
		log.Info("migration.applied", zap.String("db_type", p.Config.DBType))
		return nil
	}),
)
