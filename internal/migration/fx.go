package migration

import (
	"strings"

	"github.com/mivvo/expertiz/internal/config"
	creditdomain "github.com/mivvo/expertiz/internal/credit/domain"
	notificationdomain "github.com/mivvo/expertiz/internal/notification/domain"
	reportdomain "github.com/mivvo/expertiz/internal/report/domain"
	userdomain "github.com/mivvo/expertiz/internal/user/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if strings.EqualFold(cfg.DBType, "postgres") {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// Non-postgres backends (sqlite in development) fall back to
		// AutoMigrate; versioned SQL only targets the production dialect.
		if err := conn.AutoMigrate(
			&userdomain.User{},
			&creditdomain.CreditLedger{},
			&creditdomain.CreditTransaction{},
			&reportdomain.Report{},
			&reportdomain.MediaItem{},
			&notificationdomain.Notification{},
		); err != nil {
			return err
		}
		return conn.Exec(
			`CREATE UNIQUE INDEX IF NOT EXISTS ux_credit_transactions_refund_ref
			 ON credit_transactions (reference_id) WHERE type = 'refund'`,
		).Error
	}),
)
