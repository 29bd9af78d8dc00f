package seed

import (
	"context"

	"github.com/mivvo/expertiz/internal/config"
	userdomain "github.com/mivvo/expertiz/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module promotes the bootstrap admin account on startup. A blank
// BOOTSTRAP_ADMIN_EMAIL disables it.
var Module = fx.Module("seed",
	fx.Invoke(func(cfg config.Config, users userdomain.Service, log *zap.Logger) error {
		if cfg.BootstrapAdminEmail == "" {
			return nil
		}
		if err := users.EnsureAdmin(context.Background(), cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword); err != nil {
			return err
		}
		log.Named("seed").Info("bootstrap admin ensured",
			zap.String("email", cfg.BootstrapAdminEmail),
		)
		return nil
	}),
)
