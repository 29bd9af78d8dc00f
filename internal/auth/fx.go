package auth

import (
	"github.com/mivvo/expertiz/internal/auth/token"
	"github.com/mivvo/expertiz/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("auth",
	fx.Provide(func(cfg config.Config) *token.Manager {
		return token.NewManager(cfg.AuthJWTSecret, cfg.AuthTokenTTL, cfg.AppName)
	}),
)
