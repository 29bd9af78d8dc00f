package user

import (
	"github.com/mivvo/expertiz/internal/user/repository"
	"github.com/mivvo/expertiz/internal/user/service"
	"go.uber.org/fx"
)

var Module = fx.Module("user.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
