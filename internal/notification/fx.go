package notification

import (
	"github.com/mivvo/expertiz/internal/notification/repository"
	"github.com/mivvo/expertiz/internal/notification/service"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
