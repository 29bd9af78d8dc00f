package credit

import (
	"github.com/mivvo/expertiz/internal/credit/repository"
	"github.com/mivvo/expertiz/internal/credit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("credit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
