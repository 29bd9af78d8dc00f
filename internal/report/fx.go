package report

import (
	"github.com/mivvo/expertiz/internal/report/repository"
	"github.com/mivvo/expertiz/internal/report/service"
	"go.uber.org/fx"
)

var Module = fx.Module("report.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
