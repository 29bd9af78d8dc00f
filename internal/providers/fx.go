package providers

import (
	"github.com/mivvo/expertiz/internal/providers/analyzer"
	"github.com/mivvo/expertiz/internal/providers/email"
	"github.com/mivvo/expertiz/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	analyzer.Module,
	email.Module,
	pdf.Module,
)
