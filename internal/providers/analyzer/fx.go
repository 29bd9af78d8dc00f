package analyzer

import (
	"github.com/mivvo/expertiz/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.analyzer",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	if cfg.Analyzer.BaseURL == "" {
		log.Warn("no analysis backend configured, using simulated results")
		return &NoOpProvider{}
	}
	return NewHTTP(Config{
		BaseURL: cfg.Analyzer.BaseURL,
		APIKey:  cfg.Analyzer.APIKey,
		Timeout: cfg.Analyzer.Timeout,
	}, log)
}
