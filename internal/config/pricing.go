package config

import (
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PricingConfig is the per-report-type price table plus media intake limits.
// It is loaded from pricing.yml and hot-reloaded on change.
type PricingConfig struct {
	Prices           map[string]float64 `mapstructure:"prices"`
	MaxFileSizeBytes int64              `mapstructure:"maxFileSizeBytes"`
	AllowedMIMETypes []string           `mapstructure:"allowedMimeTypes"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		Prices: map[string]float64{
			"paint_analysis":        250,
			"damage_assessment":     350,
			"engine_sound_analysis": 300,
			"value_estimation":      200,
			"full_report":           850,
		},
		MaxFileSizeBytes: 15 << 20,
		AllowedMIMETypes: []string{
			"image/jpeg",
			"image/png",
			"image/webp",
			"audio/mpeg",
			"audio/wav",
			"audio/mp4",
		},
	}
}

// PriceFor returns the price for a report type.
func (c PricingConfig) PriceFor(reportType string) (decimal.Decimal, bool) {
	price, ok := c.Prices[strings.TrimSpace(reportType)]
	if !ok {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(price), true
}

// AllowsMIMEType reports whether the media content type is accepted.
func (c PricingConfig) AllowsMIMEType(contentType string) bool {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	for _, allowed := range c.AllowedMIMETypes {
		if contentType == strings.ToLower(strings.TrimSpace(allowed)) {
			return true
		}
	}
	return false
}

// PricingHolder exposes the pricing config behind an atomic swap so handlers
// never observe a partially reloaded table.
type PricingHolder struct {
	current atomic.Value // holds PricingConfig
}

func NewPricingHolder(log *zap.Logger) (*PricingHolder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/expertiz/config")
	v.AddConfigPath("/etc/expertiz")
	v.AddConfigPath(".")

	v.SetEnvPrefix("EXPERTIZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &PricingHolder{}

	load := func() PricingConfig {
		cfg := DefaultPricingConfig()
		if err := v.UnmarshalKey("pricing", &cfg); err != nil {
			log.Warn("invalid pricing config, keeping defaults", zap.Error(err))
			return DefaultPricingConfig()
		}
		if len(cfg.Prices) == 0 {
			cfg.Prices = DefaultPricingConfig().Prices
		}
		if cfg.MaxFileSizeBytes <= 0 {
			cfg.MaxFileSizeBytes = DefaultPricingConfig().MaxFileSizeBytes
		}
		if len(cfg.AllowedMIMETypes) == 0 {
			cfg.AllowedMIMETypes = DefaultPricingConfig().AllowedMIMETypes
		}
		return cfg
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		holder.current.Store(DefaultPricingConfig())
	} else {
		holder.current.Store(load())
		v.OnConfigChange(func(_ fsnotify.Event) {
			holder.current.Store(load())
			log.Info("pricing config reloaded")
		})
		v.WatchConfig()
	}

	return holder, nil
}

// Current returns the active pricing table.
func (h *PricingHolder) Current() PricingConfig {
	if h == nil {
		return DefaultPricingConfig()
	}
	cfg, ok := h.current.Load().(PricingConfig)
	if !ok {
		return DefaultPricingConfig()
	}
	return cfg
}

// StaticPricingHolder wraps a fixed config, used in tests.
func StaticPricingHolder(cfg PricingConfig) *PricingHolder {
	holder := &PricingHolder{}
	holder.current.Store(cfg)
	return holder
}
