package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration resolved from the environment.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	HTTPAddr string

	AuthJWTSecret string
	AuthTokenTTL  time.Duration

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	MediaDir string

	Analyzer AnalyzerConfig
	Reaper   ReaperConfig
	Redis    RedisConfig
	Limits   LimitsConfig
	Email    EmailConfig

	WelcomeCredits string

	BootstrapAdminEmail    string
	BootstrapAdminPassword string
}

// AnalyzerConfig configures the external AI analysis provider.
type AnalyzerConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// ReaperConfig controls the stale-report sweep.
type ReaperConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LimitsConfig controls upload rate limiting and analyze locking.
type LimitsConfig struct {
	Enabled            bool
	UploadRate         float64
	UploadBurst        int
	AnalyzeLockTTL     time.Duration
	MaxUploadBodyBytes int64
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// Load loads configuration from environment variables and an optional .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "expertiz"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		AuthTokenTTL:  getenvDuration("AUTH_TOKEN_TTL", 24*time.Hour),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "expertiz"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME_MINUTES", 30),

		MediaDir: getenv("MEDIA_DIR", "./data/media"),

		Analyzer: AnalyzerConfig{
			BaseURL: strings.TrimSpace(getenv("ANALYZER_BASE_URL", "")),
			APIKey:  strings.TrimSpace(getenv("ANALYZER_API_KEY", "")),
			Timeout: getenvDuration("ANALYZER_TIMEOUT", 2*time.Minute),
		},
		Reaper: ReaperConfig{
			Interval:   getenvDuration("REAPER_INTERVAL", time.Minute),
			StaleAfter: getenvDuration("REAPER_STALE_AFTER", 15*time.Minute),
			BatchSize:  getenvInt("REAPER_BATCH_SIZE", 50),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Limits: LimitsConfig{
			Enabled:            getenvBool("RATE_LIMIT_ENABLED", false),
			UploadRate:         getenvFloat("RATE_LIMIT_UPLOAD_RATE", 2),
			UploadBurst:        getenvInt("RATE_LIMIT_UPLOAD_BURST", 10),
			AnalyzeLockTTL:     getenvDuration("ANALYZE_LOCK_TTL", 5*time.Minute),
			MaxUploadBodyBytes: getenvInt64("MAX_UPLOAD_BODY_BYTES", 64<<20),
		},
		Email: EmailConfig{
			SMTPHost:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "no-reply@expertiz.local"),
		},

		WelcomeCredits: strings.TrimSpace(getenv("WELCOME_CREDITS", "0")),

		BootstrapAdminEmail:    strings.TrimSpace(getenv("BOOTSTRAP_ADMIN_EMAIL", "")),
		BootstrapAdminPassword: getenv("BOOTSTRAP_ADMIN_PASSWORD", ""),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
