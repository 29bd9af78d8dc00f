package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mivvo/expertiz/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyUploadUser  = "expertiz:upload:user:%s"
	keyAnalyzeLock = "expertiz:analyze:lock:%s"
)

// AnalyzeGuard throttles media uploads per user and serializes analysis so a
// report is only ever processed by one worker at a time. When limits are
// disabled every call allows.
type AnalyzeGuard struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	uploadRate  float64
	uploadBurst int
	lockTTL     time.Duration
}

func NewAnalyzeGuard(cfg config.Config) (*AnalyzeGuard, error) {
	if !cfg.Limits.Enabled {
		return &AnalyzeGuard{}, nil
	}

	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if cfg.Limits.UploadRate <= 0 || cfg.Limits.UploadBurst <= 0 {
		return nil, errors.New("upload rate limit must be positive")
	}

	lockTTL := cfg.Limits.AnalyzeLockTTL
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})

	return &AnalyzeGuard{
		enabled:     true,
		bucket:      NewTokenBucket(client),
		locker:      NewLocker(client),
		uploadRate:  cfg.Limits.UploadRate,
		uploadBurst: cfg.Limits.UploadBurst,
		lockTTL:     lockTTL,
	}, nil
}

func (g *AnalyzeGuard) Enabled() bool {
	return g != nil && g.enabled
}

func (g *AnalyzeGuard) AllowUpload(ctx context.Context, userID string) (*RateLimitResult, error) {
	if !g.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return g.bucket.Allow(ctx, fmt.Sprintf(keyUploadUser, strings.TrimSpace(userID)), g.uploadRate, g.uploadBurst)
}

func (g *AnalyzeGuard) TryLockReport(ctx context.Context, reportID string) (string, bool, error) {
	if !g.Enabled() {
		return "", true, nil
	}
	return g.locker.TryLock(ctx, fmt.Sprintf(keyAnalyzeLock, strings.TrimSpace(reportID)), g.lockTTL)
}

func (g *AnalyzeGuard) ReleaseReport(ctx context.Context, reportID, token string) error {
	if !g.Enabled() {
		return nil
	}
	return g.locker.Release(ctx, fmt.Sprintf(keyAnalyzeLock, strings.TrimSpace(reportID)), token)
}
