package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mivvo/expertiz/internal/clock"
	reportdomain "github.com/mivvo/expertiz/internal/report/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

type Params struct {
	fx.In

	Log       *zap.Logger
	ReportSvc reportdomain.Service
	Clock     clock.Clock
	Config    Config `optional:"true"`
}

// Scheduler drives the background jobs of the report workflow, chiefly the
// sweep that fails and refunds reports stuck in processing.
type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	clock     clock.Clock
	reportSvc reportdomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.ReportSvc == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		clock:     p.Clock,
		reportSvc: p.ReportSvc,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))

	err := fn(ctx)
	elapsed := time.Since(start)
	if err == nil {
		log.Debug("job finished", zap.Duration("elapsed", elapsed))
		return nil
	}

	// A deadline is a soft timeout: the next run picks up the remainder.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	log.Error("job failed", zap.Duration("elapsed", elapsed), zap.Error(err))
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"reap_stale", func(ctx context.Context) error {
			return s.runJob(ctx, "reap_stale", 30*time.Second, s.ReapStaleJob)
		}},
	}

	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty EnabledJobs list enables everything.
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// ReapStaleJob fails reports that outlived the analysis deadline and refunds
// their cost. Batches repeat until a sweep comes back empty.
func (s *Scheduler) ReapStaleJob(ctx context.Context) error {
	var swept, refunded int

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		result, err := s.reportSvc.ReapStale(ctx, s.cfg.StaleAfter, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		swept += result.Swept
		refunded += result.Refunded
		if result.Swept < s.cfg.BatchSize {
			break
		}
	}

	if swept > 0 {
		s.log.Info("stale report sweep done",
			zap.Int("swept", swept),
			zap.Int("refunded", refunded),
		)
	}
	return nil
}
