package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mivvo/expertiz/internal/clock"
	reportdomain "github.com/mivvo/expertiz/internal/report/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubReportSvc struct {
	reapCalls []struct {
		olderThan time.Duration
		batchSize int
	}
	reapResults []reportdomain.ReapResult
	reapErr     error
}

func (s *stubReportSvc) ReapStale(ctx context.Context, olderThan time.Duration, batchSize int) (reportdomain.ReapResult, error) {
	s.reapCalls = append(s.reapCalls, struct {
		olderThan time.Duration
		batchSize int
	}{olderThan, batchSize})
	if s.reapErr != nil {
		return reportdomain.ReapResult{}, s.reapErr
	}
	if len(s.reapResults) == 0 {
		return reportdomain.ReapResult{}, nil
	}
	result := s.reapResults[0]
	s.reapResults = s.reapResults[1:]
	return result, nil
}

func (s *stubReportSvc) Start(context.Context, reportdomain.StartRequest) (reportdomain.Report, error) {
	return reportdomain.Report{}, nil
}
func (s *stubReportSvc) AttachMedia(context.Context, reportdomain.AttachMediaRequest) (reportdomain.MediaItem, error) {
	return reportdomain.MediaItem{}, nil
}
func (s *stubReportSvc) Analyze(context.Context, snowflake.ID, snowflake.ID) (reportdomain.AnalyzeResult, error) {
	return reportdomain.AnalyzeResult{}, nil
}
func (s *stubReportSvc) Status(context.Context, snowflake.ID, snowflake.ID) (reportdomain.StatusResponse, error) {
	return reportdomain.StatusResponse{}, nil
}
func (s *stubReportSvc) Get(context.Context, snowflake.ID, snowflake.ID) (reportdomain.Report, error) {
	return reportdomain.Report{}, nil
}
func (s *stubReportSvc) List(context.Context, reportdomain.ListRequest) (reportdomain.ListResponse, error) {
	return reportdomain.ListResponse{}, nil
}
func (s *stubReportSvc) Delete(context.Context, snowflake.ID, snowflake.ID) error {
	return nil
}

func newTestScheduler(t *testing.T, svc reportdomain.Service, cfg Config) *Scheduler {
	t.Helper()
	sched, err := New(Params{
		Log:       zap.NewNop(),
		ReportSvc: svc,
		Clock:     clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		Config:    cfg,
	})
	require.NoError(t, err)
	return sched
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunOnce_SweepsWithConfiguredWindow(t *testing.T) {
	svc := &stubReportSvc{}
	sched := newTestScheduler(t, svc, Config{StaleAfter: 10 * time.Minute, BatchSize: 25})

	require.NoError(t, sched.RunOnce(context.Background()))

	require.Len(t, svc.reapCalls, 1)
	assert.Equal(t, 10*time.Minute, svc.reapCalls[0].olderThan)
	assert.Equal(t, 25, svc.reapCalls[0].batchSize)
}

func TestReapStaleJob_DrainsFullBatches(t *testing.T) {
	svc := &stubReportSvc{
		reapResults: []reportdomain.ReapResult{
			{Swept: 2, Refunded: 2},
			{Swept: 2, Refunded: 1},
			{Swept: 1, Refunded: 1},
		},
	}
	sched := newTestScheduler(t, svc, Config{BatchSize: 2})

	require.NoError(t, sched.ReapStaleJob(context.Background()))

	// Two full batches force a third sweep; the partial one stops the loop.
	assert.Len(t, svc.reapCalls, 3)
}

func TestRunOnce_PropagatesJobError(t *testing.T) {
	sweepErr := errors.New("db gone")
	svc := &stubReportSvc{reapErr: sweepErr}
	sched := newTestScheduler(t, svc, Config{})

	err := sched.RunOnce(context.Background())
	assert.ErrorIs(t, err, sweepErr)
}

func TestRunOnce_SwallowsTimeout(t *testing.T) {
	svc := &stubReportSvc{reapErr: context.DeadlineExceeded}
	sched := newTestScheduler(t, svc, Config{})

	assert.NoError(t, sched.RunOnce(context.Background()))
}

func TestRunOnce_RespectsEnabledJobs(t *testing.T) {
	svc := &stubReportSvc{}
	sched := newTestScheduler(t, svc, Config{EnabledJobs: []string{"something_else"}})

	require.NoError(t, sched.RunOnce(context.Background()))
	assert.Empty(t, svc.reapCalls)
}

func TestRunForever_StopsOnCancel(t *testing.T) {
	svc := &stubReportSvc{}
	sched := newTestScheduler(t, svc, Config{RunInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.RunForever(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}

	assert.NotEmpty(t, svc.reapCalls)
}
