package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	reportsStarted   metric.Int64Counter
	reportsCompleted metric.Int64Counter
	reportsFailed    metric.Int64Counter
	creditsDebited   metric.Float64Counter
	creditsRefunded  metric.Float64Counter
	refundFailures   metric.Int64Counter
	analysisDuration metric.Float64Histogram
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// New configures the domain metric instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "expertiz"
	}
	meter := provider.Meter(name)

	reportsStarted, err := meter.Int64Counter("expertiz_reports_started_total")
	if err != nil {
		return nil, err
	}
	reportsCompleted, err := meter.Int64Counter("expertiz_reports_completed_total")
	if err != nil {
		return nil, err
	}
	reportsFailed, err := meter.Int64Counter("expertiz_reports_failed_total")
	if err != nil {
		return nil, err
	}
	creditsDebited, err := meter.Float64Counter("expertiz_credits_debited_total")
	if err != nil {
		return nil, err
	}
	creditsRefunded, err := meter.Float64Counter("expertiz_credits_refunded_total")
	if err != nil {
		return nil, err
	}
	refundFailures, err := meter.Int64Counter("expertiz_refund_write_failures_total")
	if err != nil {
		return nil, err
	}
	analysisDuration, err := meter.Float64Histogram("expertiz_analysis_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		reportsStarted:   reportsStarted,
		reportsCompleted: reportsCompleted,
		reportsFailed:    reportsFailed,
		creditsDebited:   creditsDebited,
		creditsRefunded:  creditsRefunded,
		refundFailures:   refundFailures,
		analysisDuration: analysisDuration,
	}, nil
}

func (m *Metrics) RecordReportStarted(ctx context.Context, reportType string) {
	if m == nil {
		return
	}
	m.reportsStarted.Add(ctx, 1, metric.WithAttributes(typeAttr(reportType)))
}

func (m *Metrics) RecordReportCompleted(ctx context.Context, reportType string) {
	if m == nil {
		return
	}
	m.reportsCompleted.Add(ctx, 1, metric.WithAttributes(typeAttr(reportType)))
}

func (m *Metrics) RecordReportFailed(ctx context.Context, reportType, reason string) {
	if m == nil {
		return
	}
	m.reportsFailed.Add(ctx, 1, metric.WithAttributes(
		typeAttr(reportType),
		attribute.String("reason", strings.TrimSpace(reason)),
	))
}

func (m *Metrics) RecordCreditsDebited(ctx context.Context, amount float64) {
	if m == nil {
		return
	}
	m.creditsDebited.Add(ctx, amount)
}

func (m *Metrics) RecordCreditsRefunded(ctx context.Context, amount float64) {
	if m == nil {
		return
	}
	m.creditsRefunded.Add(ctx, amount)
}

// RecordRefundWriteFailure counts refunds that could not be persisted after
// all retries. This is the operator-visible escalation signal.
func (m *Metrics) RecordRefundWriteFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.refundFailures.Add(ctx, 1)
}

func (m *Metrics) RecordAnalysisDuration(ctx context.Context, reportType string, d time.Duration) {
	if m == nil {
		return
	}
	m.analysisDuration.Record(ctx, d.Seconds(), metric.WithAttributes(typeAttr(reportType)))
}

func typeAttr(reportType string) attribute.KeyValue {
	return attribute.String("report_type", strings.TrimSpace(reportType))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported otlp metric protocol %q", protocol)
	}
}
