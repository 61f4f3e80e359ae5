// Package metrics wires the OTLP meter provider and the application-level
// instruments for the credit ledger.
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

// Metrics exposes application-level instruments. A nil receiver is safe so
// callers never have to guard for a disabled pipeline.
type Metrics struct {
	deducts          metric.Int64Counter
	deductsRejected  metric.Int64Counter
	refunds          metric.Int64Counter
	transfers        metric.Int64Counter
	allocations      metric.Int64Counter
	sweeps           metric.Int64Counter
	routeResolutions metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
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

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "tally"
	}
	meter := provider.Meter(name)

	deducts, err := meter.Int64Counter("tally_deducts_total")
	if err != nil {
		return nil, err
	}
	deductsRejected, err := meter.Int64Counter("tally_deducts_rejected_total")
	if err != nil {
		return nil, err
	}
	refunds, err := meter.Int64Counter("tally_refunds_total")
	if err != nil {
		return nil, err
	}
	transfers, err := meter.Int64Counter("tally_transfers_total")
	if err != nil {
		return nil, err
	}
	allocations, err := meter.Int64Counter("tally_allocations_total")
	if err != nil {
		return nil, err
	}
	sweeps, err := meter.Int64Counter("tally_allocations_swept_total")
	if err != nil {
		return nil, err
	}
	routeResolutions, err := meter.Int64Counter("tally_route_resolutions_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("tally_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("tally_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		deducts:          deducts,
		deductsRejected:  deductsRejected,
		refunds:          refunds,
		transfers:        transfers,
		allocations:      allocations,
		sweeps:           sweeps,
		routeResolutions: routeResolutions,
		rateLimitAllowed: rateLimitAllowed,
		rateLimitDenied:  rateLimitDenied,
	}, nil
}

// RecordDeduct counts a committed deduction.
func (m *Metrics) RecordDeduct(ctx context.Context, service string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("service", strings.TrimSpace(service)))
	m.deducts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDeductRejected counts a deduction refused for insufficient credits.
func (m *Metrics) RecordDeductRejected(ctx context.Context, service string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("service", strings.TrimSpace(service)))
	m.deductsRejected.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRefund counts a committed refund.
func (m *Metrics) RecordRefund(ctx context.Context, service string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("service", strings.TrimSpace(service)))
	m.refunds.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTransfer counts a committed transfer.
func (m *Metrics) RecordTransfer(ctx context.Context) {
	if m == nil {
		return
	}
	m.transfers.Add(ctx, 1)
}

// RecordAllocation counts a new allocation or top-up.
func (m *Metrics) RecordAllocation(ctx context.Context) {
	if m == nil {
		return
	}
	m.allocations.Add(ctx, 1)
}

// RecordSweep counts allocations closed by the expiry sweeper.
func (m *Metrics) RecordSweep(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.sweeps.Add(ctx, int64(count))
}

// RecordRouteResolution counts billing route decisions by route type.
func (m *Metrics) RecordRouteResolution(ctx context.Context, routeType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("route_type", strings.TrimSpace(routeType)))
	m.routeResolutions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"service":     {},
	"endpoint":    {},
	"reason":      {},
	"route_type":  {},
	"org_tier":    {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
