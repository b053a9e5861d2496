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
	webhookEvents      metric.Int64Counter
	entitlementChecks  metric.Int64Counter
	planTransitions    metric.Int64Counter
	usageSnapshots     metric.Int64Counter
	ledgerUpserts      metric.Int64Counter
	webhookHandleNanos metric.Int64Histogram
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
		name = "stagedesk"
	}
	meter := provider.Meter(name)

	webhookEvents, err := meter.Int64Counter("stagedesk_webhook_events_total")
	if err != nil {
		return nil, err
	}
	entitlementChecks, err := meter.Int64Counter("stagedesk_entitlement_checks_total")
	if err != nil {
		return nil, err
	}
	planTransitions, err := meter.Int64Counter("stagedesk_subscription_transitions_total")
	if err != nil {
		return nil, err
	}
	usageSnapshots, err := meter.Int64Counter("stagedesk_usage_snapshots_total")
	if err != nil {
		return nil, err
	}
	ledgerUpserts, err := meter.Int64Counter("stagedesk_ledger_upserts_total")
	if err != nil {
		return nil, err
	}
	webhookHandleNanos, err := meter.Int64Histogram("stagedesk_webhook_handle_duration_ns")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		webhookEvents:      webhookEvents,
		entitlementChecks:  entitlementChecks,
		planTransitions:    planTransitions,
		usageSnapshots:     usageSnapshots,
		ledgerUpserts:      ledgerUpserts,
		webhookHandleNanos: webhookHandleNanos,
	}, nil
}

// RecordWebhookEvent increments provider webhook event counts.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, eventType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// ObserveWebhookDuration records end-to-end webhook handling time.
func (m *Metrics) ObserveWebhookDuration(ctx context.Context, provider string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("provider", strings.TrimSpace(provider)))
	m.webhookHandleNanos.Record(ctx, d.Nanoseconds(), metric.WithAttributes(attrs...))
}

// RecordEntitlementCheck increments entitlement decision counts.
func (m *Metrics) RecordEntitlementCheck(ctx context.Context, resource, decision string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("resource", strings.TrimSpace(resource)),
		attribute.String("decision", strings.TrimSpace(decision)),
	)
	m.entitlementChecks.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSubscriptionTransition increments subscription status transition counts.
func (m *Metrics) RecordSubscriptionTransition(ctx context.Context, fromStatus, toStatus string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from_status", strings.TrimSpace(fromStatus)),
		attribute.String("to_status", strings.TrimSpace(toStatus)),
	)
	m.planTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordUsageSnapshot increments usage snapshot computation counts.
func (m *Metrics) RecordUsageSnapshot(ctx context.Context, resource string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("resource", strings.TrimSpace(resource)))
	m.usageSnapshots.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLedgerUpsert increments billing ledger write counts.
func (m *Metrics) RecordLedgerUpsert(ctx context.Context, sourceType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("source_type", strings.TrimSpace(sourceType)))
	m.ledgerUpserts.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"org_id":      {},
	"endpoint":    {},
	"status_code": {},
	"provider":    {},
	"event_type":  {},
	"outcome":     {},
	"resource":    {},
	"decision":    {},
	"from_status": {},
	"to_status":   {},
	"source_type": {},
	"reason":      {},
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
