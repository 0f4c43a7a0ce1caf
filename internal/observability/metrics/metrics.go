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

// Metrics exposes domain-level instruments.
type Metrics struct {
	creditsReserved metric.Int64Counter
	creditsDenied   metric.Int64Counter
	creditsRefunded metric.Int64Counter
	callbacks       metric.Int64Counter
	submissions     metric.Int64Counter
	billingEvents   metric.Int64Counter
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

type counterDef struct {
	name        string
	unit        string
	description string
	target      *metric.Int64Counter
}

// New registers the ledger, provider and billing counters on the meter provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "mediaforge"
	}
	meter := provider.Meter(name)

	out := &Metrics{}
	defs := []counterDef{
		{"mediaforge_credits_reserved_total", "{credit}", "Credits reserved against subscription limits.", &out.creditsReserved},
		{"mediaforge_credits_denied_total", "{request}", "Generation requests denied by the tier policy.", &out.creditsDenied},
		{"mediaforge_credits_refunded_total", "{credit}", "Credits returned after failed generations.", &out.creditsRefunded},
		{"mediaforge_generation_callbacks_total", "{callback}", "Provider completion callbacks by outcome.", &out.callbacks},
		{"mediaforge_provider_submissions_total", "{submission}", "Outbound provider submissions by outcome.", &out.submissions},
		{"mediaforge_billing_events_total", "{event}", "Billing webhook deliveries by event type.", &out.billingEvents},
	}
	for _, def := range defs {
		counter, err := meter.Int64Counter(def.name,
			metric.WithUnit(def.unit),
			metric.WithDescription(def.description),
		)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", def.name, err)
		}
		*def.target = counter
	}

	return out, nil
}

func add(ctx context.Context, counter metric.Int64Counter, value int64, attrs ...attribute.KeyValue) {
	if counter == nil || value <= 0 {
		return
	}
	counter.Add(ctx, value, metric.WithAttributes(FilterAttributes(attrs...)...))
}

func label(key, value string) attribute.KeyValue {
	return attribute.String(key, strings.TrimSpace(value))
}

// RecordCreditReserved counts reserved credits per tier.
func (m *Metrics) RecordCreditReserved(ctx context.Context, tier string, cost int) {
	if m == nil {
		return
	}
	add(ctx, m.creditsReserved, int64(cost), label("tier", tier))
}

func (m *Metrics) RecordCreditDenied(ctx context.Context, tier, reason string) {
	if m == nil {
		return
	}
	add(ctx, m.creditsDenied, 1, label("tier", tier), label("reason", reason))
}

func (m *Metrics) RecordCreditRefunded(ctx context.Context, reason string, cost int) {
	if m == nil {
		return
	}
	add(ctx, m.creditsRefunded, int64(cost), label("reason", reason))
}

// RecordCallback counts provider callbacks. Status is the callback result status.
func (m *Metrics) RecordCallback(ctx context.Context, provider, status string) {
	if m == nil {
		return
	}
	add(ctx, m.callbacks, 1, label("provider", provider), label("status", status))
}

func (m *Metrics) RecordSubmission(ctx context.Context, provider, status string) {
	if m == nil {
		return
	}
	add(ctx, m.submissions, 1, label("provider", provider), label("status", status))
}

func (m *Metrics) RecordBillingEvent(ctx context.Context, eventType, status string) {
	if m == nil {
		return
	}
	add(ctx, m.billingEvents, 1, label("event_type", eventType), label("status", status))
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
	"tier":        {},
	"endpoint":    {},
	"status_code": {},
	"provider":    {},
	"event_type":  {},
	"status":      {},
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
