package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type Metrics struct {
	HTTPRequests       metric.Int64Counter
	HTTPDuration       metric.Float64Histogram
	LedgerSubmissions  metric.Int64Counter
	LedgerDuration     metric.Float64Histogram
	Operations         metric.Int64Counter
	InFlightOperations metric.Int64UpDownCounter
	StreamClients      metric.Int64UpDownCounter
}

// Setup registers the Prometheus exporter as the global meter provider. Call it once per process.
func Setup(serviceName string) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	m := &Metrics{}

	m.HTTPRequests, err = meter.Int64Counter(
		"lp_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPDuration, err = meter.Float64Histogram(
		"lp_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.LedgerSubmissions, err = meter.Int64Counter(
		"lp_ledger_submissions_total",
		metric.WithDescription("Ledger transactions submitted, by step and outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.LedgerDuration, err = meter.Float64Histogram(
		"lp_ledger_submit_duration_seconds",
		metric.WithDescription("Time from sign to confirmation of a ledger transaction"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.Operations, err = meter.Int64Counter(
		"lp_operations_total",
		metric.WithDescription("Launchpad operations completed, by operation and error kind"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.InFlightOperations, err = meter.Int64UpDownCounter(
		"lp_operations_in_flight",
		metric.WithDescription("Launchpad operations currently running"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StreamClients, err = meter.Int64UpDownCounter(
		"lp_stream_clients",
		metric.WithDescription("Connected event stream clients, by transport"),
	)
	if err != nil {
		return nil, nil, err
	}

	handler := promhttp.Handler()
	return m, handler, nil
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	labels := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)

	m.HTTPRequests.Add(ctx, 1, labels)
	m.HTTPDuration.Record(ctx, duration.Seconds(), labels)
}

// RecordSubmission counts one ledger submission. outcome is "confirmed" or an error kind.
func (m *Metrics) RecordSubmission(ctx context.Context, step, outcome string, duration time.Duration) {
	labels := metric.WithAttributes(
		attribute.String("step", step),
		attribute.String("outcome", outcome),
	)
	m.LedgerSubmissions.Add(ctx, 1, labels)
	m.LedgerDuration.Record(ctx, duration.Seconds(), labels)
}

// RecordOperation counts one finished operation. kind is empty on success.
func (m *Metrics) RecordOperation(ctx context.Context, op, kind string) {
	if kind == "" {
		kind = "ok"
	}
	m.Operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("kind", kind),
	))
}

func (m *Metrics) OperationStarted(ctx context.Context, op string) {
	m.InFlightOperations.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func (m *Metrics) OperationFinished(ctx context.Context, op string) {
	m.InFlightOperations.Add(ctx, -1, metric.WithAttributes(attribute.String("op", op)))
}

func (m *Metrics) ClientConnected(ctx context.Context, transport string) {
	m.StreamClients.Add(ctx, 1, metric.WithAttributes(attribute.String("transport", transport)))
}

func (m *Metrics) ClientDisconnected(ctx context.Context, transport string) {
	m.StreamClients.Add(ctx, -1, metric.WithAttributes(attribute.String("transport", transport)))
}
