package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/marcelsud/dispatch/breaker"
	"github.com/marcelsud/dispatch/job"
	"github.com/marcelsud/dispatch/webhook"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OTelExporter provides OpenTelemetry metrics export following OTel standards
type OTelExporter struct {
	meterProvider *sdkmetric.MeterProvider
	registry      *promclient.Registry
	meter         metric.Meter

	// push instruments, recorded from component hooks
	jobOutcomes        metric.Int64Counter
	jobDuration        metric.Float64Histogram
	deliveries         metric.Int64Counter
	deliveryDuration   metric.Float64Histogram
	breakerTransitions metric.Int64Counter
	rateLimitFailOpen  metric.Int64Counter
	registration       metric.Registration
}

// NewOTelExporter creates an exporter with its own Prometheus registry.
// Gauges backed by a Collector are added with Observe.
func NewOTelExporter() (*OTelExporter, error) {
	registry := promclient.NewRegistry()

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	meter := meterProvider.Meter(
		"dispatch",
		metric.WithInstrumentationVersion("1.0.0"),
	)

	oe := &OTelExporter{
		meterProvider: meterProvider,
		registry:      registry,
		meter:         meter,
	}

	if err := oe.registerInstruments(); err != nil {
		return nil, fmt.Errorf("registering instruments: %w", err)
	}

	return oe, nil
}

// registerInstruments creates the counters and histograms fed by hooks
func (oe *OTelExporter) registerInstruments() error {
	var err error

	oe.jobOutcomes, err = oe.meter.Int64Counter(
		"dispatch_jobs_total",
		metric.WithDescription("Jobs settled by the workers, by queue and outcome"),
		metric.WithUnit("{jobs}"),
	)
	if err != nil {
		return fmt.Errorf("creating job outcome counter: %w", err)
	}

	oe.jobDuration, err = oe.meter.Float64Histogram(
		"dispatch_job_duration_seconds",
		metric.WithDescription("Handler duration per job attempt"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("creating job duration histogram: %w", err)
	}

	oe.deliveries, err = oe.meter.Int64Counter(
		"dispatch_webhook_deliveries_total",
		metric.WithDescription("Webhook delivery attempts, by result and status class"),
		metric.WithUnit("{deliveries}"),
	)
	if err != nil {
		return fmt.Errorf("creating delivery counter: %w", err)
	}

	oe.deliveryDuration, err = oe.meter.Float64Histogram(
		"dispatch_webhook_delivery_duration_seconds",
		metric.WithDescription("Webhook HTTP call duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("creating delivery duration histogram: %w", err)
	}

	oe.breakerTransitions, err = oe.meter.Int64Counter(
		"dispatch_breaker_transitions_total",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transitions}"),
	)
	if err != nil {
		return fmt.Errorf("creating breaker transition counter: %w", err)
	}

	oe.rateLimitFailOpen, err = oe.meter.Int64Counter(
		"dispatch_ratelimit_fail_open_total",
		metric.WithDescription("Requests allowed because the rate limit store failed"),
		metric.WithUnit("{requests}"),
	)
	if err != nil {
		return fmt.Errorf("creating fail-open counter: %w", err)
	}

	return nil
}

// Observe registers the gauges read from collector on every scrape
func (oe *OTelExporter) Observe(collector Collector) error {
	if oe.registration != nil {
		return errors.New("collector already registered")
	}

	queueJobs, err := oe.meter.Int64ObservableGauge(
		"dispatch_queue_jobs",
		metric.WithDescription("Jobs per queue and state"),
		metric.WithUnit("{jobs}"),
	)
	if err != nil {
		return fmt.Errorf("creating queue gauge: %w", err)
	}

	breakerState, err := oe.meter.Int64ObservableGauge(
		"dispatch_breaker_state",
		metric.WithDescription("1 for the current state of each circuit breaker, 0 otherwise"),
	)
	if err != nil {
		return fmt.Errorf("creating breaker state gauge: %w", err)
	}

	breakerFailures, err := oe.meter.Int64ObservableGauge(
		"dispatch_breaker_failures",
		metric.WithDescription("Failures inside the monitoring period of each circuit breaker"),
		metric.WithUnit("{failures}"),
	)
	if err != nil {
		return fmt.Errorf("creating breaker failure gauge: %w", err)
	}

	activeWorkers, err := oe.meter.Int64ObservableGauge(
		"dispatch_workers_active",
		metric.WithDescription("Number of live workers per queue"),
		metric.WithUnit("{workers}"),
	)
	if err != nil {
		return fmt.Errorf("creating active workers gauge: %w", err)
	}

	oe.registration, err = oe.meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		return observe(ctx, collector, o, queueJobs, breakerState, breakerFailures, activeWorkers)
	}, queueJobs, breakerState, breakerFailures, activeWorkers)
	if err != nil {
		return fmt.Errorf("registering collector callback: %w", err)
	}

	return nil
}

func observe(ctx context.Context, collector Collector, o metric.Observer,
	queueJobs, breakerState, breakerFailures, activeWorkers metric.Int64ObservableGauge) error {
	queues, err := collector.GetQueueStats(ctx)
	if err != nil {
		return err
	}
	for _, st := range queues {
		for state, n := range map[string]int64{
			"waiting":   st.Waiting,
			"active":    st.Active,
			"delayed":   st.Delayed,
			"completed": st.Completed,
			"failed":    st.Failed,
		} {
			o.ObserveInt64(queueJobs, n, metric.WithAttributes(
				attribute.String("queue", st.Queue.String()),
				attribute.String("state", state),
			))
		}
	}

	for _, hs := range collector.GetBreakers() {
		for _, s := range []breaker.State{breaker.Closed, breaker.Open, breaker.HalfOpen} {
			var v int64
			if hs.State == s {
				v = 1
			}
			o.ObserveInt64(breakerState, v, metric.WithAttributes(
				attribute.String("breaker", hs.Name),
				attribute.String("state", s.String()),
			))
		}
		o.ObserveInt64(breakerFailures, int64(hs.FailureCount), metric.WithAttributes(
			attribute.String("breaker", hs.Name),
		))
	}

	workers, err := collector.GetActiveWorkers(ctx)
	if err != nil {
		return err
	}
	for queue, list := range workers {
		o.ObserveInt64(activeWorkers, int64(len(list)), metric.WithAttributes(
			attribute.String("queue", queue),
		))
	}

	return nil
}

// RecordOutcome matches job.RunnerOptions.OnOutcome
func (oe *OTelExporter) RecordOutcome(queue job.Queue, outcome job.Outcome, elapsed time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("queue", queue.String()),
		attribute.String("outcome", string(outcome)),
	)
	oe.jobOutcomes.Add(ctx, 1, attrs)
	oe.jobDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordDelivery matches delivery.WebhookHandlerOptions.OnAttempt
func (oe *OTelExporter) RecordDelivery(status webhook.DeliveryStatus, statusCode int, elapsed time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("result", status.String()),
		attribute.String("status_class", statusClass(statusCode)),
	)
	oe.deliveries.Add(ctx, 1, attrs)
	oe.deliveryDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordTransition matches breaker.WithOnStateChange
func (oe *OTelExporter) RecordTransition(name string, from, to breaker.State) {
	oe.breakerTransitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}

// RecordFailOpen matches ratelimit.WithFailOpenHook
func (oe *OTelExporter) RecordFailOpen(ctx context.Context, routeID string, _ error) {
	oe.rateLimitFailOpen.Add(ctx, 1, metric.WithAttributes(
		attribute.String("route", routeID),
	))
}

// ServeHTTP serves Prometheus-formatted metrics from the private registry
func (oe *OTelExporter) ServeHTTP() http.Handler {
	return promhttp.HandlerFor(oe.registry, promhttp.HandlerOpts{})
}

// Shutdown gracefully shuts down the meter provider
func (oe *OTelExporter) Shutdown(ctx context.Context) error {
	if oe.registration != nil {
		_ = oe.registration.Unregister()
	}
	if oe.meterProvider != nil {
		return oe.meterProvider.Shutdown(ctx)
	}
	return nil
}

func statusClass(code int) string {
	if code == 0 {
		return "none"
	}
	return strconv.Itoa(code/100) + "xx"
}
