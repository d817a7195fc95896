package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	promreg "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/haoran127/costix/internal/config"
)

type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *metric.MeterProvider
	promExporter   *prometheus.Exporter
	promHandler    http.Handler
	shutdownFuncs  []func(context.Context) error

	httpRequestCounter *promreg.CounterVec
	httpRequestLatency *promreg.HistogramVec
	syncRunCounter     *promreg.CounterVec
	syncDurationHist   *promreg.HistogramVec
	savedRecordCounter *promreg.CounterVec
	unmatchedKeysGauge *promreg.GaugeVec
}

func Setup(ctx context.Context, cfg config.ObservabilityConfig) (*Provider, error) {
	if !cfg.EnableOTLP && !cfg.EnableMetrics {
		return nil, nil
	}

	provider := &Provider{}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("costix"),
		),
	)
	if err != nil {
		return nil, err
	}

	if cfg.EnableOTLP {
		rawEndpoint := strings.TrimSpace(cfg.OTLPEndpoint)
		endpoint := rawEndpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		opts := []otlptracegrpc.Option{}
		switch {
		case strings.HasPrefix(endpoint, "http://"):
			endpoint = strings.TrimPrefix(endpoint, "http://")
			opts = append(opts, otlptracegrpc.WithInsecure())
		case strings.HasPrefix(endpoint, "https://"):
			endpoint = strings.TrimPrefix(endpoint, "https://")
		default:
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))

		client := otlptracegrpc.NewClient(opts...)
		exporter, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		provider.tracerProvider = tp
		provider.shutdownFuncs = append(provider.shutdownFuncs, tp.Shutdown)
	}

	if cfg.EnableMetrics {
		registry := promreg.NewRegistry()
		promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
		if err != nil {
			return nil, err
		}
		mp := metric.NewMeterProvider(
			metric.WithReader(promExporter),
			metric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		provider.meterProvider = mp
		provider.promExporter = promExporter
		provider.promHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
		provider.shutdownFuncs = append(provider.shutdownFuncs, mp.Shutdown)

		httpRequests := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: "costix",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed.",
			},
			[]string{"method", "route", "status"},
		)
		latencyBuckets := []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10}
		httpLatency := promreg.NewHistogramVec(
			promreg.HistogramOpts{
				Namespace: "costix",
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds.",
				Buckets:   latencyBuckets,
			},
			[]string{"method", "route", "status"},
		)
		syncRuns := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: "costix",
				Name:      "sync_runs_total",
				Help:      "Sync pipeline runs by terminal state.",
			},
			[]string{"platform", "trigger", "state"},
		)
		syncDuration := promreg.NewHistogramVec(
			promreg.HistogramOpts{
				Namespace: "costix",
				Name:      "sync_duration_seconds",
				Help:      "End-to-end duration of sync runs.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"platform", "trigger"},
		)
		savedRecords := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: "costix",
				Name:      "usage_records_saved_total",
				Help:      "Usage records written by the sync pipeline.",
			},
			[]string{"platform"},
		)
		unmatchedKeys := promreg.NewGaugeVec(
			promreg.GaugeOpts{
				Namespace: "costix",
				Name:      "unmatched_usage_keys",
				Help:      "Provider keys with usage but no registry match, as of the last run.",
			},
			[]string{"platform"},
		)
		for _, collector := range []promreg.Collector{httpRequests, httpLatency, syncRuns, syncDuration, savedRecords, unmatchedKeys} {
			if err := registry.Register(collector); err != nil {
				return nil, err
			}
		}
		provider.httpRequestCounter = httpRequests
		provider.httpRequestLatency = httpLatency
		provider.syncRunCounter = syncRuns
		provider.syncDurationHist = syncDuration
		provider.savedRecordCounter = savedRecords
		provider.unmatchedKeysGauge = unmatchedKeys
	}

	return provider, nil
}

func (p *Provider) PrometheusHandler() http.Handler {
	if p == nil || p.promHandler == nil {
		return nil
	}
	return p.promHandler
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) TracerProvider() *sdktrace.TracerProvider {
	if p == nil {
		return nil
	}
	return p.tracerProvider
}

func (p *Provider) RecordHTTPRequest(_ context.Context, method, route string, status int, duration time.Duration) {
	if p == nil {
		return
	}

	statusLabel := strconv.Itoa(status)

	if p.httpRequestCounter != nil {
		p.httpRequestCounter.WithLabelValues(method, route, statusLabel).Inc()
	}

	if p.httpRequestLatency != nil {
		p.httpRequestLatency.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
	}
}

// ObserveSyncRun, AddSavedRecords and SetUnmatchedKeys satisfy the sync
// pipeline's metrics contract. A nil provider degrades to no-ops so the
// pipeline never cares whether metrics are enabled.

func (p *Provider) ObserveSyncRun(platform, trigger, state string, duration time.Duration) {
	if p == nil {
		return
	}
	if p.syncRunCounter != nil {
		p.syncRunCounter.WithLabelValues(platform, trigger, state).Inc()
	}
	if p.syncDurationHist != nil {
		p.syncDurationHist.WithLabelValues(platform, trigger).Observe(duration.Seconds())
	}
}

func (p *Provider) AddSavedRecords(platform string, n int) {
	if p == nil || p.savedRecordCounter == nil || n <= 0 {
		return
	}
	p.savedRecordCounter.WithLabelValues(platform).Add(float64(n))
}

func (p *Provider) SetUnmatchedKeys(platform string, n int) {
	if p == nil || p.unmatchedKeysGauge == nil {
		return
	}
	p.unmatchedKeysGauge.WithLabelValues(platform).Set(float64(n))
}
