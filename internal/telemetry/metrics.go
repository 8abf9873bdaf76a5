// Package telemetry exposes the runtime's metric counters through the
// OpenTelemetry metric API with a Prometheus exporter.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/emooreatx/cirisagent/internal/logging"
)

// Config configures the metrics collector.
type Config struct {
	Enabled        bool `yaml:"enabled"`
	PrometheusPort int  `yaml:"prometheus_port"`
}

// Collector manages all runtime metrics. A disabled collector is a cheap
// no-op so call sites never branch.
type Collector struct {
	enabled bool
	meter   metric.Meter

	dmaRuns          metric.Int64Counter
	dmaFailures      metric.Int64Counter
	actionSelections metric.Int64Counter
	guardrailChecks  metric.Int64Counter
	handlerRuns      metric.Int64Counter
	roundsCompleted  metric.Int64Counter
	schedulerFires   metric.Int64Counter
	llmTokens        metric.Int64Counter
	llmCost          metric.Float64Counter
	pipelineLatency  metric.Float64Histogram

	server *http.Server
	logger logging.Logger
}

// NewCollector creates a collector; when disabled every method is a no-op.
func NewCollector(cfg Config, logger logging.Logger) (*Collector, error) {
	logger = logging.OrNop(logger)
	if !cfg.Enabled {
		return &Collector{logger: logger}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName("cirisagent")))
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter), sdkmetric.WithResource(res))
	otel.SetMeterProvider(provider)
	meter := provider.Meter("cirisagent")

	c := &Collector{enabled: true, meter: meter, logger: logger}

	if c.dmaRuns, err = meter.Int64Counter("ciris.dma.runs.total",
		metric.WithDescription("DMA invocations"), metric.WithUnit("{run}")); err != nil {
		return nil, err
	}
	if c.dmaFailures, err = meter.Int64Counter("ciris.dma.failures.total",
		metric.WithDescription("DMA terminal failures"), metric.WithUnit("{failure}")); err != nil {
		return nil, err
	}
	if c.actionSelections, err = meter.Int64Counter("ciris.actions.selected.total",
		metric.WithDescription("Action selections by action"), metric.WithUnit("{action}")); err != nil {
		return nil, err
	}
	if c.guardrailChecks, err = meter.Int64Counter("ciris.guardrails.checks.total",
		metric.WithDescription("Guardrail checks by outcome"), metric.WithUnit("{check}")); err != nil {
		return nil, err
	}
	if c.handlerRuns, err = meter.Int64Counter("ciris.handlers.runs.total",
		metric.WithDescription("Handler invocations by action and outcome"), metric.WithUnit("{run}")); err != nil {
		return nil, err
	}
	if c.roundsCompleted, err = meter.Int64Counter("ciris.processor.rounds.total",
		metric.WithDescription("Processor rounds completed by state"), metric.WithUnit("{round}")); err != nil {
		return nil, err
	}
	if c.schedulerFires, err = meter.Int64Counter("ciris.scheduler.fires.total",
		metric.WithDescription("Scheduled task triggers"), metric.WithUnit("{fire}")); err != nil {
		return nil, err
	}
	if c.llmTokens, err = meter.Int64Counter("ciris.llm.tokens.total",
		metric.WithDescription("LLM tokens by direction"), metric.WithUnit("{token}")); err != nil {
		return nil, err
	}
	if c.llmCost, err = meter.Float64Counter("ciris.llm.cost.usd",
		metric.WithDescription("Accumulated LLM cost"), metric.WithUnit("USD")); err != nil {
		return nil, err
	}
	if c.pipelineLatency, err = meter.Float64Histogram("ciris.pipeline.duration.seconds",
		metric.WithDescription("Thought pipeline duration"), metric.WithUnit("s")); err != nil {
		return nil, err
	}

	if cfg.PrometheusPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		c.server = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.PrometheusPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("Telemetry: prometheus server stopped: %v", err)
			}
		}()
		logger.Info("Telemetry: prometheus metrics on :%d/metrics", cfg.PrometheusPort)
	}

	return c, nil
}

// Shutdown stops the scrape server, if running.
func (c *Collector) Shutdown(ctx context.Context) error {
	if c == nil || c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// RecordDMARun counts a DMA invocation for a thought.
func (c *Collector) RecordDMARun(ctx context.Context, dmaName, thoughtID string) {
	if c == nil || !c.enabled {
		return
	}
	c.dmaRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("dma", dmaName),
		attribute.String("thought_id", thoughtID)))
}

// RecordDMAFailure counts a terminal DMA failure; these are tagged critical.
func (c *Collector) RecordDMAFailure(ctx context.Context, dmaName, thoughtID string) {
	if c == nil || !c.enabled {
		return
	}
	c.dmaFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("dma", dmaName),
		attribute.String("thought_id", thoughtID),
		attribute.Bool("critical", true)))
}

// RecordActionSelection counts a selected action.
func (c *Collector) RecordActionSelection(ctx context.Context, action, thoughtID string) {
	if c == nil || !c.enabled {
		return
	}
	c.actionSelections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("thought_id", thoughtID)))
}

// RecordGuardrailCheck counts a guardrail outcome (pass/override).
func (c *Collector) RecordGuardrailCheck(ctx context.Context, outcome, thoughtID string) {
	if c == nil || !c.enabled {
		return
	}
	c.guardrailChecks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("thought_id", thoughtID)))
}

// RecordHandlerRun counts a handler invocation.
func (c *Collector) RecordHandlerRun(ctx context.Context, action, outcome string) {
	if c == nil || !c.enabled {
		return
	}
	c.handlerRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome)))
}

// RecordRound counts a completed processor round.
func (c *Collector) RecordRound(ctx context.Context, state string) {
	if c == nil || !c.enabled {
		return
	}
	c.roundsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordSchedulerFire counts a scheduled-task trigger.
func (c *Collector) RecordSchedulerFire(ctx context.Context, taskID string) {
	if c == nil || !c.enabled {
		return
	}
	c.schedulerFires.Add(ctx, 1, metric.WithAttributes(attribute.String("scheduled_task_id", taskID)))
}

// RecordLLMUsage accumulates token and cost spend.
func (c *Collector) RecordLLMUsage(ctx context.Context, promptTokens, completionTokens int, costUSD float64) {
	if c == nil || !c.enabled {
		return
	}
	c.llmTokens.Add(ctx, int64(promptTokens), metric.WithAttributes(attribute.String("direction", "prompt")))
	c.llmTokens.Add(ctx, int64(completionTokens), metric.WithAttributes(attribute.String("direction", "completion")))
	c.llmCost.Add(ctx, costUSD)
}

// RecordPipelineDuration observes one thought's pipeline duration.
func (c *Collector) RecordPipelineDuration(ctx context.Context, seconds float64) {
	if c == nil || !c.enabled {
		return
	}
	c.pipelineLatency.Record(ctx, seconds)
}
