package worker

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the worker's OpenTelemetry counters. All methods are nil-safe
// so tests and unconfigured deployments can pass a nil *Metrics.
type Metrics struct {
	jobsConsumed   metric.Int64Counter
	analysesOK     metric.Int64Counter
	analysesFailed metric.Int64Counter
	tokensDebited  metric.Int64Counter
}

// NewMetrics creates the worker counters on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	jobsConsumed, err := meter.Int64Counter("analysis.jobs.consumed",
		metric.WithDescription("Analysis jobs read from the queue"))
	if err != nil {
		return nil, err
	}
	analysesOK, err := meter.Int64Counter("analysis.records.processed",
		metric.WithDescription("Analyses that reached the processed state"))
	if err != nil {
		return nil, err
	}
	analysesFailed, err := meter.Int64Counter("analysis.records.failed",
		metric.WithDescription("Analyses that reached the failed state"))
	if err != nil {
		return nil, err
	}
	tokensDebited, err := meter.Int64Counter("quota.tokens.debited",
		metric.WithDescription("Tokens debited for analysis attempts"))
	if err != nil {
		return nil, err
	}
	return &Metrics{
		jobsConsumed:   jobsConsumed,
		analysesOK:     analysesOK,
		analysesFailed: analysesFailed,
		tokensDebited:  tokensDebited,
	}, nil
}

func (m *Metrics) JobConsumed(ctx context.Context, analysisType string) {
	if m == nil {
		return
	}
	m.jobsConsumed.Add(ctx, 1, metric.WithAttributes(attribute.String("analysis.type", analysisType)))
}

func (m *Metrics) AnalysisProcessed(ctx context.Context, analysisType string) {
	if m == nil {
		return
	}
	m.analysesOK.Add(ctx, 1, metric.WithAttributes(attribute.String("analysis.type", analysisType)))
}

func (m *Metrics) AnalysisFailed(ctx context.Context, analysisType string) {
	if m == nil {
		return
	}
	m.analysesFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("analysis.type", analysisType)))
}

func (m *Metrics) TokensDebited(ctx context.Context, analysisType string, amount int) {
	if m == nil {
		return
	}
	m.tokensDebited.Add(ctx, int64(amount), metric.WithAttributes(attribute.String("analysis.type", analysisType)))
}
