// Package observe wires OpenTelemetry metrics and tracing for the classroom
// server.
package observe

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/ashureev/classroom-labs"

// Metrics holds every instrument the server records.
type Metrics struct {
	// LLMDuration is the latency of a single agent completion.
	LLMDuration metric.Float64Histogram
	// HTTPRequestDuration is the latency of API requests.
	HTTPRequestDuration metric.Float64Histogram

	// Rounds counts completed rounds by speaker and role.
	Rounds metric.Int64Counter
	// Selections counts speaker decisions by detection stage.
	Selections metric.Int64Counter
	// Sessions counts finished discussions by outcome.
	Sessions metric.Int64Counter
	// RejectedSessions counts start requests refused while a discussion ran.
	RejectedSessions metric.Int64Counter
	// LLMErrors counts failed completions by participant.
	LLMErrors metric.Int64Counter
	// TranscriptsPurged counts archived transcripts removed by retention.
	TranscriptsPurged metric.Int64Counter

	// ActiveSessions is the number of running discussions (0 or 1).
	ActiveSessions metric.Int64UpDownCounter
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 45, 90,
}

// NewMetrics creates all instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.LLMDuration, err = m.Float64Histogram("classroom.llm.duration",
		metric.WithDescription("Latency of agent completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("classroom.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.Rounds, err = m.Int64Counter("classroom.rounds",
		metric.WithDescription("Completed discussion rounds by speaker and role."),
	); err != nil {
		return nil, err
	}
	if met.Selections, err = m.Int64Counter("classroom.selections",
		metric.WithDescription("Speaker selections by detection stage."),
	); err != nil {
		return nil, err
	}
	if met.Sessions, err = m.Int64Counter("classroom.sessions",
		metric.WithDescription("Finished discussions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.RejectedSessions, err = m.Int64Counter("classroom.sessions.rejected",
		metric.WithDescription("Discussion starts rejected because another discussion was active."),
	); err != nil {
		return nil, err
	}
	if met.LLMErrors, err = m.Int64Counter("classroom.llm.errors",
		metric.WithDescription("Failed agent completions by participant."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptsPurged, err = m.Int64Counter("classroom.transcripts.purged",
		metric.WithDescription("Archived transcripts deleted by the retention worker."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("classroom.active_sessions",
		metric.WithDescription("Number of running discussions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] built on the global
// meter provider. Call it after [InitProvider] so the instruments reach the
// exporter.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordRound counts a completed round.
func (m *Metrics) RecordRound(ctx context.Context, speaker, role string) {
	m.Rounds.Add(ctx, 1, metric.WithAttributes(
		attribute.String("speaker", speaker),
		attribute.String("role", role),
	))
}

// RecordSelection counts a speaker decision.
func (m *Metrics) RecordSelection(ctx context.Context, stage string, redrawn bool) {
	m.Selections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("redrawn", strconv.FormatBool(redrawn)),
	))
}

// RecordSession counts a finished discussion.
func (m *Metrics) RecordSession(ctx context.Context, outcome string) {
	m.Sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordLLMDuration observes the latency of one completion.
func (m *Metrics) RecordLLMDuration(ctx context.Context, participant string, seconds float64) {
	m.LLMDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("participant", participant)))
}

// RecordLLMError counts a failed completion.
func (m *Metrics) RecordLLMError(ctx context.Context, participant string) {
	m.LLMErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("participant", participant)))
}
