// Package observe provides the prediction engine's OpenTelemetry metrics.
//
// Instruments are created from a [metric.MeterProvider] with [NewMetrics].
// [Noop] returns instruments that record nothing; [InitProvider] installs a
// Prometheus exporter bridge so the counters can be scraped from /metrics.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name used for all nextword metrics.
const meterName = "github.com/bastiangx/nextword"

// Prediction paths, recorded as the "path" attribute.
const (
	PathOffline  = "offline"
	PathFallback = "fallback"
	PathCached   = "cached"
	PathRemote   = "remote"
	PathFailed   = "remote_failed"
)

// Metrics holds the metric instruments. All fields are safe for concurrent
// use.
type Metrics struct {
	// Predictions counts Predict calls by path.
	Predictions metric.Int64Counter

	// PredictDuration tracks end-to-end Predict latency by path.
	PredictDuration metric.Float64Histogram

	// RemoteRequests counts remote fetches by status ("ok" or a failure kind).
	RemoteRequests metric.Int64Counter

	// CacheLookups counts response cache reads by result ("hit" or "miss").
	CacheLookups metric.Int64Counter

	// Observations counts words fed into the n-gram model.
	Observations metric.Int64Counter
}

// latencyBuckets in seconds; local lookups sit at the bottom, remote calls
// with retries at the top.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15,
}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Predictions, err = m.Int64Counter("nextword.predictions",
		metric.WithDescription("Total predictions by path."),
	); err != nil {
		return nil, err
	}
	if met.PredictDuration, err = m.Float64Histogram("nextword.predict.duration",
		metric.WithDescription("Latency of a prediction by path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RemoteRequests, err = m.Int64Counter("nextword.remote.requests",
		metric.WithDescription("Total remote prediction requests by status."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("nextword.cache.lookups",
		metric.WithDescription("Total response cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.Observations, err = m.Int64Counter("nextword.observed.words",
		metric.WithDescription("Total words observed by the n-gram model."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// Noop returns metrics that discard every measurement.
func Noop() *Metrics {
	// The noop provider never fails.
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

// RecordPrediction counts one prediction and its latency.
func (m *Metrics) RecordPrediction(ctx context.Context, path string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("path", path))
	m.Predictions.Add(ctx, 1, attrs)
	m.PredictDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordRemote counts one remote request outcome.
func (m *Metrics) RecordRemote(ctx context.Context, status string) {
	m.RemoteRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordCacheLookup counts one cache read.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordObserved counts words handed to the model.
func (m *Metrics) RecordObserved(ctx context.Context, words int) {
	m.Observations.Add(ctx, int64(words))
}
