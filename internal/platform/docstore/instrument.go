package docstore

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type storeMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

func newStoreMetrics(reg prometheus.Registerer) *storeMetrics {
	m := &storeMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fhir",
			Subsystem: "docstore",
			Name:      "operations_total",
			Help:      "Total document store operations by outcome",
		}, []string{"operation", "outcome"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fhir",
			Subsystem: "docstore",
			Name:      "operation_duration_seconds",
			Help:      "Document store operation duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),
	}
	reg.MustRegister(m.operations, m.duration)
	return m
}

func (m *storeMetrics) observe(op string, start time.Time, err error) {
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	m.operations.WithLabelValues(op, outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	}
	return "error"
}

// Instrumented records a counter and a latency histogram for every call to
// the wrapped Store.
type Instrumented struct {
	next    Store
	metrics *storeMetrics
}

// Instrument wraps store and registers its collectors with reg.
func Instrument(store Store, reg prometheus.Registerer) *Instrumented {
	return &Instrumented{next: store, metrics: newStoreMetrics(reg)}
}

func (s *Instrumented) FindOne(ctx context.Context, cond Condition, projection map[string]any) (doc Document, err error) {
	defer func(start time.Time) { s.metrics.observe("find_one", start, err) }(time.Now())
	return s.next.FindOne(ctx, cond, projection)
}

func (s *Instrumented) Find(ctx context.Context, cond Condition, opts FindOptions) (docs []Document, err error) {
	defer func(start time.Time) { s.metrics.observe("find", start, err) }(time.Now())
	return s.next.Find(ctx, cond, opts)
}

func (s *Instrumented) Count(ctx context.Context, cond Condition) (n int, err error) {
	defer func(start time.Time) { s.metrics.observe("count", start, err) }(time.Now())
	return s.next.Count(ctx, cond)
}

func (s *Instrumented) Insert(ctx context.Context, doc Document) (stored Document, err error) {
	defer func(start time.Time) { s.metrics.observe("insert", start, err) }(time.Now())
	return s.next.Insert(ctx, doc)
}

func (s *Instrumented) ReplaceOne(ctx context.Context, cond Condition, doc Document) (stored Document, err error) {
	defer func(start time.Time) { s.metrics.observe("replace_one", start, err) }(time.Now())
	return s.next.ReplaceOne(ctx, cond, doc)
}

func (s *Instrumented) UpdateOne(ctx context.Context, cond Condition, update Update) (stored Document, err error) {
	defer func(start time.Time) { s.metrics.observe("update_one", start, err) }(time.Now())
	return s.next.UpdateOne(ctx, cond, update)
}
