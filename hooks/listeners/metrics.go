package listeners

import (
	"context"

	"github.com/INLOpen/atundo/hooks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "atundo"
	undoSubsystem    = "undo_log"
)

// MetricsListener turns undo log lifecycle events into Prometheus metrics.
type MetricsListener struct {
	FlushTotal          *prometheus.CounterVec
	FlushBytes          prometheus.Histogram
	UndoTotal           *prometheus.CounterVec
	UndoDurationSeconds prometheus.Histogram
	UndoRetriesTotal    prometheus.Counter
	PurgedRowsTotal     *prometheus.CounterVec
	TableMetaLookups    *prometheus.CounterVec
	TableMetaCached     prometheus.Gauge
	TableMetaHitRate    prometheus.Gauge
}

// NewMetricsListener creates the collectors and registers them on reg. A nil
// reg registers on the default registry.
func NewMetricsListener(reg prometheus.Registerer) *MetricsListener {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &MetricsListener{
		FlushTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: undoSubsystem,
			Name:      "flush_total",
			Help:      "Undo record sets flushed at prepare, by result",
		}, []string{"result"}),
		FlushBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: undoSubsystem,
			Name:      "flush_bytes",
			Help:      "Size of stored rollback_info payloads",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8), // 256B to 4MB
		}),
		UndoTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: undoSubsystem,
			Name:      "undo_total",
			Help:      "Branch undo calls by outcome",
		}, []string{"outcome"}),
		UndoDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: undoSubsystem,
			Name:      "undo_duration_seconds",
			Help:      "Branch undo latency including retries",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}),
		UndoRetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: undoSubsystem,
			Name:      "undo_retries_total",
			Help:      "Undo attempts restarted after losing the tombstone insert race",
		}),
		PurgedRowsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: undoSubsystem,
			Name:      "purged_rows_total",
			Help:      "Undo log rows removed by batch commit deletes and retention",
		}, []string{"reason"}),
		TableMetaLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "table_meta",
			Name:      "cache_lookups_total",
			Help:      "Table meta cache lookups by result",
		}, []string{"result"}),
		TableMetaCached: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "table_meta",
			Name:      "cached_tables",
			Help:      "Tables held by the table meta cache at the last lookup",
		}),
		TableMetaHitRate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "table_meta",
			Name:      "cache_hit_ratio",
			Help:      "Table meta cache hit ratio since start",
		}),
	}
}

// Register subscribes the listener to every event it measures.
func (l *MetricsListener) Register(m hooks.HookManager) {
	for _, et := range []hooks.EventType{
		hooks.EventPostFlushUndoLog,
		hooks.EventPostUndoBranch,
		hooks.EventOnUndoRetry,
		hooks.EventPostUndoLogPurge,
		hooks.EventOnTableMetaCacheHit,
		hooks.EventOnTableMetaCacheMiss,
	} {
		m.Register(et, l)
	}
}

func (l *MetricsListener) OnEvent(_ context.Context, event hooks.HookEvent) error {
	switch p := event.Payload().(type) {
	case hooks.PostFlushUndoLogPayload:
		if p.Error != nil {
			l.FlushTotal.WithLabelValues("error").Inc()
			return nil
		}
		l.FlushTotal.WithLabelValues("success").Inc()
		l.FlushBytes.Observe(float64(p.Bytes))
	case hooks.PostUndoBranchPayload:
		outcome := string(p.Outcome)
		if p.Error != nil {
			outcome = "error"
		}
		l.UndoTotal.WithLabelValues(outcome).Inc()
		l.UndoDurationSeconds.Observe(p.Duration.Seconds())
	case hooks.UndoRetryPayload:
		l.UndoRetriesTotal.Inc()
	case hooks.PostUndoLogPurgePayload:
		if p.Deleted > 0 {
			l.PurgedRowsTotal.WithLabelValues(string(p.Reason)).Add(float64(p.Deleted))
		}
	case hooks.TableMetaCachePayload:
		if event.Type() == hooks.EventOnTableMetaCacheHit {
			l.TableMetaLookups.WithLabelValues("hit").Inc()
		} else {
			l.TableMetaLookups.WithLabelValues("miss").Inc()
		}
		l.TableMetaCached.Set(float64(p.Size))
		l.TableMetaHitRate.Set(p.HitRate)
	}
	return nil
}

// Priority runs metrics before other listeners.
func (l *MetricsListener) Priority() int { return 10 }

// IsAsync keeps metric updates on the triggering goroutine.
func (l *MetricsListener) IsAsync() bool { return false }
