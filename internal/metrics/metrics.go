// Package metrics provides the contractual metric surface the message
// store emits (spec §6), backed by a Prometheus registry.
//
// Prometheus metric names cannot contain dots, so each contractual dotted
// name (e.g. "messages.store.time") is registered with dots mapped to
// underscores (timers additionally get a "_seconds" suffix and counters a
// "_total" suffix) and the original dotted name preserved verbatim in the
// metric's Help text and in the exported name constants below, so callers
// and tests can assert on the contract by name.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Contractual metric names, as named in spec §6.
const (
	NameLookupTime             = "messages.lookup.time"
	NameStoreTime              = "messages.store.time"
	NameRetentionRuns          = "messages.retention.cleanup.runs"
	NameRetentionErrors        = "messages.retention.cleanup.errors"
	NameRetentionRowsDeleted   = "messages.retention.cleanup.rows_deleted"
	NameRetentionDurationMS    = "messages.retention.cleanup.duration_ms"
)

// Recorder is the metrics surface the store writes to. Tests may swap in a
// no-op or fake implementation; production wiring uses NewPrometheus.
type Recorder interface {
	ObserveLookupTime(d time.Duration)
	ObserveStoreTime(d time.Duration)
	IncRetentionRuns()
	IncRetentionErrors()
	SetRetentionRowsDeleted(n int)
	SetRetentionDurationMS(ms int64)
}

func sanitize(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			out[i] = '_'
		} else {
			out[i] = name[i]
		}
	}
	return string(out)
}

// Prometheus is a Recorder backed by promauto-registered collectors.
type Prometheus struct {
	lookupTime           prometheus.Histogram
	storeTime            prometheus.Histogram
	retentionRuns        prometheus.Counter
	retentionErrors      prometheus.Counter
	retentionRowsDeleted prometheus.Gauge
	retentionDurationMS  prometheus.Gauge
}

// NewPrometheus registers and returns the store's Prometheus collectors.
func NewPrometheus() *Prometheus {
	return &Prometheus{
		lookupTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: sanitize(NameLookupTime) + "_seconds",
			Help: NameLookupTime + ": time to serve a CHATHISTORY range query",
		}),
		storeTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: sanitize(NameStoreTime) + "_seconds",
			Help: NameStoreTime + ": time to persist one ingested event",
		}),
		retentionRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: sanitize(NameRetentionRuns) + "_total",
			Help: NameRetentionRuns + ": number of retention cleanup cycles run",
		}),
		retentionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: sanitize(NameRetentionErrors) + "_total",
			Help: NameRetentionErrors + ": number of retention cleanup cycles that errored",
		}),
		retentionRowsDeleted: promauto.NewGauge(prometheus.GaugeOpts{
			Name: sanitize(NameRetentionRowsDeleted),
			Help: NameRetentionRowsDeleted + ": events deleted by the most recent retention cycle",
		}),
		retentionDurationMS: promauto.NewGauge(prometheus.GaugeOpts{
			Name: sanitize(NameRetentionDurationMS),
			Help: NameRetentionDurationMS + ": wall-clock duration of the most recent retention cycle",
		}),
	}
}

func (p *Prometheus) ObserveLookupTime(d time.Duration) { p.lookupTime.Observe(d.Seconds()) }
func (p *Prometheus) ObserveStoreTime(d time.Duration)  { p.storeTime.Observe(d.Seconds()) }
func (p *Prometheus) IncRetentionRuns()                 { p.retentionRuns.Inc() }
func (p *Prometheus) IncRetentionErrors()               { p.retentionErrors.Inc() }
func (p *Prometheus) SetRetentionRowsDeleted(n int)     { p.retentionRowsDeleted.Set(float64(n)) }
func (p *Prometheus) SetRetentionDurationMS(ms int64)   { p.retentionDurationMS.Set(float64(ms)) }

// Noop discards every observation. Used where a caller doesn't want to
// stand up a Prometheus registry (e.g. most store-level unit tests).
type Noop struct{}

func (Noop) ObserveLookupTime(time.Duration)  {}
func (Noop) ObserveStoreTime(time.Duration)   {}
func (Noop) IncRetentionRuns()                {}
func (Noop) IncRetentionErrors()              {}
func (Noop) SetRetentionRowsDeleted(int)      {}
func (Noop) SetRetentionDurationMS(int64)     {}
