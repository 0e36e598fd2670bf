package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrNilMeter is returned by New when no meter is supplied.
	ErrNilMeter = errors.New("nil meter")
	// ErrNilSource is returned by NewFromSource when no source is supplied.
	ErrNilSource = errors.New("nil metrics source")
)

// Source is read on every collection. *authcore.Engine satisfies it.
type Source interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// HealthSource is implemented by sources that can ping the identity store.
// When present the exporter also observes authcore_store_up.
type HealthSource interface {
	Health(ctx context.Context) authcore.HealthStatus
}

type counter struct {
	id         authcore.MetricID
	instrument metric.Int64ObservableCounter
}

// histogram publishes cumulative bucket counts on one gauge, one series per
// upper bound, keyed by the le attribute.
type histogram struct {
	id      authcore.MetricID
	buckets metric.Int64ObservableGauge
	bounds  [8]metric.ObserveOption
	count   metric.Int64ObservableCounter
}

// Exporter owns the callback registration feeding the instruments.
type Exporter struct {
	source       Source
	health       HealthSource
	registration metric.Registration

	counters     []counter
	histograms   []histogram
	auditDropped metric.Int64ObservableCounter
	storeUp      metric.Int64ObservableGauge
}

// New registers the engine's counters on meter.
func New(meter metric.Meter, engine *authcore.Engine) (*Exporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewFromSource(meter, engine)
}

// NewFromSource registers source's counters on meter. Close unregisters them.
func NewFromSource(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}
	e.health, _ = source.(HealthSource)

	var observables []metric.Observable
	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help), metric.WithUnit("{event}"))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, counter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		h := histogram{id: def.ID}
		var err error
		if h.buckets, err = meter.Int64ObservableGauge(def.Name+"_bucket", metric.WithDescription(def.Help+" Cumulative bucket counts.")); err != nil {
			return nil, fmt.Errorf("histogram %s: %w", def.Name, err)
		}
		if h.count, err = meter.Int64ObservableCounter(def.Name+"_count", metric.WithDescription(def.Help+" Sample count.")); err != nil {
			return nil, fmt.Errorf("histogram %s: %w", def.Name, err)
		}
		for i, le := range internaldefs.HistogramBounds {
			h.bounds[i] = metric.WithAttributeSet(attribute.NewSet(attribute.String("le", le)))
		}
		e.histograms = append(e.histograms, h)
		observables = append(observables, h.buckets, h.count)
	}

	var err error
	if e.auditDropped, err = meter.Int64ObservableCounter("authcore_audit_dropped_total",
		metric.WithDescription("Audit events discarded because the dispatcher buffer was full."),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, fmt.Errorf("audit dropped counter: %w", err)
	}
	observables = append(observables, e.auditDropped)

	if e.health != nil {
		if e.storeUp, err = meter.Int64ObservableGauge("authcore_store_up",
			metric.WithDescription("Whether the identity store answered the last ping."),
		); err != nil {
			return nil, fmt.Errorf("store up gauge: %w", err)
		}
		observables = append(observables, e.storeUp)
	}

	if e.registration, err = meter.RegisterCallback(e.observe, observables...); err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *Exporter) observe(ctx context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		o.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
		for i, n := range cumulative {
			o.ObserveInt64(h.buckets, int64(n), h.bounds[i])
		}
		o.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))

	if e.health != nil {
		var up int64
		if e.health.Health(ctx).StoreAvailable {
			up = 1
		}
		o.ObserveInt64(e.storeUp, up)
	}
	return nil
}

// Close unregisters the callback. It is safe on a nil Exporter.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
