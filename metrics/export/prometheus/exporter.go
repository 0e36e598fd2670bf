package prometheus

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/metrics/export/internaldefs"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

// Source is what the exporter reads on every scrape. *authcore.Engine
// satisfies it.
type Source interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// HealthSource is implemented by sources that can ping the identity store.
// When present each scrape also reports authcore_store_up.
type HealthSource interface {
	Health(ctx context.Context) authcore.HealthStatus
}

// Exporter renders engine counters in the Prometheus text format.
type Exporter struct {
	source Source
}

// New returns an Exporter reading from engine.
func New(engine *authcore.Engine) *Exporter {
	return &Exporter{source: engine}
}

// NewFromSource returns an Exporter reading from source.
func NewFromSource(source Source) *Exporter {
	return &Exporter{source: source}
}

// Handler serves Render for the request context.
func (e *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = io.WriteString(w, e.Render(r.Context()))
	})
}

// Render returns the exposition text. It is empty while metrics are disabled
// and no audit event has been dropped.
func (e *Exporter) Render(ctx context.Context) string {
	if e == nil || e.source == nil {
		return ""
	}

	snapshot := e.source.MetricsSnapshot()
	dropped := e.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	w := textWriter{}
	for _, def := range internaldefs.CounterDefs {
		w.family(def.Name, def.Help, "counter")
		w.sample(def.Name, "", strconv.FormatUint(snapshot.Counters[def.ID], 10))
	}
	for _, def := range internaldefs.HistogramDefs {
		w.histogram(def.Name, def.Help, internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID])))
	}

	w.family(auditDroppedName, "Audit events discarded because the dispatcher buffer was full.", "counter")
	w.sample(auditDroppedName, "", strconv.FormatUint(dropped, 10))

	if hs, ok := e.source.(HealthSource); ok {
		health := hs.Health(ctx)
		up := "0"
		if health.StoreAvailable {
			up = "1"
		}
		w.family(storeUpName, "Whether the identity store answered the last ping.", "gauge")
		w.sample(storeUpName, "", up)
		w.family(storePingName, "Duration of the last identity store ping.", "gauge")
		w.sample(storePingName, "", strconv.FormatFloat(health.StoreLatency.Seconds(), 'g', -1, 64))
	}

	return w.String()
}

const (
	auditDroppedName = "authcore_audit_dropped_total"
	storeUpName      = "authcore_store_up"
	storePingName    = "authcore_store_ping_seconds"
)

type textWriter struct {
	strings.Builder
}

func (w *textWriter) family(name, help, kind string) {
	w.WriteString("# HELP " + name + " " + escapeHelp(help) + "\n")
	w.WriteString("# TYPE " + name + " " + kind + "\n")
}

func (w *textWriter) sample(name, labels, value string) {
	w.WriteString(name)
	if labels != "" {
		w.WriteString("{" + labels + "}")
	}
	w.WriteString(" " + value + "\n")
}

func (w *textWriter) histogram(name, help string, cumulative [8]uint64) {
	w.family(name, help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		w.sample(name+"_bucket", `le="`+le+`"`, strconv.FormatUint(cumulative[i], 10))
	}
	w.sample(name+"_count", "", strconv.FormatUint(cumulative[len(cumulative)-1], 10))
	// Snapshots carry bucket counts only.
	w.sample(name+"_sum", "", "0")
}

func escapeHelp(help string) string {
	return strings.NewReplacer(`\`, `\\`, "\n", `\n`).Replace(help)
}
