// Package metrics exposes the agent's delivery counters in the Prometheus
// text format. Families are built directly as client_model protos and
// rendered with expfmt; there is no registry.
package metrics

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/redmetrics/redmetrics-go/pkg/redmetrics"
)

// Exported metric names.
const (
	MetricState           = "redmetrics_connection_state"
	MetricQueueDepth      = "redmetrics_queue_depth"
	MetricRecordsSent     = "redmetrics_records_sent_total"
	MetricFlushes         = "redmetrics_flushes_total"
	MetricFlushFailures   = "redmetrics_flush_failures_total"
	MetricDiscarded       = "redmetrics_records_discarded_total"
	MetricFlushDuration   = "redmetrics_flush_duration_seconds_total"
	MetricLastFlushTime   = "redmetrics_last_flush_timestamp_seconds"
	MetricLastFlushFailed = "redmetrics_last_flush_failed"
)

var states = []redmetrics.State{
	redmetrics.Disconnected,
	redmetrics.Connecting,
	redmetrics.Connected,
}

// Exporter renders Connection statistics plus flush timings it observes.
type Exporter struct {
	stats func() redmetrics.Stats

	mu            sync.Mutex
	last          redmetrics.FlushReport
	observed      bool
	totalDuration float64
}

// New returns an Exporter reading counters from stats on every scrape.
// stats is a func so the caller can swap the underlying Connection.
func New(stats func() redmetrics.Stats) *Exporter {
	return &Exporter{stats: stats}
}

// Observe records a flush outcome. It is meant to be passed to
// redmetrics.WithFlushHook.
func (e *Exporter) Observe(r redmetrics.FlushReport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = r
	e.observed = true
	e.totalDuration += r.Duration.Seconds()
}

// Gather builds the metric families, sorted by name.
func (e *Exporter) Gather() []*dto.MetricFamily {
	s := e.stats()

	e.mu.Lock()
	last, observed, total := e.last, e.observed, e.totalDuration
	e.mu.Unlock()

	stateMetrics := make([]*dto.Metric, 0, len(states))
	for _, st := range states {
		v := 0.0
		if s.State == st {
			v = 1
		}
		stateMetrics = append(stateMetrics, gauge(v, "state", st.String()))
	}

	mfs := []*dto.MetricFamily{
		family(MetricState, "Current connection state (1 for the active state).",
			dto.MetricType_GAUGE, stateMetrics...),
		family(MetricQueueDepth, "Records waiting for the next flush.", dto.MetricType_GAUGE,
			gauge(float64(s.QueuedEvents), "kind", "event"),
			gauge(float64(s.QueuedSnapshots), "kind", "snapshot"),
		),
		family(MetricRecordsSent, "Records accepted by the collector.", dto.MetricType_COUNTER,
			counter(float64(s.EventsSent), "kind", "event"),
			counter(float64(s.SnapshotsSent), "kind", "snapshot"),
		),
		family(MetricFlushes, "Flushes that transmitted at least one batch.",
			dto.MetricType_COUNTER, counter(float64(s.Flushes))),
		family(MetricFlushFailures, "Flushes where a batch POST failed.",
			dto.MetricType_COUNTER, counter(float64(s.FlushFailures))),
		family(MetricDiscarded, "Records dropped on disconnect without delivery.",
			dto.MetricType_COUNTER, counter(float64(s.Discarded))),
		family(MetricFlushDuration, "Time spent in flushes.",
			dto.MetricType_COUNTER, counter(total)),
	}

	if observed {
		failed := 0.0
		if last.Err != nil {
			failed = 1
		}
		mfs = append(mfs,
			family(MetricLastFlushTime, "Unix time of the most recent flush.",
				dto.MetricType_GAUGE, gauge(unixSeconds(last.At))),
			family(MetricLastFlushFailed, "1 if the most recent flush failed.",
				dto.MetricType_GAUGE, gauge(failed)),
		)
	}

	sort.Slice(mfs, func(i, j int) bool { return mfs[i].GetName() < mfs[j].GetName() })
	return mfs
}

// WriteText renders all families in the Prometheus text format.
func (e *Exporter) WriteText(w io.Writer) error {
	for _, mf := range e.Gather() {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// ServeHTTP implements http.Handler for GET /metrics.
func (e *Exporter) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	if err := e.WriteText(w); err != nil {
		slog.Warn("metrics: write failed", "err", err)
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

func family(name, help string, typ dto.MetricType, ms ...*dto.Metric) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(name),
		Help:   proto.String(help),
		Type:   typ.Enum(),
		Metric: ms,
	}
}

func gauge(v float64, labels ...string) *dto.Metric {
	return &dto.Metric{Label: labelPairs(labels), Gauge: &dto.Gauge{Value: proto.Float64(v)}}
}

func counter(v float64, labels ...string) *dto.Metric {
	return &dto.Metric{Label: labelPairs(labels), Counter: &dto.Counter{Value: proto.Float64(v)}}
}

// labelPairs turns alternating name/value strings into label pairs.
func labelPairs(kv []string) []*dto.LabelPair {
	if len(kv) == 0 {
		return nil
	}
	out := make([]*dto.LabelPair, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, &dto.LabelPair{Name: proto.String(kv[i]), Value: proto.String(kv[i+1])})
	}
	return out
}
