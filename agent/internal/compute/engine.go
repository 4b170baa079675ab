package compute

import (
	"context"
	"sync"
	"time"

	"github.com/redmetrics/redmetrics-go/agent/internal/session"
	"github.com/redmetrics/redmetrics-go/pkg/redmetrics"
)

// uptimeWindow is the number of recent samples tracked for uptime %.
const uptimeWindow = 20

// Result is the derived delivery health at one sample.
type Result struct {
	Timestamp       time.Time
	State           string
	EventsPM        float64 // events accepted per minute
	SnapshotsPM     float64 // snapshots accepted per minute
	DiscardPct      float64
	FlushSuccessPct float64
	FlushLatencyMs  float64
	UptimePct       float64
	StrengthScore   float64
}

// Engine keeps the previous sample and derives rates from counter deltas.
//
// All exported methods are safe for concurrent use.
type Engine struct {
	baselineLatency time.Duration

	mu       sync.Mutex
	prev     *redmetrics.Stats
	prevTime time.Time
	since    time.Time // identifies the Connection prev belongs to
	history  []bool    // connected or not, newest last
	latest   *Result
}

// NewEngine returns an Engine that scores a flush taking baselineLatency or
// longer with no latency credit.
func NewEngine(baselineLatency time.Duration) *Engine {
	return &Engine{baselineLatency: baselineLatency}
}

// Run samples src every interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, src func() session.Status, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.Process(src(), now)
		}
	}
}

// Latest returns a copy of the most recent Result, or nil before the first
// sample.
func (e *Engine) Latest() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.latest == nil {
		return nil
	}
	r := *e.latest
	return &r
}

// Process ingests a status sample taken at now and returns derived health.
//
// The first sample of a Connection only records the baseline counters and
// returns a Result with State "unknown". A replaced Connection restarts its
// counters, so a change of st.Since starts a new baseline.
func (e *Engine) Process(st session.Status, now time.Time) *Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.recordSample(st.Stats.State == redmetrics.Connected)

	out := &Result{
		Timestamp:       now,
		UptimePct:       e.uptimePct(),
		FlushSuccessPct: 100,
	}
	if st.LastFlush != nil {
		out.FlushLatencyMs = float64(st.LastFlush.Duration.Microseconds()) / 1000
	}

	cur := st.Stats
	if e.prev == nil || !st.Since.Equal(e.since) {
		out.State = StateUnknown
		e.updateBaseline(cur, st.Since, now)
		e.latest = out
		return out
	}

	elapsed := now.Sub(e.prevTime).Minutes()
	if elapsed <= 0 {
		elapsed = 1 // guard against zero or negative clock drift
	}

	events := deltaOf(cur.EventsSent, e.prev.EventsSent)
	snapshots := deltaOf(cur.SnapshotsSent, e.prev.SnapshotsSent)
	discarded := deltaOf(cur.Discarded, e.prev.Discarded)
	flushes := deltaOf(cur.Flushes, e.prev.Flushes)
	failures := deltaOf(cur.FlushFailures, e.prev.FlushFailures)

	out.EventsPM = events / elapsed
	out.SnapshotsPM = snapshots / elapsed
	if total := events + snapshots + discarded; total > 0 {
		out.DiscardPct = discarded / total * 100
	}
	if flushes > 0 {
		out.FlushSuccessPct = (flushes - failures) / flushes * 100
	}

	score := Compute(Input{
		DiscardPct:        out.DiscardPct,
		FlushLatencyMs:    out.FlushLatencyMs,
		BaselineLatencyMs: float64(e.baselineLatency.Milliseconds()),
		FlushSuccessPct:   out.FlushSuccessPct,
		UptimePct:         out.UptimePct,
	})
	out.State = score.State
	out.StrengthScore = score.Score

	e.updateBaseline(cur, st.Since, now)
	e.latest = out
	return out
}

func (e *Engine) updateBaseline(s redmetrics.Stats, since, now time.Time) {
	e.prev = &s
	e.since = since
	e.prevTime = now
}

func (e *Engine) recordSample(connected bool) {
	if len(e.history) >= uptimeWindow {
		e.history = e.history[1:]
	}
	e.history = append(e.history, connected)
}

func (e *Engine) uptimePct() float64 {
	if len(e.history) == 0 {
		return 0
	}
	var ok int
	for _, c := range e.history {
		if c {
			ok++
		}
	}
	return float64(ok) / float64(len(e.history)) * 100
}

// deltaOf returns the counter delta between current and previous, or 0 when
// the counter went backwards.
func deltaOf(current, previous uint64) float64 {
	if current < previous {
		return 0
	}
	return float64(current - previous)
}
