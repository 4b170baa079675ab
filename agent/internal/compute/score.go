package compute

// Weights of the strength score factors. They sum to 1.0.
const (
	weightDiscard = 0.30
	weightLatency = 0.20
	weightSuccess = 0.20
	weightUptime  = 0.30
)

// Health states.
const (
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateCritical = "critical"
	StateUnknown  = "unknown"
)

// Thresholds that map a score to a health state.
const (
	ThresholdHealthy  = 85.0
	ThresholdDegraded = 60.0
)

// Input holds the normalised values fed into the strength score formula.
// Percentages are in the range 0-100.
type Input struct {
	// DiscardPct is the share of records thrown away instead of delivered.
	DiscardPct float64

	// FlushLatencyMs is the duration of the most recent flush.
	FlushLatencyMs float64

	// BaselineLatencyMs is the flush duration that earns no latency credit.
	// Zero gives full latency credit.
	BaselineLatencyMs float64

	// FlushSuccessPct is the share of flushes accepted by the collector.
	FlushSuccessPct float64

	// UptimePct is the share of recent samples taken while connected.
	UptimePct float64
}

// Output is the result of the strength score calculation.
type Output struct {
	Score float64
	State string

	// Factor values (each 0-1) that make up Score.
	DiscardFactor float64
	LatencyFactor float64
	SuccessFactor float64
	UptimeFactor  float64
}

// Compute calculates the strength score:
//
//	score = (
//	    (1 - discard_pct/100)   * 0.30  +
//	    (1 - latency_ratio)     * 0.20  +   // latency_ratio = flush/baseline, capped at 1
//	    flush_success_pct/100   * 0.20  +
//	    uptime_pct/100          * 0.30
//	) * 100
//
// A session that was never connected in the window is critical whatever
// the score.
func Compute(in Input) Output {
	discardFactor := 1 - clamp01(in.DiscardPct/100)

	latencyFactor := 1.0
	if in.BaselineLatencyMs > 0 {
		latencyFactor = 1 - clamp01(in.FlushLatencyMs/in.BaselineLatencyMs)
	}

	successFactor := clamp01(in.FlushSuccessPct / 100)
	uptimeFactor := clamp01(in.UptimePct / 100)

	score := (discardFactor*weightDiscard +
		latencyFactor*weightLatency +
		successFactor*weightSuccess +
		uptimeFactor*weightUptime) * 100

	state := stateFromScore(score)
	if in.UptimePct == 0 {
		state = StateCritical
	}

	return Output{
		Score:         score,
		State:         state,
		DiscardFactor: discardFactor,
		LatencyFactor: latencyFactor,
		SuccessFactor: successFactor,
		UptimeFactor:  uptimeFactor,
	}
}

func stateFromScore(score float64) string {
	switch {
	case score >= ThresholdHealthy:
		return StateHealthy
	case score >= ThresholdDegraded:
		return StateDegraded
	default:
		return StateCritical
	}
}

// clamp01 restricts v to the range [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
