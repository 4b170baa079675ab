package alerts

import (
	"strconv"
	"strings"

	"github.com/redmetrics/redmetrics-go/agent/internal/compute"
	"github.com/redmetrics/redmetrics-go/agent/internal/security"
	"github.com/redmetrics/redmetrics-go/agent/internal/session"
)

// evalCondition evaluates a rule condition string against a session status.
//
// Supported expressions (field operator value):
//
//	state == disconnected
//	queue_depth >= 500
//	flush_failures > 0
//	discarded > 0
//	last_flush_failed == 1
//	last_flush_ms > 2000
//	cert_days_left < 14
//	strength_score < 60
//	health == critical
//	events_per_min < 1
//
// The last three read h, the derived delivery health, and never fire while it
// is nil or unknown.
//
// Returns (fires bool, triggering value float64).
// Returns (false, 0) if the expression cannot be parsed or the field is unknown.
func evalCondition(cond string, st session.Status, h *compute.Result) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	switch field {
	case "health":
		if h == nil || h.State == compute.StateUnknown {
			return false, 0
		}
		switch op {
		case "==":
			return h.State == rhs, h.StrengthScore
		case "!=":
			return h.State != rhs, h.StrengthScore
		}
		return false, 0

	case "strength_score", "events_per_min":
		if h == nil || h.State == compute.StateUnknown {
			return false, 0
		}
		v := h.StrengthScore
		if field == "events_per_min" {
			v = h.EventsPM
		}
		threshold, err := strconv.ParseFloat(rhs, 64)
		if err != nil {
			return false, 0
		}
		return compareFloat(v, op, threshold), v

	case "state":
		switch op {
		case "==":
			return st.Stats.State.String() == rhs, 0
		case "!=":
			return st.Stats.State.String() != rhs, 0
		}
		return false, 0

	case "cert_days_left":
		c := st.Cert
		if c == nil || c.Status == security.StatusUnreachable {
			return false, 0
		}
		threshold, err := strconv.ParseFloat(rhs, 64)
		if err != nil {
			return false, 0
		}
		v := float64(c.DaysLeft)
		return compareFloat(v, op, threshold), v

	default:
		v, ok := numericField(field, st)
		if !ok {
			return false, 0
		}
		threshold, err := strconv.ParseFloat(rhs, 64)
		if err != nil {
			return false, 0
		}
		return compareFloat(v, op, threshold), v
	}
}

// numericField maps a field name to its value in the status.
func numericField(field string, st session.Status) (float64, bool) {
	s := st.Stats
	switch field {
	case "queue_depth":
		return float64(s.QueuedEvents + s.QueuedSnapshots), true
	case "flush_failures":
		return float64(s.FlushFailures), true
	case "discarded":
		return float64(s.Discarded), true
	case "last_flush_failed":
		if st.LastFlush != nil && st.LastFlush.Err != nil {
			return 1, true
		}
		return 0, true
	case "last_flush_ms":
		if st.LastFlush == nil {
			return 0, false
		}
		return float64(st.LastFlush.Duration.Microseconds()) / 1000, true
	default:
		return 0, false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
