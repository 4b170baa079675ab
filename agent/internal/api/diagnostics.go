package api

import (
	"fmt"

	"github.com/redmetrics/redmetrics-go/agent/internal/security"
	"github.com/redmetrics/redmetrics-go/agent/internal/session"
	"github.com/redmetrics/redmetrics-go/pkg/redmetrics"
)

// queueBacklogWarn is the queued record count above which the status
// reports a backlog.
const queueBacklogWarn = 1000

// DiagnosticHint is one human-readable insight about the session.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level  string `json:"level"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
	// Value is an optional number associated with this hint.
	Value *float64 `json:"value,omitempty"`
}

// computeDiagnostics derives hints from a status.
func computeDiagnostics(st session.Status) []DiagnosticHint {
	s := st.Stats
	hints := make([]DiagnosticHint, 0, 4)

	switch s.State {
	case redmetrics.Disconnected:
		hints = append(hints, DiagnosticHint{
			Key:   "disconnected",
			Level: "critical",
			Title: "Not connected",
			Detail: fmt.Sprintf("The agent has no session with %s. Posted records are queued "+
				"and will be sent once the handshake succeeds.", st.BaseURL),
		})
	case redmetrics.Connecting:
		hints = append(hints, DiagnosticHint{
			Key:    "connecting",
			Level:  "info",
			Title:  "Handshake in progress",
			Detail: "Checking the collector, the game version and creating the player.",
		})
	}

	if st.LastFlush != nil && st.LastFlush.Err != nil {
		hints = append(hints, DiagnosticHint{
			Key:    "flush_failed",
			Level:  "critical",
			Title:  "Last flush failed",
			Detail: fmt.Sprintf("The most recent batch was not accepted: %v. Drained records are not retried.", st.LastFlush.Err),
		})
	}

	if s.Discarded > 0 {
		v := float64(s.Discarded)
		hints = append(hints, DiagnosticHint{
			Key:    "records_discarded",
			Level:  "warning",
			Title:  fmt.Sprintf("%d records discarded", s.Discarded),
			Detail: "Records were still queued when the connection was closed and could not be sent.",
			Value:  &v,
		})
	}

	if queued := s.QueuedEvents + s.QueuedSnapshots; queued > queueBacklogWarn {
		v := float64(queued)
		hints = append(hints, DiagnosticHint{
			Key:   "queue_backlog",
			Level: "warning",
			Title: "Queue backlog",
			Detail: fmt.Sprintf("%d records are waiting for the next flush. Lower buffering_delay "+
				"or check that the collector is keeping up.", queued),
			Value: &v,
		})
	}

	if c := st.Cert; c != nil {
		switch c.Status {
		case security.StatusExpired:
			hints = append(hints, DiagnosticHint{
				Key:    "cert_expired",
				Level:  "critical",
				Title:  "Collector certificate expired",
				Detail: fmt.Sprintf("The certificate for %s expired on %s.", c.Endpoint, c.NotAfter.Format("2006-01-02")),
			})
		case security.StatusExpiring:
			v := float64(c.DaysLeft)
			hints = append(hints, DiagnosticHint{
				Key:    "cert_expiring",
				Level:  "warning",
				Title:  fmt.Sprintf("Collector certificate expires in %d days", c.DaysLeft),
				Detail: fmt.Sprintf("Renew the certificate for %s before %s.", c.Endpoint, c.NotAfter.Format("2006-01-02")),
				Value:  &v,
			})
		case security.StatusUnreachable:
			hints = append(hints, DiagnosticHint{
				Key:    "cert_unreachable",
				Level:  "info",
				Title:  "Certificate check failed",
				Detail: fmt.Sprintf("Could not complete a TLS handshake with %s to read its certificate.", c.Endpoint),
			})
		}
	}

	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "healthy",
			Level:  "ok",
			Title:  "Delivering",
			Detail: "Connected and the last flush succeeded.",
		})
	}
	return hints
}
