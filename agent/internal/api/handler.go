package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/redmetrics/redmetrics-go/agent/internal/alerts"
	"github.com/redmetrics/redmetrics-go/agent/internal/compute"
	"github.com/redmetrics/redmetrics-go/agent/internal/session"
	"github.com/redmetrics/redmetrics-go/pkg/redmetrics"
)

// StatusSource reports the agent session state.
type StatusSource interface {
	Status() session.Status
}

// AlertSource lists firing and recently resolved alerts.
type AlertSource interface {
	Active() []*alerts.Alert
}

// HealthSource returns the latest derived delivery health, or nil.
type HealthSource interface {
	Latest() *compute.Result
}

// Option configures a Handler.
type Option func(*Handler)

// WithAlerts serves al on /api/v1/alerts. Without it the list is empty.
func WithAlerts(al AlertSource) Option {
	return func(h *Handler) { h.alerts = al }
}

// WithHealth adds the derived delivery health to the status payload.
func WithHealth(hs HealthSource) Option {
	return func(h *Handler) { h.health = hs }
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	src    StatusSource
	alerts AlertSource
	health HealthSource
	mux    *http.ServeMux
}

// New creates a Handler reading from src and registers all routes.
func New(src StatusSource, opts ...Option) http.Handler {
	h := &Handler{src: src, mux: http.NewServeMux()}
	for _, o := range opts {
		o(h)
	}

	h.mux.HandleFunc("/api/v1/status", h.status)
	h.mux.HandleFunc("/api/v1/health", h.liveness)
	h.mux.HandleFunc("/api/v1/alerts", h.listAlerts)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// status returns GET /api/v1/status.
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := BuildStatus(h.src.Status())
	if h.health != nil {
		if r := h.health.Latest(); r != nil {
			hr := ToHealthResponse(*r)
			resp.Health = &hr
		}
	}
	jsonResp(w, http.StatusOK, resp)
}

// liveness returns GET /api/v1/health, 503 unless connected.
func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	st := h.src.Status().Stats.State
	resp := HealthResponse{State: st.String(), Connected: st == redmetrics.Connected}
	code := http.StatusOK
	if !resp.Connected {
		code = http.StatusServiceUnavailable
	}
	jsonResp(w, code, resp)
}

// listAlerts returns GET /api/v1/alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	out := []*alerts.Alert{}
	if h.alerts != nil {
		out = append(out, h.alerts.Active()...)
	}
	jsonResp(w, http.StatusOK, out)
}

// BuildStatus maps a session.Status to its JSON representation.
func BuildStatus(st session.Status) StatusResponse {
	s := st.Stats
	resp := StatusResponse{
		State:          s.State.String(),
		PlayerID:       s.PlayerID,
		BaseURL:        st.BaseURL,
		GameVersionID:  st.GameVersionID,
		BufferingDelay: st.BufferingDelay.String(),
		Queue:          KindCounts{Events: uint64(s.QueuedEvents), Snapshots: uint64(s.QueuedSnapshots)},
		Sent:           KindCounts{Events: s.EventsSent, Snapshots: s.SnapshotsSent},
		Flushes:        s.Flushes,
		FlushFailures:  s.FlushFailures,
		Discarded:      s.Discarded,
		Diagnostics:    computeDiagnostics(st),
		Since:          st.Since.UTC().Format(time.RFC3339),
		GeneratedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if st.LastFlush != nil {
		f := ToFlushResponse(*st.LastFlush)
		resp.LastFlush = &f
	}
	if c := st.Cert; c != nil {
		resp.Cert = &CertResponse{
			Status:    c.Status,
			DaysLeft:  c.DaysLeft,
			Issuer:    c.Issuer,
			CheckedAt: c.CheckedAt.UTC().Format(time.RFC3339),
		}
		if !c.NotAfter.IsZero() {
			resp.Cert.NotAfter = c.NotAfter.UTC().Format(time.RFC3339)
		}
	}
	return resp
}

// ToHealthResponse maps a derived health result to its JSON representation.
func ToHealthResponse(r compute.Result) DeliveryHealth {
	return DeliveryHealth{
		State:           r.State,
		StrengthScore:   r.StrengthScore,
		EventsPerMin:    r.EventsPM,
		SnapshotsPerMin: r.SnapshotsPM,
		DiscardPct:      r.DiscardPct,
		FlushSuccessPct: r.FlushSuccessPct,
		FlushLatencyMs:  r.FlushLatencyMs,
		UptimePct:       r.UptimePct,
		SampledAt:       r.Timestamp.UTC().Format(time.RFC3339),
	}
}

// ToFlushResponse maps a flush report to its JSON representation.
func ToFlushResponse(r redmetrics.FlushReport) FlushResponse {
	out := FlushResponse{
		At:         r.At.UTC().Format(time.RFC3339Nano),
		DurationMs: float64(r.Duration) / float64(time.Millisecond),
		Events:     r.Events,
		Snapshots:  r.Snapshots,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
