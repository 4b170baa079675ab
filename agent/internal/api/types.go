package api

// StatusResponse is the payload for GET /api/v1/status and the data of every
// stream message.
type StatusResponse struct {
	State          string           `json:"state"`
	PlayerID       string           `json:"player_id,omitempty"`
	BaseURL        string           `json:"base_url"`
	GameVersionID  string           `json:"game_version_id"`
	BufferingDelay string           `json:"buffering_delay"`
	Queue          KindCounts       `json:"queue"`
	Sent           KindCounts       `json:"sent"`
	Flushes        uint64           `json:"flushes"`
	FlushFailures  uint64           `json:"flush_failures"`
	Discarded      uint64           `json:"discarded"`
	LastFlush      *FlushResponse   `json:"last_flush,omitempty"`
	Cert           *CertResponse    `json:"cert,omitempty"`
	Health         *DeliveryHealth  `json:"health,omitempty"`
	Diagnostics    []DiagnosticHint `json:"diagnostics"`
	Since          string           `json:"since"`        // RFC3339
	GeneratedAt    string           `json:"generated_at"` // RFC3339
}

// KindCounts splits a count between events and snapshots.
type KindCounts struct {
	Events    uint64 `json:"events"`
	Snapshots uint64 `json:"snapshots"`
}

// FlushResponse describes one flush.
type FlushResponse struct {
	At         string  `json:"at"` // RFC3339Nano
	DurationMs float64 `json:"duration_ms"`
	Events     int     `json:"events"`
	Snapshots  int     `json:"snapshots"`
	Error      string  `json:"error,omitempty"`
}

// CertResponse describes the collector's TLS certificate.
type CertResponse struct {
	Status    string `json:"status"` // valid | expiring | expired | unreachable
	DaysLeft  int    `json:"days_left"`
	Issuer    string `json:"issuer,omitempty"`
	NotAfter  string `json:"not_after,omitempty"` // RFC3339
	CheckedAt string `json:"checked_at"`          // RFC3339
}

// DeliveryHealth is the derived delivery health of the session.
type DeliveryHealth struct {
	State           string  `json:"state"` // healthy | degraded | critical | unknown
	StrengthScore   float64 `json:"strength_score"`
	EventsPerMin    float64 `json:"events_per_min"`
	SnapshotsPerMin float64 `json:"snapshots_per_min"`
	DiscardPct      float64 `json:"discard_pct"`
	FlushSuccessPct float64 `json:"flush_success_pct"`
	FlushLatencyMs  float64 `json:"flush_latency_ms"`
	UptimePct       float64 `json:"uptime_pct"`
	SampledAt       string  `json:"sampled_at"` // RFC3339
}

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State     string `json:"state"`
	Connected bool   `json:"connected"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
