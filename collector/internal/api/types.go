package api

// StatusResponse is the payload for GET /status.
type StatusResponse struct {
	Status  string `json:"status"`
	Players int    `json:"players"`
	Events  int    `json:"events"`
	// Snapshots stored and not yet evicted.
	Snapshots int    `json:"snapshots"`
	Time      string `json:"time"` // RFC3339
}

// GameVersionResponse is the payload for GET /v1/gameVersion/{id}.
type GameVersionResponse struct {
	ID string `json:"id"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
