package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/redmetrics/redmetrics-go/collector/internal/auth"
	"github.com/redmetrics/redmetrics-go/collector/internal/store"
	"github.com/redmetrics/redmetrics-go/pkg/types"
)

// maxBodySize bounds every request body.
const maxBodySize = 8 << 20

// AuthConfig selects the API key check applied to /v1/ routes.
type AuthConfig struct {
	Mode   string
	Header string
	Key    string
}

// Handler serves the collector endpoints from a store.
type Handler struct {
	store *store.Store
	mux   *http.ServeMux
}

// New creates a Handler wired to st and registers all routes.
func New(st *store.Store, ac AuthConfig) http.Handler {
	h := &Handler{store: st, mux: http.NewServeMux()}

	v1 := http.NewServeMux()
	v1.HandleFunc("GET "+types.PathGameVersion+"{id}", h.gameVersion)
	v1.HandleFunc("POST "+types.PathPlayer+"{$}", h.createPlayer)
	v1.HandleFunc("GET "+types.PathPlayer+"{id}", h.getPlayer)
	v1.HandleFunc("PUT "+types.PathPlayer+"{id}", h.updatePlayer)
	v1.HandleFunc("POST "+types.PathEvent+"{$}", h.appendBatch(store.KindEvent))
	v1.HandleFunc("POST "+types.PathSnapshot+"{$}", h.appendBatch(store.KindSnapshot))

	h.mux.HandleFunc("GET "+types.PathStatus, h.status)
	h.mux.Handle("/v1/", auth.APIKey(ac.Mode, ac.Header, ac.Key)(v1))

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// status returns GET /status.
func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, StatusResponse{
		Status:    "ok",
		Players:   h.store.PlayerCount(),
		Events:    h.store.Count(store.KindEvent),
		Snapshots: h.store.Count(store.KindSnapshot),
		Time:      time.Now().UTC().Format(time.RFC3339),
	})
}

// gameVersion returns GET /v1/gameVersion/{id}.
func (h *Handler) gameVersion(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.store.HasGameVersion(id) {
		jsonErr(w, http.StatusNotFound, fmt.Sprintf("game version %q not found", id))
		return
	}
	jsonResp(w, http.StatusOK, GameVersionResponse{ID: id})
}

// createPlayer handles POST /v1/player/.
func (h *Handler) createPlayer(w http.ResponseWriter, r *http.Request) {
	var info map[string]any
	if err := decodeBody(r, &info); err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	p := h.store.CreatePlayer(info)
	slog.Debug("collector: player created", "id", p["id"])
	jsonResp(w, http.StatusOK, p)
}

// getPlayer handles GET /v1/player/{id}.
func (h *Handler) getPlayer(w http.ResponseWriter, r *http.Request) {
	p, ok := h.store.Player(r.PathValue("id"))
	if !ok {
		jsonErr(w, http.StatusNotFound, "player not found")
		return
	}
	jsonResp(w, http.StatusOK, p)
}

// updatePlayer handles PUT /v1/player/{id}.
func (h *Handler) updatePlayer(w http.ResponseWriter, r *http.Request) {
	var info map[string]any
	if err := decodeBody(r, &info); err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.store.UpdatePlayer(r.PathValue("id"), info)
	if errors.Is(err, store.ErrNotFound) {
		jsonErr(w, http.StatusNotFound, "player not found")
		return
	}
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, p)
}

// appendBatch handles POST /v1/event/ and POST /v1/snapshot/.
func (h *Handler) appendBatch(kind store.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var recs []map[string]any
		if err := decodeBody(r, &recs); err != nil {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		for i, rec := range recs {
			if rec == nil {
				jsonErr(w, http.StatusBadRequest, fmt.Sprintf("%s %d: not an object", kind, i))
				return
			}
		}
		stored, err := h.store.Append(kind, recs)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Debug("collector: batch stored", "kind", kind, "count", len(stored))
		jsonResp(w, http.StatusOK, stored)
	}
}

// --- helpers ----------------------------------------------------------------

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
