package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dhintech/translate-gateway/internal/cache"
	"github.com/dhintech/translate-gateway/internal/observability"
	"github.com/dhintech/translate-gateway/internal/room"
)

// API is the thin management surface over the registry and cache. It serves
// room CRUD for operators and dashboards; clients only ever use the socket.
type API struct {
	registry *room.Registry
	cache    *cache.Cache
	logger   zerolog.Logger
}

// NewAPI builds the management handler set.
func NewAPI(registry *room.Registry, c *cache.Cache) *API {
	return &API{
		registry: registry,
		cache:    c,
		logger:   observability.WithComponent("api"),
	}
}

// Register mounts all management routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/rooms", a.createRoom)
	mux.HandleFunc("GET /api/rooms", a.listRooms)
	mux.HandleFunc("DELETE /api/rooms/{code}", a.deleteRoom)
	mux.HandleFunc("GET /api/cache-stats", a.cacheStats)
}

type createRoomRequest struct {
	SourceLang  string   `json:"source_lang"`
	TargetLangs []string `json:"target_langs"`
	Capacity    int      `json:"capacity"`
}

type createRoomResponse struct {
	RoomCode    string   `json:"room_code"`
	SourceLang  string   `json:"source_lang"`
	TargetLangs []string `json:"target_langs"`
	Capacity    int      `json:"capacity"`
}

func (a *API) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	// An empty body creates a room with defaults.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created := a.registry.CreateRoom(room.Options{
		SourceLang:  req.SourceLang,
		TargetLangs: req.TargetLangs,
		Capacity:    req.Capacity,
	})
	writeJSON(w, http.StatusCreated, createRoomResponse{
		RoomCode:    created.Code,
		SourceLang:  created.SourceLang,
		TargetLangs: created.TargetLangs,
		Capacity:    created.Capacity,
	})
}

func (a *API) listRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rooms": a.registry.ListRooms(),
	})
}

func (a *API) deleteRoom(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if _, ok := a.registry.Get(code); !ok {
		writeJSONError(w, http.StatusNotFound, "no such room")
		return
	}
	a.registry.DeleteRoom(code, "api")
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) cacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.cache.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
