// Package api exposes HTTP handlers for the territory service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	geojson "github.com/paulmach/go.geojson"
	"github.com/rs/zerolog"

	"example.com/territory/internal/auth"
	"example.com/territory/internal/domain"
	"example.com/territory/internal/geometry"
	"example.com/territory/internal/persistence"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service  *domain.Service
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, logger zerolog.Logger) *Handler {
	return &Handler{service: service, validate: validator.New(), logger: logger}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/rooms/locate", h.locateRoom)
	mux.HandleFunc("/v1/walks", h.listWalks)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) locateRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := auth.FromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	var req LocateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	room, err := h.service.LocateRoom(r.Context(), *req.Latitude, *req.Longitude)
	if err != nil {
		if errors.Is(err, domain.ErrDistrictNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("locate room failed")
		writeError(w, http.StatusInternalServerError, "server_error", "unable to locate room")
		return
	}

	writeJSON(w, http.StatusOK, LocateRoomResponse{
		RoomID:            room.ID,
		DistrictID:        room.DistrictID,
		ParticipantsCount: room.ParticipantsCount,
		Rules:             room.Rules,
		Season:            room.Season,
	})
}

func (h *Handler) listWalks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	limit := defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	walks, next, err := h.service.ListWalksByUser(r.Context(), claims.UserID(), cursor, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", claims.UserID()).Msg("list walks failed")
		writeError(w, http.StatusInternalServerError, "server_error", "unable to list walks")
		return
	}

	items := make([]WalkView, 0, len(walks))
	for _, walk := range walks {
		items = append(items, toWalkView(walk))
	}
	writeJSON(w, http.StatusOK, ListWalksResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

// LocateRoomRequest is the payload for POST /v1/rooms/locate.
type LocateRoomRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
}

// LocateRoomResponse identifies the active room for a district.
type LocateRoomResponse struct {
	RoomID            string        `json:"roomId"`
	DistrictID        string        `json:"districtId"`
	ParticipantsCount int           `json:"participantsCount"`
	Rules             domain.Rules  `json:"rules"`
	Season            domain.Season `json:"season"`
}

// WalkView exposes a stored walk.
type WalkView struct {
	ID           string            `json:"id"`
	RoomID       string            `json:"roomId"`
	ActivityType string            `json:"activityType"`
	Status       string            `json:"status"`
	StartedAt    time.Time         `json:"startedAt"`
	EndedAt      time.Time         `json:"endedAt"`
	DurationSec  int64             `json:"durationSec"`
	DistanceM    float64           `json:"distanceM"`
	AreaM2       float64           `json:"areaM2"`
	AvgSpeedMps  float64           `json:"avgSpeedMps"`
	MaxSpeedMps  float64           `json:"maxSpeedMps"`
	PointsCount  int               `json:"pointsCount"`
	Track        *geojson.Geometry `json:"track,omitempty"`
	Polygon      *geojson.Geometry `json:"polygon,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// ListWalksResponse packages list results.
type ListWalksResponse struct {
	Items      []WalkView `json:"items"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toWalkView(walk domain.WalkSession) WalkView {
	view := WalkView{
		ID:           walk.ID,
		RoomID:       walk.RoomID,
		ActivityType: string(walk.ActivityType),
		Status:       string(walk.Status),
		StartedAt:    walk.StartedAt,
		EndedAt:      walk.EndedAt,
		DurationSec:  walk.DurationSec,
		DistanceM:    walk.DistanceM,
		AreaM2:       walk.AreaM2,
		AvgSpeedMps:  walk.AvgSpeedMps,
		MaxSpeedMps:  walk.MaxSpeedMps,
		PointsCount:  walk.PointsCount,
		CreatedAt:    walk.CreatedAt,
	}
	if len(walk.Track) > 0 {
		view.Track = geometry.LineString(walk.Track)
	}
	if len(walk.Polygon) > 0 {
		view.Polygon = geometry.Polygon(walk.Polygon)
	}
	return view
}
