package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/dukerupert/smartsavvy/internal/stats"
	"github.com/dukerupert/smartsavvy/internal/store"
)

type StatsHandler struct {
	stats  *stats.Service
	links  *store.LinkStore
	logger *slog.Logger
}

func NewStatsHandler(svc *stats.Service, links *store.LinkStore, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{stats: svc, links: links, logger: logger}
}

type linkEventRequest struct {
	Action string `json:"action"`
}

// RecordEvent counts a visit or click on a link. Counter store failures are
// swallowed by the stats service, so a valid request always gets 202.
func (h *StatsHandler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req linkEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if !h.linkExists(w, id) {
		return
	}

	err := h.stats.Record(r.Context(), id, stats.Action(strings.ToLower(strings.TrimSpace(req.Action))))
	if errors.Is(err, stats.ErrInvalidAction) {
		writeError(w, http.StatusBadRequest, "action must be visit or click")
		return
	}
	if err != nil {
		h.logger.Error("record link event", "link_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"message": "recorded"})
}

func (h *StatsHandler) LinkStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	days, ok := daysParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "days must be a number")
		return
	}
	if !h.linkExists(w, id) {
		return
	}

	summary, err := h.stats.Aggregate(r.Context(), []string{id}, days)
	if !h.windowOK(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"link_id": id, "stats": summary})
}

// UserStats aggregates every link the user owns. A user with no links gets
// zeros, not 404.
func (h *StatsHandler) UserStats(w http.ResponseWriter, r *http.Request) {
	ownerID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	days, ok := daysParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "days must be a number")
		return
	}

	ids, err := h.links.ListIDsByOwner(ownerID)
	if err != nil {
		h.logger.Error("list user links", "user_id", ownerID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	summary, err := h.stats.Aggregate(r.Context(), ids, days)
	if !h.windowOK(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": ownerID, "links": len(ids), "stats": summary})
}

type followersRequest struct {
	Followers *int64 `json:"followers"`
}

func (h *StatsHandler) RecordFollowers(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req followersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Followers == nil {
		writeError(w, http.StatusBadRequest, "followers is required")
		return
	}

	err := h.stats.RecordFollowers(r.Context(), id, *req.Followers)
	if errors.Is(err, stats.ErrInvalidCount) {
		writeError(w, http.StatusBadRequest, "followers must not be negative")
		return
	}
	if err != nil {
		h.logger.Error("record followers", "playlist_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"message": "recorded"})
}

func (h *StatsHandler) PlaylistStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	days, ok := daysParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "days must be a number")
		return
	}

	summary, err := h.stats.AggregateFollowers(r.Context(), id, days)
	if !h.windowOK(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"playlist_id": id, "stats": summary})
}

func (h *StatsHandler) linkExists(w http.ResponseWriter, id string) bool {
	ok, err := h.links.Exists(id)
	if err != nil {
		h.logger.Error("check link", "link_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "link not found")
		return false
	}
	return true
}

func (h *StatsHandler) windowOK(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, stats.ErrInvalidWindow):
		writeError(w, http.StatusBadRequest, "days must be at least 1")
	default:
		h.logger.Error("aggregate stats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
	return false
}
