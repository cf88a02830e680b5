package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/smartsavvy/internal/stats"
	"github.com/dukerupert/smartsavvy/internal/store"
)

type SmartLinkHandler struct {
	links  *store.LinkStore
	stats  *stats.Service
	logger *slog.Logger
}

func NewSmartLinkHandler(links *store.LinkStore, svc *stats.Service, logger *slog.Logger) *SmartLinkHandler {
	return &SmartLinkHandler{links: links, stats: svc, logger: logger}
}

// Resolve records a visit against the link's stable id and redirects to its
// target.
func (h *SmartLinkHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	link, err := h.links.GetBySlug(r.PathValue("slug"))
	if err != nil {
		h.logger.Error("resolve smartlink", "slug", r.PathValue("slug"), "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if link == nil {
		http.NotFound(w, r)
		return
	}

	if err := h.stats.Record(r.Context(), link.ID, stats.ActionVisit); err != nil {
		h.logger.Warn("record smartlink visit", "link_id", link.ID, "error", err)
	}

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, link.TargetURL, http.StatusFound)
}
