package api

import (
	"net/http"
	"time"

	"github.com/foxzi/keywatch/internal/aggregate"
	"github.com/foxzi/keywatch/internal/attention"
	"github.com/foxzi/keywatch/internal/report"
)

// AttentionResponse is the response for GET /attention.
type AttentionResponse struct {
	Window string           `json:"window"`
	Items  []attention.Item `json:"items"`
}

// handleAttention handles GET /api/v1/attention. The feed spans all
// programs; counters are recomputed from the report log on each call.
func (s *Server) handleAttention(w http.ResponseWriter, r *http.Request) {
	window := s.attention.Window
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			s.sendError(w, http.StatusBadRequest, "Invalid window")
			return
		}
		window = parsed
	}

	programs, err := s.store.Programs(r.Context())
	if err != nil {
		s.logger.Error("failed to list programs", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to build attention feed")
		return
	}

	since := time.Now().Add(-window)
	var items []attention.Item
	for _, p := range programs {
		events, err := s.store.ReportsByProgram(r.Context(), p.Slug, since)
		if err != nil {
			s.logger.Error("failed to list reports", "program", p.Slug, "error", err)
			s.sendError(w, http.StatusInternalServerError, "Failed to build attention feed")
			return
		}
		if len(events) == 0 {
			continue
		}

		counters := aggregate.Fold(events, p.Slug)
		items = append(items, attention.Rank(p.Slug, counters, shortIDsFromEvents(events), s.attention.MaxItems)...)
	}

	attention.SortItems(items)
	if len(items) > s.attention.MaxItems {
		items = items[:s.attention.MaxItems]
	}
	if items == nil {
		// An empty feed is a legitimate state, not an error.
		items = []attention.Item{}
	}

	s.sendJSON(w, http.StatusOK, AttentionResponse{
		Window: window.String(),
		Items:  items,
	})
}

// shortIDsFromEvents maps key hashes to the display identifiers the
// events already carry.
func shortIDsFromEvents(events []report.Event) map[string]string {
	out := make(map[string]string, len(events))
	for _, ev := range events {
		if ev.KeyIdentifier != "" {
			out[ev.KeyHash] = ev.KeyIdentifier
		}
	}
	return out
}
