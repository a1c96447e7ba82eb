package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/keywatch/internal/aggregate"
	"github.com/foxzi/keywatch/internal/lifecycle"
	"github.com/foxzi/keywatch/internal/store"
)

// ProgramKeysResponse is the response for GET /programs/{slug}/keys.
// This is an admin surface: records carry the raw key.
type ProgramKeysResponse struct {
	Program string                `json:"program"`
	Keys    []lifecycle.KeyRecord `json:"keys"`
}

// OverrideStatusRequest is the request body for PATCH .../keys/{hash}.
type OverrideStatusRequest struct {
	Status string `json:"status"`
}

// RecommendationItem is one advisory status change.
type RecommendationItem struct {
	KeyID             string `json:"key_id"`
	KeyHash           string `json:"key_hash"`
	CurrentStatus     string `json:"current_status,omitempty"`
	RecommendedStatus string `json:"recommended_status"`
	Working           int    `json:"working"`
	Expired           int    `json:"expired"`
	LimitReached      int    `json:"limit_reached"`
	RatioLabel        string `json:"ratio_label"`
}

// RecommendationsResponse is the response for GET .../recommendations.
type RecommendationsResponse struct {
	Program string               `json:"program"`
	Items   []RecommendationItem `json:"items"`
}

// sweptProgram loads one program and applies the lifecycle sweep,
// persisting only when the sweep changed something.
func (s *Server) sweptProgram(r *http.Request, slug string) (*lifecycle.Program, error) {
	p, err := s.store.Program(r.Context(), slug)
	if err != nil || p == nil {
		return p, err
	}
	return p, s.applySweep(r, p)
}

// sweptPrograms loads all programs with the sweep applied.
func (s *Server) sweptPrograms(r *http.Request) ([]*lifecycle.Program, error) {
	programs, err := s.store.Programs(r.Context())
	if err != nil {
		return nil, err
	}
	for _, p := range programs {
		if err := s.applySweep(r, p); err != nil {
			return nil, err
		}
	}
	return programs, nil
}

func (s *Server) applySweep(r *http.Request, p *lifecycle.Program) error {
	swept, transitions := s.sweeper.Sweep(p.Keys, time.Now())
	s.metrics.SweepRunsTotal.Inc()
	if len(transitions) == 0 {
		return nil
	}

	p.Keys = swept
	for _, t := range transitions {
		s.metrics.SweepTransitionsTotal.WithLabelValues(string(t.From), string(t.To)).Inc()
	}
	s.logger.Info("lifecycle sweep applied",
		"program", p.Slug,
		"transitions", len(transitions),
	)
	return s.store.SaveProgram(r.Context(), p)
}

// handleProgramKeys handles GET /api/v1/programs/{slug}/keys.
func (s *Server) handleProgramKeys(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	p, err := s.sweptProgram(r, slug)
	if err != nil {
		s.logger.Error("failed to load program", "program", slug, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to load program")
		return
	}
	if p == nil {
		s.sendError(w, http.StatusNotFound, "Program not found")
		return
	}

	s.sendJSON(w, http.StatusOK, ProgramKeysResponse{
		Program: p.Slug,
		Keys:    p.Keys,
	})
}

// handleOverrideKeyStatus handles PATCH /api/v1/programs/{slug}/keys/{hash}.
// Admin override authority: any status, any direction, no guards.
func (s *Server) handleOverrideKeyStatus(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	hash := chi.URLParam(r, "hash")

	var req OverrideStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	status, err := lifecycle.ParseStatus(req.Status)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := s.store.UpdateKeyStatus(r.Context(), slug, hash, status)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			s.sendError(w, http.StatusNotFound, "Key record not found")
			return
		}
		s.logger.Error("failed to override key status", "program", slug, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to update key status")
		return
	}

	s.logger.Info("key status overridden",
		"program", slug,
		"key_hash", hash,
		"status", status,
	)
	s.sendJSON(w, http.StatusOK, updated)
}

// handleRecommendations handles GET /api/v1/programs/{slug}/recommendations.
// Advisory only: the community signal is surfaced, never applied.
func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	p, err := s.store.Program(r.Context(), slug)
	if err != nil {
		s.logger.Error("failed to load program", "program", slug, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to load program")
		return
	}
	if p == nil {
		s.sendError(w, http.StatusNotFound, "Program not found")
		return
	}

	events, err := s.store.ReportsByProgram(r.Context(), slug, time.Time{})
	if err != nil {
		s.logger.Error("failed to list reports", "program", slug, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to load reports")
		return
	}

	statusByHash := make(map[string]lifecycle.Status, len(p.Keys))
	for _, k := range p.Keys {
		statusByHash[k.KeyHash] = k.Status
	}
	shortIDs := shortIDsFromEvents(events)

	items := []RecommendationItem{}
	for hash, c := range aggregate.Fold(events, slug) {
		rec := lifecycle.Recommend(c)
		if rec == nil {
			continue
		}
		keyID := shortIDs[hash]
		if keyID == "" {
			keyID = hash
		}
		items = append(items, RecommendationItem{
			KeyID:             keyID,
			KeyHash:           hash,
			CurrentStatus:     string(statusByHash[hash]),
			RecommendedStatus: string(rec.Status),
			Working:           c.Working,
			Expired:           c.Expired,
			LimitReached:      c.LimitReached,
			RatioLabel:        c.RatioLabel(),
		})
	}

	sort.Slice(items, func(i, j int) bool {
		ni := items[i].Expired + items[i].LimitReached
		nj := items[j].Expired + items[j].LimitReached
		if ni != nj {
			return ni > nj
		}
		return items[i].KeyHash < items[j].KeyHash
	})

	s.sendJSON(w, http.StatusOK, RecommendationsResponse{
		Program: slug,
		Items:   items,
	})
}
