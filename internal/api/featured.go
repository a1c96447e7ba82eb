package api

import (
	"encoding/json"
	"net/http"

	"github.com/foxzi/keywatch/internal/lifecycle"
	"github.com/foxzi/keywatch/internal/rotation"
)

// FeaturedProgram is the display view of the featured selection.
type FeaturedProgram struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	WorkingKeys int    `json:"working_keys"`
	TotalKeys   int    `json:"total_keys"`
	Views       int    `json:"views"`
	Downloads   int    `json:"downloads"`
}

// FeaturedResponse is the response for GET /featured. Featured is null
// when no eligible candidate exists; that is a valid state.
type FeaturedResponse struct {
	Featured *FeaturedProgram `json:"featured"`
	Schedule string           `json:"rotation_schedule"`
	Criteria string           `json:"auto_select_criteria"`
}

// SetFeaturedRequest is the request body for PUT /featured.
type SetFeaturedRequest struct {
	Program string `json:"program"`
}

// handleFeatured handles GET /api/v1/featured. Reading the featured
// selection evaluates the rotation policy as a side effect.
func (s *Server) handleFeatured(w http.ResponseWriter, r *http.Request) {
	programs, err := s.sweptPrograms(r)
	if err != nil {
		s.logger.Error("failed to load programs", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to evaluate featured selection")
		return
	}

	candidates := make([]rotation.Candidate, 0, len(programs))
	bySlug := make(map[string]*lifecycle.Program, len(programs))
	for _, p := range programs {
		bySlug[p.Slug] = p
		candidates = append(candidates, rotation.Candidate{
			ID:          p.Slug,
			WorkingKeys: p.WorkingKeyCount(),
			Popularity:  float64(p.Views)*s.popularity.view + float64(p.Downloads)*s.popularity.download,
		})
	}

	eval, err := s.rotator.Evaluate(r.Context(), candidates)
	if err != nil {
		s.logger.Error("failed to evaluate rotation", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to evaluate featured selection")
		return
	}
	if eval.Rotated {
		s.metrics.RotationsTotal.WithLabelValues(string(eval.Criteria)).Inc()
	}

	resp := FeaturedResponse{
		Schedule: string(eval.Schedule),
		Criteria: string(eval.Criteria),
	}
	if p, ok := bySlug[eval.SelectedID]; ok {
		resp.Featured = &FeaturedProgram{
			Slug:        p.Slug,
			Name:        p.Name,
			WorkingKeys: p.WorkingKeyCount(),
			TotalKeys:   len(p.Keys),
			Views:       p.Views,
			Downloads:   p.Downloads,
		}
	}

	s.sendJSON(w, http.StatusOK, resp)
}

// handleSetFeatured handles PUT /api/v1/featured: a manual admin
// selection that resets the rotation clock.
func (s *Server) handleSetFeatured(w http.ResponseWriter, r *http.Request) {
	var req SetFeaturedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Program == "" {
		s.sendError(w, http.StatusBadRequest, "program is required")
		return
	}

	p, err := s.store.Program(r.Context(), req.Program)
	if err != nil {
		s.logger.Error("failed to read program", "program", req.Program, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to set featured selection")
		return
	}
	if p == nil {
		s.sendError(w, http.StatusNotFound, "Program not found")
		return
	}

	state, err := s.rotator.SetFeatured(r.Context(), req.Program)
	if err != nil {
		s.logger.Error("failed to set featured selection", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to set featured selection")
		return
	}

	s.logger.Info("featured selection set manually", "program", req.Program)
	s.sendJSON(w, http.StatusOK, FeaturedResponse{
		Featured: &FeaturedProgram{
			Slug:        p.Slug,
			Name:        p.Name,
			WorkingKeys: p.WorkingKeyCount(),
			TotalKeys:   len(p.Keys),
			Views:       p.Views,
			Downloads:   p.Downloads,
		},
		Schedule: string(state.Schedule),
		Criteria: string(state.Criteria),
	})
}
