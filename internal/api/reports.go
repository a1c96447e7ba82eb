package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/keywatch/internal/identity"
	"github.com/foxzi/keywatch/internal/report"
)

// SubmitReportRequest is the request body for POST /reports.
type SubmitReportRequest struct {
	Program   string `json:"program"`
	Key       string `json:"key"`
	EventType string `json:"event_type"`
}

// ReportSummary is the public view of a report. It never carries the
// raw key or the reporter fingerprint.
type ReportSummary struct {
	ID        string    `json:"id"`
	Program   string    `json:"program"`
	KeyID     string    `json:"key_id"`
	EventType string    `json:"event_type"`
	CreatedAt time.Time `json:"created_at"`
}

// SubmitReportResponse is the response for POST /reports.
type SubmitReportResponse struct {
	Accepted  bool           `json:"accepted"`
	Report    *ReportSummary `json:"report,omitempty"`
	Duplicate *ReportSummary `json:"duplicate,omitempty"`
}

// CheckReportRequest is the request body for POST /reports/check.
type CheckReportRequest struct {
	Program string `json:"program"`
	Key     string `json:"key"`
}

// CheckReportResponse is the response for POST /reports/check.
type CheckReportResponse struct {
	Found  bool           `json:"found"`
	Report *ReportSummary `json:"report,omitempty"`
}

// RenewReportRequest is the request body for POST /reports/{id}/renew.
type RenewReportRequest struct {
	EventType string `json:"event_type"`
}

func summarize(ev *report.Event) *ReportSummary {
	if ev == nil {
		return nil
	}
	return &ReportSummary{
		ID:        ev.ID,
		Program:   ev.ProgramSlug,
		KeyID:     ev.KeyIdentifier,
		EventType: string(ev.Type),
		CreatedAt: ev.CreatedAt,
	}
}

// handleSubmitReport handles POST /api/v1/reports.
func (s *Server) handleSubmitReport(w http.ResponseWriter, r *http.Request) {
	var req SubmitReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ip := clientIP(r)
	loc := s.geo.Lookup(r.Context(), ip)

	result, err := s.ingestor.Submit(r.Context(), report.Submission{
		ProgramSlug:         req.Program,
		RawKey:              req.Key,
		EventType:           req.EventType,
		ReporterFingerprint: identity.Fingerprint(ip, s.reporterSalt),
		Country:             loc.Country,
		City:                loc.City,
	})
	if err != nil {
		switch {
		case errors.Is(err, report.ErrInvalidEventType),
			errors.Is(err, report.ErrEmptyKey),
			errors.Is(err, report.ErrEmptyProgram):
			s.metrics.ReportsRejectedTotal.WithLabelValues("invalid").Inc()
			s.sendError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, report.ErrRateLimited):
			s.metrics.ReportsRejectedTotal.WithLabelValues("rate_limited").Inc()
			s.sendError(w, http.StatusTooManyRequests, "Too many reports, try again later")
		default:
			s.logger.Error("failed to store report", "error", err)
			s.sendError(w, http.StatusInternalServerError, "Failed to store report, please retry")
		}
		return
	}

	if result.Duplicate != nil {
		s.metrics.ReportsDuplicateTotal.Inc()
		s.sendJSON(w, http.StatusOK, SubmitReportResponse{
			Duplicate: summarize(result.Duplicate),
		})
		return
	}

	s.metrics.ReportsSubmittedTotal.WithLabelValues(result.Report.ProgramSlug, string(result.Report.Type)).Inc()
	s.sendJSON(w, http.StatusAccepted, SubmitReportResponse{
		Accepted: true,
		Report:   summarize(result.Report),
	})
}

// handleCheckReport handles POST /api/v1/reports/check.
func (s *Server) handleCheckReport(w http.ResponseWriter, r *http.Request) {
	var req CheckReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	fingerprint := identity.Fingerprint(clientIP(r), s.reporterSalt)
	ev, err := s.ingestor.Check(r.Context(), req.Program, req.Key, fingerprint)
	if err != nil {
		switch {
		case errors.Is(err, report.ErrEmptyKey), errors.Is(err, report.ErrEmptyProgram):
			s.sendError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("failed to check report", "error", err)
			s.sendError(w, http.StatusInternalServerError, "Failed to check report, please retry")
		}
		return
	}

	s.sendJSON(w, http.StatusOK, CheckReportResponse{
		Found:  ev != nil,
		Report: summarize(ev),
	})
}

// handleRenewReport handles POST /api/v1/reports/{id}/renew.
func (s *Server) handleRenewReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		s.sendError(w, http.StatusBadRequest, "id is required")
		return
	}

	var req RenewReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ev, err := s.ingestor.Renew(r.Context(), id, req.EventType)
	if err != nil {
		switch {
		case errors.Is(err, report.ErrInvalidEventType):
			s.metrics.ReportsRejectedTotal.WithLabelValues("invalid").Inc()
			s.sendError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, report.ErrReportNotFound):
			s.sendError(w, http.StatusNotFound, "Report not found")
		default:
			s.logger.Error("failed to renew report", "id", id, "error", err)
			s.sendError(w, http.StatusInternalServerError, "Failed to renew report, please retry")
		}
		return
	}

	s.metrics.ReportsRenewedTotal.WithLabelValues(string(ev.Type)).Inc()
	s.sendJSON(w, http.StatusOK, summarize(ev))
}
