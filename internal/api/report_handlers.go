package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mlpa-gradi/notifier/internal/grading"
)

func (s *Server) listUnknownImages(w http.ResponseWriter, r *http.Request) {
	examCode := grading.NormalizeExamCode(chi.URLParam(r, "examCode"))
	writeJSON(w, http.StatusOK, map[string]any{
		"examCode": examCode,
		"urls":     s.cache.Get(examCode),
	})
}

type feedbackRequest struct {
	ExamCode    string            `json:"examCode"`
	Assignments map[string]string `json:"assignments"`
}

// submitFeedback accepts the manual identity assignments for an exam's
// unreviewed header images. The assignments themselves travel onward through
// the grading backend; here they mean the cached images are reconciled, so
// the cache entry is dropped.
func (s *Server) submitFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	examCode := grading.NormalizeExamCode(req.ExamCode)
	if examCode == "" {
		writeError(w, http.StatusBadRequest, "examCode is required")
		return
	}
	s.cache.Clear(examCode)
	writeJSON(w, http.StatusOK, map[string]any{
		"examCode": examCode,
		"resolved": len(req.Assignments),
	})
}
