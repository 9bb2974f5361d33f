package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mlpa-gradi/notifier/internal/grading"
	"github.com/mlpa-gradi/notifier/internal/store"
)

const (
	defaultExamLimit = 25
	maxExamLimit     = 200
)

type createExamRequest struct {
	ExamCode string `json:"examCode"`
	ExamName string `json:"examName"`
	Total    int    `json:"total"`
}

// createExam handles POST /api/exams. The catalog is optional wiring: when no
// database is configured the endpoints answer 503 rather than pretending to
// persist.
func (s *Server) createExam(w http.ResponseWriter, r *http.Request) {
	if s.exams == nil {
		writeError(w, http.StatusServiceUnavailable, "exam catalog not configured")
		return
	}
	var req createExamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	examCode := grading.NormalizeExamCode(req.ExamCode)
	if examCode == "" || req.ExamName == "" {
		writeError(w, http.StatusBadRequest, "examCode and examName are required")
		return
	}
	if req.Total < 0 {
		writeError(w, http.StatusBadRequest, "total must be non-negative")
		return
	}
	exam := store.Exam{
		ID:        uuid.New(),
		ExamCode:  examCode,
		ExamName:  req.ExamName,
		Total:     req.Total,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.exams.CreateExam(r.Context(), exam); err != nil {
		s.logger.Error("create exam failed", zap.String("exam_code", examCode), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create exam")
		return
	}
	writeJSON(w, http.StatusCreated, exam)
}

// listExams handles GET /api/exams?limit=&offset=.
func (s *Server) listExams(w http.ResponseWriter, r *http.Request) {
	if s.exams == nil {
		writeError(w, http.StatusServiceUnavailable, "exam catalog not configured")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultExamLimit, maxExamLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	exams, err := s.exams.ListExams(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list exams failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list exams")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exams":  exams,
		"limit":  limit,
		"offset": offset,
	})
}

// getExam handles GET /api/exams/{examCode}.
func (s *Server) getExam(w http.ResponseWriter, r *http.Request) {
	if s.exams == nil {
		writeError(w, http.StatusServiceUnavailable, "exam catalog not configured")
		return
	}
	exam, err := s.exams.GetExamByCode(r.Context(), chi.URLParam(r, "examCode"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "exam not found")
		return
	}
	if err != nil {
		s.logger.Error("get exam failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load exam")
		return
	}
	writeJSON(w, http.StatusOK, exam)
}

// deleteExam handles DELETE /api/exams/{examCode}. Any live session for the
// exam is torn down with it.
func (s *Server) deleteExam(w http.ResponseWriter, r *http.Request) {
	if s.exams == nil {
		writeError(w, http.StatusServiceUnavailable, "exam catalog not configured")
		return
	}
	examCode := grading.NormalizeExamCode(chi.URLParam(r, "examCode"))
	err := s.exams.DeleteExam(r.Context(), examCode)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "exam not found")
		return
	}
	if err != nil {
		s.logger.Error("delete exam failed", zap.String("exam_code", examCode), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete exam")
		return
	}
	s.broadcaster.Remove(examCode)
	writeJSON(w, http.StatusOK, map[string]string{"examCode": examCode, "status": "deleted"})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
