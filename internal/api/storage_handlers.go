package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mlpa-gradi/notifier/internal/grading"
	"github.com/mlpa-gradi/notifier/internal/session"
)

// connectStream upgrades the request to a server-sent-event stream for one
// exam. The session is created on first contact so progress events arriving
// later have somewhere to land.
func (s *Server) connectStream(w http.ResponseWriter, r *http.Request) {
	examCode := r.URL.Query().Get("examCode")
	if grading.NormalizeExamCode(examCode) == "" {
		writeError(w, http.StatusBadRequest, "examCode is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	total := 0
	if raw := r.URL.Query().Get("total"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "total must be a non-negative integer")
			return
		}
		total = parsed
	}

	sub, err := s.broadcaster.Connect(examCode, r.URL.Query().Get("examName"), total)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to open stream")
		return
	}
	defer s.broadcaster.Disconnect(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(s.cfg.Heartbeat())
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case p := <-sub.Events():
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", p.Event, p.Data); err != nil {
				s.logger.Debug("stream write failed", zap.Error(err))
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) listActiveProcesses(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.broadcaster.ActiveSessions()})
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	examCode := chi.URLParam(r, "examCode")
	snap, err := s.broadcaster.Session(examCode)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no session for exam code")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// deleteProgress tears down the exam's session. Removal is idempotent and
// always answers 200; deleting a session that is already gone is success,
// not an error.
func (s *Server) deleteProgress(w http.ResponseWriter, r *http.Request) {
	examCode := chi.URLParam(r, "examCode")
	s.broadcaster.Remove(examCode)
	writeJSON(w, http.StatusOK, map[string]string{
		"examCode": grading.NormalizeExamCode(examCode),
		"status":   "removed",
	})
}

type uploadFileRequest struct {
	Index       int    `json:"index"`
	ContentType string `json:"contentType"`
}

type uploadURLsRequest struct {
	ExamCode  string              `json:"examCode"`
	StudentID string              `json:"studentId"`
	Files     []uploadFileRequest `json:"files"`
}

type uploadURLResponse struct {
	Index int    `json:"index"`
	Key   string `json:"key"`
	URL   string `json:"url"`
}

// createUploadURLs mints one write URL per scanned page so graders upload
// directly to object storage instead of proxying bytes through this service.
func (s *Server) createUploadURLs(w http.ResponseWriter, r *http.Request) {
	var req uploadURLsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	examCode := grading.NormalizeExamCode(req.ExamCode)
	if examCode == "" || req.StudentID == "" {
		writeError(w, http.StatusBadRequest, "examCode and studentId are required")
		return
	}
	if len(req.Files) == 0 {
		writeError(w, http.StatusBadRequest, "at least one file required")
		return
	}

	urls := make([]uploadURLResponse, 0, len(req.Files))
	for _, f := range req.Files {
		ext, err := imageExtension(f.ContentType)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		key := fmt.Sprintf("%s/%s/%s/%d.%s", s.cfg.Storage.Prefix, examCode, req.StudentID, f.Index, ext)
		url, err := s.signer.SignPut(r.Context(), key, f.ContentType)
		if err != nil {
			s.logger.Error("sign upload url failed", zap.String("key", key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to sign upload url")
			return
		}
		urls = append(urls, uploadURLResponse{Index: f.Index, Key: key, URL: url})
	}
	writeJSON(w, http.StatusOK, map[string]any{"examCode": examCode, "urls": urls})
}

// imageExtension maps an allowed upload content type to its object key
// extension. Anything but page scans is rejected.
func imageExtension(contentType string) (string, error) {
	switch contentType {
	case "image/png":
		return "png", nil
	case "image/jpg", "image/jpeg":
		return "jpg", nil
	default:
		return "", fmt.Errorf("unsupported content type %q", contentType)
	}
}

func attendanceKey(examCode string) string {
	return fmt.Sprintf("attendance/%s", examCode)
}

func (s *Server) attendanceDownloadURL(w http.ResponseWriter, r *http.Request) {
	examCode := grading.NormalizeExamCode(chi.URLParam(r, "examCode"))
	url, err := s.signer.SignGet(r.Context(), attendanceKey(examCode))
	if err != nil {
		s.logger.Error("sign attendance download url failed",
			zap.String("exam_code", examCode),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to sign download url")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"examCode": examCode, "url": url})
}

type attendanceUploadRequest struct {
	ContentType string `json:"contentType"`
}

func (s *Server) attendanceUploadURL(w http.ResponseWriter, r *http.Request) {
	examCode := grading.NormalizeExamCode(chi.URLParam(r, "examCode"))
	var req attendanceUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ContentType == "" {
		writeError(w, http.StatusBadRequest, "contentType is required")
		return
	}
	url, err := s.signer.SignPut(r.Context(), attendanceKey(examCode), req.ContentType)
	if err != nil {
		s.logger.Error("sign attendance upload url failed",
			zap.String("exam_code", examCode),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to sign upload url")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"examCode": examCode, "url": url})
}
