// Package store defines interfaces for persistence dependencies (e.g. the
// exam catalog). Implementations live in other packages; this package must
// not import database drivers or concrete clients.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("exam not found")

// Exam models one row of the exams table: the durable catalog entry behind
// the in-memory grading sessions.
type Exam struct {
	// ID is the primary key of exams.
	ID uuid.UUID `json:"id"`
	// ExamCode is the normalized business key shared with the grading pipeline.
	ExamCode string `json:"examCode"`
	// ExamName is the display name shown to proctors.
	ExamName string `json:"examName"`
	// Total is the expected number of header images, 0 when unknown.
	Total int `json:"total"`
	// CreatedAt captures when the exam was registered.
	CreatedAt time.Time `json:"createdAt"`
}

// ExamRepository persists the exam catalog.
type ExamRepository interface {
	// CreateExam inserts a new exam row.
	CreateExam(ctx context.Context, exam Exam) error
	// GetExamByCode loads a single exam or returns ErrNotFound.
	GetExamByCode(ctx context.Context, examCode string) (Exam, error)
	// ListExams returns exams ordered by creation time, newest first.
	ListExams(ctx context.Context, limit, offset int) ([]Exam, error)
	// DeleteExam removes an exam by code or returns ErrNotFound.
	DeleteExam(ctx context.Context, examCode string) error
}
