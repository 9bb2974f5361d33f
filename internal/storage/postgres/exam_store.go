// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mlpa-gradi/notifier/internal/grading"
	"github.com/mlpa-gradi/notifier/internal/store"
)

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// ExamStore implements store.ExamRepository using Postgres.
type ExamStore struct {
	pool pool
}

// NewExamStore connects a pool for the given DSN and wraps it in an ExamStore.
func NewExamStore(ctx context.Context, dsn string) (*ExamStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &ExamStore{pool: p}, nil
}

// NewExamStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewExamStoreWithPool(p pool) (*ExamStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ExamStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *ExamStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateExam inserts a new exam row.
func (s *ExamStore) CreateExam(ctx context.Context, exam store.Exam) error {
	query := `
		INSERT INTO exams (id, exam_code, exam_name, total, created_at)
		VALUES ($1, $2, $3, $4, $5);
	`
	_, err := s.pool.Exec(ctx, query,
		exam.ID,
		grading.NormalizeExamCode(exam.ExamCode),
		exam.ExamName,
		exam.Total,
		exam.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert exam: %w", err)
	}
	return nil
}

// GetExamByCode loads a single exam or returns store.ErrNotFound.
func (s *ExamStore) GetExamByCode(ctx context.Context, examCode string) (store.Exam, error) {
	query := `
		SELECT id, exam_code, exam_name, total, created_at
		FROM exams
		WHERE exam_code = $1;
	`
	var exam store.Exam
	err := s.pool.QueryRow(ctx, query, grading.NormalizeExamCode(examCode)).Scan(
		&exam.ID,
		&exam.ExamCode,
		&exam.ExamName,
		&exam.Total,
		&exam.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Exam{}, store.ErrNotFound
	}
	if err != nil {
		return store.Exam{}, fmt.Errorf("failed to load exam: %w", err)
	}
	return exam, nil
}

// ListExams returns exams ordered by creation time, newest first.
func (s *ExamStore) ListExams(ctx context.Context, limit, offset int) ([]store.Exam, error) {
	query := `
		SELECT id, exam_code, exam_name, total, created_at
		FROM exams
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2;
	`
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list exams: %w", err)
	}
	defer rows.Close()

	exams := make([]store.Exam, 0)
	for rows.Next() {
		var exam store.Exam
		if err := rows.Scan(&exam.ID, &exam.ExamCode, &exam.ExamName, &exam.Total, &exam.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan exam row: %w", err)
		}
		exams = append(exams, exam)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate exam rows: %w", err)
	}
	return exams, nil
}

// DeleteExam removes an exam by code or returns store.ErrNotFound.
func (s *ExamStore) DeleteExam(ctx context.Context, examCode string) error {
	query := `DELETE FROM exams WHERE exam_code = $1;`
	tag, err := s.pool.Exec(ctx, query, grading.NormalizeExamCode(examCode))
	if err != nil {
		return fmt.Errorf("failed to delete exam: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
