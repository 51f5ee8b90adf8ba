package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/draftsync/internal/model"
)

// ErrSessionCompleted is returned by Complete when the session was already handed in.
var ErrSessionCompleted = errors.New("exam session already completed")

// ExamSessionRepository handles exam session data access.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

// GetByExamAndStudent retrieves a session for a specific exam-student combination.
func (r *ExamSessionRepository) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, started_at, deadline, finished_at, status, answers
		 FROM exam_sessions
		 WHERE exam_id = $1 AND student_id = $2`, examID, studentID,
	).Scan(&s.ID, &s.ExamID, &s.StudentID, &s.StartedAt, &s.Deadline, &s.FinishedAt, &s.Status, &s.Answers)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Create inserts a new exam session. The deadline is computed by the database
// from its own clock so that started_at and deadline agree. Returns
// pgx.ErrNoRows if a concurrent start already created the row.
func (r *ExamSessionRepository) Create(ctx context.Context, s *model.ExamSession, duration time.Duration) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_sessions (exam_id, student_id, status, deadline)
		 VALUES ($1, $2, $3, NOW() + make_interval(secs => $4))
		 ON CONFLICT (exam_id, student_id) DO NOTHING
		 RETURNING id, started_at, deadline, status`,
		s.ExamID, s.StudentID, model.SessionStatusInProgress, duration.Seconds(),
	).Scan(&s.ID, &s.StartedAt, &s.Deadline, &s.Status)
}

// Complete marks an in-progress session as completed and stores the answers.
// Only the first call succeeds; later calls return ErrSessionCompleted.
func (r *ExamSessionRepository) Complete(ctx context.Context, examID uuid.UUID, studentID int, answers json.RawMessage) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	err := r.pool.QueryRow(ctx,
		`UPDATE exam_sessions
		 SET status = $1, answers = $2, finished_at = NOW()
		 WHERE exam_id = $3 AND student_id = $4 AND status = $5
		 RETURNING id, exam_id, student_id, started_at, deadline, finished_at, status, answers`,
		model.SessionStatusCompleted, answers, examID, studentID, model.SessionStatusInProgress,
	).Scan(&s.ID, &s.ExamID, &s.StudentID, &s.StartedAt, &s.Deadline, &s.FinishedAt, &s.Status, &s.Answers)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByExamAndStudent(ctx, examID, studentID); getErr == nil {
			return nil, ErrSessionCompleted
		}
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
