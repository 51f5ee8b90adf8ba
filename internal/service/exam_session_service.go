package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/draftsync/internal/config"
	"github.com/stemsi/draftsync/internal/model"
	"github.com/stemsi/draftsync/internal/repository"
)

// Exam session errors.
var (
	ErrExamNotFound     = errors.New("exam not found")
	ErrExamNotAvailable = errors.New("exam is not available")
	ErrSessionNotFound  = errors.New("exam session not found")
	ErrAlreadySubmitted = errors.New("exam already submitted")
)

// ExamStore reads exams, implemented by repository.ExamRepository.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
}

// ExamSessionStore is implemented by repository.ExamSessionRepository.
type ExamSessionStore interface {
	GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error)
	Create(ctx context.Context, s *model.ExamSession, duration time.Duration) error
	Complete(ctx context.Context, examID uuid.UUID, studentID int, answers json.RawMessage) (*model.ExamSession, error)
}

// ExamSessionService handles exam session business logic. The server is the
// only authority on a session's deadline; clients count down against it.
type ExamSessionService struct {
	sessions ExamSessionStore
	exams    ExamStore
	rdb      *redis.Client
	now      func() time.Time
	log      zerolog.Logger
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(sessions ExamSessionStore, exams ExamStore, rdb *redis.Client, log zerolog.Logger) *ExamSessionService {
	return &ExamSessionService{
		sessions: sessions,
		exams:    exams,
		rdb:      rdb,
		now:      time.Now,
		log:      log.With().Str("component", "exam_session_service").Logger(),
	}
}

// Start creates the student's session, or returns the existing one. The
// deadline is fixed at creation and never moves.
func (s *ExamSessionService) Start(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSessionState, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}

	// IDEMPOTENCY CHECK: a second start (refresh, other device) resumes the
	// existing session and re-primes the cache.
	existing, err := s.sessions.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check existing session: %w", err)
	}
	if existing != nil {
		if existing.Status == model.SessionStatusCompleted {
			return nil, ErrAlreadySubmitted
		}
		s.cacheDeadline(ctx, existing)
		return s.state(existing.ID, examID, existing.Status, existing.Deadline), nil
	}

	if exam.Status != model.ExamStatusPublished {
		return nil, ErrExamNotAvailable
	}

	duration := time.Duration(exam.DurationMinutes) * time.Minute
	if exam.ScheduledEnd != nil {
		if untilEnd := exam.ScheduledEnd.Sub(s.now()); untilEnd < duration {
			duration = untilEnd
		}
	}
	if duration <= 0 {
		return nil, ErrExamNotAvailable
	}

	session := &model.ExamSession{ExamID: examID, StudentID: studentID}
	if err := s.sessions.Create(ctx, session, duration); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("create session: %w", err)
		}
		// Concurrent start detected.
		session, err = s.sessions.GetByExamAndStudent(ctx, examID, studentID)
		if err != nil {
			return nil, fmt.Errorf("concurrent start detected, but fetch failed: %w", err)
		}
	}

	s.cacheDeadline(ctx, session)

	s.log.Info().
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Time("deadline", session.Deadline).
		Msg("Exam session started")

	return s.state(session.ID, examID, session.Status, session.Deadline), nil
}

// State returns the session's deadline, reading Redis first and falling back
// to PostgreSQL.
func (s *ExamSessionService) State(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSessionState, error) {
	key := config.CacheKey.StudentExamDeadlineKey(examID.String(), studentID)

	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error getting deadline: %w", err)
	}

	status := model.SessionStatusInProgress
	if sessionID, deadline, ok := parseDeadlineHash(fields); ok {
		submitted, err := s.rdb.Exists(ctx, config.CacheKey.StudentExamSubmittedKey(examID.String(), studentID)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis error checking submission: %w", err)
		}
		if submitted > 0 {
			status = model.SessionStatusCompleted
		}
		return s.state(sessionID, examID, status, deadline), nil
	}

	// [CACHE MISS SCENARIO]
	// Redis doesn't have it (evicted or expired). Fall back to PostgreSQL.
	sess, err := s.sessions.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	// Self-Heal: put it back in Redis so the next request is fast.
	s.cacheDeadline(ctx, sess)
	return s.state(sess.ID, examID, sess.Status, sess.Deadline), nil
}

// Submit hands the exam in. Only the first call succeeds; later calls return
// ErrAlreadySubmitted whichever path (user or deadline) they came from.
func (s *ExamSessionService) Submit(ctx context.Context, examID uuid.UUID, studentID int, answers json.RawMessage) (*model.ExamSession, error) {
	if len(answers) == 0 {
		answers = json.RawMessage("{}")
	}

	submittedKey := config.CacheKey.StudentExamSubmittedKey(examID.String(), studentID)
	first, err := s.rdb.SetNX(ctx, submittedKey, s.now().Unix(), 24*time.Hour).Result()
	if err != nil {
		return nil, fmt.Errorf("mark submitted: %w", err)
	}
	if !first {
		return nil, ErrAlreadySubmitted
	}

	sess, err := s.sessions.Complete(ctx, examID, studentID, answers)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrSessionCompleted):
			return nil, ErrAlreadySubmitted
		case errors.Is(err, pgx.ErrNoRows):
			err = ErrSessionNotFound
		default:
			err = fmt.Errorf("complete session: %w", err)
		}
		// Release the marker so the student can retry.
		_ = s.rdb.Del(ctx, submittedKey).Err()
		return nil, err
	}

	late := sess.FinishedAt != nil && sess.FinishedAt.After(sess.Deadline)
	s.log.Info().
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Bool("after_deadline", late).
		Msg("Exam submitted")

	return sess, nil
}

func (s *ExamSessionService) state(sessionID, examID uuid.UUID, status model.SessionStatus, deadline time.Time) *model.ExamSessionState {
	remaining := deadline.Sub(s.now())
	if remaining < 0 || status == model.SessionStatusCompleted {
		remaining = 0
	}
	return &model.ExamSessionState{
		SessionID: sessionID,
		ExamID:    examID,
		Status:    status,
		RemainingTime: model.RemainingTime{
			RemainingSeconds: int((remaining + time.Second - 1) / time.Second),
			Deadline:         deadline.UTC(),
		},
	}
}

// cacheDeadline stores the session's deadline until an hour past it. A cache
// failure is logged; State falls back to PostgreSQL.
func (s *ExamSessionService) cacheDeadline(ctx context.Context, sess *model.ExamSession) {
	key := config.CacheKey.StudentExamDeadlineKey(sess.ExamID.String(), sess.StudentID)
	ttl := sess.Deadline.Sub(s.now()) + time.Hour
	if ttl <= 0 {
		return
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "session_id", sess.ID.String(), "deadline", sess.Deadline.UnixMilli())
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		s.log.Warn().Err(err).Str("exam_id", sess.ExamID.String()).Msg("Failed to cache deadline")
	}
}

func parseDeadlineHash(fields map[string]string) (uuid.UUID, time.Time, bool) {
	sessionID, err := uuid.Parse(fields["session_id"])
	if err != nil {
		return uuid.Nil, time.Time{}, false
	}
	ms, err := strconv.ParseInt(fields["deadline"], 10, 64)
	if err != nil {
		return uuid.Nil, time.Time{}, false
	}
	return sessionID, time.UnixMilli(ms), true
}
