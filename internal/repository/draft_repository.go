package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/draftsync/internal/model"
)

// DraftRepository handles code draft history.
type DraftRepository struct {
	pool *pgxpool.Pool
}

// NewDraftRepository creates a new DraftRepository.
func NewDraftRepository(pool *pgxpool.Pool) *DraftRepository {
	return &DraftRepository{pool: pool}
}

// Insert stores a draft. Inserting the same id twice is a no-op, so a
// re-queued save never produces a duplicate row.
func (r *DraftRepository) Insert(ctx context.Context, d *model.CodeDraft) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO code_drafts (id, student_id, problem_id, language, code, save_type, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		d.ID, d.StudentID, d.ProblemID, d.Language, d.Code, d.SaveType, d.CreatedAt,
	)
	return err
}

// Latest returns the newest draft, or pgx.ErrNoRows if there is none. An
// empty language matches every language.
func (r *DraftRepository) Latest(ctx context.Context, studentID int, problemID, language string) (*model.CodeDraft, error) {
	d := &model.CodeDraft{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, student_id, problem_id, language, code, save_type, created_at
		 FROM code_drafts
		 WHERE student_id = $1 AND problem_id = $2 AND ($3 = '' OR language = $3)
		 ORDER BY created_at DESC
		 LIMIT 1`, studentID, problemID, language,
	).Scan(&d.ID, &d.StudentID, &d.ProblemID, &d.Language, &d.Code, &d.SaveType, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// List returns up to limit drafts, newest first. An empty language matches
// every language.
func (r *DraftRepository) List(ctx context.Context, studentID int, problemID, language string, limit int) ([]model.CodeDraft, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, student_id, problem_id, language, code, save_type, created_at
		 FROM code_drafts
		 WHERE student_id = $1 AND problem_id = $2 AND ($3 = '' OR language = $3)
		 ORDER BY created_at DESC
		 LIMIT $4`, studentID, problemID, language, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drafts []model.CodeDraft
	for rows.Next() {
		var d model.CodeDraft
		if err := rows.Scan(&d.ID, &d.StudentID, &d.ProblemID, &d.Language, &d.Code, &d.SaveType, &d.CreatedAt); err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}
