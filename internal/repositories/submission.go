package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/roundsync/internal/models"
	"github.com/desertthunder/roundsync/internal/shared"
)

// SubmissionRepository is the SQLite catalog of group submissions.
type SubmissionRepository struct {
	db *sql.DB
}

// NewSubmissionRepository creates a new SubmissionRepository with the given database connection
func NewSubmissionRepository(db *sql.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

const submissionColumns = `id, group_id, title, artist, album, duration_ms, status, submitted_at`

// Create inserts a submission, generating its ID and defaulting status to pending.
func (r *SubmissionRepository) Create(ctx context.Context, s *models.Submission) error {
	if s.GroupID == "" {
		return fmt.Errorf("%w: group id is required", shared.ErrInvalidInput)
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if s.ID == "" {
		s.ID = shared.GenerateID()
	}
	if s.Status == "" {
		s.Status = models.Pending
	}
	if s.SubmittedAt.IsZero() {
		s.SubmittedAt = time.Now().UTC()
	}

	var duration sql.NullInt64
	if s.DurationMs > 0 {
		duration = sql.NullInt64{Int64: int64(s.DurationMs), Valid: true}
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO submissions (`+submissionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, s.ID, s.GroupID, s.Title, s.Artist, s.Album, duration, string(s.Status), s.SubmittedAt)
		if err != nil {
			return fmt.Errorf("failed to insert submission: %w", err)
		}

		for p, trackID := range s.PlatformIDs {
			if trackID == "" {
				continue
			}
			if err := insertPlatformID(ctx, tx, s.ID, p, trackID); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get retrieves a submission with its resolved platform IDs.
func (r *SubmissionRepository) Get(ctx context.Context, id string) (*models.Submission, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id)

	s, err := scanSubmission(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrSongNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	ids, err := r.platformIDs(ctx, []string{s.ID})
	if err != nil {
		return nil, err
	}
	s.PlatformIDs = ids[s.ID]
	return s, nil
}

// List returns a group's submissions in submission order, optionally filtered by status.
func (r *SubmissionRepository) List(ctx context.Context, groupID string, status models.SubmissionStatus) ([]*models.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE group_id = ?`
	args := []any{groupID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY submitted_at ASC, id ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var submissions []*models.Submission
	var ids []string
	for rows.Next() {
		s, err := scanSubmission(rows.Scan)
		if err != nil {
			return nil, err
		}
		submissions = append(submissions, s)
		ids = append(ids, s.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	platformIDs, err := r.platformIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, s := range submissions {
		s.PlatformIDs = platformIDs[s.ID]
	}
	return submissions, nil
}

// SetStatus moves a submission to status.
func (r *SubmissionRepository) SetStatus(ctx context.Context, id string, status models.SubmissionStatus) error {
	switch status {
	case models.Pending, models.Accepted, models.Rejected:
	default:
		return fmt.Errorf("%w: unknown submission status %q", shared.ErrInvalidInput, status)
	}

	result, err := r.db.ExecContext(ctx, `UPDATE submissions SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update submission: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrSongNotFound, id)
	}
	return nil
}

// AcceptedSubmissions returns a group's accepted songs in submission order.
func (r *SubmissionRepository) AcceptedSubmissions(ctx context.Context, groupID string) ([]models.CanonicalSong, error) {
	submissions, err := r.List(ctx, groupID, models.Accepted)
	if err != nil {
		return nil, err
	}

	songs := make([]models.CanonicalSong, len(submissions))
	for i, s := range submissions {
		songs[i] = s.CanonicalSong
	}
	return songs, nil
}

// RecordResolvedPlatformID stores the track a song resolved to. An ID already
// recorded for the platform is kept.
func (r *SubmissionRepository) RecordResolvedPlatformID(ctx context.Context, songID string, p models.Platform, trackID string) error {
	if trackID == "" {
		return fmt.Errorf("%w: track id is required", shared.ErrInvalidInput)
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM submissions WHERE id = ?)`, songID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check submission: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", shared.ErrSongNotFound, songID)
		}
		return insertPlatformID(ctx, tx, songID, p, trackID)
	})
}

func insertPlatformID(ctx context.Context, tx *sql.Tx, songID string, p models.Platform, trackID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO submission_platform_ids (submission_id, platform, track_id, resolved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(submission_id, platform) DO NOTHING
	`, songID, string(p), trackID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record platform id: %w", err)
	}
	return nil
}

// platformIDs loads resolved IDs for the given submissions.
func (r *SubmissionRepository) platformIDs(ctx context.Context, ids []string) (map[string]map[models.Platform]string, error) {
	out := make(map[string]map[models.Platform]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT submission_id, platform, track_id
		FROM submission_platform_ids
		WHERE submission_id IN (`+string(placeholders)+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query platform ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var songID, platform, trackID string
		if err := rows.Scan(&songID, &platform, &trackID); err != nil {
			return nil, fmt.Errorf("failed to scan platform id: %w", err)
		}
		if out[songID] == nil {
			out[songID] = make(map[models.Platform]string)
		}
		out[songID][models.Platform(platform)] = trackID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

// scanSubmission reads the submissionColumns projection through scan.
func scanSubmission(scan func(dest ...any) error) (*models.Submission, error) {
	var (
		s        models.Submission
		duration sql.NullInt64
		status   string
	)

	err := scan(&s.ID, &s.GroupID, &s.Title, &s.Artist, &s.Album, &duration, &status, &s.SubmittedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan submission: %w", err)
	}

	s.DurationMs = int(duration.Int64)
	s.Status = models.SubmissionStatus(status)
	return &s, nil
}
