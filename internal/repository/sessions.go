package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/ptmscout/internal/model"
)

const sessionColumns = `id, user_id, data_file, resource_type, load_type, parent_experiment, change_name,
	change_description, units, stage, experiment_id, columns, created_at`

func scanSession(row pgx.Row) (*model.UploadSession, error) {
	var (
		s    model.UploadSession
		cols []byte
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.DataFile, &s.ResourceType, &s.LoadType, &s.ParentExperiment,
		&s.ChangeName, &s.ChangeDescription, &s.Units, &s.Stage, &s.ExperimentID, &cols, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := decode(cols, &s.Columns); err != nil {
		return nil, fmt.Errorf("decode session columns: %w", err)
	}
	return &s, nil
}

// CreateSession inserts a new upload session.
func (r *Repository) CreateSession(ctx context.Context, s *model.UploadSession) error {
	cols, err := encode(s.Columns)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO upload_sessions (`+sessionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, s.ID, s.UserID, s.DataFile, s.ResourceType, s.LoadType, nullable(s.ParentExperiment), s.ChangeName,
		s.ChangeDescription, s.Units, s.Stage, nullable(s.ExperimentID), cols, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession returns a session with its columns.
func (r *Repository) GetSession(ctx context.Context, id string) (*model.UploadSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM upload_sessions WHERE id=$1`, id))
	if err != nil {
		return nil, notFound("session "+id, err)
	}
	return s, nil
}

// UpdateSession replaces the stored session, columns included.
func (r *Repository) UpdateSession(ctx context.Context, s *model.UploadSession) error {
	cols, err := encode(s.Columns)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE upload_sessions
		SET resource_type=$2, load_type=$3, parent_experiment=$4, change_name=$5, change_description=$6,
			units=$7, stage=$8, experiment_id=$9, columns=$10
		WHERE id=$1
	`, s.ID, s.ResourceType, s.LoadType, nullable(s.ParentExperiment), s.ChangeName, s.ChangeDescription,
		s.Units, s.Stage, nullable(s.ExperimentID), cols)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return affected("session "+s.ID, tag.RowsAffected())
}

// DeleteSession removes a session.
func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM upload_sessions WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return affected("session "+id, tag.RowsAffected())
}

// LatestSessionForExperiment returns the most recently created session that
// populated expID.
func (r *Repository) LatestSessionForExperiment(ctx context.Context, expID string) (*model.UploadSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM upload_sessions
		WHERE experiment_id=$1 ORDER BY created_at DESC LIMIT 1
	`, expID))
	if err != nil {
		return nil, notFound("session of experiment "+expID, err)
	}
	return s, nil
}
