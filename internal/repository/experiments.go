package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/ptmscout/internal/model"
)

const experimentColumns = `id, name, description, author, contact_name, contact_email, url, published,
	ambiguity, journal, publication_year, volume, pages, pmid, type, parent_id, job_id, owner_id, created_at`

// CreateExperiment inserts an experiment and its conditions.
func (r *Repository) CreateExperiment(ctx context.Context, e *model.Experiment) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO experiments (`+experimentColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		`, e.ID, e.Name, e.Description, e.Author, e.ContactName, e.ContactEmail, e.URL, e.Published,
			e.Ambiguity, e.Journal, e.PublicationYear, e.Volume, e.Pages, e.PMID, e.Type, nullable(e.ParentID),
			nullable(e.JobID), e.OwnerID, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert experiment: %w", err)
		}
		return insertConditions(ctx, tx, e.ID, e.Conditions)
	})
}

// GetExperiment returns an experiment with its conditions.
func (r *Repository) GetExperiment(ctx context.Context, id string) (*model.Experiment, error) {
	return r.experimentWhere(ctx, "id", id)
}

// FindExperimentByJob returns the experiment a load job populates.
func (r *Repository) FindExperimentByJob(ctx context.Context, jobID string) (*model.Experiment, error) {
	return r.experimentWhere(ctx, "job_id", jobID)
}

func (r *Repository) experimentWhere(ctx context.Context, column, value string) (*model.Experiment, error) {
	var e model.Experiment
	err := r.pool.QueryRow(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE `+column+`=$1`, value).Scan(
		&e.ID, &e.Name, &e.Description, &e.Author, &e.ContactName, &e.ContactEmail, &e.URL, &e.Published,
		&e.Ambiguity, &e.Journal, &e.PublicationYear, &e.Volume, &e.Pages, &e.PMID, &e.Type, &e.ParentID,
		&e.JobID, &e.OwnerID, &e.CreatedAt)
	if err != nil {
		return nil, notFound("experiment "+value, err)
	}

	rows, err := r.pool.Query(ctx, `SELECT type, value FROM experiment_conditions WHERE experiment_id=$1 ORDER BY position`, e.ID)
	if err != nil {
		return nil, fmt.Errorf("select conditions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c model.Condition
		if err := rows.Scan(&c.Type, &c.Value); err != nil {
			return nil, fmt.Errorf("scan condition: %w", err)
		}
		e.Conditions = append(e.Conditions, c)
	}
	return &e, rows.Err()
}

// UpdateExperiment replaces the experiment fields. Conditions are left alone.
func (r *Repository) UpdateExperiment(ctx context.Context, e *model.Experiment) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE experiments
		SET name=$2, description=$3, author=$4, contact_name=$5, contact_email=$6, url=$7, published=$8,
			ambiguity=$9, journal=$10, publication_year=$11, volume=$12, pages=$13, pmid=$14, type=$15,
			parent_id=$16, job_id=$17, owner_id=$18
		WHERE id=$1
	`, e.ID, e.Name, e.Description, e.Author, e.ContactName, e.ContactEmail, e.URL, e.Published,
		e.Ambiguity, e.Journal, e.PublicationYear, e.Volume, e.Pages, e.PMID, e.Type, nullable(e.ParentID),
		nullable(e.JobID), e.OwnerID)
	if err != nil {
		return fmt.Errorf("update experiment: %w", err)
	}
	return affected("experiment "+e.ID, tag.RowsAffected())
}

// DeleteExperiment removes an experiment; its conditions, errors and
// measurements go with it.
func (r *Repository) DeleteExperiment(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM experiments WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete experiment: %w", err)
	}
	return affected("experiment "+id, tag.RowsAffected())
}

// ReplaceConditions swaps the experiment's condition set in one transaction.
func (r *Repository) ReplaceConditions(ctx context.Context, expID string, conds []model.Condition) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM experiment_conditions WHERE experiment_id=$1`, expID); err != nil {
			return fmt.Errorf("clear conditions: %w", err)
		}
		return insertConditions(ctx, tx, expID, conds)
	})
}

func insertConditions(ctx context.Context, tx pgx.Tx, expID string, conds []model.Condition) error {
	if len(conds) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, c := range conds {
		batch.Queue(`INSERT INTO experiment_conditions (experiment_id, position, type, value) VALUES ($1,$2,$3,$4)`,
			expID, i, c.Type, c.Value)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert conditions: %w", err)
	}
	return nil
}

// ClearExperimentErrors drops every recorded error of an experiment.
func (r *Repository) ClearExperimentErrors(ctx context.Context, expID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM experiment_errors WHERE experiment_id=$1`, expID); err != nil {
		return fmt.Errorf("clear experiment errors: %w", err)
	}
	return nil
}

// AddExperimentErrors appends errors.
func (r *Repository) AddExperimentErrors(ctx context.Context, errs []model.ExperimentError) error {
	if len(errs) == 0 {
		return nil
	}
	rows := make([][]interface{}, len(errs))
	for i, e := range errs {
		rows[i] = []interface{}{e.ExperimentID, e.Line, e.Accession, e.Peptide, e.Message}
	}
	_, err := r.pool.CopyFrom(ctx, pgx.Identifier{"experiment_errors"},
		[]string{"experiment_id", "line", "accession", "peptide", "message"}, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("insert experiment errors: %w", err)
	}
	return nil
}

// ListExperimentErrors returns errors ordered by line.
func (r *Repository) ListExperimentErrors(ctx context.Context, expID string) ([]model.ExperimentError, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, experiment_id, line, accession, peptide, message
		FROM experiment_errors WHERE experiment_id=$1 ORDER BY line, id
	`, expID)
	if err != nil {
		return nil, fmt.Errorf("list experiment errors: %w", err)
	}
	defer rows.Close()
	var out []model.ExperimentError
	for rows.Next() {
		var e model.ExperimentError
		if err := rows.Scan(&e.ID, &e.ExperimentID, &e.Line, &e.Accession, &e.Peptide, &e.Message); err != nil {
			return nil, fmt.Errorf("scan experiment error: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
