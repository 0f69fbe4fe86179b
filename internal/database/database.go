package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

// Schema creates every table ptmscout uses. Nested feature lists (session
// columns, protein features, measured peptide data) are stored as JSONB next
// to the row that owns them.
const Schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	failure_reason TEXT NOT NULL DEFAULT '',
	stage TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	max_progress INTEGER NOT NULL DEFAULT 0,
	status_url TEXT NOT NULL DEFAULT '',
	resume_url TEXT NOT NULL DEFAULT '',
	result_url TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	user_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	restarted_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);

CREATE TABLE IF NOT EXISTS experiments (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	contact_name TEXT NOT NULL DEFAULT '',
	contact_email TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	published BOOLEAN NOT NULL DEFAULT FALSE,
	ambiguity BOOLEAN NOT NULL DEFAULT FALSE,
	journal TEXT NOT NULL DEFAULT '',
	publication_year INTEGER NOT NULL DEFAULT 0,
	volume TEXT NOT NULL DEFAULT '',
	pages TEXT NOT NULL DEFAULT '',
	pmid TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	parent_id TEXT REFERENCES experiments(id) ON DELETE SET NULL,
	job_id TEXT REFERENCES jobs(id) ON DELETE SET NULL,
	owner_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS experiment_conditions (
	experiment_id TEXT NOT NULL REFERENCES experiments(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	type TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (experiment_id, position)
);

CREATE TABLE IF NOT EXISTS experiment_errors (
	id BIGSERIAL PRIMARY KEY,
	experiment_id TEXT NOT NULL REFERENCES experiments(id) ON DELETE CASCADE,
	line INTEGER NOT NULL,
	accession TEXT NOT NULL DEFAULT '',
	peptide TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_experiment_errors_experiment ON experiment_errors(experiment_id, line);

CREATE TABLE IF NOT EXISTS upload_sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	data_file TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	load_type TEXT NOT NULL,
	parent_experiment TEXT,
	change_name TEXT NOT NULL DEFAULT '',
	change_description TEXT NOT NULL DEFAULT '',
	units TEXT NOT NULL DEFAULT '',
	stage TEXT NOT NULL,
	experiment_id TEXT REFERENCES experiments(id) ON DELETE SET NULL,
	columns JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_upload_sessions_experiment ON upload_sessions(experiment_id, created_at);

CREATE TABLE IF NOT EXISTS ptms (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	accession TEXT NOT NULL DEFAULT '',
	target TEXT NOT NULL DEFAULT '',
	parent_id TEXT NOT NULL DEFAULT '',
	taxons JSONB NOT NULL DEFAULT '[]',
	keywords JSONB NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS proteins (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	gene TEXT NOT NULL DEFAULT '',
	locus TEXT NOT NULL DEFAULT '',
	sequence TEXT NOT NULL,
	species TEXT NOT NULL,
	accessions JSONB NOT NULL DEFAULT '[]',
	domains JSONB NOT NULL DEFAULT '[]',
	regions JSONB NOT NULL DEFAULT '[]',
	mutations JSONB NOT NULL DEFAULT '[]',
	go_terms JSONB NOT NULL DEFAULT '[]'
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_proteins_sequence ON proteins(md5(sequence), species);

CREATE TABLE IF NOT EXISTS peptides (
	id TEXT PRIMARY KEY,
	protein_id TEXT NOT NULL REFERENCES proteins(id) ON DELETE CASCADE,
	site_pos INTEGER NOT NULL,
	site_type TEXT NOT NULL,
	aligned TEXT NOT NULL,
	UNIQUE (protein_id, site_pos, site_type)
);

CREATE TABLE IF NOT EXISTS measured_peptides (
	seq BIGSERIAL,
	id TEXT PRIMARY KEY,
	experiment_id TEXT NOT NULL REFERENCES experiments(id) ON DELETE CASCADE,
	protein_id TEXT NOT NULL REFERENCES proteins(id),
	query_accession TEXT NOT NULL,
	peptide TEXT NOT NULL,
	modifications TEXT NOT NULL DEFAULT '',
	peptides JSONB NOT NULL DEFAULT '[]',
	data JSONB NOT NULL DEFAULT '[]',
	UNIQUE (experiment_id, protein_id, peptide, modifications)
);
CREATE INDEX IF NOT EXISTS idx_measured_peptides_protein ON measured_peptides(protein_id);

CREATE TABLE IF NOT EXISTS annotations (
	measured_peptide_id TEXT PRIMARY KEY REFERENCES measured_peptides(id) ON DELETE CASCADE,
	experiment_id TEXT NOT NULL REFERENCES experiments(id) ON DELETE CASCADE,
	seq BIGSERIAL,
	vals JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_annotations_experiment ON annotations(experiment_id);`

// EnsureSchema creates the tables if needed. Having the migration in code
// lets docker-compose bootstrap everything.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
