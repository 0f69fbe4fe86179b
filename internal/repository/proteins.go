package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/ptmscout/internal/model"
	"github.com/dharsanguruparan/ptmscout/internal/ptm"
)

// SavePTMs replaces the PTM reference records.
func (r *Repository) SavePTMs(ctx context.Context, records []ptm.PTM) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM ptms`); err != nil {
			return fmt.Errorf("clear ptms: %w", err)
		}
		batch := &pgx.Batch{}
		for _, p := range records {
			taxons, err := encode(p.Taxons)
			if err != nil {
				return err
			}
			keywords, err := encode(p.Keywords)
			if err != nil {
				return err
			}
			batch.Queue(`INSERT INTO ptms (id, name, accession, target, parent_id, taxons, keywords) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				p.ID, p.Name, p.Accession, p.Target, p.ParentID, taxons, keywords)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert ptms: %w", err)
		}
		return nil
	})
}

// ListPTMs returns the PTM reference records.
func (r *Repository) ListPTMs(ctx context.Context) ([]ptm.PTM, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, accession, target, parent_id, taxons, keywords FROM ptms ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list ptms: %w", err)
	}
	defer rows.Close()
	var out []ptm.PTM
	for rows.Next() {
		var (
			p                ptm.PTM
			taxons, keywords []byte
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Accession, &p.Target, &p.ParentID, &taxons, &keywords); err != nil {
			return nil, fmt.Errorf("scan ptm: %w", err)
		}
		if err := decode(taxons, &p.Taxons); err != nil {
			return nil, err
		}
		if err := decode(keywords, &p.Keywords); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const proteinColumns = `id, name, gene, locus, sequence, species, accessions, domains, regions, mutations, go_terms`

func scanProtein(row pgx.Row) (*model.Protein, error) {
	var (
		p                                             model.Protein
		accessions, domains, regions, mutations, gos []byte
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Gene, &p.Locus, &p.Sequence, &p.Species,
		&accessions, &domains, &regions, &mutations, &gos); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		data []byte
		into interface{}
	}{
		{accessions, &p.Accessions}, {domains, &p.Domains}, {regions, &p.Regions},
		{mutations, &p.Mutations}, {gos, &p.GOTerms},
	} {
		if err := decode(f.data, f.into); err != nil {
			return nil, fmt.Errorf("decode protein %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

// FindProteinBySequence returns the protein with the exact sequence and species.
func (r *Repository) FindProteinBySequence(ctx context.Context, sequence, species string) (*model.Protein, error) {
	p, err := scanProtein(r.pool.QueryRow(ctx, `
		SELECT `+proteinColumns+` FROM proteins
		WHERE md5(sequence)=md5($1) AND sequence=$1 AND species=$2
	`, sequence, species))
	if err != nil {
		return nil, notFound("protein by sequence", err)
	}
	return p, nil
}

// GetProtein returns a protein by id.
func (r *Repository) GetProtein(ctx context.Context, id string) (*model.Protein, error) {
	p, err := scanProtein(r.pool.QueryRow(ctx, `SELECT `+proteinColumns+` FROM proteins WHERE id=$1`, id))
	if err != nil {
		return nil, notFound("protein "+id, err)
	}
	return p, nil
}

// SaveProtein inserts or replaces a protein with all of its features. An
// empty ID is assigned.
func (r *Repository) SaveProtein(ctx context.Context, p *model.Protein) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	var enc [5]string
	for i, v := range []interface{}{p.Accessions, p.Domains, p.Regions, p.Mutations, p.GOTerms} {
		s, err := encode(v)
		if err != nil {
			return fmt.Errorf("encode protein %s: %w", p.ID, err)
		}
		enc[i] = s
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO proteins (`+proteinColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE
		SET name=EXCLUDED.name, gene=EXCLUDED.gene, locus=EXCLUDED.locus, accessions=EXCLUDED.accessions,
			domains=EXCLUDED.domains, regions=EXCLUDED.regions, mutations=EXCLUDED.mutations,
			go_terms=EXCLUDED.go_terms
	`, p.ID, p.Name, p.Gene, p.Locus, p.Sequence, p.Species, enc[0], enc[1], enc[2], enc[3], enc[4])
	if err != nil {
		return fmt.Errorf("save protein: %w", err)
	}
	return nil
}

// GetOrCreatePeptide returns the peptide at (protein, position, residue),
// creating it from p when absent.
func (r *Repository) GetOrCreatePeptide(ctx context.Context, p *model.Peptide) (*model.Peptide, bool, error) {
	out := *p
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO peptides (id, protein_id, site_pos, site_type, aligned)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (protein_id, site_pos, site_type) DO NOTHING
		RETURNING id
	`, out.ID, out.ProteinID, out.SitePos, out.SiteType, out.Aligned).Scan(&out.ID)
	if err == nil {
		return &out, true, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, fmt.Errorf("insert peptide: %w", err)
	}
	err = r.pool.QueryRow(ctx, `
		SELECT id, protein_id, site_pos, site_type, aligned FROM peptides
		WHERE protein_id=$1 AND site_pos=$2 AND site_type=$3
	`, p.ProteinID, p.SitePos, p.SiteType).Scan(&out.ID, &out.ProteinID, &out.SitePos, &out.SiteType, &out.Aligned)
	if err != nil {
		return nil, false, notFound("peptide", err)
	}
	return &out, false, nil
}

const measuredColumns = `id, experiment_id, protein_id, query_accession, peptide, peptides, data`

// SaveMeasuredPeptide upserts a measurement keyed by experiment, protein,
// peptide string and modification set. The stored id is written back to ms.
func (r *Repository) SaveMeasuredPeptide(ctx context.Context, ms *model.MeasuredPeptide) error {
	if ms.ID == "" {
		ms.ID = uuid.NewString()
	}
	peptides, err := encode(ms.Peptides)
	if err != nil {
		return err
	}
	data, err := encode(ms.Data)
	if err != nil {
		return err
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO measured_peptides (`+measuredColumns+`, modifications)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (experiment_id, protein_id, peptide, modifications) DO UPDATE
		SET query_accession=EXCLUDED.query_accession, peptides=EXCLUDED.peptides, data=EXCLUDED.data
		RETURNING id
	`, ms.ID, ms.ExperimentID, ms.ProteinID, ms.QueryAccession, ms.Peptide, peptides, data, ms.ModificationKey()).Scan(&ms.ID)
	if err != nil {
		return fmt.Errorf("save measured peptide: %w", err)
	}
	return nil
}

func (r *Repository) listMeasured(ctx context.Context, where string, arg string) ([]*model.MeasuredPeptide, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+measuredColumns+` FROM measured_peptides WHERE `+where+`=$1 ORDER BY seq`, arg)
	if err != nil {
		return nil, fmt.Errorf("list measured peptides: %w", err)
	}
	defer rows.Close()
	var out []*model.MeasuredPeptide
	for rows.Next() {
		var (
			ms             model.MeasuredPeptide
			peptides, data []byte
		)
		if err := rows.Scan(&ms.ID, &ms.ExperimentID, &ms.ProteinID, &ms.QueryAccession, &ms.Peptide, &peptides, &data); err != nil {
			return nil, fmt.Errorf("scan measured peptide: %w", err)
		}
		if err := decode(peptides, &ms.Peptides); err != nil {
			return nil, err
		}
		if err := decode(data, &ms.Data); err != nil {
			return nil, err
		}
		out = append(out, &ms)
	}
	return out, rows.Err()
}

// ListMeasuredPeptides returns an experiment's measurements in insert order.
func (r *Repository) ListMeasuredPeptides(ctx context.Context, expID string) ([]*model.MeasuredPeptide, error) {
	return r.listMeasured(ctx, "experiment_id", expID)
}

// ListMeasuredPeptidesByProtein returns every measurement of a protein
// across experiments.
func (r *Repository) ListMeasuredPeptidesByProtein(ctx context.Context, proteinID string) ([]*model.MeasuredPeptide, error) {
	return r.listMeasured(ctx, "protein_id", proteinID)
}

// SaveAnnotations replaces the derived annotation rows of an experiment.
func (r *Repository) SaveAnnotations(ctx context.Context, expID string, rows []model.Annotation) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM annotations WHERE experiment_id=$1`, expID); err != nil {
			return fmt.Errorf("clear annotations: %w", err)
		}
		batch := &pgx.Batch{}
		for _, a := range rows {
			vals, err := encode(a.Values)
			if err != nil {
				return err
			}
			batch.Queue(`INSERT INTO annotations (measured_peptide_id, experiment_id, vals) VALUES ($1,$2,$3)`,
				a.MeasuredPeptideID, expID, vals)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert annotations: %w", err)
		}
		return nil
	})
}

// ListAnnotations returns the annotation rows of an experiment.
func (r *Repository) ListAnnotations(ctx context.Context, expID string) ([]model.Annotation, error) {
	rows, err := r.pool.Query(ctx, `SELECT measured_peptide_id, vals FROM annotations WHERE experiment_id=$1 ORDER BY seq`, expID)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()
	var out []model.Annotation
	for rows.Next() {
		var (
			a    model.Annotation
			vals []byte
		)
		if err := rows.Scan(&a.MeasuredPeptideID, &vals); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		if err := decode(vals, &a.Values); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
