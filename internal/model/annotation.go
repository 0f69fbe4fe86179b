package model

import "errors"

// ErrNotFound is returned by every store when a required record is missing.
var ErrNotFound = errors.New("record not found")

// AnnotationHeader names the derived columns stored per measured peptide,
// in order.
var AnnotationHeader = []string{
	"nearby_modifications", "nearby_mutations", "nearby_mutation_annotations",
	"site_pfam_domains", "site_uniprot_domains", "site_kinase_loop",
	"site_macro_molecular", "site_topological", "site_structure",
	"protein_pfam_domains", "protein_uniprot_domains",
	"protein_GO_BP", "protein_GO_CC", "protein_GO_MF",
}

// Annotation holds the derived columns of one measured peptide. Values is
// aligned with AnnotationHeader.
type Annotation struct {
	MeasuredPeptideID string   `json:"measuredPeptideId"`
	Values            []string `json:"values"`
}
