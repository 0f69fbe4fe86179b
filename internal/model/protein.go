package model

import (
	"sort"
	"strconv"
	"strings"
)

// Protein is a locally stored protein, unique by sequence and species.
type Protein struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Gene       string     `json:"gene,omitempty"`
	Locus      string     `json:"locus,omitempty"`
	Sequence   string     `json:"sequence"`
	Species    string     `json:"species"`
	Accessions []string   `json:"accessions,omitempty"`
	Domains    []Domain   `json:"domains,omitempty"`
	Regions    []Region   `json:"regions,omitempty"`
	Mutations  []Mutation `json:"mutations,omitempty"`
	GOTerms    []GOTerm   `json:"goTerms,omitempty"`
}

// Domain is a predicted or curated protein family domain.
type Domain struct {
	Label  string  `json:"label"`
	Class  string  `json:"class,omitempty"`
	Start  int     `json:"start"`
	Stop   int     `json:"stop"`
	PValue float64 `json:"pValue,omitempty"`
	Source string  `json:"source"`
}

// Region is a structural or functional feature track of a protein.
type Region struct {
	Type   string `json:"type"`
	Label  string `json:"label"`
	Start  int    `json:"start"`
	Stop   int    `json:"stop"`
	Source string `json:"source"`
}

// Mutation is a single residue variant, 1-based location.
type Mutation struct {
	Type       string `json:"type"`
	Location   int    `json:"location"`
	Original   string `json:"original"`
	Mutant     string `json:"mutant"`
	Annotation string `json:"annotation,omitempty"`
}

// GOTerm is one Gene Ontology annotation. Aspect is P, F or C.
type GOTerm struct {
	GO     string `json:"go"`
	Term   string `json:"term"`
	Aspect string `json:"aspect"`
}

// Peptide is a modified site on a protein, keyed by protein, position and residue.
type Peptide struct {
	ID        string `json:"id"`
	ProteinID string `json:"proteinId"`
	SitePos   int    `json:"sitePos"`
	SiteType  string `json:"siteType"`
	Aligned   string `json:"aligned"`
}

// Name renders the site as residue plus position, e.g. S10.
func (p Peptide) Name() string {
	return p.SiteType + strconv.Itoa(p.SitePos)
}

// ModifiedPeptide links a peptide to the modification observed on it.
type ModifiedPeptide struct {
	Peptide        Peptide `json:"peptide"`
	ModificationID string  `json:"modificationId"`
	Modification   string  `json:"modification"`
}

// MeasuredPeptide is one (accession, site, modification) row of an experiment.
type MeasuredPeptide struct {
	ID             string            `json:"id"`
	ExperimentID   string            `json:"experimentId"`
	ProteinID      string            `json:"proteinId"`
	QueryAccession string            `json:"queryAccession"`
	Peptide        string            `json:"peptide"`
	Peptides       []ModifiedPeptide `json:"peptides"`
	Data           []ExperimentData  `json:"data,omitempty"`
}

// ModificationKey is the sorted, comma separated set of modification ids on
// the measurement. Together with the peptide it tells apart rows that
// measure the same residues under different modifications.
func (m *MeasuredPeptide) ModificationKey() string {
	seen := map[string]bool{}
	var ids []string
	for _, p := range m.Peptides {
		if p.ModificationID == "" || seen[p.ModificationID] {
			continue
		}
		seen[p.ModificationID] = true
		ids = append(ids, p.ModificationID)
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

// ExperimentData is one numeric datapoint of a measured peptide.
type ExperimentData struct {
	Run      string   `json:"run"`
	Priority int      `json:"priority"`
	Type     string   `json:"type"`
	Units    string   `json:"units"`
	Label    string   `json:"label"`
	Value    *float64 `json:"value"`
}
