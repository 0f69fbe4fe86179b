// Package protein fetches protein records from the external databases the
// importer resolves accessions against (UniProt and NCBI Entrez), batches
// those lookups and caches the results in Redis.
package protein

import (
	"context"
	"regexp"
	"strings"

	"github.com/dharsanguruparan/ptmscout/internal/model"
)

// Accession is an identifier of a protein in some external database.
type Accession struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Record is a protein as described by an external database.
type Record struct {
	QueryAccession string           `json:"queryAccession"`
	Name           string           `json:"name"`
	Gene           string           `json:"gene,omitempty"`
	Locus          string           `json:"locus,omitempty"`
	Species        string           `json:"species"`
	Taxonomy       []string         `json:"taxonomy,omitempty"`
	Sequence       string           `json:"sequence"`
	Accessions     []Accession      `json:"accessions,omitempty"`
	Regions        []model.Region   `json:"regions,omitempty"`
	Mutations      []model.Mutation `json:"mutations,omitempty"`
	GOTerms        []model.GOTerm   `json:"goTerms,omitempty"`
}

// Fetcher resolves a batch of accessions. Accessions missing from the
// result were not found; an error means the lookup itself failed.
type Fetcher interface {
	Fetch(ctx context.Context, accs []string) (map[string]*Record, error)
}

// SingleSubstitution is the only mutation type kept on proteins.
const SingleSubstitution = "Substitution (single)"

// Consistent reports whether m's original residues match seq.
func Consistent(m model.Mutation, seq string) bool {
	start := m.Location - 1
	if start < 0 || m.Original == "" || start+len(m.Original) > len(seq) {
		return false
	}
	return seq[start:start+len(m.Original)] == m.Original
}

// NewProtein builds a local protein from r. Only single substitutions that
// agree with the sequence are carried over.
func (r *Record) NewProtein() *model.Protein {
	p := &model.Protein{
		Name:     r.Name,
		Gene:     r.Gene,
		Locus:    r.Locus,
		Sequence: r.Sequence,
		Species:  r.Species,
		Regions:  append([]model.Region(nil), r.Regions...),
		GOTerms:  append([]model.GOTerm(nil), r.GOTerms...),
	}
	p.Accessions = r.MergeAccessions(nil)
	for _, m := range r.Mutations {
		if m.Type == SingleSubstitution && Consistent(m, r.Sequence) {
			p.Mutations = append(p.Mutations, m)
		}
	}
	return p
}

// MergeAccessions returns existing plus every accession of r not already in
// it, the query accession first.
func (r *Record) MergeAccessions(existing []string) []string {
	out := append([]string(nil), existing...)
	seen := map[string]bool{}
	for _, a := range out {
		seen[a] = true
	}
	add := func(v string) {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	add(r.QueryAccession)
	for _, a := range r.Accessions {
		add(a.Value)
	}
	return out
}

var parenthetical = regexp.MustCompile(`^(.*) \((.*)\)$`)

// ScientificName strips a trailing parenthetical from an organism name unless
// it names a strain or isolate.
func ScientificName(name string) string {
	m := parenthetical.FindStringSubmatch(name)
	if m == nil {
		return strings.TrimSpace(name)
	}
	species, extra := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	if strings.HasPrefix(extra, "strain") || strings.HasPrefix(extra, "isolate") {
		return species + " (" + extra + ")"
	}
	return species
}
