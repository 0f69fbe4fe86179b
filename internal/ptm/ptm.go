// Package ptm holds the post-translational modification reference tree and
// resolves the modification names users type into concrete PTM records.
package ptm

import (
	"fmt"
	"strings"

	"github.com/dharsanguruparan/ptmscout/internal/accession"
)

// Separator splits multiple modification names in one cell.
const Separator = ";"

// PTM is one node of the modification tree. A node with an empty Target is a
// parent type that only groups more specific children.
type PTM struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	Accession string   `json:"accession" yaml:"accession"`
	Target    string   `json:"target,omitempty" yaml:"target"`
	ParentID  string   `json:"parentId,omitempty" yaml:"parent_id"`
	Taxons    []string `json:"taxons,omitempty" yaml:"taxons"`
	Keywords  []string `json:"keywords,omitempty" yaml:"keywords"`

	parent   *PTM
	children []*PTM
}

// Parent returns the parent node, or nil for a root.
func (p *PTM) Parent() *PTM { return p.parent }

// Children returns the direct children of p.
func (p *PTM) Children() []*PTM { return p.children }

// IsAncestorOf reports whether p is a strict ancestor of q.
func (p *PTM) IsAncestorOf(q *PTM) bool {
	for n := q.parent; n != nil; n = n.parent {
		if n.ID == p.ID {
			return true
		}
	}
	return false
}

// Targets returns the residues p or any descendant applies to.
func (p *PTM) Targets() map[string]bool {
	out := map[string]bool{}
	var walk func(n *PTM)
	walk = func(n *PTM) {
		if n.Target != "" {
			out[n.Target] = true
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(p)
	return out
}

// HasTarget reports whether p or a descendant targets residue.
func (p *PTM) HasTarget(residue string) bool {
	return p.Targets()[strings.ToUpper(residue)]
}

// HasTaxon reports whether any of p's own taxons appears in taxons.
func (p *PTM) HasTaxon(taxons []string) bool {
	want := make(map[string]bool, len(taxons))
	for _, t := range taxons {
		want[strings.ToLower(t)] = true
	}
	for _, t := range p.Taxons {
		if want[strings.ToLower(t)] {
			return true
		}
	}
	return false
}

func (p *PTM) hasKeyword(key string) bool {
	key = strings.ToLower(key)
	for _, k := range p.Keywords {
		if strings.ToLower(k) == key {
			return true
		}
	}
	return false
}

// Registry is the in-memory PTM tree, built once from stored records.
type Registry struct {
	all  []*PTM
	byID map[string]*PTM
}

// NewRegistry links records into a tree. Every ParentID must name another
// record.
func NewRegistry(records []PTM) (*Registry, error) {
	r := &Registry{byID: make(map[string]*PTM, len(records))}
	for i := range records {
		p := records[i]
		p.parent, p.children = nil, nil
		p.Target = strings.ToUpper(p.Target)
		r.all = append(r.all, &p)
		r.byID[p.ID] = &p
	}
	for _, p := range r.all {
		if p.ParentID == "" {
			continue
		}
		parent, ok := r.byID[p.ParentID]
		if !ok {
			return nil, fmt.Errorf("ptm %s: unknown parent %s", p.ID, p.ParentID)
		}
		p.parent = parent
		parent.children = append(parent.children, p)
	}
	return r, nil
}

// Get returns the PTM with the given id.
func (r *Registry) Get(id string) (*PTM, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// Len returns the number of records in the registry.
func (r *Registry) Len() int { return len(r.all) }

// Match is the outcome of looking a modification name up.
type Match struct {
	Mods           []*PTM
	Exists         bool
	MatchesResidue bool
}

// FindMatching returns the PTMs whose name, accession or keyword equals
// modType, narrowed to those that can target residue and finally to those
// annotated with one of taxons (or with no taxons at all).
func (r *Registry) FindMatching(modType, residue string, taxons []string) Match {
	if modType == "None" {
		return Match{}
	}
	var mods []*PTM
	for _, p := range r.all {
		if p.Accession == modType || p.Name == modType || p.hasKeyword(modType) {
			mods = append(mods, p)
		}
	}
	m := Match{Exists: len(mods) > 0}

	if residue != "" {
		mods = filter(mods, func(p *PTM) bool { return p.HasTarget(residue) })
	}
	m.MatchesResidue = len(mods) > 0

	if len(taxons) > 0 {
		mods = filter(mods, func(p *PTM) bool { return p.HasTaxon(taxons) || len(p.Taxons) == 0 })
	}
	m.Mods = mods
	return m
}

// Resolve picks the single PTM that modType denotes on residue. When several
// records match exactly and parent types are among the candidates, the most
// specific descendant of their common root that still targets residue wins.
// Several exact matches without any parent type is reported as ambiguous.
func (r *Registry) Resolve(modType, residue string, taxons []string) (*PTM, error) {
	residue = strings.ToUpper(residue)
	m := r.FindMatching(modType, residue, taxons)
	species := speciesName(taxons)

	if len(m.Mods) == 0 {
		switch {
		case !m.Exists:
			return nil, newError(KindNotValid, "Warning: Specified modification '%s' is not valid", modType)
		case !m.MatchesResidue:
			return nil, newError(KindWrongResidue, "Warning: Specified modification '%s' does not match residue '%s' for any known species", modType, residue)
		default:
			return nil, newError(KindWrongSpecies, "Warning: Specified modification '%s' does not match residue '%s' for specified species '%s'", modType, residue, species)
		}
	}

	var matches, parents []*PTM
	for _, p := range m.Mods {
		switch p.Target {
		case residue:
			matches = append(matches, p)
		case "":
			parents = append(parents, p)
		}
	}
	if len(matches) == 0 {
		return nil, newError(KindWrongSpecies, "Warning: Specified modification '%s' does not match residue '%s' for specified species '%s'", modType, residue, species)
	}
	if len(matches) == 1 {
		return matches[0], nil
	}
	if len(parents) == 0 {
		return nil, newError(KindAmbiguous, "Warning: Specified modification '%s' has multiple possible types for amino-acid '%s'", modType, residue)
	}
	root, err := findRoot(parents)
	if err != nil {
		return nil, err
	}
	return mostSpecific(root, residue), nil
}

// ResolveResidues resolves a modification cell against a list of modified
// residues. A single name applies to every residue; otherwise there must be
// exactly one name per residue.
func (r *Registry) ResolveResidues(residues []accession.Site, modification string, taxons []string) ([]*PTM, error) {
	names := strings.Split(modification, Separator)
	for i := range names {
		names[i] = strings.TrimSpace(names[i])
	}
	if len(names) > 1 && len(names) != len(residues) {
		return nil, newError(KindCount, "Warning: Not enough modifications types specified for modified amino acids in peptide (%d for %d)", len(names), len(residues))
	}
	out := make([]*PTM, 0, len(residues))
	for i, site := range residues {
		name := names[0]
		if len(names) > 1 {
			name = names[i]
		}
		p, err := r.Resolve(name, string(site.Residue), taxons)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ResolvePeptide resolves the modifications of a peptide whose modified
// residues are written in lowercase.
func (r *Registry) ResolvePeptide(peptide, modification string, taxons []string) ([]accession.Site, []*PTM, error) {
	residues := accession.ModifiedResidues(peptide)
	if len(residues) == 0 {
		return nil, nil, newError(KindNoModifiedResidues, "Warning: no modified residues were specified in peptide '%s', you must specify at least one modified residue in lower-case", peptide)
	}
	mods, err := r.ResolveResidues(residues, modification, taxons)
	return residues, mods, err
}

// ResolveSites resolves the modifications of a normalized site list.
func (r *Registry) ResolveSites(sites, modification string, taxons []string) ([]accession.Site, []*PTM, error) {
	parsed, err := accession.ParseSites(sites)
	if err != nil {
		return nil, nil, err
	}
	mods, err := r.ResolveResidues(parsed, modification, taxons)
	return parsed, mods, err
}

func findRoot(parents []*PTM) (*PTM, error) {
	for _, p1 := range parents {
		root := true
		for _, p2 := range parents {
			if p1.ID != p2.ID && !p1.IsAncestorOf(p2) {
				root = false
				break
			}
		}
		if root {
			return p1, nil
		}
	}
	return nil, newError(KindNoRoot, "Unexpected error: parser encountered multiple possible parent modification type assignments without any root node")
}

func mostSpecific(p *PTM, residue string) *PTM {
	var valid []*PTM
	for _, c := range p.children {
		if c.HasTarget(residue) {
			valid = append(valid, c)
		}
	}
	if len(valid) != 1 {
		return p
	}
	return mostSpecific(valid[0], residue)
}

func speciesName(taxons []string) string {
	if len(taxons) == 0 {
		return "None"
	}
	return taxons[len(taxons)-1]
}

func filter(in []*PTM, keep func(*PTM) bool) []*PTM {
	var out []*PTM
	for _, p := range in {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}
