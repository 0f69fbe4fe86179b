// Package annotate derives the per-site and per-protein annotation columns
// attached to measured peptides: nearby modifications and mutations, the
// domains and regions covering each site and the protein's GO terms.
package annotate

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dharsanguruparan/ptmscout/internal/model"
)

const (
	// Separator joins multi-valued cells.
	Separator = "; "
	// AltSeparator joins cells whose values may themselves contain ';'.
	AltSeparator = "| "
	// NearbyWindow is the number of residues either side of a site that
	// count as nearby.
	NearbyWindow = 7
)

// Region type vocabularies used to bucket protein regions.
var (
	UniProtDomainTypes  = []string{"domain"}
	KinaseLoopTypes     = []string{"Activation Loop"}
	MacroMolecularTypes = []string{"zinc finger region", "intramembrane region", "coiled-coil region", "transmembrane region"}
	TopologicalTypes    = []string{"topological domain"}
	StructureTypes      = []string{"helix", "turn", "strand"}
)

// Measurement computes the annotation values of ms in model.AnnotationHeader
// order. siblings are every measured peptide recorded on the same protein,
// across experiments, and may include ms itself.
func Measurement(ms *model.MeasuredPeptide, prot *model.Protein, siblings []*model.MeasuredPeptide) []string {
	sites := sitePositions(ms)
	if len(sites) == 0 {
		return make([]string, len(model.AnnotationHeader))
	}
	lo, hi := sites[0]-NearbyWindow, sites[len(sites)-1]+NearbyWindow

	mutations := nearbyMutations(prot.Mutations, lo, hi)
	goTerms := goByAspect(prot.GOTerms)

	return []string{
		strings.Join(nearbyModifications(siblings, lo, hi), Separator),
		FormatMutations(mutations),
		FormatMutationAnnotations(mutations),
		FormatDomains(domainsAtSites(prot.Domains, sites)),
		FormatRegionsAsDomains(regionsAtSites(prot.Regions, sites, UniProtDomainTypes)),
		FormatRegionsAsDomains(regionsAtSites(prot.Regions, sites, KinaseLoopTypes)),
		FormatRegions(regionsAtSites(prot.Regions, sites, MacroMolecularTypes)),
		FormatRegionsAsDomains(regionsAtSites(prot.Regions, sites, TopologicalTypes)),
		FormatRegions(regionsAtSites(prot.Regions, sites, StructureTypes)),
		FormatDomains(prot.Domains),
		FormatRegionsAsDomains(filterRegions(prot.Regions, UniProtDomainTypes)),
		strings.Join(goTerms["P"], Separator),
		strings.Join(goTerms["C"], Separator),
		strings.Join(goTerms["F"], Separator),
	}
}

func sitePositions(ms *model.MeasuredPeptide) []int {
	out := make([]int, 0, len(ms.Peptides))
	for _, mp := range ms.Peptides {
		out = append(out, mp.Peptide.SitePos)
	}
	sort.Ints(out)
	return out
}

type nearbyMod struct {
	pos  int
	tp   string
	name string
}

func nearbyModifications(siblings []*model.MeasuredPeptide, lo, hi int) []string {
	seen := map[nearbyMod]bool{}
	var mods []nearbyMod
	for _, other := range siblings {
		for _, mp := range other.Peptides {
			pos := mp.Peptide.SitePos
			if pos < lo || pos > hi || mp.Modification == "" {
				continue
			}
			k := nearbyMod{pos: pos, tp: mp.Peptide.SiteType, name: mp.Modification}
			if !seen[k] {
				seen[k] = true
				mods = append(mods, k)
			}
		}
	}
	sort.Slice(mods, func(i, j int) bool {
		if mods[i].pos != mods[j].pos {
			return mods[i].pos < mods[j].pos
		}
		if mods[i].tp != mods[j].tp {
			return mods[i].tp < mods[j].tp
		}
		return mods[i].name < mods[j].name
	})
	out := make([]string, len(mods))
	for i, m := range mods {
		out[i] = fmt.Sprintf("%s%d: %s", m.tp, m.pos, m.name)
	}
	return out
}

func nearbyMutations(mutations []model.Mutation, lo, hi int) []model.Mutation {
	var out []model.Mutation
	for _, m := range mutations {
		if lo < m.Location && m.Location < hi {
			out = append(out, m)
		}
	}
	return out
}

func goByAspect(terms []model.GOTerm) map[string][]string {
	out := map[string][]string{}
	seen := map[string]bool{}
	for _, t := range terms {
		if seen[t.Aspect+t.GO] {
			continue
		}
		seen[t.Aspect+t.GO] = true
		out[t.Aspect] = append(out[t.Aspect], t.GO)
	}
	for _, v := range out {
		sort.Strings(v)
	}
	return out
}

func covers(start, stop, pos int) bool {
	return start <= pos && (stop <= 0 || pos <= stop)
}

func domainsAtSites(domains []model.Domain, sites []int) []model.Domain {
	var out []model.Domain
	for _, d := range domains {
		for _, pos := range sites {
			if covers(d.Start, d.Stop, pos) {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

func hasType(tp string, types []string) bool {
	for _, t := range types {
		if t == tp {
			return true
		}
	}
	return false
}

func regionsAtSites(regions []model.Region, sites []int, types []string) []model.Region {
	var out []model.Region
	for _, r := range regions {
		if !hasType(r.Type, types) {
			continue
		}
		for _, pos := range sites {
			if covers(r.Start, r.Stop, pos) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func filterRegions(regions []model.Region, types []string) []model.Region {
	var out []model.Region
	for _, r := range regions {
		if hasType(r.Type, types) {
			out = append(out, r)
		}
	}
	return out
}

func stop(v int) string {
	if v <= 0 {
		return "?"
	}
	return strconv.Itoa(v)
}

// FormatDomain renders a domain as label:start-stop.
func FormatDomain(d model.Domain) string {
	return fmt.Sprintf("%s:%d-%s", d.Label, d.Start, stop(d.Stop))
}

// FormatRegion renders a region as type:label:start-stop, or type:start-stop
// when it has no label. Separator characters inside labels are replaced.
func FormatRegion(r model.Region) string {
	label := strings.Trim(strings.TrimSpace(r.Label), ";")
	label = strings.ReplaceAll(label, ";", "|")
	tp := strings.TrimSpace(r.Type)
	if label == "" {
		return fmt.Sprintf("%s:%d-%s", tp, r.Start, stop(r.Stop))
	}
	return fmt.Sprintf("%s:%s:%d-%s", tp, label, r.Start, stop(r.Stop))
}

// FormatDomains joins domains by start position.
func FormatDomains(domains []model.Domain) string {
	sorted := append([]model.Domain(nil), domains...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	parts := make([]string, len(sorted))
	for i, d := range sorted {
		parts[i] = FormatDomain(d)
	}
	return strings.Join(parts, Separator)
}

// FormatRegions joins regions by start position.
func FormatRegions(regions []model.Region) string {
	sorted := sortRegions(regions)
	parts := make([]string, len(sorted))
	for i, r := range sorted {
		parts[i] = FormatRegion(r)
	}
	return strings.Join(parts, Separator)
}

// FormatRegionsAsDomains renders regions with the shorter domain format.
func FormatRegionsAsDomains(regions []model.Region) string {
	sorted := sortRegions(regions)
	parts := make([]string, len(sorted))
	for i, r := range sorted {
		parts[i] = FormatDomain(model.Domain{Label: r.Label, Start: r.Start, Stop: r.Stop})
	}
	return strings.Join(parts, Separator)
}

func sortRegions(regions []model.Region) []model.Region {
	sorted := append([]model.Region(nil), regions...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	return sorted
}

func sortMutations(mutations []model.Mutation) []model.Mutation {
	sorted := append([]model.Mutation(nil), mutations...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Location < sorted[j].Location })
	return sorted
}

// FormatMutations renders mutations as original, location and mutant, e.g. S10A.
func FormatMutations(mutations []model.Mutation) string {
	sorted := sortMutations(mutations)
	parts := make([]string, len(sorted))
	for i, m := range sorted {
		parts[i] = fmt.Sprintf("%s%d%s", m.Original, m.Location, m.Mutant)
	}
	return strings.Join(parts, Separator)
}

// FormatMutationAnnotations joins the free text notes of mutations.
func FormatMutationAnnotations(mutations []model.Mutation) string {
	sorted := sortMutations(mutations)
	parts := make([]string, len(sorted))
	for i, m := range sorted {
		parts[i] = m.Annotation
	}
	return strings.Join(parts, AltSeparator)
}

// Loop labels for predicted kinase activation loops.
const (
	KinaseLoopLabel         = "Kinase Activation Loop"
	PossibleKinaseLoopLabel = "Possible Kinase Activation Loop"

	maxLoopLength = 35
)

var (
	kinaseDomains = map[string]bool{"pkinase": true, "pkinase_tyr": true}
	loopStart     = regexp.MustCompile(`D[FPLY]G`)
	loopStop      = regexp.MustCompile(`[ASP][PILW][ED]`)
)

// ActivationLoops predicts activation loop regions inside the kinase domains
// of prot, from the DFG motif to the APE motif.
func ActivationLoops(prot *model.Protein) []model.Region {
	var out []model.Region
	for _, d := range prot.Domains {
		if !kinaseDomains[strings.ToLower(d.Label)] {
			continue
		}
		if d.Start < 1 || d.Stop > len(prot.Sequence) || d.Stop < d.Start {
			continue
		}
		seq := prot.Sequence[d.Start-1 : d.Stop]
		m1 := loopStart.FindStringIndex(seq)
		if m1 == nil {
			continue
		}
		rest := seq[m1[1]:]
		m2 := loopStop.FindStringIndex(rest)
		if m2 == nil {
			continue
		}
		label := KinaseLoopLabel
		if m2[0] > maxLoopLength {
			label = PossibleKinaseLoopLabel
		}
		out = append(out, model.Region{
			Type:   "Activation Loop",
			Label:  label,
			Start:  d.Start + m1[1] - 3,
			Stop:   d.Start + m1[1] + m2[0] - 1 + 3,
			Source: "predicted",
		})
	}
	return out
}
