// Package accession recognizes protein accession formats and normalizes the
// site and peptide strings found in uploaded data files.
package accession

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Type names an accession format.
type Type string

const (
	GI        Type = "gi"
	RefSeq    Type = "refseq"
	SwissProt Type = "swissprot"
	GenBank   Type = "genbank"
	IPI       Type = "ipi"
	Ensembl   Type = "ensembl"
	UniProt   Type = "uniprot"
	Unknown   Type = ""
)

// ErrBadSites is returned when a site list cannot be normalized.
var ErrBadSites = errors.New("invalid site list")

var patterns = []struct {
	re *regexp.Regexp
	tp Type
}{
	{regexp.MustCompile(`^gi`), GI},
	{regexp.MustCompile(`^[NXZ]P_\d+`), RefSeq},
	{regexp.MustCompile(`^[OPQ]\d...\d([.\-]\d+)?$`), SwissProt},
	{regexp.MustCompile(`^[A-NR-Z]\d[A-Z]..\d([.\-]\d+)?$`), SwissProt},
	{regexp.MustCompile(`^[A-Z]{3}\d{5}$`), GenBank},
	{regexp.MustCompile(`^IPI\d+(\.\d+)?$`), IPI},
	{regexp.MustCompile(`^ENS`), Ensembl},
}

var valid = map[Type]bool{
	GI: true, RefSeq: true, SwissProt: true, GenBank: true, UniProt: true, IPI: true, Ensembl: true,
}

var uniprotPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^[A-NR-Z]\d[A-Z]..\d([.\-]\d+)?$`),
	regexp.MustCompile(`^[OPQ]\d...\d([.\-]\d+)?$`),
}

// Detect returns the format of acc, or Unknown.
func Detect(acc string) Type {
	for _, p := range patterns {
		if p.re.MatchString(acc) {
			return p.tp
		}
	}
	return Unknown
}

// Valid reports whether acc has a format the importer can resolve.
func Valid(acc string) bool {
	return valid[Detect(acc)]
}

// IsUniProt reports whether acc is resolved through UniProt rather than NCBI.
func IsUniProt(acc string) bool {
	for _, re := range uniprotPatterns {
		if re.MatchString(acc) {
			return true
		}
	}
	return false
}

// SplitUniProt partitions accessions into UniProt and other accessions,
// preserving input order.
func SplitUniProt(accs []string) (uniprot, other []string) {
	for _, acc := range accs {
		if IsUniProt(acc) {
			uniprot = append(uniprot, acc)
		} else {
			other = append(other, acc)
		}
	}
	return uniprot, other
}

// Site is a single modified residue at a 1-based position.
type Site struct {
	Residue  byte
	Position int
}

func (s Site) String() string {
	return fmt.Sprintf("%c%d", s.Residue, s.Position)
}

// ParseSites parses a semicolon separated list such as "S10; T12".
func ParseSites(sites string) ([]Site, error) {
	var out []Site
	for _, part := range strings.Split(sites, ";") {
		part = strings.TrimSpace(part)
		if len(part) < 2 {
			return nil, fmt.Errorf("%w: %q", ErrBadSites, sites)
		}
		residue := part[0]
		if residue < 'A' || residue > 'Z' {
			return nil, fmt.Errorf("%w: residue %q", ErrBadSites, residue)
		}
		pos, err := strconv.Atoi(part[1:])
		if err != nil || pos <= 0 {
			return nil, fmt.Errorf("%w: position %q", ErrBadSites, part[1:])
		}
		out = append(out, Site{Residue: residue, Position: pos})
	}
	return out, nil
}

// NormalizeSiteList re-renders a site list in canonical "S10;T12" form.
func NormalizeSiteList(sites string) (string, error) {
	parsed, err := ParseSites(sites)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(parsed))
	for i, s := range parsed {
		parts[i] = s.String()
	}
	return strings.Join(parts, ";"), nil
}

// CheckPeptideAlphabet reports whether every residue of pep is a letter.
// Lowercase letters mark modified residues and are accepted.
func CheckPeptideAlphabet(pep string) bool {
	for _, r := range strings.ToUpper(pep) {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// ModifiedResidues returns the 0-based index and uppercase residue of every
// lowercase (modified) residue of pep.
func ModifiedResidues(pep string) []Site {
	var out []Site
	for i := 0; i < len(pep); i++ {
		c := pep[i]
		if c >= 'a' && c <= 'z' {
			out = append(out, Site{Residue: c - 'a' + 'A', Position: i})
		}
	}
	return out
}
