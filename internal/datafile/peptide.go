package datafile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dharsanguruparan/ptmscout/internal/accession"
)

// Window is the number of residues kept on each side of a modified site.
const Window = 7

var (
	ErrPeptideNotFound  = errors.New("Warning: Peptide sequence not found in protein sequence")
	ErrPeptideAmbiguous = errors.New("Warning: Peptide sequence ambguity, peptide matches multiple positions in protein sequence")
)

// AlignedSite is one modified residue located on a protein.
type AlignedSite struct {
	Position int    `json:"position"`
	Aligned  string `json:"aligned"`
	Residue  string `json:"residue"`
}

// LocatePeptide returns the 0-based offset of pep in prot. The peptide must
// occur exactly once.
func LocatePeptide(prot, pep string) (int, error) {
	upper := strings.ToUpper(strings.TrimSpace(pep))
	idx := strings.Index(prot, upper)
	if idx == -1 {
		return -1, ErrPeptideNotFound
	}
	if strings.Contains(prot[idx+1:], upper) {
		return -1, ErrPeptideAmbiguous
	}
	return idx, nil
}

// AlignPeptides builds the site window for each modified residue index of
// pep, which starts at offset in prot. Windows running off either end of the
// protein are padded with spaces so the site stays at index Window.
func AlignPeptides(modified []int, offset int, pep, prot string) []AlignedSite {
	out := make([]AlignedSite, 0, len(modified))
	for _, i := range modified {
		site := i + offset
		low := site - Window
		if low < 0 {
			low = 0
		}
		high := site + Window + 1
		if high > len(prot) {
			high = len(prot)
		}
		var b strings.Builder
		if pad := Window - site; pad > 0 {
			b.WriteString(strings.Repeat(" ", pad))
		}
		b.WriteString(prot[low:site])
		b.WriteByte(pep[i])
		if site+1 < high {
			b.WriteString(prot[site+1 : high])
		}
		if pad := site + Window + 1 - len(prot); pad > 0 {
			b.WriteString(strings.Repeat(" ", pad))
		}
		out = append(out, AlignedSite{
			Position: site + 1,
			Aligned:  b.String(),
			Residue:  strings.ToUpper(string(pep[i])),
		})
	}
	return out
}

// PeptideFromSites renders the whole protein as a peptide with the listed
// sites in lowercase, after checking each site against the sequence.
func PeptideFromSites(prot string, sites []accession.Site) (string, error) {
	upper := []byte(strings.ToUpper(prot))
	for _, s := range sites {
		if s.Position > len(upper) {
			return "", fmt.Errorf("Protein (length %d) does not have site %d", len(upper), s.Position)
		}
		if upper[s.Position-1] != s.Residue {
			return "", fmt.Errorf("Designated residue site pair did not match protein sequence %s != %c%d", s, upper[s.Position-1], s.Position)
		}
	}
	for _, s := range sites {
		upper[s.Position-1] = s.Residue - 'A' + 'a'
	}
	return string(upper), nil
}

// ModifiedIndexes returns the 0-based indexes of the lowercase residues.
func ModifiedIndexes(pep string) []int {
	residues := accession.ModifiedResidues(pep)
	out := make([]int, len(residues))
	for i, r := range residues {
		out[i] = r.Position
	}
	return out
}
