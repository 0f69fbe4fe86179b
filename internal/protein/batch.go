package protein

import (
	"sort"

	"github.com/dharsanguruparan/ptmscout/internal/accession"
)

// Batch size limits of the external databases.
const (
	MaxNCBIBatch    = 400
	MaxUniProtBatch = 200

	groupPrefix = 6
)

// Batches are the lookups needed to resolve a set of accessions.
type Batches struct {
	NCBI    [][]string
	UniProt [][]string
}

// Len is the total number of lookups.
func (b Batches) Len() int { return len(b.NCBI) + len(b.UniProt) }

// Plan splits accessions between NCBI and UniProt and chunks each side.
// UniProt chunks keep accessions sharing a six character prefix together so
// isoforms are fetched with their canonical entry.
func Plan(accs []string) Batches {
	uni, other := accession.SplitUniProt(accs)
	uni = append([]string(nil), uni...)
	other = append([]string(nil), other...)
	sort.Strings(uni)
	sort.Strings(other)
	return Batches{
		NCBI:    Chunk(other, MaxNCBIBatch),
		UniProt: ChunkGroups(uni, MaxUniProtBatch),
	}
}

// Chunk splits items into consecutive slices of at most size items.
func Chunk(items []string, size int) [][]string {
	var out [][]string
	for len(items) > 0 {
		n := size
		if n > len(items) {
			n = len(items)
		}
		out = append(out, items[:n])
		items = items[n:]
	}
	return out
}

// ChunkGroups chunks sorted items like Chunk but never splits a run of items
// sharing the same prefix, unless that run alone exceeds size.
func ChunkGroups(items []string, size int) [][]string {
	var groups [][]string
	for _, it := range items {
		if n := len(groups); n > 0 && prefix(groups[n-1][len(groups[n-1])-1]) == prefix(it) {
			groups[n-1] = append(groups[n-1], it)
			continue
		}
		groups = append(groups, []string{it})
	}

	var out [][]string
	var cur []string
	for _, g := range groups {
		if len(cur)+len(g) <= size {
			cur = append(cur, g...)
			continue
		}
		if len(cur) > 0 {
			out = append(out, cur)
		}
		cur = g
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

func prefix(s string) string {
	if len(s) > groupPrefix {
		return s[:groupPrefix]
	}
	return s
}
