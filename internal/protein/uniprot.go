package protein

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/dharsanguruparan/ptmscout/internal/model"
)

// UniProtClient resolves UniProt accessions, isoforms included, through the
// UniProt REST API.
type UniProtClient struct {
	baseURL string
	http    *resty.Client
}

// NewUniProtClient constructs a client for the UniProt REST API at baseURL.
func NewUniProtClient(baseURL string) *UniProtClient {
	return &UniProtClient{baseURL: strings.TrimRight(baseURL, "/"), http: newHTTPClient()}
}

var isoformAccession = regexp.MustCompile(`^([A-Za-z0-9]+)-(\d+)$`)

type uniprotValue struct {
	Value string `json:"value"`
}

type uniprotPosition struct {
	Value    *int   `json:"value"`
	Modifier string `json:"modifier"`
}

type uniprotAltSequence struct {
	OriginalSequence     string   `json:"originalSequence"`
	AlternativeSequences []string `json:"alternativeSequences"`
}

type uniprotXref struct {
	Database string `json:"database"`
	ID       string `json:"id"`
}

type uniprotEntry struct {
	PrimaryAccession    string   `json:"primaryAccession"`
	SecondaryAccessions []string `json:"secondaryAccessions"`
	UniProtkbID         string   `json:"uniProtkbId"`
	ProteinDescription  struct {
		RecommendedName *struct {
			FullName uniprotValue `json:"fullName"`
		} `json:"recommendedName"`
		SubmissionNames []struct {
			FullName uniprotValue `json:"fullName"`
		} `json:"submissionNames"`
	} `json:"proteinDescription"`
	Genes []struct {
		GeneName *uniprotValue `json:"geneName"`
		Synonyms []uniprotValue `json:"synonyms"`
	} `json:"genes"`
	Organism struct {
		ScientificName string   `json:"scientificName"`
		Lineage        []string `json:"lineage"`
	} `json:"organism"`
	Sequence uniprotValue `json:"sequence"`
	Features []struct {
		Type        string `json:"type"`
		Description string `json:"description"`
		Location    struct {
			Start uniprotPosition `json:"start"`
			End   uniprotPosition `json:"end"`
		} `json:"location"`
		AlternativeSequence    *uniprotAltSequence `json:"alternativeSequence"`
		FeatureCrossReferences []uniprotXref        `json:"featureCrossReferences"`
	} `json:"features"`
	CrossReferences []struct {
		Database   string `json:"database"`
		ID         string `json:"id"`
		Properties []struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		} `json:"properties"`
	} `json:"uniProtKBCrossReferences"`
}

type uniprotSearch struct {
	Results []uniprotEntry `json:"results"`
}

// regionTypes maps UniProt feature types onto the stored region vocabulary.
// Feature types absent from the map are not stored.
var regionTypes = map[string]string{
	"Domain":             "domain",
	"Region":             "region of interest",
	"Repeat":             "repeat",
	"Motif":              "short sequence motif",
	"Zinc finger":        "zinc finger region",
	"Transmembrane":      "transmembrane region",
	"Intramembrane":      "intramembrane region",
	"Coiled coil":        "coiled-coil region",
	"Topological domain": "topological domain",
	"Helix":              "helix",
	"Turn":               "turn",
	"Beta strand":        "strand",
	"Signal":             "signal peptide",
	"Transit peptide":    "transit peptide",
	"Propeptide":         "propeptide",
	"Binding site":       "binding site",
	"Active site":        "active site",
	"DNA binding":        "DNA-binding region",
}

// Fetch resolves accs. Isoform accessions (ROOT-N) are resolved together with
// their canonical entry.
func (c *UniProtClient) Fetch(ctx context.Context, accs []string) (map[string]*Record, error) {
	out := map[string]*Record{}
	if len(accs) == 0 {
		return out, nil
	}

	roots := map[string]bool{}
	var query []string
	for _, acc := range accs {
		root := acc
		if m := isoformAccession.FindStringSubmatch(acc); m != nil {
			root = m[1]
		}
		if !roots[root] {
			roots[root] = true
			query = append(query, "accession:"+root)
		}
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"query":  strings.Join(query, " OR "),
			"format": "json",
			"size":   strconv.Itoa(len(query) + 10),
		}).
		Get(c.baseURL + "/uniprotkb/search")
	if err != nil {
		return nil, fmt.Errorf("uniprot search: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("uniprot search: unexpected status %d", resp.StatusCode())
	}
	var result uniprotSearch
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("uniprot search: decode: %w", err)
	}

	byAccession := map[string]*uniprotEntry{}
	for i := range result.Results {
		e := &result.Results[i]
		byAccession[e.PrimaryAccession] = e
		for _, sec := range e.SecondaryAccessions {
			if _, taken := byAccession[sec]; !taken {
				byAccession[sec] = e
			}
		}
	}

	for _, acc := range accs {
		if m := isoformAccession.FindStringSubmatch(acc); m != nil {
			e, ok := byAccession[m[1]]
			if !ok {
				continue
			}
			rec, err := c.isoform(ctx, acc, e)
			if err != nil {
				return nil, err
			}
			if rec != nil {
				out[acc] = rec
			}
			continue
		}
		if e, ok := byAccession[acc]; ok {
			out[acc] = e.record(acc)
		}
	}
	return out, nil
}

func (c *UniProtClient) isoform(ctx context.Context, acc string, root *uniprotEntry) (*Record, error) {
	resp, err := c.http.R().SetContext(ctx).Get(c.baseURL + "/uniprotkb/" + acc + ".fasta")
	if err != nil {
		return nil, fmt.Errorf("uniprot isoform %s: %w", acc, err)
	}
	if resp.StatusCode() == 404 || resp.StatusCode() == 400 {
		return nil, nil
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("uniprot isoform %s: unexpected status %d", acc, resp.StatusCode())
	}
	entries, err := ParseFasta(bytes.NewReader(resp.Body()))
	if err != nil || len(entries) == 0 {
		return nil, nil
	}
	base := root.record(acc)
	name := base.Name
	if m := isoformName.FindString(entries[0].Description); m != "" {
		name = fmt.Sprintf("%s (%s)", base.Name, m)
	}
	return &Record{
		QueryAccession: acc,
		Name:           name,
		Gene:           base.Gene,
		Locus:          base.Locus,
		Species:        base.Species,
		Taxonomy:       base.Taxonomy,
		Sequence:       entries[0].Sequence,
		Accessions:     []Accession{{Type: "swissprot", Value: acc}},
	}, nil
}

var isoformName = regexp.MustCompile(`[Ii]soform \S+`)

func (e *uniprotEntry) name() string {
	if e.ProteinDescription.RecommendedName != nil {
		return e.ProteinDescription.RecommendedName.FullName.Value
	}
	if len(e.ProteinDescription.SubmissionNames) > 0 {
		return e.ProteinDescription.SubmissionNames[0].FullName.Value
	}
	return e.UniProtkbID
}

func (e *uniprotEntry) record(acc string) *Record {
	species := ScientificName(e.Organism.ScientificName)
	r := &Record{
		QueryAccession: acc,
		Name:           e.name(),
		Locus:          e.UniProtkbID,
		Species:        species,
		Sequence:       strings.ToUpper(strings.TrimSpace(e.Sequence.Value)),
	}
	for _, t := range e.Organism.Lineage {
		r.Taxonomy = append(r.Taxonomy, strings.ToLower(t))
	}
	r.Taxonomy = append(r.Taxonomy, strings.ToLower(species))

	r.Accessions = append(r.Accessions,
		Accession{Type: "swissprot", Value: e.PrimaryAccession},
		Accession{Type: "swissprot", Value: e.UniProtkbID},
	)
	if len(e.Genes) > 0 {
		if e.Genes[0].GeneName != nil {
			r.Gene = e.Genes[0].GeneName.Value
		}
		for _, syn := range e.Genes[0].Synonyms {
			r.Accessions = append(r.Accessions, Accession{Type: "gene_synonym", Value: syn.Value})
		}
	}
	for _, sec := range e.SecondaryAccessions {
		r.Accessions = append(r.Accessions, Accession{Type: "swissprot", Value: sec})
	}

	for _, f := range e.Features {
		if f.Location.Start.Value == nil {
			continue
		}
		start := *f.Location.Start.Value
		stop := 0
		if f.Location.End.Value != nil {
			stop = *f.Location.End.Value
		}
		if f.Type == "Natural variant" {
			if m, ok := variant(start, stop, f.Description, f.AlternativeSequence, f.FeatureCrossReferences); ok {
				r.Mutations = append(r.Mutations, m)
			}
			continue
		}
		tp, ok := regionTypes[f.Type]
		if !ok {
			continue
		}
		r.Regions = append(r.Regions, model.Region{Type: tp, Label: f.Description, Start: start, Stop: stop, Source: "uniprot"})
	}

	for _, x := range e.CrossReferences {
		if x.Database != "GO" {
			continue
		}
		for _, p := range x.Properties {
			if p.Key != "GoTerm" {
				continue
			}
			aspect, term, ok := strings.Cut(p.Value, ":")
			if ok {
				r.GOTerms = append(r.GOTerms, model.GOTerm{GO: x.ID, Term: term, Aspect: aspect})
			}
		}
	}
	return r
}

func variant(start, stop int, description string, alt *uniprotAltSequence, xrefs []uniprotXref) (model.Mutation, bool) {
	if alt == nil {
		return model.Mutation{}, false
	}
	original := strings.ToUpper(strings.TrimSpace(alt.OriginalSequence))
	mutant := ""
	if len(alt.AlternativeSequences) > 0 {
		mutant = strings.ToUpper(strings.TrimSpace(alt.AlternativeSequences[0]))
	}
	length := 1
	if stop >= start {
		length = stop - start + 1
	}

	tp := "Other"
	switch {
	case length == 1 && len(mutant) == 1:
		tp = SingleSubstitution
	case length > 1 || len(mutant) > 1:
		tp = "Substitution (multiple)"
	}

	var id string
	for _, x := range xrefs {
		if x.Database == "dbSNP" {
			id = x.ID
			break
		}
	}
	annotation := description
	switch {
	case id != "" && description != "":
		annotation = fmt.Sprintf("%s (%s)", id, description)
	case id != "":
		annotation = id
	}
	return model.Mutation{Type: tp, Location: start, Original: original, Mutant: mutant, Annotation: annotation}, true
}
