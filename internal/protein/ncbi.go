package protein

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dharsanguruparan/ptmscout/internal/accession"
)

// NCBIClient resolves RefSeq, GenBank and other non-UniProt accessions
// through the Entrez efetch endpoint.
type NCBIClient struct {
	baseURL string
	email   string
	http    *resty.Client
}

// NewNCBIClient constructs a client for the Entrez utilities at baseURL.
func NewNCBIClient(baseURL, email string) *NCBIClient {
	return &NCBIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		email:   email,
		http:    newHTTPClient(),
	}
}

func newHTTPClient() *resty.Client {
	return resty.New().
		SetTimeout(60 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r.StatusCode() == 429 || (r.StatusCode() >= 500 && r.StatusCode() <= 504)
		})
}

var ncbiSpecies = regexp.MustCompile(`^(.*?)\s*\[([^\[\]]+)\]$`)

func stripVersion(acc string) string {
	if i := strings.LastIndexByte(acc, '.'); i > 0 {
		return acc[:i]
	}
	return acc
}

// Fetch resolves accs. Returned records are keyed by the accession exactly
// as requested.
func (c *NCBIClient) Fetch(ctx context.Context, accs []string) (map[string]*Record, error) {
	out := map[string]*Record{}
	if len(accs) == 0 {
		return out, nil
	}
	params := map[string]string{
		"db":      "protein",
		"id":      strings.Join(accs, ","),
		"rettype": "fasta",
		"retmode": "text",
	}
	if c.email != "" {
		params["email"] = c.email
	}
	resp, err := c.http.R().SetContext(ctx).SetQueryParams(params).Get(c.baseURL + "/efetch.fcgi")
	if err != nil {
		return nil, fmt.Errorf("ncbi efetch: %w", err)
	}
	if resp.StatusCode() == 400 {
		return out, nil
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("ncbi efetch: unexpected status %d", resp.StatusCode())
	}
	entries, err := ParseFasta(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("ncbi efetch: parse fasta: %w", err)
	}

	byID := map[string]FastaEntry{}
	for _, e := range entries {
		id := e.ID
		if parts := strings.Split(id, "|"); len(parts) > 1 {
			id = parts[len(parts)-2]
			if id == "" {
				id = parts[len(parts)-1]
			}
		}
		byID[id] = e
		byID[stripVersion(id)] = e
	}
	for _, acc := range accs {
		e, ok := byID[acc]
		if !ok {
			e, ok = byID[stripVersion(acc)]
		}
		if !ok {
			continue
		}
		out[acc] = ncbiRecord(acc, e)
	}
	return out, nil
}

func ncbiRecord(acc string, e FastaEntry) *Record {
	name, species := e.Description, ""
	if m := ncbiSpecies.FindStringSubmatch(e.Description); m != nil {
		name, species = strings.TrimSpace(m[1]), ScientificName(m[2])
	}
	r := &Record{
		QueryAccession: acc,
		Name:           name,
		Species:        species,
		Sequence:       e.Sequence,
	}
	tp := string(accession.Detect(stripVersion(e.ID)))
	if tp == "" {
		tp = "ncbi"
	}
	r.Accessions = []Accession{{Type: tp, Value: e.ID}}
	if species != "" {
		r.Taxonomy = []string{strings.ToLower(species)}
	}
	return r
}
