package pfam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dharsanguruparan/ptmscout/internal/model"
)

// Cutoff is the largest e-value of a domain hit considered significant.
const Cutoff = 0.00001

// ErrQueryFailed is returned when domains cannot be retrieved for a protein.
var ErrQueryFailed = errors.New("pfam query failed")

type interproResponse struct {
	Results []struct {
		Metadata struct {
			Accession string `json:"accession"`
			Name      string `json:"name"`
			Type      string `json:"type"`
		} `json:"metadata"`
		Proteins []struct {
			Locations []struct {
				Fragments []struct {
					Start int `json:"start"`
					End   int `json:"end"`
				} `json:"fragments"`
				Score float64 `json:"score"`
			} `json:"entry_protein_locations"`
		} `json:"proteins"`
	} `json:"results"`
}

// Service resolves the PFam domains of UniProt proteins.
type Service struct {
	baseURL  string
	http     *resty.Client
	families *Families
}

// NewService constructs a Service against the InterPro API at baseURL.
// families may be nil, in which case labels and classes come from InterPro.
func NewService(baseURL string, families *Families) *Service {
	return &Service{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: resty.New().
			SetTimeout(30 * time.Second).
			SetRetryCount(3).
			SetRetryWaitTime(time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return r.StatusCode() == 429 || r.StatusCode() >= 500
			}),
		families: families,
	}
}

// Domains returns every PFam hit on the UniProt protein acc, unfiltered.
// A protein InterPro does not know has no domains.
func (s *Service) Domains(ctx context.Context, acc string) ([]model.Domain, error) {
	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(fmt.Sprintf("%s/entry/pfam/protein/uniprot/%s/", s.baseURL, acc))
	if err != nil {
		return nil, fmt.Errorf("%w for protein %s: %v", ErrQueryFailed, acc, err)
	}
	switch {
	case resp.StatusCode() == 204 || resp.StatusCode() == 404:
		return nil, nil
	case !resp.IsSuccess():
		return nil, fmt.Errorf("%w for protein %s: status %d", ErrQueryFailed, acc, resp.StatusCode())
	}

	var body interproResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("%w for protein %s: %v", ErrQueryFailed, acc, err)
	}
	var out []model.Domain
	for _, r := range body.Results {
		label, class := r.Metadata.Name, classOf(r.Metadata.Type)
		if s.families != nil {
			if fam, err := s.families.Get(r.Metadata.Accession); err == nil {
				label, class = fam.ID, fam.Class
			}
		}
		for _, p := range r.Proteins {
			for _, loc := range p.Locations {
				for _, frag := range loc.Fragments {
					out = append(out, model.Domain{
						Label:  label,
						Class:  class,
						Start:  frag.Start,
						Stop:   frag.End,
						PValue: loc.Score,
						Source: "pfam",
					})
				}
			}
		}
	}
	return out, nil
}

func classOf(tp string) string {
	if tp == "" {
		return ""
	}
	return strings.ToUpper(tp[:1]) + strings.ToLower(tp[1:])
}

// Filter keeps significant hits of class Domain and resolves overlaps in
// favour of the hit with the lower e-value.
func Filter(domains []model.Domain) []model.Domain {
	var candidates []model.Domain
	for _, d := range domains {
		if d.Class == "Domain" && d.PValue <= Cutoff {
			candidates = append(candidates, d)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].PValue < candidates[j].PValue })

	var chosen []model.Domain
	for _, d := range candidates {
		overlaps := false
		for _, c := range chosen {
			if d.Start <= c.Stop && c.Start <= d.Stop {
				overlaps = true
				break
			}
		}
		if !overlaps {
			chosen = append(chosen, d)
		}
	}
	return chosen
}

// ProteinDomains returns the filtered domains of the UniProt protein acc.
func (s *Service) ProteinDomains(ctx context.Context, acc string) ([]model.Domain, error) {
	all, err := s.Domains(ctx, acc)
	if err != nil {
		return nil, err
	}
	return Filter(all), nil
}
