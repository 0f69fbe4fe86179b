package pfam

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ptmscout/internal/model"
)

const familyListing = `# accession	id	class
PF00017	SH2	Domain
PF00069	Pkinase	Domain
PF07714	Pkinase_Tyr	Family
`

func openFamilies(t *testing.T) *Families {
	t.Helper()
	fams, err := OpenFamilies("")
	require.NoError(t, err)
	t.Cleanup(func() { fams.Close() })
	return fams
}

func TestFamilies(t *testing.T) {
	fams := openFamilies(t)

	n, err := fams.Load(strings.NewReader(familyListing))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	fam, err := fams.Get("pf00069")
	require.NoError(t, err)
	assert.Equal(t, Family{Accession: "PF00069", ID: "Pkinase", Class: "Domain"}, fam)

	_, err = fams.Get("PF99999")
	assert.ErrorIs(t, err, ErrUnknownFamily)

	_, err = fams.Load(strings.NewReader("PF00001\tonly-two\n"))
	assert.Error(t, err)
}

func TestFilter(t *testing.T) {
	in := []model.Domain{
		{Label: "weak", Class: "Domain", Start: 1, Stop: 50, PValue: 0.1},
		{Label: "family", Class: "Family", Start: 60, Stop: 90, PValue: 1e-30},
		{Label: "second", Class: "Domain", Start: 40, Stop: 120, PValue: 1e-8},
		{Label: "best", Class: "Domain", Start: 100, Stop: 200, PValue: 1e-20},
		{Label: "tail", Class: "Domain", Start: 201, Stop: 260, PValue: 1e-6},
	}
	out := Filter(in)
	require.Len(t, out, 2)
	assert.Equal(t, "best", out[0].Label)
	assert.Equal(t, "tail", out[1].Label)
}

func TestServiceDomains(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/entry/pfam/protein/uniprot/P12931/":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"results":[
				{"metadata":{"accession":"PF00069","name":"Protein kinase domain","type":"domain"},
				 "proteins":[{"entry_protein_locations":[{"fragments":[{"start":270,"end":519}],"score":1e-50}]}]},
				{"metadata":{"accession":"PF00018","name":"SH3 domain","type":"domain"},
				 "proteins":[{"entry_protein_locations":[{"fragments":[{"start":84,"end":131}],"score":2e-10}]}]}
			]}`))
		case "/entry/pfam/protein/uniprot/P00000/":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	fams := openFamilies(t)
	_, err := fams.Load(strings.NewReader(familyListing))
	require.NoError(t, err)

	svc := NewService(srv.URL, fams)
	svc.http.SetRetryCount(0)

	domains, err := svc.ProteinDomains(context.Background(), "P12931")
	require.NoError(t, err)
	require.Len(t, domains, 2)
	assert.Equal(t, model.Domain{Label: "Pkinase", Class: "Domain", Start: 270, Stop: 519, PValue: 1e-50, Source: "pfam"}, domains[0])
	assert.Equal(t, "SH3 domain", domains[1].Label)

	domains, err = svc.Domains(context.Background(), "P00000")
	require.NoError(t, err)
	assert.Empty(t, domains)

	_, err = svc.Domains(context.Background(), "Q99999")
	assert.ErrorIs(t, err, ErrQueryFailed)
}
