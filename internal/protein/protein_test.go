package protein

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ptmscout/internal/model"
)

func TestPlan(t *testing.T) {
	b := Plan([]string{"P12345", "NP_000002", "P12345-2", "NP_000001", "Q99999"})
	assert.Equal(t, [][]string{{"NP_000001", "NP_000002"}}, b.NCBI)
	assert.Equal(t, [][]string{{"P12345", "P12345-2", "Q99999"}}, b.UniProt)
	assert.Equal(t, 2, b.Len())
}

func TestChunk(t *testing.T) {
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, Chunk([]string{"a", "b", "c", "d", "e"}, 2))
	assert.Nil(t, Chunk(nil, 3))
}

func TestChunkGroups(t *testing.T) {
	items := []string{"P00001", "P00001-2", "P00001-3", "P00002", "P00003", "P00003-2"}
	assert.Equal(t, [][]string{
		{"P00001", "P00001-2", "P00001-3"},
		{"P00002", "P00003", "P00003-2"},
	}, ChunkGroups(items, 3))

	assert.Equal(t, [][]string{{"P00001", "P00001-2", "P00001-3"}, {"P00002"}}, ChunkGroups(items[:4], 2))
}

func TestParseFasta(t *testing.T) {
	in := ">sp|P12345|TEST_HUMAN Test protein\nmktay\nIAKQ\n\n>NP_1.1\nAAA\n"
	entries, err := ParseFasta(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, FastaEntry{ID: "sp|P12345|TEST_HUMAN", Description: "Test protein", Sequence: "MKTAYIAKQ"}, entries[0])
	assert.Equal(t, "AAA", entries[1].Sequence)
}

func TestScientificName(t *testing.T) {
	assert.Equal(t, "Homo sapiens", ScientificName("Homo sapiens (Human)"))
	assert.Equal(t, "Escherichia coli (strain K12)", ScientificName("Escherichia coli (strain K12)"))
	assert.Equal(t, "Mus musculus", ScientificName(" Mus musculus "))
}

func TestNewProtein(t *testing.T) {
	rec := &Record{
		QueryAccession: "P12345",
		Name:           "Test",
		Sequence:       "MKTAYIAKQ",
		Species:        "Homo sapiens",
		Accessions:     []Accession{{Type: "swissprot", Value: "P12345"}, {Type: "swissprot", Value: "TEST_HUMAN"}},
		Mutations: []model.Mutation{
			{Type: SingleSubstitution, Location: 2, Original: "K", Mutant: "R"},
			{Type: SingleSubstitution, Location: 3, Original: "K", Mutant: "R"},
			{Type: "Substitution (multiple)", Location: 1, Original: "MK", Mutant: "AA"},
		},
	}
	p := rec.NewProtein()
	assert.Equal(t, []string{"P12345", "TEST_HUMAN"}, p.Accessions)
	require.Len(t, p.Mutations, 1)
	assert.Equal(t, 2, p.Mutations[0].Location)

	assert.Equal(t, []string{"X1", "TEST_HUMAN", "P12345"}, rec.MergeAccessions([]string{"X1", "TEST_HUMAN"}))
}

const uniprotBody = `{"results":[{
  "primaryAccession":"P12345",
  "secondaryAccessions":["Q00001"],
  "uniProtkbId":"TEST_HUMAN",
  "proteinDescription":{"recommendedName":{"fullName":{"value":"Test kinase"}}},
  "genes":[{"geneName":{"value":"TSTK"},"synonyms":[{"value":"TK1"}]}],
  "organism":{"scientificName":"Homo sapiens","lineage":["Eukaryota","Metazoa"]},
  "sequence":{"value":"MKTAYIAKQRQISFVKSHFSRQ"},
  "features":[
    {"type":"Domain","description":"SH2","location":{"start":{"value":3},"end":{"value":12}}},
    {"type":"Chain","description":"Test kinase","location":{"start":{"value":1},"end":{"value":22}}},
    {"type":"Natural variant","description":"in disease","location":{"start":{"value":2},"end":{"value":2}},
     "alternativeSequence":{"originalSequence":"K","alternativeSequences":["R"]},
     "featureCrossReferences":[{"database":"dbSNP","id":"rs42"}]}
  ],
  "uniProtKBCrossReferences":[
    {"database":"GO","id":"GO:0005737","properties":[{"key":"GoTerm","value":"C:cytoplasm"}]},
    {"database":"Pfam","id":"PF00017","properties":[{"key":"EntryName","value":"SH2"}]}
  ]
}]}`

func TestUniProtClient(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/uniprotkb/search":
			query = r.URL.Query().Get("query")
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, uniprotBody)
		case "/uniprotkb/P12345-2.fasta":
			fmt.Fprint(w, ">sp|P12345-2|TEST_HUMAN Isoform 2 of Test kinase OS=Homo sapiens\nMKTAY\n")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewUniProtClient(srv.URL)
	got, err := c.Fetch(context.Background(), []string{"P12345", "Q00001", "P12345-2", "P99999"})
	require.NoError(t, err)
	assert.Equal(t, "accession:P12345 OR accession:Q00001 OR accession:P99999", query)
	require.Len(t, got, 3)
	assert.NotContains(t, got, "P99999")

	rec := got["P12345"]
	assert.Equal(t, "Test kinase", rec.Name)
	assert.Equal(t, "TSTK", rec.Gene)
	assert.Equal(t, "TEST_HUMAN", rec.Locus)
	assert.Equal(t, []string{"eukaryota", "metazoa", "homo sapiens"}, rec.Taxonomy)
	assert.Equal(t, []model.Region{{Type: "domain", Label: "SH2", Start: 3, Stop: 12, Source: "uniprot"}}, rec.Regions)
	assert.Equal(t, []model.Mutation{{Type: SingleSubstitution, Location: 2, Original: "K", Mutant: "R", Annotation: "rs42 (in disease)"}}, rec.Mutations)
	assert.Equal(t, []model.GOTerm{{GO: "GO:0005737", Term: "cytoplasm", Aspect: "C"}}, rec.GOTerms)
	assert.Contains(t, rec.Accessions, Accession{Type: "gene_synonym", Value: "TK1"})

	assert.Equal(t, "Q00001", got["Q00001"].QueryAccession)

	iso := got["P12345-2"]
	assert.Equal(t, "MKTAY", iso.Sequence)
	assert.Equal(t, "Test kinase (Isoform 2)", iso.Name)
	assert.Empty(t, iso.Regions)
}

func TestNCBIClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/efetch.fcgi", r.URL.Path)
		assert.Equal(t, "protein", r.URL.Query().Get("db"))
		assert.Equal(t, "curator@example.org", r.URL.Query().Get("email"))
		fmt.Fprint(w, ">NP_000001.2 tumor suppressor [Homo sapiens]\nMEEPQ\n")
	}))
	defer srv.Close()

	c := NewNCBIClient(srv.URL, "curator@example.org")
	got, err := c.Fetch(context.Background(), []string{"NP_000001", "NP_000009"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	rec := got["NP_000001"]
	assert.Equal(t, "tumor suppressor", rec.Name)
	assert.Equal(t, "Homo sapiens", rec.Species)
	assert.Equal(t, "MEEPQ", rec.Sequence)
	assert.Equal(t, []Accession{{Type: "refseq", Value: "NP_000001.2"}}, rec.Accessions)
}

func TestNCBIClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewNCBIClient(srv.URL, "").Fetch(context.Background(), []string{"NP_000001"})
	assert.Error(t, err)
}

type fakeKV struct {
	data map[string]string
	sets int
}

func (f *fakeKV) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeKV) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	if b, ok := value.([]byte); ok {
		f.data[key] = string(b)
	}
	f.sets++
	return redis.NewStatusResult("OK", nil)
}

type countingFetcher struct {
	calls [][]string
	err   error
}

func (f *countingFetcher) Fetch(_ context.Context, accs []string) (map[string]*Record, error) {
	f.calls = append(f.calls, accs)
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]*Record{}
	for _, a := range accs {
		if a != "MISSING" {
			out[a] = &Record{QueryAccession: a, Sequence: "MK"}
		}
	}
	return out, nil
}

func TestCachedFetcher(t *testing.T) {
	ctx := context.Background()
	kv := &fakeKV{data: map[string]string{}}
	next := &countingFetcher{}
	c := NewCachedFetcher(next, kv, time.Hour, zerolog.Nop())

	got, err := c.Fetch(ctx, []string{"P1", "MISSING"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, kv.sets)

	got, err = c.Fetch(ctx, []string{"P1", "MISSING"})
	require.NoError(t, err)
	assert.Equal(t, "MK", got["P1"].Sequence)
	assert.Equal(t, [][]string{{"P1", "MISSING"}, {"MISSING"}}, next.calls)

	next.err = errors.New("down")
	_, err = c.Fetch(ctx, []string{"P2"})
	assert.Error(t, err)
}
