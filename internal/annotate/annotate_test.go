package annotate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ptmscout/internal/model"
)

func modified(pos int, residue, mod string) model.ModifiedPeptide {
	return model.ModifiedPeptide{
		Peptide:      model.Peptide{SitePos: pos, SiteType: residue},
		Modification: mod,
	}
}

func TestMeasurement(t *testing.T) {
	prot := &model.Protein{
		Sequence: "AAAADFGKLMNSPEAAAAAAAAAAAAAAAAAAAA",
		Domains:  []model.Domain{{Label: "Pkinase", Start: 1, Stop: 18, Source: "pfam"}},
		Regions: []model.Region{
			{Type: "domain", Label: "Kinase", Start: 5, Stop: 20},
			{Type: "helix", Start: 8, Stop: 12},
			{Type: "helix", Start: 25, Stop: 28},
		},
		Mutations: []model.Mutation{
			{Location: 17, Original: "A", Mutant: "G", Annotation: "edge"},
			{Location: 12, Original: "A", Mutant: "V", Annotation: "rs1"},
		},
		GOTerms: []model.GOTerm{
			{GO: "GO:2", Aspect: "P"},
			{GO: "GO:1", Aspect: "P"},
			{GO: "GO:3", Aspect: "F"},
		},
	}
	ms := &model.MeasuredPeptide{ID: "m1", Peptides: []model.ModifiedPeptide{modified(10, "S", "Phospho")}}
	other := &model.MeasuredPeptide{ID: "m2", Peptides: []model.ModifiedPeptide{
		modified(15, "Y", "Phospho"),
		modified(30, "T", "Phospho"),
	}}

	got := Measurement(ms, prot, []*model.MeasuredPeptide{ms, other})
	require.Len(t, got, len(model.AnnotationHeader))
	assert.Equal(t, []string{
		"S10: Phospho; Y15: Phospho",
		"A12V",
		"rs1",
		"Pkinase:1-18",
		"Kinase:5-20",
		"",
		"",
		"",
		"helix:8-12",
		"Pkinase:1-18",
		"Kinase:5-20",
		"GO:1; GO:2",
		"",
		"GO:3",
	}, got)
}

func TestMeasurementWithoutSites(t *testing.T) {
	got := Measurement(&model.MeasuredPeptide{}, &model.Protein{}, nil)
	assert.Len(t, got, len(model.AnnotationHeader))
}

func TestFormatting(t *testing.T) {
	t.Run("Should render open ended domains", func(t *testing.T) {
		assert.Equal(t, "SH2:5-?", FormatDomain(model.Domain{Label: "SH2", Start: 5}))
	})

	t.Run("Should escape separators in region labels", func(t *testing.T) {
		r := model.Region{Type: "zinc finger region", Label: ";C2H2; type;", Start: 3, Stop: 9}
		assert.Equal(t, "zinc finger region:C2H2| type:3-9", FormatRegion(r))
		assert.Equal(t, "helix:1-4", FormatRegion(model.Region{Type: "helix", Start: 1, Stop: 4}))
	})

	t.Run("Should sort by position", func(t *testing.T) {
		domains := []model.Domain{{Label: "B", Start: 20, Stop: 30}, {Label: "A", Start: 1, Stop: 10}}
		assert.Equal(t, "A:1-10; B:20-30", FormatDomains(domains))

		mutations := []model.Mutation{
			{Location: 9, Original: "K", Mutant: "R", Annotation: "b"},
			{Location: 2, Original: "S", Mutant: "A", Annotation: "a"},
		}
		assert.Equal(t, "S2A; K9R", FormatMutations(mutations))
		assert.Equal(t, "a| b", FormatMutationAnnotations(mutations))
	})
}

func TestActivationLoops(t *testing.T) {
	prot := &model.Protein{
		Sequence: "AAAADFGKLMNSPEAAAA",
		Domains: []model.Domain{
			{Label: "Pkinase", Start: 1, Stop: 18},
			{Label: "SH2", Start: 1, Stop: 18},
		},
	}
	loops := ActivationLoops(prot)
	require.Len(t, loops, 1)
	assert.Equal(t, model.Region{
		Type:   "Activation Loop",
		Label:  KinaseLoopLabel,
		Start:  5,
		Stop:   14,
		Source: "predicted",
	}, loops[0])

	prot.Sequence = "AAAAAAAAAAAAAAAAAA"
	assert.Empty(t, ActivationLoops(prot))
}
