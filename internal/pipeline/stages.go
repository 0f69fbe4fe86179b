package pipeline

import (
	"github.com/dharsanguruparan/ptmscout/internal/datafile"
	"github.com/dharsanguruparan/ptmscout/internal/model"
	"github.com/dharsanguruparan/ptmscout/internal/protein"
)

// Stage names, also recorded as the job's loading stage.
const (
	StageQuery    = "query"
	StageProteins = "proteins"
	StageGOTerms  = "GO terms"
	StagePeptides = "peptides"
	StageAnnotate = "annotate"
	StageFinalize = "finalize"
)

// Stages is the import chain in execution order.
var Stages = []string{StageQuery, StageProteins, StageGOTerms, StagePeptides, StageAnnotate, StageFinalize}

// Progress is reported every this many units of work.
const (
	proteinNotify  = 30
	peptideNotify  = 30
	annotateNotify = 5
)

// ChainFrom returns the stages left to run for a job whose loading stage is
// stage. Any stage before query, or an unknown one, runs the whole chain.
func ChainFrom(stage string) []string {
	for i, s := range Stages {
		if s == stage && s != StageFinalize {
			return append([]string(nil), Stages[i:]...)
		}
	}
	return append([]string(nil), Stages...)
}

// Next returns the stage following stage.
func Next(stage string) (string, bool) {
	for i, s := range Stages {
		if s == stage && i+1 < len(Stages) {
			return Stages[i+1], true
		}
	}
	return "", false
}

// Valid reports whether stage names a pipeline stage.
func Valid(stage string) bool {
	for _, s := range Stages {
		if s == stage {
			return true
		}
	}
	return false
}

// Payload identifies the import a stage task works on.
type Payload struct {
	ExperimentID string `json:"experiment_id"`
	SessionID    string `json:"session_id"`
	JobID        string `json:"job_id"`
}

// Measurement is one measured (accession, site, modification) tuple with
// its runs.
type Measurement struct {
	Key  datafile.MeasureKey `json:"key"`
	Runs []datafile.Run      `json:"runs"`
}

// State is handed from one stage to the next. Each stage stores the state it
// leaves behind as the input of the following stage.
type State struct {
	Payload
	NullModifications bool                       `json:"null_modifications"`
	SiteType          model.ColumnType           `json:"site_type"`
	Accessions        map[string][]int           `json:"accessions"`
	Measurements      []Measurement              `json:"measurements"`
	Records           map[string]*protein.Record `json:"records,omitempty"`
	ProteinIDs        map[string]string          `json:"protein_ids,omitempty"`
}

func newState(pl Payload, nullMods bool, p *datafile.Parsed) *State {
	st := &State{
		Payload:           pl,
		NullModifications: nullMods,
		SiteType:          p.SiteType,
		Accessions:        p.Accessions,
	}
	for _, k := range p.Measurements() {
		st.Measurements = append(st.Measurements, Measurement{Key: k, Runs: p.DataRuns[k]})
	}
	return st
}

// AccessionList returns the accessions still carried by the state in file
// order.
func (s *State) AccessionList() []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range s.Measurements {
		if !seen[m.Key.Accession] {
			seen[m.Key.Accession] = true
			out = append(out, m.Key.Accession)
		}
	}
	return out
}
