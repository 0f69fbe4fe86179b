package ptm

import "fmt"

// ErrorKind classifies why a modification could not be resolved.
type ErrorKind string

const (
	KindNotValid           ErrorKind = "not_valid"
	KindWrongResidue       ErrorKind = "wrong_residue"
	KindWrongSpecies       ErrorKind = "wrong_species"
	KindAmbiguous          ErrorKind = "ambiguous"
	KindCount              ErrorKind = "wrong_count"
	KindNoModifiedResidues ErrorKind = "no_modified_residues"
	KindNoRoot             ErrorKind = "no_root"
)

// MatchError is returned when a modification name cannot be resolved. Its
// message is shown to the uploader verbatim.
type MatchError struct {
	Kind    ErrorKind
	Message string
}

func (e *MatchError) Error() string { return e.Message }

func newError(kind ErrorKind, format string, args ...interface{}) *MatchError {
	return &MatchError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
