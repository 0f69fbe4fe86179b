package session

import (
	"errors"
	"strings"
)

var (
	// ErrNoSuchSession is returned for an unknown session id.
	ErrNoSuchSession = errors.New("no such session")
	// ErrSessionForbidden is returned when a user touches another user's session.
	ErrSessionForbidden = errors.New("session access forbidden")
	// ErrWrongStage is returned when an operation is not reachable from the
	// session's current stage.
	ErrWrongStage = errors.New("session is not at a stage that allows this step")
	// ErrNotRestartable is returned when restarting a job that has not
	// failed, or that is not a load job.
	ErrNotRestartable = errors.New("job cannot be restarted")
)

// FormError lists every problem found in submitted wizard input.
type FormError struct {
	Messages []string
}

func (e *FormError) Error() string {
	return strings.Join(e.Messages, "; ")
}

type formErrors []string

func (f *formErrors) add(msg string) { *f = append(*f, msg) }

func (f formErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &FormError{Messages: f}
}
