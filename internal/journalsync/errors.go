package journalsync

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration     = errors.New("configuration error")
	ErrFetchFailed       = errors.New("fetch failed")
	ErrMergeFailed       = errors.New("merge failed")
	ErrPersistenceFailed = errors.New("persistence failed")
	ErrCycleInProgress   = errors.New("sync cycle already in progress")
)

// CycleError classifies a failed step of a sync cycle. Kind is one of the
// sentinels above; Date is set for merge failures.
type CycleError struct {
	Kind error
	Date string
	Err  error
}

func (e *CycleError) Error() string {
	kind := "sync error"
	if e.Kind != nil {
		kind = e.Kind.Error()
	}
	switch {
	case e.Date != "" && e.Err != nil:
		return fmt.Sprintf("%s for %s: %v", kind, e.Date, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", kind, e.Err)
	default:
		return kind
	}
}

func (e *CycleError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

func configurationError(err error) error {
	return &CycleError{Kind: ErrConfiguration, Err: err}
}
