package port

import (
	"errors"
	"fmt"
)

// Sentinel errors used across ports.
var (
	ErrAcquisition           = errors.New("acquisition failed")
	ErrConflict              = errors.New("ingestion already running for repository")
	ErrNotReady              = errors.New("repository has no completed ingestion")
	ErrJobNotFound           = errors.New("job not found")
	ErrJobFinalized          = errors.New("job already finished")
	ErrInvalidReference      = errors.New("invalid repository reference")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrEmbedding             = errors.New("embedding failed")
	ErrGenerativeUnavailable = errors.New("generative capability unavailable")
)

// AcquisitionError reports a clone or update failure. It is fatal to the job
// that hit it.
type AcquisitionError struct {
	Op     string // clone, fetch, checkout, resolve
	Source string
	Err    error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquire %s (%s): %v", e.Source, e.Op, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrAcquisition) match any AcquisitionError.
func (e *AcquisitionError) Is(target error) bool { return target == ErrAcquisition }
