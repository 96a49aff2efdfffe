package engine

import (
	"errors"
	"fmt"

	"examline/internal/repo"
)

// ValidationError reports a malformed request: missing ids, empty batches,
// bad thresholds. Retrying the same call will not help.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NotFoundError reports a referenced job, worker or item that does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return repo.ErrNotFound }

// InvalidStateError reports an operation the entity's current state forbids,
// such as reallocating a completed item.
type InvalidStateError struct {
	Kind   string
	ID     string
	Status string
	Reason string
}

func (e *InvalidStateError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("%s %s: %s", e.Kind, e.ID, e.Reason)
	}
	return fmt.Sprintf("%s %s is %s: %s", e.Kind, e.ID, e.Status, e.Reason)
}

// NoEligibleWorkerError reports that no valid target worker exists for a
// job, or for one item of it.
type NoEligibleWorkerError struct {
	JobID  string
	ItemID string
}

func (e *NoEligibleWorkerError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("no eligible worker for item %s in job %s", e.ItemID, e.JobID)
	}
	return fmt.Sprintf("no eligible worker for job %s", e.JobID)
}

func (e *NoEligibleWorkerError) Unwrap() error { return repo.ErrNotFound }

// DependencyError wraps a failure of persistence or another collaborator.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// dependency wraps err as a DependencyError unless it already carries one of
// the engine's error types.
func dependency(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		ve *ValidationError
		nf *NotFoundError
		is *InvalidStateError
		ne *NoEligibleWorkerError
		de *DependencyError
	)
	if errors.As(err, &ve) || errors.As(err, &nf) || errors.As(err, &is) || errors.As(err, &ne) || errors.As(err, &de) {
		return err
	}
	return &DependencyError{Op: op, Err: err}
}

// notFound converts repo.ErrNotFound into a NotFoundError for kind/id.
func notFound(err error, kind, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return &NotFoundError{Kind: kind, ID: id}
	}
	return dependency("load "+kind, err)
}
