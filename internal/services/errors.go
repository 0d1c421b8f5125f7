package services

import (
	"errors"
	"fmt"
)

// Workflow error taxonomy. Callers test with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrInvalidState        = errors.New("invalid state")
	ErrVersionConflict     = errors.New("E_VERSION")
	ErrDuplicateSnapshot   = errors.New("duplicate snapshot")
	ErrTransaction         = errors.New("transaction failed")
	ErrNotAReviewer        = errors.New("not a reviewer")
	ErrStageAlreadyDecided = errors.New("stage already decided")
)

// TransactionError reports a workflow transaction that could not commit.
// Nothing the operation wrote is persisted.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrTransaction, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// Is matches ErrTransaction in addition to the wrapped cause
func (e *TransactionError) Is(target error) bool {
	return target == ErrTransaction
}

var workflowErrors = []error{
	ErrNotFound,
	ErrConflict,
	ErrInvalidState,
	ErrVersionConflict,
	ErrDuplicateSnapshot,
	ErrTransaction,
	ErrNotAReviewer,
	ErrStageAlreadyDecided,
}

// IsWorkflowError reports whether err belongs to the workflow taxonomy
func IsWorkflowError(err error) bool {
	for _, target := range workflowErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// asTransactionError keeps taxonomy errors intact and wraps storage failures
func asTransactionError(op string, err error) error {
	if err == nil || IsWorkflowError(err) {
		return err
	}
	return &TransactionError{Op: op, Err: err}
}

func notFound(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func invalidState(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

func versionConflict(format string, args ...interface{}) error {
	return fmt.Errorf("%w - %s", ErrVersionConflict, fmt.Sprintf(format, args...))
}

func conflict(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}
