package results

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel kinds. Every typed error below matches one of these via errors.Is.
var (
	ErrMalformedFile       = errors.New("malformed file")
	ErrEmptyFile           = errors.New("file has no data rows")
	ErrHeaderMismatch      = errors.New("header mismatch")
	ErrMissingRequired     = errors.New("missing required field")
	ErrDuplicateColumn     = errors.New("source column mapped twice")
	ErrUnknownColumn       = errors.New("unknown column")
	ErrConflictsPresent    = errors.New("conflicts present")
	ErrNothingToPublish    = errors.New("nothing to publish")
	ErrTransactionConflict = errors.New("transaction conflict")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrNothingToRollback   = errors.New("nothing to roll back")
	ErrAlreadyRolledBack   = errors.New("batch already rolled back")
)

type MalformedFileError struct {
	Line   int
	Reason string
}

func (e *MalformedFileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed file at line %d: %s", e.Line, e.Reason)
	}
	return "malformed file: " + e.Reason
}

func (e *MalformedFileError) Is(target error) bool { return target == ErrMalformedFile }

type EmptyFileError struct{}

func (e *EmptyFileError) Error() string        { return ErrEmptyFile.Error() }
func (e *EmptyFileError) Is(target error) bool { return target == ErrEmptyFile }

type HeaderMismatchError struct {
	Line     int
	Expected int
	Got      int
	Reason   string
}

func (e *HeaderMismatchError) Error() string {
	if e.Reason != "" {
		return "header mismatch: " + e.Reason
	}
	return fmt.Sprintf("line %d has %d columns, header has %d", e.Line, e.Got, e.Expected)
}

func (e *HeaderMismatchError) Is(target error) bool { return target == ErrHeaderMismatch }

type MissingRequiredFieldError struct {
	Fields []string
}

func (e *MissingRequiredFieldError) Error() string {
	return fmt.Sprintf("missing required field: one of %s must be mapped", strings.Join(e.Fields, ", "))
}

func (e *MissingRequiredFieldError) Is(target error) bool { return target == ErrMissingRequired }

type DuplicateColumnError struct {
	Column string
	Fields []string
}

func (e *DuplicateColumnError) Error() string {
	return fmt.Sprintf("column %q is mapped to %s", e.Column, strings.Join(e.Fields, " and "))
}

func (e *DuplicateColumnError) Is(target error) bool { return target == ErrDuplicateColumn }

type UnknownColumnError struct {
	Field  string
	Column string
}

func (e *UnknownColumnError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("unknown field %q", e.Field)
	}
	return fmt.Sprintf("field %s: column %q not found in file", e.Field, e.Column)
}

func (e *UnknownColumnError) Is(target error) bool { return target == ErrUnknownColumn }

type ConflictsPresentError struct {
	Count int
}

func (e *ConflictsPresentError) Error() string {
	return fmt.Sprintf("cannot publish: %d conflicting rows remain", e.Count)
}

func (e *ConflictsPresentError) Is(target error) bool { return target == ErrConflictsPresent }

type TransactionConflictError struct {
	Competition string
	Attempts    int
	Err         error
}

func (e *TransactionConflictError) Error() string {
	msg := fmt.Sprintf("competition %s was modified concurrently (attempts=%d)", e.Competition, e.Attempts)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransactionConflictError) Is(target error) bool { return target == ErrTransactionConflict }
func (e *TransactionConflictError) Unwrap() error        { return e.Err }

type StorageUnavailableError struct {
	Err error
}

func (e *StorageUnavailableError) Error() string {
	return "storage unavailable: " + e.Err.Error()
}

func (e *StorageUnavailableError) Is(target error) bool { return target == ErrStorageUnavailable }
func (e *StorageUnavailableError) Unwrap() error        { return e.Err }

type NothingToRollbackError struct {
	Competition string
}

func (e *NothingToRollbackError) Error() string {
	return fmt.Sprintf("competition %s has no published batch to roll back", e.Competition)
}

func (e *NothingToRollbackError) Is(target error) bool { return target == ErrNothingToRollback }

type AlreadyRolledBackError struct {
	BatchID string
}

func (e *AlreadyRolledBackError) Error() string {
	return fmt.Sprintf("batch %s already has a reversal", e.BatchID)
}

func (e *AlreadyRolledBackError) Is(target error) bool { return target == ErrAlreadyRolledBack }

// IsInputError reports whether err should be shown to the operator as a bad
// upload or mapping rather than a server failure.
func IsInputError(err error) bool {
	for _, kind := range []error{ErrMalformedFile, ErrEmptyFile, ErrHeaderMismatch, ErrMissingRequired, ErrDuplicateColumn, ErrUnknownColumn} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
