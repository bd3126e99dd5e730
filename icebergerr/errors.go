// Package icebergerr holds the error values shared by the catalog, table and
// io packages.
package icebergerr

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Table errors
	ErrTableNotFound      = errors.New("table not found")
	ErrTableAlreadyExists = errors.New("table already exists")

	// Commit errors
	ErrCommitConflict    = errors.New("commit conflict: table was modified")
	ErrRequirementFailed = errors.New("commit requirement failed")
	ErrNoChangesToCommit = errors.New("no changes to commit")

	// Schema errors
	ErrSchemaNotCompatible = errors.New("schema is not compatible")
	ErrColumnNotFound      = errors.New("column not found")
	ErrInvalidSchema       = errors.New("invalid schema")

	// Snapshot errors
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// Data errors
	ErrInvalidData  = errors.New("invalid data format")
	ErrTypeMismatch = errors.New("type mismatch")

	// IO errors
	ErrFileNotFound   = errors.New("file not found")
	ErrFileExists     = errors.New("file already exists")
	ErrBucketNotFound = errors.New("bucket not found")
	ErrIOFailed       = errors.New("IO operation failed")
	ErrInvalidPath    = errors.New("invalid file path")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// CommitConflictError is returned when another writer committed a new
// metadata version first.
type CommitConflictError struct {
	TableIdentifier string
	ExpectedVersion int64
	ActualVersion   int64
	Cause           error
}

func (e *CommitConflictError) Error() string {
	return fmt.Sprintf("commit conflict on table %s: expected version %d, actual version %d",
		e.TableIdentifier, e.ExpectedVersion, e.ActualVersion)
}

func (e *CommitConflictError) Unwrap() error {
	return e.Cause
}

func (e *CommitConflictError) Is(target error) bool {
	return target == ErrCommitConflict
}

// RequirementError represents a failed commit requirement.
type RequirementError struct {
	Requirement string
	Expected    any
	Actual      any
}

func (e *RequirementError) Error() string {
	return fmt.Sprintf("requirement failed: %s (expected: %v, actual: %v)",
		e.Requirement, e.Expected, e.Actual)
}

func (e *RequirementError) Is(target error) bool {
	return target == ErrRequirementFailed
}

// RetryableError wraps an error that can be retried.
type RetryableError struct {
	Cause      error
	RetryAfter time.Duration
}

func (e *RetryableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("retryable error (retry after %v): %v", e.RetryAfter, e.Cause)
	}
	return fmt.Sprintf("retryable error: %v", e.Cause)
}

func (e *RetryableError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether err is worth another commit attempt. Commit
// conflicts and failed snapshot requirements both are: the writer refreshes
// and rebuilds its snapshot on top of the new head.
func IsRetryable(err error) bool {
	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return true
	}
	var conflict *CommitConflictError
	if errors.As(err, &conflict) {
		return true
	}
	var req *RequirementError
	return errors.As(err, &req) && req.Requirement == "assert-ref-snapshot-id"
}

// TableNotFoundError names the missing table.
type TableNotFoundError struct {
	Namespace string
	TableName string
}

func (e *TableNotFoundError) Error() string {
	if e.Namespace == "" {
		return fmt.Sprintf("table not found: %s", e.TableName)
	}
	return fmt.Sprintf("table not found: %s.%s", e.Namespace, e.TableName)
}

func (e *TableNotFoundError) Is(target error) bool {
	return target == ErrTableNotFound
}

// ValidationError represents an invalid configuration or input value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// IOError represents an IO error with path information.
type IOError struct {
	Operation string
	Path      string
	Cause     error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("IO error during %s on %s: %v", e.Operation, e.Path, e.Cause)
}

func (e *IOError) Unwrap() error {
	return e.Cause
}

func (e *IOError) Is(target error) bool {
	return target == ErrIOFailed
}
