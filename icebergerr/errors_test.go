package icebergerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCommitConflictError(t *testing.T) {
	cause := fmt.Errorf("v3.metadata.json: %w", ErrFileExists)
	err := &CommitConflictError{
		TableIdentifier: "default.events",
		ExpectedVersion: 3,
		ActualVersion:   4,
		Cause:           cause,
	}

	want := "commit conflict on table default.events: expected version 3, actual version 4"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, ErrCommitConflict) {
		t.Error("errors.Is(err, ErrCommitConflict) = false, want true")
	}
	if !errors.Is(err, ErrFileExists) {
		t.Error("errors.Is should reach the cause through Unwrap")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"conflict", &CommitConflictError{TableIdentifier: "t"}, true},
		{"wrapped conflict", fmt.Errorf("commit: %w", &CommitConflictError{}), true},
		{"retryable", &RetryableError{Cause: errors.New("slow down")}, true},
		{"stale ref", &RequirementError{Requirement: "assert-ref-snapshot-id"}, true},
		{"uuid mismatch", &RequirementError{Requirement: "assert-table-uuid"}, false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTableNotFoundError(t *testing.T) {
	err := &TableNotFoundError{Namespace: "default", TableName: "iceberg_table_name"}
	if err.Error() != "table not found: default.iceberg_table_name" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, ErrTableNotFound) {
		t.Error("errors.Is(err, ErrTableNotFound) = false, want true")
	}

	bare := &TableNotFoundError{TableName: "s3a://b/w/t"}
	if bare.Error() != "table not found: s3a://b/w/t" {
		t.Errorf("Error() = %q", bare.Error())
	}
}

func TestIOError(t *testing.T) {
	err := &IOError{Operation: "read", Path: "/tmp/x", Cause: ErrFileNotFound}
	if !errors.Is(err, ErrIOFailed) {
		t.Error("errors.Is(err, ErrIOFailed) = false, want true")
	}
	if !errors.Is(err, ErrFileNotFound) {
		t.Error("errors.Is(err, ErrFileNotFound) = false, want true")
	}
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Field: "bucket", Message: "must not be empty"}
	if err.Error() != "validation error on bucket: must not be empty" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Error("errors.Is(err, ErrInvalidConfig) = false, want true")
	}
}
