package spec

import (
	"encoding/json"
	"strconv"
	"time"
)

// Operation is the kind of change a snapshot made.
type Operation string

const (
	OpAppend    Operation = "append"
	OpReplace   Operation = "replace"
	OpOverwrite Operation = "overwrite"
	OpDelete    Operation = "delete"
)

// MainBranch is the default branch ref.
const MainBranch = "main"

// Summary keys written by this package.
const (
	SummaryAddedDataFiles   = "added-data-files"
	SummaryAddedRecords     = "added-records"
	SummaryAddedFilesSize   = "added-files-size"
	SummaryDeletedDataFiles = "deleted-data-files"
	SummaryDeletedRecords   = "deleted-records"
	SummaryRemovedFilesSize = "removed-files-size"
	SummaryTotalDataFiles   = "total-data-files"
	SummaryTotalRecords     = "total-records"
	SummaryTotalFilesSize   = "total-files-size"
	SummaryTotalDeleteFiles = "total-delete-files"
	SummaryTotalPosDeletes  = "total-position-deletes"
	SummaryTotalEqDeletes   = "total-equality-deletes"
)

// Summary is the operation plus a string map of counters and free-form
// properties, serialized as one flat JSON object.
type Summary struct {
	Operation  Operation
	Properties map[string]string
}

// NewSummary creates an empty summary for op.
func NewSummary(op Operation) *Summary {
	return &Summary{Operation: op, Properties: map[string]string{}}
}

// Int returns the counter stored under key, or 0.
func (s *Summary) Int(key string) int64 {
	if s == nil {
		return 0
	}
	v, err := strconv.ParseInt(s.Properties[key], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// SetInt stores a counter.
func (s *Summary) SetInt(key string, v int64) {
	if s.Properties == nil {
		s.Properties = map[string]string{}
	}
	s.Properties[key] = strconv.FormatInt(v, 10)
}

// Set stores a free-form property.
func (s *Summary) Set(key, value string) {
	if s.Properties == nil {
		s.Properties = map[string]string{}
	}
	s.Properties[key] = value
}

// UpdateTotals derives the total-* counters from the parent snapshot's
// summary and this snapshot's added and deleted counters.
func (s *Summary) UpdateTotals(parent *Summary) {
	s.SetInt(SummaryTotalDataFiles, parent.Int(SummaryTotalDataFiles)+
		s.Int(SummaryAddedDataFiles)-s.Int(SummaryDeletedDataFiles))
	s.SetInt(SummaryTotalRecords, parent.Int(SummaryTotalRecords)+
		s.Int(SummaryAddedRecords)-s.Int(SummaryDeletedRecords))
	s.SetInt(SummaryTotalFilesSize, parent.Int(SummaryTotalFilesSize)+
		s.Int(SummaryAddedFilesSize)-s.Int(SummaryRemovedFilesSize))
	s.SetInt(SummaryTotalDeleteFiles, parent.Int(SummaryTotalDeleteFiles))
	s.SetInt(SummaryTotalPosDeletes, parent.Int(SummaryTotalPosDeletes))
	s.SetInt(SummaryTotalEqDeletes, parent.Int(SummaryTotalEqDeletes))
}

// MarshalJSON implements json.Marshaler.
func (s *Summary) MarshalJSON() ([]byte, error) {
	m := make(map[string]string, len(s.Properties)+1)
	for k, v := range s.Properties {
		m[k] = v
	}
	m["operation"] = string(s.Operation)
	return json.Marshal(m)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Summary) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	s.Operation = Operation(m["operation"])
	delete(m, "operation")
	s.Properties = m
	return nil
}

// Snapshot is the state of a table at some point in time.
type Snapshot struct {
	SnapshotID       int64    `json:"snapshot-id"`
	ParentSnapshotID *int64   `json:"parent-snapshot-id,omitempty"`
	SequenceNumber   int64    `json:"sequence-number"`
	TimestampMs      int64    `json:"timestamp-ms"`
	ManifestList     string   `json:"manifest-list"`
	Summary          *Summary `json:"summary,omitempty"`
	SchemaID         *int     `json:"schema-id,omitempty"`
}

// Timestamp returns the snapshot timestamp.
func (s *Snapshot) Timestamp() time.Time {
	return time.UnixMilli(s.TimestampMs)
}

// HasParent reports whether the snapshot has a parent.
func (s *Snapshot) HasParent() bool {
	return s.ParentSnapshotID != nil
}

// Operation returns the summary operation, or "" without a summary.
func (s *Snapshot) Operation() Operation {
	if s.Summary == nil {
		return ""
	}
	return s.Summary.Operation
}

// SnapshotRef is a named branch or tag.
type SnapshotRef struct {
	SnapshotID         int64  `json:"snapshot-id"`
	Type               string `json:"type"` // "branch" or "tag"
	MinSnapshotsToKeep *int   `json:"min-snapshots-to-keep,omitempty"`
	MaxSnapshotAgeMs   *int64 `json:"max-snapshot-age-ms,omitempty"`
	MaxRefAgeMs        *int64 `json:"max-ref-age-ms,omitempty"`
}

// SnapshotLog is an entry of the snapshot log.
type SnapshotLog struct {
	SnapshotID  int64 `json:"snapshot-id"`
	TimestampMs int64 `json:"timestamp-ms"`
}

// Timestamp returns the entry timestamp.
func (l *SnapshotLog) Timestamp() time.Time {
	return time.UnixMilli(l.TimestampMs)
}
