// Package table provides read and write operations on Iceberg tables.
package table

import (
	"context"
	"fmt"
	"time"

	"github.com/BrobridgeOrg/csv2iceberg/catalog"
	"github.com/BrobridgeOrg/csv2iceberg/io"
	"github.com/BrobridgeOrg/csv2iceberg/spec"
)

// Table represents an Iceberg table at a metadata version.
type Table struct {
	identifier       catalog.TableIdentifier
	metadata         *spec.TableMetadata
	metadataLocation string
	version          int
	ops              catalog.TableOperations
	fileIO           io.FileIO
}

// New wraps a loaded table. ops is used to refresh and commit.
func New(result *catalog.TableResult, ops catalog.TableOperations) *Table {
	t := &Table{ops: ops, fileIO: ops.FileIO()}
	t.update(result)
	return t
}

func (t *Table) update(result *catalog.TableResult) {
	t.identifier = result.Identifier
	t.metadata = result.Metadata
	t.metadataLocation = result.MetadataLocation
	t.version = result.Version
}

// Identifier returns the table identifier.
func (t *Table) Identifier() catalog.TableIdentifier {
	return t.identifier
}

// Metadata returns the table metadata.
func (t *Table) Metadata() *spec.TableMetadata {
	return t.metadata
}

// MetadataLocation returns the metadata file location.
func (t *Table) MetadataLocation() string {
	return t.metadataLocation
}

// Version returns the metadata version number.
func (t *Table) Version() int {
	return t.version
}

// Location returns the table location.
func (t *Table) Location() string {
	return t.metadata.Location
}

// Schema returns the current schema.
func (t *Table) Schema() *spec.Schema {
	return t.metadata.CurrentSchema()
}

// Properties returns the table properties.
func (t *Table) Properties() map[string]string {
	return t.metadata.Properties
}

// CurrentSnapshot returns the current snapshot, or nil for an empty table.
func (t *Table) CurrentSnapshot() *spec.Snapshot {
	return t.metadata.CurrentSnapshot()
}

// Snapshots returns all snapshots.
func (t *Table) Snapshots() []spec.Snapshot {
	return t.metadata.Snapshots
}

// SnapshotByID returns a snapshot by ID.
func (t *Table) SnapshotByID(id int64) *spec.Snapshot {
	return t.metadata.SnapshotByID(id)
}

// SnapshotAt returns the snapshot that was current at the given time.
func (t *Table) SnapshotAt(ts time.Time) (*spec.Snapshot, error) {
	return t.metadata.SnapshotAsOf(ts)
}

// History returns the snapshot log of the main branch.
func (t *Table) History() []spec.SnapshotLog {
	return t.metadata.SnapshotLog
}

// FileIO returns the file I/O handler.
func (t *Table) FileIO() io.FileIO {
	return t.fileIO
}

// Refresh reloads the latest metadata.
func (t *Table) Refresh(ctx context.Context) error {
	result, err := t.ops.Current(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh table: %w", err)
	}
	t.update(result)
	return nil
}

// Scan creates a new scan builder for this table.
func (t *Table) Scan() *ScanBuilder {
	return NewScanBuilder(t)
}
