// Package catalog provides the table catalog used to create, load and commit
// Iceberg tables.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/BrobridgeOrg/csv2iceberg/icebergerr"
	"github.com/BrobridgeOrg/csv2iceberg/io"
	"github.com/BrobridgeOrg/csv2iceberg/spec"
)

// DefaultNamespace is used for identifiers without a namespace.
const DefaultNamespace = "default"

// Catalog is the interface for Iceberg catalog operations.
type Catalog interface {
	// Name returns the catalog name.
	Name() string

	// ListTables lists all tables in a namespace.
	ListTables(ctx context.Context, namespace Namespace) ([]TableIdentifier, error)

	// CreateTable creates a new table.
	CreateTable(ctx context.Context, identifier TableIdentifier, schema *spec.Schema, opts ...CreateTableOption) (*TableResult, error)

	// LoadTable loads a table's current metadata.
	LoadTable(ctx context.Context, identifier TableIdentifier) (*TableResult, error)

	// TableExists checks if a table exists.
	TableExists(ctx context.Context, identifier TableIdentifier) (bool, error)

	// DropTable drops a table. With purge set data files are deleted too.
	DropTable(ctx context.Context, identifier TableIdentifier, purge bool) error

	// CommitTable checks requirements against the current metadata, applies
	// updates and atomically installs the result.
	CommitTable(ctx context.Context, identifier TableIdentifier, requirements []TableRequirement, updates []TableUpdate) (*TableResult, error)

	// Operations returns the metadata operations of one table.
	Operations(identifier TableIdentifier) TableOperations
}

// TableOperations reads and commits the metadata of a single table.
type TableOperations interface {
	// Location is the table's base location.
	Location() string

	// FileIO is used for metadata, manifests and data files.
	FileIO() io.FileIO

	// Current reads the latest committed metadata.
	Current(ctx context.Context) (*TableResult, error)

	// Commit applies updates on top of the latest metadata.
	Commit(ctx context.Context, requirements []TableRequirement, updates []TableUpdate) (*TableResult, error)
}

// TableResult is a table's metadata and the file it was read from.
type TableResult struct {
	Identifier       TableIdentifier
	Metadata         *spec.TableMetadata
	MetadataLocation string
	Version          int
}

// Namespace represents an Iceberg namespace (database).
type Namespace []string

// String returns the namespace as a dot-separated string.
func (n Namespace) String() string {
	return strings.Join(n, ".")
}

// TableIdentifier is a fully qualified table name.
type TableIdentifier struct {
	Namespace Namespace
	Name      string
}

// String returns the table identifier as a dot-separated string.
func (t TableIdentifier) String() string {
	if len(t.Namespace) == 0 {
		return t.Name
	}
	return t.Namespace.String() + "." + t.Name
}

// NewIdentifier builds an identifier from a namespace and a table name.
func NewIdentifier(namespace, name string) TableIdentifier {
	var ns Namespace
	if namespace != "" {
		ns = strings.Split(namespace, ".")
	}
	return TableIdentifier{Namespace: ns, Name: name}
}

// ParseIdentifier parses "ns1.ns2.table". A bare table name is placed in
// defaultNamespace.
func ParseIdentifier(s, defaultNamespace string) (TableIdentifier, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	for _, p := range parts {
		if p == "" {
			return TableIdentifier{}, &icebergerr.ValidationError{
				Field:   "table",
				Message: fmt.Sprintf("invalid table identifier %q", s),
			}
		}
	}
	if len(parts) == 1 {
		return NewIdentifier(defaultNamespace, parts[0]), nil
	}
	return TableIdentifier{Namespace: parts[:len(parts)-1], Name: parts[len(parts)-1]}, nil
}

// CreateTableOption configures table creation.
type CreateTableOption func(*CreateTableConfig)

// CreateTableConfig holds table creation configuration.
type CreateTableConfig struct {
	Location   string
	Properties map[string]string
}

// WithLocation sets the location for table creation.
func WithLocation(location string) CreateTableOption {
	return func(c *CreateTableConfig) {
		c.Location = location
	}
}

// WithProperties sets properties for table creation.
func WithProperties(props map[string]string) CreateTableOption {
	return func(c *CreateTableConfig) {
		c.Properties = props
	}
}

// TableRequirement must hold on the current metadata for a commit to apply.
type TableRequirement struct {
	Type            string
	Ref             string
	UUID            string
	SnapshotID      *int64
	CurrentSchemaID int
}

// RequireAssertCreate requires that the table does not exist.
func RequireAssertCreate() TableRequirement {
	return TableRequirement{Type: "assert-create"}
}

// RequireAssertTableUUID requires a specific table UUID.
func RequireAssertTableUUID(uuid string) TableRequirement {
	return TableRequirement{Type: "assert-table-uuid", UUID: uuid}
}

// RequireAssertRefSnapshotID requires ref to point at snapshotID. A nil
// snapshotID requires the ref to be absent.
func RequireAssertRefSnapshotID(ref string, snapshotID *int64) TableRequirement {
	return TableRequirement{Type: "assert-ref-snapshot-id", Ref: ref, SnapshotID: snapshotID}
}

// RequireAssertCurrentSchemaID requires a specific current schema ID.
func RequireAssertCurrentSchemaID(id int) TableRequirement {
	return TableRequirement{Type: "assert-current-schema-id", CurrentSchemaID: id}
}

// Validate checks the requirement against meta, which is nil when the
// table does not exist.
func (r TableRequirement) Validate(meta *spec.TableMetadata) error {
	if r.Type == "assert-create" {
		if meta != nil {
			return &icebergerr.RequirementError{Requirement: r.Type, Expected: "no table", Actual: meta.TableUUID}
		}
		return nil
	}
	if meta == nil {
		return &icebergerr.RequirementError{Requirement: r.Type, Expected: "existing table", Actual: "no table"}
	}

	switch r.Type {
	case "assert-table-uuid":
		if meta.TableUUID != r.UUID {
			return &icebergerr.RequirementError{Requirement: r.Type, Expected: r.UUID, Actual: meta.TableUUID}
		}
	case "assert-ref-snapshot-id":
		current, ok := meta.RefSnapshotID(r.Ref)
		switch {
		case r.SnapshotID == nil && ok:
			return &icebergerr.RequirementError{Requirement: r.Type, Expected: "no ref " + r.Ref, Actual: current}
		case r.SnapshotID != nil && !ok:
			return &icebergerr.RequirementError{Requirement: r.Type, Expected: *r.SnapshotID, Actual: "no ref " + r.Ref}
		case r.SnapshotID != nil && current != *r.SnapshotID:
			return &icebergerr.RequirementError{Requirement: r.Type, Expected: *r.SnapshotID, Actual: current}
		}
	case "assert-current-schema-id":
		if meta.CurrentSchemaID != r.CurrentSchemaID {
			return &icebergerr.RequirementError{Requirement: r.Type, Expected: r.CurrentSchemaID, Actual: meta.CurrentSchemaID}
		}
	default:
		return fmt.Errorf("unknown requirement type %q", r.Type)
	}
	return nil
}

// TableUpdate is one change applied during a commit.
type TableUpdate struct {
	Action      string
	Schema      *spec.Schema
	SchemaID    int
	Snapshot    *spec.Snapshot
	RefName     string
	RefType     string
	SnapshotID  int64
	SnapshotIDs []int64
	Location    string
	Removals    []string
	Updates     map[string]string
}

// UpdateAddSchema adds a new schema.
func UpdateAddSchema(schema *spec.Schema) TableUpdate {
	return TableUpdate{Action: "add-schema", Schema: schema}
}

// UpdateSetCurrentSchema sets the current schema; -1 is the last added.
func UpdateSetCurrentSchema(schemaID int) TableUpdate {
	return TableUpdate{Action: "set-current-schema", SchemaID: schemaID}
}

// UpdateAddSnapshot adds a snapshot.
func UpdateAddSnapshot(snapshot *spec.Snapshot) TableUpdate {
	return TableUpdate{Action: "add-snapshot", Snapshot: snapshot}
}

// UpdateSetSnapshotRef sets a snapshot reference.
func UpdateSetSnapshotRef(refName string, snapshotID int64, refType string) TableUpdate {
	return TableUpdate{Action: "set-snapshot-ref", RefName: refName, SnapshotID: snapshotID, RefType: refType}
}

// UpdateRemoveSnapshots removes snapshots.
func UpdateRemoveSnapshots(snapshotIDs []int64) TableUpdate {
	return TableUpdate{Action: "remove-snapshots", SnapshotIDs: snapshotIDs}
}

// UpdateSetLocation sets the table location.
func UpdateSetLocation(location string) TableUpdate {
	return TableUpdate{Action: "set-location", Location: location}
}

// UpdateSetProperties sets table properties.
func UpdateSetProperties(updates map[string]string) TableUpdate {
	return TableUpdate{Action: "set-properties", Updates: updates}
}

// UpdateRemoveProperties removes table properties.
func UpdateRemoveProperties(removals []string) TableUpdate {
	return TableUpdate{Action: "remove-properties", Removals: removals}
}

// ApplyUpdates applies updates to base and returns new metadata.
// previousLocation is recorded in the metadata log.
func ApplyUpdates(base *spec.TableMetadata, previousLocation string, updates []TableUpdate) (*spec.TableMetadata, error) {
	b := spec.NewMetadataBuilder(base)
	for _, u := range updates {
		switch u.Action {
		case "add-schema":
			b.AddSchema(u.Schema)
		case "set-current-schema":
			b.SetCurrentSchema(u.SchemaID)
		case "add-snapshot":
			b.AddSnapshot(*u.Snapshot)
		case "set-snapshot-ref":
			b.SetRef(u.RefName, spec.SnapshotRef{SnapshotID: u.SnapshotID, Type: u.RefType})
		case "remove-snapshots":
			b.RemoveSnapshots(u.SnapshotIDs)
		case "set-location":
			b.SetLocation(u.Location)
		case "set-properties":
			b.SetProperties(u.Updates)
		case "remove-properties":
			b.RemoveProperties(u.Removals)
		default:
			return nil, fmt.Errorf("unsupported table update %q", u.Action)
		}
	}
	return b.Build(previousLocation)
}
