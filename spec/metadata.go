package spec

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/BrobridgeOrg/csv2iceberg/icebergerr"
)

// FormatVersion is the Iceberg format version.
type FormatVersion int

const (
	FormatVersionV1 FormatVersion = 1
	FormatVersionV2 FormatVersion = 2
)

// Table properties understood by this module.
const (
	PropertyMetadataPreviousVersionsMax = "write.metadata.previous-versions-max"
	PropertyMetadataDeleteAfterCommit   = "write.metadata.delete-after-commit.enabled"
	PropertyTargetFileSizeBytes         = "write.target-file-size-bytes"
	PropertyParquetCompression          = "write.parquet.compression-codec"
	PropertyCommitNumRetries            = "commit.retry.num-retries"

	defaultPreviousVersionsMax = 100
)

// SortDirection is the sort direction of a sort field.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// NullOrder places nulls within a sort.
type NullOrder string

const (
	NullsFirst NullOrder = "nulls-first"
	NullsLast  NullOrder = "nulls-last"
)

// SortField is a field of a sort order.
type SortField struct {
	Transform string        `json:"transform"`
	SourceID  int           `json:"source-id"`
	Direction SortDirection `json:"direction"`
	NullOrder NullOrder     `json:"null-order"`
}

// SortOrder is a table sort order.
type SortOrder struct {
	OrderID int         `json:"order-id"`
	Fields  []SortField `json:"fields"`
}

// UnsortedOrder returns the empty sort order.
func UnsortedOrder() SortOrder {
	return SortOrder{OrderID: 0, Fields: []SortField{}}
}

// MetadataLogEntry records a previous metadata file.
type MetadataLogEntry struct {
	TimestampMs  int64  `json:"timestamp-ms"`
	MetadataFile string `json:"metadata-file"`
}

// TableMetadata is the content of a vN.metadata.json file.
type TableMetadata struct {
	FormatVersion      FormatVersion          `json:"format-version"`
	TableUUID          string                 `json:"table-uuid"`
	Location           string                 `json:"location"`
	LastSequenceNumber int64                  `json:"last-sequence-number"`
	LastUpdatedMs      int64                  `json:"last-updated-ms"`
	LastColumnID       int                    `json:"last-column-id"`
	Schemas            []*Schema              `json:"schemas"`
	CurrentSchemaID    int                    `json:"current-schema-id"`
	PartitionSpecs     []PartitionSpec        `json:"partition-specs"`
	DefaultSpecID      int                    `json:"default-spec-id"`
	LastPartitionID    int                    `json:"last-partition-id"`
	Properties         map[string]string      `json:"properties,omitempty"`
	CurrentSnapshotID  *int64                 `json:"current-snapshot-id,omitempty"`
	Snapshots          []Snapshot             `json:"snapshots,omitempty"`
	SnapshotLog        []SnapshotLog          `json:"snapshot-log,omitempty"`
	MetadataLog        []MetadataLogEntry     `json:"metadata-log,omitempty"`
	SortOrders         []SortOrder            `json:"sort-orders"`
	DefaultSortOrderID int                    `json:"default-sort-order-id"`
	Refs               map[string]SnapshotRef `json:"refs,omitempty"`

	// v1 only
	Schema        *Schema          `json:"schema,omitempty"`
	PartitionSpec []PartitionField `json:"partition-spec,omitempty"`
}

// CurrentSchema returns the current schema.
func (m *TableMetadata) CurrentSchema() *Schema {
	if s := m.SchemaByID(m.CurrentSchemaID); s != nil {
		return s
	}
	return m.Schema
}

// SchemaByID returns a schema by its ID.
func (m *TableMetadata) SchemaByID(id int) *Schema {
	for _, s := range m.Schemas {
		if s.SchemaID == id {
			return s
		}
	}
	return nil
}

// DefaultPartitionSpec returns the default partition spec.
func (m *TableMetadata) DefaultPartitionSpec() *PartitionSpec {
	for i := range m.PartitionSpecs {
		if m.PartitionSpecs[i].SpecID == m.DefaultSpecID {
			return &m.PartitionSpecs[i]
		}
	}
	return nil
}

// CurrentSnapshot returns the current snapshot, or nil for an empty table.
func (m *TableMetadata) CurrentSnapshot() *Snapshot {
	if m.CurrentSnapshotID == nil {
		return nil
	}
	return m.SnapshotByID(*m.CurrentSnapshotID)
}

// SnapshotByID returns a snapshot by its ID.
func (m *TableMetadata) SnapshotByID(id int64) *Snapshot {
	for i := range m.Snapshots {
		if m.Snapshots[i].SnapshotID == id {
			return &m.Snapshots[i]
		}
	}
	return nil
}

// SnapshotAsOf returns the snapshot that was current at ts according to
// the snapshot log.
func (m *TableMetadata) SnapshotAsOf(ts time.Time) (*Snapshot, error) {
	ms := ts.UnixMilli()
	var found *int64
	for _, entry := range m.SnapshotLog {
		if entry.TimestampMs > ms {
			break
		}
		id := entry.SnapshotID
		found = &id
	}
	if found == nil {
		return nil, fmt.Errorf("%w: no snapshot at or before %s", icebergerr.ErrSnapshotNotFound, ts.Format(time.RFC3339))
	}
	snap := m.SnapshotByID(*found)
	if snap == nil {
		return nil, fmt.Errorf("%w: %d", icebergerr.ErrSnapshotNotFound, *found)
	}
	return snap, nil
}

// RefSnapshotID returns the snapshot a ref points at.
func (m *TableMetadata) RefSnapshotID(ref string) (int64, bool) {
	r, ok := m.Refs[ref]
	if !ok {
		return 0, false
	}
	return r.SnapshotID, true
}

// Property returns a table property or def when unset.
func (m *TableMetadata) Property(key, def string) string {
	if v, ok := m.Properties[key]; ok {
		return v
	}
	return def
}

// IntProperty returns an integer table property or def when unset or
// malformed.
func (m *TableMetadata) IntProperty(key string, def int64) int64 {
	v, err := strconv.ParseInt(m.Properties[key], 10, 64)
	if err != nil {
		return def
	}
	return v
}

// DefaultSortOrder returns the default sort order.
func (m *TableMetadata) DefaultSortOrder() *SortOrder {
	for i := range m.SortOrders {
		if m.SortOrders[i].OrderID == m.DefaultSortOrderID {
			return &m.SortOrders[i]
		}
	}
	return nil
}

// ParseTableMetadata parses table metadata from JSON, lifting v1 fields
// into their v2 form.
func ParseTableMetadata(data []byte) (*TableMetadata, error) {
	var meta TableMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse table metadata: %w", err)
	}

	if meta.FormatVersion == FormatVersionV1 {
		if meta.Schema != nil && len(meta.Schemas) == 0 {
			meta.Schemas = []*Schema{meta.Schema}
			meta.CurrentSchemaID = meta.Schema.SchemaID
		}
		if len(meta.PartitionSpecs) == 0 {
			meta.PartitionSpecs = []PartitionSpec{{SpecID: 0, Fields: meta.PartitionSpec}}
			if meta.PartitionSpecs[0].Fields == nil {
				meta.PartitionSpecs[0].Fields = []PartitionField{}
			}
			meta.DefaultSpecID = 0
		}
		if len(meta.SortOrders) == 0 {
			meta.SortOrders = []SortOrder{UnsortedOrder()}
			meta.DefaultSortOrderID = 0
		}
	}

	if meta.CurrentSchema() == nil {
		return nil, fmt.Errorf("%w: current schema %d not found", icebergerr.ErrInvalidSchema, meta.CurrentSchemaID)
	}

	// Older writers leave refs out; main follows the current snapshot.
	if meta.CurrentSnapshotID != nil && *meta.CurrentSnapshotID != -1 {
		if _, ok := meta.Refs[MainBranch]; !ok {
			if meta.Refs == nil {
				meta.Refs = map[string]SnapshotRef{}
			}
			meta.Refs[MainBranch] = SnapshotRef{SnapshotID: *meta.CurrentSnapshotID, Type: "branch"}
		}
	} else {
		meta.CurrentSnapshotID = nil
	}

	return &meta, nil
}

// ToJSON serializes the metadata.
func (m *TableMetadata) ToJSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// NewTableMetadataV2 creates metadata for a new, empty v2 table. Field IDs
// of schema are reassigned starting at 1.
func NewTableMetadataV2(tableUUID, location string, schema *Schema, properties map[string]string) *TableMetadata {
	fresh := AssignFreshIDs(0, schema)
	unpartitioned := UnpartitionedSpec()

	if properties == nil {
		properties = map[string]string{}
	}

	return &TableMetadata{
		FormatVersion:      FormatVersionV2,
		TableUUID:          tableUUID,
		Location:           location,
		LastUpdatedMs:      time.Now().UnixMilli(),
		LastColumnID:       fresh.HighestFieldID(),
		Schemas:            []*Schema{fresh},
		CurrentSchemaID:    fresh.SchemaID,
		PartitionSpecs:     []PartitionSpec{*unpartitioned},
		DefaultSpecID:      unpartitioned.SpecID,
		LastPartitionID:    unpartitioned.LastFieldID(),
		Properties:         properties,
		Snapshots:          []Snapshot{},
		SnapshotLog:        []SnapshotLog{},
		MetadataLog:        []MetadataLogEntry{},
		SortOrders:         []SortOrder{UnsortedOrder()},
		DefaultSortOrderID: 0,
		Refs:               map[string]SnapshotRef{},
	}
}

// MetadataBuilder applies changes to a copy of existing metadata.
type MetadataBuilder struct {
	base *TableMetadata
	meta *TableMetadata
	err  error
}

// NewMetadataBuilder starts from a deep enough copy of base that base is
// never modified.
func NewMetadataBuilder(base *TableMetadata) *MetadataBuilder {
	copied := *base
	copied.Schemas = slices.Clone(base.Schemas)
	copied.PartitionSpecs = slices.Clone(base.PartitionSpecs)
	copied.Snapshots = slices.Clone(base.Snapshots)
	copied.SortOrders = slices.Clone(base.SortOrders)
	copied.SnapshotLog = slices.Clone(base.SnapshotLog)
	copied.MetadataLog = slices.Clone(base.MetadataLog)
	copied.Properties = maps.Clone(base.Properties)
	copied.Refs = maps.Clone(base.Refs)
	if base.CurrentSnapshotID != nil {
		id := *base.CurrentSnapshotID
		copied.CurrentSnapshotID = &id
	}

	return &MetadataBuilder{base: base, meta: &copied}
}

func (b *MetadataBuilder) fail(format string, args ...any) *MetadataBuilder {
	if b.err == nil {
		b.err = fmt.Errorf(format, args...)
	}
	return b
}

// AddSnapshot adds a snapshot. Its sequence number must be above the
// table's last sequence number.
func (b *MetadataBuilder) AddSnapshot(snap Snapshot) *MetadataBuilder {
	if b.meta.SnapshotByID(snap.SnapshotID) != nil {
		return b.fail("snapshot %d already exists", snap.SnapshotID)
	}
	if b.meta.FormatVersion >= FormatVersionV2 && snap.SequenceNumber <= b.meta.LastSequenceNumber {
		return b.fail("cannot add snapshot with sequence number %d older than last sequence number %d",
			snap.SequenceNumber, b.meta.LastSequenceNumber)
	}

	b.meta.Snapshots = append(b.meta.Snapshots, snap)
	b.meta.LastSequenceNumber = max(b.meta.LastSequenceNumber, snap.SequenceNumber)
	b.meta.LastUpdatedMs = snap.TimestampMs
	return b
}

// SetRef points a branch or tag at a snapshot. Moving main also moves the
// current snapshot and appends to the snapshot log.
func (b *MetadataBuilder) SetRef(name string, ref SnapshotRef) *MetadataBuilder {
	snap := b.meta.SnapshotByID(ref.SnapshotID)
	if snap == nil {
		return b.fail("cannot set ref %s to unknown snapshot %d", name, ref.SnapshotID)
	}
	if b.meta.Refs == nil {
		b.meta.Refs = map[string]SnapshotRef{}
	}
	b.meta.Refs[name] = ref

	if name == MainBranch {
		id := ref.SnapshotID
		b.meta.CurrentSnapshotID = &id
		b.meta.SnapshotLog = append(b.meta.SnapshotLog, SnapshotLog{
			SnapshotID:  id,
			TimestampMs: snap.TimestampMs,
		})
	}
	return b
}

// AddSchema adds a schema with the next free schema ID. A schema whose
// fields match an existing schema is not added again.
func (b *MetadataBuilder) AddSchema(schema *Schema) *MetadataBuilder {
	for _, s := range b.meta.Schemas {
		if s.SameFields(schema) {
			return b
		}
	}

	next := 0
	for _, s := range b.meta.Schemas {
		next = max(next, s.SchemaID+1)
	}
	added := *schema
	added.SchemaID = next

	b.meta.Schemas = append(b.meta.Schemas, &added)
	b.meta.LastColumnID = max(b.meta.LastColumnID, added.HighestFieldID())
	return b
}

// SetCurrentSchema makes the schema with the given ID current. An ID of -1
// selects the schema added last.
func (b *MetadataBuilder) SetCurrentSchema(id int) *MetadataBuilder {
	if id == -1 && len(b.meta.Schemas) > 0 {
		id = b.meta.Schemas[len(b.meta.Schemas)-1].SchemaID
	}
	if b.meta.SchemaByID(id) == nil {
		return b.fail("unknown schema %d", id)
	}
	b.meta.CurrentSchemaID = id
	return b
}

// SetProperties sets table properties.
func (b *MetadataBuilder) SetProperties(updates map[string]string) *MetadataBuilder {
	if b.meta.Properties == nil {
		b.meta.Properties = map[string]string{}
	}
	maps.Copy(b.meta.Properties, updates)
	return b
}

// RemoveProperties removes table properties.
func (b *MetadataBuilder) RemoveProperties(keys []string) *MetadataBuilder {
	for _, k := range keys {
		delete(b.meta.Properties, k)
	}
	return b
}

// SetLocation sets the table location.
func (b *MetadataBuilder) SetLocation(location string) *MetadataBuilder {
	b.meta.Location = location
	return b
}

// RemoveSnapshots drops snapshots and any refs pointing at them.
func (b *MetadataBuilder) RemoveSnapshots(ids []int64) *MetadataBuilder {
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	b.meta.Snapshots = slices.DeleteFunc(b.meta.Snapshots, func(s Snapshot) bool {
		return drop[s.SnapshotID]
	})
	for name, ref := range b.meta.Refs {
		if drop[ref.SnapshotID] {
			delete(b.meta.Refs, name)
		}
	}
	if b.meta.CurrentSnapshotID != nil && drop[*b.meta.CurrentSnapshotID] {
		b.meta.CurrentSnapshotID = nil
	}
	return b
}

// Build returns the new metadata. previousLocation is the metadata file
// the base was read from; when set it is appended to the metadata log,
// which is trimmed to write.metadata.previous-versions-max entries.
func (b *MetadataBuilder) Build(previousLocation string) (*TableMetadata, error) {
	if b.err != nil {
		return nil, b.err
	}

	if previousLocation != "" {
		b.meta.MetadataLog = append(b.meta.MetadataLog, MetadataLogEntry{
			TimestampMs:  b.base.LastUpdatedMs,
			MetadataFile: previousLocation,
		})
		keep := int(b.meta.IntProperty(PropertyMetadataPreviousVersionsMax, defaultPreviousVersionsMax))
		if keep >= 0 && len(b.meta.MetadataLog) > keep {
			b.meta.MetadataLog = b.meta.MetadataLog[len(b.meta.MetadataLog)-keep:]
		}
	}

	if b.meta.LastUpdatedMs <= b.base.LastUpdatedMs {
		b.meta.LastUpdatedMs = max(time.Now().UnixMilli(), b.base.LastUpdatedMs+1)
	}
	return b.meta, nil
}
