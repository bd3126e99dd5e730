package spec

import (
	"errors"
	"testing"
	"time"

	"github.com/BrobridgeOrg/csv2iceberg/icebergerr"
)

func newTestMetadata() *TableMetadata {
	return NewTableMetadataV2("9c12d441-03fe-4693-9a96-a0705ddf69c1", "s3a://bucket/iceberg_data/default/t", csvSchema(), nil)
}

func snapshot(id int64, parent *int64, seq, ts int64) Snapshot {
	return Snapshot{
		SnapshotID:       id,
		ParentSnapshotID: parent,
		SequenceNumber:   seq,
		TimestampMs:      ts,
		ManifestList:     "s3a://bucket/m.avro",
		Summary:          NewSummary(OpAppend),
	}
}

func TestNewTableMetadataV2(t *testing.T) {
	meta := newTestMetadata()

	if meta.FormatVersion != FormatVersionV2 {
		t.Errorf("FormatVersion = %d, want 2", meta.FormatVersion)
	}
	if meta.LastColumnID != 3 {
		t.Errorf("LastColumnID = %d, want 3", meta.LastColumnID)
	}
	if meta.LastPartitionID != 999 {
		t.Errorf("LastPartitionID = %d, want 999", meta.LastPartitionID)
	}
	if meta.CurrentSnapshot() != nil {
		t.Error("new table should have no current snapshot")
	}
	if !meta.DefaultPartitionSpec().IsUnpartitioned() {
		t.Error("new table should be unpartitioned")
	}
	if meta.CurrentSchema() == nil {
		t.Fatal("CurrentSchema() = nil")
	}
}

func TestMetadataBuilder_AddSnapshot(t *testing.T) {
	base := newTestMetadata()
	base.LastUpdatedMs = 1000

	first := snapshot(1, nil, 1, 2000)
	meta, err := NewMetadataBuilder(base).
		AddSnapshot(first).
		SetRef(MainBranch, SnapshotRef{SnapshotID: 1, Type: "branch"}).
		Build("s3a://bucket/iceberg_data/default/t/metadata/v1.metadata.json")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if meta.CurrentSnapshot() == nil || meta.CurrentSnapshot().SnapshotID != 1 {
		t.Fatalf("CurrentSnapshot() = %v, want snapshot 1", meta.CurrentSnapshot())
	}
	if meta.LastSequenceNumber != 1 {
		t.Errorf("LastSequenceNumber = %d, want 1", meta.LastSequenceNumber)
	}
	if len(meta.SnapshotLog) != 1 || meta.SnapshotLog[0].TimestampMs != 2000 {
		t.Errorf("SnapshotLog = %v", meta.SnapshotLog)
	}
	if len(meta.MetadataLog) != 1 || meta.MetadataLog[0].TimestampMs != 1000 {
		t.Errorf("MetadataLog = %v", meta.MetadataLog)
	}
	if meta.LastUpdatedMs != 2000 {
		t.Errorf("LastUpdatedMs = %d, want 2000", meta.LastUpdatedMs)
	}

	// base is untouched
	if base.CurrentSnapshotID != nil || len(base.Snapshots) != 0 || len(base.Refs) != 0 {
		t.Error("builder modified its base metadata")
	}

	parent := int64(1)
	_, err = NewMetadataBuilder(meta).AddSnapshot(snapshot(2, &parent, 1, 3000)).Build("")
	if err == nil {
		t.Error("adding a snapshot with a stale sequence number should fail")
	}

	_, err = NewMetadataBuilder(meta).AddSnapshot(snapshot(1, &parent, 2, 3000)).Build("")
	if err == nil {
		t.Error("adding a duplicate snapshot id should fail")
	}

	_, err = NewMetadataBuilder(meta).SetRef(MainBranch, SnapshotRef{SnapshotID: 42, Type: "branch"}).Build("")
	if err == nil {
		t.Error("pointing main at an unknown snapshot should fail")
	}
}

func TestMetadataBuilder_MetadataLogLimit(t *testing.T) {
	meta := newTestMetadata()
	meta.Properties[PropertyMetadataPreviousVersionsMax] = "2"

	for i, loc := range []string{"v1", "v2", "v3"} {
		var err error
		meta, err = NewMetadataBuilder(meta).SetProperties(map[string]string{"n": loc}).Build(loc)
		if err != nil {
			t.Fatalf("Build %d failed: %v", i, err)
		}
	}

	if len(meta.MetadataLog) != 2 {
		t.Fatalf("len(MetadataLog) = %d, want 2", len(meta.MetadataLog))
	}
	if meta.MetadataLog[0].MetadataFile != "v2" || meta.MetadataLog[1].MetadataFile != "v3" {
		t.Errorf("MetadataLog = %v, want v2, v3", meta.MetadataLog)
	}
}

func TestMetadataBuilder_Schemas(t *testing.T) {
	meta := newTestMetadata()

	wider := NewSchema(0, append(append([]NestedField{}, meta.CurrentSchema().Fields...),
		NestedField{ID: 4, Name: "email", Type: StringType}))

	next, err := NewMetadataBuilder(meta).AddSchema(wider).SetCurrentSchema(-1).Build("")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if next.CurrentSchemaID != 1 {
		t.Errorf("CurrentSchemaID = %d, want 1", next.CurrentSchemaID)
	}
	if next.LastColumnID != 4 {
		t.Errorf("LastColumnID = %d, want 4", next.LastColumnID)
	}

	same, err := NewMetadataBuilder(next).AddSchema(NewSchema(5, wider.Fields)).Build("")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(same.Schemas) != 2 {
		t.Errorf("len(Schemas) = %d, want 2", len(same.Schemas))
	}

	if _, err := NewMetadataBuilder(meta).SetCurrentSchema(9).Build(""); err == nil {
		t.Error("SetCurrentSchema(9) should fail")
	}
}

func TestSnapshotAsOf(t *testing.T) {
	meta := newTestMetadata()
	parent := int64(1)
	meta, err := NewMetadataBuilder(meta).
		AddSnapshot(snapshot(1, nil, 1, 1000)).
		SetRef(MainBranch, SnapshotRef{SnapshotID: 1, Type: "branch"}).
		AddSnapshot(snapshot(2, &parent, 2, 2000)).
		SetRef(MainBranch, SnapshotRef{SnapshotID: 2, Type: "branch"}).
		Build("")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	snap, err := meta.SnapshotAsOf(time.UnixMilli(1500))
	if err != nil || snap.SnapshotID != 1 {
		t.Errorf("SnapshotAsOf(1500) = %v, %v, want snapshot 1", snap, err)
	}
	snap, err = meta.SnapshotAsOf(time.UnixMilli(2000))
	if err != nil || snap.SnapshotID != 2 {
		t.Errorf("SnapshotAsOf(2000) = %v, %v, want snapshot 2", snap, err)
	}
	if _, err := meta.SnapshotAsOf(time.UnixMilli(10)); !errors.Is(err, icebergerr.ErrSnapshotNotFound) {
		t.Errorf("SnapshotAsOf(10) error = %v, want ErrSnapshotNotFound", err)
	}
}

func TestParseTableMetadata(t *testing.T) {
	meta := newTestMetadata()
	meta, err := NewMetadataBuilder(meta).
		AddSnapshot(snapshot(7, nil, 1, 1000)).
		SetRef(MainBranch, SnapshotRef{SnapshotID: 7, Type: "branch"}).
		Build("")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	data, err := meta.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}
	parsed, err := ParseTableMetadata(data)
	if err != nil {
		t.Fatalf("ParseTableMetadata failed: %v", err)
	}

	if parsed.TableUUID != meta.TableUUID || parsed.Location != meta.Location {
		t.Errorf("parsed identity = %s %s", parsed.TableUUID, parsed.Location)
	}
	if parsed.CurrentSnapshot().Operation() != OpAppend {
		t.Errorf("operation = %s, want append", parsed.CurrentSnapshot().Operation())
	}
	if !parsed.CurrentSchema().Equals(meta.CurrentSchema()) {
		t.Error("current schema changed through JSON")
	}
}

func TestParseTableMetadataV1(t *testing.T) {
	data := []byte(`{
		"format-version": 1,
		"table-uuid": "d20125c8-7284-442c-9aea-15fee620737c",
		"location": "s3://bucket/test/location",
		"last-updated-ms": 1602638573874,
		"last-column-id": 3,
		"schema": {
			"type": "struct",
			"fields": [
				{"id": 1, "name": "x", "required": true, "type": "long"},
				{"id": 2, "name": "y", "required": true, "type": "long", "doc": "comment"},
				{"id": 3, "name": "z", "required": true, "type": "long"}
			]
		},
		"partition-spec": [{"name": "x", "transform": "identity", "source-id": 1, "field-id": 1000}],
		"properties": {},
		"current-snapshot-id": -1,
		"snapshots": []
	}`)

	meta, err := ParseTableMetadata(data)
	if err != nil {
		t.Fatalf("ParseTableMetadata failed: %v", err)
	}
	if len(meta.Schemas) != 1 || meta.CurrentSchema().NumFields() != 3 {
		t.Errorf("schemas = %v", meta.Schemas)
	}
	if meta.DefaultPartitionSpec().LastFieldID() != 1000 {
		t.Errorf("partition spec = %v", meta.DefaultPartitionSpec())
	}
	if meta.CurrentSnapshotID != nil {
		t.Errorf("CurrentSnapshotID = %d, want nil", *meta.CurrentSnapshotID)
	}
	if meta.DefaultSortOrder() == nil {
		t.Error("DefaultSortOrder() = nil")
	}
}

func TestSummaryTotals(t *testing.T) {
	parent := NewSummary(OpAppend)
	parent.SetInt(SummaryTotalRecords, 10)
	parent.SetInt(SummaryTotalDataFiles, 1)
	parent.SetInt(SummaryTotalFilesSize, 100)

	s := NewSummary(OpAppend)
	s.SetInt(SummaryAddedRecords, 5)
	s.SetInt(SummaryAddedDataFiles, 1)
	s.SetInt(SummaryAddedFilesSize, 50)
	s.UpdateTotals(parent)

	if got := s.Int(SummaryTotalRecords); got != 15 {
		t.Errorf("total-records = %d, want 15", got)
	}
	if got := s.Int(SummaryTotalDataFiles); got != 2 {
		t.Errorf("total-data-files = %d, want 2", got)
	}
	if got := s.Int(SummaryTotalFilesSize); got != 150 {
		t.Errorf("total-files-size = %d, want 150", got)
	}

	first := NewSummary(OpAppend)
	first.SetInt(SummaryAddedRecords, 3)
	first.UpdateTotals(nil)
	if got := first.Int(SummaryTotalRecords); got != 3 {
		t.Errorf("total-records without parent = %d, want 3", got)
	}
}
