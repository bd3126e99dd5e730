package spec

import (
	"bytes"
	"testing"

	"github.com/linkedin/goavro/v2"
)

func TestManifestRoundTrip(t *testing.T) {
	snapID := int64(3051729675574597004)
	seq := int64(4)
	sortOrder := 0

	entries := []ManifestEntry{
		{
			Status:             EntryStatusAdded,
			SnapshotID:         &snapID,
			SequenceNumber:     &seq,
			FileSequenceNumber: &seq,
			DataFile: DataFile{
				Content:         FileContentData,
				FilePath:        "s3a://bucket/t/data/00000-0-abc.parquet",
				FileFormat:      FileFormatParquet,
				RecordCount:     3,
				FileSizeInBytes: 1024,
				ColumnSizes:     map[int]int64{1: 40, 2: 60},
				ValueCounts:     map[int]int64{1: 3, 2: 3},
				NullValueCounts: map[int]int64{1: 0, 2: 1},
				LowerBounds:     map[int][]byte{1: {1, 0, 0, 0}, 2: []byte("alice")},
				UpperBounds:     map[int][]byte{1: {3, 0, 0, 0}, 2: []byte("carol")},
				SplitOffsets:    []int64{4},
				SortOrderID:     &sortOrder,
			},
		},
		{
			Status: EntryStatusExisting,
			DataFile: DataFile{
				FilePath:        "s3a://bucket/t/data/older.parquet",
				FileFormat:      FileFormatParquet,
				RecordCount:     7,
				FileSizeInBytes: 2048,
			},
		},
	}

	var buf bytes.Buffer
	info := ManifestInfo{Schema: csvSchema(), Content: ManifestContentData}
	if err := WriteManifest(&buf, info, entries); err != nil {
		t.Fatalf("WriteManifest failed: %v", err)
	}

	manifest, err := ReadManifest(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadManifest failed: %v", err)
	}

	if len(manifest.Entries) != 2 {
		t.Fatalf("len(Entries) = %d, want 2", len(manifest.Entries))
	}

	got := manifest.Entries[0]
	if got.Status != EntryStatusAdded {
		t.Errorf("Status = %s, want added", got.Status)
	}
	if got.SnapshotID == nil || *got.SnapshotID != snapID {
		t.Errorf("SnapshotID = %v, want %d", got.SnapshotID, snapID)
	}
	df := got.DataFile
	if df.FilePath != entries[0].DataFile.FilePath || df.RecordCount != 3 || df.FileFormat != FileFormatParquet {
		t.Errorf("DataFile = %+v", df)
	}
	if df.NullValueCounts[2] != 1 || df.ValueCounts[1] != 3 || df.ColumnSizes[2] != 60 {
		t.Errorf("counts = %v %v %v", df.ValueCounts, df.NullValueCounts, df.ColumnSizes)
	}
	if string(df.LowerBounds[2]) != "alice" || string(df.UpperBounds[2]) != "carol" {
		t.Errorf("bounds = %v %v", df.LowerBounds, df.UpperBounds)
	}
	if len(df.SplitOffsets) != 1 || df.SplitOffsets[0] != 4 {
		t.Errorf("SplitOffsets = %v", df.SplitOffsets)
	}
	if df.SortOrderID == nil || *df.SortOrderID != 0 {
		t.Errorf("SortOrderID = %v", df.SortOrderID)
	}

	existing := manifest.Entries[1]
	if existing.SnapshotID != nil || existing.SequenceNumber != nil {
		t.Error("existing entry should keep null snapshot id and sequence number")
	}
	if existing.DataFile.ValueCounts != nil {
		t.Errorf("ValueCounts = %v, want nil", existing.DataFile.ValueCounts)
	}
	if live := manifest.LiveEntries(); len(live) != 2 {
		t.Errorf("len(LiveEntries()) = %d, want 2", len(live))
	}
}

func TestManifestHeader(t *testing.T) {
	data, err := EncodeManifest(ManifestInfo{Schema: csvSchema(), Content: ManifestContentData}, nil)
	if err != nil {
		t.Fatalf("EncodeManifest failed: %v", err)
	}

	ocf, err := goavro.NewOCFReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewOCFReader failed: %v", err)
	}
	meta := ocf.MetaData()
	if string(meta["format-version"]) != "2" {
		t.Errorf("format-version = %q, want 2", meta["format-version"])
	}
	if string(meta["content"]) != "data" {
		t.Errorf("content = %q, want data", meta["content"])
	}
	if string(meta["partition-spec"]) != "[]" {
		t.Errorf("partition-spec = %q, want []", meta["partition-spec"])
	}
	if !bytes.Contains(meta["schema"], []byte(`"name":"score"`)) {
		t.Errorf("schema = %s", meta["schema"])
	}

	manifest, err := ReadManifest(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadManifest failed: %v", err)
	}
	if len(manifest.Entries) != 0 {
		t.Errorf("len(Entries) = %d, want 0", len(manifest.Entries))
	}
}

func TestManifestListRoundTrip(t *testing.T) {
	parent := int64(1)
	nan := false
	manifests := []ManifestFile{
		{
			ManifestPath:      "s3a://bucket/t/metadata/a-m0.avro",
			ManifestLength:    4096,
			Content:           ManifestContentData,
			SequenceNumber:    2,
			MinSequenceNumber: 1,
			AddedSnapshotID:   2,
			AddedFilesCount:   1,
			AddedRowsCount:    3,
		},
		{
			ManifestPath:       "s3a://bucket/t/metadata/b-m0.avro",
			ManifestLength:     2048,
			SequenceNumber:     1,
			MinSequenceNumber:  1,
			AddedSnapshotID:    1,
			ExistingFilesCount: 2,
			ExistingRowsCount:  6,
			Partitions:         []PartitionFieldSummary{{ContainsNull: true, ContainsNaN: &nan}},
		},
	}

	data, err := EncodeManifestList(ManifestListInfo{SnapshotID: 2, ParentSnapshotID: &parent, SequenceNumber: 2}, manifests)
	if err != nil {
		t.Fatalf("EncodeManifestList failed: %v", err)
	}

	got, err := ReadManifestList(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadManifestList failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ManifestPath != manifests[0].ManifestPath || got[0].AddedRowsCount != 3 || got[0].SequenceNumber != 2 {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].ExistingFilesCount != 2 || got[1].LiveFilesCount() != 2 {
		t.Errorf("got[1] = %+v", got[1])
	}
	if len(got[1].Partitions) != 1 || !got[1].Partitions[0].ContainsNull || got[1].Partitions[0].ContainsNaN == nil {
		t.Errorf("partitions = %+v", got[1].Partitions)
	}
	if got[0].Partitions != nil {
		t.Errorf("partitions = %+v, want nil", got[0].Partitions)
	}
}

func TestInheritSequenceNumbers(t *testing.T) {
	m := &Manifest{Entries: []ManifestEntry{{Status: EntryStatusAdded}}}
	m.InheritSequenceNumbers(ManifestFile{AddedSnapshotID: 9, SequenceNumber: 5})

	e := m.Entries[0]
	if e.SnapshotID == nil || *e.SnapshotID != 9 {
		t.Errorf("SnapshotID = %v, want 9", e.SnapshotID)
	}
	if e.SequenceNumber == nil || *e.SequenceNumber != 5 {
		t.Errorf("SequenceNumber = %v, want 5", e.SequenceNumber)
	}
}
