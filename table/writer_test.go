package table

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/BrobridgeOrg/csv2iceberg/io"
	"github.com/BrobridgeOrg/csv2iceberg/spec"
)

func TestDataWriterWrite(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tbl := env.load(t)

	w, err := NewDataWriter(tbl)
	if err != nil {
		t.Fatalf("NewDataWriter() error = %v", err)
	}
	rec := samplePeople()
	defer rec.Release()

	files, err := w.WithTaskID(3).Write(ctx, rec)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("Write() returned %d files, want 1", len(files))
	}
	df := files[0]

	if !strings.HasPrefix(df.FilePath, io.JoinPath(tbl.Location(), "data", "00000-3-")) ||
		!strings.HasSuffix(df.FilePath, "-00001.parquet") {
		t.Errorf("FilePath = %v", df.FilePath)
	}
	if df.RecordCount != 3 {
		t.Errorf("RecordCount = %v, want 3", df.RecordCount)
	}
	if df.FileFormat != spec.FileFormatParquet {
		t.Errorf("FileFormat = %v, want PARQUET", df.FileFormat)
	}
	data, err := io.ReadAll(ctx, tbl.FileIO(), df.FilePath)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if int64(len(data)) != df.FileSizeInBytes {
		t.Errorf("FileSizeInBytes = %v, file has %v bytes", df.FileSizeInBytes, len(data))
	}
	if !bytes.HasPrefix(data, []byte("PAR1")) {
		t.Errorf("data file does not start with the parquet magic")
	}

	for id := 1; id <= 3; id++ {
		if df.ValueCounts[id] != 3 {
			t.Errorf("ValueCounts[%d] = %v, want 3", id, df.ValueCounts[id])
		}
		if df.ColumnSizes[id] <= 0 {
			t.Errorf("ColumnSizes[%d] = %v, want > 0", id, df.ColumnSizes[id])
		}
	}
	if df.NullValueCounts[2] != 1 {
		t.Errorf("NullValueCounts[2] = %v, want 1", df.NullValueCounts[2])
	}
	if df.NaNValueCounts[3] != 0 {
		t.Errorf("NaNValueCounts[3] = %v, want 0", df.NaNValueCounts[3])
	}
	if len(df.SplitOffsets) != 1 {
		t.Errorf("SplitOffsets = %v, want one row group", df.SplitOffsets)
	}

	bounds := []struct {
		id           int
		typ          spec.Type
		lower, upper any
	}{
		{1, spec.IntType, int32(1), int32(3)},
		{2, spec.StringType, "alice", "carol"},
		{3, spec.DoubleType, 7.25, 9.5},
	}
	for _, b := range bounds {
		lower, err := spec.DeserializeValue(df.LowerBounds[b.id], b.typ)
		if err != nil || lower != b.lower {
			t.Errorf("LowerBounds[%d] = %v (%v), want %v", b.id, lower, err, b.lower)
		}
		upper, err := spec.DeserializeValue(df.UpperBounds[b.id], b.typ)
		if err != nil || upper != b.upper {
			t.Errorf("UpperBounds[%d] = %v (%v), want %v", b.id, upper, err, b.upper)
		}
	}
}

func TestDataWriterRollsFiles(t *testing.T) {
	env := newTestEnv(t)
	tbl := env.load(t)

	w, err := NewDataWriter(tbl)
	if err != nil {
		t.Fatalf("NewDataWriter() error = %v", err)
	}
	rec := samplePeople()
	defer rec.Release()

	files, err := w.WithTargetFileSize(1).Write(context.Background(), rec)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("Write() returned %d files, want one per row", len(files))
	}
	seen := make(map[string]bool)
	for _, f := range files {
		if f.RecordCount != 1 {
			t.Errorf("%s RecordCount = %v, want 1", f.FilePath, f.RecordCount)
		}
		seen[f.FilePath] = true
	}
	if len(seen) != 3 {
		t.Errorf("file paths are not unique: %v", seen)
	}
}

func TestDataWriterCompressionProperty(t *testing.T) {
	env := newTestEnv(t)
	tbl := env.load(t)
	tbl.metadata.Properties = map[string]string{spec.PropertyParquetCompression: "lzo"}

	if _, err := NewDataWriter(tbl); err == nil {
		t.Error("NewDataWriter() with unsupported codec: want error")
	}

	tbl.metadata.Properties[spec.PropertyParquetCompression] = "ZSTD"
	if _, err := NewDataWriter(tbl); err != nil {
		t.Errorf("NewDataWriter() with zstd error = %v", err)
	}
}

func TestTruncateBounds(t *testing.T) {
	tests := []struct {
		in      string
		lower   string
		upper   string
		upperOK bool
	}{
		{"short", "short", "short", true},
		{"abcdefghijklmnopqrstuvwxyz", "abcdefghijklmnop", "abcdefghijklmnoq", true},
		{"ääääääääääääääääää", "ääääääääääääääää", "äääääääääääääääå", true},
		{strings.Repeat("\U0010FFFF", 17), strings.Repeat("\U0010FFFF", 16), "", false},
	}

	for _, tt := range tests {
		if got := truncateLower(tt.in); got != tt.lower {
			t.Errorf("truncateLower(%q) = %q, want %q", tt.in, got, tt.lower)
		}
		got, ok := truncateUpper(tt.in)
		if got != tt.upper || ok != tt.upperOK {
			t.Errorf("truncateUpper(%q) = %q, %v, want %q, %v", tt.in, got, ok, tt.upper, tt.upperOK)
		}
	}
}

func TestRowsPerFile(t *testing.T) {
	rec := samplePeople()
	defer rec.Release()

	if got := rowsPerFile(rec, DefaultTargetFileSize); got != 3 {
		t.Errorf("rowsPerFile(default) = %v, want 3", got)
	}
	if got := rowsPerFile(rec, 1); got != 1 {
		t.Errorf("rowsPerFile(1) = %v, want 1", got)
	}
}
