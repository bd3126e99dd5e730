package table

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/BrobridgeOrg/csv2iceberg/catalog"
	"github.com/BrobridgeOrg/csv2iceberg/io"
	"github.com/BrobridgeOrg/csv2iceberg/spec"
)

func testSchema() *spec.Schema {
	return spec.NewSchema(0, []spec.NestedField{
		{ID: 1, Name: "id", Type: spec.IntType},
		{ID: 2, Name: "name", Type: spec.StringType},
		{ID: 3, Name: "score", Type: spec.DoubleType},
	})
}

type testEnv struct {
	catalog *catalog.HadoopCatalog
	id      catalog.TableIdentifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	cat := catalog.NewHadoopCatalog("hadoop", filepath.Join(root, "bucket", "iceberg_data"), io.NewLocalFileIO(root))
	id := catalog.NewIdentifier("default", "people")
	if _, err := cat.CreateTable(context.Background(), id, testSchema()); err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}
	return &testEnv{catalog: cat, id: id}
}

// load returns an independent handle on the table at its latest version.
func (e *testEnv) load(t *testing.T) *Table {
	t.Helper()
	result, err := e.catalog.LoadTable(context.Background(), e.id)
	if err != nil {
		t.Fatalf("LoadTable() error = %v", err)
	}
	return New(result, e.catalog.Operations(e.id))
}

// peopleRecord builds a record without field IDs, the way a CSV reader
// produces one. A nil name is a null.
func peopleRecord(ids []int32, names []*string, scores []float64) arrow.Record {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "score", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	}, nil)

	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	b.Field(0).(*array.Int32Builder).AppendValues(ids, nil)
	nb := b.Field(1).(*array.StringBuilder)
	for _, n := range names {
		if n == nil {
			nb.AppendNull()
		} else {
			nb.Append(*n)
		}
	}
	b.Field(2).(*array.Float64Builder).AppendValues(scores, nil)
	return b.NewRecord()
}

func strp(s string) *string { return &s }

func samplePeople() arrow.Record {
	return peopleRecord(
		[]int32{1, 2, 3},
		[]*string{strp("alice"), nil, strp("carol")},
		[]float64{9.5, 7.25, 8})
}

// int32Column returns the values of an int32 column of tbl, -1 for null.
func int32Column(t *testing.T, tbl arrow.Table, name string) []int32 {
	t.Helper()
	idx := tbl.Schema().FieldIndices(name)
	if len(idx) == 0 {
		t.Fatalf("column %q not found in %s", name, tbl.Schema())
	}
	var out []int32
	for _, chunk := range tbl.Column(idx[0]).Data().Chunks() {
		a := chunk.(*array.Int32)
		for i := 0; i < a.Len(); i++ {
			if a.IsNull(i) {
				out = append(out, -1)
			} else {
				out = append(out, a.Value(i))
			}
		}
	}
	return out
}

func TestTableAccessors(t *testing.T) {
	env := newTestEnv(t)
	tbl := env.load(t)

	if got := tbl.Identifier().String(); got != "default.people" {
		t.Errorf("Identifier() = %v, want default.people", got)
	}
	if got := tbl.Version(); got != 1 {
		t.Errorf("Version() = %v, want 1", got)
	}
	if tbl.CurrentSnapshot() != nil {
		t.Errorf("CurrentSnapshot() = %v, want nil", tbl.CurrentSnapshot())
	}
	if got := tbl.Schema().NumFields(); got != 3 {
		t.Errorf("Schema().NumFields() = %v, want 3", got)
	}
	if want := env.catalog.TableLocation(env.id); tbl.Location() != want {
		t.Errorf("Location() = %v, want %v", tbl.Location(), want)
	}
}

func TestTableRefresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reader := env.load(t)
	writer := env.load(t)

	rec := samplePeople()
	defer rec.Release()
	if _, err := writer.Append(ctx, rec); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if reader.CurrentSnapshot() != nil {
		t.Fatal("stale handle sees the new snapshot before Refresh")
	}
	if err := reader.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if reader.CurrentSnapshot() == nil || reader.Version() != 2 {
		t.Errorf("after Refresh version = %d, snapshot = %v", reader.Version(), reader.CurrentSnapshot())
	}
}
