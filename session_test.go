package csv2iceberg

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrobridgeOrg/csv2iceberg/dataset"
	"github.com/BrobridgeOrg/csv2iceberg/icebergerr"
	"github.com/BrobridgeOrg/csv2iceberg/io"
	"github.com/BrobridgeOrg/csv2iceberg/spec"
)

func newLocalSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithLocalStorage(t.TempDir()), WithRetryBackoff(0)}, opts...)
	s, err := NewSession(context.Background(), opts...)
	require.NoError(t, err)
	return s
}

func readDataset(t *testing.T, csv string) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.ReadCSV(context.Background(), strings.NewReader(csv))
	require.NoError(t, err)
	t.Cleanup(ds.Release)
	return ds
}

func countRows(t *testing.T, s *Session, name string) int64 {
	t.Helper()
	tbl, err := s.Table(context.Background(), name)
	require.NoError(t, err)
	n, err := tbl.Scan().Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestSessionConf(t *testing.T) {
	s, err := NewSession(context.Background(),
		WithObjectStore(io.NewLocalFileIO(t.TempDir())),
		WithConf("custom.setting", "1"),
		WithConf("custom.password", "hunter2"),
	)
	require.NoError(t, err)

	conf := s.Conf()
	assert.Equal(t, DefaultAppName, conf["app.name"])
	assert.Equal(t, "hadoop", conf["catalog.spark_catalog.type"])
	assert.Equal(t, s.Warehouse(), conf["catalog.spark_catalog.warehouse"])
	assert.Equal(t, "http://127.0.0.1:9000", conf["fs.s3a.endpoint"])
	assert.Equal(t, "true", conf["fs.s3a.path.style.access"])
	assert.Equal(t, DefaultAccessKey, conf["fs.s3a.access.key"])
	assert.Equal(t, maskedSecret, conf["fs.s3a.secret.key"])
	assert.Equal(t, "1", conf["custom.setting"])
	assert.Equal(t, maskedSecret, conf["custom.password"])

	for k, v := range conf {
		if isSecretKey(k) {
			assert.Equal(t, maskedSecret, v, k)
		}
	}

	conf["app.name"] = "changed"
	assert.Equal(t, DefaultAppName, s.Conf()["app.name"], "Conf returns a copy")
}

func TestSessionConfMasksSecretKey(t *testing.T) {
	s, err := NewSession(context.Background(),
		WithS3(&S3Config{
			Endpoint:        DefaultEndpoint,
			AccessKeyID:     "lake-access",
			SecretAccessKey: "s3cr3t",
			ForcePathStyle:  true,
		}),
		WithObjectStore(io.NewLocalFileIO(t.TempDir())),
	)
	require.NoError(t, err)

	conf := s.Conf()
	assert.Equal(t, "lake-access", conf["fs.s3a.access.key"])
	assert.Equal(t, maskedSecret, conf["fs.s3a.secret.key"])
	for k, v := range conf {
		assert.NotEqual(t, "s3cr3t", v, k)
	}
}

func TestSessionWarehouse(t *testing.T) {
	store := io.NewLocalFileIO(t.TempDir())
	s, err := NewSession(context.Background(), WithObjectStore(store), WithBucket("lake"))
	require.NoError(t, err)
	assert.Equal(t, store.URI("lake", "iceberg_data"), s.Warehouse())

	s, err = NewSession(context.Background(), WithObjectStore(store), WithWarehouse("/data/wh/"))
	require.NoError(t, err)
	assert.Equal(t, "/data/wh", s.Warehouse())
}

func TestSaveAsTableModes(t *testing.T) {
	ctx := context.Background()
	s := newLocalSession(t)
	ds := readDataset(t, "id,name\n1,a\n2,b\n")

	snap, err := s.SaveAsTable(ctx, ds, "people", SaveModeErrorIfExists)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, spec.OpAppend, snap.Summary.Operation)
	assert.Equal(t, DefaultAppName, snap.Summary.Properties["app-name"])

	_, err = s.SaveAsTable(ctx, ds, "people", SaveModeErrorIfExists)
	assert.ErrorIs(t, err, icebergerr.ErrTableAlreadyExists)

	snap, err = s.SaveAsTable(ctx, ds, "people", SaveModeIgnore)
	require.NoError(t, err)
	assert.Nil(t, snap)
	assert.EqualValues(t, 2, countRows(t, s, "people"))

	_, err = s.SaveAsTable(ctx, ds, "people", SaveModeAppend)
	require.NoError(t, err)
	assert.EqualValues(t, 4, countRows(t, s, "people"))

	snap, err = s.SaveAsTable(ctx, ds, "default.people", SaveModeOverwrite)
	require.NoError(t, err)
	assert.Equal(t, spec.OpOverwrite, snap.Summary.Operation)
	assert.EqualValues(t, 2, countRows(t, s, "people"))

	_, err = s.SaveAsTable(ctx, ds, "people", SaveMode("upsert"))
	var verr *icebergerr.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestSaveAsTableMatchesColumnsByName(t *testing.T) {
	ctx := context.Background()
	s := newLocalSession(t)

	_, err := s.SaveAsTable(ctx, readDataset(t, "id,name,score\n1,a,1.5\n"), "t", SaveModeAppend)
	require.NoError(t, err)

	// reordered with the name column missing
	_, err = s.SaveAsTable(ctx, readDataset(t, "score,id\n2.5,2\n"), "t", SaveModeAppend)
	require.NoError(t, err)

	tbl, err := s.Table(ctx, "t")
	require.NoError(t, err)
	out, err := tbl.Scan().ToArrowTable(ctx)
	require.NoError(t, err)
	defer out.Release()

	assert.EqualValues(t, 2, out.NumRows())
	assert.Equal(t, []string{"int32", "utf8", "float64"}, fieldTypes(out.Schema()))

	_, err = s.SaveAsTable(ctx, readDataset(t, "id,extra\n3,x\n"), "t", SaveModeAppend)
	assert.ErrorIs(t, err, icebergerr.ErrColumnNotFound)
}

func TestSaveAsTableIgnoresColumnCase(t *testing.T) {
	ctx := context.Background()
	s := newLocalSession(t)

	_, err := s.SaveAsTable(ctx, readDataset(t, "id,name,score\n1,a,1.5\n"), "t", SaveModeAppend)
	require.NoError(t, err)
	_, err = s.SaveAsTable(ctx, readDataset(t, "ID,Name,Score\n2,b,2.5\n"), "t", SaveModeAppend)
	require.NoError(t, err)

	tbl, err := s.Table(ctx, "t")
	require.NoError(t, err)
	out, err := tbl.Scan().ToArrowTable(ctx)
	require.NoError(t, err)
	defer out.Release()

	assert.EqualValues(t, 2, out.NumRows())
	names := make([]string, 0, out.Schema().NumFields())
	for _, f := range out.Schema().Fields() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"id", "name", "score"}, names)
	assert.Zero(t, out.Column(1).Data().NullN(), "name column filled from Name")
}

func TestSessionReadCSV(t *testing.T) {
	ctx := context.Background()
	s := newLocalSession(t)

	_, err := io.EnsureBucket(ctx, s.Store(), "inbox")
	require.NoError(t, err)
	location := s.Store().URI("inbox", "in.csv")
	require.NoError(t, io.WriteFile(ctx, s.Store(), location, []byte("a|b\n1|x\n"), false))

	ds, err := s.ReadCSV(ctx, location, dataset.WithDelimiter('|'))
	require.NoError(t, err)
	defer ds.Release()
	assert.EqualValues(t, 1, ds.NumRows())
	assert.Equal(t, []string{"int32", "utf8"}, fieldTypes(ds.Schema()))

	_, err = s.ReadCSV(ctx, s.Store().URI("inbox", "missing.csv"))
	assert.Error(t, err)
}

func TestSessionLoadAndDrop(t *testing.T) {
	ctx := context.Background()
	s := newLocalSession(t)

	_, err := s.SaveAsTable(ctx, readDataset(t, "id\n1\n"), "t", SaveModeAppend)
	require.NoError(t, err)

	location, err := s.TableLocation("t")
	require.NoError(t, err)
	tbl, err := s.LoadTable(ctx, location)
	require.NoError(t, err)
	assert.Equal(t, location, tbl.Location())

	tables, err := s.ListTables(ctx)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "t", tables[0].Name)

	require.NoError(t, s.DropTable(ctx, "t", true))
	_, err = s.Table(ctx, "t")
	assert.ErrorIs(t, err, icebergerr.ErrTableNotFound)
	assert.ErrorIs(t, s.DropTable(ctx, "t", true), icebergerr.ErrTableNotFound)

	_, err = s.LoadTable(ctx, location)
	assert.ErrorIs(t, err, icebergerr.ErrTableNotFound)
}

func TestParseSaveMode(t *testing.T) {
	tests := []struct {
		in      string
		want    SaveMode
		wantErr bool
	}{
		{"append", SaveModeAppend, false},
		{"Overwrite", SaveModeOverwrite, false},
		{"error", SaveModeErrorIfExists, false},
		{"default", SaveModeErrorIfExists, false},
		{" ignore ", SaveModeIgnore, false},
		{"merge", "", true},
	}
	for _, tt := range tests {
		got, err := ParseSaveMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
