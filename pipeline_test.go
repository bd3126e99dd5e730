package csv2iceberg

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrobridgeOrg/csv2iceberg/icebergerr"
)

const peopleCSV = `id,name,score
1,alice,9.5
2,bob,7
3,,8.25
`

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

type localRun struct {
	root   string
	source string
	out    bytes.Buffer
}

func newLocalRun(t *testing.T) *localRun {
	return &localRun{root: t.TempDir(), source: writeSource(t, peopleCSV)}
}

func (l *localRun) sessionOptions() []Option {
	return []Option{WithLocalStorage(l.root), WithRetryBackoff(0), WithMaxRetries(10)}
}

func (l *localRun) run(t *testing.T, opts ...PipelineOption) (*Result, error) {
	t.Helper()
	l.out.Reset()
	opts = append([]PipelineOption{
		WithSessionOptions(l.sessionOptions()...),
		WithSourceFile(l.source),
		WithOutput(&l.out),
	}, opts...)
	return NewPipeline(opts...).Run(context.Background())
}

func (l *localRun) session(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(context.Background(), l.sessionOptions()...)
	require.NoError(t, err)
	return s
}

func TestPipelineUploadsSource(t *testing.T) {
	l := newLocalRun(t)

	res, err := l.run(t)
	require.NoError(t, err)
	assert.True(t, res.BucketCreated)

	uploaded, err := os.ReadFile(filepath.Join(l.root, DefaultBucket, DefaultObjectKey))
	require.NoError(t, err)
	assert.Equal(t, peopleCSV, string(uploaded))
	assert.EqualValues(t, len(peopleCSV), res.Upload.Size)

	res, err = l.run(t)
	require.NoError(t, err)
	assert.False(t, res.BucketCreated, "second run finds the bucket")
}

func TestPipelineWritesInferredTable(t *testing.T) {
	l := newLocalRun(t)

	res, err := l.run(t)
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.RowsWritten)
	assert.EqualValues(t, 3, res.RowsRead)
	assert.Len(t, res.SnapshotIDs, 1)
	assert.Equal(t, filepath.Join(l.root, DefaultBucket, "iceberg_data", "default", DefaultTableName), res.TableLocation)

	var stages []Stage
	for _, s := range res.Stages {
		stages = append(stages, s.Stage)
	}
	assert.Equal(t, []Stage{StageBootstrap, StageUpload, StageSession, StageTable}, stages)

	tbl, err := l.session(t).Table(context.Background(), DefaultTableName)
	require.NoError(t, err)
	types := map[string]string{}
	for _, f := range tbl.Schema().Fields {
		types[f.Name] = f.Type.String()
	}
	assert.Equal(t, map[string]string{"id": "int", "name": "string", "score": "double"}, types)

	out := l.out.String()
	assert.Contains(t, out, "root\n |-- id: integer (nullable = true)\n |-- name: string (nullable = true)\n |-- score: double (nullable = true)\n")
	assert.Contains(t, out, "|  1|alice|  9.5|\n")
	assert.Contains(t, out, "|  3| null| 8.25|\n")
}

func TestPipelineAppendDuplicatesRows(t *testing.T) {
	l := newLocalRun(t)

	first, err := l.run(t)
	require.NoError(t, err)
	second, err := l.run(t)
	require.NoError(t, err)
	assert.EqualValues(t, 6, second.RowsRead)
	assert.NotEqual(t, first.SnapshotIDs, second.SnapshotIDs)

	tbl, err := l.session(t).LoadTable(context.Background(), second.TableLocation)
	require.NoError(t, err)
	assert.Len(t, tbl.Snapshots(), 2)

	out, err := tbl.Scan().ToArrowTable(context.Background())
	require.NoError(t, err)
	defer out.Release()
	assert.EqualValues(t, 6, out.NumRows())
}

func TestPipelineMissingSource(t *testing.T) {
	l := newLocalRun(t)
	l.source = filepath.Join(t.TempDir(), "missing.csv")

	_, err := l.run(t)
	require.Error(t, err)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageUpload, stageErr.Stage)
	assert.ErrorIs(t, err, icebergerr.ErrFileNotFound)

	s := l.session(t)
	id, err := s.Identifier(DefaultTableName)
	require.NoError(t, err)
	exists, err := s.Catalog().TableExists(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, exists, "no table is written")
}

func TestPipelineReadLocal(t *testing.T) {
	l := newLocalRun(t)

	res, err := l.run(t, WithReadLocal(true), WithTable("analytics.people"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.RowsRead)
	assert.Equal(t, filepath.Join(l.root, DefaultBucket, "iceberg_data", "analytics", "people"), res.TableLocation)
}

func TestPipelineConcurrentWriters(t *testing.T) {
	l := newLocalRun(t)

	res, err := l.run(t, WithWriters(4), WithShow(100, 0))
	require.NoError(t, err)
	assert.EqualValues(t, 12, res.RowsWritten)
	assert.EqualValues(t, 12, res.RowsRead)

	seen := map[int64]bool{}
	for _, id := range res.SnapshotIDs {
		seen[id] = true
	}
	assert.Len(t, seen, 4, "every writer commits its own snapshot")

	tbl, err := l.session(t).LoadTable(context.Background(), res.TableLocation)
	require.NoError(t, err)
	assert.Len(t, tbl.Snapshots(), 4)
}

func TestPipelineInvalidConfig(t *testing.T) {
	l := newLocalRun(t)

	_, err := l.run(t, WithSessionOptions(WithBucket("")))
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageBootstrap, stageErr.Stage)
	assert.ErrorIs(t, err, icebergerr.ErrInvalidConfig)
}

func TestPipelineErrorIfExists(t *testing.T) {
	l := newLocalRun(t)

	_, err := l.run(t)
	require.NoError(t, err)

	_, err = l.run(t, WithSaveMode(SaveModeErrorIfExists))
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageTable, stageErr.Stage)
	assert.ErrorIs(t, err, icebergerr.ErrTableAlreadyExists)
}
