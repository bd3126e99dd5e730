package table

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"golang.org/x/sync/errgroup"

	"github.com/BrobridgeOrg/csv2iceberg/icebergerr"
	"github.com/BrobridgeOrg/csv2iceberg/internal/metrics"
	"github.com/BrobridgeOrg/csv2iceberg/io"
	"github.com/BrobridgeOrg/csv2iceberg/spec"
)

// defaultScanConcurrency bounds the number of data files read at once.
const defaultScanConcurrency = 8

// ScanBuilder builds a table scan.
type ScanBuilder struct {
	table          *Table
	snapshotID     *int64
	asOfTimestamp  *time.Time
	selectedFields []string
	filter         *Expression
	limit          *int64
	concurrency    int
	mem            memory.Allocator
}

// NewScanBuilder creates a new scan builder for the given table.
func NewScanBuilder(t *Table) *ScanBuilder {
	return &ScanBuilder{
		table:       t,
		concurrency: defaultScanConcurrency,
		mem:         memory.DefaultAllocator,
	}
}

// WithSnapshot sets the snapshot ID to scan.
func (sb *ScanBuilder) WithSnapshot(snapshotID int64) *ScanBuilder {
	sb.snapshotID = &snapshotID
	return sb
}

// AsOf scans the snapshot that was current at timestamp.
func (sb *ScanBuilder) AsOf(timestamp time.Time) *ScanBuilder {
	sb.asOfTimestamp = &timestamp
	return sb
}

// Select specifies the columns to return.
func (sb *ScanBuilder) Select(columns ...string) *ScanBuilder {
	sb.selectedFields = columns
	return sb
}

// Filter keeps only rows matching expr. Repeated calls are combined with
// AND. Data files whose column bounds rule out a match are skipped.
func (sb *ScanBuilder) Filter(expr *Expression) *ScanBuilder {
	switch {
	case expr == nil:
	case sb.filter == nil:
		sb.filter = expr
	default:
		sb.filter = And(sb.filter, expr)
	}
	return sb
}

// Limit sets the maximum number of rows to return.
func (sb *ScanBuilder) Limit(n int64) *ScanBuilder {
	sb.limit = &n
	return sb
}

// Concurrency sets how many data files are read in parallel.
func (sb *ScanBuilder) Concurrency(n int) *ScanBuilder {
	if n > 0 {
		sb.concurrency = n
	}
	return sb
}

// resolveSnapshot returns the snapshot to scan, or nil for an empty table.
func (sb *ScanBuilder) resolveSnapshot() (*spec.Snapshot, error) {
	if sb.asOfTimestamp != nil {
		return sb.table.SnapshotAt(*sb.asOfTimestamp)
	}

	if sb.snapshotID != nil {
		snap := sb.table.SnapshotByID(*sb.snapshotID)
		if snap == nil {
			return nil, fmt.Errorf("%w: %d", icebergerr.ErrSnapshotNotFound, *sb.snapshotID)
		}
		return snap, nil
	}

	return sb.table.CurrentSnapshot(), nil
}

// snapshotSchema returns the schema the snapshot was written with.
func (sb *ScanBuilder) snapshotSchema(snap *spec.Snapshot) *spec.Schema {
	if snap != nil && snap.SchemaID != nil {
		if s := sb.table.metadata.SchemaByID(*snap.SchemaID); s != nil {
			return s
		}
	}
	return sb.table.Schema()
}

// project restricts schema to the named columns, in order.
func project(schema *spec.Schema, names []string) (*spec.Schema, error) {
	if len(names) == 0 {
		return schema, nil
	}

	fields := make([]spec.NestedField, 0, len(names))
	for _, name := range names {
		f := schema.FieldByName(name)
		if f == nil {
			return nil, fmt.Errorf("%w: %s", icebergerr.ErrColumnNotFound, name)
		}
		fields = append(fields, *f)
	}
	return spec.NewSchema(schema.SchemaID, fields), nil
}

// schemas returns the schema of the result and the schema read from data
// files, which adds the filter columns that were not selected.
func (sb *ScanBuilder) schemas(snap *spec.Snapshot) (result, read *spec.Schema, err error) {
	schema := sb.snapshotSchema(snap)
	if err := sb.filter.Validate(schema); err != nil {
		return nil, nil, err
	}
	if result, err = project(schema, sb.selectedFields); err != nil {
		return nil, nil, err
	}
	if len(sb.selectedFields) == 0 || sb.filter == nil {
		return result, result, nil
	}

	names := append([]string(nil), sb.selectedFields...)
	for _, c := range sb.filter.Columns() {
		if result.FieldByName(c) == nil {
			names = append(names, c)
		}
	}
	read, err = project(schema, names)
	return result, read, err
}

// FileScanTask is a data file to read.
type FileScanTask struct {
	File           spec.DataFile
	SequenceNumber int64
	Start          int64
	Length         int64
}

// PlanFiles returns the live data files of the scanned snapshot.
func (sb *ScanBuilder) PlanFiles(ctx context.Context) ([]FileScanTask, error) {
	snap, err := sb.resolveSnapshot()
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, nil
	}
	if err := sb.filter.Validate(sb.snapshotSchema(snap)); err != nil {
		return nil, err
	}
	return sb.planSnapshot(ctx, snap)
}

func (sb *ScanBuilder) planSnapshot(ctx context.Context, snap *spec.Snapshot) ([]FileScanTask, error) {
	manifests, err := sb.table.readManifestList(ctx, snap)
	if err != nil {
		return nil, err
	}

	schema := sb.snapshotSchema(snap)
	var tasks []FileScanTask
	for _, mf := range manifests {
		if mf.Content != spec.ManifestContentData || mf.LiveFilesCount() == 0 {
			continue
		}
		m, err := sb.table.readManifest(ctx, mf)
		if err != nil {
			return nil, err
		}
		for _, entry := range m.LiveEntries() {
			if !fileMightMatch(entry.DataFile, sb.filter, schema) {
				continue
			}
			task := FileScanTask{
				File:   entry.DataFile,
				Length: entry.DataFile.FileSizeInBytes,
			}
			if entry.SequenceNumber != nil {
				task.SequenceNumber = *entry.SequenceNumber
			}
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

// ToArrowTable executes the scan and returns the rows as an Arrow table.
// Data files are read in parallel; rows keep the order of the plan.
func (sb *ScanBuilder) ToArrowTable(ctx context.Context) (arrow.Table, error) {
	snap, err := sb.resolveSnapshot()
	if err != nil {
		return nil, err
	}
	schema, readSchema, err := sb.schemas(snap)
	if err != nil {
		return nil, err
	}
	arrowSchema, readArrow := SchemaToArrow(schema), SchemaToArrow(readSchema)
	if readSchema == schema {
		readArrow = arrowSchema
	}

	var tasks []FileScanTask
	if snap != nil {
		if tasks, err = sb.planSnapshot(ctx, snap); err != nil {
			return nil, err
		}
	}

	records := make([][]arrow.Record, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sb.concurrency)
	for i, task := range tasks {
		g.Go(func() error {
			recs, err := sb.readDataFile(gctx, task, readArrow, arrowSchema)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", task.File.FilePath, err)
			}
			records[i] = recs
			return nil
		})
	}
	err = g.Wait()

	var all []arrow.Record
	for _, recs := range records {
		all = append(all, recs...)
	}
	defer func() {
		for _, r := range all {
			r.Release()
		}
	}()
	if err != nil {
		return nil, err
	}

	if sb.limit != nil {
		all = limitRecords(all, *sb.limit)
	}

	tbl := array.NewTableFromRecords(arrowSchema, all)
	metrics.RowsRead.WithLabelValues(sb.table.identifier.String()).Add(float64(tbl.NumRows()))
	return tbl, nil
}

// limitRecords keeps the first n rows. Dropped records are released and
// a sliced record replaces the last kept one.
func limitRecords(recs []arrow.Record, n int64) []arrow.Record {
	var out []arrow.Record
	for _, r := range recs {
		switch {
		case n <= 0:
			r.Release()
		case r.NumRows() <= n:
			out = append(out, r)
			n -= r.NumRows()
		default:
			out = append(out, r.NewSlice(0, n))
			r.Release()
			n = 0
		}
	}
	return out
}

// readDataFile reads one parquet file, projects it onto read, applies the
// filter and returns the target columns. Columns are matched by field ID;
// columns the file does not have are null.
func (sb *ScanBuilder) readDataFile(ctx context.Context, task FileScanTask, read, target *arrow.Schema) ([]arrow.Record, error) {
	data, err := io.ReadAll(ctx, sb.table.fileIO, task.File.FilePath)
	if err != nil {
		return nil, err
	}

	pqReader, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet reader: %w", err)
	}
	defer pqReader.Close()

	arrowReader, err := pqarrow.NewFileReader(pqReader, pqarrow.ArrowReadProperties{}, sb.mem)
	if err != nil {
		return nil, fmt.Errorf("failed to create arrow reader: %w", err)
	}

	tbl, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, err
	}
	defer tbl.Release()

	fileCols := make(map[int]int)
	for i, f := range tbl.Schema().Fields() {
		if id, ok := fieldID(f); ok {
			fileCols[id] = i
		}
	}

	reader := array.NewTableReader(tbl, tbl.NumRows())
	defer reader.Release()

	var out []arrow.Record
	for reader.Next() {
		rec, err := sb.readRecord(ctx, reader.Record(), fileCols, read, target)
		if err != nil {
			for _, r := range out {
				r.Release()
			}
			return nil, err
		}
		out = append(out, rec)
	}
	return out, reader.Err()
}

func (sb *ScanBuilder) readRecord(ctx context.Context, rec arrow.Record, fileCols map[int]int, read, target *arrow.Schema) (arrow.Record, error) {
	projected, err := projectRecord(sb.mem, rec, fileCols, read)
	if err != nil {
		return nil, err
	}
	if sb.filter == nil {
		return projected, nil
	}

	filtered, err := filterRecord(ctx, sb.mem, projected, sb.filter)
	projected.Release()
	if err != nil {
		return nil, err
	}
	if read == target {
		return filtered, nil
	}

	// drop the columns only the filter needed
	defer filtered.Release()
	cols := make([]arrow.Array, target.NumFields())
	for i := range cols {
		cols[i] = filtered.Column(i)
	}
	return array.NewRecord(target, cols, filtered.NumRows()), nil
}

// projectRecord builds a record of target from rec, whose column i holds
// the field ID mapped to i in fileCols.
func projectRecord(mem memory.Allocator, rec arrow.Record, fileCols map[int]int, target *arrow.Schema) (arrow.Record, error) {
	n := int(rec.NumRows())
	cols := make([]arrow.Array, target.NumFields())
	defer func() {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
	}()

	for i, f := range target.Fields() {
		id, _ := fieldID(f)
		idx, ok := fileCols[id]
		if !ok {
			cols[i] = array.MakeArrayOfNull(mem, f.Type, n)
			continue
		}
		col, err := castColumn(mem, rec.Column(idx), f.Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", f.Name, err)
		}
		cols[i] = col
	}
	return array.NewRecord(target, cols, int64(n)), nil
}

// Count returns the number of rows in the scan. Without a filter only the
// manifests are read.
func (sb *ScanBuilder) Count(ctx context.Context) (int64, error) {
	if sb.filter != nil {
		tbl, err := sb.ToArrowTable(ctx)
		if err != nil {
			return 0, err
		}
		defer tbl.Release()
		return tbl.NumRows(), nil
	}

	tasks, err := sb.PlanFiles(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	for _, task := range tasks {
		count += task.File.RecordCount
	}

	if sb.limit != nil && *sb.limit < count {
		count = *sb.limit
	}
	return count, nil
}
