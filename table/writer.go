package table

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/BrobridgeOrg/csv2iceberg/internal/metrics"
	"github.com/BrobridgeOrg/csv2iceberg/io"
	"github.com/BrobridgeOrg/csv2iceberg/spec"
)

const (
	// DefaultTargetFileSize matches write.target-file-size-bytes.
	DefaultTargetFileSize = 512 * 1024 * 1024

	// string bounds are truncated to this many characters
	truncateLength = 16
)

var codecs = map[string]compress.Compression{
	"snappy":       compress.Codecs.Snappy,
	"gzip":         compress.Codecs.Gzip,
	"zstd":         compress.Codecs.Zstd,
	"brotli":       compress.Codecs.Brotli,
	"lz4":          compress.Codecs.Lz4Raw,
	"uncompressed": compress.Codecs.Uncompressed,
}

// DataWriter writes Arrow records as parquet data files of a table.
type DataWriter struct {
	fileIO      io.FileIO
	location    string
	schema      *spec.Schema
	arrowSchema *arrow.Schema
	targetSize  int64
	compression compress.Compression
	mem         memory.Allocator

	taskID      int
	operationID string
	fileCount   int
}

// NewDataWriter creates a writer for the table's current schema. The
// target file size and compression codec come from table properties.
func NewDataWriter(t *Table) (*DataWriter, error) {
	codecName := strings.ToLower(t.metadata.Property(spec.PropertyParquetCompression, "snappy"))
	codec, ok := codecs[codecName]
	if !ok {
		return nil, fmt.Errorf("unsupported parquet compression codec %q", codecName)
	}

	return &DataWriter{
		fileIO:      t.fileIO,
		location:    t.Location(),
		schema:      t.Schema(),
		arrowSchema: SchemaToArrow(t.Schema()),
		targetSize:  t.metadata.IntProperty(spec.PropertyTargetFileSizeBytes, DefaultTargetFileSize),
		compression: codec,
		mem:         memory.DefaultAllocator,
		operationID: uuid.NewString(),
	}, nil
}

// WithTargetFileSize sets the target file size for written files.
func (w *DataWriter) WithTargetFileSize(size int64) *DataWriter {
	if size > 0 {
		w.targetSize = size
	}
	return w
}

// WithTaskID sets the task number used in data file names.
func (w *DataWriter) WithTaskID(id int) *DataWriter {
	w.taskID = id
	return w
}

// Write writes rec into one or more data files of about the target size.
// Columns are matched to the table schema by name.
func (w *DataWriter) Write(ctx context.Context, rec arrow.Record) ([]spec.DataFile, error) {
	aligned, err := alignRecord(w.mem, rec, w.arrowSchema)
	if err != nil {
		return nil, err
	}
	defer aligned.Release()

	rows := aligned.NumRows()
	if rows == 0 {
		return nil, nil
	}

	perFile := rowsPerFile(aligned, w.targetSize)
	var files []spec.DataFile
	for start := int64(0); start < rows; start += perFile {
		slice := aligned.NewSlice(start, min(start+perFile, rows))
		df, err := w.writeFile(ctx, slice)
		slice.Release()
		if err != nil {
			return files, err
		}
		files = append(files, df)
	}
	return files, nil
}

// rowsPerFile estimates how many rows fit in targetSize from the in-memory
// size of rec.
func rowsPerFile(rec arrow.Record, targetSize int64) int64 {
	var size int64
	for _, col := range rec.Columns() {
		size += dataSize(col.Data())
	}
	rows := rec.NumRows()
	if size <= targetSize || rows <= 1 {
		return max(rows, 1)
	}
	return max(rows*targetSize/size, 1)
}

func dataSize(data arrow.ArrayData) int64 {
	var size int64
	for _, b := range data.Buffers() {
		if b != nil {
			size += int64(b.Len())
		}
	}
	for _, child := range data.Children() {
		size += dataSize(child)
	}
	return size
}

func (w *DataWriter) newFilePath() string {
	w.fileCount++
	name := fmt.Sprintf("00000-%d-%s-%05d.parquet", w.taskID, w.operationID, w.fileCount)
	return io.JoinPath(w.location, "data", name)
}

func (w *DataWriter) writeFile(ctx context.Context, rec arrow.Record) (spec.DataFile, error) {
	var buf bytes.Buffer
	props := parquet.NewWriterProperties(
		parquet.WithCompression(w.compression),
		parquet.WithAllocator(w.mem),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	pqWriter, err := pqarrow.NewFileWriter(w.arrowSchema, &buf, props, arrowProps)
	if err != nil {
		return spec.DataFile{}, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	if err := pqWriter.Write(rec); err != nil {
		pqWriter.Close()
		return spec.DataFile{}, fmt.Errorf("failed to write record: %w", err)
	}
	if err := pqWriter.Close(); err != nil {
		return spec.DataFile{}, fmt.Errorf("failed to close parquet writer: %w", err)
	}

	location := w.newFilePath()
	if err := io.WriteFile(ctx, w.fileIO, location, buf.Bytes(), true); err != nil {
		return spec.DataFile{}, fmt.Errorf("failed to write data file: %w", err)
	}

	df := spec.DataFile{
		Content:         spec.FileContentData,
		FilePath:        location,
		FileFormat:      spec.FileFormatParquet,
		RecordCount:     rec.NumRows(),
		FileSizeInBytes: int64(buf.Len()),
	}
	if err := footerMetrics(&df, buf.Bytes()); err != nil {
		return spec.DataFile{}, err
	}
	columnMetrics(&df, rec, w.schema)

	metrics.DataFilesWritten.Inc()
	zerolog.Ctx(ctx).Debug().
		Str("component", "writer").
		Str("file", location).
		Int64("rows", df.RecordCount).
		Int64("bytes", df.FileSizeInBytes).
		Msg("data file written")
	return df, nil
}

// footerMetrics reads column sizes and row group offsets from the parquet
// footer.
func footerMetrics(df *spec.DataFile, data []byte) error {
	rdr, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to read parquet footer: %w", err)
	}
	defer rdr.Close()

	meta := rdr.MetaData()
	df.ColumnSizes = make(map[int]int64)
	for i := 0; i < meta.NumRowGroups(); i++ {
		rg := meta.RowGroup(i)
		for j := 0; j < rg.NumColumns(); j++ {
			cc, err := rg.ColumnChunk(j)
			if err != nil {
				return fmt.Errorf("failed to read column chunk: %w", err)
			}
			id := int(meta.Schema.Column(j).SchemaNode().FieldID())
			df.ColumnSizes[id] += cc.TotalCompressedSize()

			if j == 0 {
				offset := cc.DataPageOffset()
				if cc.HasDictionaryPage() {
					offset = cc.DictionaryPageOffset()
				}
				df.SplitOffsets = append(df.SplitOffsets, offset)
			}
		}
	}
	return nil
}

// columnMetrics computes value, null and NaN counts and lower/upper bounds
// for the top-level primitive columns.
func columnMetrics(df *spec.DataFile, rec arrow.Record, schema *spec.Schema) {
	df.ValueCounts = make(map[int]int64)
	df.NullValueCounts = make(map[int]int64)
	df.LowerBounds = make(map[int][]byte)
	df.UpperBounds = make(map[int][]byte)

	for i, field := range schema.Fields {
		if !spec.IsPrimitive(field.Type) {
			continue
		}
		col := rec.Column(i)
		df.ValueCounts[field.ID] = int64(col.Len())
		df.NullValueCounts[field.ID] = int64(col.NullN())

		if nan, ok := nanCount(col); ok {
			if df.NaNValueCounts == nil {
				df.NaNValueCounts = make(map[int]int64)
			}
			df.NaNValueCounts[field.ID] = nan
		}

		lower, upper, ok := bounds(col)
		if !ok {
			continue
		}
		if s, isString := lower.(string); isString {
			lower = truncateLower(s)
			if upper, ok = truncateUpper(upper.(string)); !ok {
				upper = nil
			}
		}
		if b, err := spec.SerializeValue(lower, field.Type); err == nil {
			df.LowerBounds[field.ID] = b
		}
		if upper != nil {
			if b, err := spec.SerializeValue(upper, field.Type); err == nil {
				df.UpperBounds[field.ID] = b
			}
		}
	}
}

func nanCount(col arrow.Array) (int64, bool) {
	var n int64
	switch a := col.(type) {
	case *array.Float32:
		for i := 0; i < a.Len(); i++ {
			if a.IsValid(i) && math.IsNaN(float64(a.Value(i))) {
				n++
			}
		}
	case *array.Float64:
		for i := 0; i < a.Len(); i++ {
			if a.IsValid(i) && math.IsNaN(a.Value(i)) {
				n++
			}
		}
	default:
		return 0, false
	}
	return n, true
}

type valueArray[T any] interface {
	arrow.Array
	Value(int) T
}

// minMax returns the smallest and largest non-null values of a, skipping
// values for which skip returns true.
func minMax[T cmp.Ordered](a valueArray[T], skip func(T) bool) (lo, hi T, ok bool) {
	for i := 0; i < a.Len(); i++ {
		if a.IsNull(i) {
			continue
		}
		v := a.Value(i)
		if skip != nil && skip(v) {
			continue
		}
		if !ok {
			lo, hi, ok = v, v, true
			continue
		}
		lo, hi = min(lo, v), max(hi, v)
	}
	return lo, hi, ok
}

// bounds returns the bounds of col as values accepted by
// spec.SerializeValue.
func bounds(col arrow.Array) (lower, upper any, ok bool) {
	switch a := col.(type) {
	case *array.Boolean:
		var sawTrue, sawFalse bool
		for i := 0; i < a.Len(); i++ {
			if a.IsValid(i) {
				if a.Value(i) {
					sawTrue = true
				} else {
					sawFalse = true
				}
			}
		}
		if !sawTrue && !sawFalse {
			return nil, nil, false
		}
		return !sawFalse, sawTrue, true
	case *array.Int32:
		return widen(minMax[int32](a, nil))
	case *array.Int64:
		return widen(minMax[int64](a, nil))
	case *array.Float32:
		return widen(minMax[float32](a, func(v float32) bool { return math.IsNaN(float64(v)) }))
	case *array.Float64:
		return widen(minMax[float64](a, math.IsNaN))
	case *array.String:
		return widen(minMax[string](a, nil))
	case *array.Date32:
		lo, hi, ok := minMax[arrow.Date32](a, nil)
		return int32(lo), int32(hi), ok
	case *array.Timestamp:
		lo, hi, ok := minMax[arrow.Timestamp](a, nil)
		return int64(lo), int64(hi), ok
	case *array.Time64:
		lo, hi, ok := minMax[arrow.Time64](a, nil)
		return int64(lo), int64(hi), ok
	}
	return nil, nil, false
}

func widen[T any](lo, hi T, ok bool) (any, any, bool) {
	return lo, hi, ok
}

func truncateLower(s string) string {
	if utf8.RuneCountInString(s) <= truncateLength {
		return s
	}
	return string([]rune(s)[:truncateLength])
}

// truncateUpper shortens s and increments its last character so that the
// result still sorts after every string with the same prefix.
func truncateUpper(s string) (string, bool) {
	runes := []rune(s)
	if len(runes) <= truncateLength {
		return s, true
	}
	runes = runes[:truncateLength]
	for i := len(runes) - 1; i >= 0; i-- {
		next := runes[i] + 1
		if next == 0xD800 {
			next = 0xE000
		}
		if next <= utf8.MaxRune {
			runes[i] = next
			return string(runes[:i+1]), true
		}
	}
	return "", false
}
