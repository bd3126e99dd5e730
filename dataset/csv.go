package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/BrobridgeOrg/csv2iceberg/icebergerr"
)

// ReadCSV reads delimited text from r into a dataset. By default the
// first line is a header and column types are inferred from the cells;
// empty cells are null.
func ReadCSV(ctx context.Context, r io.Reader, opts ...Option) (*Dataset, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if o.encoding != nil {
		r = transform.NewReader(r, o.encoding.NewDecoder())
	} else {
		// strips a UTF-8 byte order mark
		r = transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	}

	rows, err := readRows(ctx, r, o.delimiter)
	if err != nil {
		return nil, err
	}

	var header []string
	if o.header && len(rows) > 0 {
		header, rows = rows[0], rows[1:]
	}
	width := len(header)
	if width == 0 && len(rows) > 0 {
		width = len(rows[0])
	}
	names := columnNames(header, width)

	kinds := make([]kind, width)
	if o.inferSchema {
		sample := rows
		if o.sampleSize > 0 && len(sample) > o.sampleSize {
			sample = sample[:o.sampleSize]
		}
		for _, row := range sample {
			for i, cell := range row {
				if o.isNull(cell) {
					continue
				}
				kinds[i] = mergeKinds(kinds[i], inferCell(cell, o.location))
			}
		}
	}

	fields := make([]arrow.Field, width)
	for i := range fields {
		fields[i] = arrow.Field{Name: names[i], Type: kinds[i].arrowType(), Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	b := array.NewRecordBuilder(o.mem, schema)
	defer b.Release()
	b.Reserve(len(rows))
	for _, row := range rows {
		for i, cell := range row {
			if o.isNull(cell) {
				b.Field(i).AppendNull()
				continue
			}
			appendCell(b.Field(i), cell, o.location)
		}
	}
	rec := b.NewRecord()

	zerolog.Ctx(ctx).Debug().
		Str("component", "dataset").
		Int("rows", len(rows)).
		Int("columns", width).
		Str("schema", schema.String()).
		Msg("csv loaded")

	return New(rec), nil
}

func (o *options) isNull(cell string) bool {
	return cell == "" || (o.nullValue != "" && cell == o.nullValue)
}

// readRows reads every record. All records must have as many fields as the
// first one.
func readRows(ctx context.Context, r io.Reader, delimiter rune) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.Comma = delimiter

	var rows [][]string
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return nil, fmt.Errorf("%w: line %d: %v", icebergerr.ErrInvalidData, perr.Line, perr.Err)
			}
			return nil, &icebergerr.IOError{Operation: "read", Path: "csv", Cause: err}
		}
		rows = append(rows, row)

		if len(rows)%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}
}

// columnNames names columns after the header. Columns without a header
// name are called _c<index>, and repeated names get their index appended.
func columnNames(header []string, width int) []string {
	names := make([]string, width)
	counts := make(map[string]int, width)
	for i := range names {
		if i < len(header) && header[i] != "" {
			names[i] = header[i]
		} else {
			names[i] = "_c" + strconv.Itoa(i)
		}
		counts[strings.ToLower(names[i])]++
	}
	for i, n := range names {
		if counts[strings.ToLower(n)] > 1 {
			names[i] = n + strconv.Itoa(i)
		}
	}
	return names
}

// appendCell appends cell converted to the builder's type. Cells that do
// not convert, which only happens outside the inference sample, are null.
func appendCell(b array.Builder, cell string, loc *time.Location) {
	switch fb := b.(type) {
	case *array.Int32Builder:
		if v, err := strconv.ParseInt(cell, 10, 32); err == nil {
			fb.Append(int32(v))
			return
		}
	case *array.Int64Builder:
		if v, err := strconv.ParseInt(cell, 10, 64); err == nil {
			fb.Append(v)
			return
		}
	case *array.Float64Builder:
		if v, err := strconv.ParseFloat(cell, 64); err == nil {
			fb.Append(v)
			return
		}
	case *array.BooleanBuilder:
		if v, ok := parseBool(cell); ok {
			fb.Append(v)
			return
		}
	case *array.Date32Builder:
		if t, ok := parseDate(cell); ok {
			fb.Append(arrow.Date32FromTime(t))
			return
		}
	case *array.TimestampBuilder:
		t, ok := parseTimestamp(cell, loc)
		if !ok {
			var d time.Time
			if d, ok = parseDate(cell); ok {
				t = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
			}
		}
		if ok {
			fb.Append(arrow.Timestamp(t.UnixMicro()))
			return
		}
	case *array.StringBuilder:
		fb.Append(cell)
		return
	}
	b.AppendNull()
}
