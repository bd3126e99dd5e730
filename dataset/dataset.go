// Package dataset loads delimited text files into Arrow records with
// inferred column types.
package dataset

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// Dataset is an in-memory table read from a source file.
type Dataset struct {
	schema *arrow.Schema
	record arrow.Record
}

// New wraps rec. The dataset takes over the caller's reference.
func New(rec arrow.Record) *Dataset {
	return &Dataset{schema: rec.Schema(), record: rec}
}

// Schema returns the Arrow schema.
func (d *Dataset) Schema() *arrow.Schema {
	return d.schema
}

// Record returns the data as a single record.
func (d *Dataset) Record() arrow.Record {
	return d.record
}

// NumRows returns the number of rows.
func (d *Dataset) NumRows() int64 {
	return d.record.NumRows()
}

// Table returns the data as an Arrow table. The caller releases it.
func (d *Dataset) Table() arrow.Table {
	return array.NewTableFromRecords(d.schema, []arrow.Record{d.record})
}

// Release frees the underlying record.
func (d *Dataset) Release() {
	if d.record != nil {
		d.record.Release()
		d.record = nil
	}
}

type options struct {
	header      bool
	inferSchema bool
	delimiter   rune
	nullValue   string
	encoding    encoding.Encoding
	sampleSize  int
	location    *time.Location
	mem         memory.Allocator
}

func defaultOptions() options {
	return options{
		header:      true,
		inferSchema: true,
		delimiter:   ',',
		location:    time.UTC,
		mem:         memory.DefaultAllocator,
	}
}

// Option configures ReadCSV.
type Option func(*options)

// WithHeader sets whether the first line holds column names.
func WithHeader(header bool) Option {
	return func(o *options) {
		o.header = header
	}
}

// WithInferSchema sets whether column types are inferred. Without
// inference every column is a string.
func WithInferSchema(infer bool) Option {
	return func(o *options) {
		o.inferSchema = infer
	}
}

// WithDelimiter sets the field delimiter.
func WithDelimiter(r rune) Option {
	return func(o *options) {
		o.delimiter = r
	}
}

// WithNullValue sets a cell value read as null in addition to the empty
// string.
func WithNullValue(s string) Option {
	return func(o *options) {
		o.nullValue = s
	}
}

// WithEncoding decodes the source from enc instead of UTF-8.
func WithEncoding(enc encoding.Encoding) Option {
	return func(o *options) {
		o.encoding = enc
	}
}

// WithSampleSize limits type inference to the first n rows. Zero uses
// every row.
func WithSampleSize(n int) Option {
	return func(o *options) {
		o.sampleSize = n
	}
}

// WithTimeZone sets the zone of timestamps without an offset.
func WithTimeZone(loc *time.Location) Option {
	return func(o *options) {
		o.location = loc
	}
}

// WithAllocator sets the allocator of the resulting record.
func WithAllocator(mem memory.Allocator) Option {
	return func(o *options) {
		o.mem = mem
	}
}

// LookupEncoding returns the encoding registered under an IANA or WHATWG
// name such as "shift_jis" or "windows-1252".
func LookupEncoding(name string) (encoding.Encoding, error) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	return enc, nil
}
