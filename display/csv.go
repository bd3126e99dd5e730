package display

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

const csvChunkSize = 4096

// WriteCSV writes tbl as comma separated values with a header line. Nulls
// are written as empty fields.
func WriteCSV(w io.Writer, tbl arrow.Table) error {
	cw := csv.NewWriter(w, tbl.Schema(), csv.WithHeader(true), csv.WithNullWriter(""))

	written := false
	tr := array.NewTableReader(tbl, csvChunkSize)
	defer tr.Release()
	for tr.Next() {
		if err := cw.Write(tr.Record()); err != nil {
			return err
		}
		written = true
	}
	if err := tr.Err(); err != nil {
		return err
	}

	// the header is written with the first record
	if !written {
		b := array.NewRecordBuilder(memory.DefaultAllocator, tbl.Schema())
		defer b.Release()
		empty := b.NewRecord()
		defer empty.Release()
		if err := cw.Write(empty); err != nil {
			return err
		}
	}
	return cw.Flush()
}
