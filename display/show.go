package display

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"golang.org/x/text/width"
)

// DefaultRows and DefaultTruncate are the Show defaults.
const (
	DefaultRows     = 20
	DefaultTruncate = 20
)

const minColumnWidth = 3

// Show writes the first n rows of tbl as a bordered grid. Cells longer
// than truncate characters are cut and all cells are right aligned; a
// truncate of zero keeps full cells, left aligned.
func Show(w io.Writer, tbl arrow.Table, n, truncate int) error {
	if n < 0 {
		n = 0
	}

	header := make([]string, tbl.NumCols())
	for i, f := range tbl.Schema().Fields() {
		header[i] = cutCell(f.Name, truncate)
	}
	rows, err := collectRows(tbl, n, truncate)
	if err != nil {
		return err
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = max(minColumnWidth, displayWidth(h))
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], displayWidth(cell))
		}
	}

	var sep strings.Builder
	sep.WriteByte('+')
	for _, wd := range widths {
		sep.WriteString(strings.Repeat("-", wd))
		sep.WriteByte('+')
	}
	sep.WriteByte('\n')

	bw := bufio.NewWriter(w)
	bw.WriteString(sep.String())
	writeRow(bw, header, widths, truncate > 0)
	bw.WriteString(sep.String())
	for _, row := range rows {
		writeRow(bw, row, widths, truncate > 0)
	}
	bw.WriteString(sep.String())

	if total := tbl.NumRows(); total > int64(n) {
		noun := "rows"
		if n == 1 {
			noun = "row"
		}
		fmt.Fprintf(bw, "only showing top %d %s\n", n, noun)
	}
	bw.WriteString("\n")
	return bw.Flush()
}

func writeRow(w *bufio.Writer, cells []string, widths []int, right bool) {
	w.WriteByte('|')
	for i, cell := range cells {
		pad := strings.Repeat(" ", widths[i]-displayWidth(cell))
		if right {
			w.WriteString(pad)
			w.WriteString(cell)
		} else {
			w.WriteString(cell)
			w.WriteString(pad)
		}
		w.WriteByte('|')
	}
	w.WriteByte('\n')
}

func collectRows(tbl arrow.Table, n, truncate int) ([][]string, error) {
	var rows [][]string
	if n == 0 {
		return rows, nil
	}

	tr := array.NewTableReader(tbl, int64(n))
	defer tr.Release()
	for tr.Next() {
		rec := tr.Record()
		for i := 0; i < int(rec.NumRows()) && len(rows) < n; i++ {
			row := make([]string, rec.NumCols())
			for c := range row {
				row[c] = cutCell(FormatValue(rec.Column(c), i), truncate)
			}
			rows = append(rows, row)
		}
		if len(rows) >= n {
			break
		}
	}
	return rows, tr.Err()
}

// cutCell shortens s to limit characters, marking the cut with "...".
func cutCell(s string, limit int) string {
	if limit <= 0 || len([]rune(s)) <= limit {
		return s
	}
	r := []rune(s)
	if limit < 4 {
		return string(r[:limit])
	}
	return string(r[:limit-3]) + "..."
}

// displayWidth counts East Asian wide and fullwidth characters as two
// columns.
func displayWidth(s string) int {
	n := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}

// FormatValue renders one cell the way Show prints it. Nulls are "null".
func FormatValue(arr arrow.Array, i int) string {
	if arr.IsNull(i) {
		return "null"
	}

	switch a := arr.(type) {
	case *array.Float64:
		return formatDouble(a.Value(i), 64)
	case *array.Float32:
		return formatDouble(float64(a.Value(i)), 32)
	case *array.Date32:
		return a.Value(i).ToTime().Format("2006-01-02")
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit).UTC().Format("2006-01-02 15:04:05.999999")
	case *array.Time64:
		unit := a.DataType().(*arrow.Time64Type).Unit
		return a.Value(i).ToTime(unit).Format("15:04:05.999999")
	case *array.Binary:
		return "[" + strings.ToUpper(hex.EncodeToString(a.Value(i))) + "]"
	case *array.FixedSizeBinary:
		return "[" + strings.ToUpper(hex.EncodeToString(a.Value(i))) + "]"
	case array.ListLike:
		start, end := a.ValueOffsets(i)
		values := a.ListValues()
		parts := make([]string, 0, end-start)
		for j := start; j < end; j++ {
			parts = append(parts, FormatValue(values, int(j)))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *array.Struct:
		parts := make([]string, a.NumField())
		for f := range parts {
			parts[f] = FormatValue(a.Field(f), i)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return arr.ValueStr(i)
}

// formatDouble prints doubles with a fractional part, switching to
// scientific notation outside [1e-3, 1e7): 7.0, 0.25, 1.0E7.
func formatDouble(v float64, bitSize int) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	}

	abs := math.Abs(v)
	if v == 0 || (abs >= 1e-3 && abs < 1e7) {
		s := strconv.FormatFloat(v, 'f', -1, bitSize)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}

	s := strconv.FormatFloat(v, 'E', -1, bitSize)
	mantissa, exp, _ := strings.Cut(s, "E")
	if !strings.Contains(mantissa, ".") {
		mantissa += ".0"
	}
	e, _ := strconv.Atoi(exp)
	return mantissa + "E" + strconv.Itoa(e)
}
