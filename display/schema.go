// Package display renders Arrow schemas and tables as text.
package display

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

// PrintSchema writes schema as a tree:
//
//	root
//	 |-- id: integer (nullable = true)
//	 |-- name: string (nullable = true)
func PrintSchema(w io.Writer, schema *arrow.Schema) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("root\n")
	for _, f := range schema.Fields() {
		writeField(bw, 1, f.Name, f.Type, "nullable", f.Nullable)
	}
	bw.WriteString("\n")
	return bw.Flush()
}

func writeField(w *bufio.Writer, depth int, name string, dt arrow.DataType, label string, nullable bool) {
	fmt.Fprintf(w, "%s|-- %s: %s (%s = %t)\n", indent(depth), name, TypeName(dt), label, nullable)

	switch t := dt.(type) {
	case *arrow.StructType:
		for _, f := range t.Fields() {
			writeField(w, depth+1, f.Name, f.Type, "nullable", f.Nullable)
		}
	case *arrow.MapType:
		writeField(w, depth+1, "key", t.KeyType(), "nullable", false)
		writeField(w, depth+1, "value", t.ItemType(), "valueContainsNull", t.ItemField().Nullable)
	case arrow.ListLikeType:
		elem := t.ElemField()
		writeField(w, depth+1, "element", elem.Type, "containsNull", elem.Nullable)
	}
}

func indent(depth int) string {
	return " " + strings.Repeat("|    ", depth-1)
}

// TypeName returns the SQL name of an Arrow type, e.g. "integer" for int32.
func TypeName(dt arrow.DataType) string {
	switch t := dt.(type) {
	case *arrow.BooleanType:
		return "boolean"
	case *arrow.Int8Type:
		return "byte"
	case *arrow.Int16Type:
		return "short"
	case *arrow.Int32Type:
		return "integer"
	case *arrow.Int64Type:
		return "long"
	case *arrow.Float32Type:
		return "float"
	case *arrow.Float64Type:
		return "double"
	case *arrow.StringType, *arrow.LargeStringType:
		return "string"
	case *arrow.BinaryType, *arrow.LargeBinaryType, *arrow.FixedSizeBinaryType:
		return "binary"
	case *arrow.Date32Type:
		return "date"
	case *arrow.TimestampType:
		if t.TimeZone == "" {
			return "timestamp_ntz"
		}
		return "timestamp"
	case *arrow.Decimal128Type:
		return fmt.Sprintf("decimal(%d,%d)", t.Precision, t.Scale)
	case *arrow.StructType:
		return "struct"
	case *arrow.MapType:
		return "map"
	case arrow.ListLikeType:
		return "array"
	}
	return dt.String()
}
