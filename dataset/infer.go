package dataset

import (
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
)

// kind is an inferred column type, ordered from narrowest to widest within
// the numeric family.
type kind int

const (
	kindNull kind = iota
	kindInt
	kindLong
	kindDouble
	kindBoolean
	kindDate
	kindTimestamp
	kindString
)

func (k kind) String() string {
	switch k {
	case kindNull:
		return "null"
	case kindInt:
		return "int"
	case kindLong:
		return "long"
	case kindDouble:
		return "double"
	case kindBoolean:
		return "boolean"
	case kindDate:
		return "date"
	case kindTimestamp:
		return "timestamp"
	default:
		return "string"
	}
}

func (k kind) numeric() bool {
	return k == kindInt || k == kindLong || k == kindDouble
}

// arrowType returns the column type for k. Columns that only held nulls
// become strings.
func (k kind) arrowType() arrow.DataType {
	switch k {
	case kindInt:
		return arrow.PrimitiveTypes.Int32
	case kindLong:
		return arrow.PrimitiveTypes.Int64
	case kindDouble:
		return arrow.PrimitiveTypes.Float64
	case kindBoolean:
		return arrow.FixedWidthTypes.Boolean
	case kindDate:
		return arrow.FixedWidthTypes.Date32
	case kindTimestamp:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
	default:
		return arrow.BinaryTypes.String
	}
}

const dateLayout = "2006-01-02"

// Layouts without a zone offset are read in the configured time zone.
// Fractional seconds are accepted after the seconds field.
var localTimestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func parseDate(s string) (time.Time, bool) {
	t, err := time.Parse(dateLayout, s)
	return t, err == nil
}

func parseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	for _, layout := range localTimestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseBool(s string) (bool, bool) {
	switch {
	case strings.EqualFold(s, "true"):
		return true, true
	case strings.EqualFold(s, "false"):
		return false, true
	}
	return false, false
}

// inferCell returns the narrowest kind that can hold s.
func inferCell(s string, loc *time.Location) kind {
	if _, err := strconv.ParseInt(s, 10, 32); err == nil {
		return kindInt
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return kindLong
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return kindDouble
	}
	if _, ok := parseBool(s); ok {
		return kindBoolean
	}
	if _, ok := parseDate(s); ok {
		return kindDate
	}
	if _, ok := parseTimestamp(s, loc); ok {
		return kindTimestamp
	}
	return kindString
}

// mergeKinds returns the narrowest kind that can hold values of both a
// and b.
func mergeKinds(a, b kind) kind {
	switch {
	case a == b:
		return a
	case a == kindNull:
		return b
	case b == kindNull:
		return a
	case a.numeric() && b.numeric():
		return max(a, b)
	case (a == kindDate && b == kindTimestamp) || (a == kindTimestamp && b == kindDate):
		return kindTimestamp
	}
	return kindString
}
