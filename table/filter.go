package table

import (
	"cmp"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/BrobridgeOrg/csv2iceberg/spec"
)

var literalTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// normalize maps column and literal values onto a few comparable kinds:
// int64, float64, string, bool and time.Time.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case time.Time:
		return x.UTC()
	}
	return v
}

// compareValues orders a column value against a literal. ok is false when
// the two cannot be compared.
func compareValues(left, right any) (c int, ok bool) {
	left, right = normalize(left), normalize(right)

	switch l := left.(type) {
	case int64:
		switch r := right.(type) {
		case int64:
			return cmp.Compare(l, r), true
		case float64:
			return cmp.Compare(float64(l), r), true
		}
	case float64:
		switch r := right.(type) {
		case float64:
			return cmp.Compare(l, r), true
		case int64:
			return cmp.Compare(l, float64(r)), true
		}
	case string:
		return strings.Compare(l, fmt.Sprint(right)), true
	case bool:
		if r, isBool := right.(bool); isBool {
			switch {
			case l == r:
				return 0, true
			case !l:
				return -1, true
			default:
				return 1, true
			}
		}
	case time.Time:
		switch r := right.(type) {
		case time.Time:
			return l.Compare(r), true
		case string:
			for _, layout := range literalTimeLayouts {
				if t, err := time.Parse(layout, r); err == nil {
					return l.Compare(t), true
				}
			}
		}
	}
	return 0, false
}

func matchesComparison(op ExprOp, c int) bool {
	switch op {
	case OpEq:
		return c == 0
	case OpNotEq:
		return c != 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	}
	return false
}

// valueAt returns the value of a primitive column at idx in the form
// understood by compareValues, or nil for null.
func valueAt(arr arrow.Array, idx int) any {
	if arr.IsNull(idx) {
		return nil
	}

	switch a := arr.(type) {
	case *array.Int32:
		return a.Value(idx)
	case *array.Int64:
		return a.Value(idx)
	case *array.Float32:
		return a.Value(idx)
	case *array.Float64:
		return a.Value(idx)
	case *array.String:
		return a.Value(idx)
	case *array.Boolean:
		return a.Value(idx)
	case *array.Date32:
		return a.Value(idx).ToTime()
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(idx).ToTime(unit)
	default:
		return arr.ValueStr(idx)
	}
}

// rowFilter evaluates an expression row by row with SQL null semantics:
// a predicate on a null value is unknown and unknown rows are dropped.
type rowFilter struct {
	expr    *Expression
	columns map[string]arrow.Array
}

func newRowFilter(expr *Expression, rec arrow.Record) *rowFilter {
	cols := make(map[string]arrow.Array, rec.NumCols())
	for i, f := range rec.Schema().Fields() {
		cols[f.Name] = rec.Column(i)
	}
	return &rowFilter{expr: expr, columns: cols}
}

// eval returns the result for row i; known is false for SQL unknown.
func (f *rowFilter) eval(e *Expression, i int) (match, known bool) {
	switch e.Op {
	case OpAnd:
		known = true
		for _, c := range e.Children {
			m, k := f.eval(c, i)
			if k && !m {
				return false, true
			}
			known = known && k
		}
		return true, known
	case OpOr:
		allKnown := true
		for _, c := range e.Children {
			m, k := f.eval(c, i)
			if k && m {
				return true, true
			}
			allKnown = allKnown && k
		}
		return false, allKnown
	case OpNot:
		m, k := f.eval(e.Children[0], i)
		return !m, k
	}

	col, ok := f.columns[e.Column]
	if !ok {
		return false, false
	}
	switch e.Op {
	case OpIsNull:
		return col.IsNull(i), true
	case OpNotNull:
		return col.IsValid(i), true
	}

	v := valueAt(col, i)
	if v == nil {
		return false, false
	}
	switch e.Op {
	case OpIn:
		for _, candidate := range e.Values {
			if c, ok := compareValues(v, candidate); ok && c == 0 {
				return true, true
			}
		}
		return false, true
	case OpStartsWith:
		s, isString := v.(string)
		return isString && strings.HasPrefix(s, fmt.Sprint(e.Value)), true
	}

	c, ok := compareValues(v, e.Value)
	if !ok {
		return false, false
	}
	return matchesComparison(e.Op, c), true
}

// filterRecord keeps the rows of rec for which expr is true.
func filterRecord(ctx context.Context, mem memory.Allocator, rec arrow.Record, expr *Expression) (arrow.Record, error) {
	f := newRowFilter(expr, rec)
	b := array.NewBooleanBuilder(mem)
	defer b.Release()

	n := int(rec.NumRows())
	kept := 0
	for i := 0; i < n; i++ {
		m, known := f.eval(expr, i)
		keep := m && known
		if keep {
			kept++
		}
		b.Append(keep)
	}

	if kept == n {
		rec.Retain()
		return rec, nil
	}
	mask := b.NewArray()
	defer mask.Release()

	ctx = compute.WithAllocator(ctx, mem)
	return compute.FilterRecordBatch(ctx, rec, mask, compute.DefaultFilterOptions())
}

// fileMightMatch reports whether a data file can hold rows matching expr,
// judging from its column statistics. It errs on the side of true.
func fileMightMatch(df spec.DataFile, expr *Expression, schema *spec.Schema) bool {
	if expr == nil {
		return true
	}

	switch expr.Op {
	case OpAnd:
		for _, c := range expr.Children {
			if !fileMightMatch(df, c, schema) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range expr.Children {
			if fileMightMatch(df, c, schema) {
				return true
			}
		}
		return false
	case OpNot:
		return true
	}

	field := schema.FieldByName(expr.Column)
	if field == nil {
		return true
	}
	nulls, hasNulls := df.NullValueCounts[field.ID]
	values, hasValues := df.ValueCounts[field.ID]
	allNull := hasNulls && hasValues && nulls == values

	switch expr.Op {
	case OpIsNull:
		return !hasNulls || nulls > 0
	case OpNotNull:
		return !allNull
	case OpNotEq:
		return !allNull
	}
	if allNull {
		return false
	}

	lower := boundValue(df.LowerBounds, field)
	upper := boundValue(df.UpperBounds, field)

	switch expr.Op {
	case OpIn:
		for _, v := range expr.Values {
			if inBounds(lower, upper, v) {
				return true
			}
		}
		return false
	case OpEq:
		return inBounds(lower, upper, expr.Value)
	case OpLt:
		c, ok := compareBound(lower, expr.Value)
		return !ok || c < 0
	case OpLte:
		c, ok := compareBound(lower, expr.Value)
		return !ok || c <= 0
	case OpGt:
		c, ok := compareBound(upper, expr.Value)
		return !ok || c > 0
	case OpGte:
		c, ok := compareBound(upper, expr.Value)
		return !ok || c >= 0
	case OpStartsWith:
		prefix := fmt.Sprint(expr.Value)
		lo, loOK := lower.(string)
		hi, hiOK := upper.(string)
		if loOK && strings.Compare(truncatePrefix(lo, prefix), prefix) > 0 {
			return false
		}
		if hiOK && strings.Compare(truncatePrefix(hi, prefix), prefix) < 0 {
			return false
		}
	}
	return true
}

func truncatePrefix(s, prefix string) string {
	if len(s) > len(prefix) {
		return s[:len(prefix)]
	}
	return s
}

func inBounds(lower, upper, v any) bool {
	if c, ok := compareBound(lower, v); ok && c > 0 {
		return false
	}
	if c, ok := compareBound(upper, v); ok && c < 0 {
		return false
	}
	return true
}

func compareBound(bound, v any) (int, bool) {
	if bound == nil {
		return 0, false
	}
	return compareValues(bound, v)
}

// boundValue decodes a column bound into a value for compareValues, or
// nil when the bound is absent or unreadable.
func boundValue(bounds map[int][]byte, field *spec.NestedField) any {
	data, ok := bounds[field.ID]
	if !ok {
		return nil
	}
	v, err := spec.DeserializeValue(data, field.Type)
	if err != nil {
		return nil
	}

	switch field.Type.TypeID() {
	case spec.TypeDate:
		return time.Unix(int64(v.(int32))*86400, 0).UTC()
	case spec.TypeTimestamp, spec.TypeTimestampTz:
		return time.UnixMicro(v.(int64)).UTC()
	case spec.TypeBoolean, spec.TypeInt, spec.TypeLong, spec.TypeFloat, spec.TypeDouble, spec.TypeString:
		return v
	}
	return nil
}
