package table

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/BrobridgeOrg/csv2iceberg/icebergerr"
	"github.com/BrobridgeOrg/csv2iceberg/spec"
)

// FieldIDKey is the Arrow field metadata key that carries the Iceberg field
// ID. pqarrow copies it into the parquet schema.
const FieldIDKey = "PARQUET:field_id"

func fieldIDMetadata(id int) arrow.Metadata {
	return arrow.NewMetadata([]string{FieldIDKey}, []string{strconv.Itoa(id)})
}

// SchemaToArrow converts an Iceberg schema to an Arrow schema whose fields
// carry their Iceberg field IDs.
func SchemaToArrow(schema *spec.Schema) *arrow.Schema {
	fields := make([]arrow.Field, len(schema.Fields))
	for i, f := range schema.Fields {
		fields[i] = fieldToArrow(f)
	}
	return arrow.NewSchema(fields, nil)
}

func fieldToArrow(f spec.NestedField) arrow.Field {
	return arrow.Field{
		Name:     f.Name,
		Type:     TypeToArrow(f.Type),
		Nullable: !f.Required,
		Metadata: fieldIDMetadata(f.ID),
	}
}

// TypeToArrow converts an Iceberg type to an Arrow data type. Nested
// element, key and value fields carry their field IDs.
func TypeToArrow(t spec.Type) arrow.DataType {
	switch v := t.(type) {
	case spec.PrimitiveType:
		switch v.TypeID() {
		case spec.TypeBoolean:
			return arrow.FixedWidthTypes.Boolean
		case spec.TypeInt:
			return arrow.PrimitiveTypes.Int32
		case spec.TypeLong:
			return arrow.PrimitiveTypes.Int64
		case spec.TypeFloat:
			return arrow.PrimitiveTypes.Float32
		case spec.TypeDouble:
			return arrow.PrimitiveTypes.Float64
		case spec.TypeDate:
			return arrow.FixedWidthTypes.Date32
		case spec.TypeTime:
			return arrow.FixedWidthTypes.Time64us
		case spec.TypeTimestamp:
			return &arrow.TimestampType{Unit: arrow.Microsecond}
		case spec.TypeTimestampTz:
			return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
		case spec.TypeString:
			return arrow.BinaryTypes.String
		case spec.TypeUUID:
			return &arrow.FixedSizeBinaryType{ByteWidth: 16}
		case spec.TypeBinary:
			return arrow.BinaryTypes.Binary
		}
	case spec.DecimalType:
		return &arrow.Decimal128Type{Precision: int32(v.Precision), Scale: int32(v.Scale)}
	case spec.FixedType:
		return &arrow.FixedSizeBinaryType{ByteWidth: v.Length}
	case spec.ListType:
		return arrow.ListOfField(arrow.Field{
			Name:     "element",
			Type:     TypeToArrow(v.Element),
			Nullable: !v.ElementRequired,
			Metadata: fieldIDMetadata(v.ElementID),
		})
	case spec.MapType:
		mt := arrow.MapOfWithMetadata(
			TypeToArrow(v.Key), fieldIDMetadata(v.KeyID),
			TypeToArrow(v.Value), fieldIDMetadata(v.ValueID))
		mt.SetItemNullable(!v.ValueRequired)
		return mt
	case spec.StructType:
		fields := make([]arrow.Field, len(v.Fields))
		for i, f := range v.Fields {
			fields[i] = fieldToArrow(f)
		}
		return arrow.StructOf(fields...)
	}
	return arrow.BinaryTypes.String
}

// ArrowToSchema converts an Arrow schema to an Iceberg schema. Field IDs are
// taken from field metadata when every field has one, otherwise they are
// assigned in order.
func ArrowToSchema(schema *arrow.Schema) (*spec.Schema, error) {
	next := 0
	nextID := func() int {
		next++
		return next
	}

	fields := make([]spec.NestedField, len(schema.Fields()))
	for i, f := range schema.Fields() {
		nf, err := arrowFieldToSpec(f, nextID)
		if err != nil {
			return nil, err
		}
		fields[i] = nf
	}

	out := spec.NewSchema(0, fields)
	if !hasFieldIDs(schema.Fields()) {
		out = spec.AssignFreshIDs(0, out)
	}
	return out, nil
}

func hasFieldIDs(fields []arrow.Field) bool {
	for _, f := range fields {
		if _, ok := fieldID(f); !ok {
			return false
		}
	}
	return len(fields) > 0
}

func fieldID(f arrow.Field) (int, bool) {
	i := f.Metadata.FindKey(FieldIDKey)
	if i < 0 {
		return 0, false
	}
	id, err := strconv.Atoi(f.Metadata.Values()[i])
	return id, err == nil
}

func arrowFieldToSpec(f arrow.Field, nextID func() int) (spec.NestedField, error) {
	id, ok := fieldID(f)
	if !ok {
		id = nextID()
	}
	t, err := arrowTypeToSpec(f.Type, nextID)
	if err != nil {
		return spec.NestedField{}, fmt.Errorf("column %q: %w", f.Name, err)
	}
	return spec.NestedField{ID: id, Name: f.Name, Type: t, Required: !f.Nullable}, nil
}

func arrowTypeToSpec(dt arrow.DataType, nextID func() int) (spec.Type, error) {
	switch t := dt.(type) {
	case *arrow.BooleanType:
		return spec.BooleanType, nil
	case *arrow.Int8Type, *arrow.Int16Type, *arrow.Int32Type, *arrow.Uint8Type, *arrow.Uint16Type:
		return spec.IntType, nil
	case *arrow.Int64Type, *arrow.Uint32Type:
		return spec.LongType, nil
	case *arrow.Float32Type:
		return spec.FloatType, nil
	case *arrow.Float64Type:
		return spec.DoubleType, nil
	case *arrow.Date32Type:
		return spec.DateType, nil
	case *arrow.Time64Type:
		return spec.TimeType, nil
	case *arrow.TimestampType:
		if t.TimeZone != "" {
			return spec.TimestampTzType, nil
		}
		return spec.TimestampType, nil
	case *arrow.StringType, *arrow.LargeStringType:
		return spec.StringType, nil
	case *arrow.BinaryType, *arrow.LargeBinaryType:
		return spec.BinaryType, nil
	case *arrow.FixedSizeBinaryType:
		return spec.FixedType{Length: t.ByteWidth}, nil
	case *arrow.Decimal128Type:
		return spec.DecimalType{Precision: int(t.Precision), Scale: int(t.Scale)}, nil
	case *arrow.ListType:
		elem := t.ElemField()
		id, ok := fieldID(elem)
		if !ok {
			id = nextID()
		}
		et, err := arrowTypeToSpec(elem.Type, nextID)
		if err != nil {
			return nil, err
		}
		return spec.ListType{ElementID: id, Element: et, ElementRequired: !elem.Nullable}, nil
	case *arrow.MapType:
		key, item := t.KeyField(), t.ItemField()
		keyID, ok := fieldID(key)
		if !ok {
			keyID = nextID()
		}
		valueID, ok := fieldID(item)
		if !ok {
			valueID = nextID()
		}
		kt, err := arrowTypeToSpec(key.Type, nextID)
		if err != nil {
			return nil, err
		}
		vt, err := arrowTypeToSpec(item.Type, nextID)
		if err != nil {
			return nil, err
		}
		return spec.MapType{KeyID: keyID, Key: kt, ValueID: valueID, Value: vt, ValueRequired: !item.Nullable}, nil
	case *arrow.StructType:
		fields := make([]spec.NestedField, t.NumFields())
		for i, f := range t.Fields() {
			nf, err := arrowFieldToSpec(f, nextID)
			if err != nil {
				return nil, err
			}
			fields[i] = nf
		}
		return spec.StructType{Fields: fields}, nil
	}
	return nil, fmt.Errorf("%w: unsupported arrow type %s", icebergerr.ErrTypeMismatch, dt)
}

// alignRecord returns rec rearranged to match target: columns are matched
// by name ignoring case, widened where the types allow it, and target
// columns missing from rec are filled with nulls. Columns of rec not in
// target are an error.
func alignRecord(mem memory.Allocator, rec arrow.Record, target *arrow.Schema) (arrow.Record, error) {
	for _, f := range rec.Schema().Fields() {
		if fieldIndexFold(target, f.Name) < 0 {
			return nil, fmt.Errorf("%w: %s", icebergerr.ErrColumnNotFound, f.Name)
		}
	}

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
		idx := fieldIndexFold(rec.Schema(), f.Name)
		if idx < 0 {
			if !f.Nullable {
				return nil, fmt.Errorf("%w: required column %s is missing", icebergerr.ErrSchemaNotCompatible, f.Name)
			}
			cols[i] = array.MakeArrayOfNull(mem, f.Type, n)
			continue
		}

		col, err := castColumn(mem, rec.Column(idx), f.Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", f.Name, err)
		}
		if !f.Nullable && col.NullN() > 0 {
			col.Release()
			return nil, fmt.Errorf("%w: required column %s has nulls", icebergerr.ErrInvalidData, f.Name)
		}
		cols[i] = col
	}

	return array.NewRecord(target, cols, int64(n)), nil
}

// fieldIndexFold returns the index of the field of s named name, preferring
// an exact match over a case-insensitive one, or -1.
func fieldIndexFold(s *arrow.Schema, name string) int {
	if idx := s.FieldIndices(name); len(idx) > 0 {
		return idx[0]
	}
	for i, f := range s.Fields() {
		if strings.EqualFold(f.Name, name) {
			return i
		}
	}
	return -1
}

// castColumn converts col to dt. Equal types are relabelled so that nested
// fields carry the target's field IDs; integer and float widening is
// copied value by value.
func castColumn(mem memory.Allocator, col arrow.Array, dt arrow.DataType) (arrow.Array, error) {
	if arrow.TypeEqual(col.DataType(), dt) {
		data := col.Data()
		relabelled := array.NewData(dt, data.Len(), data.Buffers(), data.Children(), data.NullN(), data.Offset())
		defer relabelled.Release()
		return array.MakeFromData(relabelled), nil
	}

	switch dt.ID() {
	case arrow.INT32:
		b := array.NewInt32Builder(mem)
		defer b.Release()
		if err := appendInts(col, func(v int64) { b.Append(int32(v)) }, b.AppendNull, 32); err != nil {
			return nil, err
		}
		return b.NewArray(), nil
	case arrow.INT64:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		if err := appendInts(col, b.Append, b.AppendNull, 64); err != nil {
			return nil, err
		}
		return b.NewArray(), nil
	case arrow.FLOAT64:
		src, ok := col.(*array.Float32)
		if !ok {
			break
		}
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		for i := 0; i < src.Len(); i++ {
			if src.IsNull(i) {
				b.AppendNull()
			} else {
				b.Append(float64(src.Value(i)))
			}
		}
		return b.NewArray(), nil
	}
	return nil, fmt.Errorf("%w: cannot write %s as %s", icebergerr.ErrTypeMismatch, col.DataType(), dt)
}

// appendInts copies a narrower integer column. bits is the width of the
// destination.
func appendInts(col arrow.Array, appendValue func(int64), appendNull func(), bits int) error {
	var value func(i int) int64
	width := 0
	switch src := col.(type) {
	case *array.Int8:
		value, width = func(i int) int64 { return int64(src.Value(i)) }, 8
	case *array.Int16:
		value, width = func(i int) int64 { return int64(src.Value(i)) }, 16
	case *array.Uint8:
		value, width = func(i int) int64 { return int64(src.Value(i)) }, 9
	case *array.Uint16:
		value, width = func(i int) int64 { return int64(src.Value(i)) }, 17
	case *array.Int32:
		value, width = func(i int) int64 { return int64(src.Value(i)) }, 32
	case *array.Uint32:
		value, width = func(i int) int64 { return int64(src.Value(i)) }, 33
	}
	if value == nil || width >= bits {
		return fmt.Errorf("%w: cannot write %s as int%d", icebergerr.ErrTypeMismatch, col.DataType(), bits)
	}

	for i := 0; i < col.Len(); i++ {
		if col.IsNull(i) {
			appendNull()
		} else {
			appendValue(value(i))
		}
	}
	return nil
}
