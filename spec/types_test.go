package spec

import (
	"testing"
)

func TestPrimitiveTypes(t *testing.T) {
	tests := []struct {
		name     string
		typ      Type
		expected TypeID
	}{
		{"BooleanType", BooleanType, TypeBoolean},
		{"IntType", IntType, TypeInt},
		{"LongType", LongType, TypeLong},
		{"FloatType", FloatType, TypeFloat},
		{"DoubleType", DoubleType, TypeDouble},
		{"StringType", StringType, TypeString},
		{"BinaryType", BinaryType, TypeBinary},
		{"DateType", DateType, TypeDate},
		{"TimeType", TimeType, TypeTime},
		{"TimestampType", TimestampType, TypeTimestamp},
		{"TimestampTzType", TimestampTzType, TypeTimestampTz},
		{"UUIDType", UUIDType, TypeUUID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.typ.TypeID() != tt.expected {
				t.Errorf("%s.TypeID() = %v, want %v", tt.name, tt.typ.TypeID(), tt.expected)
			}
		})
	}
}

func TestPrimitiveTypeString(t *testing.T) {
	tests := []struct {
		typ      PrimitiveType
		expected string
	}{
		{BooleanType, "boolean"},
		{IntType, "int"},
		{LongType, "long"},
		{FloatType, "float"},
		{DoubleType, "double"},
		{StringType, "string"},
		{BinaryType, "binary"},
		{DateType, "date"},
		{TimeType, "time"},
		{TimestampType, "timestamp"},
		{TimestampTzType, "timestamptz"},
		{UUIDType, "uuid"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if tt.typ.String() != tt.expected {
				t.Errorf("String() = %s, want %s", tt.typ.String(), tt.expected)
			}
		})
	}
}

func TestPrimitiveTypeEquals(t *testing.T) {
	if !BooleanType.Equals(BooleanType) {
		t.Error("BooleanType should equal itself")
	}

	if BooleanType.Equals(IntType) {
		t.Error("BooleanType should not equal IntType")
	}

	if BooleanType.Equals(StringType) {
		t.Error("BooleanType should not equal StringType")
	}
}

func TestStructType(t *testing.T) {
	st := StructType{
		Fields: []NestedField{
			{ID: 1, Name: "id", Type: LongType, Required: true},
			{ID: 2, Name: "name", Type: StringType, Required: false},
		},
	}

	if len(st.Fields) != 2 {
		t.Errorf("Fields length = %d, want 2", len(st.Fields))
	}

	if st.Fields[0].Name != "id" {
		t.Errorf("Fields[0].Name = %s, want id", st.Fields[0].Name)
	}
	if st.Fields[1].Name != "name" {
		t.Errorf("Fields[1].Name = %s, want name", st.Fields[1].Name)
	}

	if st.TypeID() != TypeStruct {
		t.Errorf("TypeID = %v, want TypeStruct", st.TypeID())
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{"long", LongType, false},
		{" timestamptz ", TimestampTzType, false},
		{"fixed[16]", FixedType{Length: 16}, false},
		{"decimal(10, 2)", DecimalType{Precision: 10, Scale: 2}, false},
		{"decimal(38,0)", DecimalType{Precision: 38, Scale: 0}, false},
		{"fixed[x]", nil, true},
		{"decimal(10)", nil, true},
		{"varchar", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseType(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equals(tt.want) {
				t.Errorf("ParseType(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCanPromote(t *testing.T) {
	tests := []struct {
		from, to Type
		want     bool
	}{
		{IntType, IntType, true},
		{IntType, LongType, true},
		{FloatType, DoubleType, true},
		{DecimalType{Precision: 9, Scale: 2}, DecimalType{Precision: 18, Scale: 2}, true},
		{DecimalType{Precision: 9, Scale: 2}, DecimalType{Precision: 18, Scale: 3}, false},
		{LongType, IntType, false},
		{IntType, DoubleType, false},
		{StringType, DateType, false},
		{DateType, TimestampType, false},
	}

	for _, tt := range tests {
		if got := CanPromote(tt.from, tt.to); got != tt.want {
			t.Errorf("CanPromote(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStructTypeString(t *testing.T) {
	st := StructType{Fields: []NestedField{
		{ID: 1, Name: "id", Type: LongType, Required: true},
		{ID: 2, Name: "tags", Type: ListType{ElementID: 3, Element: StringType}},
	}}

	want := "struct<1: id: required long, 2: tags: optional list<string>>"
	if st.String() != want {
		t.Errorf("String() = %s, want %s", st.String(), want)
	}
	if st.FieldByName("tags").ID != 2 {
		t.Error("FieldByName(tags) should return field 2")
	}
	if st.Field(9) != nil {
		t.Error("Field(9) should be nil")
	}
}
