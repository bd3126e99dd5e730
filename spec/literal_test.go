package spec

import (
	"bytes"
	"testing"
	"time"
)

func TestSerializeValue(t *testing.T) {
	tests := []struct {
		name  string
		value any
		typ   Type
		want  []byte
	}{
		{"bool", true, BooleanType, []byte{1}},
		{"int", int32(1), IntType, []byte{1, 0, 0, 0}},
		{"negative int", int32(-1), IntType, []byte{0xff, 0xff, 0xff, 0xff}},
		{"long", int64(256), LongType, []byte{0, 1, 0, 0, 0, 0, 0, 0}},
		{"date", time.Date(1970, 1, 11, 0, 0, 0, 0, time.UTC), DateType, []byte{10, 0, 0, 0}},
		{"date days", int32(10), DateType, []byte{10, 0, 0, 0}},
		{"timestamp", time.UnixMicro(1), TimestampType, []byte{1, 0, 0, 0, 0, 0, 0, 0}},
		{"double", float64(1), DoubleType, []byte{0, 0, 0, 0, 0, 0, 0xf0, 0x3f}},
		{"string", "iceberg", StringType, []byte("iceberg")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SerializeValue(tt.value, tt.typ)
			if err != nil {
				t.Fatalf("SerializeValue() error = %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("SerializeValue() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := SerializeValue("x", IntType); err == nil {
		t.Error("SerializeValue(string, int) should fail")
	}
}

func TestDeserializeValue(t *testing.T) {
	v, err := DeserializeValue([]byte{0, 0, 0, 0, 0, 0, 0xf0, 0x3f}, DoubleType)
	if err != nil || v != float64(1) {
		t.Errorf("DeserializeValue(double) = %v, %v", v, err)
	}
	v, err = DeserializeValue([]byte{0xff, 0xff, 0xff, 0xff}, IntType)
	if err != nil || v != int32(-1) {
		t.Errorf("DeserializeValue(int) = %v, %v", v, err)
	}
	if _, err := DeserializeValue([]byte{1, 2}, LongType); err == nil {
		t.Error("DeserializeValue with a short buffer should fail")
	}
}
