package spec

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

var epochDate = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// SerializeValue encodes a value with the single-value binary form used
// for column bounds. Dates are days since the epoch, times and timestamps
// are microseconds; numbers are little-endian.
func SerializeValue(value any, typ Type) ([]byte, error) {
	switch typ.TypeID() {
	case TypeBoolean:
		b, ok := value.(bool)
		if !ok {
			break
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil

	case TypeInt, TypeDate:
		var n int32
		switch v := value.(type) {
		case int32:
			n = v
		case time.Time:
			n = int32(v.UTC().Sub(epochDate).Hours() / 24)
		default:
			return nil, fmt.Errorf("cannot serialize %T as %s", value, typ)
		}
		return binary.LittleEndian.AppendUint32(nil, uint32(n)), nil

	case TypeLong, TypeTime, TypeTimestamp, TypeTimestampTz:
		var n int64
		switch v := value.(type) {
		case int64:
			n = v
		case int32:
			n = int64(v)
		case time.Time:
			n = v.UnixMicro()
		default:
			return nil, fmt.Errorf("cannot serialize %T as %s", value, typ)
		}
		return binary.LittleEndian.AppendUint64(nil, uint64(n)), nil

	case TypeFloat:
		f, ok := value.(float32)
		if !ok {
			break
		}
		return binary.LittleEndian.AppendUint32(nil, math.Float32bits(f)), nil

	case TypeDouble:
		f, ok := value.(float64)
		if !ok {
			break
		}
		return binary.LittleEndian.AppendUint64(nil, math.Float64bits(f)), nil

	case TypeString:
		if s, ok := value.(string); ok {
			return []byte(s), nil
		}

	case TypeUUID:
		switch v := value.(type) {
		case uuid.UUID:
			return v[:], nil
		case []byte:
			return v, nil
		}

	case TypeBinary, TypeFixed, TypeDecimal:
		if b, ok := value.([]byte); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("cannot serialize %T as %s", value, typ)
}

// DeserializeValue decodes a single-value binary form. Dates decode to
// int32 days and temporal types to int64 microseconds.
func DeserializeValue(data []byte, typ Type) (any, error) {
	need := func(n int) error {
		if len(data) != n {
			return fmt.Errorf("invalid %s value: %d bytes, want %d", typ, len(data), n)
		}
		return nil
	}

	switch typ.TypeID() {
	case TypeBoolean:
		if err := need(1); err != nil {
			return nil, err
		}
		return data[0] != 0, nil
	case TypeInt, TypeDate:
		if err := need(4); err != nil {
			return nil, err
		}
		return int32(binary.LittleEndian.Uint32(data)), nil
	case TypeLong, TypeTime, TypeTimestamp, TypeTimestampTz:
		if err := need(8); err != nil {
			return nil, err
		}
		return int64(binary.LittleEndian.Uint64(data)), nil
	case TypeFloat:
		if err := need(4); err != nil {
			return nil, err
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(data)), nil
	case TypeDouble:
		if err := need(8); err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(data)), nil
	case TypeString:
		return string(data), nil
	case TypeUUID:
		return uuid.FromBytes(data)
	}
	return data, nil
}
