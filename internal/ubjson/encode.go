package ubjson

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// Marshal encodes v. Supported types are nil, bool, string, []byte (written
// as an optimized uint8 array), signed and unsigned integers, float32,
// float64, []any and map[string]any. Map keys are written in sorted order.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteByte('Z')
	case bool:
		if val {
			buf.WriteByte('T')
		} else {
			buf.WriteByte('F')
		}
	case string:
		buf.WriteByte('S')
		writeString(buf, val)
	case []byte:
		buf.WriteString("[$U#")
		writeInt(buf, int64(len(val)))
		buf.Write(val)
	case int:
		writeInt(buf, int64(val))
	case int8:
		writeInt(buf, int64(val))
	case int16:
		writeInt(buf, int64(val))
	case int32:
		writeInt(buf, int64(val))
	case int64:
		writeInt(buf, val)
	case uint8:
		writeInt(buf, int64(val))
	case uint16:
		writeInt(buf, int64(val))
	case uint32:
		writeInt(buf, int64(val))
	case float32:
		buf.WriteByte('d')
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], math.Float32bits(val))
		buf.Write(b[:])
	case float64:
		buf.WriteByte('D')
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(val))
		buf.Write(b[:])
	case []any:
		buf.WriteByte('[')
		for _, item := range val {
			if err := encodeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for _, k := range keys {
			writeString(buf, k)
			if err := encodeValue(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported ubjson type %T", v)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	writeInt(buf, int64(len(s)))
	buf.WriteString(s)
}

// writeInt picks the smallest integer marker that holds n.
func writeInt(buf *bytes.Buffer, n int64) {
	switch {
	case n >= 0 && n <= math.MaxUint8:
		buf.WriteByte('U')
		buf.WriteByte(byte(n))
	case n >= math.MinInt8 && n < 0:
		buf.WriteByte('i')
		buf.WriteByte(byte(int8(n)))
	case n >= math.MinInt16 && n <= math.MaxInt16:
		buf.WriteByte('I')
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(int16(n)))
		buf.Write(b[:])
	case n >= math.MinInt32 && n <= math.MaxInt32:
		buf.WriteByte('l')
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(int32(n)))
		buf.Write(b[:])
	default:
		buf.WriteByte('L')
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(n))
		buf.Write(b[:])
	}
}
