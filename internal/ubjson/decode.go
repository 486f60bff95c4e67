// Package ubjson reads and writes Universal Binary JSON, the container
// format of replay files and of the console wire protocol.
package ubjson

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

var (
	// ErrUnexpectedMarker is returned for a type marker the decoder cannot handle.
	ErrUnexpectedMarker = errors.New("unexpected ubjson marker")
	// ErrTooLarge is returned when a declared length exceeds the bytes left
	// in the input.
	ErrTooLarge = errors.New("ubjson length exceeds input")
)

// DefaultLimit bounds the input of a Decoder created with NewDecoder.
const DefaultLimit = 64 << 20

// Unmarshal decodes a single value from data.
//
// Objects decode to map[string]any, arrays to []any, strongly typed uint8
// arrays to []byte, integers to int64 and floats to float64.
func Unmarshal(data []byte) (any, error) {
	return NewLimitedDecoder(bytes.NewReader(data), len(data)).Decode()
}

// Decoder reads values from a stream.
type Decoder struct {
	r     *bufio.Reader
	src   *countingReader
	limit int
}

type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

// NewDecoder returns a Decoder reading at most DefaultLimit bytes from r.
func NewDecoder(r io.Reader) *Decoder {
	return NewLimitedDecoder(r, DefaultLimit)
}

// NewLimitedDecoder returns a Decoder that treats r as holding at most limit
// bytes. Strings and containers declaring more than what is left of limit
// fail with ErrTooLarge.
func NewLimitedDecoder(r io.Reader, limit int) *Decoder {
	src := &countingReader{r: r}
	return &Decoder{r: bufio.NewReader(src), src: src, limit: limit}
}

// remaining returns how many bytes of the limit are not consumed yet.
func (d *Decoder) remaining() int {
	return d.limit - (d.src.n - d.r.Buffered())
}

func (d *Decoder) checkLength(n int) error {
	if n > d.remaining() {
		return fmt.Errorf("%w: %d bytes declared, %d left", ErrTooLarge, n, d.remaining())
	}
	return nil
}

// Decode reads the next value.
func (d *Decoder) Decode() (any, error) {
	marker, err := d.readMarker()
	if err != nil {
		return nil, err
	}
	return d.decodeValue(marker)
}

// readMarker returns the next marker, skipping no-op padding.
func (d *Decoder) readMarker() (byte, error) {
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return 0, err
		}
		if b != 'N' {
			return b, nil
		}
	}
}

func (d *Decoder) decodeValue(marker byte) (any, error) {
	switch marker {
	case 'Z':
		return nil, nil
	case 'T':
		return true, nil
	case 'F':
		return false, nil
	case 'i', 'U', 'I', 'l', 'L':
		return d.readInt(marker)
	case 'd':
		val, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		return float64(math.Float32frombits(val)), nil
	case 'D':
		val, err := d.readUint64()
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(val), nil
	case 'C':
		b, err := d.r.ReadByte()
		if err != nil {
			return nil, err
		}
		return string(rune(b)), nil
	case 'S', 'H':
		return d.readString()
	case '[':
		return d.readArray()
	case '{':
		return d.readObject()
	default:
		return nil, fmt.Errorf("%w 0x%x", ErrUnexpectedMarker, marker)
	}
}

// readContainerHeader consumes the optional $type and #count prefixes.
// count is -1 when the container is terminated by a closing marker.
func (d *Decoder) readContainerHeader() (elemType byte, count int, err error) {
	count = -1
	next, err := d.r.Peek(1)
	if err != nil {
		return 0, 0, err
	}
	if next[0] == '$' {
		if _, err := d.r.ReadByte(); err != nil {
			return 0, 0, err
		}
		if elemType, err = d.r.ReadByte(); err != nil {
			return 0, 0, err
		}
		next, err = d.r.Peek(1)
		if err != nil {
			return 0, 0, err
		}
		if next[0] != '#' {
			return 0, 0, fmt.Errorf("typed container without count")
		}
	}
	if next[0] == '#' {
		if _, err := d.r.ReadByte(); err != nil {
			return 0, 0, err
		}
		n, err := d.readLength()
		if err != nil {
			return 0, 0, err
		}
		if err := d.checkLength(n); err != nil {
			return 0, 0, err
		}
		count = n
	}
	return elemType, count, nil
}

func (d *Decoder) readArray() (any, error) {
	elemType, count, err := d.readContainerHeader()
	if err != nil {
		return nil, err
	}
	if elemType == 'U' || elemType == 'i' {
		buf := make([]byte, count)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return nil, err
		}
		return buf, nil
	}
	out := make([]any, 0, max(count, 0))
	for i := 0; count < 0 || i < count; i++ {
		marker := elemType
		if marker == 0 {
			if marker, err = d.readMarker(); err != nil {
				return nil, err
			}
			if count < 0 && marker == ']' {
				break
			}
		}
		val, err := d.decodeValue(marker)
		if err != nil {
			return nil, err
		}
		out = append(out, val)
	}
	return out, nil
}

func (d *Decoder) readObject() (any, error) {
	elemType, count, err := d.readContainerHeader()
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, max(count, 0))
	for i := 0; count < 0 || i < count; i++ {
		if count < 0 {
			next, err := d.r.Peek(1)
			if err != nil {
				return nil, err
			}
			if next[0] == '}' {
				if _, err := d.r.ReadByte(); err != nil {
					return nil, err
				}
				break
			}
		}
		key, err := d.readString()
		if err != nil {
			return nil, err
		}
		marker := elemType
		if marker == 0 {
			if marker, err = d.readMarker(); err != nil {
				return nil, err
			}
		}
		val, err := d.decodeValue(marker)
		if err != nil {
			return nil, err
		}
		out[key] = val
	}
	return out, nil
}

// readString reads a length-prefixed string body (the 'S' marker, if any,
// has already been consumed).
func (d *Decoder) readString() (string, error) {
	length, err := d.readLength()
	if err != nil {
		return "", err
	}
	if err := d.checkLength(length); err != nil {
		return "", err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (d *Decoder) readLength() (int, error) {
	marker, err := d.readMarker()
	if err != nil {
		return 0, err
	}
	n, err := d.readInt(marker)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > math.MaxInt32 {
		return 0, fmt.Errorf("invalid length %d", n)
	}
	return int(n), nil
}

func (d *Decoder) readInt(marker byte) (int64, error) {
	switch marker {
	case 'i':
		b, err := d.r.ReadByte()
		return int64(int8(b)), err
	case 'U':
		b, err := d.r.ReadByte()
		return int64(b), err
	case 'I':
		val, err := d.readUint16()
		return int64(int16(val)), err
	case 'l':
		val, err := d.readUint32()
		return int64(int32(val)), err
	case 'L':
		val, err := d.readUint64()
		return int64(val), err
	default:
		return 0, fmt.Errorf("%w 0x%x for integer", ErrUnexpectedMarker, marker)
	}
}

func (d *Decoder) readUint16() (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(d.r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func (d *Decoder) readUint32() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(d.r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func (d *Decoder) readUint64() (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(d.r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}
