package resp

import (
	"bytes"
	"fmt"
	"strconv"
)

const (
	MaxBulkLength  = 512 * 1024 * 1024
	MaxArrayLength = 1024 * 1024
	maxLineLength  = 64 * 1024
)

// Decode reads one value from the front of buf and reports how many bytes it
// used. A buf holding only part of a frame yields ErrIncomplete; the caller
// keeps the bytes and retries once more arrive.
func Decode(buf []byte) (Value, int, error) {
	if len(buf) == 0 {
		return Value{}, 0, ErrIncomplete
	}

	typ := Type(buf[0])
	switch typ {
	case SimpleString, Error:
		line, n, err := readLine(buf[1:])
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Type: typ, Str: string(line)}, n + 1, nil
	case Integer:
		line, n, err := readLine(buf[1:])
		if err != nil {
			return Value{}, 0, err
		}
		num, err := strconv.ParseInt(string(line), 10, 64)
		if err != nil {
			return Value{}, 0, fmt.Errorf("%w: invalid integer", ErrInvalidFormat)
		}
		return Value{Type: Integer, Int: num}, n + 1, nil
	case BulkString:
		return decodeBulkString(buf)
	case Array:
		return decodeArray(buf)
	default:
		return Value{}, 0, fmt.Errorf("%w: %q", ErrInvalidType, buf[0])
	}
}

func decodeBulkString(buf []byte) (Value, int, error) {
	length, n, err := readLength(buf[1:], MaxBulkLength)
	if err != nil {
		return Value{}, 0, err
	}
	if length == -1 {
		return Value{Type: BulkString, Null: true}, n + 1, nil
	}

	start := n + 1
	end := start + length
	if len(buf) < end+2 {
		return Value{}, 0, ErrIncomplete
	}
	if buf[end] != '\r' || buf[end+1] != '\n' {
		return Value{}, 0, fmt.Errorf("%w: missing CRLF after bulk string", ErrInvalidFormat)
	}
	return Value{Type: BulkString, Str: string(buf[start:end])}, end + 2, nil
}

func decodeArray(buf []byte) (Value, int, error) {
	count, n, err := readLength(buf[1:], MaxArrayLength)
	if err != nil {
		return Value{}, 0, err
	}
	if count == -1 {
		return Value{Type: Array, Null: true}, n + 1, nil
	}

	// every element takes at least 3 bytes ("+\r\n"), so the buffer bounds
	// how many can be present whatever the header claims
	pos := n + 1
	array := make([]Value, 0, min(count, (len(buf)-pos)/3))
	for i := 0; i < count; i++ {
		val, used, err := Decode(buf[pos:])
		if err != nil {
			return Value{}, 0, err
		}
		array = append(array, val)
		pos += used
	}
	return Value{Type: Array, Array: array}, pos, nil
}

func readLength(buf []byte, limit int) (int, int, error) {
	line, n, err := readLine(buf)
	if err != nil {
		return 0, 0, err
	}
	length, err := strconv.Atoi(string(line))
	if err != nil || length < -1 || length > limit {
		return 0, 0, fmt.Errorf("%w: invalid length %q", ErrInvalidFormat, line)
	}
	return length, n, nil
}

func readLine(buf []byte) ([]byte, int, error) {
	i := bytes.IndexByte(buf, '\n')
	if i < 0 {
		if len(buf) > maxLineLength {
			return nil, 0, fmt.Errorf("%w: line too long", ErrInvalidFormat)
		}
		return nil, 0, ErrIncomplete
	}
	if i == 0 || buf[i-1] != '\r' {
		return nil, 0, fmt.Errorf("%w: missing CRLF", ErrInvalidFormat)
	}
	return buf[:i-1], i + 1, nil
}
