package resp

import (
	"fmt"
	"io"
	"strconv"

	"github.com/valyala/bytebufferpool"
)

func AppendValue(dst []byte, v Value) ([]byte, error) {
	switch v.Type {
	case SimpleString, Error:
		dst = append(dst, byte(v.Type))
		dst = append(dst, v.Str...)
		return append(dst, '\r', '\n'), nil
	case Integer:
		dst = append(dst, ':')
		dst = strconv.AppendInt(dst, v.Int, 10)
		return append(dst, '\r', '\n'), nil
	case BulkString:
		if v.Null {
			return append(dst, "$-1\r\n"...), nil
		}
		dst = append(dst, '$')
		dst = strconv.AppendInt(dst, int64(len(v.Str)), 10)
		dst = append(dst, '\r', '\n')
		dst = append(dst, v.Str...)
		return append(dst, '\r', '\n'), nil
	case Array:
		if v.Null {
			return append(dst, "*-1\r\n"...), nil
		}
		dst = append(dst, '*')
		dst = strconv.AppendInt(dst, int64(len(v.Array)), 10)
		dst = append(dst, '\r', '\n')
		var err error
		for _, elem := range v.Array {
			if dst, err = AppendValue(dst, elem); err != nil {
				return dst, err
			}
		}
		return dst, nil
	default:
		return dst, fmt.Errorf("%w: %q", ErrInvalidType, byte(v.Type))
	}
}

// Encode writes v to w in a single Write call.
func Encode(w io.Writer, v Value) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	var err error
	if buf.B, err = AppendValue(buf.B, v); err != nil {
		return err
	}
	_, err = w.Write(buf.B)
	return err
}
