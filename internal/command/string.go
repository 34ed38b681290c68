package command

import (
	"strings"

	"github.com/lojhan/chainkv/internal/resp"
	"github.com/lojhan/chainkv/internal/store"
)

func SetCommand(s *store.Store) Handler {
	return func(args []resp.Value) resp.Value {
		if len(args) < 2 {
			return wrongArgs("set")
		}

		strs, ok := bulkStrings(args)
		if !ok {
			return invalidArgs()
		}
		key, value := strs[0], strs[1]

		nx, xx := false, false
		for _, opt := range strs[2:] {
			switch strings.ToUpper(opt) {
			case "NX":
				nx = true
			case "XX":
				xx = true
			default:
				return resp.ErrorValue("ERR syntax error")
			}
		}

		var (
			stored bool
			err    error
		)
		switch {
		case nx && xx:
			return resp.ErrorValue("ERR syntax error")
		case nx:
			stored, err = s.SetNX(key, value)
		case xx:
			stored, err = s.SetXX(key, value)
		default:
			_, err = s.Set(key, value)
			stored = true
		}

		if err != nil {
			return resp.ErrorValue("ERR " + err.Error())
		}
		if !stored {
			return resp.NullBulkStringValue()
		}
		return resp.OKValue()
	}
}

func GetCommand(s *store.Store) Handler {
	return func(args []resp.Value) resp.Value {
		if len(args) != 1 {
			return wrongArgs("get")
		}

		if args[0].Type != resp.BulkString {
			return invalidArgs()
		}

		value, exists := s.Get(args[0].Str)
		if !exists {
			return resp.NullBulkStringValue()
		}
		return resp.BulkStringValue(value)
	}
}

func DelCommand(s *store.Store) Handler {
	return func(args []resp.Value) resp.Value {
		if len(args) == 0 {
			return wrongArgs("del")
		}

		keys, ok := bulkStrings(args)
		if !ok {
			return invalidArgs()
		}

		removed, err := s.Delete(keys...)
		if err != nil {
			return resp.ErrorValue("ERR " + err.Error())
		}
		return resp.IntegerValue(int64(removed))
	}
}

func ExistsCommand(s *store.Store) Handler {
	return func(args []resp.Value) resp.Value {
		if len(args) == 0 {
			return wrongArgs("exists")
		}

		keys, ok := bulkStrings(args)
		if !ok {
			return invalidArgs()
		}
		return resp.IntegerValue(int64(s.Exists(keys...)))
	}
}

func KeysCommand(s *store.Store) Handler {
	return func(args []resp.Value) resp.Value {
		if len(args) != 1 {
			return wrongArgs("keys")
		}

		if args[0].Type != resp.BulkString {
			return invalidArgs()
		}

		keys, err := s.Keys(args[0].Str)
		if err != nil {
			return resp.ErrorValue("ERR " + err.Error())
		}

		values := make([]resp.Value, len(keys))
		for i, key := range keys {
			values[i] = resp.BulkStringValue(key)
		}
		return resp.ArrayValue(values...)
	}
}

func DBSizeCommand(s *store.Store) Handler {
	return func(args []resp.Value) resp.Value {
		if len(args) != 0 {
			return wrongArgs("dbsize")
		}
		return resp.IntegerValue(int64(s.Len()))
	}
}

func FlushDBCommand(s *store.Store) Handler {
	return func(args []resp.Value) resp.Value {
		if len(args) != 0 {
			return wrongArgs("flushdb")
		}
		if err := s.Flush(); err != nil {
			return resp.ErrorValue("ERR " + err.Error())
		}
		return resp.OKValue()
	}
}
