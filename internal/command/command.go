package command

import (
	"fmt"

	"github.com/lojhan/chainkv/internal/resp"
)

type Handler = func(args []resp.Value) resp.Value

func wrongArgs(name string) resp.Value {
	return resp.ErrorValue(fmt.Sprintf("ERR wrong number of arguments for '%s' command", name))
}

func bulkStrings(args []resp.Value) ([]string, bool) {
	out := make([]string, len(args))
	for i, arg := range args {
		if arg.Type != resp.BulkString || arg.Null {
			return nil, false
		}
		out[i] = arg.Str
	}
	return out, true
}

func invalidArgs() resp.Value {
	return resp.ErrorValue("ERR invalid argument type")
}
