package command

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/lojhan/chainkv/internal/resp"
	"github.com/lojhan/chainkv/internal/store"
)

const Version = "0.1.0"

func PingCommand(args []resp.Value) resp.Value {
	if len(args) == 0 {
		return resp.PongValue()
	}

	if len(args) > 1 {
		return wrongArgs("ping")
	}

	if args[0].Type != resp.BulkString {
		return invalidArgs()
	}

	return args[0]
}

func EchoCommand(args []resp.Value) resp.Value {
	if len(args) != 1 {
		return wrongArgs("echo")
	}

	if args[0].Type != resp.BulkString {
		return invalidArgs()
	}

	return args[0]
}

func CommandCommand(args []resp.Value) resp.Value {
	return resp.ArrayValue()
}

func InfoCommand(s *store.Store) Handler {
	return func(args []resp.Value) resp.Value {
		if len(args) > 1 {
			return wrongArgs("info")
		}

		section := "all"
		if len(args) == 1 {
			if args[0].Type != resp.BulkString {
				return invalidArgs()
			}
			section = strings.ToLower(args[0].Str)
		}

		var b strings.Builder
		st := s.Stats()

		if section == "all" || section == "server" {
			b.WriteString("# Server\r\n")
			fmt.Fprintf(&b, "chainkv_version:%s\r\n", Version)
			fmt.Fprintf(&b, "go_version:%s\r\n", runtime.Version())
			fmt.Fprintf(&b, "os:%s\r\n", runtime.GOOS)
			fmt.Fprintf(&b, "arch:%s\r\n", runtime.GOARCH)
		}
		if section == "all" || section == "keyspace" {
			b.WriteString("# Keyspace\r\n")
			fmt.Fprintf(&b, "keys:%d\r\n", st.Entries)
			fmt.Fprintf(&b, "keyspace_hits:%d\r\n", st.Hits)
			fmt.Fprintf(&b, "keyspace_misses:%d\r\n", st.Misses)
			fmt.Fprintf(&b, "writes:%d\r\n", st.Writes)
			fmt.Fprintf(&b, "deletes:%d\r\n", st.Deletes)
		}
		if section == "all" || section == "table" {
			b.WriteString("# Table\r\n")
			fmt.Fprintf(&b, "hasher:%s\r\n", st.Hasher)
			fmt.Fprintf(&b, "capacity:%d\r\n", st.Capacity)
			fmt.Fprintf(&b, "used_buckets:%d\r\n", st.UsedBuckets)
			fmt.Fprintf(&b, "longest_chain:%d\r\n", st.LongestChain)
			fmt.Fprintf(&b, "load_factor:%.4f\r\n", st.LoadFactor)
		}

		return resp.BulkStringValue(b.String())
	}
}
