package command

import (
	"strings"
	"testing"

	"github.com/lojhan/chainkv/internal/resp"
	"github.com/lojhan/chainkv/internal/store"
)

func TestPingCommand(t *testing.T) {
	tests := []struct {
		name     string
		args     []resp.Value
		expected resp.Value
	}{
		{
			name:     "PING without argument",
			args:     []resp.Value{},
			expected: resp.PongValue(),
		},
		{
			name: "PING with message",
			args: []resp.Value{
				resp.BulkStringValue("hello"),
			},
			expected: resp.BulkStringValue("hello"),
		},
		{
			name: "PING with multiple arguments (error)",
			args: []resp.Value{
				resp.BulkStringValue("hello"),
				resp.BulkStringValue("world"),
			},
			expected: resp.ErrorValue("ERR wrong number of arguments for 'ping' command"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := PingCommand(tt.args)

			if result.Type != tt.expected.Type {
				t.Errorf("Expected type %v, got %v", tt.expected.Type, result.Type)
			}
			if result.Str != tt.expected.Str {
				t.Errorf("Expected %q, got %q", tt.expected.Str, result.Str)
			}
		})
	}
}

func TestEchoCommand(t *testing.T) {
	result := EchoCommand([]resp.Value{resp.BulkStringValue("hi there")})
	if result.Type != resp.BulkString || result.Str != "hi there" {
		t.Errorf("Expected hi there, got %+v", result)
	}

	result = EchoCommand(nil)
	if result.Type != resp.Error {
		t.Errorf("Expected error, got %+v", result)
	}

	result = EchoCommand([]resp.Value{resp.IntegerValue(1)})
	if result.Type != resp.Error {
		t.Errorf("Expected error for non-bulk argument, got %+v", result)
	}
}

func TestInfoCommand(t *testing.T) {
	s := store.NewDefault()
	s.Set("name", "Alice")
	s.Get("name")
	s.Get("missing")
	info := InfoCommand(s)

	result := info(nil)
	if result.Type != resp.BulkString {
		t.Fatalf("Expected bulk string, got %+v", result)
	}
	for _, want := range []string{"# Server", "# Keyspace", "# Table", "keys:1", "keyspace_hits:1", "keyspace_misses:1", "capacity:53", "hasher:djb2"} {
		if !strings.Contains(result.Str, want) {
			t.Errorf("Expected INFO to contain %q, got:\n%s", want, result.Str)
		}
	}

	result = info([]resp.Value{resp.BulkStringValue("TABLE")})
	if strings.Contains(result.Str, "# Server") || !strings.Contains(result.Str, "longest_chain:1") {
		t.Errorf("Expected only the table section, got:\n%s", result.Str)
	}

	result = info([]resp.Value{resp.BulkStringValue("a"), resp.BulkStringValue("b")})
	if result.Type != resp.Error {
		t.Errorf("Expected error, got %+v", result)
	}
}
