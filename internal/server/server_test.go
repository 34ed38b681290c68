package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lojhan/chainkv/internal/resp"
)

func startServer(t *testing.T, port int, register func(*Server)) *Server {
	t.Helper()

	srv := NewServer(fmt.Sprintf("tcp://127.0.0.1:%d", port), false, zap.NewNop())
	if register != nil {
		register(srv)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case <-srv.Booted():
	case err := <-errChan:
		t.Fatalf("Server failed to start: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("Server did not boot in time")
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			t.Errorf("Failed to stop server: %v", err)
		}
	})
	return srv
}

func dial(t *testing.T, port int) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readValue reads exactly one RESP value from r.
func readValue(t *testing.T, r *bufio.Reader) resp.Value {
	t.Helper()
	var buf []byte
	for {
		if len(buf) > 0 {
			v, _, err := resp.Decode(buf)
			if err == nil {
				return v
			}
			if !errors.Is(err, resp.ErrIncomplete) {
				t.Fatalf("Failed to parse response %q: %v", buf, err)
			}
		}
		b, err := r.ReadByte()
		if err != nil {
			t.Fatalf("Failed to read response: %v", err)
		}
		buf = append(buf, b)
	}
}

func pingHandler(args []resp.Value) resp.Value {
	if len(args) == 0 {
		return resp.PongValue()
	}
	return args[0]
}

func TestClientConnection(t *testing.T) {
	srv := startServer(t, 16390, func(s *Server) {
		s.RegisterCommand("ping", pingHandler)
	})

	conn := dial(t, 16390)
	conn.Write([]byte("*1\r\n$4\r\nPING\r\n"))

	response := readValue(t, bufio.NewReader(conn))
	if response.Type != resp.SimpleString || response.Str != "PONG" {
		t.Errorf("Expected PONG, got %+v", response)
	}

	if srv.ClientCount() != 1 {
		t.Errorf("Expected 1 client, got %d", srv.ClientCount())
	}
	if srv.Processed() != 1 {
		t.Errorf("Expected 1 processed command, got %d", srv.Processed())
	}
}

func TestMultipleClients(t *testing.T) {
	startServer(t, 16391, func(s *Server) {
		s.RegisterCommand("PING", pingHandler)
	})

	for i := 0; i < 5; i++ {
		conn := dial(t, 16391)
		msg := fmt.Sprintf("hello%d", i)
		conn.Write([]byte(fmt.Sprintf("*2\r\n$4\r\nPING\r\n$%d\r\n%s\r\n", len(msg), msg)))

		response := readValue(t, bufio.NewReader(conn))
		if response.Type != resp.BulkString || response.Str != msg {
			t.Errorf("Client %d: Expected %s, got %+v", i, msg, response)
		}
	}
}

func TestPipelinedAndSplitCommands(t *testing.T) {
	startServer(t, 16392, func(s *Server) {
		s.RegisterCommand("PING", pingHandler)
	})

	conn := dial(t, 16392)
	reader := bufio.NewReader(conn)

	conn.Write([]byte("*1\r\n$4\r\nPING\r\n*2\r\n$4\r\nPING\r\n$1\r\na\r\n*2\r\n$4\r\nPI"))
	time.Sleep(50 * time.Millisecond)
	conn.Write([]byte("NG\r\n$1\r\nb\r\n"))

	expected := []string{"PONG", "a", "b"}
	for i, want := range expected {
		response := readValue(t, reader)
		if response.Str != want {
			t.Errorf("Response %d: expected %q, got %+v", i, want, response)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	startServer(t, 16393, nil)

	conn := dial(t, 16393)
	conn.Write([]byte("*1\r\n$7\r\nUNKNOWN\r\n"))

	response := readValue(t, bufio.NewReader(conn))
	if response.Type != resp.Error {
		t.Errorf("Expected Error type, got %v", response.Type)
	}
	if !strings.Contains(response.Str, "unknown command 'UNKNOWN'") {
		t.Errorf("Expected 'unknown command' error, got: %s", response.Str)
	}
}

func TestNonArrayCommand(t *testing.T) {
	startServer(t, 16394, func(s *Server) {
		s.RegisterCommand("PING", pingHandler)
	})

	conn := dial(t, 16394)
	reader := bufio.NewReader(conn)
	conn.Write([]byte("+INVALID\r\n*1\r\n$4\r\nPING\r\n"))

	response := readValue(t, reader)
	if response.Type != resp.Error || !strings.Contains(response.Str, "expected array") {
		t.Errorf("Expected 'expected array' error, got %+v", response)
	}

	response = readValue(t, reader)
	if response.Str != "PONG" {
		t.Errorf("Expected connection to stay usable, got %+v", response)
	}
}

func TestInvalidProtocolClosesConnection(t *testing.T) {
	startServer(t, 16395, nil)

	conn := dial(t, 16395)
	reader := bufio.NewReader(conn)
	conn.Write([]byte("GARBAGE\r\n"))

	response := readValue(t, reader)
	if response.Type != resp.Error || !strings.Contains(response.Str, "protocol error") {
		t.Errorf("Expected 'protocol error', got %+v", response)
	}

	if _, err := reader.ReadByte(); err != io.EOF {
		t.Errorf("Expected connection to be closed, got %v", err)
	}
}

func TestCommandRegistration(t *testing.T) {
	srv := NewServer("", false, zap.NewNop())

	srv.RegisterCommand("custom", func(args []resp.Value) resp.Value {
		return resp.SimpleStringValue("CUSTOM_RESPONSE")
	})

	if srv.GetHandler("CUSTOM") == nil || srv.GetHandler("Custom") == nil {
		t.Error("Custom command handler not registered case-insensitively")
	}
	if srv.GetHandler("OTHER") != nil {
		t.Error("Expected no handler for OTHER")
	}
	if srv.addr != DefaultAddr {
		t.Errorf("Expected default addr, got %s", srv.addr)
	}

	if err := srv.Stop(context.Background()); err != nil {
		t.Errorf("Expected Stop before Start to be a no-op, got %v", err)
	}
}
