package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/panjf2000/gnet/v2"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lojhan/chainkv/internal/resp"
)

const DefaultAddr = "tcp://127.0.0.1:6380"

type CommandHandler func(args []resp.Value) resp.Value

// Server speaks RESP on a gnet event loop. Handlers may run concurrently on
// different loops when multicore is enabled.
type Server struct {
	gnet.BuiltinEventEngine

	addr      string
	multicore bool
	logger    *zap.Logger

	mu       sync.RWMutex
	handlers map[string]CommandHandler
	eng      gnet.Engine
	running  bool

	booted    chan struct{}
	bootOnce  sync.Once
	clients   atomic.Int64
	processed atomic.Int64
}

func NewServer(addr string, multicore bool, logger *zap.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{
		addr:      addr,
		multicore: multicore,
		logger:    logger,
		handlers:  make(map[string]CommandHandler),
		booted:    make(chan struct{}),
	}
}

func (s *Server) RegisterCommand(name string, handler CommandHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[strings.ToUpper(name)] = handler
}

func (s *Server) GetHandler(name string) CommandHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handlers[strings.ToUpper(name)]
}

// Start runs the event loops and blocks until Stop is called or the
// listener fails.
func (s *Server) Start() error {
	err := gnet.Run(s, s.addr,
		gnet.WithMulticore(s.multicore),
		gnet.WithLogger(s.logger.Sugar()),
	)
	if err != nil {
		return fmt.Errorf("failed to serve on %s: %w", s.addr, err)
	}
	return nil
}

// Booted is closed once the listener accepts connections.
func (s *Server) Booted() <-chan struct{} {
	return s.booted
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	eng := s.eng
	s.mu.Unlock()

	if err := eng.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}
	s.logger.Info("Server stopped")
	return nil
}

func (s *Server) ClientCount() int {
	return int(s.clients.Load())
}

func (s *Server) Processed() int64 {
	return s.processed.Load()
}

func (s *Server) OnBoot(eng gnet.Engine) gnet.Action {
	s.mu.Lock()
	s.eng = eng
	s.running = true
	s.mu.Unlock()

	s.logger.Info("RESP server listening", zap.String("addr", s.addr), zap.Bool("multicore", s.multicore))
	s.bootOnce.Do(func() { close(s.booted) })
	return gnet.None
}

func (s *Server) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	s.clients.Inc()
	s.logger.Debug("Client connected", zap.Stringer("remote", c.RemoteAddr()))
	return nil, gnet.None
}

func (s *Server) OnClose(c gnet.Conn, err error) gnet.Action {
	s.clients.Dec()
	if err != nil {
		s.logger.Debug("Client disconnected", zap.Stringer("remote", c.RemoteAddr()), zap.Error(err))
	} else {
		s.logger.Debug("Client disconnected", zap.Stringer("remote", c.RemoteAddr()))
	}
	return gnet.None
}

// OnTraffic answers every complete command in the inbound buffer, in order,
// with one write. A trailing partial command stays buffered for the next
// read.
func (s *Server) OnTraffic(c gnet.Conn) gnet.Action {
	buf, _ := c.Peek(-1)

	var out []byte
	consumed := 0
	action := gnet.None
	for consumed < len(buf) {
		value, n, err := resp.Decode(buf[consumed:])
		if errors.Is(err, resp.ErrIncomplete) {
			break
		}
		if err != nil {
			s.logger.Debug("Error parsing command", zap.Stringer("remote", c.RemoteAddr()), zap.Error(err))
			out = s.appendResponse(out, resp.ErrorValue("ERR protocol error"))
			consumed = len(buf)
			action = gnet.Close
			break
		}
		consumed += n
		out = s.appendResponse(out, s.processCommand(value))
	}

	if _, err := c.Discard(consumed); err != nil {
		s.logger.Warn("Failed to discard inbound bytes", zap.Error(err))
		return gnet.Close
	}
	if len(out) > 0 {
		if _, err := c.Write(out); err != nil {
			s.logger.Debug("Error writing response", zap.Stringer("remote", c.RemoteAddr()), zap.Error(err))
			return gnet.Close
		}
	}
	return action
}

func (s *Server) appendResponse(out []byte, v resp.Value) []byte {
	out, err := resp.AppendValue(out, v)
	if err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		out, _ = resp.AppendValue(out, resp.ErrorValue("ERR internal error"))
	}
	return out
}

func (s *Server) processCommand(value resp.Value) resp.Value {
	if value.Type != resp.Array {
		return resp.ErrorValue("ERR protocol error: expected array")
	}

	if len(value.Array) == 0 {
		return resp.ErrorValue("ERR empty command")
	}

	cmdValue := value.Array[0]
	if cmdValue.Type != resp.BulkString {
		return resp.ErrorValue("ERR protocol error: command must be bulk string")
	}

	cmdName := strings.ToUpper(cmdValue.Str)
	handler := s.GetHandler(cmdName)
	if handler == nil {
		return resp.ErrorValue(fmt.Sprintf("ERR unknown command '%s'", cmdName))
	}

	s.processed.Inc()
	return handler(value.Array[1:])
}
