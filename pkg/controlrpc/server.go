package controlrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/wildland-go/wildland/pkg/wlerr"
)

// Handler answers one command's args, returning a JSON-marshalable
// result or an error. Handlers that want the "bad-args" wire error
// wrap their failure with wlerr.ErrBadCommand.
type Handler func(ctx context.Context, args json.RawMessage) (interface{}, error)

// Server dispatches line-delimited JSON requests arriving on a Unix
// domain socket to registered command handlers, the decode-loop shape
// grounded on the retrieved MCP stdio server's bufio.Scanner +
// json.Encoder loop, adapted from stdio framing to one scanner per
// accepted UDS connection.
type Server struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *zap.Logger

	listenerMu sync.Mutex
	listener   net.Listener
}

// NewServer builds an empty Server; handlers are registered with
// Handle before Serve is called.
func NewServer(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{handlers: make(map[string]Handler), logger: logger}
}

// Handle registers the handler for cmd, replacing any prior one.
func (s *Server) Handle(cmd string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[cmd] = h
}

// Serve listens on socketPath and processes connections until ctx is
// canceled or Close is called. A stale socket file from a prior,
// uncleanly-terminated run is removed before binding.
func (s *Server) Serve(ctx context.Context, socketPath string) error {
	if err := os.RemoveAll(socketPath); err != nil && !os.IsNotExist(err) {
		return wlerr.Wrap(wlerr.ErrBackendIO, "removing stale socket %s: %v", socketPath, err)
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return wlerr.Wrap(wlerr.ErrBackendIO, "listening on %s: %v", socketPath, err)
	}
	s.listenerMu.Lock()
	s.listener = ln
	s.listenerMu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return wlerr.Wrap(wlerr.ErrBackendIO, "accepting connection: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

// Close stops accepting new connections; in-flight ones finish normally.
func (s *Server) Close() error {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			encoder.Encode(Response{Error: "bad-args"})
			continue
		}
		resp := s.dispatch(ctx, req)
		if err := encoder.Encode(resp); err != nil {
			s.logger.Warn("controlrpc: writing response failed", zap.Error(err))
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	s.mu.RLock()
	h, ok := s.handlers[req.Cmd]
	s.mu.RUnlock()
	if !ok {
		return Response{ID: req.ID, Error: "unknown-command"}
	}

	result, err := h(ctx, req.Args)
	if err != nil {
		if errors.Is(err, wlerr.ErrBadCommand) || errors.Is(err, wlerr.ErrSchema) {
			return Response{ID: req.ID, Error: "bad-args"}
		}
		return Response{ID: req.ID, Error: err.Error()}
	}
	if result == nil {
		return Response{ID: req.ID}
	}
	data, err := json.Marshal(result)
	if err != nil {
		return Response{ID: req.ID, Error: err.Error()}
	}
	return Response{ID: req.ID, Result: data}
}
