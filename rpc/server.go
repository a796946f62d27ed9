package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	xmlcodec "github.com/divan/gorilla-xmlrpc/xml"
	gorillarpc "github.com/gorilla/rpc"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/tcpxfer/file"
)

// requestOverhead is the room left for the XML envelope and the file name
// when sizing the request body limit.
const requestOverhead = 64 << 10

// shutdownTimeout bounds how long in-flight calls may finish once Serve's
// context is cancelled.
const shutdownTimeout = 5 * time.Second

// ServerConfig configures a Server.
type ServerConfig struct {
	OutputDir   string
	MaxFileSize uint64
}

// DefaultServerConfig returns the configuration used when none is given.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		OutputDir:   file.DefaultOutputDir,
		MaxFileSize: DefaultMaxFileSize,
	}
}

// Server serves save_file over HTTP.
type Server struct {
	http    *http.Server
	store   *file.Store
	maxBody int64

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// NewServer creates a Server. A nil config uses DefaultServerConfig.
func NewServer(config *ServerConfig) (*Server, error) {
	if config == nil {
		config = DefaultServerConfig()
	}
	if config.MaxFileSize == 0 {
		return nil, errors.New("max file size must be positive")
	}
	store, err := file.NewStore(config.OutputDir)
	if err != nil {
		return nil, err
	}

	codec := xmlcodec.NewCodec()
	codec.RegisterAlias(MethodName, ServiceName+".Save")

	rpcServer := gorillarpc.NewServer()
	rpcServer.RegisterCodec(codec, "text/xml")
	if err := rpcServer.RegisterService(&FileService{store: store, maxSize: config.MaxFileSize}, ""); err != nil {
		return nil, fmt.Errorf("register %s: %w", ServiceName, err)
	}

	s := &Server{
		store:   store,
		maxBody: maxRequestBody(config.MaxFileSize),
	}
	s.http = &http.Server{
		Handler:           s.limitBody(rpcServer),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// maxRequestBody is the largest request accepted for a payload of maxFile
// bytes once base64 encoded.
func maxRequestBody(maxFile uint64) int64 {
	encoded := (maxFile + 2) / 3 * 4
	return int64(encoded) + requestOverhead
}

// limitBody rejects requests whose body cannot fit the configured file size
// before the codec reads them.
func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > s.maxBody {
			logrus.WithFields(logrus.Fields{
				"function":       "limitBody",
				"remote":         r.RemoteAddr,
				"content_length": r.ContentLength,
				"limit":          s.maxBody,
			}).Warn("Rejected oversized request")
			http.Error(w, ErrTooLarge.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

// OutputDir returns the directory files are saved to.
func (s *Server) OutputDir() string {
	return s.store.Dir()
}

// Listen binds addr over TCP.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		ln.Close()
		return errors.New("server already listening")
	}
	s.listener = ln

	logrus.WithFields(logrus.Fields{
		"function": "Listen",
		"address":  ln.Addr().String(),
	}).Info("RPC server listening")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve handles calls until ctx is cancelled or Close is called. Calls in
// flight at cancellation get shutdownTimeout to finish.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	closed := s.closed
	s.mu.Unlock()
	if ln == nil {
		return errors.New("serve called before listen")
	}
	if closed {
		return nil
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := s.http.Shutdown(shutdownCtx); err != nil {
				s.http.Close()
			}
		case <-done:
		}
	}()

	err := s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		logrus.WithField("function", "Serve").Info("RPC server stopped")
		return nil
	}
	return err
}

// Close stops the server and closes every open connection.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	s.mu.Unlock()

	err := s.http.Close()
	if ln != nil {
		// http.Server only closes listeners passed to a running Serve
		if lerr := ln.Close(); err == nil && !errors.Is(lerr, net.ErrClosed) {
			err = lerr
		}
	}
	return err
}
