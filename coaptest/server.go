package coaptest

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/edgelesssys/go-attest-coap/coap"
)

// Handler answers one request. Returning an error closes the connection without a reply.
type Handler func(req coap.Message) (coap.Message, error)

// Echo replies 2.05 Content with the request payload.
func Echo(req coap.Message) (coap.Message, error) {
	return coap.Message{Code: coap.CodeContent, Payload: req.Payload}, nil
}

// Server is a TLS listener speaking CoAP over TLS.
type Server struct {
	listener net.Listener
	handler  Handler

	accepted atomic.Int64
	requests atomic.Int64

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer starts a server on a free port of 127.0.0.1 presenting cert.
// Close must be called to stop it.
func NewServer(cert tls.Certificate, handler Handler) (*Server, error) {
	return NewServerAt("127.0.0.1:0", cert, handler)
}

// NewServerAt starts a server listening on addr.
func NewServerAt(addr string, cert tls.Certificate, handler Handler) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening: %w", err)
	}
	s := &Server{
		listener: tls.NewListener(listener, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}),
		handler: handler,
		conns:   make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)
	go s.serve()
	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() *net.TCPAddr {
	return s.listener.Addr().(*net.TCPAddr)
}

// Host returns the listening IP as a string.
func (s *Server) Host() string {
	return s.Addr().IP.String()
}

// Port returns the listening port as a string.
func (s *Server) Port() string {
	return fmt.Sprint(s.Addr().Port)
}

// Accepted returns how many TCP connections the server accepted.
func (s *Server) Accepted() int {
	return int(s.accepted.Load())
}

// Requests returns how many requests were decoded.
func (s *Server) Requests() int {
	return int(s.requests.Load())
}

// Close stops accepting, closes open connections and waits for all handlers to return.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	err := s.listener.Close()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.accepted.Add(1)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		frame, err := coap.ReadFrame(conn, coap.MaxMessageSize)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Debug("test server: reading request", "error", err)
			}
			return
		}
		req, err := coap.ParseMessage(frame)
		if err != nil {
			slog.Debug("test server: decoding request", "error", err)
			return
		}
		s.requests.Add(1)

		resp, err := s.handler(req)
		if err != nil {
			return
		}
		if len(resp.Token) == 0 {
			resp.Token = req.Token
		}
		raw, err := resp.MarshalBinary()
		if err != nil {
			slog.Debug("test server: encoding response", "error", err)
			return
		}
		if _, err := conn.Write(raw); err != nil {
			return
		}
	}
}
