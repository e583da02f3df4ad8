package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/edgelesssys/go-attest-coap/attesterr"
)

const (
	// MaxWriteSize is the largest buffer a single Write accepts.
	MaxWriteSize = 4096
	// closeNotifyTimeout bounds sending the TLS close_notify alert.
	closeNotifyTimeout = time.Second
)

var errSessionClosed = errors.New("session is closed")

// streamConn is a TLS connection: a net.Conn that can send close_notify.
type streamConn interface {
	net.Conn
	CloseWrite() error
}

// Session is one established TLS connection to an attestation server.
type Session struct {
	conn        streamConn
	raw         net.Conn
	endpoint    Endpoint
	readTimeout time.Duration
}

func newSession(conn streamConn, raw net.Conn, endpoint Endpoint, readTimeout time.Duration) *Session {
	return &Session{
		conn:        conn,
		raw:         raw,
		endpoint:    endpoint,
		readTimeout: readTimeout,
	}
}

// Endpoint returns the server the session is connected to.
func (s *Session) Endpoint() Endpoint {
	return s.endpoint
}

// Write sends all of p. Oversized buffers are rejected before any I/O.
func (s *Session) Write(ctx context.Context, p []byte) error {
	if s.conn == nil {
		return attesterr.New(attesterr.Argument, "write", errSessionClosed)
	}
	if len(p) == 0 {
		return attesterr.New(attesterr.Argument, "write", errors.New("empty buffer"))
	}
	if len(p) > MaxWriteSize {
		return attesterr.New(attesterr.Argument, "write",
			fmt.Errorf("buffer of %d bytes exceeds %d", len(p), MaxWriteSize))
	}

	written := 0
	for written < len(p) {
		if err := ctx.Err(); err != nil {
			return attesterr.New(attesterr.Transport, "write", err)
		}

		n, err := s.conn.Write(p[written:])
		written += n
		if err != nil && n == 0 {
			return attesterr.New(attesterr.Transport, "write",
				fmt.Errorf("wrote %d of %d bytes: %w", written, len(p), err))
		}
	}
	return nil
}

// Read fills p completely. Each attempt is bounded by the read timeout,
// a timeout is retried until p is full, ctx is done or a hard error occurs.
func (s *Session) Read(ctx context.Context, p []byte) error {
	if s.conn == nil {
		return attesterr.New(attesterr.Argument, "read", errSessionClosed)
	}

	read := 0
	for read < len(p) {
		if err := ctx.Err(); err != nil {
			return attesterr.New(attesterr.Transport, "read",
				fmt.Errorf("read %d of %d bytes: %w", read, len(p), err))
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return attesterr.New(attesterr.Transport, "read", fmt.Errorf("setting read deadline: %w", err))
		}
		n, err := s.conn.Read(p[read:])
		read += n
		switch {
		case err == nil:
		case errors.Is(err, os.ErrDeadlineExceeded):
			slog.Debug("read timed out, retrying", "server", s.endpoint.Address(), "read", read, "want", len(p))
		case errors.Is(err, io.EOF):
			return attesterr.New(attesterr.Transport, "read",
				fmt.Errorf("read %d of %d bytes: %w", read, len(p), io.ErrUnexpectedEOF))
		default:
			return attesterr.New(attesterr.Transport, "read",
				fmt.Errorf("read %d of %d bytes: %w", read, len(p), err))
		}
	}

	if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
		slog.Debug("clearing read deadline failed", "error", err)
	}
	return nil
}

// Close sends close_notify and releases the connection. Every step runs even if an
// earlier one fails; failures are logged and returned joined. Close is idempotent.
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}

	var errs []error
	if err := s.raw.SetWriteDeadline(time.Now().Add(closeNotifyTimeout)); err != nil {
		errs = append(errs, fmt.Errorf("setting close_notify deadline: %w", err))
	}
	if err := s.conn.CloseWrite(); err != nil {
		errs = append(errs, fmt.Errorf("sending close_notify: %w", err))
	}
	if err := s.raw.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, fmt.Errorf("closing connection: %w", err))
	}
	s.conn, s.raw = nil, nil

	err := errors.Join(errs...)
	if err != nil {
		slog.Warn("closing session", "server", s.endpoint.Address(), "error", err)
	}
	return err
}
