/*
Package exchange runs attestation request/response cycles over a transport session.

One cycle writes a single CoAP POST and reads a single response:

	Request{Action, Body}
	   │  JSON body, options (host, path segments, request id, client id, app id)
	   ▼
	coap.Message ──MarshalTo──► frame ──Write (retried on transport errors)──► server
	                                                                              │
	Response ◄── ParseMessage ◄── frame ◄── ReadFrame (header, extension, rest) ◄─┘

Only one request is in flight per session.
*/
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/edgelesssys/go-attest-coap/attesterr"
	"github.com/edgelesssys/go-attest-coap/coap"
)

// DefaultWriteRetries is the number of times a failed write is repeated.
const DefaultWriteRetries = 3

// Conn is an established byte stream that reads and writes exact byte counts.
// [*transport.Session] implements it.
type Conn interface {
	Write(ctx context.Context, p []byte) error
	Read(ctx context.Context, p []byte) error
}

// Identity identifies the device and the application on its behalf the request is sent.
type Identity struct {
	UDID  string
	AppID string
}

// Request is one attestation request.
type Request struct {
	Action Action
	// Body is encoded with encoding/json. A nil Body sends no payload.
	Body any
}

// Sent describes a written request.
type Sent struct {
	RequestID string
	Token     []byte
}

// Response is a decoded server response.
type Response struct {
	Code    coap.Code
	Token   []byte
	Options []coap.Option
	Payload []byte
}

// DecodeJSON unmarshals the payload into v.
func (r Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("decoding %s response payload: %w", r.Code, err)
	}
	return nil
}

// Exchanger sends requests and receives responses over Conn.
type Exchanger struct {
	Conn Conn
	// Host is sent as URI-Host.
	Host     string
	Identity Identity
	// WriteRetries is how often a write failing with a transport error is repeated.
	WriteRetries int
	// MaxMessageSize bounds outgoing and incoming frames. Zero means coap.MaxMessageSize.
	MaxMessageSize int
}

func (e *Exchanger) maxMessageSize() int {
	if e.MaxMessageSize <= 0 || e.MaxMessageSize > coap.MaxMessageSize {
		return coap.MaxMessageSize
	}
	return e.MaxMessageSize
}

// Send encodes req and writes it. Argument and capacity errors are returned without
// writing, transport errors are retried up to WriteRetries times.
func (e *Exchanger) Send(ctx context.Context, req Request) (Sent, error) {
	var payload []byte
	if req.Body != nil {
		var err error
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return Sent{}, attesterr.New(attesterr.Argument, "send", fmt.Errorf("encoding %s body: %w", req.Action, err))
		}
	}

	requestID, err := NewRequestID()
	if err != nil {
		return Sent{}, attesterr.New(attesterr.Argument, "send", err)
	}
	opts, err := BuildOptions(e.Host, req.Action, requestID, e.Identity.UDID, e.Identity.AppID)
	if err != nil {
		return Sent{}, err
	}

	msg := coap.Message{
		Transport: coap.TransportTCP,
		Code:      coap.CodePost,
		Options:   opts,
		Payload:   payload,
	}
	buf := make([]byte, e.maxMessageSize())
	n, err := msg.MarshalTo(buf)
	if err != nil {
		return Sent{}, err
	}
	frame := buf[:n]

	for attempt := 0; ; attempt++ {
		err := e.Conn.Write(ctx, frame)
		if err == nil {
			break
		}
		if !attesterr.Retryable(err) || attempt >= e.WriteRetries || ctx.Err() != nil {
			return Sent{}, err
		}
		slog.Warn("writing request failed, retrying", "action", req.Action, "requestID", requestID, "attempt", attempt+1, "error", err)
	}

	slog.Debug("sent request", "action", req.Action, "requestID", requestID, "token", fmt.Sprintf("%x", msg.Token), "size", n)
	return Sent{RequestID: requestID, Token: msg.Token}, nil
}

// Receive reads and decodes one response. A frame larger than MaxMessageSize is rejected
// as soon as its header is read.
func (e *Exchanger) Receive(ctx context.Context) (Response, error) {
	frame, err := coap.ReadFrame(connReader{ctx: ctx, conn: e.Conn}, e.maxMessageSize())
	if err != nil {
		return Response{}, err
	}
	msg, err := coap.ParseMessage(frame)
	if err != nil {
		return Response{}, err
	}

	slog.Debug("received response", "code", msg.Code, "token", fmt.Sprintf("%x", msg.Token), "size", len(frame))
	return Response{
		Code:    msg.Code,
		Token:   msg.Token,
		Options: msg.Options,
		Payload: msg.Payload,
	}, nil
}

// Do sends req and returns the response carrying the same token.
func (e *Exchanger) Do(ctx context.Context, req Request) (Response, error) {
	sent, err := e.Send(ctx, req)
	if err != nil {
		return Response{}, err
	}
	resp, err := e.Receive(ctx)
	if err != nil {
		return Response{}, err
	}
	if !bytes.Equal(resp.Token, sent.Token) {
		return Response{}, attesterr.New(attesterr.Malformed, "receive",
			fmt.Errorf("response token %x does not match request token %x", resp.Token, sent.Token))
	}
	return resp, nil
}

// connReader adapts Conn to io.Reader. Every call fills p completely or fails.
type connReader struct {
	ctx  context.Context
	conn Conn
}

func (r connReader) Read(p []byte) (int, error) {
	if err := r.conn.Read(r.ctx, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
