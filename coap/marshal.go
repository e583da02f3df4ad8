package coap

import (
	"fmt"

	"github.com/edgelesssys/go-attest-coap/attesterr"
	"golang.org/x/crypto/cryptobyte"
)

// wireWriter appends to a fixed-size buffer and checks the capacity before every write.
type wireWriter struct {
	b     *cryptobyte.Builder
	n     int
	limit int
}

func newWireWriter(buf []byte) *wireWriter {
	return &wireWriter{
		b:     cryptobyte.NewFixedBuilder(buf[:0:len(buf)]),
		limit: len(buf),
	}
}

func (w *wireWriter) add(op string, p ...byte) error {
	if w.n+len(p) > w.limit {
		return attesterr.OverLimit(op, w.n, w.limit,
			fmt.Errorf("writing %d bytes: %w", len(p), ErrBufferOverflow))
	}
	w.b.AddBytes(p)
	w.n += len(p)
	return nil
}

func (w *wireWriter) bytes() ([]byte, error) {
	out, err := w.b.Bytes()
	if err != nil {
		return nil, attesterr.OverLimit("finish message", w.n, w.limit, err)
	}
	return out, nil
}

// MarshalBinary encodes m into a newly allocated frame of at most [MaxMessageSize] bytes.
func (m *Message) MarshalBinary() ([]byte, error) {
	buf := make([]byte, MaxMessageSize)
	n, err := m.MarshalTo(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// MarshalTo encodes m into dst and returns the number of bytes written.
// dst is only written to once the whole message is known to fit.
// If m.Token is empty, a random token is generated and stored in m.Token.
func (m *Message) MarshalTo(dst []byte) (int, error) {
	if len(dst) < minHeaderSize {
		return 0, attesterr.New(attesterr.Argument, "encode message",
			fmt.Errorf("destination buffer of %d bytes: %w", len(dst), ErrBufferOverflow))
	}
	if m.Transport != TransportTCP {
		return 0, attesterr.New(attesterr.Argument, "encode message", ErrUnsupportedTransport)
	}
	if len(m.Options) > MaxOptions {
		return 0, attesterr.OverLimit("encode options", 0, MaxOptions,
			fmt.Errorf("%d options: %w", len(m.Options), ErrTooManyOptions))
	}
	if len(m.Payload) > 0 && (len(m.Payload) >= len(dst) || len(m.Payload) >= MaxPayloadLength) {
		return 0, attesterr.OverLimit("encode payload", 0, min(len(dst), MaxPayloadLength),
			fmt.Errorf("%d bytes: %w", len(m.Payload), ErrPayloadTooLarge))
	}
	if len(m.Token) > MaxTokenLength {
		return 0, attesterr.New(attesterr.Argument, "encode token",
			fmt.Errorf("%d bytes: %w", len(m.Token), ErrTokenLength))
	}

	if len(m.Token) == 0 {
		token, err := GenerateToken(0)
		if err != nil {
			return 0, err
		}
		m.Token = token
	}

	// Options and payload go to a scratch buffer first: the length nibble in front
	// of them depends on their total size.
	content := newWireWriter(make([]byte, len(dst)))
	if err := m.marshalOptions(content); err != nil {
		return 0, err
	}
	if len(m.Payload) > 0 {
		if err := content.add("encode payload marker", PayloadMarker); err != nil {
			return 0, err
		}
		if err := content.add("encode payload", m.Payload...); err != nil {
			return 0, err
		}
	}
	contentBytes, err := content.bytes()
	if err != nil {
		return 0, err
	}

	length, err := EncodeExtendedLength(len(contentBytes))
	if err != nil {
		return 0, attesterr.OverLimit("encode header", 0, maxExtendedValue, err)
	}

	// Everything is validated, assemble the frame in a scratch buffer so a capacity
	// failure midway leaves dst untouched.
	frame := newWireWriter(make([]byte, len(dst)))
	if err := frame.add("encode header", length.Nibble<<4|uint8(len(m.Token))); err != nil {
		return 0, err
	}
	if err := frame.add("encode extended length", length.Ext...); err != nil {
		return 0, err
	}
	if err := frame.add("encode code", uint8(m.Code)); err != nil {
		return 0, err
	}
	if err := frame.add("encode token", m.Token...); err != nil {
		return 0, err
	}
	if err := frame.add("encode content", contentBytes...); err != nil {
		return 0, err
	}
	frameBytes, err := frame.bytes()
	if err != nil {
		return 0, err
	}

	return copy(dst, frameBytes), nil
}

func (m *Message) marshalOptions(w *wireWriter) error {
	previous := 0
	for i, opt := range m.Options {
		number := int(opt.Number)
		if number < previous {
			return attesterr.New(attesterr.Argument, "encode options",
				fmt.Errorf("option %d (%s) follows %d: %w", i, opt.Number, previous, ErrDescendingOption))
		}
		if len(opt.Value) > MaxOptionLength {
			return attesterr.OverLimit("encode options", i, MaxOptionLength,
				fmt.Errorf("option %d (%s) has %d bytes: %w", i, opt.Number, len(opt.Value), ErrOptionTooLong))
		}

		delta, err := EncodeExtendedLength(number - previous)
		if err != nil {
			return attesterr.OverLimit("encode option delta", w.n, maxExtendedValue, err)
		}
		length, err := EncodeExtendedLength(len(opt.Value))
		if err != nil {
			return attesterr.OverLimit("encode option length", w.n, maxExtendedValue, err)
		}

		if err := w.add("encode option header", delta.Nibble<<4|length.Nibble); err != nil {
			return err
		}
		if err := w.add("encode option delta", delta.Ext...); err != nil {
			return err
		}
		if err := w.add("encode option length", length.Ext...); err != nil {
			return err
		}
		if err := w.add("encode option value", opt.Value...); err != nil {
			return err
		}
		previous = number
	}
	return nil
}
