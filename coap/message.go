package coap

import (
	"errors"
	"fmt"
)

const (
	// MaxMessageSize is the largest frame, header included, that is encoded or decoded.
	MaxMessageSize = 4096
	// MaxTokenLength is the largest token length a header can announce.
	MaxTokenLength = 8
	// MaxOptions is the largest number of options in one message.
	MaxOptions = 16
	// MaxOptionLength is the largest option value length the wire format can carry.
	MaxOptionLength = 0xFFFF
	// MaxPayloadLength bounds the payload length (exclusive).
	MaxPayloadLength = 0xFFFF
	// PayloadMarker separates options from the payload.
	PayloadMarker = 0xFF
	// minHeaderSize is the length/token-length byte plus the code byte.
	minHeaderSize = 2
)

// Malformed-wire and bound causes. They are wrapped in an [attesterr.Error].
var (
	ErrHeaderTooShort       = errors.New("header too short")
	ErrTokenLength          = errors.New("token length invalid")
	ErrTokenTooShort        = errors.New("token too short")
	ErrReservedNibble       = errors.New("extended length invalid")
	ErrExtensionTooLarge    = errors.New("value needs more than two extension bytes")
	ErrOptionTruncated      = errors.New("option runs past end of message")
	ErrOptionNumberOverflow = errors.New("option number exceeds 16 bits")
	ErrDescendingOption     = errors.New("option numbers are not ascending")
	ErrTooManyOptions       = errors.New("too many options")
	ErrOptionTooLong        = errors.New("option value too long")
	ErrMarkerWithoutPayload = errors.New("payload marker but no payload")
	ErrPayloadTooLarge      = errors.New("payload too large")
	ErrBufferOverflow       = errors.New("destination buffer too small")
	ErrMessageTooLarge      = errors.New("message exceeds maximum size")
	ErrLengthMismatch       = errors.New("declared length does not match content")
	ErrUnsupportedTransport = errors.New("datagram transport is not supported")
)

// TransportType is the framing a message is encoded for.
type TransportType uint8

const (
	// TransportTCP is CoAP over a reliable byte stream (TCP or TLS).
	TransportTCP TransportType = iota
	// TransportUDP is datagram CoAP. Only recognized, encoding it is rejected.
	TransportUDP
)

// Code is the CoAP request method or response code, class in the upper 3 bits.
type Code uint8

// Codes used by the attestation protocol.
const (
	CodeEmpty               Code = 0x00
	CodeGet                 Code = 0x01
	CodePost                Code = 0x02
	CodePut                 Code = 0x03
	CodeDelete              Code = 0x04
	CodeCreated             Code = 0x41
	CodeChanged             Code = 0x44
	CodeContent             Code = 0x45
	CodeBadRequest          Code = 0x80
	CodeUnauthorized        Code = 0x81
	CodeForbidden           Code = 0x83
	CodeNotFound            Code = 0x84
	CodeInternalServerError Code = 0xA0
	CodeServiceUnavailable  Code = 0xA3
)

// Class returns the code class (0 request, 2 success, 4 client error, 5 server error).
func (c Code) Class() uint8 {
	return uint8(c) >> 5
}

// Detail returns the code detail.
func (c Code) Detail() uint8 {
	return uint8(c) & 0x1f
}

// IsError reports whether c is a client or server error response.
func (c Code) IsError() bool {
	return c.Class() == 4 || c.Class() == 5
}

func (c Code) String() string {
	return fmt.Sprintf("%d.%02d", c.Class(), c.Detail())
}

// OptionNumber identifies the meaning of an option.
type OptionNumber uint16

// Option numbers the attestation client sends.
// RequestID, ClientID and AppID are private numbers treated as opaque byte strings.
const (
	OptionURIHost   OptionNumber = 3
	OptionURIPath   OptionNumber = 11
	OptionRequestID OptionNumber = 2048
	OptionClientID  OptionNumber = 3000
	OptionAppID     OptionNumber = 3001
)

func (o OptionNumber) String() string {
	switch o {
	case OptionURIHost:
		return "Uri-Host"
	case OptionURIPath:
		return "Uri-Path"
	case OptionRequestID:
		return "Request-Id"
	case OptionClientID:
		return "Client-Id"
	case OptionAppID:
		return "App-Id"
	default:
		return fmt.Sprintf("Option(%d)", uint16(o))
	}
}

// Option is one option of a message.
type Option struct {
	Number OptionNumber
	Value  []byte
}

// Header is the decoded fixed part of a frame.
type Header struct {
	// Length is the number of bytes after the token: options, marker and payload.
	Length      int
	TokenLength int
	Code        Code
}

// Message is a decoded or to-be-encoded CoAP message.
type Message struct {
	Transport TransportType
	Code      Code
	// Token is generated on encode when empty.
	Token []byte
	// Options must be sorted by ascending Number.
	Options []Option
	Payload []byte
}

// Option returns the value of the first option with the given number.
func (m *Message) Option(number OptionNumber) ([]byte, bool) {
	for _, opt := range m.Options {
		if opt.Number == number {
			return opt.Value, true
		}
	}
	return nil, false
}

// OptionValues returns the values of every option with the given number, in order.
func (m *Message) OptionValues(number OptionNumber) [][]byte {
	var values [][]byte
	for _, opt := range m.Options {
		if opt.Number == number {
			values = append(values, opt.Value)
		}
	}
	return values
}
