package coap

import (
	"bytes"
	"fmt"

	"github.com/edgelesssys/go-attest-coap/attesterr"
	"golang.org/x/crypto/cryptobyte"
)

// HeaderExtensionSize returns how many extended length bytes follow the first byte of a frame.
// Readers of a byte stream use it to learn how much more header to read.
func HeaderExtensionSize(first byte) (int, error) {
	size, err := ExtensionSize(first >> 4)
	if err != nil {
		return 0, attesterr.AtOffset(attesterr.Malformed, "parse header", 0, err)
	}
	return size, nil
}

// ParseHeader decodes the first byte, the extended length bytes and the code byte of a frame.
// It returns the header and the number of bytes consumed.
func ParseHeader(raw []byte) (Header, int, error) {
	s := cryptobyte.String(raw)

	var first uint8
	if !s.ReadUint8(&first) {
		return Header{}, 0, attesterr.AtOffset(attesterr.Malformed, "parse header", 0, ErrHeaderTooShort)
	}
	tokenLength := int(first & 0x0f)
	if tokenLength > MaxTokenLength {
		return Header{}, 0, attesterr.AtOffset(attesterr.Malformed, "parse header", 0,
			fmt.Errorf("token length %d: %w", tokenLength, ErrTokenLength))
	}

	extSize, err := HeaderExtensionSize(first)
	if err != nil {
		return Header{}, 0, err
	}
	var ext []byte
	if !s.ReadBytes(&ext, extSize) {
		return Header{}, 0, attesterr.AtOffset(attesterr.Malformed, "parse header", 1,
			fmt.Errorf("extended length needs %d bytes: %w", extSize, ErrHeaderTooShort))
	}
	length, err := DecodeExtendedLength(first>>4, ext)
	if err != nil {
		return Header{}, 0, attesterr.AtOffset(attesterr.Malformed, "parse header", 1, err)
	}

	var code uint8
	if !s.ReadUint8(&code) {
		return Header{}, 0, attesterr.AtOffset(attesterr.Malformed, "parse header", 1+extSize, ErrHeaderTooShort)
	}

	return Header{Length: length, TokenLength: tokenLength, Code: Code(code)}, 2 + extSize, nil
}

// ParseMessage decodes a complete frame. The returned message does not alias raw.
func ParseMessage(raw []byte) (Message, error) {
	if len(raw) < minHeaderSize {
		return Message{}, attesterr.AtOffset(attesterr.Malformed, "parse message", 0,
			fmt.Errorf("received %d bytes: %w", len(raw), ErrHeaderTooShort))
	}
	if len(raw) > MaxMessageSize {
		return Message{}, attesterr.OverLimit("parse message", len(raw), MaxMessageSize,
			fmt.Errorf("received %d bytes: %w", len(raw), ErrMessageTooLarge))
	}

	header, headerLen, err := ParseHeader(raw)
	if err != nil {
		return Message{}, err
	}

	s := cryptobyte.String(raw[headerLen:])
	var token []byte
	if !s.ReadBytes(&token, header.TokenLength) {
		return Message{}, attesterr.AtOffset(attesterr.Malformed, "parse token", headerLen,
			fmt.Errorf("token length %d, %d bytes left: %w", header.TokenLength, len(raw)-headerLen, ErrTokenTooShort))
	}
	if len(s) != header.Length {
		return Message{}, attesterr.AtOffset(attesterr.Malformed, "parse message", headerLen+header.TokenLength,
			fmt.Errorf("header declares %d content bytes, received %d: %w", header.Length, len(s), ErrLengthMismatch))
	}

	msg := Message{
		Transport: TransportTCP,
		Code:      header.Code,
		Token:     bytes.Clone(token),
	}

	offset := func() int { return len(raw) - len(s) }

	number := 0
	for !s.Empty() && s[0] != PayloadMarker {
		if len(msg.Options) == MaxOptions {
			return Message{}, attesterr.AtOffset(attesterr.Malformed, "parse options", offset(),
				fmt.Errorf("more than %d options: %w", MaxOptions, ErrTooManyOptions))
		}

		opt, err := parseOption(&s, number)
		if err != nil {
			return Message{}, attesterr.AtOffset(attesterr.Malformed, "parse option", offset(), err)
		}
		number = int(opt.Number)
		msg.Options = append(msg.Options, opt)
	}

	if !s.Empty() {
		s.Skip(1)
		if s.Empty() {
			return Message{}, attesterr.AtOffset(attesterr.Malformed, "parse payload", offset(), ErrMarkerWithoutPayload)
		}
		msg.Payload = bytes.Clone(s)
	}

	return msg, nil
}

// parseOption decodes one option from s. previous is the number of the option before it.
func parseOption(s *cryptobyte.String, previous int) (Option, error) {
	var b uint8
	if !s.ReadUint8(&b) {
		return Option{}, ErrOptionTruncated
	}

	delta, err := readExtended(s, b>>4)
	if err != nil {
		return Option{}, fmt.Errorf("option delta: %w", err)
	}
	length, err := readExtended(s, b&0x0f)
	if err != nil {
		return Option{}, fmt.Errorf("option length: %w", err)
	}

	number := previous + delta
	if number > 0xFFFF {
		return Option{}, fmt.Errorf("option number %d: %w", number, ErrOptionNumberOverflow)
	}

	var value []byte
	if !s.ReadBytes(&value, length) {
		return Option{}, fmt.Errorf("option %d claims %d bytes, %d left: %w", number, length, len(*s), ErrOptionTruncated)
	}

	return Option{Number: OptionNumber(number), Value: bytes.Clone(value)}, nil
}

func readExtended(s *cryptobyte.String, nibble uint8) (int, error) {
	size, err := ExtensionSize(nibble)
	if err != nil {
		return 0, err
	}
	var ext []byte
	if !s.ReadBytes(&ext, size) {
		return 0, ErrOptionTruncated
	}
	return DecodeExtendedLength(nibble, ext)
}
