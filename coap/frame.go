package coap

import (
	"errors"
	"fmt"
	"io"

	"github.com/edgelesssys/go-attest-coap/attesterr"
)

// ReadFrame reads one frame from a byte stream.
//
// It reads the first byte, then the extended length bytes it announces, and rejects the
// frame before reading further if it would be larger than maxSize. The rest of the frame
// (code, token, content) is read in a single call. maxSize <= 0 or above
// [MaxMessageSize] means [MaxMessageSize].
//
// Errors returned by r that already carry an [attesterr.Kind] keep it, any other read
// error is reported as a transport error.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 || maxSize > MaxMessageSize {
		maxSize = MaxMessageSize
	}

	var head [3]byte
	if err := readFull(r, head[:1], "read header", 0); err != nil {
		return nil, err
	}

	tokenLength := int(head[0] & 0x0f)
	if tokenLength > MaxTokenLength {
		return nil, attesterr.AtOffset(attesterr.Malformed, "read header", 0,
			fmt.Errorf("token length %d: %w", tokenLength, ErrTokenLength))
	}
	extSize, err := HeaderExtensionSize(head[0])
	if err != nil {
		return nil, err
	}
	if err := readFull(r, head[1:1+extSize], "read header", 1); err != nil {
		return nil, err
	}
	length, err := DecodeExtendedLength(head[0]>>4, head[1:1+extSize])
	if err != nil {
		return nil, attesterr.AtOffset(attesterr.Malformed, "read header", 1, err)
	}

	headerLen := 1 + extSize
	total := headerLen + 1 + tokenLength + length
	if total > maxSize {
		return nil, attesterr.OverLimit("read frame", total, maxSize,
			fmt.Errorf("frame of %d bytes: %w", total, ErrMessageTooLarge))
	}

	frame := make([]byte, total)
	copy(frame, head[:headerLen])
	if err := readFull(r, frame[headerLen:], "read frame", headerLen); err != nil {
		return nil, err
	}
	return frame, nil
}

func readFull(r io.Reader, p []byte, op string, offset int) error {
	if len(p) == 0 {
		return nil
	}
	_, err := io.ReadFull(r, p)
	if err == nil {
		return nil
	}
	var classified *attesterr.Error
	if errors.As(err, &classified) {
		return err
	}
	return attesterr.AtOffset(attesterr.Transport, op, offset, err)
}
