package coap

import (
	"encoding/binary"
	"fmt"
)

const (
	nibbleExt8     = 13
	nibbleExt16    = 14
	nibbleReserved = 15

	ext8Offset  = 13
	ext16Offset = 269
	// maxExtendedValue is the largest value that fits nibble 14 with two extension bytes.
	maxExtendedValue = ext16Offset + 0xFFFF
)

// ExtendedLength is the wire form of a length or option delta:
// a 4-bit nibble plus zero, one or two extension bytes.
type ExtendedLength struct {
	Nibble uint8
	Ext    []byte
}

// Size returns the number of extension bytes.
func (e ExtendedLength) Size() int {
	return len(e.Ext)
}

// EncodeExtendedLength returns the nibble and extension bytes for value.
// Values above 65804 would need a third tier and are rejected.
func EncodeExtendedLength(value int) (ExtendedLength, error) {
	switch {
	case value < 0:
		return ExtendedLength{}, fmt.Errorf("negative value %d", value)
	case value < ext8Offset:
		return ExtendedLength{Nibble: uint8(value)}, nil
	case value < ext16Offset:
		return ExtendedLength{Nibble: nibbleExt8, Ext: []byte{byte(value - ext8Offset)}}, nil
	case value <= maxExtendedValue:
		ext := make([]byte, 2)
		binary.BigEndian.PutUint16(ext, uint16(value-ext16Offset))
		return ExtendedLength{Nibble: nibbleExt16, Ext: ext}, nil
	default:
		return ExtendedLength{}, fmt.Errorf("value %d: %w", value, ErrExtensionTooLarge)
	}
}

// ExtensionSize returns how many extension bytes follow a nibble.
// The reserved nibble 15 returns [ErrReservedNibble].
func ExtensionSize(nibble uint8) (int, error) {
	switch {
	case nibble < nibbleExt8:
		return 0, nil
	case nibble == nibbleExt8:
		return 1, nil
	case nibble == nibbleExt16:
		return 2, nil
	default:
		return 0, ErrReservedNibble
	}
}

// DecodeExtendedLength reconstructs the value of a nibble and its extension bytes.
func DecodeExtendedLength(nibble uint8, ext []byte) (int, error) {
	size, err := ExtensionSize(nibble)
	if err != nil {
		return 0, err
	}
	if len(ext) != size {
		return 0, fmt.Errorf("nibble %d needs %d extension bytes, got %d", nibble, size, len(ext))
	}

	switch size {
	case 0:
		return int(nibble), nil
	case 1:
		return int(ext[0]) + ext8Offset, nil
	default:
		return int(binary.BigEndian.Uint16(ext)) + ext16Offset, nil
	}
}
