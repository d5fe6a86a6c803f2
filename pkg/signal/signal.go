// Package signal implements component F: bit-exact CAN signal packing
// with DBC-style bit addressing, factor/offset scaling and clamping,
// in either endianness (spec.md §4.F).
package signal

import (
	"fmt"

	"github.com/foxbms/foxbms-core/pkg/errs"
)

// Endianness selects the DBC bit-addressing convention for a signal.
type Endianness uint8

const (
	// Big is Motorola bit numbering: BitStart is the MSB position
	// within its byte; successive bits march toward the LSB and then
	// into the next byte at bit 7.
	Big Endianness = iota
	// Little is Intel bit numbering: BitStart is the LSB position;
	// successive bits move toward higher bit numbers and carry into
	// the next byte at bit 0.
	Little
)

// IDKind mirrors can.IDKind without importing pkg/can, keeping this
// package free of a transport dependency.
type IDKind uint8

const (
	Std11 IDKind = iota
	Ext29
)

// MessageProperties describes a frame's wire identity.
type MessageProperties struct {
	ID         uint32
	IDKind     IDKind
	DLC        uint8
	Endianness Endianness
}

// Descriptor describes one signal's placement and scaling within a frame.
type Descriptor struct {
	BitStart  uint8
	BitLength uint8
	Factor    float32
	Offset    float32
	Min       float32
	Max       float32
}

// PrepareSignalData applies offset and factor, then clamps to
// [sig.Min, sig.Max] (spec.md §4.F, property P4).
func PrepareSignalData(value float32, sig Descriptor) float32 {
	scaled := (value + sig.Offset) * sig.Factor
	if scaled < sig.Min {
		return sig.Min
	}
	if scaled > sig.Max {
		return sig.Max
	}
	return scaled
}

// bitPosition is a canonical (byteIndex, bitInByte) address into the
// 8-byte frame, bitInByte counted 0 (LSB) .. 7 (MSB), independent of
// signal endianness. The scratch word keeps this same convention:
// word bit (7-byteIndex)*8+bitInByte holds that physical bit.
type bitPosition struct {
	byteIndex int
	bitInByte int
}

func wordShift(pos bitPosition) int {
	return (7-pos.byteIndex)*8 + pos.bitInByte
}

// SetMessageDataWithSignalData places the low BitLength bits of raw
// into message at the DBC-addressed position, preserving every other
// bit already present in message. BitLength == 0 is a programmer
// error.
func SetMessageDataWithSignalData(message *uint64, bitStart uint8, bitLength uint8, raw uint64, endianness Endianness) error {
	if bitLength == 0 {
		return errs.New(errs.KindProgrammer, "signal.SetMessageDataWithSignalData", fmt.Errorf("bit length must not be zero"))
	}

	var pos bitPosition
	switch endianness {
	case Big:
		pos = bitPosition{byteIndex: int(bitStart) / 8, bitInByte: 7 - int(bitStart)%8}
	case Little:
		pos = bitPosition{byteIndex: int(bitStart) / 8, bitInByte: int(bitStart) % 8}
	default:
		return errs.New(errs.KindProgrammer, "signal.SetMessageDataWithSignalData", fmt.Errorf("unknown endianness %v", endianness))
	}

	for k := 0; k < int(bitLength); k++ {
		if pos.byteIndex < 0 || pos.byteIndex > 7 {
			return errs.New(errs.KindProgrammer, "signal.SetMessageDataWithSignalData", fmt.Errorf("signal overruns 8-byte frame"))
		}
		var bit uint64
		switch endianness {
		case Big:
			// March MSB of raw first.
			bit = (raw >> (bitLength - 1 - uint8(k))) & 1
		case Little:
			// March LSB of raw first.
			bit = (raw >> uint8(k)) & 1
		}
		shift := wordShift(pos)
		*message = (*message &^ (1 << shift)) | (bit << shift)

		switch endianness {
		case Big:
			pos.bitInByte--
			if pos.bitInByte < 0 {
				pos.bitInByte = 7
				pos.byteIndex++
			}
		case Little:
			pos.bitInByte++
			if pos.bitInByte > 7 {
				pos.bitInByte = 0
				pos.byteIndex++
			}
		}
	}
	return nil
}

// NextBitStart returns the bit_start value immediately following a
// field of the given length that starts at bitStart, in the same
// endianness's addressing convention. It lets a caller lay out a run
// of adjacent signals (e.g. a rotating slot of value+invalid bit)
// without hand-computing byte/bit arithmetic for each one.
func NextBitStart(bitStart uint8, length uint8, endianness Endianness) uint8 {
	var pos bitPosition
	switch endianness {
	case Big:
		pos = bitPosition{byteIndex: int(bitStart) / 8, bitInByte: 7 - int(bitStart)%8}
	case Little:
		pos = bitPosition{byteIndex: int(bitStart) / 8, bitInByte: int(bitStart) % 8}
	}
	for i := 0; i < int(length); i++ {
		switch endianness {
		case Big:
			pos.bitInByte--
			if pos.bitInByte < 0 {
				pos.bitInByte = 7
				pos.byteIndex++
			}
		case Little:
			pos.bitInByte++
			if pos.bitInByte > 7 {
				pos.bitInByte = 0
				pos.byteIndex++
			}
		}
	}
	switch endianness {
	case Big:
		return uint8(pos.byteIndex*8 + (7 - pos.bitInByte))
	default:
		return uint8(pos.byteIndex*8 + pos.bitInByte)
	}
}

// SetCanDataWithMessageData serializes the 64-bit scratch into the
// wire byte order. Byte order is a property of the physical frame
// buffer, not of any one signal's bit-addressing convention, so the
// split is the same regardless of endianness: byte 0 is the most
// significant byte of message. The parameter is accepted for
// signature symmetry with SetMessageDataWithSignalData.
func SetCanDataWithMessageData(message uint64, buffer *[8]byte, _ Endianness) {
	for i := 0; i < 8; i++ {
		buffer[i] = byte(message >> ((7 - i) * 8))
	}
}
