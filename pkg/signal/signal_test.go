package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrepareSignalData(t *testing.T) {
	t.Run("scales and offsets", func(t *testing.T) {
		sig := Descriptor{Factor: 0.1, Offset: 100, Min: 0, Max: 65535}
		got := PrepareSignalData(-50, sig)
		assert.InDelta(t, 5.0, got, 1e-6)
	})

	t.Run("clamps to max", func(t *testing.T) {
		sig := Descriptor{Factor: 1, Offset: 0, Min: 0, Max: 10}
		assert.Equal(t, float32(10), PrepareSignalData(999, sig))
	})

	t.Run("clamps to min", func(t *testing.T) {
		sig := Descriptor{Factor: 1, Offset: 0, Min: -5, Max: 10}
		assert.Equal(t, float32(-5), PrepareSignalData(-999, sig))
	})
}

// TestBigEndianRoundTrip is the worked example: writing 0x1ABC into
// (bit_start=11, bit_length=13) big-endian, serializing the scratch
// yields byte 1 bits 4..0 = 11010 and byte 2 = 10111100.
func TestBigEndianRoundTrip(t *testing.T) {
	raw := uint64(0x1ABC) & ((1 << 13) - 1)

	var message uint64
	err := SetMessageDataWithSignalData(&message, 11, 13, raw, Big)
	assert.Nil(t, err)

	var buf [8]byte
	SetCanDataWithMessageData(message, &buf, Big)

	assert.Equal(t, byte(0b00011010), buf[1]&0b00011111)
	assert.Equal(t, byte(0b10111100), buf[2])
}

func TestLittleEndianRoundTrip(t *testing.T) {
	var message uint64
	err := SetMessageDataWithSignalData(&message, 8, 13, 0x1ABC&((1<<13)-1), Little)
	assert.Nil(t, err)

	var buf [8]byte
	SetCanDataWithMessageData(message, &buf, Little)

	// Little-endian walk from bit_start=8: byte1 holds the value's low
	// 8 bits, byte2's low 5 bits hold the remaining high bits.
	assert.Equal(t, byte(0xBC), buf[1])
	assert.Equal(t, byte(0x1A), buf[2]&0b00011111)
}

func TestSetMessageDataWithSignalDataPreservesOtherBits(t *testing.T) {
	message := uint64(0xFFFFFFFFFFFFFFFF)
	err := SetMessageDataWithSignalData(&message, 0, 8, 0, Big)
	assert.Nil(t, err)

	var buf [8]byte
	SetCanDataWithMessageData(message, &buf, Big)
	assert.Equal(t, byte(0x00), buf[0])
	assert.Equal(t, byte(0xFF), buf[1])
}

func TestSetMessageDataWithSignalDataRejectsZeroLength(t *testing.T) {
	var message uint64
	err := SetMessageDataWithSignalData(&message, 0, 0, 1, Big)
	assert.NotNil(t, err)
}

func TestSetMessageDataWithSignalDataRejectsOverrun(t *testing.T) {
	var message uint64
	err := SetMessageDataWithSignalData(&message, 63, 16, 0xFFFF, Big)
	assert.NotNil(t, err)
}

func TestNextBitStartSequentialLayout(t *testing.T) {
	mux := uint8(0)
	afterMux := NextBitStart(mux, 8, Big)
	assert.Equal(t, uint8(8), afterMux)

	afterVoltage := NextBitStart(afterMux, 13, Big)
	afterInvalid := NextBitStart(afterVoltage, 1, Big)
	assert.Equal(t, afterInvalid, NextBitStart(afterVoltage, 1, Big))

	// Round trip: placing two fields back to back via the cursor must
	// not collide with each other.
	var message uint64
	assert.Nil(t, SetMessageDataWithSignalData(&message, mux, 8, 0xFF, Big))
	assert.Nil(t, SetMessageDataWithSignalData(&message, afterMux, 13, 0x1FFF, Big))
	var buf [8]byte
	SetCanDataWithMessageData(message, &buf, Big)
	assert.Equal(t, byte(0xFF), buf[0])
}
