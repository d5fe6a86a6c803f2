package txsched

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/foxbms/foxbms-core/pkg/can"
	"github.com/foxbms/foxbms-core/pkg/signal"
)

type recordingBus struct {
	sent []can.Frame
	fail bool
}

func (b *recordingBus) Connect(...any) error { return nil }
func (b *recordingBus) Disconnect() error    { return nil }
func (b *recordingBus) Send(frame can.Frame) error {
	if b.fail {
		return assert.AnError
	}
	b.sent = append(b.sent, frame)
	return nil
}
func (b *recordingBus) Subscribe(can.FrameListener) error { return nil }

func testProps(id uint32) signal.MessageProperties {
	return signal.MessageProperties{ID: id, IDKind: signal.Std11, DLC: 8, Endianness: signal.Big}
}

func TestTickFiresDueEntriesOnly(t *testing.T) {
	bus := &recordingBus{}
	hits := map[string]int{}
	registry := []Entry{
		NewEntry("A", testProps(0x100), 100, 0, func(_ signal.MessageProperties, _ *[8]byte, _ *uint8) error {
			hits["A"]++
			return nil
		}),
		NewEntry("B", testProps(0x101), 100, 50, func(_ signal.MessageProperties, _ *[8]byte, _ *uint8) error {
			hits["B"]++
			return nil
		}),
	}
	s := New(bus, registry)

	s.Tick(0)
	assert.Equal(t, 1, hits["A"])
	assert.Equal(t, 0, hits["B"])

	s.Tick(50)
	assert.Equal(t, 1, hits["A"])
	assert.Equal(t, 1, hits["B"])

	s.Tick(100)
	assert.Equal(t, 2, hits["A"])
	assert.Equal(t, 1, hits["B"])

	assert.Len(t, bus.sent, 3)
}

func TestTickSkipsEntriesBeforePhase(t *testing.T) {
	bus := &recordingBus{}
	hits := 0
	registry := []Entry{
		NewEntry("Late", testProps(0x200), 100, 70, func(_ signal.MessageProperties, _ *[8]byte, _ *uint8) error {
			hits++
			return nil
		}),
	}
	s := New(bus, registry)
	s.Tick(10)
	s.Tick(60)
	assert.Equal(t, 0, hits)
	s.Tick(70)
	assert.Equal(t, 1, hits)
}

func TestMuxCounterIsPrivatePerEntry(t *testing.T) {
	bus := &recordingBus{}
	var seenMux []uint8
	registry := []Entry{
		NewEntry("Mux", testProps(0x300), 10, 0, func(_ signal.MessageProperties, _ *[8]byte, mux *uint8) error {
			seenMux = append(seenMux, *mux)
			*mux = *mux + 1
			return nil
		}),
	}
	s1 := New(bus, registry)
	s2 := New(bus, registry)

	s1.Tick(0)
	s1.Tick(10)
	s2.Tick(0)

	assert.Equal(t, []uint8{0, 1, 0}, seenMux)
}

func TestFireNowSendsImmediately(t *testing.T) {
	bus := &recordingBus{}
	s := New(bus, nil)

	err := s.FireNow(testProps(0x400), func(_ signal.MessageProperties, buf *[8]byte, _ *uint8) error {
		buf[0] = 0xAB
		return nil
	})
	assert.Nil(t, err)
	assert.Len(t, bus.sent, 1)
	assert.Equal(t, byte(0xAB), bus.sent[0].Data[0])
}

func TestFireDropsFrameOnBusyBus(t *testing.T) {
	bus := &recordingBus{fail: true}
	registry := []Entry{
		NewEntry("Busy", testProps(0x500), 10, 0, func(_ signal.MessageProperties, _ *[8]byte, _ *uint8) error {
			return nil
		}),
	}
	s := New(bus, registry)
	s.Tick(0) // must not panic even though Send fails
	assert.Empty(t, bus.sent)
}
