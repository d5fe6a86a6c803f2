// Package socketcan wraps github.com/brutella/can to provide the
// default Linux SocketCAN-backed can.Bus implementation.
package socketcan

import (
	sockcan "github.com/brutella/can"

	"github.com/foxbms/foxbms-core/pkg/can"
)

func init() {
	can.RegisterInterface("socketcan", NewBus)
}

// Bus is a can.Bus backed by a real SocketCAN interface.
type Bus struct {
	bus        *sockcan.Bus
	rxCallback can.FrameListener
}

// NewBus opens (but does not yet connect) a SocketCAN interface by
// name, e.g. "can0".
func NewBus(name string) (can.Bus, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(name)
	if err != nil {
		return nil, err
	}
	return &Bus{bus: bus}, nil
}

// Connect starts receiving and publishing frames in the background.
func (b *Bus) Connect(...any) error {
	go b.bus.ConnectAndPublish()
	return nil
}

// Disconnect tears down the SocketCAN interface.
func (b *Bus) Disconnect() error {
	return b.bus.Disconnect()
}

// Send transmits a frame best-effort; it never blocks or retries.
func (b *Bus) Send(frame can.Frame) error {
	flags := uint8(0)
	if frame.IDKind == can.Ext29 {
		flags = 0x80
	}
	return b.bus.Publish(sockcan.Frame{
		ID:     frame.ID,
		Length: frame.DLC,
		Flags:  flags,
		Data:   frame.Data,
	})
}

// Subscribe registers the callback invoked for every received frame.
func (b *Bus) Subscribe(rxCallback can.FrameListener) error {
	b.rxCallback = rxCallback
	b.bus.Subscribe(b)
	return nil
}

// Handle implements brutella/can's Handler interface, translating its
// frame type into this module's can.Frame before forwarding it.
func (b *Bus) Handle(frame sockcan.Frame) {
	kind := can.Std11
	if frame.Flags&0x80 != 0 {
		kind = can.Ext29
	}
	b.rxCallback.Handle(can.Frame{ID: frame.ID, IDKind: kind, DLC: frame.Length, Data: frame.Data})
}
