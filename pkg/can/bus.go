// Package can defines the CAN transport abstraction consumed by the
// TX scheduler (pkg/txsched) and the encoders (pkg/txenc). It is the
// foxBMS core's one external collaborator interface for sending and
// receiving frames (spec.md §6).
package can

import "fmt"

// IDKind distinguishes 11-bit standard from 29-bit extended CAN IDs.
type IDKind uint8

const (
	Std11 IDKind = iota
	Ext29
)

// Frame is an 8-byte CAN payload together with its wire identity.
type Frame struct {
	ID     uint32
	IDKind IDKind
	DLC    uint8
	Data   [8]byte
}

// NewFrame returns a zero-payload frame with the given identity.
func NewFrame(id uint32, kind IDKind, dlc uint8) Frame {
	return Frame{ID: id, IDKind: kind, DLC: dlc}
}

// FrameListener receives frames off the bus (CAN-RX task of spec.md §5).
type FrameListener interface {
	Handle(frame Frame)
}

// Bus is the non-blocking, best-effort CAN peripheral collaborator
// (spec.md §6: "can_data_send(node, id, id_kind, &bytes[8]) -> Ok/Err").
// Send never retries and never blocks; a dropped frame is acceptable
// and will be reattempted by the scheduler at the next period.
type Bus interface {
	Connect(...any) error
	Disconnect() error
	Send(frame Frame) error
	Subscribe(callback FrameListener) error
}

// NewInterfaceFunc constructs a Bus for a given channel (e.g. "can0").
type NewInterfaceFunc func(channel string) (Bus, error)

var interfaceRegistry = make(map[string]NewInterfaceFunc)

// RegisterInterface registers a CAN bus implementation under a name.
// Concrete transports (pkg/can/socketcan, pkg/can/virtual) call this
// from their own init().
func RegisterInterface(name string, newInterface NewInterfaceFunc) {
	interfaceRegistry[name] = newInterface
}

// NewBus constructs a registered Bus implementation by name.
func NewBus(name string, channel string) (Bus, error) {
	newInterface, ok := interfaceRegistry[name]
	if !ok {
		return nil, fmt.Errorf("can: unsupported interface %q", name)
	}
	return newInterface(channel)
}
