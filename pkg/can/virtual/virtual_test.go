package virtual

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/foxbms/foxbms-core/pkg/can"
)

type frameRecorder struct {
	frames []can.Frame
}

func (r *frameRecorder) Handle(frame can.Frame) {
	r.frames = append(r.frames, frame)
}

func TestSendReceiveOwnLoopback(t *testing.T) {
	iface, err := NewBus("unused")
	assert.Nil(t, err)
	bus := iface.(*Bus)
	bus.SetReceiveOwn(true)

	rec := &frameRecorder{}
	assert.Nil(t, bus.Subscribe(rec))

	frame := can.NewFrame(0x220, can.Std11, 8)
	frame.Data[0] = 0x42
	assert.Nil(t, bus.Send(frame))

	if assert.Len(t, rec.frames, 1) {
		assert.Equal(t, uint32(0x220), rec.frames[0].ID)
		assert.Equal(t, byte(0x42), rec.frames[0].Data[0])
	}
}

func TestSendWithoutConnectionOrLoopbackFails(t *testing.T) {
	iface, err := NewBus("unused")
	assert.Nil(t, err)
	bus := iface.(*Bus)

	err = bus.Send(can.NewFrame(0x100, can.Std11, 8))
	assert.NotNil(t, err)
}

func TestRegisteredUnderCanRegistry(t *testing.T) {
	bus, err := can.NewBus("virtual", "unused")
	assert.Nil(t, err)
	assert.NotNil(t, bus)
}
