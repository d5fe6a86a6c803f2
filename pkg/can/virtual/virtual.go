// Package virtual provides a TCP-loopback can.Bus used for tests and
// for driving the TX scheduler without real hardware. A broker server
// is optional: with SetReceiveOwn(true) a bus loops frames straight
// back to its own subscriber.
package virtual

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/foxbms/foxbms-core/pkg/can"
)

func init() {
	can.RegisterInterface("virtual", NewBus)
	can.RegisterInterface("virtualcan", NewBus)
}

// wireFrame is the on-the-wire representation: fixed width fields so
// that binary.Write/Read round-trip without struct-tag surprises.
type wireFrame struct {
	ID     uint32
	IDKind uint8
	DLC    uint8
	_      [2]byte
	Data   [8]byte
}

// Bus is a can.Bus backed by a plain TCP connection to a broker, or to
// itself in loopback mode.
type Bus struct {
	logger        *logrus.Entry
	mu            sync.Mutex
	channel       string
	conn          net.Conn
	receiveOwn    bool
	frameHandler  can.FrameListener
	stopChan      chan bool
	wg            sync.WaitGroup
	isRunning     bool
	errSubscriber bool
}

// NewBus constructs an unconnected virtual bus for the given channel
// (a "host:port" when a broker is used, ignored in loopback mode).
func NewBus(channel string) (can.Bus, error) {
	return &Bus{
		channel:  channel,
		stopChan: make(chan bool),
		logger:   logrus.WithField("component", "can-virtual"),
	}, nil
}

func serializeFrame(frame can.Frame) ([]byte, error) {
	buffer := new(bytes.Buffer)
	wire := wireFrame{ID: frame.ID, IDKind: uint8(frame.IDKind), DLC: frame.DLC, Data: frame.Data}
	if err := binary.Write(buffer, binary.BigEndian, wire); err != nil {
		return nil, err
	}
	payload := buffer.Bytes()
	out := make([]byte, 4, 4+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	return append(out, payload...), nil
}

func deserializeFrame(buffer []byte) (can.Frame, error) {
	var wire wireFrame
	if err := binary.Read(bytes.NewReader(buffer), binary.BigEndian, &wire); err != nil {
		return can.Frame{}, err
	}
	return can.Frame{ID: wire.ID, IDKind: can.IDKind(wire.IDKind), DLC: wire.DLC, Data: wire.Data}, nil
}

// Connect dials the broker at the bus's channel, e.g. "localhost:18000".
func (b *Bus) Connect(...any) error {
	conn, err := net.Dial("tcp", b.channel)
	if err != nil {
		return err
	}
	b.conn = conn
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			return err
		}
	}
	return nil
}

// Disconnect stops the reception loop and closes the connection.
func (b *Bus) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.errSubscriber && b.isRunning {
		b.stopChan <- true
		b.wg.Wait()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// Send transmits a frame, looping it back locally when receiveOwn is
// set, regardless of whether a broker connection exists.
func (b *Bus) Send(frame can.Frame) error {
	if b.receiveOwn && b.frameHandler != nil {
		b.frameHandler.Handle(frame)
	} else if b.conn == nil {
		return errors.New("can/virtual: no active connection, abort send")
	}
	if b.conn == nil {
		return nil
	}
	frameBytes, err := serializeFrame(frame)
	if err != nil {
		return err
	}
	_ = b.conn.SetWriteDeadline(time.Now().Add(10 * time.Millisecond))
	_, err = b.conn.Write(frameBytes)
	return err
}

// Subscribe registers the callback and starts the reception loop.
func (b *Bus) Subscribe(frameHandler can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frameHandler = frameHandler
	if b.isRunning {
		return nil
	}
	b.wg.Add(1)
	b.isRunning = true
	b.errSubscriber = false
	go b.handleReception()
	return nil
}

func (b *Bus) recv() (can.Frame, error) {
	if b.conn == nil {
		return can.Frame{}, fmt.Errorf("can/virtual: no active connection, abort receive")
	}
	_ = b.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	header := make([]byte, 4)
	n, err := b.conn.Read(header)
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return can.Frame{}, err
	}
	if n < 4 || err != nil {
		return can.Frame{}, fmt.Errorf("can/virtual: short header read: got %d, err %v", n, err)
	}
	length := binary.BigEndian.Uint32(header)
	payload := make([]byte, length)
	_ = b.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	n, err = b.conn.Read(payload)
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return can.Frame{}, err
	}
	if n != int(length) || err != nil {
		return can.Frame{}, fmt.Errorf("can/virtual: short payload read: expected %d, got %d", length, n)
	}
	return deserializeFrame(payload)
}

func (b *Bus) handleReception() {
	defer func() {
		b.isRunning = false
		b.wg.Done()
	}()
	for {
		select {
		case <-b.stopChan:
			return
		default:
			if !b.mu.TryLock() {
				continue
			}
			frame, err := b.recv()
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// no message received, this is fine
			} else if err != nil {
				b.logger.WithError(err).Error("reception loop closing")
				b.errSubscriber = true
				b.mu.Unlock()
				return
			} else if b.frameHandler != nil {
				b.frameHandler.Handle(frame)
			}
			b.mu.Unlock()
		}
	}
}

// SetReceiveOwn makes Send loop frames straight back to the local
// subscriber, used by tests that drive the scheduler without a broker.
func (b *Bus) SetReceiveOwn(receiveOwn bool) {
	b.receiveOwn = receiveOwn
}
