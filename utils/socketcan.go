//go:build linux || darwin
// +build linux darwin

package utils

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// SocketCAN is one raw CAN socket serving as both CANReader and CANWriter.
type SocketCAN struct {
	iface  string
	conn   net.Conn
	tx     *socketcan.Transmitter
	recv   *socketcan.Receiver
	frames chan can.Frame
	err    error // set before frames is closed

	closeOnce sync.Once
	closeErr  error
}

var (
	_ CANReader = (*SocketCAN)(nil)
	_ CANWriter = (*SocketCAN)(nil)
)

// DialSocketCAN opens iface, e.g. "can0" or "vcan0", and starts receiving.
func DialSocketCAN(ctx context.Context, iface string) (*SocketCAN, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, errors.Wrapf(err, "socketcan dial %s", iface)
	}
	s := &SocketCAN{
		iface:  iface,
		conn:   conn,
		tx:     socketcan.NewTransmitter(conn),
		recv:   socketcan.NewReceiver(conn),
		frames: make(chan can.Frame, 64),
	}
	go s.pump()
	return s, nil
}

// pump owns the receiver; Receive is not safe for concurrent callers.
func (s *SocketCAN) pump() {
	for s.recv.Receive() {
		s.frames <- s.recv.Frame()
	}
	s.err = s.recv.Err()
	if s.err == nil {
		s.err = errors.Errorf("%s: receiver closed", s.iface)
	}
	close(s.frames)
}

// ReadFrame blocks until a frame arrives, the socket fails or ctx is done.
func (s *SocketCAN) ReadFrame(ctx context.Context) (can.Frame, error) {
	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case frame, ok := <-s.frames:
		if !ok {
			return can.Frame{}, s.err
		}
		return frame, nil
	}
}

func (s *SocketCAN) WriteFrame(ctx context.Context, frame can.Frame) error {
	return s.tx.TransmitFrame(ctx, frame)
}

// Close closes the socket. It is safe to call once per role.
func (s *SocketCAN) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.conn.Close() })
	return s.closeErr
}
