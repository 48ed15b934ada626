// Package canbus implements device.Transport over a CAN bus described by a utils.CANMap.
//
// One Bus owns the reader and writer of a single interface. Outgoing frames are queued and written by
// the Run loop so callers on the control tick never block on the socket. Incoming status frames are
// decoded into a per-device cache that Device reads are served from.
package canbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.einride.tech/can"
	"go.uber.org/multierr"

	"lift-control-core/utils"
)

const (
	// DefaultTxQueue is the number of frames that may wait for the writer.
	DefaultTxQueue = 256
	// DrainTimeout bounds how long Run keeps writing queued frames after its context ends.
	DrainTimeout = 100 * time.Millisecond
	// DefaultStaleAfter is how long a device may stay silent before it reads as disconnected.
	DefaultStaleAfter = 250 * time.Millisecond
)

// ErrTxQueueFull is returned when a frame cannot be queued without blocking.
var ErrTxQueueFull = errors.New("can tx queue full")

// Option configures a Bus.
type Option func(*Bus)

// WithClock replaces the wall clock used for connectivity tracking.
func WithClock(clk clock.Clock) Option {
	return func(b *Bus) { b.clk = clk }
}

// WithStaleAfter sets the silence window after which a device is reported disconnected.
func WithStaleAfter(d time.Duration) Option {
	return func(b *Bus) { b.staleAfter = d }
}

// WithTxQueue sets the outgoing queue depth.
func WithTxQueue(n int) Option {
	return func(b *Bus) { b.txq = make(chan can.Frame, n) }
}

type deviceState struct {
	values map[string]float64 // keyed by "FRAME.signal"
	lastRx time.Time
	seen   bool
}

// Bus multiplexes device transports over one CAN interface.
type Bus struct {
	name       string
	cmap       *utils.CANMap
	writer     utils.CANWriter
	reader     utils.CANReader
	log        *utils.Logger
	clk        clock.Clock
	staleAfter time.Duration
	txq        chan can.Frame

	mu      sync.RWMutex
	states  map[uint8]*deviceState
	devices map[uint8]*Device

	sent, received, dropped uint64
}

// New creates a bus. Nothing is transmitted until Run is started.
func New(name string, cmap *utils.CANMap, writer utils.CANWriter, reader utils.CANReader, log *utils.Logger,
	opts ...Option,
) *Bus {
	b := &Bus{
		name:       name,
		cmap:       cmap,
		writer:     writer,
		reader:     reader,
		log:        log.Named("can." + name),
		clk:        clock.New(),
		staleAfter: DefaultStaleAfter,
		txq:        make(chan can.Frame, DefaultTxQueue),
		states:     map[uint8]*deviceState{},
		devices:    map[uint8]*Device{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name is the bus name devices are addressed by.
func (b *Bus) Name() string { return b.name }

// Device returns the transport for one device number, creating it on first use.
// Numbers that do not fit the arbitration ID are a wiring mistake and panic.
func (b *Bus) Device(number uint8) *Device {
	if int(number) >= 1<<utils.DeviceNumberBits {
		panic(fmt.Sprintf("device number %d does not fit in %d bits", number, utils.DeviceNumberBits))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if d, ok := b.devices[number]; ok {
		return d
	}
	d := &Device{bus: b, number: number, neutral: 1}
	b.devices[number] = d
	return d
}

// Run writes queued frames and starts the receive loop. It returns when ctx is done or the writer fails.
// Frames still queued when ctx ends are written before Run returns, within DrainTimeout.
func (b *Bus) Run(ctx context.Context) error {
	b.log.Info("bus %s started", b.name)
	defer func() {
		b.mu.RLock()
		defer b.mu.RUnlock()
		b.log.Info("bus %s stopped: tx=%d rx=%d dropped=%d", b.name, b.sent, b.received, b.dropped)
	}()

	rxDone := make(chan struct{})
	defer func() { <-rxDone }()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer close(rxDone)
		b.receiveLoop(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			b.drain()
			return ctx.Err()
		case frame := <-b.txq:
			if err := b.write(ctx, frame); err != nil {
				if ctx.Err() != nil {
					b.drain(frame)
					return ctx.Err()
				}
				b.log.Critical("transmit failed id=0x%X: %v", frame.ID, err)
				return errors.Wrapf(err, "bus %s transmit", b.name)
			}
		}
	}
}

func (b *Bus) write(ctx context.Context, frame can.Frame) error {
	if err := b.writer.WriteFrame(ctx, frame); err != nil {
		return err
	}
	b.mu.Lock()
	b.sent++
	b.mu.Unlock()
	b.log.Trace("TX id=0x%X len=%d data=% X", frame.ID, frame.Length, frame.Data[:frame.Length])
	return nil
}

// drain writes unsent, then whatever is still queued, so a final neutral command reaches the devices.
func (b *Bus) drain(unsent ...can.Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), DrainTimeout)
	defer cancel()
	for _, frame := range unsent {
		if err := b.write(ctx, frame); err != nil {
			b.log.Warn("bus %s: %d frames left unsent: %v", b.name, len(b.txq)+1, err)
			return
		}
	}
	for {
		select {
		case frame := <-b.txq:
			if err := b.write(ctx, frame); err != nil {
				b.log.Warn("bus %s: %d frames left unsent: %v", b.name, len(b.txq)+1, err)
				return
			}
		default:
			return
		}
	}
}

// receiveLoop continuously reads CAN frames and caches decoded status signals.
func (b *Bus) receiveLoop(ctx context.Context) {
	b.log.Debug("RX loop started")
	defer b.log.Debug("RX loop stopped")

	for {
		frame, err := b.reader.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.Error("RX error: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-b.clk.After(10 * time.Millisecond):
			}
			continue
		}
		b.handleFrame(frame)
	}
}

// handleFrame decodes one received frame. Frames the map does not describe, and host-to-device
// echoes, are ignored.
func (b *Bus) handleFrame(frame can.Frame) {
	fd, number, values, err := b.cmap.DecodeDeviceFrame(frame)
	if err != nil || fd.Direction != utils.DirectionRx {
		b.log.Trace("RX ignored id=0x%X len=%d", frame.ID, frame.Length)
		return
	}

	now := b.clk.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.received++

	st, ok := b.states[number]
	if !ok {
		st = &deviceState{values: map[string]float64{}}
		b.states[number] = st
	}
	for name, v := range values {
		st.values[fd.Name+"."+name] = v
	}
	st.lastRx = now
	st.seen = true
}

func (b *Bus) read(number uint8, key string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.states[number]
	if !ok {
		return 0
	}
	return st.values[key]
}

func (b *Bus) connected(number uint8) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.states[number]
	if !ok || !st.seen {
		return false
	}
	return b.clk.Since(st.lastRx) <= b.staleAfter
}

// send encodes a frame for one device and queues it without blocking.
func (b *Bus) send(frameName string, number uint8, values map[string]float64) error {
	frame, err := b.cmap.EncodeDeviceFrame(frameName, number, values)
	if err != nil {
		return errors.Wrapf(err, "encode %s", frameName)
	}
	select {
	case b.txq <- frame:
		return nil
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		return errors.Wrapf(ErrTxQueueFull, "%s to device %d", frameName, number)
	}
}

// Close releases the reader and writer.
func (b *Bus) Close() error {
	var err error
	if b.reader != nil {
		err = multierr.Append(err, b.reader.Close())
	}
	if b.writer != nil {
		err = multierr.Append(err, b.writer.Close())
	}
	return err
}
