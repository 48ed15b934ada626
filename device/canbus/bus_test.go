package canbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.einride.tech/can"
	"go.viam.com/test"

	"lift-control-core/control"
	"lift-control-core/device"
	"lift-control-core/units"
	"lift-control-core/utils"
)

type captureWriter struct {
	mu     sync.Mutex
	frames []can.Frame
	closed bool
	err    error
}

func (w *captureWriter) WriteFrame(_ context.Context, f can.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.frames = append(w.frames, f)
	return nil
}

func (w *captureWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *captureWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

type chanReader struct {
	frames chan can.Frame
	err    error
}

func (r *chanReader) ReadFrame(ctx context.Context) (can.Frame, error) {
	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case f := <-r.frames:
		return f, nil
	}
}

func (r *chanReader) Close() error { return r.err }

func newTestBus(t *testing.T, opts ...Option) (*Bus, *captureWriter, *chanReader) {
	t.Helper()
	cmap, err := utils.DefaultMotorMap()
	test.That(t, err, test.ShouldBeNil)
	w := &captureWriter{}
	r := &chanReader{frames: make(chan can.Frame, 16)}
	return New("rio", cmap, w, r, utils.NewTestLogger(t), opts...), w, r
}

// drain decodes every queued frame without running the writer loop.
func drain(t *testing.T, b *Bus) []string {
	t.Helper()
	var names []string
	for {
		select {
		case f := <-b.txq:
			fd, _, _, err := b.cmap.DecodeDeviceFrame(f)
			test.That(t, err, test.ShouldBeNil)
			names = append(names, fd.Name)
		default:
			return names
		}
	}
}

func statusFrame(t *testing.T, b *Bus, name string, number uint8, values map[string]float64) can.Frame {
	t.Helper()
	f, err := b.cmap.EncodeDeviceFrame(name, number, values)
	test.That(t, err, test.ShouldBeNil)
	return f
}

func TestApplyConfigurationFrames(t *testing.T) {
	b, _, _ := newTestBus(t)
	d := b.Device(3)

	cfg := device.Defaults()
	cfg.Slot0.Gains = control.Gains{P: 12, G: 0.4}
	test.That(t, d.ApplyConfiguration(cfg), test.ShouldBeNil)

	var frames []can.Frame
	for len(b.txq) > 0 {
		frames = append(frames, <-b.txq)
	}
	test.That(t, len(frames), test.ShouldEqual, 5)

	fd, number, values, err := b.cmap.DecodeDeviceFrame(frames[1])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fd.Name, test.ShouldEqual, "MOTOR_CONFIG_CURRENT")
	test.That(t, number, test.ShouldEqual, uint8(3))
	test.That(t, values["supply_limit_a"], test.ShouldAlmostEqual, 40, 1e-9)
	test.That(t, values["stator_limit_enable"], test.ShouldEqual, 0.0)

	_, _, values, err = b.cmap.DecodeDeviceFrame(frames[3])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, values["kg"], test.ShouldAlmostEqual, 0.4, 1e-3)
	test.That(t, d.NeutralMode(), test.ShouldEqual, device.Brake)
}

func TestChannelStartupOverBus(t *testing.T) {
	b, _, _ := newTestBus(t)
	device.NewChannel(device.ID{Bus: "rio", Number: 5}, b.Device(5), device.NewBuilder(device.Defaults()),
		utils.NewTestLogger(t))

	names := drain(t, b)
	test.That(t, names[0], test.ShouldEqual, "MOTOR_CLEAR_FAULTS")
	test.That(t, names[len(names)-1], test.ShouldEqual, "MOTOR_OPTIMIZE_BUS")
	rates := 0
	for _, n := range names {
		if n == "MOTOR_SIGNAL_RATE" {
			rates++
		}
	}
	test.That(t, rates, test.ShouldEqual, 6)
}

func TestStatusCacheAndConnectivity(t *testing.T) {
	clk := clock.NewMock()
	b, _, _ := newTestBus(t, WithClock(clk), WithStaleAfter(100*time.Millisecond))
	d := b.Device(7)
	other := b.Device(8)

	test.That(t, d.IsConnected(), test.ShouldBeFalse)
	test.That(t, d.Read(device.SignalPosition), test.ShouldEqual, 0.0)

	b.handleFrame(statusFrame(t, b, "MOTOR_STATUS_POSITION", 7, map[string]float64{
		"position_rot": 12.5, "velocity_rps": -3.25,
	}))
	b.handleFrame(statusFrame(t, b, "MOTOR_STATUS_ELECTRICAL", 7, map[string]float64{
		"output_v": 6, "supply_a": 21.5,
	}))

	test.That(t, d.Read(device.SignalPosition), test.ShouldAlmostEqual, 12.5, 1e-4)
	test.That(t, d.Read(device.SignalVelocity), test.ShouldAlmostEqual, -3.25, 1e-3)
	test.That(t, d.Read(device.SignalOutputVoltage), test.ShouldAlmostEqual, 6, 1e-3)
	test.That(t, d.Read(device.SignalSupplyCurrent), test.ShouldAlmostEqual, 21.5, 1e-2)
	test.That(t, d.Read(device.SignalSupplyVoltage), test.ShouldAlmostEqual, 12, 1e-3)
	test.That(t, d.IsConnected(), test.ShouldBeTrue)
	test.That(t, other.IsConnected(), test.ShouldBeFalse)
	test.That(t, other.Read(device.SignalPosition), test.ShouldEqual, 0.0)

	clk.Add(101 * time.Millisecond)
	test.That(t, d.IsConnected(), test.ShouldBeFalse)
	// stale values stay readable
	test.That(t, d.Read(device.SignalPosition), test.ShouldAlmostEqual, 12.5, 1e-4)
}

func TestHostFramesAreNotCached(t *testing.T) {
	b, _, _ := newTestBus(t)
	d := b.Device(2)

	b.handleFrame(statusFrame(t, b, "MOTOR_CMD_VOLTAGE", 2, map[string]float64{"output_v": 5}))
	b.handleFrame(can.Frame{ID: 0x123, Length: 1})

	test.That(t, d.IsConnected(), test.ShouldBeFalse)
	test.That(t, d.Read(device.SignalOutputVoltage), test.ShouldEqual, 0.0)
}

func TestQueueFullDoesNotBlock(t *testing.T) {
	b, _, _ := newTestBus(t, WithTxQueue(1))
	d := b.Device(1)

	test.That(t, d.SetVoltage(units.Volts(1)), test.ShouldBeNil)
	err := d.SetVoltage(units.Volts(2))
	test.That(t, errors.Is(err, ErrTxQueueFull), test.ShouldBeTrue)
}

func TestFollowAcrossBusesFails(t *testing.T) {
	b, _, _ := newTestBus(t)
	d := b.Device(2)

	test.That(t, d.Follow(device.ID{Bus: "canivore", Number: 1}, false), test.ShouldNotBeNil)
	test.That(t, d.Follow(device.ID{Bus: "rio", Number: 1}, true), test.ShouldBeNil)

	f := <-b.txq
	_, _, values, err := b.cmap.DecodeDeviceFrame(f)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, values["leader_id"], test.ShouldEqual, 1.0)
	test.That(t, values["oppose_leader"], test.ShouldEqual, 1.0)
}

func TestDeviceNumberRange(t *testing.T) {
	b, _, _ := newTestBus(t)
	test.That(t, func() { b.Device(64) }, test.ShouldPanic)
	test.That(t, b.Device(63), test.ShouldEqual, b.Device(63))
}

func TestRunWritesAndReceives(t *testing.T) {
	b, w, r := newTestBus(t)
	d := b.Device(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	test.That(t, d.SetPosition(units.Rotations(1.5)), test.ShouldBeNil)
	r.frames <- statusFrame(t, b, "MOTOR_STATUS_POSITION", 4, map[string]float64{"position_rot": 1.5})

	deadline := time.Now().Add(2 * time.Second)
	for (w.count() == 0 || !d.IsConnected()) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	test.That(t, w.count(), test.ShouldEqual, 1)
	test.That(t, d.Read(device.SignalPosition), test.ShouldAlmostEqual, 1.5, 1e-4)

	cancel()
	test.That(t, errors.Is(<-done, context.Canceled), test.ShouldBeTrue)
}

func TestRunReturnsOnWriteFailure(t *testing.T) {
	b, w, _ := newTestBus(t)
	w.err = errors.New("no buffer space available")
	test.That(t, b.Device(1).SetVoltage(units.Volts(1)), test.ShouldBeNil)

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	select {
	case err := <-done:
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "no buffer space available")
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the writer failed")
	}
}

func TestRunDrainsQueueOnCancel(t *testing.T) {
	b, w, _ := newTestBus(t)
	d := b.Device(1)
	for _, v := range []float64{3, 2, 0} {
		test.That(t, d.SetVoltage(units.Volts(v)), test.ShouldBeNil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	test.That(t, errors.Is(b.Run(ctx), context.Canceled), test.ShouldBeTrue)
	test.That(t, w.count(), test.ShouldEqual, 3)
	test.That(t, len(b.txq), test.ShouldEqual, 0)

	_, _, values, err := b.cmap.DecodeDeviceFrame(w.frames[2])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, values["output_v"], test.ShouldAlmostEqual, 0, 1e-3)
}

func TestCloseCombinesErrors(t *testing.T) {
	b, w, r := newTestBus(t)
	r.err = errors.New("reader stuck")

	err := b.Close()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "reader stuck")
	test.That(t, w.closed, test.ShouldBeTrue)
}
