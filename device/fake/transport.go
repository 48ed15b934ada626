// Package fake provides an in-memory device.Transport that records every request.
package fake

import (
	"fmt"
	"sync"

	"lift-control-core/device"
	"lift-control-core/units"
)

// Call is one recorded transport request.
type Call struct {
	Method string
	Args   []any
}

func (c Call) String() string {
	return fmt.Sprintf("%s%v", c.Method, c.Args)
}

// Transport records requests and serves reads from values set by the test.
type Transport struct {
	mu        sync.Mutex
	calls     []Call
	values    map[device.Signal]float64
	connected bool
	err       error
}

// NewTransport returns a connected transport with every signal at zero.
func NewTransport() *Transport {
	return &Transport{values: map[device.Signal]float64{}, connected: true}
}

func (t *Transport) record(method string, args ...any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, Call{Method: method, Args: args})
	return t.err
}

// Calls returns a copy of the recorded requests.
func (t *Transport) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Call(nil), t.calls...)
}

// Methods returns the recorded method names in order.
func (t *Transport) Methods() []string {
	calls := t.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Method
	}
	return out
}

// Last returns the most recent call to method.
func (t *Transport) Last(method string) (Call, bool) {
	calls := t.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Method == method {
			return calls[i], true
		}
	}
	return Call{}, false
}

// Reset forgets recorded calls.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = nil
}

// Set stores the value the next Read of sig returns.
func (t *Transport) Set(sig device.Signal, v float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values[sig] = v
}

func (t *Transport) SetConnected(connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = connected
}

// FailWith makes every subsequent request return err.
func (t *Transport) FailWith(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

func (t *Transport) ApplyConfiguration(cfg device.Configuration) error {
	return t.record("ApplyConfiguration", cfg)
}

func (t *Transport) ClearStickyFaults() error {
	return t.record("ClearStickyFaults")
}

func (t *Transport) SetUpdateFrequency(sig device.Signal, rate units.Frequency) error {
	return t.record("SetUpdateFrequency", sig, rate)
}

func (t *Transport) OptimizeBusUtilization() error {
	return t.record("OptimizeBusUtilization")
}

func (t *Transport) Read(sig device.Signal) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.values[sig]
}

func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) SetVoltage(v units.Voltage) error {
	return t.record("SetVoltage", v)
}

func (t *Transport) SetPosition(position units.Angle) error {
	return t.record("SetPosition", position)
}

func (t *Transport) Follow(leader device.ID, opposeLeader bool) error {
	return t.record("Follow", leader, opposeLeader)
}

func (t *Transport) SetNeutralMode(mode device.NeutralMode) error {
	return t.record("SetNeutralMode", mode)
}

var _ device.Transport = (*Transport)(nil)
