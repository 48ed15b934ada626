package utils

import (
	"context"
	"sort"

	"go.einride.tech/can"
)

// DeviceNumberBits is the width of the device number carried in the low bits of every
// addressed frame's arbitration ID.
const DeviceNumberBits = 6

const deviceNumberMask = (1 << DeviceNumberBits) - 1

// Signal byte orders accepted in a frame map.
const (
	EndianLittle = "little"
	EndianBig    = "big"
)

// Frame directions, seen from the host.
const (
	DirectionTx = "tx"
	DirectionRx = "rx"
)

// CANReader receives frames from one interface.
type CANReader interface {
	ReadFrame(ctx context.Context) (can.Frame, error)
	Close() error
}

// CANWriter transmits frames on one interface.
type CANWriter interface {
	WriteFrame(ctx context.Context, frame can.Frame) error
	Close() error
}

// SignalDef places one physical value in a frame: raw = (value - Offset) / Factor.
type SignalDef struct {
	Name       string
	StartBit   int
	BitLength  int
	Endianness string
	Signed     bool
	Factor     float64
	Offset     float64
	Min        float64
	Max        float64
	Default    float64
	Unit       string
	Comment    string
}

// FrameDef is one frame layout. ID is the base arbitration ID; the device number is OR-ed into its
// low bits.
type FrameDef struct {
	ID        uint32
	Name      string
	DLC       int
	Direction string
	CycleMS   int
	Signals   []SignalDef
}

// Signal looks up a signal definition by name.
func (fd *FrameDef) Signal(name string) (SignalDef, bool) {
	for _, s := range fd.Signals {
		if s.Name == name {
			return s, true
		}
	}
	return SignalDef{}, false
}

// CANMap indexes frame layouts by base ID and by name.
type CANMap struct {
	ByID   map[uint32]*FrameDef
	ByName map[string]*FrameDef
}

// FrameNames lists every frame, sorted.
func (m *CANMap) FrameNames() []string {
	out := make([]string, 0, len(m.ByName))
	for k := range m.ByName {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ArbitrationID addresses a frame to one device.
func ArbitrationID(base uint32, device uint8) uint32 {
	return base&^deviceNumberMask | uint32(device)&deviceNumberMask
}

// SplitArbitrationID separates an arbitration ID into frame base and device number.
func SplitArbitrationID(id uint32) (base uint32, device uint8) {
	return id &^ deviceNumberMask, uint8(id & deviceNumberMask)
}
