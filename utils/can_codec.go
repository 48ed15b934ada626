package utils

import (
	"math"

	"github.com/pkg/errors"
	"go.einride.tech/can"
)

// EncodeDeviceFrame encodes frameName addressed to a single device number. Values are clamped to the
// signal's physical range and then to what its bit field can hold; omitted signals take their default.
func (m *CANMap) EncodeDeviceFrame(frameName string, device uint8, values map[string]float64) (can.Frame, error) {
	fd, err := m.FrameByName(frameName)
	if err != nil {
		return can.Frame{}, err
	}

	var data can.Data
	for _, s := range fd.Signals {
		v, ok := values[s.Name]
		if !ok {
			v = s.Default
		}
		v = math.Min(math.Max(v, s.Min), s.Max)
		s.put(&data, int64(math.Round((v-s.Offset)/s.Factor)))
	}

	id := ArbitrationID(fd.ID, device)
	return can.Frame{
		ID:         id,
		IsExtended: id > can.MaxID,
		Length:     uint8(fd.DLC),
		Data:       data,
	}, nil
}

// DecodeDeviceFrame resolves an addressed frame and decodes its signals into physical values.
func (m *CANMap) DecodeDeviceFrame(frame can.Frame) (fd *FrameDef, device uint8, values map[string]float64, err error) {
	base, device := SplitArbitrationID(frame.ID)
	fd, err = m.FrameByID(base)
	if err != nil {
		return nil, 0, nil, err
	}
	if int(frame.Length) < fd.DLC {
		return nil, 0, nil, errors.Errorf("frame %s (0x%X) expects dlc %d, got %d", fd.Name, frame.ID, fd.DLC,
			frame.Length)
	}

	values = make(map[string]float64, len(fd.Signals))
	for _, s := range fd.Signals {
		values[s.Name] = float64(s.get(&frame.Data))*s.Factor + s.Offset
	}
	return fd, device, values, nil
}

// rawRange is the integer range the signal's bit field can represent.
func (s SignalDef) rawRange() (lo, hi int64) {
	n := uint(s.BitLength)
	if s.Signed {
		if n >= 64 {
			return math.MinInt64, math.MaxInt64
		}
		return -1 << (n - 1), 1<<(n-1) - 1
	}
	if n >= 63 {
		return 0, math.MaxInt64
	}
	return 0, 1<<n - 1
}

func (s SignalDef) put(d *can.Data, raw int64) {
	lo, hi := s.rawRange()
	raw = min(max(raw, lo), hi)

	start, length := uint8(s.StartBit), uint8(s.BitLength)
	switch {
	case s.bigEndian() && s.Signed:
		d.SetSignedBitsBigEndian(start, length, raw)
	case s.bigEndian():
		d.SetUnsignedBitsBigEndian(start, length, uint64(raw))
	case s.Signed:
		d.SetSignedBitsLittleEndian(start, length, raw)
	default:
		d.SetUnsignedBitsLittleEndian(start, length, uint64(raw))
	}
}

func (s SignalDef) get(d *can.Data) int64 {
	start, length := uint8(s.StartBit), uint8(s.BitLength)
	switch {
	case s.bigEndian() && s.Signed:
		return d.SignedBitsBigEndian(start, length)
	case s.bigEndian():
		return int64(d.UnsignedBitsBigEndian(start, length))
	case s.Signed:
		return d.SignedBitsLittleEndian(start, length)
	default:
		return int64(d.UnsignedBitsLittleEndian(start, length))
	}
}

func (s SignalDef) bigEndian() bool { return s.Endianness == EndianBig }
