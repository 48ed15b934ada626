package utils

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

//go:embed can_maps/motor_map.csv
var defaultMotorMap []byte

// DefaultMotorMap returns the built-in motor controller frame map.
func DefaultMotorMap() (*CANMap, error) {
	return ParseCANMap(bytes.NewReader(defaultMotorMap))
}

// LoadCANMap reads a frame map from csvPath. An empty path selects the built-in motor map.
func LoadCANMap(csvPath string) (*CANMap, error) {
	if csvPath == "" {
		return DefaultMotorMap()
	}
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, errors.Wrap(err, "open can map")
	}
	defer f.Close()

	m, err := ParseCANMap(f)
	if err != nil {
		return nil, errors.Wrap(err, csvPath)
	}
	return m, nil
}

var mapColumns = []string{
	"direction", "frame_id", "frame_name", "cycle_ms", "dlc",
	"signal_name", "start_bit", "bit_length", "endianness",
	"signed", "factor", "offset", "min", "max", "default", "unit", "comment",
}

// mapRow reads typed fields from one CSV record, keeping the first parse error per field.
type mapRow struct {
	line   int
	record []string
	cols   map[string]int
	err    error
}

func (r *mapRow) str(col string) string {
	return strings.TrimSpace(r.record[r.cols[col]])
}

func (r *mapRow) fail(col string, err error) {
	r.err = multierr.Append(r.err, errors.Wrapf(err, "line %d column %s", r.line, col))
}

func (r *mapRow) int(col string) int {
	v, err := strconv.Atoi(r.str(col))
	if err != nil {
		r.fail(col, err)
	}
	return v
}

func (r *mapRow) float(col string) float64 {
	v, err := strconv.ParseFloat(r.str(col), 64)
	if err != nil {
		r.fail(col, err)
	}
	return v
}

func (r *mapRow) bool(col string) bool {
	switch strings.ToLower(r.str(col)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no", "":
		return false
	default:
		r.fail(col, errors.Errorf("not a boolean: %q", r.str(col)))
		return false
	}
}

// id accepts decimal or 0x-prefixed hex.
func (r *mapRow) id(col string) uint32 {
	v, err := strconv.ParseUint(r.str(col), 0, 32)
	if err != nil {
		r.fail(col, err)
	}
	return uint32(v)
}

// ParseCANMap parses the CSV frame map format: one row per signal, rows grouped into frames by frame_id.
func ParseCANMap(src io.Reader) (*CANMap, error) {
	r := csv.NewReader(src)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}
	for _, k := range mapColumns {
		if _, ok := cols[k]; !ok {
			return nil, errors.Errorf("can map missing required column %q", k)
		}
	}

	m := &CANMap{
		ByID:   map[uint32]*FrameDef{},
		ByName: map[string]*FrameDef{},
	}
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row := &mapRow{line: line, record: rec, cols: cols}
		if err := m.addRow(row); err != nil {
			return nil, err
		}
	}

	for _, fd := range m.ByID {
		sort.Slice(fd.Signals, func(i, j int) bool { return fd.Signals[i].StartBit < fd.Signals[j].StartBit })
	}
	return m, nil
}

func (m *CANMap) addRow(row *mapRow) error {
	frameID := row.id("frame_id")
	name := row.str("frame_name")
	direction := row.str("direction")
	dlc := row.int("dlc")
	cycle := row.int("cycle_ms")
	sig := SignalDef{
		Name:       row.str("signal_name"),
		StartBit:   row.int("start_bit"),
		BitLength:  row.int("bit_length"),
		Endianness: row.str("endianness"),
		Signed:     row.bool("signed"),
		Factor:     row.float("factor"),
		Offset:     row.float("offset"),
		Min:        row.float("min"),
		Max:        row.float("max"),
		Default:    row.float("default"),
		Unit:       row.str("unit"),
		Comment:    row.str("comment"),
	}
	if row.err != nil {
		return row.err
	}
	if sig.Endianness == "" {
		sig.Endianness = EndianLittle
	}

	switch {
	case direction != DirectionTx && direction != DirectionRx:
		return errors.Errorf("line %d: frame %s: direction must be tx or rx, got %q", row.line, name, direction)
	case sig.Endianness != EndianLittle && sig.Endianness != EndianBig:
		return errors.Errorf("line %d: signal %s: unsupported endianness %q", row.line, sig.Name, sig.Endianness)
	case sig.BitLength <= 0 || sig.BitLength > 64:
		return errors.Errorf("line %d: signal %s: invalid bit_length %d", row.line, sig.Name, sig.BitLength)
	case sig.Factor == 0:
		return errors.Errorf("line %d: signal %s: factor must be non-zero", row.line, sig.Name)
	case dlc <= 0 || dlc > 8:
		return errors.Errorf("line %d: frame %s (0x%X): invalid dlc %d", row.line, name, frameID, dlc)
	case frameID&deviceNumberMask != 0:
		return errors.Errorf("line %d: frame %s (0x%X): low %d bits are reserved for the device number",
			row.line, name, frameID, DeviceNumberBits)
	case sig.StartBit < 0 || sig.StartBit >= dlc*8:
		return errors.Errorf("line %d: signal %s: start_bit %d outside dlc %d", row.line, sig.Name, sig.StartBit, dlc)
	case sig.Endianness == EndianLittle && sig.StartBit+sig.BitLength > dlc*8:
		return errors.Errorf("line %d: signal %s: bits %d..%d exceed dlc %d",
			row.line, sig.Name, sig.StartBit, sig.StartBit+sig.BitLength-1, dlc)
	}

	fd, ok := m.ByID[frameID]
	if !ok {
		if _, taken := m.ByName[name]; taken {
			return errors.Errorf("line %d: frame name %s reused for 0x%X", row.line, name, frameID)
		}
		fd = &FrameDef{ID: frameID, Name: name, DLC: dlc, Direction: direction, CycleMS: cycle}
		m.ByID[frameID] = fd
		m.ByName[name] = fd
	}
	if fd.DLC != dlc {
		return errors.Errorf("line %d: frame %s (0x%X) has inconsistent dlc (%d vs %d)", row.line, name, frameID,
			fd.DLC, dlc)
	}
	if _, dup := fd.Signal(sig.Name); dup {
		return errors.Errorf("line %d: frame %s defines signal %s twice", row.line, name, sig.Name)
	}
	fd.Signals = append(fd.Signals, sig)
	return nil
}

// FrameByName looks up a frame layout by name.
func (m *CANMap) FrameByName(name string) (*FrameDef, error) {
	fd, ok := m.ByName[name]
	if !ok {
		return nil, errors.Errorf("unknown frame %q (available: %v)", name, m.FrameNames())
	}
	return fd, nil
}

// FrameByID looks up a frame layout by base arbitration ID.
func (m *CANMap) FrameByID(id uint32) (*FrameDef, error) {
	fd, ok := m.ByID[id]
	if !ok {
		return nil, errors.Errorf("unknown frame id 0x%X", id)
	}
	return fd, nil
}
