package xkop

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	FrameSize  = 17
	MaxRecords = 4

	SyncByte1 = 0xCA
	SyncByte2 = 0x35

	// EmptyIndex marks an unused record slot (value 0x0000).
	EmptyIndex = 0xFF

	headerSize  = 3
	recordSize  = 3
	payloadSize = FrameSize - 2
)

type FrameType uint8

const (
	TypeData  FrameType = 0x00
	TypeTime  FrameType = 0x01 // reserved
	TypeAlive FrameType = 0x02
)

func (t FrameType) String() string {
	switch t {
	case TypeData:
		return "DATA"
	case TypeTime:
		return "TIME"
	case TypeAlive:
		return "ALIVE"
	default:
		return fmt.Sprintf("0x%02X", uint8(t))
	}
}

var (
	ErrInvalidFrame = errors.New("xkop: invalid frame")
	ErrFrameLength  = fmt.Errorf("%w: wrong length", ErrInvalidFrame)
	ErrSync         = fmt.Errorf("%w: bad sync bytes", ErrInvalidFrame)
	ErrReservedType = fmt.Errorf("%w: reserved frame type", ErrInvalidFrame)
	ErrUnknownType  = fmt.Errorf("%w: unknown frame type", ErrInvalidFrame)
	ErrCRCMismatch  = fmt.Errorf("%w: crc mismatch", ErrInvalidFrame)
)

// Record is one (index, value) pair carried in a frame slot.
type Record struct {
	Index uint8  `json:"idx"`
	Value uint16 `json:"value"`
}

// NewRecord truncates index to 8 bits and value to 16 bits.
func NewRecord(index, value int) Record {
	return Record{Index: uint8(index & 0xFF), Value: uint16(value & 0xFFFF)}
}

func (r Record) String() string {
	return fmt.Sprintf("(%d,%d)", r.Index, r.Value)
}

// Frame is a complete 17-byte wire frame.
type Frame [FrameSize]byte

// Build encodes up to four records into a DATA frame. Records past the
// fourth are ignored; use Batch for longer lists.
func Build(records []Record) Frame {
	return build(TypeData, records)
}

// BuildAlive returns a keep-alive frame with every slot empty.
func BuildAlive() Frame {
	return build(TypeAlive, nil)
}

func build(t FrameType, records []Record) Frame {
	var f Frame
	f[0] = SyncByte1
	f[1] = SyncByte2
	f[2] = byte(t)

	for slot := 0; slot < MaxRecords; slot++ {
		off := headerSize + slot*recordSize
		if slot < len(records) {
			f[off] = records[slot].Index
			binary.BigEndian.PutUint16(f[off+1:off+3], records[slot].Value)
			continue
		}
		f[off] = EmptyIndex
	}

	binary.BigEndian.PutUint16(f[payloadSize:], CRC16(f[:payloadSize]))
	return f
}

// Batch splits records into DATA frames of at most four records each.
func Batch(records []Record) []Frame {
	frames := make([]Frame, 0, (len(records)+MaxRecords-1)/MaxRecords)
	for i := 0; i < len(records); i += MaxRecords {
		end := i + MaxRecords
		if end > len(records) {
			end = len(records)
		}
		frames = append(frames, Build(records[i:end]))
	}
	return frames
}

// Parse validates a frame and returns its non-empty records. ALIVE frames
// carry no records.
func Parse(b []byte) ([]Record, error) {
	if len(b) != FrameSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrFrameLength, len(b))
	}
	if b[0] != SyncByte1 || b[1] != SyncByte2 {
		return nil, fmt.Errorf("%w: %02X %02X", ErrSync, b[0], b[1])
	}

	t := FrameType(b[2])
	switch t {
	case TypeData, TypeAlive:
	case TypeTime:
		return nil, fmt.Errorf("%w: %s", ErrReservedType, t)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}

	want := binary.BigEndian.Uint16(b[payloadSize:])
	if got := CRC16(b[:payloadSize]); got != want {
		return nil, fmt.Errorf("%w: computed 0x%04X, frame carries 0x%04X", ErrCRCMismatch, got, want)
	}

	if t == TypeAlive {
		return []Record{}, nil
	}

	records := make([]Record, 0, MaxRecords)
	for slot := 0; slot < MaxRecords; slot++ {
		off := headerSize + slot*recordSize
		if b[off] == EmptyIndex {
			continue
		}
		records = append(records, Record{
			Index: b[off],
			Value: binary.BigEndian.Uint16(b[off+1 : off+3]),
		})
	}
	return records, nil
}

// Bytes returns a copy of the frame as a slice.
func (f Frame) Bytes() []byte {
	out := make([]byte, FrameSize)
	copy(out, f[:])
	return out
}

// String renders the frame as space separated upper-case hex.
func (f Frame) String() string {
	var sb strings.Builder
	for i, b := range f {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

// ParseHex decodes hex text (spaces and colons allowed) into raw bytes.
func ParseHex(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "\t", "", "\n", "").Replace(s)
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	out, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return out, nil
}
