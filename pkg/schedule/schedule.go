// Package schedule encodes Scheduler Register entries, the bit-packed
// parameters of Scheduler Action Get/Set/Status messages.
package schedule

import (
	"errors"
	"fmt"

	"github.com/backkem/btmesh/pkg/access"
	"github.com/backkem/btmesh/pkg/codec"
)

// EntrySize is the encoded size of an entry (80 bits).
const EntrySize = 10

// Field widths in bits, in wire order.
const (
	indexBits          = 4
	yearBits           = 7
	monthBits          = 12
	dayBits            = 5
	hourBits           = 5
	minuteBits         = 6
	secondBits         = 6
	dayOfWeekBits      = 7
	actionBits         = 4
	transitionTimeBits = 8
	sceneBits          = 16
)

// Special field values.
const (
	AnyYear         = 0x64
	AnyDay          = 0x00
	AnyHour         = 0x18
	RandomHour      = 0x19
	AnyMinute       = 0x3C
	Every15Minutes  = 0x3D
	Every20Minutes  = 0x3E
	RandomMinute    = 0x3F
	AnySecond       = 0x3C
	Every15Seconds  = 0x3D
	Every20Seconds  = 0x3E
	RandomSecond    = 0x3F
	MaxRegisterSize = 16
)

// Action is the scheduled action.
type Action uint8

// Scheduler actions.
const (
	ActionTurnOff     Action = 0x0
	ActionTurnOn      Action = 0x1
	ActionSceneRecall Action = 0x2
	ActionNone        Action = 0xF
)

// Errors returned by Validate and Decode.
var (
	ErrInvalidEntry = errors.New("schedule: invalid entry")
	ErrInvalidScene = errors.New("schedule: scene number must be 0x0001-0xFFFF")
	ErrEntrySize    = errors.New("schedule: entry must be 10 bytes")
)

// Entry is one Scheduler Register entry.
type Entry struct {
	Index          uint8
	Year           uint8
	Month          uint16 // bit n = month n+1
	Day            uint8
	Hour           uint8
	Minute         uint8
	Second         uint8
	DayOfWeek      uint8 // bit 0 = Monday
	Action         Action
	TransitionTime uint8
	Scene          uint16
}

// Validate checks every field against its allowed values.
func (e Entry) Validate() error {
	switch {
	case e.Index >= MaxRegisterSize:
		return fmt.Errorf("%w: index %d", ErrInvalidEntry, e.Index)
	case e.Year > AnyYear:
		return fmt.Errorf("%w: year %#x", ErrInvalidEntry, e.Year)
	case e.Month>>monthBits != 0:
		return fmt.Errorf("%w: month %#x", ErrInvalidEntry, e.Month)
	case e.Day > 31:
		return fmt.Errorf("%w: day %d", ErrInvalidEntry, e.Day)
	case e.Hour > RandomHour:
		return fmt.Errorf("%w: hour %#x", ErrInvalidEntry, e.Hour)
	case e.Minute > RandomMinute:
		return fmt.Errorf("%w: minute %#x", ErrInvalidEntry, e.Minute)
	case e.Second > RandomSecond:
		return fmt.Errorf("%w: second %#x", ErrInvalidEntry, e.Second)
	case e.DayOfWeek>>dayOfWeekBits != 0:
		return fmt.Errorf("%w: day of week %#x", ErrInvalidEntry, e.DayOfWeek)
	}
	switch e.Action {
	case ActionTurnOff, ActionTurnOn, ActionNone:
	case ActionSceneRecall:
		if e.Scene == 0 {
			return ErrInvalidScene
		}
	default:
		return fmt.Errorf("%w: action %#x", ErrInvalidEntry, uint8(e.Action))
	}
	return nil
}

// Encode packs the entry, least significant bit first.
func (e Entry) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	w := codec.NewBitWriter()
	fields := []struct {
		v uint64
		n int
	}{
		{uint64(e.Index), indexBits},
		{uint64(e.Year), yearBits},
		{uint64(e.Month), monthBits},
		{uint64(e.Day), dayBits},
		{uint64(e.Hour), hourBits},
		{uint64(e.Minute), minuteBits},
		{uint64(e.Second), secondBits},
		{uint64(e.DayOfWeek), dayOfWeekBits},
		{uint64(e.Action), actionBits},
		{uint64(e.TransitionTime), transitionTimeBits},
		{uint64(e.Scene), sceneBits},
	}
	for _, f := range fields {
		if err := w.Write(f.v, f.n); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
		}
	}
	return w.Bytes(), nil
}

// Decode unpacks and validates an entry.
func Decode(b []byte) (Entry, error) {
	var e Entry
	if len(b) != EntrySize {
		return e, ErrEntrySize
	}
	r := codec.NewBitReader(b)
	read := func(n int) uint64 {
		v, _ := r.Read(n)
		return v
	}
	e.Index = uint8(read(indexBits))
	e.Year = uint8(read(yearBits))
	e.Month = uint16(read(monthBits))
	e.Day = uint8(read(dayBits))
	e.Hour = uint8(read(hourBits))
	e.Minute = uint8(read(minuteBits))
	e.Second = uint8(read(secondBits))
	e.DayOfWeek = uint8(read(dayOfWeekBits))
	e.Action = Action(read(actionBits))
	e.TransitionTime = uint8(read(transitionTimeBits))
	e.Scene = uint16(read(sceneBits))
	return e, e.Validate()
}

// SetMessage builds a Scheduler Action Set access message for e.
func SetMessage(hdr access.Header, e Entry) (*access.AccessMessage, error) {
	params, err := e.Encode()
	if err != nil {
		return nil, err
	}
	return &access.AccessMessage{Header: hdr, Opcode: access.OpSchedulerActionSet, Parameters: params}, nil
}

// ParseStatus decodes the entry of a Scheduler Action Status message.
func ParseStatus(msg *access.AccessMessage) (Entry, error) {
	if msg.Opcode != access.OpSchedulerActionStatus {
		return Entry{}, fmt.Errorf("%w: opcode %s", ErrInvalidEntry, msg.Opcode)
	}
	return Decode(msg.Parameters)
}
