package schedule

import (
	"errors"
	"testing"

	"github.com/backkem/btmesh/pkg/access"
)

func TestEntryRoundTrip(t *testing.T) {
	entries := []Entry{
		{},
		{Index: 15, Year: AnyYear, Month: 0xFFF, Day: 31, Hour: RandomHour, Minute: RandomMinute,
			Second: RandomSecond, DayOfWeek: 0x7F, Action: ActionSceneRecall, TransitionTime: 0xFF, Scene: 0xFFFF},
		{Index: 3, Year: 24, Month: 1 << 5, Day: 14, Hour: 7, Minute: 30, Second: 0,
			DayOfWeek: 0x1F, Action: ActionTurnOn, TransitionTime: 0x41},
		{Index: 1, Year: AnyYear, Hour: AnyHour, Minute: Every15Minutes, Second: AnySecond, Action: ActionNone},
	}
	for _, e := range entries {
		b, err := e.Encode()
		if err != nil {
			t.Fatalf("%+v: %v", e, err)
		}
		if len(b) != EntrySize {
			t.Fatalf("len = %d", len(b))
		}
		got, err := Decode(b)
		if err != nil {
			t.Fatal(err)
		}
		if got != e {
			t.Errorf("round trip = %+v, want %+v", got, e)
		}
	}
}

func TestEntryBitLayout(t *testing.T) {
	b, err := Entry{Index: 0x5, Year: 0x01, Scene: 0x1234, Action: ActionSceneRecall}.Encode()
	if err != nil {
		t.Fatal(err)
	}
	// Index in the low nibble of byte 0, Year starting at bit 4.
	if b[0] != 0x15 {
		t.Errorf("byte 0 = %#x, want 0x15", b[0])
	}
	// Scene is the last 16 bits.
	if b[8] != 0x34 || b[9] != 0x12 {
		t.Errorf("scene bytes = %x", b[8:])
	}
	// Action occupies bits 52-55: high nibble of byte 6.
	if b[6]>>4 != uint8(ActionSceneRecall) {
		t.Errorf("action nibble = %#x", b[6]>>4)
	}
}

func TestEntryValidation(t *testing.T) {
	tests := []struct {
		name string
		e    Entry
		want error
	}{
		{"index", Entry{Index: 16}, ErrInvalidEntry},
		{"year", Entry{Year: 0x65}, ErrInvalidEntry},
		{"month", Entry{Month: 0x1000}, ErrInvalidEntry},
		{"hour", Entry{Hour: 0x1A}, ErrInvalidEntry},
		{"minute", Entry{Minute: 0x40}, ErrInvalidEntry},
		{"day of week", Entry{DayOfWeek: 0x80}, ErrInvalidEntry},
		{"action", Entry{Action: 0x3}, ErrInvalidEntry},
		{"scene zero", Entry{Action: ActionSceneRecall}, ErrInvalidScene},
	}
	for _, tc := range tests {
		if _, err := tc.e.Encode(); !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}

	for _, scene := range []uint16{0x0001, 0x8000, 0xFFFF} {
		if err := (Entry{Action: ActionSceneRecall, Scene: scene}).Validate(); err != nil {
			t.Errorf("scene %#x rejected: %v", scene, err)
		}
	}
	if _, err := Decode(make([]byte, 9)); !errors.Is(err, ErrEntrySize) {
		t.Errorf("short: err = %v", err)
	}
}

func TestMessages(t *testing.T) {
	e := Entry{Index: 2, Year: AnyYear, Hour: 12, Action: ActionTurnOff}
	msg, err := SetMessage(access.Header{Src: 1, Dst: 2}, e)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Opcode != access.OpSchedulerActionSet || len(msg.Parameters) != EntrySize {
		t.Fatalf("message = %s %x", msg.Opcode, msg.Parameters)
	}

	status := &access.AccessMessage{Opcode: access.OpSchedulerActionStatus, Parameters: msg.Parameters}
	got, err := ParseStatus(status)
	if err != nil || got != e {
		t.Errorf("ParseStatus = %+v, %v", got, err)
	}
	if _, err := ParseStatus(msg); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("wrong opcode: err = %v", err)
	}
}
