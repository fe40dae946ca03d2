package ivindex

import (
	"errors"
	"testing"
	"time"

	"github.com/pion/logging"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestCanOverwrite(t *testing.T) {
	normal := func(i uint32) IvIndex { return IvIndex{Index: i} }
	active := func(i uint32) IvIndex { return IvIndex{Index: i, UpdateActive: true} }

	tests := []struct {
		name      string
		candidate IvIndex
		current   IvIndex
		elapsed   time.Duration
		unknown   bool
		opts      Options
		want      bool
	}{
		{"same state", normal(5), normal(5), 0, false, Options{}, true},
		{"lower index", normal(4), normal(5), 1000 * time.Hour, false, Options{}, false},
		{"lower index active", active(4), active(5), 1000 * time.Hour, false, Options{}, false},
		{"normal to active same index", active(5), normal(5), 1000 * time.Hour, false, Options{}, false},
		{"start update early", active(6), normal(5), 95 * time.Hour, false, Options{}, false},
		{"start update", active(6), normal(5), 96 * time.Hour, false, Options{}, true},
		{"finish update early", normal(6), active(6), 95 * time.Hour, false, Options{}, false},
		{"finish update", normal(6), active(6), 96 * time.Hour, false, Options{}, true},
		{"test mode single step", active(6), normal(5), 0, false, Options{TestMode: true}, true},
		{"test mode two steps", normal(6), normal(5), 0, false, Options{TestMode: true}, false},
		{"test mode two steps elapsed", normal(6), normal(5), 96 * time.Hour, false, Options{TestMode: true}, true},
		{"after recovery", normal(6), active(6), 0, false, Options{IvRecovery: true}, true},
		{"two steps", normal(6), normal(5), 191 * time.Hour, false, Options{}, false},
		{"two steps elapsed", normal(6), normal(5), 192 * time.Hour, false, Options{}, true},
		{"jump 10", normal(15), normal(5), 20 * 96 * time.Hour, false, Options{}, true},
		{"jump 10 early", normal(15), normal(5), 19 * 96 * time.Hour, false, Options{}, false},
		{"unknown last transition", normal(40), normal(5), 0, true, Options{}, true},
		{"jump 42", normal(47), normal(5), 0, true, Options{}, true},
		{"jump 43", normal(48), normal(5), 0, true, Options{}, false},
		{"jump 43 years later", normal(48), normal(5), 100000 * time.Hour, false, Options{}, false},
		{"jump 43 allowed", normal(48), normal(5), 0, true, Options{AllowRecoveryOver42: true}, true},
		{"jump 43 allowed early", normal(48), normal(5), 96 * time.Hour, false, Options{AllowRecoveryOver42: true}, false},
		{"huge jump allowed", normal(0xFFFFFFF0), normal(5), 1000 * time.Hour, false, Options{AllowRecoveryOver42: true}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			last := t0
			if tc.unknown {
				last = time.Time{}
			}
			if got := CanOverwrite(tc.candidate, tc.current, last, t0.Add(tc.elapsed), tc.opts); got != tc.want {
				t.Errorf("CanOverwrite(%s over %s, %v) = %v, want %v", tc.candidate, tc.current, tc.elapsed, got, tc.want)
			}
		})
	}
}

// An index lower than current with the same phase is never accepted, and a
// jump above 42 never without AllowRecoveryOver42, however long ago the last
// transition was.
func TestCanOverwriteMonotonic(t *testing.T) {
	for _, active := range []bool{false, true} {
		for cur := uint32(1); cur < 100; cur += 7 {
			for cand := uint32(0); cand < cur; cand++ {
				if CanOverwrite(IvIndex{cand, active}, IvIndex{cur, active}, t0, t0.Add(1e6*time.Hour), Options{TestMode: true, IvRecovery: true}) {
					t.Fatalf("accepted %d over %d (active=%v)", cand, cur, active)
				}
			}
			for jump := uint32(MaxRecoveryJump + 1); jump < 60; jump++ {
				if CanOverwrite(IvIndex{cur + jump, active}, IvIndex{cur, active}, t0, t0.Add(1e6*time.Hour), Options{}) {
					t.Fatalf("accepted jump of %d", jump)
				}
			}
		}
	}
}

func TestTransmitAndReceiveIndex(t *testing.T) {
	iv := IvIndex{Index: 0x12345679, UpdateActive: true}
	if iv.TransmitIndex() != 0x12345678 {
		t.Errorf("TransmitIndex = %#x", iv.TransmitIndex())
	}
	if (IvIndex{Index: 7}).TransmitIndex() != 7 {
		t.Error("normal TransmitIndex")
	}
	if iv.ReceiveIndex(0) != 0x12345678 || iv.ReceiveIndex(1) != 0x12345679 {
		t.Errorf("ReceiveIndex = %#x / %#x", iv.ReceiveIndex(0), iv.ReceiveIndex(1))
	}
}

func TestStateApply(t *testing.T) {
	s := NewState(StateConfig{
		Initial:        IvIndex{Index: 5},
		LastTransition: t0,
		LoggerFactory:  logging.NewDefaultLoggerFactory(),
	})

	if _, err := s.Apply(IvIndex{Index: 6, UpdateActive: true}, t0.Add(time.Hour)); !errors.Is(err, ErrIvIndexRejected) {
		t.Fatalf("early update: err = %v", err)
	}
	changed, err := s.Apply(IvIndex{Index: 6, UpdateActive: true}, t0.Add(96*time.Hour))
	if err != nil || !changed {
		t.Fatalf("update: %v %v", changed, err)
	}
	if s.LastTransition() != t0.Add(96*time.Hour) {
		t.Errorf("LastTransition = %v", s.LastTransition())
	}

	changed, err = s.Apply(IvIndex{Index: 6, UpdateActive: true}, t0.Add(100*time.Hour))
	if err != nil || changed {
		t.Errorf("repeat: %v %v", changed, err)
	}
	if _, err := s.Apply(IvIndex{Index: 5}, t0.Add(1000*time.Hour)); !errors.Is(err, ErrIvIndexRejected) {
		t.Errorf("going back: err = %v", err)
	}
	if cur := s.Current(); cur != (IvIndex{Index: 6, UpdateActive: true}) {
		t.Errorf("Current = %s", cur)
	}
}

func TestStateRecoveryShortensNextStep(t *testing.T) {
	s := NewState(StateConfig{Initial: IvIndex{Index: 5}, LastTransition: t0})

	// Normal(5) -> Update(10): 9 steps.
	at := t0.Add(9 * MinStateDuration)
	if _, err := s.Apply(IvIndex{Index: 10, UpdateActive: true}, at); err != nil {
		t.Fatal(err)
	}
	// Finishing the update right away is allowed once after a recovery.
	if _, err := s.Apply(IvIndex{Index: 10}, at); err != nil {
		t.Fatalf("finish after recovery: %v", err)
	}
	if _, err := s.Apply(IvIndex{Index: 11, UpdateActive: true}, at.Add(time.Hour)); !errors.Is(err, ErrIvIndexRejected) {
		t.Errorf("next step: err = %v", err)
	}
}
