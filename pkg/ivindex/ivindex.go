// Package ivindex tracks the network IV index and the IV Update procedure
// driven by Secure Network Beacons.
//
// The IV index moves through two states: Normal and IV Update in progress.
// Each move between them is one step; a node must stay at least 96 hours in
// a state before taking the next step, and may jump forward by at most 42
// indexes unless IV index recovery beyond that is allowed.
package ivindex

import (
	"fmt"
	"time"
)

// MinStateDuration is the minimum dwell time between two IV Update steps.
const MinStateDuration = 96 * time.Hour

// MaxRecoveryJump bounds how far a beacon may move the IV index forward.
const MaxRecoveryJump = 42

// IvIndex is the IV index and the IV Update flag.
type IvIndex struct {
	Index        uint32
	UpdateActive bool
}

// TransmitIndex returns the index used for outgoing PDUs: during an IV
// Update the node keeps transmitting with the old index.
func (iv IvIndex) TransmitIndex() uint32 {
	if iv.UpdateActive && iv.Index > 0 {
		return iv.Index - 1
	}
	return iv.Index
}

// ReceiveIndex returns the index to use for an incoming PDU with IVI bit ivi.
func (iv IvIndex) ReceiveIndex(ivi uint8) uint32 {
	if uint32(ivi&1) == iv.Index&1 || iv.Index == 0 {
		return iv.Index
	}
	return iv.Index - 1
}

// String formats the index and state.
func (iv IvIndex) String() string {
	if iv.UpdateActive {
		return fmt.Sprintf("%d (IV Update in progress)", iv.Index)
	}
	return fmt.Sprintf("%d (Normal)", iv.Index)
}

// Options tune CanOverwrite.
type Options struct {
	// IvRecovery is set when the last transition was an IV index recovery;
	// the next step then needs one fewer 96-hour period.
	IvRecovery bool

	// TestMode waives the 96-hour dwell time for a single step.
	TestMode bool

	// AllowRecoveryOver42 lifts the 42-index cap on forward jumps.
	AllowRecoveryOver42 bool
}

// CanOverwrite reports whether candidate may replace current.
//
// The candidate must be ahead of current: a higher index, or the same index
// leaving the IV Update state. Jumps are capped at MaxRecoveryJump. When the
// time of the last transition is known (non-zero), enough time must have
// passed for every step between the two states: 96 hours per step, where
// Normal(n) -> Update(n+1) -> Normal(n+1) are two steps.
func CanOverwrite(candidate, current IvIndex, lastTransition, now time.Time, opts Options) bool {
	switch {
	case candidate.Index > current.Index:
		if !opts.AllowRecoveryOver42 && candidate.Index-current.Index > MaxRecoveryJump {
			return false
		}
	case candidate.Index == current.Index:
		if !current.UpdateActive && candidate.UpdateActive {
			return false
		}
	default:
		return false
	}

	if lastTransition.IsZero() {
		return true
	}

	steps := int64(candidate.Index-current.Index)*2 - 1
	if current.UpdateActive {
		steps++
	}
	if !candidate.UpdateActive {
		steps++
	}
	if opts.IvRecovery || opts.TestMode {
		steps--
	}
	if steps <= 0 {
		return true
	}
	return now.Sub(lastTransition).Hours() >= float64(steps)*MinStateDuration.Hours()
}
