package ivindex

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"
)

// StateConfig configures a State.
type StateConfig struct {
	// Initial is the IV index at start.
	Initial IvIndex

	// LastTransition is when Initial was entered. Zero means unknown, which
	// lets the first beacon through without the dwell time check.
	LastTransition time.Time

	// TestMode waives the 96-hour dwell time for single steps.
	TestMode bool

	// AllowRecoveryOver42 lifts the 42-index cap on recovery.
	AllowRecoveryOver42 bool

	// LoggerFactory is used to create loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// State is the node's IV index with the time of its last transition.
//
// Thread-safe for concurrent access.
type State struct {
	current        IvIndex
	lastTransition time.Time
	ivRecovery     bool
	testMode       bool
	allowOver42    bool

	log logging.LeveledLogger
	mu  sync.RWMutex
}

// NewState creates an IV index tracker.
func NewState(config StateConfig) *State {
	s := &State{
		current:        config.Initial,
		lastTransition: config.LastTransition,
		testMode:       config.TestMode,
		allowOver42:    config.AllowRecoveryOver42,
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("ivindex")
	}
	return s
}

// Current returns the IV index.
func (s *State) Current() IvIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// LastTransition returns the time the current state was entered.
func (s *State) LastTransition() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTransition
}

// Apply moves to candidate if CanOverwrite allows it. It reports whether the
// state changed and returns ErrIvIndexRejected otherwise.
func (s *State) Apply(candidate IvIndex, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	opts := Options{IvRecovery: s.ivRecovery, TestMode: s.testMode, AllowRecoveryOver42: s.allowOver42}
	if !CanOverwrite(candidate, s.current, s.lastTransition, now, opts) {
		if s.log != nil {
			s.log.Debugf("rejected IV index %s, current %s", candidate, s.current)
		}
		return false, fmt.Errorf("%w: %s over %s", ErrIvIndexRejected, candidate, s.current)
	}
	if candidate == s.current {
		return false, nil
	}

	// A jump of more than one index is a recovery; the next normal step
	// is then allowed one 96-hour period early.
	s.ivRecovery = candidate.Index > s.current.Index+1
	if s.log != nil {
		s.log.Infof("IV index %s -> %s", s.current, candidate)
	}
	s.current = candidate
	s.lastTransition = now
	return true, nil
}

// ApplyBeacon authenticates a Secure Network Beacon for the network
// identified by networkID and applies its IV index.
func (s *State) ApplyBeacon(b *SecureNetworkBeacon, networkID [8]byte, beaconKey [16]byte, now time.Time) (bool, error) {
	if b.NetworkID != networkID {
		return false, ErrNetworkMismatch
	}
	if err := b.Verify(beaconKey); err != nil {
		return false, err
	}
	return s.Apply(b.IvIndex(), now)
}

// Beacon builds a signed Secure Network Beacon for the current state.
func (s *State) Beacon(networkID [8]byte, beaconKey [16]byte, keyRefresh bool) (*SecureNetworkBeacon, error) {
	cur := s.Current()
	b := &SecureNetworkBeacon{
		KeyRefresh: keyRefresh,
		IVUpdate:   cur.UpdateActive,
		NetworkID:  networkID,
		IVIndex:    cur.Index,
	}
	if err := b.Sign(beaconKey); err != nil {
		return nil, err
	}
	return b, nil
}
