package lower

import "time"

// SAR timer defaults (Mesh Profile Section 3.5.3).
const (
	// DefaultIncompleteTimeout is how long a reassembly may stay without new
	// segments before it is abandoned.
	DefaultIncompleteTimeout = 10 * time.Second

	// DefaultAckBase is the acknowledgment timer before the per-hop term.
	DefaultAckBase = 150 * time.Millisecond

	// DefaultRetransmitBase is the unicast retransmission interval before the
	// per-hop term.
	DefaultRetransmitBase = 200 * time.Millisecond

	// DefaultPerHop is added to both timers for each TTL hop.
	DefaultPerHop = 50 * time.Millisecond

	// DefaultMaxRetransmissions is the number of retransmission rounds after
	// the initial transmission.
	DefaultMaxRetransmissions = 2

	// DefaultGroupRetransmissions is the number of times a segmented message
	// to a group or virtual address is repeated. There is no ack for those.
	DefaultGroupRetransmissions = 2
)

// Params holds the segmentation and reassembly timers.
type Params struct {
	IncompleteTimeout time.Duration
	AckBase           time.Duration
	RetransmitBase    time.Duration
	PerHop            time.Duration

	// MaxRetransmissions bounds retransmission rounds for unicast messages.
	MaxRetransmissions int

	// GroupRetransmissions is the number of unacknowledged repeats for group
	// and virtual destinations.
	GroupRetransmissions int
}

// DefaultParams returns the default SAR parameters.
func DefaultParams() Params {
	return Params{
		IncompleteTimeout:    DefaultIncompleteTimeout,
		AckBase:              DefaultAckBase,
		RetransmitBase:       DefaultRetransmitBase,
		PerHop:               DefaultPerHop,
		MaxRetransmissions:   DefaultMaxRetransmissions,
		GroupRetransmissions: DefaultGroupRetransmissions,
	}
}

// WithDefaults returns a copy of the parameters with zero values replaced by defaults.
func (p Params) WithDefaults() Params {
	result := p
	if result.IncompleteTimeout == 0 {
		result.IncompleteTimeout = DefaultIncompleteTimeout
	}
	if result.AckBase == 0 {
		result.AckBase = DefaultAckBase
	}
	if result.RetransmitBase == 0 {
		result.RetransmitBase = DefaultRetransmitBase
	}
	if result.PerHop == 0 {
		result.PerHop = DefaultPerHop
	}
	if result.MaxRetransmissions == 0 {
		result.MaxRetransmissions = DefaultMaxRetransmissions
	}
	if result.GroupRetransmissions == 0 {
		result.GroupRetransmissions = DefaultGroupRetransmissions
	}
	return result
}

// AckTimeout returns the acknowledgment timer for a message received with ttl.
func (p Params) AckTimeout(ttl uint8) time.Duration {
	return p.AckBase + time.Duration(ttl)*p.PerHop
}

// RetransmitInterval returns the unicast retransmission interval for a
// message sent with ttl.
func (p Params) RetransmitInterval(ttl uint8) time.Duration {
	return p.RetransmitBase + time.Duration(ttl)*p.PerHop
}
