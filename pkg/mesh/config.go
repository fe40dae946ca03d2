package mesh

import (
	"github.com/pion/logging"

	"github.com/backkem/btmesh/pkg/access"
	"github.com/backkem/btmesh/pkg/bearer"
	"github.com/backkem/btmesh/pkg/ivindex"
	"github.com/backkem/btmesh/pkg/keys"
	"github.com/backkem/btmesh/pkg/seq"
	"github.com/backkem/btmesh/pkg/transport/lower"
)

// UseDefaultTTL in a message header selects Config.DefaultTTL.
const UseDefaultTTL = 0xFF

// DefaultReplayCacheSize bounds the replay protection list.
const DefaultReplayCacheSize = 256

// DefaultMessageCacheSize bounds the PDUs a relay remembers.
const DefaultMessageCacheSize = 128

// Config configures a Stack.
type Config struct {
	// Address is the unicast address of the primary element.
	Address access.Address

	// Elements is the number of elements; the node owns Address through
	// Address+Elements-1. Default: 1
	Elements int

	// Bearer carries outgoing network PDUs.
	Bearer bearer.Bearer

	// NetKeys and AppKeys are the keys the node holds.
	NetKeys []keys.NetworkKey
	AppKeys []keys.ApplicationKey

	// DeviceKey is the node's own device key.
	DeviceKey keys.DeviceKey

	// PeerDeviceKeys are the device keys of other nodes, held by a
	// provisioner or configuration client.
	PeerDeviceKeys map[access.Address]keys.DeviceKey

	// Subscriptions are the group and virtual addresses the node accepts
	// besides its own elements and all-nodes.
	Subscriptions []access.Address

	// Labels are the label UUIDs of subscribed virtual addresses.
	Labels [][16]byte

	// IVIndex tracks the IV index. Created from IvIndex{} if nil.
	IVIndex *ivindex.State

	// Seq allocates sequence numbers. Starts at zero if nil.
	Seq *seq.Allocator

	// Cache memoises key derivations. Created if nil.
	Cache *keys.DerivationCache

	// SAR holds the segmentation timers. Zero fields take defaults.
	SAR lower.Params

	// DefaultTTL replaces UseDefaultTTL. Default: access.DefaultTTL
	DefaultTTL uint8

	// ReplayCacheSize bounds the replay protection list.
	// Default: DefaultReplayCacheSize
	ReplayCacheSize int

	// Relay retransmits authenticated PDUs not addressed to one of the
	// node's elements, with TTL decremented. PDUs with TTL 0 or 1 are not
	// relayed.
	Relay bool

	// MessageCacheSize bounds the PDUs remembered by the relay.
	// Default: DefaultMessageCacheSize
	MessageCacheSize int

	// OnMessage receives decrypted access messages and control messages
	// other than Segment Acknowledgments.
	OnMessage func(access.Message)

	// OnError receives asynchronous failures such as abandoned
	// reassemblies.
	OnError func(error)

	// OnIvIndexChanged is called after a beacon moved the IV index.
	OnIvIndexChanged func(ivindex.IvIndex)

	// LoggerFactory is used to create loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// WithDefaults returns a copy of the config with zero values replaced by
// defaults.
func (c Config) WithDefaults() Config {
	result := c
	if result.Elements == 0 {
		result.Elements = 1
	}
	if result.IVIndex == nil {
		result.IVIndex = ivindex.NewState(ivindex.StateConfig{LoggerFactory: c.LoggerFactory})
	}
	if result.Seq == nil {
		result.Seq = seq.NewAllocator(0)
	}
	if result.Cache == nil {
		result.Cache = keys.NewDerivationCache()
	}
	result.SAR = result.SAR.WithDefaults()
	if result.DefaultTTL == 0 {
		result.DefaultTTL = access.DefaultTTL
	}
	if result.ReplayCacheSize == 0 {
		result.ReplayCacheSize = DefaultReplayCacheSize
	}
	if result.MessageCacheSize == 0 {
		result.MessageCacheSize = DefaultMessageCacheSize
	}
	return result
}
