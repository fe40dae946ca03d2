// meshtool inspects Bluetooth Mesh key material and PDUs.
//
// Usage:
//
//	meshtool <command> [options] [hex]
//
// Commands:
//
//	keys    derive NID, encryption, privacy, identity and beacon keys,
//	        Network ID and AID
//	decode  authenticate and decode a network PDU
//	encode  encrypt and obfuscate a lower transport PDU
//	beacon  verify a Secure Network Beacon, or build one when no hex
//	        argument is given
//
// Example:
//
//	meshtool decode -netkey 7dd7364cd842ad18c17c2b820c84c3d6 -iv 0x12345678 \
//	    68e80e5da5af0e6b9be7f5a642f2f98680e61c3a8b47f228
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/backkem/btmesh/pkg/access"
	"github.com/backkem/btmesh/pkg/codec"
	"github.com/backkem/btmesh/pkg/ivindex"
	"github.com/backkem/btmesh/pkg/keys"
	"github.com/backkem/btmesh/pkg/network"
	"github.com/backkem/btmesh/pkg/transport/lower"
	"github.com/backkem/btmesh/pkg/transport/upper"
)

var errUsage = errors.New("usage: meshtool keys|decode|encode|beacon [options] [hex]")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("meshtool: %v", err)
	}
}

func run(args []string, w io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "keys":
		return runKeys(args, w)
	case "decode":
		return runDecode(args, w)
	case "encode":
		return runEncode(args, w)
	case "beacon":
		return runBeacon(args, w)
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

func field(w io.Writer, name string, format string, a ...any) {
	fmt.Fprintf(w, "%-12s "+format+"\n", append([]any{name}, a...)...)
}

func runKeys(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("keys", flag.ContinueOnError)
	var (
		netKey, appKey      [16]byte
		haveNetKey, haveApp bool
	)
	key16Var(fs, &netKey, &haveNetKey, "netkey", "network key")
	key16Var(fs, &appKey, &haveApp, "appkey", "application key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !haveNetKey && !haveApp {
		return errors.New("keys: -netkey or -appkey is required")
	}

	cache := keys.NewDerivationCache()
	if haveNetKey {
		m, err := cache.Network(netKey)
		if err != nil {
			return err
		}
		field(w, "NID", "%#02x", m.Credentials.NID)
		field(w, "EncKey", "%s", codec.ToHex(m.Credentials.EncryptionKey[:]))
		field(w, "PrivacyKey", "%s", codec.ToHex(m.Credentials.PrivacyKey[:]))
		field(w, "NetworkID", "%s", codec.ToHex(m.NetworkID[:]))
		field(w, "IdentityKey", "%s", codec.ToHex(m.IdentityKey[:]))
		field(w, "BeaconKey", "%s", codec.ToHex(m.BeaconKey[:]))
	}
	if haveApp {
		aid, err := cache.AID(appKey)
		if err != nil {
			return err
		}
		field(w, "AID", "%#02x", aid)
	}
	return nil
}

type pduOptions struct {
	netKey  [16]byte
	haveKey bool
	ivIndex uint64
	proxy   bool
}

func (o *pduOptions) register(fs *flag.FlagSet) {
	key16Var(fs, &o.netKey, &o.haveKey, "netkey", "network key")
	uintVar(fs, &o.ivIndex, 32, "iv", 0, "IV index")
	fs.BoolVar(&o.proxy, "proxy", false, "PDU carries a proxy PDU header")
}

func (o *pduOptions) material() (*keys.NetworkMaterial, error) {
	if !o.haveKey {
		return nil, errors.New("-netkey is required")
	}
	return keys.NewDerivationCache().Network(o.netKey)
}

func runDecode(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	var (
		opts             pduOptions
		appKey, devKey   [16]byte
		haveApp, haveDev bool
	)
	opts.register(fs)
	key16Var(fs, &appKey, &haveApp, "appkey", "application key for unsegmented access PDUs")
	key16Var(fs, &devKey, &haveDev, "devkey", "device key for unsegmented access PDUs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pdu, err := hexArg(fs)
	if err != nil {
		return err
	}
	m, err := opts.material()
	if err != nil {
		return err
	}
	if opts.proxy {
		p, err := network.DecodeProxyPDU(pdu)
		if err != nil {
			return err
		}
		if p.Type != network.ProxyTypeNetwork || p.SAR != network.SARComplete {
			return fmt.Errorf("decode: %s proxy PDU with SAR %d", p.Type, p.SAR)
		}
		pdu = p.Data
	}

	hdr, lowerPDU, err := network.Decode(pdu, uint32(opts.ivIndex), []keys.Candidate{{Material: m}})
	if err != nil {
		return err
	}
	field(w, "IVI", "%d", hdr.IVI)
	field(w, "NID", "%#02x", hdr.NID)
	field(w, "CTL", "%t", hdr.CTL)
	field(w, "TTL", "%d", hdr.TTL)
	field(w, "SEQ", "%06x", hdr.Seq)
	field(w, "SRC", "%s", hdr.Src)
	field(w, "DST", "%s", hdr.Dst)
	field(w, "TransportPDU", "%s", codec.ToHex(lowerPDU))

	segHdr, payload, err := lower.ParseHeader(lowerPDU, hdr.CTL)
	if err != nil {
		return err
	}
	switch {
	case segHdr.Segmented:
		field(w, "Segment", "%d/%d SeqZero %#04x", segHdr.SegO, segHdr.SegN, segHdr.SeqZero)
	case hdr.CTL:
		field(w, "Opcode", "%#02x", segHdr.Opcode)
		field(w, "Parameters", "%s", codec.ToHex(payload))
	case haveApp || haveDev:
		ks := upper.KeySet{}
		if haveApp {
			ks.AppKeys = []keys.ApplicationKey{{Key: appKey}}
		}
		if haveDev {
			ks.DeviceKeys = []keys.DeviceKey{keys.DeviceKey(devKey)}
		}
		ah := access.Header{Src: hdr.Src, Dst: hdr.Dst, TTL: hdr.TTL, Seq: hdr.Seq, IVIndex: hdr.IVIndex}
		msg, err := upper.Decrypt(ah, segHdr.AKF, segHdr.AID, segHdr.SZMIC, payload, ks)
		if err != nil {
			return err
		}
		field(w, "Opcode", "%s", msg.Opcode)
		field(w, "Parameters", "%s", codec.ToHex(msg.Parameters))
	default:
		field(w, "AKF", "%t", segHdr.AKF)
		field(w, "AID", "%#02x", segHdr.AID)
		field(w, "UpperPDU", "%s", codec.ToHex(payload))
	}
	return nil
}

func runEncode(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("encode", flag.ContinueOnError)
	var (
		opts     pduOptions
		ttl, seq uint64
		src, dst access.Address
		ctl      bool
	)
	opts.register(fs)
	uintVar(fs, &ttl, 7, "ttl", access.DefaultTTL, "time to live")
	uintVar(fs, &seq, 24, "seq", 0, "sequence number")
	addressVar(fs, &src, "src", 0x0001, "source address (hex)")
	addressVar(fs, &dst, "dst", access.AllNodes, "destination address (hex)")
	fs.BoolVar(&ctl, "ctl", false, "control PDU")
	if err := fs.Parse(args); err != nil {
		return err
	}
	lowerPDU, err := hexArg(fs)
	if err != nil {
		return err
	}
	m, err := opts.material()
	if err != nil {
		return err
	}
	pdu, err := network.Encode(network.Header{
		CTL:     ctl,
		TTL:     uint8(ttl),
		Seq:     uint32(seq),
		Src:     src,
		Dst:     dst,
		IVIndex: uint32(opts.ivIndex),
	}, lowerPDU, m)
	if err != nil {
		return err
	}
	if opts.proxy {
		pdu = network.Wrap(network.ProxyTypeNetwork, pdu)
	}
	fmt.Fprintln(w, codec.ToHex(pdu))
	return nil
}

func runBeacon(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("beacon", flag.ContinueOnError)
	var (
		opts       pduOptions
		update, kr bool
	)
	opts.register(fs)
	fs.BoolVar(&update, "update", false, "IV Update flag (build only)")
	fs.BoolVar(&kr, "kr", false, "Key Refresh flag (build only)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	m, err := opts.material()
	if err != nil {
		return err
	}

	if fs.NArg() == 0 {
		st := ivindex.NewState(ivindex.StateConfig{
			Initial: ivindex.IvIndex{Index: uint32(opts.ivIndex), UpdateActive: update},
		})
		b, err := st.Beacon(m.NetworkID, m.BeaconKey, kr)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, codec.ToHex(b.Encode()))
		return nil
	}

	data, err := hexArg(fs)
	if err != nil {
		return err
	}
	b, err := ivindex.DecodeSecureNetworkBeacon(data)
	if err != nil {
		return err
	}
	field(w, "KeyRefresh", "%t", b.KeyRefresh)
	field(w, "IVUpdate", "%t", b.IVUpdate)
	field(w, "NetworkID", "%s", codec.ToHex(b.NetworkID[:]))
	field(w, "IVIndex", "%#08x", b.IVIndex)
	if b.NetworkID != m.NetworkID {
		return ivindex.ErrNetworkMismatch
	}
	if err := b.Verify(m.BeaconKey); err != nil {
		return err
	}
	field(w, "Auth", "%s ok", codec.ToHex(b.AuthValue[:]))
	return nil
}
