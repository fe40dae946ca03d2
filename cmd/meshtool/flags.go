package main

import (
	"flag"
	"fmt"
	"strconv"

	"github.com/backkem/btmesh/pkg/access"
	"github.com/backkem/btmesh/pkg/codec"
)

// key16Var defines a flag holding a 16-byte key in hex.
func key16Var(fs *flag.FlagSet, p *[16]byte, set *bool, name, usage string) {
	fs.Func(name, usage+" (32 hex digits)", func(s string) error {
		k, err := codec.Key16FromHex(s)
		if err != nil {
			return err
		}
		*p = k
		*set = true
		return nil
	})
}

// uintVar defines a flag accepting decimal or 0x-prefixed hex, capped at
// bits wide.
func uintVar(fs *flag.FlagSet, p *uint64, bits int, name string, value uint64, usage string) {
	*p = value
	fs.Func(name, fmt.Sprintf("%s (default: %#x)", usage, value), func(s string) error {
		v, err := strconv.ParseUint(s, 0, bits)
		if err != nil {
			return err
		}
		*p = v
		return nil
	})
}

// addressVar defines a flag holding a 16-bit mesh address.
func addressVar(fs *flag.FlagSet, p *access.Address, name string, value access.Address, usage string) {
	*p = value
	fs.Func(name, fmt.Sprintf("%s (default: %s)", usage, value), func(s string) error {
		v, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return err
		}
		*p = access.Address(v)
		return nil
	})
}

// hexArg returns the single positional hex argument of fs.
func hexArg(fs *flag.FlagSet) ([]byte, error) {
	if fs.NArg() != 1 {
		return nil, fmt.Errorf("%s: expected one hex argument, got %d", fs.Name(), fs.NArg())
	}
	return codec.FromHex(fs.Arg(0))
}
