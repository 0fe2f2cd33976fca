// Package address derives deterministic per-chain display addresses for
// accounts. The addresses are a pure function of the master seed, the
// account UID, the chain and an index; no private key is ever produced, so
// they cannot be spent from.
package address

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"

	"github.com/congo-pay/exchange_ledger/internal/apperr"
	"github.com/congo-pay/exchange_ledger/internal/chains"
)

// IndexWidth is the number of trailing UID digits used as the derivation index.
const IndexWidth = 6

var ErrInvalidUID = apperr.Validation("invalid_uid", "uid must be numeric")

// Derived is one chain address produced for an account.
type Derived struct {
	Chain   chains.Chain
	Address string
	Index   uint32
}

// Deriver maps (uid, chain, index) to an address. It holds no mutable state
// and is safe for concurrent use.
type Deriver struct {
	seed     []byte
	registry *chains.Registry
	xrp      *base58.Alphabet
}

// NewDeriver builds a deriver over the given master seed and chain registry.
func NewDeriver(seed string, registry *chains.Registry) (*Deriver, error) {
	if seed == "" {
		return nil, errors.New("master seed is required")
	}
	if registry == nil {
		registry = chains.Default()
	}
	return &Deriver{seed: []byte(seed), registry: registry, xrp: base58.NewAlphabet(chains.XRPAlphabet)}, nil
}

// Derive returns the address for uid on chainID at index.
func (d *Deriver) Derive(uid, chainID string, index uint32) (string, error) {
	c, err := d.registry.Lookup(chainID)
	if err != nil {
		return "", err
	}
	return d.format(c, d.digest(uid, c.ID, index))
}

// DeriveAll derives one address per registered chain, in registry order.
func (d *Deriver) DeriveAll(uid string, index uint32) ([]Derived, error) {
	all := d.registry.All()
	out := make([]Derived, 0, len(all))
	for _, c := range all {
		addr, err := d.format(c, d.digest(uid, c.ID, index))
		if err != nil {
			return nil, fmt.Errorf("derive %s: %w", c.ID, err)
		}
		out = append(out, Derived{Chain: c, Address: addr, Index: index})
	}
	return out, nil
}

func (d *Deriver) digest(uid, chainID string, index uint32) [32]byte {
	h := sha256.New()
	h.Write(d.seed)
	h.Write([]byte(":" + uid + ":" + chainID + ":" + strconv.FormatUint(uint64(index), 10)))
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

func (d *Deriver) format(c chains.Chain, sum [32]byte) (string, error) {
	switch c.Family {
	case chains.FamilyHex:
		return common.BytesToAddress(sum[12:]).Hex(), nil
	case chains.FamilyBech32:
		return segwitV0(c.Prefix, sum[:20])
	case chains.FamilyLedger:
		alphabet := base58.BTCAlphabet
		if c.Alphabet == chains.XRPAlphabet {
			alphabet = d.xrp
		}
		return base58Check(c.Version, sum[:20], alphabet), nil
	case chains.FamilyBase58:
		return base58.Encode(sum[:]), nil
	default:
		return "", fmt.Errorf("chain %s: unknown address family %q", c.ID, c.Family)
	}
}

func segwitV0(hrp string, program []byte) (string, error) {
	conv, err := bech32.ConvertBits(program, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(hrp, append([]byte{0}, conv...))
}

func base58Check(version byte, payload []byte, alphabet *base58.Alphabet) string {
	buf := make([]byte, 0, 1+len(payload)+4)
	buf = append(buf, version)
	buf = append(buf, payload...)
	first := sha256.Sum256(buf)
	second := sha256.Sum256(first[:])
	buf = append(buf, second[:4]...)
	return base58.EncodeAlphabet(buf, alphabet)
}

// IndexFromUID returns the fixed-width numeric suffix of uid used as the
// derivation index.
func IndexFromUID(uid string) (uint32, error) {
	if len(uid) < IndexWidth {
		return 0, ErrInvalidUID
	}
	n, err := strconv.ParseUint(uid[len(uid)-IndexWidth:], 10, 32)
	if err != nil {
		return 0, ErrInvalidUID
	}
	return uint32(n), nil
}
